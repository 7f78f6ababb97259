package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/edgeworks/apigw/internal/config"
	"github.com/edgeworks/apigw/internal/gateway"
	"github.com/edgeworks/apigw/internal/logging"
	"github.com/edgeworks/apigw/internal/middleware"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	overlayPaths := flag.String("config-overlay", "", "Comma-separated overlay files merged on top of -config, in order")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("API Gateway %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	var cfg *config.Config
	var err error
	if *overlayPaths == "" {
		cfg, err = loader.Load(*configPath)
	} else {
		cfg, err = loader.LoadWithOverlays(*configPath, strings.Split(*overlayPaths, ",")...)
	}
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		LocalTime:  cfg.Logging.LocalTime,
	})
	if err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}
	defer closer.Close()
	logging.SetGlobal(logger)

	logging.Info("starting api gateway",
		zap.String("version", version),
		zap.String("config_path", *configPath),
		zap.Int("routes", len(cfg.Routes)),
		zap.Int("upstreams", len(cfg.Upstreams)),
	)

	engine, err := gateway.New(cfg)
	if err != nil {
		log.Fatalf("failed to build gateway engine: %v", err)
	}

	live := &liveEngine{}
	live.store(engine)

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		logging.Error("configuration watcher unavailable, hot reload disabled", zap.Error(err))
	} else {
		watcher.OnChange(func(newCfg *config.Config) {
			next, err := gateway.New(newCfg)
			if err != nil {
				logging.Error("rejected configuration reload", zap.Error(err))
				return
			}
			old := live.swap(next)
			if old != nil {
				old.Stop()
			}
			logging.Info("gateway reloaded")
		})
		if err := watcher.Start(); err != nil {
			logging.Error("failed to start configuration watcher", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := middleware.New(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logging(),
	).Then(live)

	srv := &http.Server{
		Addr:           cfg.Server.Address,
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", live.metricsHandler())
		adminSrv = &http.Server{Addr: cfg.Admin.Address, Handler: mux}
		go func() {
			logging.Info("admin endpoint listening", zap.String("address", cfg.Admin.Address))
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("admin endpoint failed", zap.Error(err))
			}
		}()
	}

	go func() {
		var serveErr error
		if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
			logging.Info("listening", zap.String("address", cfg.Server.Address), zap.Bool("tls", true))
			serveErr = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			logging.Info("listening", zap.String("address", cfg.Server.Address), zap.Bool("tls", false))
			serveErr = srv.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatalf("server error: %v", serveErr)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logging.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("graceful shutdown failed", zap.Error(err))
	}
	if adminSrv != nil {
		adminSrv.Shutdown(ctx)
	}
	live.load().Stop()
}

// liveEngine lets a config reload replace the serving Engine without
// restarting the listener: each request reads the current pointer,
// a reload swaps it, and the displaced engine is stopped once no
// longer reachable.
type liveEngine struct {
	ptr atomic.Pointer[gateway.Engine]
}

func (l *liveEngine) store(e *gateway.Engine) { l.ptr.Store(e) }

func (l *liveEngine) swap(e *gateway.Engine) *gateway.Engine { return l.ptr.Swap(e) }

func (l *liveEngine) load() *gateway.Engine { return l.ptr.Load() }

func (l *liveEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.load().ServeHTTP(w, r)
}

func (l *liveEngine) metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.load().Metrics().Handler().ServeHTTP(w, r)
	})
}
