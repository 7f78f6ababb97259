// Package ipfilter implements the admission IP allow/deny check:
// compile CIDR addresses to integer ranges once at registration time,
// then check set membership per request.
package ipfilter

import (
	"fmt"
	"math/big"
	"net"
	"net/http"
)

// Mode selects whether the configured list is the sole admitted set
// (whitelist) or the sole rejected set (blacklist).
type Mode string

const (
	ModeWhitelist Mode = "whitelist"
	ModeBlacklist Mode = "blacklist"
)

// ipRange is a CIDR block pre-compiled into an integer [lo, hi] range,
// so membership is a single big.Int comparison instead of a per-request
// mask-and-compare over net.IPNet.
type ipRange struct {
	lo, hi *big.Int
}

func compileCIDR(cidr string) (ipRange, error) {
	if ip := net.ParseIP(cidr); ip != nil {
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		cidr = fmt.Sprintf("%s/%d", cidr, bits)
	}
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return ipRange{}, err
	}

	// Normalize to the 16-byte form so ranges compare against the
	// 16-byte form net.ParseIP always returns, regardless of whether
	// the CIDR was IPv4 or IPv6. The host-bit span is unaffected by
	// the fixed v4-in-v6 prefix, so it is computed from the mask's
	// native bit length.
	lo := new(big.Int).SetBytes(network.IP.To16())
	ones, bits := network.Mask.Size()
	hostBits := bits - ones
	span := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))
	span.Sub(span, big.NewInt(1))
	hi := new(big.Int).Add(lo, span)

	return ipRange{lo: lo, hi: hi}, nil
}

func (r ipRange) contains(addr *big.Int) bool {
	return addr.Cmp(r.lo) >= 0 && addr.Cmp(r.hi) <= 0
}

// Filter checks a client address against a compiled CIDR set under a
// whitelist or blacklist mode.
type Filter struct {
	mode   Mode
	ranges []ipRange
}

// New compiles cidrs once under mode.
func New(mode Mode, cidrs []string) (*Filter, error) {
	f := &Filter{mode: mode}
	for _, c := range cidrs {
		r, err := compileCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("ipfilter: invalid CIDR %q: %w", c, err)
		}
		f.ranges = append(f.ranges, r)
	}
	return f, nil
}

// Allow reports whether addr is admitted under the configured mode.
// An address that fails to parse, or that is unknown under whitelist
// mode, is denied.
func (f *Filter) Allow(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	n := new(big.Int).SetBytes(ip)

	matched := false
	for _, r := range f.ranges {
		if r.contains(n) {
			matched = true
			break
		}
	}

	if f.mode == ModeWhitelist {
		return matched
	}
	return !matched
}

// AllowRequest extracts the client address from r via clientIP and
// applies Allow.
func (f *Filter) AllowRequest(r *http.Request, clientIP func(*http.Request) string) bool {
	return f.Allow(clientIP(r))
}
