package config

import (
	"reflect"
	"time"
)

// MergeConfigOverlay layers overlay onto base and returns the result,
// leaving both inputs untouched. It backs Loader.LoadWithOverlays: a
// base gateway.yaml plus one or more environment-specific overlay
// files (staging.yaml, canary.yaml) merged in the order given, overlay
// winning field-by-field. Rules per kind: strings/ints/floats/durations
// override when the overlay value is non-zero, bools always take the
// overlay value, slices override when the overlay one is non-empty,
// maps are merged key-by-key with overlay winning collisions, pointers
// override when non-nil, and structs recurse field-by-field.
//
// Only runs at load/reload time, never on the request path.
func MergeConfigOverlay[T any](base, overlay T) T {
	merged := base
	applyOverlay(reflect.ValueOf(&merged).Elem(), reflect.ValueOf(&overlay).Elem())
	return merged
}

func applyOverlay(dst, src reflect.Value) {
	switch dst.Kind() {
	case reflect.Struct:
		overlayFields(dst, src)
	case reflect.Map:
		overlayMap(dst, src)
	default:
		if !src.IsZero() {
			dst.Set(src)
		}
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func overlayFields(dst, src reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		df, sf := dst.Field(i), src.Field(i)
		if !df.CanSet() {
			continue
		}

		switch {
		case df.Kind() == reflect.Bool:
			df.SetBool(sf.Bool())

		case df.Kind() == reflect.Struct && df.Type() == durationType:
			if sf.Int() != 0 {
				df.Set(sf)
			}

		case df.Kind() == reflect.Struct:
			overlayFields(df, sf)

		case df.Kind() == reflect.Map:
			overlayMap(df, sf)

		case df.Kind() == reflect.Ptr:
			if !sf.IsNil() {
				df.Set(sf)
			}

		case df.Kind() == reflect.Slice:
			if sf.Len() > 0 {
				df.Set(sf)
			}

		default:
			if !sf.IsZero() {
				df.Set(sf)
			}
		}
	}
}

// overlayMap merges src into a fresh copy of dst so the caller's base
// map is never mutated in place.
func overlayMap(dst, src reflect.Value) {
	if src.IsNil() || src.Len() == 0 {
		return
	}

	merged := reflect.MakeMap(dst.Type())
	if !dst.IsNil() {
		for _, k := range dst.MapKeys() {
			merged.SetMapIndex(k, dst.MapIndex(k))
		}
	}
	for _, k := range src.MapKeys() {
		merged.SetMapIndex(k, src.MapIndex(k))
	}
	dst.Set(merged)
}
