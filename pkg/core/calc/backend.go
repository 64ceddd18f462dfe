// Package calc holds the numeric core shared by forecasting and valuation:
// the least-squares trend fit, discounting, and the backends that run them.
package calc

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// NUMERIC BACKEND INTERFACE
// =============================================================================

// NumericBackend runs the formula set used by every model.
// Implementations must evaluate the same formulas in the same order so that
// results are identical across backends.
type NumericBackend interface {
	// Name returns the backend identifier ("native", "lua").
	Name() string

	// FitTrend returns the ordinary-least-squares line through (xs[i], ys[i]).
	FitTrend(xs, ys []float64) (TrendModel, error)

	// DiscountedSum returns Σ flows[i-1] / (1+rate)^i for i = 1..len(flows).
	DiscountedSum(flows []float64, rate float64) (float64, error)
}

// Backend kinds accepted by NewBackend.
const (
	BackendNative = "native"
	BackendLua    = "lua"
)

// NewBackend builds the configured backend. The Lua runtime gets initTimeout to
// start; if it fails or is too slow the native backend is returned instead.
// A started Lua backend is wrapped so failed calls are retried natively.
func NewBackend(ctx context.Context, kind string, initTimeout time.Duration, log zerolog.Logger) NumericBackend {
	log = log.With().Str("component", "backend").Logger()
	native := NativeBackend{}

	if kind != BackendLua {
		log.Info().Str("backend", native.Name()).Msg("Numeric backend selected")
		return native
	}

	if initTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, initTimeout)
		defer cancel()
	}

	lua, err := NewLuaBackend(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Lua runtime unavailable, using native backend")
		return native
	}
	log.Info().Str("backend", lua.Name()).Msg("Numeric backend selected")
	return NewFallbackBackend(lua, native, log)
}

// =============================================================================
// NATIVE BACKEND
// =============================================================================

// NativeBackend evaluates the formulas in Go.
type NativeBackend struct{}

func (NativeBackend) Name() string { return BackendNative }

func (NativeBackend) FitTrend(xs, ys []float64) (TrendModel, error) {
	if err := checkSeries(xs, ys); err != nil {
		return TrendModel{}, err
	}

	// Explicit float64 conversions keep each product rounded on its own so the
	// compiler cannot fuse multiply-add; the Lua path rounds every step too.
	n := float64(len(xs))
	var sx, sy, sxy, sxx float64
	for i := range xs {
		x, y := xs[i], ys[i]
		sx += x
		sy += y
		sxy += float64(x * y)
		sxx += float64(x * x)
	}

	den := float64(n*sxx) - float64(sx*sx)
	if den == 0 {
		return TrendModel{}, Invalid("x", "all x values are equal")
	}
	slope := (float64(n*sxy) - float64(sx*sy)) / den
	intercept := (sy - float64(slope*sx)) / n

	return TrendModel{Slope: slope, Intercept: intercept, N: len(xs)}, nil
}

func (NativeBackend) DiscountedSum(flows []float64, rate float64) (float64, error) {
	if err := checkRate(rate); err != nil {
		return 0, err
	}
	total := 0.0
	for i, f := range flows {
		total += f / math.Pow(1+rate, float64(i+1))
	}
	return total, nil
}

// =============================================================================
// FALLBACK WRAPPER
// =============================================================================

// FallbackBackend calls Primary and retries on Fallback when Primary fails for
// a reason other than bad input.
type FallbackBackend struct {
	Primary  NumericBackend
	Fallback NumericBackend
	log      zerolog.Logger
}

func NewFallbackBackend(primary, fallback NumericBackend, log zerolog.Logger) *FallbackBackend {
	return &FallbackBackend{Primary: primary, Fallback: fallback, log: log}
}

func (b *FallbackBackend) Name() string { return b.Primary.Name() }

func (b *FallbackBackend) FitTrend(xs, ys []float64) (TrendModel, error) {
	m, err := b.Primary.FitTrend(xs, ys)
	if err == nil || isInputError(err) {
		return m, err
	}
	b.log.Warn().Err(err).Str("op", "fit_trend").Msg("Primary backend failed, retrying natively")
	return b.Fallback.FitTrend(xs, ys)
}

func (b *FallbackBackend) DiscountedSum(flows []float64, rate float64) (float64, error) {
	v, err := b.Primary.DiscountedSum(flows, rate)
	if err == nil || isInputError(err) {
		return v, err
	}
	b.log.Warn().Err(err).Str("op", "discounted_sum").Msg("Primary backend failed, retrying natively")
	return b.Fallback.DiscountedSum(flows, rate)
}

func isInputError(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrInvalidInput)
}

// =============================================================================
// SHARED VALIDATION
// =============================================================================

func checkSeries(xs, ys []float64) error {
	if len(xs) != len(ys) {
		return Invalid("series", "x and y lengths differ (%d vs %d)", len(xs), len(ys))
	}
	if len(xs) < 2 {
		return &InsufficientDataError{Have: len(xs), Need: 2}
	}
	for i := range xs {
		if !finite(xs[i]) || !finite(ys[i]) {
			return Invalid("series", "non-finite value at index %d", i)
		}
	}
	return nil
}

func checkRate(rate float64) error {
	if !finite(rate) || rate <= -1 {
		return Invalid("rate", "discount rate %v must be finite and greater than -1", rate)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
