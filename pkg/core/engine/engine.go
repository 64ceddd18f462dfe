// Package engine is the facade the API and CLI call: it resolves request
// defaults, runs the models on the configured numeric backend under a
// compute budget, and bundles a full analysis.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quant_valuation/pkg/config"
	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/core/narrative"
	"quant_valuation/pkg/core/projection"
	"quant_valuation/pkg/core/validate"
	"quant_valuation/pkg/core/valuation"
	"quant_valuation/pkg/models"
)

// DefaultMetric is forecast when a request names none.
const DefaultMetric = models.FieldRevenue

// ErrComputePanic is returned when a computation panics.
var ErrComputePanic = errors.New("computation panicked")

// ErrComputeTimeout is returned when a computation exceeds its budget.
// It wraps context.DeadlineExceeded.
var ErrComputeTimeout = fmt.Errorf("compute budget exceeded: %w", context.DeadlineExceeded)

// Analysis section names used in AnalysisResult.Errors.
const (
	SectionForecast  = "forecast"
	SectionValuation = "valuation"
)

// Options are the engine defaults and limits.
type Options struct {
	ComputeTimeout time.Duration

	Horizon        int
	MaxHorizon     int
	Sensitivity    float64
	WACC           float64
	TerminalGrowth float64
	ExitMultiple   float64

	RequiredFields []string
	Scan           validate.ScanOptions
}

// DefaultOptions mirror the shipped configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps loaded configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ComputeTimeout: cfg.Backend.ComputeTimeout,
		Horizon:        cfg.Defaults.Horizon,
		MaxHorizon:     cfg.Defaults.MaxHorizon,
		Sensitivity:    cfg.Defaults.Sensitivity,
		WACC:           cfg.Defaults.WACC,
		TerminalGrowth: cfg.Defaults.TerminalGrowth,
		ExitMultiple:   cfg.Defaults.ExitMultiple,
		RequiredFields: append([]string(nil), cfg.Integrity.RequiredFields...),
		Scan: validate.ScanOptions{
			Penalty:  cfg.Integrity.Penalty,
			MinYear:  cfg.Integrity.MinYear,
			MaxYear:  cfg.Integrity.MaxYear,
			AnomalyZ: cfg.Integrity.AnomalyZ,
		},
	}
}

// Engine runs forecasts, valuations and integrity scans.
type Engine struct {
	backend calc.NumericBackend
	opts    Options
	log     zerolog.Logger
}

// New creates an Engine. A nil backend selects the native one.
func New(backend calc.NumericBackend, opts Options, log zerolog.Logger) *Engine {
	if backend == nil {
		backend = calc.NativeBackend{}
	}
	return &Engine{
		backend: backend,
		opts:    opts,
		log:     log.With().Str("component", "engine").Logger(),
	}
}

// Backend returns the numeric backend name.
func (e *Engine) Backend() string { return e.backend.Name() }

// Options returns the engine defaults.
func (e *Engine) Options() Options { return e.opts }

// AnalysisRequest asks for every section over one record set.
type AnalysisRequest struct {
	Records        *models.RecordSet
	Forecast       ForecastRequest
	Valuation      ValuationRequest
	RequiredFields []string
}

// AnalysisResult bundles the sections. A forecast or valuation that cannot
// be computed from the data is reported in Errors and left nil.
type AnalysisResult struct {
	ID          string                     `json:"id"`
	Backend     string                     `json:"backend"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Records     []models.FinancialRecord   `json:"records"`
	Integrity   validate.IntegrityReport   `json:"integrity"`
	Forecast    *projection.ForecastResult `json:"forecast,omitempty"`
	Narrative   *narrative.Summary         `json:"narrative,omitempty"`
	Valuation   *valuation.DCFResult       `json:"valuation,omitempty"`
	WACC        *valuation.WACCResult      `json:"wacc_build_up,omitempty"`
	Errors      map[string]string          `json:"errors,omitempty"`
}

// Forecast projects one metric.
func (e *Engine) Forecast(ctx context.Context, records *models.RecordSet, req ForecastRequest) (*projection.ForecastResult, error) {
	params := e.forecastParams(req)
	return compute(ctx, e, func() (*projection.ForecastResult, error) {
		return projection.Forecast(e.backend, records, params)
	})
}

// Valuate runs the two-stage DCF.
func (e *Engine) Valuate(ctx context.Context, records *models.RecordSet, req ValuationRequest) (*valuation.DCFResult, error) {
	in, _, err := e.dcfInput(req)
	if err != nil {
		return nil, err
	}
	return compute(ctx, e, func() (*valuation.DCFResult, error) {
		return valuation.CalculateDCF(e.backend, records, in)
	})
}

// Sensitivity sweeps the DCF over the requested WACC and growth values.
func (e *Engine) Sensitivity(ctx context.Context, records *models.RecordSet, req SensitivityRequest) (*valuation.SensitivityGrid, error) {
	in, _, err := e.dcfInput(req.ValuationRequest)
	if err != nil {
		return nil, err
	}
	return compute(ctx, e, func() (*valuation.SensitivityGrid, error) {
		return valuation.CalculateSensitivity(e.backend, records, in, req.WACCs, req.Growths)
	})
}

// Scan runs the integrity scan. required overrides the configured fields.
func (e *Engine) Scan(records *models.RecordSet, required []string) validate.IntegrityReport {
	if required = nilIfEmpty(required); required == nil {
		required = e.opts.RequiredFields
	}
	return validate.ScanIntegrity(records, required, e.opts.Scan)
}

// Analyze runs integrity, forecast, narrative and valuation for one request.
// Parameter errors and timeouts fail the whole call; missing data only
// fails its section.
func (e *Engine) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	if req.Records == nil {
		return nil, calc.Invalid("records", "record set is required")
	}
	params := e.forecastParams(req.Forecast)
	if err := params.Validate(); err != nil {
		return nil, err
	}
	in, build, err := e.dcfInput(req.Valuation)
	if err != nil {
		return nil, err
	}

	res, err := compute(ctx, e, func() (*AnalysisResult, error) {
		out := &AnalysisResult{
			Records:   req.Records.Records(),
			Integrity: e.Scan(req.Records, req.RequiredFields),
			WACC:      build,
			Errors:    map[string]string{},
		}

		fc, err := projection.Forecast(e.backend, req.Records, params)
		switch {
		case err == nil:
			out.Forecast = fc
			summary := narrative.Analyze(fc.Points, fc.Horizon)
			out.Narrative = &summary
		case isCallerError(err):
			return nil, err
		default:
			out.Errors[SectionForecast] = err.Error()
		}

		dcf, err := valuation.CalculateDCF(e.backend, req.Records, in)
		switch {
		case err == nil:
			out.Valuation = dcf
		case isCallerError(err):
			return nil, err
		default:
			out.Errors[SectionValuation] = err.Error()
		}

		if len(out.Errors) == 0 {
			out.Errors = nil
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	res.ID = uuid.NewString()
	res.Backend = e.backend.Name()
	res.GeneratedAt = time.Now().UTC()

	e.log.Debug().
		Str("analysis_id", res.ID).
		Int("records", req.Records.Len()).
		Int("integrity_score", res.Integrity.Score).
		Int("section_errors", len(res.Errors)).
		Msg("analysis complete")
	return res, nil
}

type outcome[T any] struct {
	value T
	err   error
}

// compute runs fn under the engine's compute budget. The computation itself
// is not interrupted; on timeout its result is discarded. A panic in fn is
// returned as ErrComputePanic.
func compute[T any](ctx context.Context, e *Engine, fn func() (T, error)) (T, error) {
	if e.opts.ComputeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ComputeTimeout)
		defer cancel()
	}

	done := make(chan outcome[T], 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("computation panicked")
				done <- outcome[T]{err: fmt.Errorf("%w: %v", ErrComputePanic, r)}
			}
		}()
		v, err := fn()
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		e.log.Warn().
			Dur("elapsed", time.Since(start)).
			Dur("budget", e.opts.ComputeTimeout).
			Msg("computation abandoned")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrComputeTimeout
		}
		return zero, ctx.Err()
	}
}
