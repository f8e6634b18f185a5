package framing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Actuator scrolls the live surface. Implementations must not block past ctx.
type Actuator interface {
	ScrollBy(ctx context.Context, delta float64) error
}

// Locator re-observes an element and the viewport after each adjustment.
type Locator interface {
	Locate(ctx context.Context, targetID string) (ElementBounds, Viewport, error)
}

// Outcome classifies how a correction loop ended.
type Outcome int

const (
	// Framed means the rule holds within tolerance.
	Framed Outcome = iota
	// Converged means the next adjustment was below MinAdjustment; accepted as
	// best effort so sub-pixel layout jitter cannot make the loop oscillate.
	Converged
	// IterationCap means MaxIterations adjustments were made without framing.
	IterationCap
)

func (o Outcome) String() string {
	switch o {
	case Framed:
		return "framed"
	case Converged:
		return "converged"
	case IterationCap:
		return "iteration_cap"
	default:
		return "unknown"
	}
}

// BestEffort is true for outcomes other than exact framing.
func (o Outcome) BestEffort() bool {
	return o != Framed
}

// Adjustment is one scroll applied by the loop.
type Adjustment struct {
	From  float64 // viewport Y before the scroll
	Delta float64
}

// Result reports a finished correction loop.
type Result struct {
	Outcome     Outcome
	Iterations  int // adjustments applied
	FinalDelta  float64
	FinalScroll float64
	Adjustments []Adjustment
}

const (
	DefaultMaxIterations = 5
	DefaultMinAdjustment = 5.0
)

// AutoScroller adjusts the scroll offset until a framing rule is satisfied.
//
// The loop is: locate, check framing, compute delta, scroll, repeat. It always
// terminates after at most MaxIterations scrolls; hitting the cap is a
// best-effort result, not an error. Errors are returned only when the
// actuator or locator fails.
type AutoScroller struct {
	actuator      Actuator
	locator       Locator
	MaxIterations int
	MinAdjustment float64
	logger        *slog.Logger
}

// Option configures an AutoScroller.
type Option func(*AutoScroller)

// WithMaxIterations overrides DefaultMaxIterations.
func WithMaxIterations(n int) Option {
	return func(a *AutoScroller) {
		if n > 0 {
			a.MaxIterations = n
		}
	}
}

// WithMinAdjustment overrides DefaultMinAdjustment.
func WithMinAdjustment(px float64) Option {
	return func(a *AutoScroller) {
		if px >= 0 {
			a.MinAdjustment = px
		}
	}
}

// WithLogger sets the logger used for per-iteration debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(a *AutoScroller) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAutoScroller creates a scroller over the given collaborators.
func NewAutoScroller(actuator Actuator, locator Locator, opts ...Option) *AutoScroller {
	a := &AutoScroller{
		actuator:      actuator,
		locator:       locator,
		MaxIterations: DefaultMaxIterations,
		MinAdjustment: DefaultMinAdjustment,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Frame runs the correction loop for rule.TargetID.
func (a *AutoScroller) Frame(ctx context.Context, rule Rule) (Result, error) {
	logger := a.logger.With(slog.String("target", rule.TargetID), slog.String("alignment", rule.Alignment.String()))
	result := Result{}

	for {
		bounds, viewport, err := a.locator.Locate(ctx, rule.TargetID)
		if err != nil {
			return result, fmt.Errorf("framing: locate %q: %w", rule.TargetID, err)
		}

		delta := CalculateOptimalScroll(bounds, viewport, rule)
		result.FinalDelta = delta
		result.FinalScroll = viewport.Y

		if IsProperlyFramed(bounds, viewport, rule, rule.Tolerance) {
			result.Outcome = Framed
			logger.Debug("element framed", slog.Int("iterations", result.Iterations), slog.Float64("scroll", viewport.Y))
			return result, nil
		}

		if math.Abs(delta) < a.MinAdjustment {
			result.Outcome = Converged
			logger.Debug("adjustment below minimum, accepting position",
				slog.Float64("delta", delta), slog.Int("iterations", result.Iterations))
			return result, nil
		}

		if result.Iterations >= a.MaxIterations {
			result.Outcome = IterationCap
			logger.Warn("max iterations reached without framing",
				slog.Int("max_iterations", a.MaxIterations), slog.Float64("remaining_delta", delta))
			return result, nil
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}

		logger.Debug("scrolling", slog.Int("iteration", result.Iterations+1),
			slog.Float64("from", viewport.Y), slog.Float64("delta", delta))

		if err := a.actuator.ScrollBy(ctx, delta); err != nil {
			return result, fmt.Errorf("framing: scroll by %.1f: %w", delta, err)
		}
		result.Adjustments = append(result.Adjustments, Adjustment{From: viewport.Y, Delta: delta})
		result.Iterations++
	}
}
