package stability

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"
)

// Defaults for animation detection.
const (
	DefaultThreshold = 0.03
	DefaultRunLength = 3
	DefaultInterval  = 100 * time.Millisecond
	DefaultTimeout   = 5 * time.Second
)

// SampleSource produces the current rendering of a surface.
type SampleSource interface {
	Sample(ctx context.Context) (image.Image, error)
}

// SampleSourceFunc adapts a function to SampleSource.
type SampleSourceFunc func(ctx context.Context) (image.Image, error)

func (f SampleSourceFunc) Sample(ctx context.Context) (image.Image, error) { return f(ctx) }

// Config controls a Detector.
type Config struct {
	Threshold float64       `yaml:"threshold"`  // max diff ratio for a stable pair
	RunLength int           `yaml:"run_length"` // consecutive stable pairs required
	Interval  time.Duration `yaml:"interval"`   // pause between samples in WaitForStable
	Timeout   time.Duration `yaml:"timeout"`    // default WaitForStable budget
	Diff      DiffOptions   `yaml:"-"`
}

// DefaultConfig returns 3% threshold, 3 stable pairs, 100ms interval, 5s budget.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		RunLength: DefaultRunLength,
		Interval:  DefaultInterval,
		Timeout:   DefaultTimeout,
		Diff:      DefaultDiffOptions(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.RunLength <= 0 {
		c.RunLength = d.RunLength
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Diff.Step <= 0 && c.Diff.Epsilon == 0 {
		c.Diff = d.Diff
	}
	return c
}

// Stats summarizes what a Detector has seen since its last Reset.
type Stats struct {
	Samples     int
	Pairs       int
	StableRun   int
	AverageDiff float64
	MaxDiff     float64
	Stable      bool
}

// Detector tracks consecutive frame differences. It is owned by one
// goroutine; it does no locking.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	prev    image.Image
	samples int
	run     int
	history []float64
}

// NewDetector creates a detector; zero Config fields take defaults.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// Reset forgets all history.
func (d *Detector) Reset() {
	d.prev = nil
	d.samples = 0
	d.run = 0
	d.history = d.history[:0]
}

// ObserveDiff feeds one pair's diff ratio and reports whether the surface is
// now stable. A pair at or above Threshold resets the run.
func (d *Detector) ObserveDiff(ratio float64) bool {
	d.history = append(d.history, ratio)
	if ratio < d.cfg.Threshold {
		d.run++
	} else {
		d.run = 0
	}
	return d.Stable()
}

// Observe feeds a sample. The first sample only primes the detector.
func (d *Detector) Observe(sample image.Image) bool {
	d.samples++
	if d.prev == nil {
		d.prev = sample
		return false
	}
	ratio := DiffRatio(d.prev, sample, d.cfg.Diff)
	d.prev = sample
	return d.ObserveDiff(ratio)
}

// Stable reports whether the last RunLength pairs were all below Threshold.
func (d *Detector) Stable() bool {
	return d.run >= d.cfg.RunLength
}

// Stats returns counters since the last Reset.
func (d *Detector) Stats() Stats {
	s := Stats{
		Samples:   d.samples,
		Pairs:     len(d.history),
		StableRun: d.run,
		Stable:    d.Stable(),
	}
	if len(d.history) == 0 {
		return s
	}
	var sum float64
	for _, r := range d.history {
		sum += r
		if r > s.MaxDiff {
			s.MaxDiff = r
		}
	}
	s.AverageDiff = sum / float64(len(d.history))
	return s
}

// Result reports a WaitForStable call.
type Result struct {
	Stable  bool
	Elapsed time.Duration
	Stats   Stats
}

// WaitForStable samples src every Interval until the surface is stable or
// timeout passes. It never blocks past timeout: the sample call itself runs
// under the same deadline. Running out of time is reported as Stable=false
// with a nil error; a cancelled ctx or a failing source is an error.
func (d *Detector) WaitForStable(ctx context.Context, src SampleSource, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}
	d.Reset()

	start := time.Now()
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	result := func(stable bool) Result {
		return Result{Stable: stable, Elapsed: time.Since(start), Stats: d.Stats()}
	}

	for {
		sample, err := src.Sample(deadlineCtx)
		if err != nil {
			if ctx.Err() != nil {
				return result(false), ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || deadlineCtx.Err() != nil {
				d.logger.Debug("stability wait timed out during sample", slog.Duration("timeout", timeout))
				return result(false), nil
			}
			return result(false), fmt.Errorf("stability: sample: %w", err)
		}

		if d.Observe(sample) {
			d.logger.Debug("surface stable",
				slog.Int("samples", d.samples),
				slog.Duration("elapsed", time.Since(start)))
			return result(true), nil
		}

		select {
		case <-deadlineCtx.Done():
			if ctx.Err() != nil {
				return result(false), ctx.Err()
			}
			d.logger.Debug("stability wait timed out",
				slog.Duration("timeout", timeout),
				slog.Int("stable_run", d.run))
			return result(false), nil
		case <-ticker.C:
		}
	}
}
