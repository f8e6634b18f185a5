package trip

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Handler manages error collection and reporting during a run.
//
// Stumbles (best-effort framing, recorder hiccups) are collected separately
// from trips so a report can show them without failing the demo.
//
// Thread Safety: Record may be called from recorder goroutines while the
// control goroutine reads, so all methods lock.
type Handler struct {
	component string // Component name (e.g., "runner", "recorder")
	mu        sync.Mutex
	trips     []*Trip // Collected errors in chronological order
	stumbles  []*Trip // Collected minor issues in chronological order
	policy    *Policy // How to handle different error types
}

// Policy defines how different types and severities of errors should be handled.
type Policy struct {
	// StopOnFall determines if the demo should stop immediately on fall errors
	StopOnFall bool

	// MaxStumbles sets a limit on accumulated stumbles before treating as trip
	MaxStumbles int

	// RecoverableTypes lists error types that are considered recoverable
	RecoverableTypes []string

	// RetryPolicy defines retry behavior for different error types
	RetryPolicy map[string]RetryConfig
}

// RetryConfig defines retry behavior for specific error types.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"` // Maximum retry attempts after the first
	Backoff     time.Duration `yaml:"backoff"`     // Base delay between retries
	MaxBackoff  time.Duration `yaml:"max_backoff"` // Upper bound for a single delay (0 = unbounded)
	Exponential bool          `yaml:"exponential"` // Whether to use exponential backoff
}

// Delay returns the sleep before retry attempt k (1-based):
//
//	delay(k) = min(Backoff * 2^(k-1), MaxBackoff)
//
// Non-exponential configs return Backoff (still capped).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 || c.Backoff <= 0 {
		return 0
	}

	delay := c.Backoff
	if c.Exponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if c.MaxBackoff > 0 && delay >= c.MaxBackoff {
				return c.MaxBackoff
			}
		}
	}
	if c.MaxBackoff > 0 && delay > c.MaxBackoff {
		return c.MaxBackoff
	}
	return delay
}

// DefaultRetryConfig is the step retry policy used when a demo does not set one:
// three retries, 1s base, doubling, capped at 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		Backoff:     time.Second,
		MaxBackoff:  8 * time.Second,
		Exponential: true,
	}
}

// DefaultPolicy returns a sensible default error handling policy.
func DefaultPolicy() *Policy {
	return &Policy{
		StopOnFall:       true,
		MaxStumbles:      0,
		RecoverableTypes: []string{TypeFramingConvergence},
		RetryPolicy: map[string]RetryConfig{
			TypeActionDispatch:      DefaultRetryConfig(),
			TypeVerificationTimeout: DefaultRetryConfig(),
		},
	}
}

// NewHandler creates a new error handler for a specific component.
func NewHandler(component string, policy *Policy) *Handler {
	if policy == nil {
		policy = DefaultPolicy()
	}

	return &Handler{
		component: component,
		trips:     make([]*Trip, 0),
		stumbles:  make([]*Trip, 0),
		policy:    policy,
	}
}

// Record adds an error to the handler's collection.
func (h *Handler) Record(trip *Trip) {
	if trip == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if trip.Severity == Stumble {
		h.stumbles = append(h.stumbles, trip)
	} else {
		h.trips = append(h.trips, trip)
	}
}

// ShouldContinue determines if the demo should continue based on current errors.
func (h *Handler) ShouldContinue() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Stop on fall errors if policy requires it
	if h.policy.StopOnFall {
		for _, trip := range h.trips {
			if trip.IsFall() {
				return false
			}
		}
	}

	// Stop if too many stumbles have accumulated
	if h.policy.MaxStumbles > 0 && len(h.stumbles) > h.policy.MaxStumbles {
		return false
	}

	return true
}

// HasTrips returns true if any errors (non-stumbles) have been recorded.
func (h *Handler) HasTrips() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.trips) > 0
}

// HasStumbles returns true if any stumbles have been recorded.
func (h *Handler) HasStumbles() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stumbles) > 0
}

// GetTrips returns a copy of all recorded errors.
func (h *Handler) GetTrips() []*Trip {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Trip(nil), h.trips...)
}

// GetStumbles returns a copy of all recorded stumbles.
func (h *Handler) GetStumbles() []*Trip {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Trip(nil), h.stumbles...)
}

// GetRetryConfig returns the retry configuration for a specific error type.
func (h *Handler) GetRetryConfig(errorType string) (RetryConfig, bool) {
	config, exists := h.policy.RetryPolicy[errorType]
	return config, exists
}

// CanRecover returns true if the given error type is considered recoverable.
func (h *Handler) CanRecover(errorType string) bool {
	for _, recoverableType := range h.policy.RecoverableTypes {
		if recoverableType == errorType {
			return true
		}
	}
	return false
}

// Summary provides a concise overview of all errors and stumbles.
func (h *Handler) Summary() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.trips) == 0 && len(h.stumbles) == 0 {
		return fmt.Sprintf("[%s] No issues during run", h.component)
	}

	return fmt.Sprintf("[%s] %d trips, %d stumbles",
		h.component, len(h.trips), len(h.stumbles))
}

// DetailedReport provides a comprehensive report of all issues.
func (h *Handler) DetailedReport() string {
	var report strings.Builder

	report.WriteString(fmt.Sprintf("=== %s Component Report ===\n", h.component))
	report.WriteString(h.Summary() + "\n")

	trips := h.GetTrips()
	stumbles := h.GetStumbles()

	if len(trips) > 0 {
		report.WriteString("\nTrips:\n")
		for i, trip := range trips {
			report.WriteString(fmt.Sprintf("%d. %s\n", i+1, trip.DetailedString()))
		}
	}

	if len(stumbles) > 0 {
		report.WriteString("\nStumbles:\n")
		for i, stumble := range stumbles {
			report.WriteString(fmt.Sprintf("%d. %s\n", i+1, stumble.DetailedString()))
		}
	}

	return report.String()
}
