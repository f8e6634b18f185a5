// Package trip provides error handling for showrunner demo execution.
//
// The trip package uses stumbling metaphors for run errors - when a demo
// encounters issues, it "trips up" or "stumbles", then needs to recover
// gracefully or stop the take.
package trip

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Trip types forming the runner's error taxonomy.
//
//   - TypeActionDispatch: an actuator, sensor or recorder call failed or timed out
//   - TypeVerificationTimeout: a wait condition was never satisfied within budget
//   - TypeInterrupted: a user-requested stop was observed mid-run
//   - TypeFramingConvergence: auto-scroll ended best-effort (non-fatal)
//   - TypeFatalScene: a scene exhausted its retries under abort semantics
const (
	TypeActionDispatch      = "action_dispatch"
	TypeVerificationTimeout = "verification_timeout"
	TypeInterrupted         = "interrupted"
	TypeFramingConvergence  = "framing_convergence"
	TypeFatalScene          = "fatal_scene"
)

// Sentinels matched by errors.Is against any *Trip of the corresponding type:
//
//	if errors.Is(result.Error, trip.ErrInterrupted) {
//	    // stop reporting retries
//	}
var (
	ErrActionDispatch      = errors.New("trip: action dispatch failed")
	ErrVerificationTimeout = errors.New("trip: verification timeout")
	ErrInterrupted         = errors.New("trip: interrupted")
	ErrFramingConvergence  = errors.New("trip: framing did not converge")
	ErrFatalScene          = errors.New("trip: fatal scene error")
)

var sentinels = map[string]error{
	TypeActionDispatch:      ErrActionDispatch,
	TypeVerificationTimeout: ErrVerificationTimeout,
	TypeInterrupted:         ErrInterrupted,
	TypeFramingConvergence:  ErrFramingConvergence,
	TypeFatalScene:          ErrFatalScene,
}

// Trip represents an error during demo execution with rich context.
//
// Trips categorize the failures a run can hit, providing structured context
// for reports without immediately stopping the demo.
//
// Example usage:
//
//	err := NewTrip(TypeVerificationTimeout, "text never appeared",
//	    Context{"expected": "hello", "scene": 1})
//
//	if err.CanRecover() {
//	    // Continue the demo despite this stumble
//	}
type Trip struct {
	Type      string    // Error category for systematic handling
	Message   string    // Human-readable description
	Context   Context   // Additional debugging information
	Timestamp time.Time // When the error occurred
	Attempt   int       // Which attempt/retry this was
	Severity  Severity  // How serious this error is
	Cause     error     // Underlying error, if any
}

// Context provides structured debugging information for trips.
type Context map[string]interface{}

// Severity indicates how serious a trip is and how it should be handled.
type Severity int

const (
	// Stumble indicates a minor issue that doesn't affect the run's validity.
	// Examples: framing ended best-effort, recorder could not start
	Stumble Severity = iota

	// Error indicates a significant issue that fails the current step.
	// Examples: dispatch failures, verification timeouts
	Error

	// Fall indicates a serious issue that stops the demo.
	// Examples: a scene exhausted its retries under abort policy
	Fall
)

func (s Severity) String() string {
	switch s {
	case Stumble:
		return "stumble"
	case Error:
		return "error"
	case Fall:
		return "fall"
	default:
		return "unknown"
	}
}

// NewTrip creates a new trip with the current timestamp.
func NewTrip(errorType, message string, context Context) *Trip {
	return &Trip{
		Type:      errorType,
		Message:   message,
		Context:   context,
		Timestamp: time.Now(),
		Severity:  Error, // Default severity
	}
}

// NewStumble creates a new trip with Stumble severity.
func NewStumble(errorType, message string, context Context) *Trip {
	return NewTrip(errorType, message, context).WithSeverity(Stumble)
}

// NewFall creates a new trip with Fall severity.
func NewFall(errorType, message string, context Context) *Trip {
	return NewTrip(errorType, message, context).WithSeverity(Fall)
}

// ActionDispatch reports a failed or timed out collaborator call.
func ActionDispatch(message string, cause error, context Context) *Trip {
	return NewTrip(TypeActionDispatch, message, context).WithCause(cause)
}

// VerificationTimeout reports a wait condition that never held.
func VerificationTimeout(message string, context Context) *Trip {
	return NewTrip(TypeVerificationTimeout, message, context)
}

// Interrupted reports a stop observed at a loop boundary or suspension point.
func Interrupted(reason string, context Context) *Trip {
	return NewTrip(TypeInterrupted, "interrupted: "+reason, context)
}

// FramingConvergence records a best-effort framing result. It never fails a step.
func FramingConvergence(message string, context Context) *Trip {
	return NewStumble(TypeFramingConvergence, message, context)
}

// FatalScene wraps the trip that made a scene give up.
func FatalScene(message string, cause error, context Context) *Trip {
	return NewFall(TypeFatalScene, message, context).WithCause(cause)
}

// WithAttempt sets the attempt number for this error.
func (t *Trip) WithAttempt(attemptNumber int) *Trip {
	t.Attempt = attemptNumber
	return t
}

// WithSeverity sets the severity level for this error.
func (t *Trip) WithSeverity(severity Severity) *Trip {
	t.Severity = severity
	return t
}

// WithCause attaches the underlying error.
func (t *Trip) WithCause(cause error) *Trip {
	t.Cause = cause
	return t
}

// Error implements the error interface.
func (t *Trip) Error() string {
	if t.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", t.Type, t.Severity, t.Message, t.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", t.Type, t.Severity, t.Message)
}

// Is matches the sentinel of the trip's type.
func (t *Trip) Is(target error) bool {
	sentinel, ok := sentinels[t.Type]
	return ok && sentinel == target
}

// Unwrap exposes the underlying cause.
func (t *Trip) Unwrap() error {
	return t.Cause
}

// CanRecover returns true if the demo can continue despite this error.
func (t *Trip) CanRecover() bool {
	return t.Severity == Stumble
}

// IsFall returns true if this error should immediately stop the demo.
func (t *Trip) IsFall() bool {
	return t.Severity == Fall
}

// Retryable reports whether a step that failed with this trip may be re-dispatched.
// Interrupted trips are never retryable.
func (t *Trip) Retryable() bool {
	return t.Type == TypeActionDispatch || t.Type == TypeVerificationTimeout
}

// GetContext returns a specific context value if it exists.
func (t *Trip) GetContext(key string) (interface{}, bool) {
	if t.Context == nil {
		return nil, false
	}
	val, exists := t.Context[key]
	return val, exists
}

// DetailedString returns a comprehensive error description with context.
// Context keys are printed in sorted order.
func (t *Trip) DetailedString() string {
	var details strings.Builder

	details.WriteString(fmt.Sprintf("[%s:%s] %s", t.Type, t.Severity, t.Message))
	details.WriteString(fmt.Sprintf("\n  Time: %s", t.Timestamp.Format("15:04:05.000")))

	if t.Attempt > 0 {
		details.WriteString(fmt.Sprintf("\n  Attempt: %d", t.Attempt))
	}
	if t.Cause != nil {
		details.WriteString(fmt.Sprintf("\n  Cause: %v", t.Cause))
	}

	if len(t.Context) > 0 {
		keys := make([]string, 0, len(t.Context))
		for key := range t.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		details.WriteString("\n  Context:")
		for _, key := range keys {
			details.WriteString(fmt.Sprintf("\n    %s: %v", key, t.Context[key]))
		}
	}

	return details.String()
}

// As extracts a *Trip from an error chain.
func As(err error) (*Trip, bool) {
	var t *Trip
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}
