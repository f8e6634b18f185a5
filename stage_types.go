// Package showrunner drives scripted product demos against live, flaky
// environments such as a terminal program or a browser page.
//
// A Runner executes a Demo scene by scene and step by step. Each step is
// dispatched to an ActionDispatcher, optionally framed on screen by an
// AutoScroller, observed through a Sensor and judged by a StepVerifier.
// Failures are retried with exponential backoff, scenes follow their own
// failure policy, and the whole run can be interrupted gracefully at any
// suspension point.
//
// Basic usage:
//
//	runner := showrunner.NewRunner(dispatcher, sensor,
//		showrunner.WithLogger(logger),
//		showrunner.WithRecorder(recorder))
//
//	events, unsubscribe := runner.Subscribe(64)
//	defer unsubscribe()
//	go func() {
//		for ev := range events {
//			fmt.Println(ev.Type, ev.SceneName, ev.StepIndex)
//		}
//	}()
//
//	result := runner.ExecuteDemo(ctx, demo)
//	if !result.Success {
//		log.Printf("demo failed: %v", result.Error)
//	}
package showrunner

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teranos/showrunner/framing"
	"github.com/teranos/showrunner/stability"
	"github.com/teranos/showrunner/trip"
	"github.com/teranos/showrunner/waypoint"
)

// ActionKind is the closed set of things a step can ask an actuator to do.
type ActionKind string

const (
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionPress    ActionKind = "press"
	ActionHotkey   ActionKind = "hotkey"
	ActionMove     ActionKind = "move"
	ActionScroll   ActionKind = "scroll"
	ActionScrollTo ActionKind = "scroll_to"
	ActionNavigate ActionKind = "navigate"
	ActionWait     ActionKind = "wait"
	ActionTerminal ActionKind = "terminal"
)

// ActionKinds lists every valid kind in declaration order.
var ActionKinds = []ActionKind{
	ActionClick, ActionType, ActionPress, ActionHotkey, ActionMove,
	ActionScroll, ActionScrollTo, ActionNavigate, ActionWait, ActionTerminal,
}

// Valid reports whether k is one of ActionKinds.
func (k ActionKind) Valid() bool {
	for _, known := range ActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Target identifies what an action acts on. Actuators use whichever fields
// make sense for them.
type Target struct {
	Selector string `yaml:"selector,omitempty"` // CSS selector or element id
	Text     string `yaml:"text,omitempty"`     // visible text to find
	X        int    `yaml:"x,omitempty"`
	Y        int    `yaml:"y,omitempty"`
}

func (t Target) String() string {
	switch {
	case t.Selector != "":
		return t.Selector
	case t.Text != "":
		return strconv.Quote(t.Text)
	case t.X != 0 || t.Y != 0:
		return fmt.Sprintf("(%d,%d)", t.X, t.Y)
	default:
		return "screen"
	}
}

// Action is what to do in a step.
type Action struct {
	Kind   ActionKind        `yaml:"kind"`
	Target Target            `yaml:"target,omitempty"`
	Params map[string]string `yaml:"params,omitempty"`
}

// Param returns Params[key] or def when absent.
func (a Action) Param(key, def string) string {
	if v, ok := a.Params[key]; ok {
		return v
	}
	return def
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s", a.Kind, a.Target)
}

// WaitKind selects how a step's success is judged.
type WaitKind string

const (
	WaitNone           WaitKind = ""
	WaitTextAppears    WaitKind = "text_appears"
	WaitTimeoutElapsed WaitKind = "timeout_elapsed"
	WaitElementStable  WaitKind = "element_stable"
	WaitCustom         WaitKind = "custom"
)

// WaitCondition is the success criterion of a step.
type WaitCondition struct {
	Kind      WaitKind      `yaml:"kind,omitempty"`
	Text      string        `yaml:"text,omitempty"`      // text_appears
	Duration  time.Duration `yaml:"duration,omitempty"`  // timeout_elapsed
	Timeout   time.Duration `yaml:"timeout,omitempty"`   // budget for the wait; 0 uses RunnerConfig.WaitTimeout
	Predicate string        `yaml:"predicate,omitempty"` // custom: name registered on the StepVerifier
}

func (w WaitCondition) String() string {
	switch w.Kind {
	case WaitNone:
		return "none"
	case WaitTextAppears:
		return fmt.Sprintf("text %q", w.Text)
	case WaitTimeoutElapsed:
		return fmt.Sprintf("elapsed %s", w.Duration)
	case WaitCustom:
		return "custom " + w.Predicate
	default:
		return string(w.Kind)
	}
}

// FramingGoal asks the AutoScroller to frame an element after dispatch.
type FramingGoal = framing.Rule

// Step is one action and the condition that proves it worked.
type Step struct {
	Name       string        `yaml:"name,omitempty"`
	Action     Action        `yaml:"action"`
	WaitFor    WaitCondition `yaml:"wait_for,omitempty"`
	Framing    *FramingGoal  `yaml:"framing,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`     // dispatch timeout; 0 uses RunnerConfig.ActionTimeout
	MaxRetries *int          `yaml:"max_retries,omitempty"` // nil uses the demo retry policy
}

// Label is a short human description used in logs and reports.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Action.String()
}

// FailurePolicy decides what a failed scene does to the demo.
type FailurePolicy string

const (
	PolicyAbort FailurePolicy = ""
	PolicySkip  FailurePolicy = "skip"
	PolicyRetry FailurePolicy = "retry"
)

// ParseFailurePolicy accepts abort, skip and retry.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return PolicyAbort, nil
	case "skip":
		return PolicySkip, nil
	case "retry":
		return PolicyRetry, nil
	default:
		return PolicyAbort, fmt.Errorf("unknown failure policy %q", s)
	}
}

func (p FailurePolicy) String() string {
	if p == PolicyAbort {
		return "abort"
	}
	return string(p)
}

// Scene is an independently retryable group of steps with a narrative goal.
//
// A scene with a Goal and no Steps is planned at run time by the Runner's
// Planner. A Journey, when set, is expanded into scroll steps after Steps.
type Scene struct {
	Name        string
	Goal        string
	Steps       []Step
	OnFailure   FailurePolicy
	Narration   string
	Journey     *waypoint.Journey
	MaxAttempts int // PolicyRetry only; 0 uses RunnerConfig.SceneAttempts
}

// DemoConfig holds demo-wide settings.
type DemoConfig struct {
	Width  int
	Height int
	FPS    int
	Retry  trip.RetryConfig // zero value uses RunnerConfig.Retry
}

// Demo is an immutable, already validated plan.
type Demo struct {
	Name   string
	Scenes []Scene
	Config DemoConfig
}

// Observation is an immutable snapshot of the environment.
type Observation struct {
	Sample       image.Image
	SampleRef    string // where the sample was persisted, if anywhere
	Text         string // text extracted from the visual sample
	TerminalText string
	ContextID    string // active window, tab or session
	// Conditions are named application states read at observation time
	Conditions map[string]bool
	Timestamp  time.Time
}

// StepKey identifies a step within a run.
type StepKey struct {
	Scene int
	Step  int
}

func (k StepKey) String() string {
	return fmt.Sprintf("%d.%d", k.Scene, k.Step)
}

// RunnerState is the control loop's bookkeeping for one ExecuteDemo call.
// Only the control goroutine touches it; results carry a copy.
type RunnerState struct {
	Scene           int
	Step            int
	Interrupted     bool
	InterruptReason string
	Retries         map[StepKey]int
	TotalActions    int
	FailedActions   int
}

func newRunnerState() *RunnerState {
	return &RunnerState{Retries: make(map[StepKey]int)}
}

func (s *RunnerState) snapshot() RunnerState {
	out := *s
	out.Retries = make(map[StepKey]int, len(s.Retries))
	for k, v := range s.Retries {
		out.Retries[k] = v
	}
	return out
}

// StepResult is the outcome of one step including its retries.
type StepResult struct {
	Index       int
	Label       string
	Success     bool
	Duration    time.Duration
	Attempts    int // dispatches performed
	Retries     int // Attempts - 1 on any dispatched step
	Error       *trip.Trip
	Warnings    []string
	Interrupted bool
	Framing     *framing.Result
	Observation *Observation
}

// SceneResult is the outcome of one scene attempt, or the last attempt under
// PolicyRetry.
type SceneResult struct {
	Index          int
	Name           string
	Success        bool
	Skipped        bool // failed under PolicySkip
	Attempts       int
	Duration       time.Duration
	Steps          []StepResult
	StepsCompleted int
	StepsTotal     int
	RetriesUsed    int
	Error          *trip.Trip
	Interrupted    bool
	FailedStep     int // -1 when no step failed
}

// FailurePoint locates the first fatal failure of a demo.
type FailurePoint struct {
	Scene   int
	Step    int
	Message string
}

// DemoResult is the outcome of a whole demo. Partial progress is kept on
// failure and interruption.
type DemoResult struct {
	RunID           string
	Name            string
	Success         bool
	Interrupted     bool
	InterruptReason string
	Duration        time.Duration
	Scenes          []SceneResult
	ScenesCompleted int
	ScenesTotal     int
	VideoPath       string
	Error           *trip.Trip
	FirstFailure    *FailurePoint
	Warnings        []string
	State           RunnerState
	TripReport      string
}

// State is the Runner lifecycle. Transitions only move forward:
//
//	Idle -> Running -> Interrupting -> Stopped
//	                -> Completed
//	                -> Failed
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateInterrupting
	StateStopped
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateInterrupting:
		return "interrupting"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateFailed
}

var allowedTransitions = map[State][]State{
	StateIdle:         {StateRunning},
	StateRunning:      {StateInterrupting, StateCompleted, StateFailed},
	StateInterrupting: {StateStopped},
}

// RunnerConfig configures a Runner.
//
// Example:
//
//	cfg := showrunner.DefaultRunnerConfig()
//	cfg.Retry.MaxRetries = 1          // fail fast
//	cfg.WaitTimeout = 5 * time.Second // short waits for a local app
//	runner := showrunner.NewRunner(d, s, showrunner.WithConfig(cfg))
type RunnerConfig struct {
	// ActionTimeout bounds each dispatch, framing loop and planner call
	ActionTimeout time.Duration
	// ObserveTimeout bounds each Sensor.Observe call
	ObserveTimeout time.Duration
	// WaitTimeout is the default wait_for budget per attempt
	WaitTimeout time.Duration
	// PollInterval is the pause between observations while waiting
	PollInterval time.Duration
	// StabilityTimeout caps a single stability wait
	StabilityTimeout time.Duration
	// Retry is the step retry policy when the demo does not set one
	Retry trip.RetryConfig
	// SceneAttempts is the default total attempts for PolicyRetry scenes
	SceneAttempts int
	// MaxPlannedSteps bounds planner-driven scenes
	MaxPlannedSteps int
	// CleanupTimeout bounds input release and recorder shutdown
	CleanupTimeout time.Duration
	// SceneSettle is the pause after each scene's cleanup
	SceneSettle time.Duration
}

// DefaultRunnerConfig returns production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		ActionTimeout:    30 * time.Second,
		ObserveTimeout:   10 * time.Second,
		WaitTimeout:      30 * time.Second,
		PollInterval:     500 * time.Millisecond,
		StabilityTimeout: 5 * time.Second,
		Retry:            trip.DefaultRetryConfig(),
		SceneAttempts:    2,
		MaxPlannedSteps:  20,
		CleanupTimeout:   5 * time.Second,
		SceneSettle:      200 * time.Millisecond,
	}
}

// normalize replaces values that would make the loop misbehave.
func (c RunnerConfig) normalize() RunnerConfig {
	d := DefaultRunnerConfig()
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d.ActionTimeout
	}
	if c.ObserveTimeout <= 0 {
		c.ObserveTimeout = d.ObserveTimeout
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StabilityTimeout <= 0 {
		c.StabilityTimeout = d.StabilityTimeout
	}
	if c.SceneAttempts < 1 {
		c.SceneAttempts = 1
	}
	if c.MaxPlannedSteps < 1 {
		c.MaxPlannedSteps = d.MaxPlannedSteps
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = d.CleanupTimeout
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	return c
}

// Runner executes demos. A Runner is single-use: one ExecuteDemo call moves
// it from Idle to a terminal state.
//
// The control loop runs on the caller's goroutine. Background samplers only
// fill buffers; GracefulInterrupt, RegisterCancellationSource and event
// delivery only flip flags or enqueue, so they are safe from any goroutine.
type Runner struct {
	dispatcher ActionDispatcher
	sensor     Sensor
	verifier   *StepVerifier
	scroller   *framing.AutoScroller
	detector   *stability.Detector
	samples    stability.SampleSource
	sampler    *stability.Sampler
	recorder   VideoRecorder
	planner    Planner
	releaser   InputReleaser
	logger     *slog.Logger
	config     RunnerConfig
	runID      string

	stabilityConfig *stability.Config

	// Lifecycle
	state           atomic.Int32
	interrupted     atomic.Bool
	reasonMu        sync.Mutex
	reason          string
	interruptCtx    context.Context
	interruptCancel context.CancelFunc

	// Progress and error tracking
	events      *eventBus
	tripHandler *trip.Handler

	// Counters for Stats
	actionsDispatched atomic.Int64
	actionsFailed     atomic.Int64
	retries           atomic.Int64
	panics            atomic.Int64
	interrupts        atomic.Int64
}
