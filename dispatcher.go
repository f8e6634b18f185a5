package showrunner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var (
	ErrUnknownAction = errors.New("showrunner: unknown action kind")
	ErrNoHandler     = errors.New("showrunner: no handler registered for action kind")
)

// ActionOutcome is what an actuator reports back after performing an action.
type ActionOutcome struct {
	Detail string
	Data   map[string]string
}

// ActionDispatcher performs actions against the live environment.
// Dispatch is never pre-empted by the Runner; it must honour ctx.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, action Action) (ActionOutcome, error)
}

// Sensor observes the live environment.
type Sensor interface {
	Observe(ctx context.Context) (Observation, error)
}

// SensorFunc adapts a function to Sensor.
type SensorFunc func(ctx context.Context) (Observation, error)

func (f SensorFunc) Observe(ctx context.Context) (Observation, error) { return f(ctx) }

// VideoRecorder captures the run. Stop returns where the recording went and
// must keep whatever was captured even after a failed run.
type VideoRecorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (string, error)
}

// Planner produces steps for scenes that only carry a goal.
type Planner interface {
	// PlanScene returns the first step toward goal.
	PlanScene(ctx context.Context, goal string, obs Observation) (Step, error)
	// DecideNextAction returns the next step, or done=true once goal is met.
	DecideNextAction(ctx context.Context, obs Observation, goal string) (step Step, done bool, err error)
}

// SizedPlanner is a Planner whose first step commits it to a known number
// of steps. The Runner lets such a plan run past MaxPlannedSteps.
type SizedPlanner interface {
	Planner
	// PlannedSteps returns how many steps the current plan for goal has,
	// counting the first.
	PlannedSteps(goal string) int
}

// InputReleaser lets go of held keys and mouse buttons between scenes.
type InputReleaser interface {
	ReleaseInputs(ctx context.Context) error
}

// ActionHandler performs one kind of action.
type ActionHandler func(ctx context.Context, action Action) (ActionOutcome, error)

// HandlerDispatcher routes each ActionKind to exactly one handler.
//
// Example:
//
//	d := showrunner.NewHandlerDispatcher()
//	d.Register(showrunner.ActionType, terminal.TypeHandler)
//	d.Register(showrunner.ActionPress, terminal.PressHandler)
type HandlerDispatcher struct {
	mu       sync.RWMutex
	handlers map[ActionKind]ActionHandler
}

// NewHandlerDispatcher returns a dispatcher with the built-in wait handler.
func NewHandlerDispatcher() *HandlerDispatcher {
	d := &HandlerDispatcher{handlers: make(map[ActionKind]ActionHandler)}
	d.handlers[ActionWait] = WaitHandler
	return d
}

// Register installs h for kind, replacing any previous handler.
func (d *HandlerDispatcher) Register(kind ActionKind, h ActionHandler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
	if h == nil {
		return fmt.Errorf("showrunner: nil handler for %s", kind)
	}
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
	return nil
}

// Handles reports whether kind has a handler.
func (d *HandlerDispatcher) Handles(kind ActionKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[kind]
	return ok
}

// Dispatch implements ActionDispatcher.
func (d *HandlerDispatcher) Dispatch(ctx context.Context, action Action) (ActionOutcome, error) {
	if !action.Kind.Valid() {
		return ActionOutcome{}, fmt.Errorf("%w: %q", ErrUnknownAction, action.Kind)
	}
	d.mu.RLock()
	h, ok := d.handlers[action.Kind]
	d.mu.RUnlock()
	if !ok {
		return ActionOutcome{}, fmt.Errorf("%w: %s", ErrNoHandler, action.Kind)
	}
	return h(ctx, action)
}

// WaitHandler sleeps for Params["duration"] (a Go duration) or
// Params["seconds"], defaulting to one second. It returns early when ctx ends.
func WaitHandler(ctx context.Context, action Action) (ActionOutcome, error) {
	d, err := waitDuration(action)
	if err != nil {
		return ActionOutcome{}, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ActionOutcome{Detail: "waited " + d.String()}, nil
	case <-ctx.Done():
		return ActionOutcome{}, ctx.Err()
	}
}

func waitDuration(action Action) (time.Duration, error) {
	if raw, ok := action.Params["duration"]; ok {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("wait: bad duration %q: %w", raw, err)
		}
		return d, nil
	}
	if raw, ok := action.Params["seconds"]; ok {
		s, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("wait: bad seconds %q: %w", raw, err)
		}
		return time.Duration(s * float64(time.Second)), nil
	}
	return time.Second, nil
}
