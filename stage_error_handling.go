package showrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/teranos/showrunner/trip"
)

var (
	// ErrCollaboratorTimeout is returned when a collaborator call outlives its budget.
	ErrCollaboratorTimeout = errors.New("showrunner: collaborator call timed out")
	// ErrCollaboratorPanic is returned when a collaborator panics.
	ErrCollaboratorPanic = errors.New("showrunner: collaborator panicked")
)

// callWithTimeout runs fn under a timeout on its own goroutine so a hung or
// panicking collaborator cannot take the control loop down with it. When the
// timeout fires first the goroutine is left to finish on its own.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrCollaboratorPanic, p)}
			}
		}()
		v, err := fn(cctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-cctx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrCollaboratorTimeout, timeout)
	}
}

// call is callWithTimeout with panic accounting for r.
func call[T any](r *Runner, ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := callWithTimeout(ctx, timeout, fn)
	if errors.Is(err, ErrCollaboratorPanic) {
		r.panics.Add(1)
		r.logger.Error("collaborator panic recovered",
			slog.String("error", err.Error()),
			slog.String("stack", string(debug.Stack())))
	}
	return v, err
}

// callErr is call for collaborators that only return an error.
func (r *Runner) callErr(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	_, err := call(r, ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// recordTrip files a trip with the run's handler.
func (r *Runner) recordTrip(t *trip.Trip) {
	if t == nil {
		return
	}
	r.tripHandler.Record(t)
}

// Trips returns every error-level trip recorded so far.
func (r *Runner) Trips() []*trip.Trip {
	return r.tripHandler.GetTrips()
}

// Stumbles returns every warning-level trip recorded so far.
func (r *Runner) Stumbles() []*trip.Trip {
	return r.tripHandler.GetStumbles()
}

// Stats returns counters for the run and its event delivery.
func (r *Runner) Stats() map[string]int64 {
	return map[string]int64{
		"actions_dispatched":  r.actionsDispatched.Load(),
		"actions_failed":      r.actionsFailed.Load(),
		"retries":             r.retries.Load(),
		"collaborator_panics": r.panics.Load(),
		"interrupts":          r.interrupts.Load(),
		"events_emitted":      int64(r.events.seq.Load()),
		"events_delivered":    r.events.sent.Load(),
		"events_dropped":      r.events.drops.Load(),
		"subscribers":         int64(r.events.subscribers()),
	}
}

// HasDroppedEvents reports whether any subscriber missed an event.
func (r *Runner) HasDroppedEvents() bool {
	return r.events.drops.Load() > 0
}
