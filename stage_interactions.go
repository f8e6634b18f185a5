package showrunner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"time"

	"github.com/teranos/showrunner/framing"
	"github.com/teranos/showrunner/stability"
	"github.com/teranos/showrunner/trip"
	"github.com/teranos/showrunner/waypoint"
)

var errNoSample = errors.New("showrunner: observation carried no visual sample")

// ExecuteStep runs a single step with retries, outside any scene.
//
// Example:
//
//	res := runner.ExecuteStep(ctx, showrunner.Step{
//		Action:  showrunner.Action{Kind: showrunner.ActionType, Params: map[string]string{"text": "ls"}},
//		WaitFor: showrunner.WaitCondition{Kind: showrunner.WaitTextAppears, Text: "README"},
//	})
func (r *Runner) ExecuteStep(ctx context.Context, step Step) StepResult {
	rn := r.newRun(DemoConfig{})
	return r.executeStep(ctx, rn, StepKey{}, step)
}

// stepSource yields the steps of a scene one at a time.
type stepSource interface {
	// total is the number of steps, or 0 when not known up front.
	total() int
	// next returns step j, or ok=false when the scene has no more steps.
	next(ctx context.Context, j int, last *Observation) (step Step, ok bool, fail *trip.Trip)
}

type scriptedSteps []Step

func (s scriptedSteps) total() int { return len(s) }

func (s scriptedSteps) next(_ context.Context, j int, _ *Observation) (Step, bool, *trip.Trip) {
	if j >= len(s) {
		return Step{}, false, nil
	}
	return s[j], true, nil
}

// plannedSteps asks the Planner for each step of a goal-only scene.
type plannedSteps struct {
	r    *Runner
	goal string
	max  int
}

func (p *plannedSteps) total() int { return 0 }

func (p *plannedSteps) next(ctx context.Context, j int, last *Observation) (Step, bool, *trip.Trip) {
	tctx := trip.Context{"goal": p.goal, "planned_step": j}
	if j >= p.max {
		return Step{}, false, trip.VerificationTimeout(
			fmt.Sprintf("goal %q not reached within %d planned steps", p.goal, p.max), tctx)
	}

	obs := Observation{}
	if last != nil {
		obs = *last
	} else {
		var err error
		obs, err = call(p.r, ctx, p.r.config.ObserveTimeout, p.r.sensor.Observe)
		if err != nil {
			return Step{}, false, trip.ActionDispatch("observe before planning failed", err, tctx)
		}
	}

	if j == 0 {
		step, err := call(p.r, ctx, p.r.config.ActionTimeout, func(ctx context.Context) (Step, error) {
			return p.r.planner.PlanScene(ctx, p.goal, obs)
		})
		if err != nil {
			return Step{}, false, trip.ActionDispatch("planner could not plan scene", err, tctx)
		}
		// a sized plan ends with a done decision after its last step
		if sized, ok := p.r.planner.(SizedPlanner); ok {
			p.max = max(p.max, sized.PlannedSteps(p.goal)+1)
		}
		return step, true, nil
	}

	type decision struct {
		step Step
		done bool
	}
	d, err := call(p.r, ctx, p.r.config.ActionTimeout, func(ctx context.Context) (decision, error) {
		step, done, err := p.r.planner.DecideNextAction(ctx, obs, p.goal)
		return decision{step, done}, err
	})
	if err != nil {
		return Step{}, false, trip.ActionDispatch("planner could not decide next action", err, tctx)
	}
	if d.done {
		return Step{}, false, nil
	}
	return d.step, true, nil
}

func (r *Runner) stepSource(scene Scene) stepSource {
	if len(scene.Steps) == 0 && scene.Journey == nil && scene.Goal != "" && r.planner != nil {
		return &plannedSteps{r: r, goal: scene.Goal, max: r.config.MaxPlannedSteps}
	}
	steps := append([]Step(nil), scene.Steps...)
	if scene.Journey != nil {
		steps = append(steps, JourneySteps(scene.Journey)...)
	}
	return scriptedSteps(steps)
}

// JourneySteps expands a sealed journey into scroll_to steps, one per
// waypoint in order.
func JourneySteps(j *waypoint.Journey) []Step {
	wps := j.Waypoints()
	steps := make([]Step, 0, len(wps))
	for _, wp := range wps {
		steps = append(steps, WaypointStep(wp))
	}
	return steps
}

// WaypointStep scrolls to wp. The step carries the waypoint's framing rule
// and waits out its pause.
func WaypointStep(wp waypoint.Waypoint) Step {
	step := Step{
		Name: "waypoint " + wp.Name,
		Action: Action{
			Kind:   ActionScrollTo,
			Target: Target{Selector: wp.TargetID},
			Params: map[string]string{
				"y":        strconv.FormatFloat(wp.Offset, 'f', -1, 64),
				"duration": wp.ScrollDuration.String(),
			},
		},
	}
	if wp.Rule != nil && wp.TargetID != "" {
		rule := *wp.Rule
		rule.TargetID = wp.TargetID
		step.Framing = &rule
	}
	if wp.Pause > 0 {
		step.WaitFor = WaitCondition{Kind: WaitTimeoutElapsed, Duration: wp.Pause}
	}
	return step
}

// runSteps executes steps in order until one fails, the source is exhausted
// or an interrupt is observed.
func (r *Runner) runSteps(ctx context.Context, rn *run, index int, scene Scene, src stepSource, res *SceneResult) {
	var last *Observation

	for j := 0; ; j++ {
		if r.checkInterrupt(ctx) {
			res.Interrupted = true
			res.Error = trip.Interrupted(r.InterruptReason(), trip.Context{"scene": index, "step": j})
			return
		}

		step, ok, fail := src.next(ctx, j, last)
		if fail != nil {
			r.recordTrip(fail)
			res.Error = fail
			res.FailedStep = j
			return
		}
		if !ok {
			return
		}

		rn.state.Step = j
		key := StepKey{Scene: index, Step: j}

		r.emit(Event{
			Type:       EventStepStart,
			SceneIndex: index,
			SceneName:  scene.Name,
			StepIndex:  j,
			StepsTotal: res.StepsTotal,
		})

		sr := r.executeStep(ctx, rn, key, step)
		sr.Index = j
		res.Steps = append(res.Steps, sr)
		res.RetriesUsed += sr.Retries

		ev := Event{
			Type:       EventStepComplete,
			SceneIndex: index,
			SceneName:  scene.Name,
			StepIndex:  j,
			StepsTotal: res.StepsTotal,
			Attempt:    sr.Attempts,
			Retries:    sr.Retries,
			Duration:   sr.Duration,
			Success:    sr.Success,
		}
		if !sr.Success {
			ev.Type = EventStepFailed
			ev.Interrupted = sr.Interrupted
			ev.Error = tripMessage(sr.Error)
			r.emit(ev)

			res.Error = sr.Error
			res.Interrupted = sr.Interrupted
			res.FailedStep = j
			return
		}
		r.emit(ev)

		res.StepsCompleted++
		last = sr.Observation
	}
}

// maxRetries resolves the retry budget: step override, then the run's policy.
func (rn *run) maxRetries(step Step) int {
	if step.MaxRetries != nil {
		if *step.MaxRetries < 0 {
			return 0
		}
		return *step.MaxRetries
	}
	return rn.retry.MaxRetries
}

// executeStep dispatches a step, waits for its condition and retries
// retryable failures with backoff. An always-failing step is dispatched
// exactly maxRetries+1 times.
func (r *Runner) executeStep(ctx context.Context, rn *run, key StepKey, step Step) StepResult {
	start := time.Now()
	res := StepResult{Index: key.Step, Label: step.Label()}
	logger := r.logger.With(slog.String("step", key.String()), slog.String("action", step.Label()))

	fail := r.attemptStep(ctx, key, step, 1, &res)
	if fail != nil && fail.Retryable() {
		fail = r.retryStep(ctx, rn, key, step, fail, &res, logger)
	}

	res.Duration = time.Since(start)
	if res.Attempts > 0 {
		res.Retries = res.Attempts - 1
	}
	rn.state.Retries[key] = res.Retries
	rn.state.TotalActions += res.Attempts

	if fail == nil {
		res.Success = true
		logger.Debug("step succeeded", slog.Int("attempts", res.Attempts), slog.Duration("duration", res.Duration))
		return res
	}

	rn.state.FailedActions++
	res.Error = fail
	res.Interrupted = errors.Is(fail, trip.ErrInterrupted)
	if !res.Interrupted {
		r.recordTrip(fail)
		logger.Warn("step failed",
			slog.Int("attempts", res.Attempts),
			slog.String("type", fail.Type),
			slog.String("error", fail.Message))
	}
	return res
}

// retryStep re-dispatches the full action after delay(k) for k = 1..N. It
// stops early on interrupt and never retries a non-retryable failure.
func (r *Runner) retryStep(ctx context.Context, rn *run, key StepKey, step Step, last *trip.Trip, res *StepResult, logger *slog.Logger) *trip.Trip {
	maxRetries := rn.maxRetries(step)

	for k := 1; k <= maxRetries; k++ {
		if last == nil || !last.Retryable() {
			return last
		}

		delay := rn.retry.Delay(k)
		logger.Info("retrying step",
			slog.Int("retry", k),
			slog.Int("max_retries", maxRetries),
			slog.Duration("backoff", delay),
			slog.String("cause", last.Message))

		if !r.sleep(ctx, delay) || r.checkInterrupt(ctx) {
			return r.interruptTrip(ctx, key)
		}

		r.retries.Add(1)
		last = r.attemptStep(ctx, key, step, k+1, res)
	}
	return last
}

// attemptStep performs one dispatch, optional framing and the wait for the
// step's condition. It returns nil on success.
func (r *Runner) attemptStep(ctx context.Context, key StepKey, step Step, attempt int, res *StepResult) *trip.Trip {
	res.Attempts = attempt
	attemptStart := time.Now()
	tctx := trip.Context{
		"scene":   key.Scene,
		"step":    key.Step,
		"action":  step.Action.String(),
		"attempt": attempt,
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.config.ActionTimeout
	}

	r.actionsDispatched.Add(1)
	if _, err := call(r, ctx, timeout, func(ctx context.Context) (ActionOutcome, error) {
		return r.dispatcher.Dispatch(ctx, step.Action)
	}); err != nil {
		r.actionsFailed.Add(1)
		return trip.ActionDispatch(fmt.Sprintf("dispatch %s failed", step.Action), err, tctx).WithAttempt(attempt)
	}

	if step.Framing != nil {
		if fail := r.frame(ctx, step, tctx, res); fail != nil {
			return fail.WithAttempt(attempt)
		}
	}

	obs, fail := r.awaitCondition(ctx, key, step, attemptStart, tctx)
	if fail != nil {
		return fail.WithAttempt(attempt)
	}
	res.Observation = &obs
	return nil
}

// frame runs the AutoScroller for the step's framing goal. Best-effort
// outcomes are warnings; only collaborator failures fail the attempt.
func (r *Runner) frame(ctx context.Context, step Step, tctx trip.Context, res *StepResult) *trip.Trip {
	if r.scroller == nil {
		res.Warnings = append(res.Warnings, "framing requested but no auto-scroller configured")
		return nil
	}

	rule := *step.Framing
	fr, err := call(r, ctx, r.config.ActionTimeout, func(ctx context.Context) (framing.Result, error) {
		return r.scroller.Frame(ctx, rule)
	})
	if err != nil {
		return trip.ActionDispatch(fmt.Sprintf("framing %q failed", rule.TargetID), err, tctx)
	}

	res.Framing = &fr
	if fr.Outcome.BestEffort() {
		msg := fmt.Sprintf("framing %q ended %s after %d iterations (%.0fpx off)",
			rule.TargetID, fr.Outcome, fr.Iterations, fr.FinalDelta)
		res.Warnings = append(res.Warnings, msg)
		r.recordTrip(trip.FramingConvergence(msg, tctx))
	}
	return nil
}

// awaitCondition observes until the verifier accepts or the budget runs
// out. A step without a wait condition needs exactly one observation.
func (r *Runner) awaitCondition(ctx context.Context, key StepKey, step Step, attemptStart time.Time, tctx trip.Context) (Observation, *trip.Trip) {
	cond := step.WaitFor
	budget := cond.Timeout
	if budget <= 0 {
		budget = r.config.WaitTimeout
	}
	if cond.Kind == WaitTimeoutElapsed && budget < cond.Duration+r.config.PollInterval {
		budget = cond.Duration + r.config.PollInterval
	}
	deadline := attemptStart.Add(budget)

	wctx, cancel := r.suspendContext(ctx)
	defer cancel()

	var obs Observation
	for {
		env := VerifyEnv{}
		if cond.Kind == WaitElementStable {
			stable, err := r.waitStable(wctx, time.Until(deadline))
			if err != nil {
				if r.checkInterrupt(ctx) {
					return obs, r.interruptTrip(ctx, key)
				}
				return obs, trip.ActionDispatch("stability sampling failed", err, tctx)
			}
			env.Stable = stable
		}

		var err error
		obs, err = call(r, ctx, r.config.ObserveTimeout, r.sensor.Observe)
		if err != nil {
			return obs, trip.ActionDispatch("observe failed", err, tctx)
		}
		env.Elapsed = time.Since(attemptStart)

		if r.verifier.Verify(step, obs, env) {
			return obs, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			tctx["wait_for"] = cond.String()
			tctx["budget"] = budget.String()
			return obs, trip.VerificationTimeout(
				fmt.Sprintf("%s not satisfied within %s", cond, budget), tctx)
		}

		wait := min(r.config.PollInterval, remaining)
		if cond.Kind == WaitTimeoutElapsed {
			// Wake exactly when the duration is due instead of a poll later.
			if due := cond.Duration - env.Elapsed; due > 0 && due < wait {
				wait = due
			}
		}
		if !r.sleep(wctx, wait) {
			return obs, r.interruptTrip(ctx, key)
		}
	}
}

// waitStable blocks until the surface is stable, the budget ends or ctx is
// done. It samples the configured source, or the Sensor when there is none.
func (r *Runner) waitStable(ctx context.Context, budget time.Duration) (bool, error) {
	timeout := r.config.StabilityTimeout
	if budget > 0 && budget < timeout {
		timeout = budget
	}
	if timeout <= 0 {
		return false, nil
	}

	src := r.samples
	if src == nil {
		src = stability.SampleSourceFunc(func(ctx context.Context) (image.Image, error) {
			obs, err := r.sensor.Observe(ctx)
			if err != nil {
				return nil, err
			}
			if obs.Sample == nil {
				return nil, errNoSample
			}
			return obs.Sample, nil
		})
	}

	result, err := r.detector.WaitForStable(ctx, src, timeout)
	if err != nil {
		return false, err
	}
	return result.Stable, nil
}

// sleep waits for d and reports false when ctx ended or an interrupt arrived
// first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !r.interrupted.Load() && ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return !r.interrupted.Load()
	case <-ctx.Done():
		return false
	case <-r.interruptCtx.Done():
		return false
	}
}

// interruptTrip records a parent-context cancellation as an interrupt and
// returns the InterruptedError for the step.
func (r *Runner) interruptTrip(ctx context.Context, key StepKey) *trip.Trip {
	if !r.interrupted.Load() {
		r.GracefulInterrupt(contextReason(ctx))
	}
	return trip.Interrupted(r.InterruptReason(), trip.Context{"scene": key.Scene, "step": key.Step})
}
