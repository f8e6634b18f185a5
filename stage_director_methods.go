package showrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/showrunner/framing"
	"github.com/teranos/showrunner/stability"
	"github.com/teranos/showrunner/trip"
)

// Option configures a Runner.
type Option func(*Runner)

// WithConfig replaces the RunnerConfig.
func WithConfig(cfg RunnerConfig) Option {
	return func(r *Runner) { r.config = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithVerifier replaces the default StepVerifier, usually to share
// registered predicates.
func WithVerifier(v *StepVerifier) Option {
	return func(r *Runner) {
		if v != nil {
			r.verifier = v
		}
	}
}

// WithAutoScroller enables framing goals on steps.
func WithAutoScroller(s *framing.AutoScroller) Option {
	return func(r *Runner) { r.scroller = s }
}

// WithFraming builds an AutoScroller over the given page collaborators.
func WithFraming(actuator framing.Actuator, locator framing.Locator, opts ...framing.Option) Option {
	return func(r *Runner) {
		r.scroller = framing.NewAutoScroller(actuator, locator, opts...)
	}
}

// WithSampleSource sets where element_stable waits read frames from. Without
// one the Runner samples through the Sensor.
func WithSampleSource(src stability.SampleSource) Option {
	return func(r *Runner) { r.samples = src }
}

// WithSampler runs s in the background for the duration of ExecuteDemo and
// reads stability samples from it.
func WithSampler(s *stability.Sampler) Option {
	return func(r *Runner) {
		r.sampler = s
		if s != nil {
			r.samples = s
		}
	}
}

// WithStability configures the stability detector.
func WithStability(cfg stability.Config) Option {
	return func(r *Runner) { r.stabilityConfig = &cfg }
}

// WithRecorder records the run.
func WithRecorder(rec VideoRecorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithPlanner enables goal-only scenes.
func WithPlanner(p Planner) Option {
	return func(r *Runner) { r.planner = p }
}

// WithInputReleaser is called by every scene cleanup.
func WithInputReleaser(rel InputReleaser) Option {
	return func(r *Runner) { r.releaser = rel }
}

// NewRunner creates an idle Runner.
func NewRunner(dispatcher ActionDispatcher, sensor Sensor, opts ...Option) *Runner {
	r := &Runner{
		dispatcher:  dispatcher,
		sensor:      sensor,
		verifier:    NewStepVerifier(),
		logger:      slog.Default(),
		config:      DefaultRunnerConfig(),
		runID:       newRunID(),
		events:      newEventBus(),
		tripHandler: trip.NewHandler("runner", trip.DefaultPolicy()),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.config = r.config.normalize()

	stabilityCfg := stability.Config{Timeout: r.config.StabilityTimeout}
	if r.stabilityConfig != nil {
		stabilityCfg = *r.stabilityConfig
	}
	r.detector = stability.NewDetector(stabilityCfg, r.logger)

	r.interruptCtx, r.interruptCancel = context.WithCancel(context.Background())
	r.logger = r.logger.With(slog.String("run_id", r.runID))
	return r
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RunID identifies this Runner's run in logs, events and reports.
func (r *Runner) RunID() string { return r.runID }

// State returns the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// transition moves from one state to another if the move is allowed and the
// Runner is still in from.
func (r *Runner) transition(from, to State) bool {
	allowed := false
	for _, s := range allowedTransitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// GracefulInterrupt asks the run to stop. No new scene or step starts once it
// is set; the in-flight dispatch finishes on its own terms and every wait,
// stability poll and backoff sleep returns early. Safe from any goroutine.
// It returns false when an interrupt was already requested.
func (r *Runner) GracefulInterrupt(reason string) bool {
	if !r.interrupted.CompareAndSwap(false, true) {
		return false
	}
	r.reasonMu.Lock()
	r.reason = reason
	r.reasonMu.Unlock()

	r.interrupts.Add(1)
	r.transition(StateRunning, StateInterrupting)
	r.interruptCancel()
	return true
}

// Interrupted reports whether an interrupt was requested.
func (r *Runner) Interrupted() bool { return r.interrupted.Load() }

// InterruptReason returns the reason passed to the first GracefulInterrupt.
func (r *Runner) InterruptReason() string {
	r.reasonMu.Lock()
	defer r.reasonMu.Unlock()
	return r.reason
}

// RegisterCancellationSource interrupts the run with reason when ctx is done.
// The returned function detaches the source.
//
// Example:
//
//	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	detach := runner.RegisterCancellationSource(sigCtx, "interrupted by user")
//	defer detach()
func (r *Runner) RegisterCancellationSource(ctx context.Context, reason string) func() {
	stop := context.AfterFunc(ctx, func() {
		r.GracefulInterrupt(reason)
	})
	return func() { stop() }
}

// checkInterrupt is the poll at the top of every scene and step. A cancelled
// parent context counts as an interrupt.
func (r *Runner) checkInterrupt(ctx context.Context) bool {
	if r.interrupted.Load() {
		return true
	}
	if err := ctx.Err(); err != nil {
		r.GracefulInterrupt(contextReason(ctx))
		return true
	}
	return false
}

func contextReason(ctx context.Context) string {
	if cause := context.Cause(ctx); cause != nil {
		return cause.Error()
	}
	return "context done"
}

// suspendContext derives a context for waits that also ends on interrupt.
func (r *Runner) suspendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.interruptCtx, cancel)
	return sctx, func() {
		stop()
		cancel()
	}
}

// run is the per-ExecuteDemo bookkeeping.
type run struct {
	state    *RunnerState
	retry    trip.RetryConfig
	warnings []string
}

func (r *Runner) newRun(cfg DemoConfig) *run {
	retry := r.config.Retry
	if cfg.Retry != (trip.RetryConfig{}) {
		retry = cfg.Retry
	}
	return &run{state: newRunnerState(), retry: retry}
}

func (rn *run) warn(msg string) {
	rn.warnings = append(rn.warnings, msg)
}

// ExecuteDemo runs every scene in order and returns the outcome. It never
// returns an error: failures, interrupts and partial progress are all in the
// result. A Runner executes at most one demo.
func (r *Runner) ExecuteDemo(ctx context.Context, demo Demo) DemoResult {
	start := time.Now()
	result := DemoResult{
		RunID:       r.runID,
		Name:        demo.Name,
		ScenesTotal: len(demo.Scenes),
	}

	if !r.transition(StateIdle, StateRunning) {
		result.Error = trip.NewFall("RUNNER_STATE", fmt.Sprintf("runner is %s, not idle", r.State()), nil)
		result.Duration = time.Since(start)
		return result
	}

	logger := r.logger.With(slog.String("demo", demo.Name))
	rn := r.newRun(demo.Config)

	// Background sampling lives exactly as long as the demo.
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(bgCtx)
	if r.sampler != nil {
		g.Go(func() error { return r.sampler.Run(gctx) })
	}

	r.startRecorder(ctx, rn, logger)

	logger.Info("demo starting", slog.Int("scenes", len(demo.Scenes)))
	r.emit(Event{Type: EventDemoStart, ScenesTotal: len(demo.Scenes)})

	for i, scene := range demo.Scenes {
		if r.checkInterrupt(ctx) {
			break
		}
		rn.state.Scene = i

		sr := r.runScenePolicy(ctx, rn, i, scene, len(demo.Scenes))
		result.Scenes = append(result.Scenes, sr)

		if sr.Success {
			result.ScenesCompleted++
			continue
		}
		if sr.Interrupted {
			break
		}
		if sr.Skipped {
			rn.warn(fmt.Sprintf("scene %d (%s) skipped: %v", i, scene.Name, sr.Error))
			continue
		}

		result.Error = sr.Error
		result.FirstFailure = &FailurePoint{Scene: i, Step: sr.FailedStep, Message: sr.Error.Message}
		logger.Error("demo aborted", slog.Int("scene", i), slog.String("error", sr.Error.Error()))
		break
	}

	result.VideoPath = r.stopRecorder(ctx, rn, logger)

	stopBackground()
	if err := g.Wait(); err != nil {
		rn.warn(fmt.Sprintf("background sampling: %v", err))
	}

	result.Interrupted = r.interrupted.Load()
	result.InterruptReason = r.InterruptReason()
	rn.state.Interrupted = result.Interrupted
	rn.state.InterruptReason = result.InterruptReason
	result.Success = result.Error == nil && !result.Interrupted

	switch {
	case result.Interrupted:
		r.transition(StateRunning, StateInterrupting)
		r.transition(StateInterrupting, StateStopped)
	case result.Success:
		r.transition(StateRunning, StateCompleted)
	default:
		r.transition(StateRunning, StateFailed)
	}

	result.Duration = time.Since(start)
	result.Warnings = rn.warnings
	result.State = rn.state.snapshot()
	result.TripReport = r.tripHandler.DetailedReport()

	r.emit(Event{
		Type:        EventDemoComplete,
		ScenesTotal: len(demo.Scenes),
		Duration:    result.Duration,
		Success:     result.Success,
		Interrupted: result.Interrupted,
		Error:       tripMessage(result.Error),
	})

	logger.Info("demo finished",
		slog.Bool("success", result.Success),
		slog.Bool("interrupted", result.Interrupted),
		slog.Int("scenes_completed", result.ScenesCompleted),
		slog.Duration("duration", result.Duration))

	return result
}

// ExecuteScene runs a single scene outside a demo, without applying its
// failure policy. Cleanup still runs on every exit path.
func (r *Runner) ExecuteScene(ctx context.Context, scene Scene) SceneResult {
	rn := r.newRun(DemoConfig{})
	return r.executeScene(ctx, rn, 0, scene, 1, 1)
}

// runScenePolicy executes a scene and applies its failure policy.
func (r *Runner) runScenePolicy(ctx context.Context, rn *run, index int, scene Scene, scenesTotal int) SceneResult {
	maxAttempts := 1
	if scene.OnFailure == PolicyRetry {
		maxAttempts = scene.MaxAttempts
		if maxAttempts < 1 {
			maxAttempts = r.config.SceneAttempts
		}
	}

	for attempt := 1; ; attempt++ {
		res := r.executeScene(ctx, rn, index, scene, scenesTotal, attempt)
		res.Attempts = attempt
		if res.Success || res.Interrupted {
			return res
		}

		switch scene.OnFailure {
		case PolicySkip:
			res.Skipped = true
			return res
		case PolicyRetry:
			if attempt < maxAttempts && !r.checkInterrupt(ctx) {
				r.logger.Warn("retrying scene",
					slog.Int("scene", index), slog.String("name", scene.Name),
					slog.Int("attempt", attempt+1), slog.Int("max_attempts", maxAttempts))
				continue
			}
			if r.interrupted.Load() {
				res.Interrupted = true
				return res
			}
		}

		fatal := trip.FatalScene(
			fmt.Sprintf("scene %d (%s) failed after %d attempt(s)", index, scene.Name, attempt),
			res.Error,
			trip.Context{"scene": index, "policy": scene.OnFailure.String(), "failed_step": res.FailedStep},
		)
		r.recordTrip(fatal)
		res.Error = fatal
		return res
	}
}

// executeScene runs one attempt of a scene. sceneCleanup is deferred so it
// runs on success, failure, panic and interrupt alike.
func (r *Runner) executeScene(ctx context.Context, rn *run, index int, scene Scene, scenesTotal, attempt int) SceneResult {
	start := time.Now()
	res := SceneResult{Index: index, Name: scene.Name, Attempts: attempt, FailedStep: -1}
	logger := r.logger.With(slog.Int("scene", index), slog.String("scene_name", scene.Name))

	defer r.sceneCleanup(ctx, rn, logger)

	src := r.stepSource(scene)
	res.StepsTotal = src.total()

	logger.Info("scene starting", slog.Int("steps", res.StepsTotal), slog.Int("attempt", attempt))
	r.emit(Event{
		Type:        EventSceneStart,
		SceneIndex:  index,
		SceneName:   scene.Name,
		ScenesTotal: scenesTotal,
		StepsTotal:  res.StepsTotal,
		Attempt:     attempt,
	})

	r.runSteps(ctx, rn, index, scene, src, &res)

	res.Duration = time.Since(start)
	res.Success = res.Error == nil && !res.Interrupted

	ev := Event{
		Type:        EventSceneComplete,
		SceneIndex:  index,
		SceneName:   scene.Name,
		ScenesTotal: scenesTotal,
		StepsTotal:  res.StepsTotal,
		StepIndex:   res.StepsCompleted,
		Attempt:     attempt,
		Retries:     res.RetriesUsed,
		Duration:    res.Duration,
		Success:     res.Success,
		Interrupted: res.Interrupted,
	}
	if !res.Success {
		ev.Type = EventSceneFailed
		ev.Error = tripMessage(res.Error)
		logger.Warn("scene failed",
			slog.Int("failed_step", res.FailedStep),
			slog.Bool("interrupted", res.Interrupted),
			slog.String("error", tripMessage(res.Error)))
	} else {
		logger.Info("scene complete", slog.Duration("duration", res.Duration), slog.Int("retries", res.RetriesUsed))
	}
	r.emit(ev)

	return res
}

// sceneCleanup releases held input state and resets the step cursor. It uses
// a context detached from cancellation so it still runs after an interrupt.
func (r *Runner) sceneCleanup(ctx context.Context, rn *run, logger *slog.Logger) {
	rn.state.Step = 0

	if r.releaser != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.CleanupTimeout)
		err := r.callErr(cctx, r.config.CleanupTimeout, r.releaser.ReleaseInputs)
		cancel()
		if err != nil {
			msg := fmt.Sprintf("scene cleanup: release inputs: %v", err)
			logger.Warn("scene cleanup failed", slog.String("error", err.Error()))
			rn.warn(msg)
			r.recordTrip(trip.NewStumble("CLEANUP_FAILED", msg, nil).WithCause(err))
		}
	}

	if r.config.SceneSettle > 0 {
		r.sleep(ctx, r.config.SceneSettle)
	}
}

func (r *Runner) startRecorder(ctx context.Context, rn *run, logger *slog.Logger) {
	if r.recorder == nil {
		return
	}
	err := r.callErr(ctx, r.config.CleanupTimeout, r.recorder.Start)
	if err != nil {
		msg := fmt.Sprintf("recorder start: %v", err)
		logger.Warn("recording unavailable", slog.String("error", err.Error()))
		rn.warn(msg)
		r.recordTrip(trip.NewStumble("RECORDER_FAILED", msg, nil).WithCause(err))
		r.recorder = nil
	}
}

// stopRecorder always runs, even after an interrupt, so partial recordings
// are kept.
func (r *Runner) stopRecorder(ctx context.Context, rn *run, logger *slog.Logger) string {
	if r.recorder == nil {
		return ""
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.CleanupTimeout)
	defer cancel()

	path, err := call(r, cctx, r.config.CleanupTimeout, r.recorder.Stop)
	if err != nil {
		msg := fmt.Sprintf("recorder stop: %v", err)
		logger.Warn("recording not finalized", slog.String("error", err.Error()))
		rn.warn(msg)
		r.recordTrip(trip.NewStumble("RECORDER_FAILED", msg, nil).WithCause(err))
	}
	if path != "" {
		logger.Info("recording saved", slog.String("path", path))
	}
	return path
}

func (r *Runner) emit(ev Event) {
	ev.RunID = r.runID
	r.events.publish(ev)
}

func tripMessage(t *trip.Trip) string {
	if t == nil {
		return ""
	}
	return t.Error()
}
