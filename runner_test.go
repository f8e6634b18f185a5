package showrunner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/showrunner/framing"
	"github.com/teranos/showrunner/stability"
	"github.com/teranos/showrunner/trip"
	"github.com/teranos/showrunner/waypoint"
)

// fakeStage is a scripted environment. Actions are keyed by Target.Selector.
type fakeStage struct {
	mu         sync.Mutex
	dispatches []string
	counts     map[string]int
	failFirst  map[string]int // fail the first n dispatches of a key
	text       string
	onDispatch func(key string)
	panicOn    string
}

func newFakeStage() *fakeStage {
	return &fakeStage{counts: make(map[string]int), failFirst: make(map[string]int)}
}

func (s *fakeStage) Dispatch(_ context.Context, a Action) (ActionOutcome, error) {
	key := a.Target.Selector
	if key == s.panicOn && key != "" {
		panic("actuator exploded")
	}

	s.mu.Lock()
	s.dispatches = append(s.dispatches, key)
	s.counts[key]++
	n := s.counts[key]
	fail := n <= s.failFirst[key]
	hook := s.onDispatch
	s.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if fail {
		return ActionOutcome{}, errors.New("element not clickable yet")
	}
	return ActionOutcome{Detail: "ok"}, nil
}

func (s *fakeStage) Observe(_ context.Context) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Observation{Text: s.text, Timestamp: time.Now()}, nil
}

func (s *fakeStage) dispatched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dispatches...)
}

func (s *fakeStage) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

func testConfig() RunnerConfig {
	return RunnerConfig{
		ActionTimeout:    2 * time.Second,
		ObserveTimeout:   time.Second,
		WaitTimeout:      50 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		StabilityTimeout: 500 * time.Millisecond,
		Retry: trip.RetryConfig{
			MaxRetries:  3,
			Backoff:     time.Millisecond,
			MaxBackoff:  4 * time.Millisecond,
			Exponential: true,
		},
		SceneAttempts:   2,
		MaxPlannedSteps: 5,
		CleanupTimeout:  time.Second,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(stage *fakeStage, opts ...Option) *Runner {
	base := []Option{WithConfig(testConfig()), WithLogger(quietLogger())}
	return NewRunner(stage, stage, append(base, opts...)...)
}

func click(key string) Step {
	return Step{Action: Action{Kind: ActionClick, Target: Target{Selector: key}}}
}

func retries(n int) *int { return &n }

func scene(name string, steps ...Step) Scene {
	return Scene{Name: name, Steps: steps}
}

// TestExecuteStep_AlwaysFailing tests that a failing step is dispatched N+1 times
func TestExecuteStep_AlwaysFailing(t *testing.T) {
	stage := newFakeStage()
	stage.failFirst["save"] = 100
	runner := newTestRunner(stage)

	res := runner.ExecuteStep(context.Background(), click("save"))

	assert.False(t, res.Success)
	assert.Equal(t, 4, stage.count("save"))
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 3, res.Retries)
	require.NotNil(t, res.Error)
	assert.ErrorIs(t, res.Error, trip.ErrActionDispatch)
	assert.Equal(t, 4, res.Error.Attempt)
	assert.Equal(t, int64(3), runner.Stats()["retries"])
}

func TestExecuteStep_StepRetryOverride(t *testing.T) {
	stage := newFakeStage()
	stage.failFirst["save"] = 100
	runner := newTestRunner(stage)

	step := click("save")
	step.MaxRetries = retries(0)
	res := runner.ExecuteStep(context.Background(), step)

	assert.False(t, res.Success)
	assert.Equal(t, 1, stage.count("save"))
}

func TestExecuteStep_VerificationTimeout(t *testing.T) {
	stage := newFakeStage()
	stage.text = "loading..."
	runner := newTestRunner(stage)

	step := click("search")
	step.WaitFor = WaitCondition{Kind: WaitTextAppears, Text: "3 results", Timeout: 20 * time.Millisecond}
	step.MaxRetries = retries(1)

	res := runner.ExecuteStep(context.Background(), step)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, trip.ErrVerificationTimeout)
	assert.Equal(t, 2, stage.count("search"), "each retry re-dispatches the full action")
}

func TestExecuteStep_TextAppears(t *testing.T) {
	stage := newFakeStage()
	runner := newTestRunner(stage)
	stage.onDispatch = func(string) {
		stage.mu.Lock()
		stage.text = "Found 3 Results"
		stage.mu.Unlock()
	}

	step := click("search")
	step.WaitFor = WaitCondition{Kind: WaitTextAppears, Text: "3 results"}
	res := runner.ExecuteStep(context.Background(), step)

	require.True(t, res.Success)
	require.NotNil(t, res.Observation)
	assert.Equal(t, "Found 3 Results", res.Observation.Text)
	assert.Zero(t, res.Retries)
}

func TestExecuteStep_TimeoutElapsed(t *testing.T) {
	stage := newFakeStage()
	runner := newTestRunner(stage)

	step := click("hold")
	step.WaitFor = WaitCondition{Kind: WaitTimeoutElapsed, Duration: 30 * time.Millisecond}
	res := runner.ExecuteStep(context.Background(), step)

	require.True(t, res.Success, "the wait budget stretches to cover the duration")
	assert.GreaterOrEqual(t, res.Duration, 30*time.Millisecond)
}

func TestExecuteStep_ElementStable(t *testing.T) {
	stage := newFakeStage()
	frame := image.NewRGBA(image.Rect(0, 0, 8, 8))
	frame.Set(1, 1, color.RGBA{R: 255, A: 255})
	src := stability.SampleSourceFunc(func(context.Context) (image.Image, error) { return frame, nil })

	runner := newTestRunner(stage,
		WithSampleSource(src),
		WithStability(stability.Config{Interval: time.Millisecond, Timeout: time.Second}))

	step := click("animate")
	step.WaitFor = WaitCondition{Kind: WaitElementStable, Timeout: time.Second}
	res := runner.ExecuteStep(context.Background(), step)

	assert.True(t, res.Success)
}

func TestExecuteStep_CustomPredicate(t *testing.T) {
	stage := newFakeStage()
	stage.text = "ready"
	verifier := NewStepVerifier()
	verifier.RegisterPredicate("is_ready", func(obs Observation) bool { return obs.Text == "ready" })
	runner := newTestRunner(stage, WithVerifier(verifier))

	step := click("go")
	step.WaitFor = WaitCondition{Kind: WaitCustom, Predicate: "is_ready"}
	assert.True(t, runner.ExecuteStep(context.Background(), step).Success)
}

func TestExecuteStep_PanickingDispatcher(t *testing.T) {
	stage := newFakeStage()
	stage.panicOn = "boom"
	runner := newTestRunner(stage)

	step := click("boom")
	step.MaxRetries = retries(0)
	res := runner.ExecuteStep(context.Background(), step)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, ErrCollaboratorPanic)
	assert.ErrorIs(t, res.Error, trip.ErrActionDispatch)
	assert.Equal(t, int64(1), runner.Stats()["collaborator_panics"])
}

// TestExecuteStep_InterruptBypassesRetries tests that an interrupt during a
// failing dispatch ends the step without further attempts
func TestExecuteStep_InterruptBypassesRetries(t *testing.T) {
	stage := newFakeStage()
	stage.failFirst["save"] = 100
	runner := newTestRunner(stage)
	cfg := testConfig()
	cfg.Retry.Backoff = time.Hour
	cfg.Retry.MaxBackoff = time.Hour
	runner.config = cfg.normalize()
	stage.onDispatch = func(string) { runner.GracefulInterrupt("user pressed ctrl-c") }

	start := time.Now()
	res := runner.ExecuteStep(context.Background(), click("save"))

	assert.Less(t, time.Since(start), time.Minute, "backoff sleep returns early")
	assert.True(t, res.Interrupted)
	assert.ErrorIs(t, res.Error, trip.ErrInterrupted)
	assert.Equal(t, 1, stage.count("save"))
}

// TestExecuteStep_InterruptDuringConditionWait tests that a pending text wait
// returns as soon as the runner is interrupted
func TestExecuteStep_InterruptDuringConditionWait(t *testing.T) {
	stage := newFakeStage()
	cfg := testConfig()
	cfg.WaitTimeout = 10 * time.Second
	runner := newTestRunner(stage, WithConfig(cfg))

	step := click("search")
	step.WaitFor = WaitCondition{Kind: WaitTextAppears, Text: "never shown", Timeout: 10 * time.Second}
	time.AfterFunc(50*time.Millisecond, func() { runner.GracefulInterrupt("stop requested") })

	start := time.Now()
	res := runner.ExecuteStep(context.Background(), step)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Interrupted)
	assert.ErrorIs(t, res.Error, trip.ErrInterrupted)
	assert.Equal(t, 1, stage.count("search"))
}

// TestExecuteStep_InterruptDuringStabilityWait tests that polling a sample
// source that never settles returns as soon as the runner is interrupted
func TestExecuteStep_InterruptDuringStabilityWait(t *testing.T) {
	stage := newFakeStage()
	cfg := testConfig()
	cfg.WaitTimeout = 10 * time.Second
	cfg.StabilityTimeout = 10 * time.Second

	dark := image.NewRGBA(image.Rect(0, 0, 8, 8))
	light := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			light.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	var mu sync.Mutex
	flip := false
	src := stability.SampleSourceFunc(func(context.Context) (image.Image, error) {
		mu.Lock()
		defer mu.Unlock()
		flip = !flip
		if flip {
			return light, nil
		}
		return dark, nil
	})

	runner := newTestRunner(stage,
		WithConfig(cfg),
		WithSampleSource(src),
		WithStability(stability.Config{Interval: time.Millisecond, Timeout: 10 * time.Second}))

	step := click("spinner")
	step.WaitFor = WaitCondition{Kind: WaitElementStable, Timeout: 10 * time.Second}
	time.AfterFunc(50*time.Millisecond, func() { runner.GracefulInterrupt("stop requested") })

	start := time.Now()
	res := runner.ExecuteStep(context.Background(), step)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Interrupted)
	assert.ErrorIs(t, res.Error, trip.ErrInterrupted)
	assert.Equal(t, 1, stage.count("spinner"))
}

// TestExecuteDemo_InterruptAfterSecondStep tests that no step starts after an interrupt
func TestExecuteDemo_InterruptAfterSecondStep(t *testing.T) {
	stage := newFakeStage()
	runner := newTestRunner(stage)
	stage.onDispatch = func(key string) {
		if key == "s2" {
			runner.GracefulInterrupt("stop requested")
		}
	}

	demo := Demo{Name: "five", Scenes: []Scene{
		scene("walkthrough", click("s1"), click("s2"), click("s3"), click("s4"), click("s5")),
	}}
	result := runner.ExecuteDemo(context.Background(), demo)

	assert.Equal(t, []string{"s1", "s2"}, stage.dispatched())
	assert.False(t, result.Success)
	assert.True(t, result.Interrupted)
	assert.Equal(t, "stop requested", result.InterruptReason)
	require.Len(t, result.Scenes, 1)
	assert.True(t, result.Scenes[0].Interrupted)
	assert.False(t, result.Scenes[0].Success)
	assert.Equal(t, 2, result.Scenes[0].StepsCompleted)
	assert.Equal(t, 5, result.Scenes[0].StepsTotal)
	assert.Equal(t, StateStopped, runner.State())
	assert.True(t, result.State.Interrupted)
}

// TestExecuteDemo_RetriesThenSucceeds tests the two-scene end-to-end run
func TestExecuteDemo_RetriesThenSucceeds(t *testing.T) {
	stage := newFakeStage()
	stage.failFirst["flaky"] = 2
	runner := newTestRunner(stage)

	demo := Demo{Name: "e2e", Scenes: []Scene{
		scene("one", click("flaky")),
		scene("two", click("a"), click("b")),
	}}
	result := runner.ExecuteDemo(context.Background(), demo)

	require.True(t, result.Success, result.TripReport)
	assert.Equal(t, 2, result.ScenesCompleted)
	assert.Equal(t, 2, result.Scenes[0].RetriesUsed)
	assert.Equal(t, 3, result.Scenes[0].Steps[0].Attempts)
	assert.Equal(t, 0, result.Scenes[1].RetriesUsed)
	assert.Equal(t, []string{"flaky", "flaky", "flaky", "a", "b"}, stage.dispatched())
	assert.Equal(t, 2, result.State.Retries[StepKey{Scene: 0, Step: 0}])
	assert.Equal(t, StateCompleted, runner.State())
	assert.NotEmpty(t, result.RunID)
}

func TestExecuteDemo_AbortPolicy(t *testing.T) {
	stage := newFakeStage()
	stage.failFirst["broken"] = 100
	runner := newTestRunner(stage)

	demo := Demo{Scenes: []Scene{
		scene("intro", click("ok")),
		scene("fails", click("before"), click("broken")),
		scene("never", click("unreached")),
	}}
	result := runner.ExecuteDemo(context.Background(), demo)

	assert.False(t, result.Success)
	assert.Len(t, result.Scenes, 2, "partial progress is kept")
	assert.Equal(t, 1, result.ScenesCompleted)
	assert.Zero(t, stage.count("unreached"))

	require.NotNil(t, result.Error)
	assert.ErrorIs(t, result.Error, trip.ErrFatalScene)
	assert.ErrorIs(t, result.Error, trip.ErrActionDispatch)
	require.NotNil(t, result.FirstFailure)
	assert.Equal(t, 1, result.FirstFailure.Scene)
	assert.Equal(t, 1, result.FirstFailure.Step)
	assert.Equal(t, StateFailed, runner.State())
}

func TestExecuteDemo_SkipPolicy(t *testing.T) {
	stage := newFakeStage()
	stage.failFirst["broken"] = 100
	runner := newTestRunner(stage)

	skipped := scene("optional", click("broken"))
	skipped.OnFailure = PolicySkip
	demo := Demo{Scenes: []Scene{skipped, scene("main", click("ok"))}}

	result := runner.ExecuteDemo(context.Background(), demo)

	assert.True(t, result.Success)
	require.Len(t, result.Scenes, 2)
	assert.True(t, result.Scenes[0].Skipped)
	assert.False(t, result.Scenes[0].Success)
	assert.True(t, result.Scenes[1].Success)
	assert.Equal(t, 1, result.ScenesCompleted)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "optional")
}

func TestExecuteDemo_RetryPolicy(t *testing.T) {
	t.Run("second attempt succeeds", func(t *testing.T) {
		stage := newFakeStage()
		stage.failFirst["warmup"] = 1
		runner := newTestRunner(stage)

		step := click("warmup")
		step.MaxRetries = retries(0)
		sc := scene("cold start", click("open"), step)
		sc.OnFailure = PolicyRetry

		result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{sc}})

		assert.True(t, result.Success)
		assert.Equal(t, 2, result.Scenes[0].Attempts)
		assert.Equal(t, 2, stage.count("open"), "the whole scene is re-run")
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		stage := newFakeStage()
		stage.failFirst["warmup"] = 100
		runner := newTestRunner(stage)

		step := click("warmup")
		step.MaxRetries = retries(0)
		sc := scene("cold start", step)
		sc.OnFailure = PolicyRetry
		sc.MaxAttempts = 3

		result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{sc}})

		assert.False(t, result.Success)
		assert.Equal(t, 3, stage.count("warmup"))
		assert.ErrorIs(t, result.Error, trip.ErrFatalScene)
		assert.Equal(t, 3, result.Scenes[0].Attempts)
	})
}

func drain(ch <-chan Event) []EventType {
	var types []EventType
	for ev := range ch {
		types = append(types, ev.Type)
	}
	return types
}

// TestExecuteDemo_EventOrder tests the progress events of a passing demo
func TestExecuteDemo_EventOrder(t *testing.T) {
	stage := newFakeStage()
	runner := newTestRunner(stage)
	events, unsubscribe := runner.Subscribe(64)

	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{scene("only", click("a"), click("b"))}})
	require.True(t, result.Success)
	unsubscribe()

	assert.Equal(t, []EventType{
		EventDemoStart,
		EventSceneStart,
		EventStepStart, EventStepComplete,
		EventStepStart, EventStepComplete,
		EventSceneComplete,
		EventDemoComplete,
	}, drain(events))
}

func TestExecuteDemo_EventsOnFailure(t *testing.T) {
	stage := newFakeStage()
	stage.failFirst["x"] = 100
	runner := newTestRunner(stage)
	events, unsubscribe := runner.Subscribe(64)

	step := click("x")
	step.MaxRetries = retries(0)
	runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{scene("bad", step)}})
	unsubscribe()

	var last Event
	var types []EventType
	for ev := range events {
		types = append(types, ev.Type)
		last = ev
	}
	assert.Equal(t, []EventType{
		EventDemoStart, EventSceneStart, EventStepStart, EventStepFailed, EventSceneFailed, EventDemoComplete,
	}, types)
	assert.False(t, last.Success)
	assert.NotEmpty(t, last.Error)
	assert.Equal(t, runner.RunID(), last.RunID)
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	stage := newFakeStage()
	runner := newTestRunner(stage)
	_, unsubscribe := runner.Subscribe(1)
	defer unsubscribe()

	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{scene("s", click("a"), click("b"))}})

	assert.True(t, result.Success)
	assert.True(t, runner.HasDroppedEvents())
	stats := runner.Stats()
	assert.Equal(t, int64(8), stats["events_emitted"])
	assert.Equal(t, int64(1), stats["events_delivered"])
	assert.Equal(t, int64(7), stats["events_dropped"])
}

type countingReleaser struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingReleaser) ReleaseInputs(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func TestSceneCleanup_RunsOnEveryExit(t *testing.T) {
	stage := newFakeStage()
	stage.failFirst["broken"] = 100
	releaser := &countingReleaser{}
	runner := newTestRunner(stage, WithInputReleaser(releaser))

	skip := scene("skip me", click("broken"))
	skip.OnFailure = PolicySkip
	stage.onDispatch = func(key string) {
		if key == "last" {
			runner.GracefulInterrupt("done watching")
		}
	}
	demo := Demo{Scenes: []Scene{
		scene("ok", click("a")),
		skip,
		scene("interrupted", click("last"), click("never")),
	}}
	runner.ExecuteDemo(context.Background(), demo)

	assert.Equal(t, 3, releaser.calls)
}

func TestSceneCleanup_FailureIsWarning(t *testing.T) {
	stage := newFakeStage()
	releaser := &countingReleaser{err: errors.New("xdotool missing")}
	runner := newTestRunner(stage, WithInputReleaser(releaser))

	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{scene("s", click("a"))}})

	assert.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "xdotool missing")
	assert.Len(t, runner.Stumbles(), 1)
}

type fakeRecorder struct {
	started, stopped bool
	startErr         error
}

func (f *fakeRecorder) Start(context.Context) error {
	f.started = true
	return f.startErr
}

func (f *fakeRecorder) Stop(context.Context) (string, error) {
	f.stopped = true
	return "/tmp/demo.mp4", nil
}

func TestRecorder_KeepsPartialRecording(t *testing.T) {
	stage := newFakeStage()
	stage.failFirst["broken"] = 100
	rec := &fakeRecorder{}
	runner := newTestRunner(stage, WithRecorder(rec))

	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{scene("s", click("broken"))}})

	assert.False(t, result.Success)
	assert.True(t, rec.started)
	assert.True(t, rec.stopped)
	assert.Equal(t, "/tmp/demo.mp4", result.VideoPath)
}

func TestRecorder_StartFailureIsWarning(t *testing.T) {
	stage := newFakeStage()
	rec := &fakeRecorder{startErr: errors.New("ffmpeg not found")}
	runner := newTestRunner(stage, WithRecorder(rec))

	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{scene("s", click("a"))}})

	assert.True(t, result.Success)
	assert.False(t, rec.stopped)
	assert.Empty(t, result.VideoPath)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "ffmpeg not found")
}

func TestRunner_SingleUse(t *testing.T) {
	stage := newFakeStage()
	runner := newTestRunner(stage)
	demo := Demo{Scenes: []Scene{scene("s", click("a"))}}

	require.True(t, runner.ExecuteDemo(context.Background(), demo).Success)
	second := runner.ExecuteDemo(context.Background(), demo)

	assert.False(t, second.Success)
	require.NotNil(t, second.Error)
	assert.Contains(t, second.Error.Message, "completed")
	assert.Equal(t, 1, stage.count("a"))
}

func TestRegisterCancellationSource(t *testing.T) {
	stage := newFakeStage()
	runner := newTestRunner(stage)

	src, cancel := context.WithCancel(context.Background())
	detach := runner.RegisterCancellationSource(src, "SIGINT")
	defer detach()

	stage.onDispatch = func(key string) {
		if key == "a" {
			cancel()
		}
	}
	step := click("b")
	step.WaitFor = WaitCondition{Kind: WaitTextAppears, Text: "never", Timeout: time.Hour}

	start := time.Now()
	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{scene("s", click("a"), step, click("c"))}})

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, result.Interrupted)
	assert.Equal(t, "SIGINT", result.InterruptReason)
	assert.Zero(t, stage.count("c"))
}

func TestGracefulInterrupt_FirstReasonWins(t *testing.T) {
	runner := newTestRunner(newFakeStage())

	assert.True(t, runner.GracefulInterrupt("first"))
	assert.False(t, runner.GracefulInterrupt("second"))
	assert.Equal(t, "first", runner.InterruptReason())
	assert.True(t, runner.Interrupted())
	assert.Equal(t, StateIdle, runner.State(), "idle runners only move on ExecuteDemo")

	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{scene("s", click("a"))}})
	assert.True(t, result.Interrupted)
	assert.Empty(t, result.Scenes)
	assert.Equal(t, StateStopped, runner.State())
}

// scriptedPlanner plans n steps toward its goal.
type scriptedPlanner struct {
	steps   int
	decided int
	goals   []string
}

func (p *scriptedPlanner) PlanScene(_ context.Context, goal string, _ Observation) (Step, error) {
	p.goals = append(p.goals, goal)
	return click("planned-0"), nil
}

func (p *scriptedPlanner) DecideNextAction(_ context.Context, _ Observation, _ string) (Step, bool, error) {
	p.decided++
	if p.decided >= p.steps {
		return Step{}, true, nil
	}
	return click("planned-" + strings.Repeat("x", p.decided)), false, nil
}

func TestExecuteDemo_PlannedScene(t *testing.T) {
	stage := newFakeStage()
	planner := &scriptedPlanner{steps: 3}
	runner := newTestRunner(stage, WithPlanner(planner))

	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{{Name: "explore", Goal: "open settings"}}})

	require.True(t, result.Success, result.TripReport)
	assert.Equal(t, []string{"open settings"}, planner.goals)
	assert.Equal(t, []string{"planned-0", "planned-x", "planned-xx"}, stage.dispatched())
	assert.Equal(t, 3, result.Scenes[0].StepsCompleted)
}

func TestExecuteDemo_PlannedSceneBounded(t *testing.T) {
	stage := newFakeStage()
	planner := &scriptedPlanner{steps: 1000}
	runner := newTestRunner(stage, WithPlanner(planner))

	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{{Name: "endless", Goal: "reach the end"}}})

	assert.False(t, result.Success)
	assert.Len(t, stage.dispatched(), testConfig().MaxPlannedSteps)
	assert.ErrorIs(t, result.Error, trip.ErrFatalScene)
	assert.ErrorIs(t, result.Error, trip.ErrVerificationTimeout)
}

// stuckPage never moves the element, so framing hits the iteration cap.
type stuckPage struct{}

func (stuckPage) ScrollBy(context.Context, float64) error { return nil }

func (stuckPage) Locate(context.Context, string) (framing.ElementBounds, framing.Viewport, error) {
	return framing.ElementBounds{Y: 400, Height: 100}, framing.Viewport{Height: 800}, nil
}

func TestExecuteStep_FramingBestEffortIsWarning(t *testing.T) {
	stage := newFakeStage()
	runner := newTestRunner(stage, WithFraming(stuckPage{}, stuckPage{}, framing.WithLogger(quietLogger())))

	step := click("pricing")
	step.Framing = &FramingGoal{TargetID: "#pricing", Alignment: framing.AlignTop, Tolerance: 10}
	res := runner.ExecuteStep(context.Background(), step)

	assert.True(t, res.Success)
	require.NotNil(t, res.Framing)
	assert.Equal(t, framing.IterationCap, res.Framing.Outcome)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "#pricing")

	stumbles := runner.Stumbles()
	require.Len(t, stumbles, 1)
	assert.ErrorIs(t, stumbles[0], trip.ErrFramingConvergence)
}

func TestJourneySteps(t *testing.T) {
	rule := framing.Rule{Alignment: framing.AlignTop, Margin: 50, Tolerance: 30}
	journey := waypoint.Seal([]waypoint.Waypoint{
		{Name: "hero", TargetID: "#hero", Offset: 0, Rule: &rule, Pause: 2 * time.Second, ScrollDuration: 500 * time.Millisecond},
		{Name: "return_to_top", Offset: 0, ScrollDuration: 1500 * time.Millisecond},
	})

	steps := JourneySteps(journey)
	require.Len(t, steps, 2)

	assert.Equal(t, ActionScrollTo, steps[0].Action.Kind)
	assert.Equal(t, "#hero", steps[0].Action.Target.Selector)
	assert.Equal(t, "0", steps[0].Action.Param("y", ""))
	assert.Equal(t, "500ms", steps[0].Action.Param("duration", ""))
	require.NotNil(t, steps[0].Framing)
	assert.Equal(t, "#hero", steps[0].Framing.TargetID)
	assert.Equal(t, WaitCondition{Kind: WaitTimeoutElapsed, Duration: 2 * time.Second}, steps[0].WaitFor)

	assert.Nil(t, steps[1].Framing)
	assert.Equal(t, WaitNone, steps[1].WaitFor.Kind)
	assert.Equal(t, 2, journey.Remaining(), "expansion does not consume the journey")
}
