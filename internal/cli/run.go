package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/showrunner"
	"github.com/teranos/showrunner/internal/config"
	"github.com/teranos/showrunner/internal/plan"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	NoReport        bool
	Record          bool
	UpdateBaselines bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Run a demo plan",
		Long: `Run a demo plan against its operator and write a report.

The first SIGINT or SIGTERM stops the demo gracefully: an action already in
flight finishes, pending waits and retry sleeps return early, no further step
starts, the scene cleans up and the partial result is reported.

Example:
  showrunner run demos/checkout.yaml
  showrunner run --record --update-baselines demos/cli-tour.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.NoReport, "no-report", false, "skip the HTML report and dashboard")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "record changed frames (overrides report.record)")
	cmd.Flags().BoolVar(&opts.UpdateBaselines, "update-baselines", false, "store missing visual baselines instead of reporting them")

	return cmd
}

func runDemo(cmd *cobra.Command, opts *RunOptions, path string) error {
	cfg, logger := opts.settings(), opts.logger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := plan.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load plan", err)
	}
	demo, err := p.Demo()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build demo", err)
	}

	sess, err := openSession(ctx, p, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start "+p.Operator+" operator", err)
	}
	defer sess.close()

	start := time.Now()
	reportDir := showrunner.ReportDir(cfg.Report.Dir, demo.Name, start)

	runnerOpts := append([]showrunner.Option{
		showrunner.WithConfig(cfg.RunnerConfig()),
		showrunner.WithLogger(logger),
		showrunner.WithStability(cfg.Stability),
	}, sess.options...)

	var recorder *showrunner.FrameRecorder
	if opts.Record || cfg.Report.Record {
		recorder = showrunner.NewFrameRecorder(sess.samples, filepath.Join(reportDir, "frames"),
			showrunner.WithFrameInterval(cfg.Report.FrameInterval),
			showrunner.WithRecorderLogger(logger))
		runnerOpts = append(runnerOpts, showrunner.WithRecorder(recorder))
	}

	runner := showrunner.NewRunner(sess.dispatcher, sess.sensor, runnerOpts...)

	events, unsubscribe := runner.Subscribe(64)
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		for ev := range events {
			logEvent(logger, ev)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	release := runner.RegisterCancellationSource(sigCtx, "received interrupt signal")

	logger.Info("running demo",
		slog.String("plan", path),
		slog.String("operator", p.Operator),
		slog.Int("scenes", len(demo.Scenes)))
	result := runner.ExecuteDemo(ctx, demo)

	release()
	unsubscribe()
	<-logged

	if err := showrunner.WriteSummary(cmd.OutOrStdout(), result); err != nil {
		return WrapExitError(ExitCommandError, "failed to write summary", err)
	}

	regressions := reviewBaselines(ctx, cfg, opts.UpdateBaselines, result, reportDir, logger)

	if !opts.NoReport {
		reportPath := writeReport(cfg, p, runner, result, recorder, reportDir, logger)
		if reportPath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", reportPath)
		}
	}

	switch {
	case result.Interrupted:
		return NewExitError(ExitInterrupted, "demo interrupted: "+result.InterruptReason)
	case !result.Success && result.Error != nil:
		return WrapExitError(ExitFailure, "demo failed", result.Error)
	case !result.Success:
		return NewExitError(ExitFailure, "demo failed")
	case regressions > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d visual regression(s)", regressions))
	}
	return nil
}

func logEvent(logger *slog.Logger, ev showrunner.Event) {
	attrs := []any{
		slog.String("event", string(ev.Type)),
		slog.Int("scene", ev.SceneIndex),
	}
	if ev.SceneName != "" {
		attrs = append(attrs, slog.String("scene_name", ev.SceneName))
	}
	switch ev.Type {
	case showrunner.EventStepStart, showrunner.EventStepComplete, showrunner.EventStepFailed:
		attrs = append(attrs, slog.Int("step", ev.StepIndex), slog.Int("attempt", ev.Attempt))
	}
	if ev.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", ev.Duration))
	}
	if ev.Error != "" {
		attrs = append(attrs, slog.String("error", ev.Error))
		logger.Warn("demo progress", attrs...)
		return
	}
	logger.Debug("demo progress", attrs...)
}

// reviewBaselines returns the number of shots that drifted from their
// baseline. Review problems are logged, never fatal.
func reviewBaselines(ctx context.Context, cfg *config.Config, update bool, result showrunner.DemoResult, reportDir string, logger *slog.Logger) int {
	store, closeStore, err := openBaselines(cfg)
	if err != nil {
		logger.Error("failed to open baselines", slog.String("error", err.Error()))
		return 0
	}
	if store == nil {
		return 0
	}
	defer closeStore()

	supervisor := showrunner.NewScriptSupervisor(store, filepath.Join(reportDir, "diffs"), logger).
		WithTolerance(cfg.Report.Tolerance)
	// an interrupted run still gets its finished shots checked
	shots, err := supervisor.Review(context.WithoutCancel(ctx), result, update)
	if err != nil {
		logger.Error("baseline review failed", slog.String("error", err.Error()))
	}
	regressions := 0
	for _, shot := range shots {
		if !shot.Passed && !shot.Missing {
			regressions++
		}
	}
	return regressions
}

func writeReport(cfg *config.Config, p *plan.Plan, runner *showrunner.Runner, result showrunner.DemoResult,
	recorder *showrunner.FrameRecorder, reportDir string, logger *slog.Logger) string {
	report := showrunner.NewRunReport(result, runner.Stats())
	report.Metadata["operator"] = p.Operator
	if p.URL != "" {
		report.Metadata["url"] = p.URL
	}
	if recorder != nil {
		if err := report.AttachFrames(recorder.Frames(), cfg.Report.MaxFrames); err != nil {
			logger.Warn("failed to attach recorded frames", slog.String("error", err.Error()))
		}
	}

	path, err := showrunner.NewHTMLReportGenerator(reportDir).GenerateReport(report)
	if err != nil {
		logger.Error("failed to write report", slog.String("error", err.Error()))
		return ""
	}
	if _, err := showrunner.GenerateDashboard(cfg.Report.Dir, logger); err != nil {
		logger.Warn("failed to update dashboard", slog.String("error", err.Error()))
	}
	return path
}
