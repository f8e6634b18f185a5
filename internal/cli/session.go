package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teranos/showrunner"
	"github.com/teranos/showrunner/framing"
	"github.com/teranos/showrunner/internal/config"
	"github.com/teranos/showrunner/internal/plan"
	"github.com/teranos/showrunner/operators/browser"
	"github.com/teranos/showrunner/operators/terminal"
	"github.com/teranos/showrunner/stability"
	"github.com/teranos/showrunner/waypoint"
)

// session is a started operator ready to be driven by a Runner.
type session struct {
	dispatcher *showrunner.HandlerDispatcher
	sensor     showrunner.Sensor
	samples    stability.SampleSource
	options    []showrunner.Option
	close      func()
}

func openSession(ctx context.Context, p *plan.Plan, cfg *config.Config, logger *slog.Logger) (*session, error) {
	switch p.Operator {
	case plan.OperatorBrowser:
		return openBrowser(ctx, p, cfg, logger)
	default:
		return openTerminal(ctx, p, cfg, logger)
	}
}

// openTerminal runs the built-in shell on a terminal stage. Plan width and
// height are columns and rows.
func openTerminal(ctx context.Context, p *plan.Plan, cfg *config.Config, logger *slog.Logger) (*session, error) {
	tcfg := cfg.Terminal
	if p.Width > 0 {
		tcfg.Columns = p.Width
	}
	if p.Height > 0 {
		tcfg.Rows = p.Height
	}

	stage := terminal.NewStage(terminal.NewShell(p.Dir), tcfg, logger)
	if err := stage.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting terminal: %w", err)
	}
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stage.Stop(ctx); err != nil {
			logger.Warn("terminal did not stop cleanly", slog.String("error", err.Error()))
		}
	}

	op := terminal.NewOperator(stage, terminal.RenderConfig{Columns: tcfg.Columns, Rows: tcfg.Rows})
	d := showrunner.NewHandlerDispatcher()
	if err := op.Register(d); err != nil {
		stop()
		return nil, err
	}

	v := showrunner.NewStepVerifier()
	conditions := append(append([]string(nil), terminal.ShellConditions...), p.Conditions...)
	op.RegisterConditions(v, conditions...)
	terminal.RegisterModePredicate(v, terminal.ModeInput, terminal.ModeRunning)

	return &session{
		dispatcher: d,
		sensor:     op,
		samples:    op,
		options: []showrunner.Option{
			showrunner.WithVerifier(v),
			showrunner.WithSampleSource(op),
			showrunner.WithInputReleaser(op),
		},
		close: stop,
	}, nil
}

// openBrowser launches Chrome on the plan's URL. Goal-only scenes become
// scroll tours of the page.
func openBrowser(ctx context.Context, p *plan.Plan, cfg *config.Config, logger *slog.Logger) (*session, error) {
	bcfg := cfg.Browser
	if p.Width > 0 {
		bcfg.Width = p.Width
	}
	if p.Height > 0 {
		bcfg.Height = p.Height
	}

	b, err := browser.New(ctx, bcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("starting browser: %w", err)
	}
	d := showrunner.NewHandlerDispatcher()
	if err := b.Register(d); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.Navigate(ctx, p.URL); err != nil {
		b.Close()
		return nil, err
	}

	tours := showrunner.NewTourPlanner(b, newWaypointPlanner(bcfg, logger), logger)
	framingOpts := append(cfg.FramingOptions(), framing.WithLogger(logger))

	return &session{
		dispatcher: d,
		sensor:     b,
		samples:    b,
		options: []showrunner.Option{
			showrunner.WithVerifier(showrunner.NewStepVerifier()),
			showrunner.WithFraming(b, b, framingOpts...),
			showrunner.WithSampleSource(b),
			showrunner.WithInputReleaser(b),
			showrunner.WithPlanner(tours),
		},
		close: b.Close,
	}, nil
}

func newWaypointPlanner(bcfg browser.Config, logger *slog.Logger) *waypoint.Planner {
	return waypoint.NewPlanner(
		waypoint.WithViewportHeight(float64(bcfg.Height)),
		waypoint.WithLogger(logger),
	)
}
