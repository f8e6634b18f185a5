// Package browser drives a Chrome tab through chromedp so a showrunner Runner
// can demo web pages.
//
// A Browser is at once the action dispatcher backend, the Sensor, the
// framing Actuator and Locator, a waypoint RegionProvider and the
// InputReleaser:
//
//	b, err := browser.New(ctx, browser.DefaultConfig(), logger)
//	if err != nil {
//		return err
//	}
//	defer b.Close()
//
//	d := showrunner.NewHandlerDispatcher()
//	b.Register(d)
//	runner := showrunner.NewRunner(d, b,
//		showrunner.WithFraming(b, b),
//		showrunner.WithSampleSource(b),
//		showrunner.WithInputReleaser(b),
//	)
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// Config configures the browser session.
type Config struct {
	Width  int `yaml:"width" env:"BROWSER_WIDTH" env-default:"1280"`
	Height int `yaml:"height" env:"BROWSER_HEIGHT" env-default:"720"`
	// Headless is ignored when RemoteURL is set
	Headless  bool   `yaml:"headless" env:"BROWSER_HEADLESS"`
	UserAgent string `yaml:"user_agent" env:"BROWSER_USER_AGENT"`
	// RemoteURL attaches to a running Chrome (ws://...) instead of launching one
	RemoteURL string `yaml:"remote_url" env:"BROWSER_REMOTE_URL"`
	// PageLoadWait is slept after every navigation
	PageLoadWait time.Duration `yaml:"page_load_wait" env:"BROWSER_PAGE_LOAD_WAIT" env-default:"2s"`
	// MinSectionHeight filters out tiny regions during section detection
	MinSectionHeight float64 `yaml:"min_section_height" env-default:"50"`
}

// DefaultConfig is a headless 1280x720 desktop.
func DefaultConfig() Config {
	return Config{
		Width:            1280,
		Height:           720,
		Headless:         true,
		PageLoadWait:     2 * time.Second,
		MinSectionHeight: 50,
	}
}

// Browser owns one tab.
type Browser struct {
	config Config
	logger *slog.Logger

	cancelAlloc context.CancelFunc
	tab         context.Context
	cancelTab   context.CancelFunc

	pointer pointer
}

// New launches (or attaches to) Chrome and opens a tab. The browser outlives
// ctx; only Close ends it.
func New(ctx context.Context, config Config, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if config.Width <= 0 || config.Height <= 0 {
		config.Width, config.Height = d.Width, d.Height
	}
	if config.MinSectionHeight <= 0 {
		config.MinSectionHeight = d.MinSectionHeight
	}

	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if config.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), config.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", config.Headless),
			chromedp.WindowSize(config.Width, config.Height),
		)
		if config.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(config.UserAgent))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	b := &Browser{
		config:      config,
		logger:      logger.With(slog.String("component", "browser")),
		cancelAlloc: cancelAlloc,
	}
	b.tab, b.cancelTab = chromedp.NewContext(allocCtx)

	// The first Run allocates the browser and ties it to the context it gets,
	// so it must be the tab context itself rather than a derived one.
	if err := chromedp.Run(b.tab); err != nil {
		b.Close()
		return nil, fmt.Errorf("browser: allocate: %w", err)
	}

	err := b.run(ctx,
		chromedp.EmulateViewport(int64(config.Width), int64(config.Height)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, product, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
			if err != nil {
				b.logger.Warn("failed to get chrome version", slog.String("error", err.Error()))
				return nil
			}
			b.logger.Debug("browser started", slog.String("product", product))
			return nil
		}),
	)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("browser: start: %w", err)
	}
	return b, nil
}

// Close closes the tab and the browser.
func (b *Browser) Close() {
	b.cancelTab()
	b.cancelAlloc()
}

// run executes actions on the tab, cancelled when ctx is done.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
