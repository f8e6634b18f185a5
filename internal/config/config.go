// Package config loads showrunner settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/teranos/showrunner"
	"github.com/teranos/showrunner/framing"
	"github.com/teranos/showrunner/operators/browser"
	"github.com/teranos/showrunner/operators/terminal"
	"github.com/teranos/showrunner/stability"
	"github.com/teranos/showrunner/trip"
)

// Config is the complete showrunner configuration.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Runner    RunnerConfig     `yaml:"runner"`
	Stability stability.Config `yaml:"stability"`
	Framing   FramingConfig    `yaml:"framing"`
	Terminal  terminal.Config  `yaml:"terminal"`
	Browser   browser.Config   `yaml:"browser"`
	Report    ReportConfig     `yaml:"report"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"SHOWRUNNER_LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	Format string `yaml:"format" env:"SHOWRUNNER_LOG_FORMAT" env-default:"text" env-description:"text or json"`
	Output string `yaml:"output" env:"SHOWRUNNER_LOG_OUTPUT" env-default:"stderr" env-description:"stderr or stdout"`
}

// RunnerConfig mirrors showrunner.RunnerConfig with file and env bindings.
type RunnerConfig struct {
	ActionTimeout    time.Duration    `yaml:"action_timeout" env:"SHOWRUNNER_ACTION_TIMEOUT" env-default:"30s"`
	ObserveTimeout   time.Duration    `yaml:"observe_timeout" env-default:"10s"`
	WaitTimeout      time.Duration    `yaml:"wait_timeout" env:"SHOWRUNNER_WAIT_TIMEOUT" env-default:"30s"`
	PollInterval     time.Duration    `yaml:"poll_interval" env-default:"500ms"`
	StabilityTimeout time.Duration    `yaml:"stability_timeout" env-default:"5s"`
	Retry            trip.RetryConfig `yaml:"retry"`
	SceneAttempts    int              `yaml:"scene_attempts" env-default:"2"`
	MaxPlannedSteps  int              `yaml:"max_planned_steps" env-default:"20"`
	CleanupTimeout   time.Duration    `yaml:"cleanup_timeout" env-default:"5s"`
	SceneSettle      time.Duration    `yaml:"scene_settle" env-default:"200ms"`
}

// FramingConfig tunes the AutoScroller.
type FramingConfig struct {
	MaxIterations int     `yaml:"max_iterations" env-default:"5"`
	MinAdjustment float64 `yaml:"min_adjustment" env-default:"5"`
}

// ReportConfig controls run artifacts.
type ReportConfig struct {
	Dir string `yaml:"dir" env:"SHOWRUNNER_REPORT_DIR" env-default:"showrunner-reports" env-description:"directory for run reports"`
	// Record captures changed frames while the demo runs
	Record        bool          `yaml:"record" env:"SHOWRUNNER_RECORD"`
	FrameInterval time.Duration `yaml:"frame_interval" env-default:"100ms"`
	// MaxFrames bounds how many recorded frames are embedded in the report
	MaxFrames int `yaml:"max_frames" env-default:"60"`
	// Baselines enables visual comparison of every observed step against a
	// directory of PNGs, or a SQLite catalog when the path ends in .db
	Baselines string  `yaml:"baselines" env:"SHOWRUNNER_BASELINES" env-description:"baseline directory, or a .db file for a SQLite catalog"`
	Tolerance float64 `yaml:"tolerance" env-default:"0.05"`
}

// BaselineCatalog reports whether baselines live in a SQLite catalog.
func (r ReportConfig) BaselineCatalog() bool {
	return strings.EqualFold(filepath.Ext(r.Baselines), ".db")
}

// Default returns the built-in configuration.
func Default() *Config {
	r := showrunner.DefaultRunnerConfig()
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Runner: RunnerConfig{
			ActionTimeout:    r.ActionTimeout,
			ObserveTimeout:   r.ObserveTimeout,
			WaitTimeout:      r.WaitTimeout,
			PollInterval:     r.PollInterval,
			StabilityTimeout: r.StabilityTimeout,
			Retry:            r.Retry,
			SceneAttempts:    r.SceneAttempts,
			MaxPlannedSteps:  r.MaxPlannedSteps,
			CleanupTimeout:   r.CleanupTimeout,
			SceneSettle:      r.SceneSettle,
		},
		Stability: stability.DefaultConfig(),
		Framing:   FramingConfig{MaxIterations: framing.DefaultMaxIterations, MinAdjustment: framing.DefaultMinAdjustment},
		Terminal:  terminal.DefaultConfig(),
		Browser:   browser.DefaultConfig(),
		Report: ReportConfig{
			Dir:           "showrunner-reports",
			FrameInterval: 100 * time.Millisecond,
			MaxFrames:     60,
			Tolerance:     0.05,
		},
	}
}

// Load reads path (YAML) on top of the defaults, then applies environment
// overrides. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("reading environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}
	if c.Runner.ActionTimeout <= 0 {
		errs = append(errs, "runner.action_timeout must be positive")
	}
	if c.Runner.WaitTimeout <= 0 {
		errs = append(errs, "runner.wait_timeout must be positive")
	}
	if c.Runner.Retry.MaxRetries < 0 {
		errs = append(errs, "runner.retry.max_retries must not be negative")
	}
	if c.Stability.Threshold < 0 || c.Stability.Threshold > 1 {
		errs = append(errs, "stability.threshold must be between 0 and 1")
	}
	if c.Framing.MaxIterations < 0 {
		errs = append(errs, "framing.max_iterations must not be negative")
	}
	if c.Terminal.Columns <= 0 || c.Terminal.Rows <= 0 {
		errs = append(errs, "terminal.columns and terminal.rows must be positive")
	}
	if c.Report.Tolerance < 0 || c.Report.Tolerance > 1 {
		errs = append(errs, "report.tolerance must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RunnerConfig converts to the runner's own configuration.
func (c *Config) RunnerConfig() showrunner.RunnerConfig {
	return showrunner.RunnerConfig{
		ActionTimeout:    c.Runner.ActionTimeout,
		ObserveTimeout:   c.Runner.ObserveTimeout,
		WaitTimeout:      c.Runner.WaitTimeout,
		PollInterval:     c.Runner.PollInterval,
		StabilityTimeout: c.Runner.StabilityTimeout,
		Retry:            c.Runner.Retry,
		SceneAttempts:    c.Runner.SceneAttempts,
		MaxPlannedSteps:  c.Runner.MaxPlannedSteps,
		CleanupTimeout:   c.Runner.CleanupTimeout,
		SceneSettle:      c.Runner.SceneSettle,
	}
}

// FramingOptions converts to AutoScroller options.
func (c *Config) FramingOptions() []framing.Option {
	return []framing.Option{
		framing.WithMaxIterations(c.Framing.MaxIterations),
		framing.WithMinAdjustment(c.Framing.MinAdjustment),
	}
}

// EnvHelp lists the recognised environment variables.
func EnvHelp() (string, error) {
	header := "Environment variables:"
	return cleanenv.GetDescription(Default(), &header)
}
