// Package terminal runs a BubbleTea program headlessly so a showrunner Runner
// can demo it.
//
// Key input is injected as tea messages, the rendered view is the
// observation, and views are rasterized into frames for recording and
// stability checks.
//
// Basic usage:
//
//	stage := terminal.NewStage(model, terminal.DefaultConfig(), logger)
//	if err := stage.Start(ctx); err != nil {
//		return err
//	}
//	defer stage.Stop(context.Background())
//
//	op := terminal.NewOperator(stage, terminal.DefaultRenderConfig())
//	dispatcher := showrunner.NewHandlerDispatcher()
//	op.Register(dispatcher)
//	runner := showrunner.NewRunner(dispatcher, op, showrunner.WithSampleSource(op))
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	ErrNotStarted = errors.New("terminal: stage not started")
	ErrStopped    = errors.New("terminal: program has exited")
)

// Model is a BubbleTea model that exposes enough state to be demoed.
//
// Example implementation:
//
//	func (m MyREPL) CurrentInput() string { return m.input }
//	func (m MyREPL) CurrentMode() string  { return m.mode.String() }
//	func (m MyREPL) CheckCondition(condition string) bool {
//		switch condition {
//		case "has_results":
//			return len(m.results) > 0
//		default:
//			return false
//		}
//	}
type Model interface {
	tea.Model
	// CurrentInput returns the current user input text
	CurrentInput() string
	// CurrentMode returns the current application mode as a string
	CurrentMode() string
	// CheckCondition allows custom wait conditions
	CheckCondition(condition string) bool
}

// Closeable models have Close called when the stage stops.
type Closeable interface {
	Close() error
}

// Config configures a Stage.
type Config struct {
	// Columns and Rows are sent to the program as its window size
	Columns int `yaml:"columns" env:"TERMINAL_COLUMNS" env-default:"80"`
	Rows    int `yaml:"rows" env:"TERMINAL_ROWS" env-default:"24"`
	// TypingSpeed is the delay between typed characters (0 = no delay)
	TypingSpeed time.Duration `yaml:"typing_speed" env:"TERMINAL_TYPING_SPEED" env-description:"delay between typed characters"`
	// SettleTimeout caps how long an injected message may take to show up in
	// the model. Running out is not an error; the view is read as is.
	SettleTimeout time.Duration `yaml:"settle_timeout" env-default:"1s"`
	// StartTimeout caps how long Start waits for the first view
	StartTimeout time.Duration `yaml:"start_timeout" env-default:"5s"`
	// BufferSize is the model update channel capacity
	BufferSize int `yaml:"buffer_size" env-default:"50"`
}

// DefaultConfig returns an 80x24 terminal with human typing speed.
func DefaultConfig() Config {
	return Config{
		Columns:       80,
		Rows:          24,
		TypingSpeed:   40 * time.Millisecond,
		SettleTimeout: time.Second,
		StartTimeout:  5 * time.Second,
		BufferSize:    50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Columns <= 0 {
		c.Columns = d.Columns
	}
	if c.Rows <= 0 {
		c.Rows = d.Rows
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = d.SettleTimeout
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.TypingSpeed < 0 {
		c.TypingSpeed = 0
	}
	return c
}

// modelUpdate is a model state change with its sequence number.
type modelUpdate struct {
	model     Model
	sequence  int64
	timestamp time.Time
}

// Stage hosts a headless BubbleTea program.
//
// The program runs on its own goroutine. Every Update is sequence numbered
// and handed to a sync goroutine over a bounded channel; the latest model is
// what View, Mode and Input read. Injected messages wait until the model has
// caught up with them, bounded by SettleTimeout.
type Stage struct {
	model   Model
	program *tea.Program
	config  Config
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	inputMu sync.Mutex // one key sequence at a time

	// Model synchronization
	modelChan   chan modelUpdate
	latestModel Model
	modelMu     sync.RWMutex
	changed     chan struct{} // closed and replaced on every processed update

	updateSeq        atomic.Int64
	lastProcessedSeq atomic.Int64
	droppedUpdates   atomic.Int64
	updatesSent      atomic.Int64
	updatesProcessed atomic.Int64
	bufferOverflows  atomic.Int64
	sequenceGaps     atomic.Int64
	duplicateUpdates atomic.Int64

	failMu  sync.Mutex
	failure error

	started atomic.Bool
	stopped atomic.Bool
}

// NewStage prepares a stage for model. Call Start before injecting input.
func NewStage(model Model, config Config, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()
	return &Stage{
		model:       model,
		config:      config,
		logger:      logger.With(slog.String("component", "terminal")),
		done:        make(chan struct{}),
		modelChan:   make(chan modelUpdate, config.BufferSize),
		latestModel: model,
		changed:     make(chan struct{}),
	}
}

// Start launches the program and waits until it renders a first view.
func (s *Stage) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("terminal: stage already started")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.syncModelUpdates()

	wrapped := modelWrapper{Model: s.model, stage: s}
	s.program = tea.NewProgram(wrapped,
		tea.WithoutRenderer(),
		tea.WithInput(nil),
		tea.WithOutput(nil),
		tea.WithoutSignalHandler(),
		tea.WithContext(s.ctx),
	)

	go func() {
		defer close(s.done)
		defer func() {
			if r := recover(); r != nil {
				s.fail(fmt.Errorf("terminal: program goroutine panicked: %v", r))
			}
		}()
		if _, err := s.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			s.logger.Debug("program exited", slog.String("error", err.Error()))
		}
	}()

	s.program.Send(tea.WindowSizeMsg{Width: s.config.Columns, Height: s.config.Rows})

	if err := s.waitForProgramReady(ctx); err != nil {
		s.fail(err)
		return err
	}
	s.logger.Debug("program ready", slog.Int("view_len", len(s.View())))
	return nil
}

// waitForProgramReady waits for a non-empty view.
func (s *Stage) waitForProgramReady(ctx context.Context) error {
	timeout := time.NewTimer(s.config.StartTimeout)
	defer timeout.Stop()

	for {
		if view := s.View(); len(view) > 0 {
			return nil
		}
		select {
		case <-timeout.C:
			return fmt.Errorf("terminal: no view after %s", s.config.StartTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrStopped
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Stop quits the program and closes the model if it is Closeable.
func (s *Stage) Stop(ctx context.Context) error {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	s.program.Quit()
	select {
	case <-s.done:
	case <-ctx.Done():
		s.program.Kill()
	}
	s.cancel()

	if c, ok := s.model.(Closeable); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("terminal: close model: %w", err)
		}
	}
	return nil
}

// syncModelUpdates applies updates in sequence order, skipping duplicates.
func (s *Stage) syncModelUpdates() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("model sync goroutine panicked", slog.Any("panic", r))
		}
	}()

	for {
		select {
		case update := <-s.modelChan:
			current := s.lastProcessedSeq.Load()
			if update.sequence <= current {
				s.duplicateUpdates.Add(1)
				continue
			}
			if update.sequence > current+1 {
				s.sequenceGaps.Add(1)
			}

			s.modelMu.Lock()
			s.latestModel = update.model
			s.lastProcessedSeq.Store(update.sequence)
			s.updatesProcessed.Add(1)
			close(s.changed)
			s.changed = make(chan struct{})
			s.modelMu.Unlock()

		case <-s.ctx.Done():
			return
		}
	}
}

// current returns the latest model and a channel closed on the next update.
func (s *Stage) current() (Model, chan struct{}) {
	s.modelMu.RLock()
	defer s.modelMu.RUnlock()
	return s.latestModel, s.changed
}

// View returns the latest rendered view.
func (s *Stage) View() string {
	m, _ := s.current()
	if m == nil {
		return ""
	}
	return m.View()
}

// Mode returns the latest application mode.
func (s *Stage) Mode() string {
	m, _ := s.current()
	if m == nil {
		return ""
	}
	return m.CurrentMode()
}

// Input returns the latest user input.
func (s *Stage) Input() string {
	m, _ := s.current()
	if m == nil {
		return ""
	}
	return m.CurrentInput()
}

// CheckCondition asks the latest model about a named condition.
func (s *Stage) CheckCondition(name string) bool {
	m, _ := s.current()
	return m != nil && m.CheckCondition(name)
}

// Err returns the failure that stopped the stage, if any.
func (s *Stage) Err() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failure
}

func (s *Stage) fail(err error) {
	s.failMu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.failMu.Unlock()
	s.logger.Error("stage failed", slog.String("error", err.Error()))
}

// Stats returns synchronization counters.
func (s *Stage) Stats() map[string]int64 {
	return map[string]int64{
		"updates_generated": s.updateSeq.Load(),
		"updates_sent":      s.updatesSent.Load(),
		"updates_processed": s.updatesProcessed.Load(),
		"buffer_overflows":  s.bufferOverflows.Load(),
		"sequence_gaps":     s.sequenceGaps.Load(),
		"duplicate_updates": s.duplicateUpdates.Load(),
		"updates_dropped":   s.droppedUpdates.Load(),
		"buffer_length":     int64(len(s.modelChan)),
		"buffer_capacity":   int64(cap(s.modelChan)),
	}
}

// HasDroppedUpdates reports whether the sync goroutine missed any update.
func (s *Stage) HasDroppedUpdates() bool {
	return s.droppedUpdates.Load() > 0 ||
		s.bufferOverflows.Load() > 0 ||
		s.sequenceGaps.Load() > 0
}

// modelWrapper forwards every Update result to the stage.
type modelWrapper struct {
	Model
	stage *Stage
}

// Update runs the wrapped model and publishes the result without blocking
// the program loop.
func (w modelWrapper) Update(msg tea.Msg) (next tea.Model, cmd tea.Cmd) {
	defer func() {
		if r := recover(); r != nil {
			w.stage.fail(fmt.Errorf("terminal: model panic during Update(%T): %v", msg, r))
			next, cmd = w, tea.Quit
		}
	}()

	newModel, cmd := w.Model.Update(msg)
	if newModel == nil {
		w.stage.fail(fmt.Errorf("terminal: Update(%T) returned nil model", msg))
		return w, tea.Quit
	}

	m, ok := newModel.(Model)
	if !ok {
		w.stage.fail(fmt.Errorf("terminal: Update(%T) returned %T, which is not a terminal.Model", msg, newModel))
		return w, tea.Quit
	}

	update := modelUpdate{
		model:     m,
		sequence:  w.stage.updateSeq.Add(1),
		timestamp: time.Now(),
	}
	select {
	case w.stage.modelChan <- update:
		w.stage.updatesSent.Add(1)
	default:
		w.stage.bufferOverflows.Add(1)
		w.stage.droppedUpdates.Add(1)
	}

	return modelWrapper{Model: m, stage: w.stage}, cmd
}
