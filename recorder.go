package showrunner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/showrunner/stability"
)

// FrameRecorder is a VideoRecorder that writes numbered PNG frames from a
// sample source into a directory. Encoding them into a video is left to
// external tooling. Frames that do not differ from the previous one are not
// written, so the directory holds the visible changes of the run.
type FrameRecorder struct {
	src      stability.SampleSource
	dir      string
	interval time.Duration
	diff     stability.DiffOptions
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	frames  []string
	last    image.Image
	skipped int
}

// RecorderOption configures a FrameRecorder.
type RecorderOption func(*FrameRecorder)

// WithFrameInterval sets the capture interval. The default is 100ms.
func WithFrameInterval(d time.Duration) RecorderOption {
	return func(r *FrameRecorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithFrameDiff sets how two frames are compared for deduplication.
func WithFrameDiff(opts stability.DiffOptions) RecorderOption {
	return func(r *FrameRecorder) { r.diff = opts }
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *FrameRecorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewFrameRecorder records src into dir.
func NewFrameRecorder(src stability.SampleSource, dir string, opts ...RecorderOption) *FrameRecorder {
	r := &FrameRecorder{
		src:      src,
		dir:      dir,
		interval: 100 * time.Millisecond,
		diff:     stability.DiffOptions{Epsilon: 0, Step: 1},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "recorder"))
	return r
}

// Start creates the output directory and begins capturing.
func (r *FrameRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("recorder: already started")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("recorder: create %s: %w", r.dir, err)
	}

	// The capture loop outlives the Start call; only Stop ends it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.group, runCtx = errgroup.WithContext(runCtx)
	r.group.Go(func() error { return r.run(runCtx) })
	return nil
}

func (r *FrameRecorder) run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.capture(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.capture(ctx)
		}
	}
}

func (r *FrameRecorder) capture(ctx context.Context) {
	img, err := r.src.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Debug("sample failed", slog.String("error", err.Error()))
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last != nil && stability.DiffRatio(r.last, img, r.diff) == 0 {
		r.skipped++
		return
	}

	path := filepath.Join(r.dir, fmt.Sprintf("frame_%05d.png", len(r.frames)))
	if err := writePNG(path, img); err != nil {
		r.logger.Warn("frame write failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	r.frames = append(r.frames, path)
	r.last = img
}

// Stop ends capturing and returns the frame directory. Frames written so far
// are kept whatever the outcome of the run.
func (r *FrameRecorder) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	cancel, group := r.cancel, r.group
	r.mu.Unlock()
	if cancel == nil {
		return "", errors.New("recorder: not started")
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return r.dir, err
		}
	case <-ctx.Done():
		return r.dir, fmt.Errorf("recorder: stop: %w", ctx.Err())
	}

	r.mu.Lock()
	r.logger.Info("recording stopped",
		slog.String("dir", r.dir),
		slog.Int("frames", len(r.frames)),
		slog.Int("unchanged_skipped", r.skipped))
	r.mu.Unlock()
	return r.dir, nil
}

// Frames returns the paths written so far, in order.
func (r *FrameRecorder) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
