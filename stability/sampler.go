package stability

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one captured sample.
type Frame struct {
	Seq   uint64
	Image image.Image
	At    time.Time
}

// Sampler captures a SampleSource at a fixed interval on its own goroutine.
//
// Only the Run goroutine writes; readers take snapshots under a read lock.
// The sampler never touches an actuator, so it is safe to run alongside the
// control loop.
type Sampler struct {
	src      SampleSource
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	ring   []Frame
	next   int
	filled bool
	notify chan struct{} // closed and replaced on every write

	seq      atomic.Uint64
	errors   atomic.Uint64
	lastRead atomic.Uint64
}

// NewSampler keeps the last capacity frames.
func NewSampler(src SampleSource, interval time.Duration, capacity int, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		src:      src,
		interval: interval,
		logger:   logger,
		ring:     make([]Frame, capacity),
		notify:   make(chan struct{}),
	}
}

// Run samples until ctx is done. It returns nil on cancellation so it can be
// run directly in an errgroup.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.capture(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sampler) capture(ctx context.Context) {
	img, err := s.src.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.errors.Add(1)
			s.logger.Debug("sample failed", slog.String("error", err.Error()))
		}
		return
	}

	frame := Frame{Seq: s.seq.Add(1), Image: img, At: time.Now()}

	s.mu.Lock()
	s.ring[s.next] = frame
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.filled = true
	}
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// Latest returns the newest frame, if any.
func (s *Sampler) Latest() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked()
}

func (s *Sampler) latestLocked() (Frame, bool) {
	if !s.filled && s.next == 0 {
		return Frame{}, false
	}
	i := s.next - 1
	if i < 0 {
		i = len(s.ring) - 1
	}
	return s.ring[i], true
}

// Snapshot returns buffered frames oldest first.
func (s *Sampler) Snapshot() []Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.filled {
		return append([]Frame(nil), s.ring[:s.next]...)
	}
	out := make([]Frame, 0, len(s.ring))
	out = append(out, s.ring[s.next:]...)
	return append(out, s.ring[:s.next]...)
}

// Sample implements SampleSource by waiting for a frame newer than the one
// it returned last. This lets a Detector consume the background stream.
func (s *Sampler) Sample(ctx context.Context) (image.Image, error) {
	for {
		s.mu.RLock()
		frame, ok := s.latestLocked()
		wait := s.notify
		s.mu.RUnlock()

		if ok {
			last := s.lastRead.Load()
			if frame.Seq > last && s.lastRead.CompareAndSwap(last, frame.Seq) {
				return frame.Image, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Captured is the number of frames taken so far.
func (s *Sampler) Captured() uint64 { return s.seq.Load() }

// Errors is the number of failed samples.
func (s *Sampler) Errors() uint64 { return s.errors.Load() }
