package showrunner

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a progress event.
type EventType string

const (
	EventDemoStart     EventType = "demo_start"
	EventSceneStart    EventType = "scene_start"
	EventStepStart     EventType = "step_start"
	EventStepComplete  EventType = "step_complete"
	EventStepFailed    EventType = "step_failed"
	EventSceneComplete EventType = "scene_complete"
	EventSceneFailed   EventType = "scene_failed"
	EventDemoComplete  EventType = "demo_complete"
)

// Event is a progress notification. Fields that do not apply to a type are zero.
type Event struct {
	Seq         uint64
	Type        EventType
	RunID       string
	Time        time.Time
	SceneIndex  int
	SceneName   string
	ScenesTotal int
	StepIndex   int
	StepsTotal  int
	Attempt     int
	Retries     int
	Duration    time.Duration
	Success     bool
	Interrupted bool
	Error       string
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Int64
}

// eventBus fans events out to subscribers without ever blocking the sender.
type eventBus struct {
	mu    sync.RWMutex
	subs  map[*subscriber]struct{}
	seq   atomic.Uint64
	sent  atomic.Int64
	drops atomic.Int64
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of progress events and a function that
// unsubscribes and closes it. Delivery never blocks the Runner: when the
// buffer is full the event is dropped and counted.
func (r *Runner) Subscribe(buffer int) (<-chan Event, func()) {
	return r.events.subscribe(buffer)
}

func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
		})
	}
}

func (b *eventBus) publish(ev Event) {
	ev.Seq = b.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		select {
		case s.ch <- ev:
			b.sent.Add(1)
		default:
			s.dropped.Add(1)
			b.drops.Add(1)
		}
	}
}

func (b *eventBus) subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
