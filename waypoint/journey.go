package waypoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/showrunner/framing"
)

var (
	ErrIndexOutOfRange = errors.New("waypoint: index out of range")
	ErrUnknownWaypoint = errors.New("waypoint: no waypoint with that name")
)

// Override replaces parts of a generated waypoint. Nil fields are kept.
type Override struct {
	Offset         *float64       `yaml:"offset,omitempty"`
	Rule           *framing.Rule  `yaml:"rule,omitempty"`
	Pause          *time.Duration `yaml:"pause,omitempty"`
	ScrollDuration *time.Duration `yaml:"scroll_duration,omitempty"`
	Description    *string        `yaml:"description,omitempty"`
}

func (o Override) apply(w Waypoint) Waypoint {
	if o.Offset != nil {
		w.Offset = *o.Offset
	}
	if o.Rule != nil {
		rule := *o.Rule
		if rule.TargetID == "" {
			rule.TargetID = w.TargetID
		}
		w.Rule = &rule
	}
	if o.Pause != nil {
		w.Pause = *o.Pause
	}
	if o.ScrollDuration != nil {
		w.ScrollDuration = *o.ScrollDuration
	}
	if o.Description != nil {
		w.Description = *o.Description
	}
	w.Overridden = true
	return w
}

// ApplyOverride returns a copy of waypoints with the one at index replaced.
// The input slice is not modified.
func ApplyOverride(waypoints []Waypoint, index int, override Override) ([]Waypoint, error) {
	if index < 0 || index >= len(waypoints) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(waypoints))
	}
	out := append([]Waypoint(nil), waypoints...)
	out[index] = override.apply(out[index])
	return out, nil
}

// ApplyNamedOverrides applies overrides keyed by waypoint name. Every key
// must match a waypoint.
func ApplyNamedOverrides(waypoints []Waypoint, overrides map[string]Override) ([]Waypoint, error) {
	out := append([]Waypoint(nil), waypoints...)
	for name, override := range overrides {
		found := false
		for i := range out {
			if out[i].Name == name {
				out[i] = override.apply(out[i])
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownWaypoint, name)
		}
	}
	return out, nil
}

// Journey is a sealed, ordered list of waypoints. It has no mutators; the
// cursor only moves forward.
type Journey struct {
	waypoints []Waypoint

	mu     sync.Mutex
	cursor int
}

// Seal freezes waypoints into a Journey. Later changes to the slice are not seen.
func Seal(waypoints []Waypoint) *Journey {
	frozen := make([]Waypoint, len(waypoints))
	for i, w := range waypoints {
		if w.Rule != nil {
			rule := *w.Rule
			w.Rule = &rule
		}
		frozen[i] = w
	}
	return &Journey{waypoints: frozen}
}

// Len is the number of waypoints.
func (j *Journey) Len() int {
	if j == nil {
		return 0
	}
	return len(j.waypoints)
}

// Waypoints returns a copy of the whole sequence without moving the cursor.
func (j *Journey) Waypoints() []Waypoint {
	if j == nil {
		return nil
	}
	out := make([]Waypoint, len(j.waypoints))
	for i, w := range j.waypoints {
		if w.Rule != nil {
			rule := *w.Rule
			w.Rule = &rule
		}
		out[i] = w
	}
	return out
}

// Next returns the next waypoint and advances, or false when exhausted.
func (j *Journey) Next() (Waypoint, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cursor >= len(j.waypoints) {
		return Waypoint{}, false
	}
	w := j.waypoints[j.cursor]
	j.cursor++
	if w.Rule != nil {
		rule := *w.Rule
		w.Rule = &rule
	}
	return w, true
}

// Position is the index of the next waypoint Next will return.
func (j *Journey) Position() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor
}

// Remaining is the number of waypoints Next has not returned yet.
func (j *Journey) Remaining() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.waypoints) - j.cursor
}

// TotalDuration sums scroll and pause time across the journey.
func (j *Journey) TotalDuration() time.Duration {
	var total time.Duration
	for _, w := range j.waypoints {
		total += w.ScrollDuration + w.Pause
	}
	return total
}
