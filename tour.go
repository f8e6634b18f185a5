package showrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/teranos/showrunner/waypoint"
)

// ErrNoRegions is returned when a tour is planned on a page without regions.
var ErrNoRegions = errors.New("showrunner: page has no regions to tour")

// TourPlanner plans goal-only scenes as a scroll tour of the current page.
// PlanScene detects the page's regions and seals a journey through them;
// DecideNextAction walks that journey until it is exhausted.
//
// A goal that names region types or names ("show pricing and faq") limits
// the tour to the matching regions. Any other goal tours the whole page.
//
// Unlike a pure planner, a TourPlanner holds the journey cursor between
// calls: PlanScene replaces it and DecideNextAction advances it, so one
// TourPlanner serves one scene at a time. It reports the journey length as
// a SizedPlanner, so long pages are not cut off by MaxPlannedSteps.
type TourPlanner struct {
	regions waypoint.RegionProvider
	planner *waypoint.Planner
	logger  *slog.Logger

	mu      sync.Mutex
	goal    string
	journey *waypoint.Journey
}

// NewTourPlanner plans tours over the regions reported by provider.
func NewTourPlanner(provider waypoint.RegionProvider, planner *waypoint.Planner, logger *slog.Logger) *TourPlanner {
	if planner == nil {
		planner = waypoint.NewPlanner()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TourPlanner{regions: provider, planner: planner, logger: logger}
}

func (t *TourPlanner) PlanScene(ctx context.Context, goal string, _ Observation) (Step, error) {
	regions, err := t.regions.Regions(ctx)
	if err != nil {
		return Step{}, fmt.Errorf("detecting regions: %w", err)
	}
	if len(regions) == 0 {
		return Step{}, ErrNoRegions
	}

	selected := MatchRegions(regions, goal)
	journey := waypoint.Seal(t.planner.Generate(selected))
	first, ok := journey.Next()
	if !ok {
		return Step{}, fmt.Errorf("%w: every region is below the minimum height", ErrNoRegions)
	}

	t.mu.Lock()
	t.goal, t.journey = goal, journey
	t.mu.Unlock()

	t.logger.Info("tour planned",
		slog.String("goal", goal),
		slog.Int("regions", len(selected)),
		slog.Int("waypoints", journey.Len()))
	return WaypointStep(first), nil
}

// PlannedSteps returns the number of waypoints in the tour planned for goal,
// or zero when none is.
func (t *TourPlanner) PlannedSteps(goal string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.journey == nil || t.goal != goal {
		return 0
	}
	return t.journey.Len()
}

func (t *TourPlanner) DecideNextAction(_ context.Context, _ Observation, goal string) (Step, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.journey == nil || t.goal != goal {
		return Step{}, false, fmt.Errorf("no tour planned for goal %q", goal)
	}
	wp, ok := t.journey.Next()
	if !ok {
		t.journey = nil
		return Step{}, true, nil
	}
	return WaypointStep(wp), false, nil
}

// MatchRegions keeps the regions whose type or name appears in goal, in
// page order. Without any match every region is kept.
func MatchRegions(regions []waypoint.Region, goal string) []waypoint.Region {
	words := strings.FieldsFunc(strings.ToLower(goal), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	})
	mentioned := make(map[string]bool, len(words))
	for _, w := range words {
		mentioned[w] = true
	}

	var matched []waypoint.Region
	for _, r := range regions {
		if mentioned[r.Type] || mentioned[strings.ToLower(r.Name)] {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return regions
	}
	return matched
}
