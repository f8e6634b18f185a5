package showrunner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/showrunner/framing"
	"github.com/teranos/showrunner/waypoint"
)

type staticRegions []waypoint.Region

func (s staticRegions) Regions(context.Context) ([]waypoint.Region, error) { return s, nil }

func landing() staticRegions {
	return staticRegions{
		{Name: "Welcome", Type: waypoint.TypeHero, Selector: "#hero", Bounds: framing.Rect{Y: 0, Width: 1280, Height: 600}},
		{Name: "plans", Type: waypoint.TypePricing, Selector: "#pricing", Bounds: framing.Rect{Y: 600, Width: 1280, Height: 500}},
		{Name: "questions", Type: waypoint.TypeFAQ, Selector: "#faq", Bounds: framing.Rect{Y: 1100, Width: 1280, Height: 400}},
	}
}

func quickTours() *waypoint.Planner {
	return waypoint.NewPlanner(
		waypoint.WithReturnToTop(false),
		waypoint.WithPause(waypoint.TypeHero, time.Millisecond),
		waypoint.WithPause(waypoint.TypePricing, time.Millisecond),
		waypoint.WithPause(waypoint.TypeFAQ, time.Millisecond),
		waypoint.WithPause(waypoint.TypeFeatures, time.Millisecond),
		waypoint.WithLogger(quietLogger()),
	)
}

func TestMatchRegions(t *testing.T) {
	regions := landing()

	matched := MatchRegions(regions, "Show the FAQ, then pricing!")
	require.Len(t, matched, 2)
	assert.Equal(t, "#pricing", matched[0].Selector, "page order is kept")
	assert.Equal(t, "#faq", matched[1].Selector)

	assert.Len(t, MatchRegions(regions, "walk through questions"), 1)
	assert.Len(t, MatchRegions(regions, "give a quick tour"), 3)
}

func TestTourPlanner_DrivesGoalScene(t *testing.T) {
	tests := []struct {
		goal string
		want []string
	}{
		{"tour the landing page", []string{"#hero", "#pricing", "#faq"}},
		{"show pricing and faq", []string{"#pricing", "#faq"}},
	}
	for _, tt := range tests {
		t.Run(tt.goal, func(t *testing.T) {
			stage := newFakeStage()
			tour := NewTourPlanner(landing(), quickTours(), quietLogger())
			runner := newTestRunner(stage, WithPlanner(tour))

			result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{{Name: "tour", Goal: tt.goal}}})

			require.True(t, result.Success, result.TripReport)
			assert.Equal(t, tt.want, stage.dispatched())
			assert.Equal(t, len(tt.want), result.Scenes[0].StepsCompleted)
		})
	}
}

func TestTourPlanner_Errors(t *testing.T) {
	tour := NewTourPlanner(staticRegions{}, nil, quietLogger())
	_, err := tour.PlanScene(context.Background(), "tour", Observation{})
	assert.ErrorIs(t, err, ErrNoRegions)

	_, _, err = tour.DecideNextAction(context.Background(), Observation{}, "tour")
	assert.Error(t, err, "nothing planned yet")

	short := staticRegions{{Name: "tiny", Type: waypoint.TypeCTA, Selector: "#cta", Bounds: framing.Rect{Height: 20}}}
	_, err = NewTourPlanner(short, quickTours(), quietLogger()).PlanScene(context.Background(), "tour", Observation{})
	assert.ErrorIs(t, err, ErrNoRegions)
}

func TestTourPlanner_LongTourOutrunsPlannedStepBound(t *testing.T) {
	var page staticRegions
	var want []string
	for i := 0; i < 8; i++ {
		selector := fmt.Sprintf("#section-%d", i)
		page = append(page, waypoint.Region{
			Name:     fmt.Sprintf("section %d", i),
			Type:     waypoint.TypeFeatures,
			Selector: selector,
			Bounds:   framing.Rect{Y: float64(i) * 400, Width: 1280, Height: 400},
		})
		want = append(want, selector)
	}
	require.Greater(t, len(page), testConfig().MaxPlannedSteps)

	stage := newFakeStage()
	tour := NewTourPlanner(page, quickTours(), quietLogger())
	runner := newTestRunner(stage, WithPlanner(tour))

	result := runner.ExecuteDemo(context.Background(), Demo{Scenes: []Scene{{Name: "long page", Goal: "tour everything"}}})

	require.True(t, result.Success, result.TripReport)
	assert.Equal(t, want, stage.dispatched())
	assert.Equal(t, 0, tour.PlannedSteps("tour everything"), "an exhausted tour is forgotten")
}
