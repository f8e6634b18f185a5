package waypoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/showrunner/framing"
)

func landingPage() []Region {
	return []Region{
		{Name: "hero", Type: TypeHero, Selector: "#hero", Bounds: framing.Rect{Y: 0, Width: 1280, Height: 700}},
		{Name: "features", Type: TypeFeatures, Selector: "#features", Bounds: framing.Rect{Y: 900, Width: 1280, Height: 600}},
		{Name: "pricing", Type: TypePricing, Selector: "#pricing", Bounds: framing.Rect{Y: 1600, Width: 1280, Height: 800}},
		{Name: "badge", Type: TypeDefault, Bounds: framing.Rect{Y: 2500, Width: 200, Height: 100}},
		{Name: "footer", Type: TypeFooter, Selector: "footer", Bounds: framing.Rect{Y: 3000, Width: 1280, Height: 300}},
	}
}

// TestPlanner_Generate tests offsets, pauses and scroll durations per region
func TestPlanner_Generate(t *testing.T) {
	waypoints := NewPlanner().Generate(landingPage())
	require.Len(t, waypoints, 5, "badge is below the minimum height; return-to-top is appended")

	var names []string
	var offsets []float64
	for _, w := range waypoints {
		names = append(names, w.Name)
		offsets = append(offsets, w.Offset)
	}
	assert.Equal(t, []string{"hero", "features", "pricing", "footer", ReturnToTopName}, names)
	assert.Equal(t, []float64{0, 850, 1550, 2500, 0}, offsets)

	assert.Equal(t, 2625*time.Millisecond, waypoints[0].Pause)
	assert.Equal(t, 2250*time.Millisecond, waypoints[1].Pause)
	assert.Equal(t, 3500*time.Millisecond, waypoints[2].Pause)
	assert.Equal(t, 562500*time.Microsecond, waypoints[3].Pause)
	assert.Equal(t, 2*time.Second, waypoints[4].Pause)

	assert.Equal(t, 500*time.Millisecond, waypoints[0].ScrollDuration)
	assert.Equal(t, 2200*time.Millisecond, waypoints[1].ScrollDuration)
	assert.Equal(t, 1900*time.Millisecond, waypoints[2].ScrollDuration)
	assert.Equal(t, 2400*time.Millisecond, waypoints[3].ScrollDuration)
	assert.Equal(t, 5500*time.Millisecond, waypoints[4].ScrollDuration)

	require.NotNil(t, waypoints[1].Rule)
	assert.Equal(t, "#features", waypoints[1].Rule.TargetID)
	assert.Equal(t, framing.AlignTop, waypoints[1].Rule.Alignment)
	assert.Equal(t, "Features section: features", waypoints[1].Description)
	assert.Nil(t, waypoints[4].Rule)
}

func TestPlanner_CustomRulesAndPauses(t *testing.T) {
	planner := NewPlanner(
		WithReturnToTop(false),
		WithRule(TypeHero, framing.Rule{Alignment: framing.AlignCenter, Tolerance: 10}),
		WithPause("pricing", 5*time.Second),
		WithMinRegionHeight(0),
	)

	waypoints := planner.Generate(landingPage())
	require.Len(t, waypoints, 5)
	assert.Equal(t, "badge", waypoints[3].Name)
	assert.Equal(t, TypeDefault, waypoints[3].Type)

	// Centering a 700px hero in an 800px viewport needs a negative offset, clamped to 0.
	assert.Zero(t, waypoints[0].Offset)
	assert.Equal(t, framing.AlignCenter, waypoints[0].Rule.Alignment)
	assert.Equal(t, 5*time.Second, waypoints[2].Pause)
}

func TestPlanner_UnknownTypeFallsBack(t *testing.T) {
	planner := NewPlanner()
	assert.Equal(t, DefaultRules[TypeDefault], planner.RuleFor("carousel"))

	pause := planner.PauseFor(Region{Type: "carousel", Bounds: framing.Rect{Height: 2000}})
	assert.Equal(t, 3*time.Second, pause, "height factor caps at 1.5x")

	assert.Empty(t, planner.Generate(nil), "no return-to-top for an empty page")
}

// TestApplyOverride tests overrides return a new slice before sealing
func TestApplyOverride(t *testing.T) {
	original := NewPlanner(WithReturnToTop(false)).Generate(landingPage())

	offset := 1200.0
	pause := time.Second
	updated, err := ApplyOverride(original, 1, Override{Offset: &offset, Pause: &pause})
	require.NoError(t, err)

	assert.Equal(t, 1200.0, updated[1].Offset)
	assert.True(t, updated[1].Overridden)
	assert.Equal(t, time.Second, updated[1].Pause)
	assert.Equal(t, 850.0, original[1].Offset, "input is untouched")
	assert.False(t, original[1].Overridden)

	_, err = ApplyOverride(original, 9, Override{})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	desc := "Plans and prices"
	named, err := ApplyNamedOverrides(original, map[string]Override{"pricing": {Description: &desc}})
	require.NoError(t, err)
	assert.Equal(t, desc, named[2].Description)

	_, err = ApplyNamedOverrides(original, map[string]Override{"blog": {}})
	assert.ErrorIs(t, err, ErrUnknownWaypoint)
}

// TestJourney_ForwardOnly tests the sealed sequence and cursor
func TestJourney_ForwardOnly(t *testing.T) {
	waypoints := NewPlanner().Generate(landingPage())
	journey := Seal(waypoints)

	waypoints[0].Name = "mutated"
	waypoints[1].Rule.Margin = 999

	require.Equal(t, 5, journey.Len())
	assert.Equal(t, 5, journey.Remaining())

	first, ok := journey.Next()
	require.True(t, ok)
	assert.Equal(t, "hero", first.Name, "sealed copy ignores later edits")

	second, ok := journey.Next()
	require.True(t, ok)
	assert.Equal(t, 50.0, second.Rule.Margin)

	second.Rule.Margin = 1
	assert.Equal(t, 50.0, journey.Waypoints()[1].Rule.Margin, "returned rules are copies")

	for journey.Remaining() > 0 {
		_, ok = journey.Next()
		require.True(t, ok)
	}
	_, ok = journey.Next()
	assert.False(t, ok)
	assert.Equal(t, 5, journey.Position())

	assert.Equal(t, 5, len(journey.Waypoints()), "Waypoints does not consume")
	assert.Positive(t, journey.TotalDuration())
}

func TestClassifyRegion(t *testing.T) {
	tests := []struct {
		name                                  string
		id, classes, heading, aria, tag, role string
		want                                  string
	}{
		{"id match", "pricing-table", "", "", "", "section", "", TypePricing},
		{"class match", "", "container hero-banner", "", "", "section", "", TypeHero},
		{"heading match", "", "", "Frequently asked questions", "", "section", "", TypeFAQ},
		{"first pattern wins", "features-and-pricing", "", "", "", "section", "", TypeFeatures},
		{"footer tag", "", "", "", "", "footer", "", TypeFooter},
		{"banner role", "", "", "", "", "div", "banner", TypeHeader},
		{"nothing", "x1", "", "", "", "section", "", TypeDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRegion(tt.id, tt.classes, tt.heading, tt.aria, tt.tag, tt.role))
		})
	}
}
