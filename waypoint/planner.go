package waypoint

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/teranos/showrunner/framing"
)

// ReturnToTopName names the optional closing waypoint.
const ReturnToTopName = "return_to_top"

// Planner defaults.
const (
	DefaultViewportHeight  = 800
	DefaultMinRegionHeight = 200
	DefaultTolerance       = 30
	defaultPause           = 2 * time.Second
)

// DefaultRules frames each region type when no custom rule is set.
var DefaultRules = map[string]framing.Rule{
	TypeHero:     {Alignment: framing.AlignTop, Margin: 0, Tolerance: DefaultTolerance},
	TypeFeatures: {Alignment: framing.AlignTop, Margin: 50, Tolerance: DefaultTolerance},
	TypePricing:  {Alignment: framing.AlignTop, Margin: 50, Tolerance: DefaultTolerance},
	TypeFAQ:      {Alignment: framing.AlignTop, Margin: 30, Tolerance: DefaultTolerance},
	TypeCTA:      {Alignment: framing.AlignCenter, Tolerance: DefaultTolerance},
	TypeFooter:   {Alignment: framing.AlignBottom, Margin: 0, Tolerance: DefaultTolerance},
	TypeDefault:  {Alignment: framing.AlignCenter, Tolerance: DefaultTolerance},
}

// DefaultPauses is how long to linger on each region type before scaling by height.
var DefaultPauses = map[string]time.Duration{
	TypeHero:         3 * time.Second,
	TypeFeatures:     3 * time.Second,
	TypePricing:      3500 * time.Millisecond,
	TypeFAQ:          2500 * time.Millisecond,
	TypeCTA:          2 * time.Second,
	TypeTestimonials: 2500 * time.Millisecond,
	TypeAbout:        2 * time.Second,
	TypeContact:      2 * time.Second,
	TypeFooter:       1500 * time.Millisecond,
	TypeHeader:       1 * time.Second,
	TypeDefault:      defaultPause,
}

// Waypoint is one stop on a scroll journey.
type Waypoint struct {
	Name           string        `json:"name" yaml:"name"`
	Type           string        `json:"type" yaml:"type"`
	TargetID       string        `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	Offset         float64       `json:"offset" yaml:"offset"` // absolute scroll Y
	Rule           *framing.Rule `json:"rule,omitempty" yaml:"rule,omitempty"`
	Overridden     bool          `json:"overridden" yaml:"overridden"`
	Pause          time.Duration `json:"pause" yaml:"pause"`
	ScrollDuration time.Duration `json:"scroll_duration" yaml:"scroll_duration"`
	Description    string        `json:"description" yaml:"description"`
}

// Planner generates waypoints from regions.
type Planner struct {
	ViewportHeight  float64
	MinRegionHeight float64
	ReturnToTop     bool
	Rules           map[string]framing.Rule  // per region type, on top of DefaultRules
	Pauses          map[string]time.Duration // per region type or name, exact
	logger          *slog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

func WithViewportHeight(h float64) PlannerOption {
	return func(p *Planner) {
		if h > 0 {
			p.ViewportHeight = h
		}
	}
}

func WithMinRegionHeight(h float64) PlannerOption {
	return func(p *Planner) { p.MinRegionHeight = h }
}

func WithReturnToTop(enabled bool) PlannerOption {
	return func(p *Planner) { p.ReturnToTop = enabled }
}

// WithRule overrides the framing rule for a region type.
func WithRule(regionType string, rule framing.Rule) PlannerOption {
	return func(p *Planner) { p.Rules[regionType] = rule }
}

// WithPause fixes the pause for a region type or a region name.
func WithPause(key string, pause time.Duration) PlannerOption {
	return func(p *Planner) { p.Pauses[key] = pause }
}

func WithLogger(logger *slog.Logger) PlannerOption {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPlanner returns a planner with an 800px viewport, a 200px minimum region
// height and a closing return-to-top waypoint.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{
		ViewportHeight:  DefaultViewportHeight,
		MinRegionHeight: DefaultMinRegionHeight,
		ReturnToTop:     true,
		Rules:           make(map[string]framing.Rule),
		Pauses:          make(map[string]time.Duration),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RuleFor returns the framing rule for a region type.
func (p *Planner) RuleFor(regionType string) framing.Rule {
	if rule, ok := p.Rules[regionType]; ok {
		return rule
	}
	if rule, ok := DefaultRules[regionType]; ok {
		return rule
	}
	return DefaultRules[TypeDefault]
}

// PauseFor returns how long to stay on a region. Custom pauses by type win
// over custom pauses by name; otherwise the type default scales with height,
// capped at 1.5x.
func (p *Planner) PauseFor(region Region) time.Duration {
	if pause, ok := p.Pauses[region.Type]; ok {
		return pause
	}
	if pause, ok := p.Pauses[region.Name]; ok {
		return pause
	}

	base, ok := DefaultPauses[region.Type]
	if !ok {
		base = DefaultPauses[TypeDefault]
	}
	factor := math.Min(1.5, region.Bounds.Height/p.ViewportHeight)
	return time.Duration(math.Round(float64(base) * factor))
}

// EstimateScrollDuration is 0.5s plus one second per 500px travelled.
func EstimateScrollDuration(distance float64) time.Duration {
	seconds := math.Max(0.5, 0.5+math.Abs(distance)/500)
	return time.Duration(math.Round(seconds*1000)) * time.Millisecond
}

var titleCaser = cases.Title(language.English)

// Generate returns one waypoint per region tall enough to keep, in the order
// given, followed by a return-to-top waypoint when enabled.
func (p *Planner) Generate(regions []Region) []Waypoint {
	viewport := framing.Viewport{Height: p.ViewportHeight}

	waypoints := make([]Waypoint, 0, len(regions)+1)
	prev := 0.0

	for _, region := range regions {
		if region.Bounds.Height < p.MinRegionHeight {
			p.logger.Debug("skipping short region",
				slog.String("region", region.Name),
				slog.Float64("height", region.Bounds.Height))
			continue
		}

		regionType := region.Type
		if regionType == "" {
			regionType = TypeDefault
		}
		rule := p.RuleFor(regionType)
		rule.TargetID = region.Selector

		// From a zero scroll offset the delta is the absolute target offset.
		offset := math.Max(0, framing.CalculateOptimalScroll(region.Bounds, viewport, rule))

		waypoints = append(waypoints, Waypoint{
			Name:           region.Name,
			Type:           regionType,
			TargetID:       region.Selector,
			Offset:         offset,
			Rule:           &rule,
			Pause:          p.PauseFor(Region{Name: region.Name, Type: regionType, Bounds: region.Bounds}),
			ScrollDuration: EstimateScrollDuration(offset - prev),
			Description:    fmt.Sprintf("%s section: %s", titleCaser.String(regionType), region.Name),
		})
		prev = offset
	}

	if p.ReturnToTop && len(waypoints) > 0 {
		waypoints = append(waypoints, Waypoint{
			Name:           ReturnToTopName,
			Offset:         0,
			Pause:          defaultPause,
			ScrollDuration: EstimateScrollDuration(prev),
			Description:    "Return to top of page",
		})
	}

	return waypoints
}
