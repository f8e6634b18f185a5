// Package waypoint turns detected page regions into an ordered scroll
// journey. A Planner generates waypoints, overrides are applied while the
// list is still a plain slice, and Seal freezes it into a Journey that can
// only be walked forward.
package waypoint

import (
	"context"
	"regexp"
	"strings"

	"github.com/teranos/showrunner/framing"
)

// Region is a semantic section of a page.
type Region struct {
	Name     string       `json:"name" yaml:"name"`
	Type     string       `json:"type" yaml:"type"`
	Selector string       `json:"selector,omitempty" yaml:"selector,omitempty"`
	Bounds   framing.Rect `json:"bounds" yaml:"bounds"`
}

// RegionProvider finds the regions of the current page in document order.
type RegionProvider interface {
	Regions(ctx context.Context) ([]Region, error)
}

// Region types with built-in framing rules and pauses.
const (
	TypeHero         = "hero"
	TypeFeatures     = "features"
	TypePricing      = "pricing"
	TypeFAQ          = "faq"
	TypeCTA          = "cta"
	TypeTestimonials = "testimonials"
	TypeAbout        = "about"
	TypeContact      = "contact"
	TypeFooter       = "footer"
	TypeHeader       = "header"
	TypeDefault      = "default"
)

type typePattern struct {
	regionType string
	pattern    *regexp.Regexp
}

// Checked in order; the first match wins.
var typePatterns = []typePattern{
	{TypeHero, regexp.MustCompile(`(?i)hero|banner|jumbotron|masthead|splash|intro|landing`)},
	{TypeFeatures, regexp.MustCompile(`(?i)features?|benefits?|services?|capabilities|highlights?|why-us|what-we`)},
	{TypePricing, regexp.MustCompile(`(?i)pricing|plans?|packages?|subscription|tiers?`)},
	{TypeFAQ, regexp.MustCompile(`(?i)faq|questions?|answers?|help|support|accordion`)},
	{TypeCTA, regexp.MustCompile(`(?i)cta|call-to-action|signup|sign-up|register|get-started|join|trial|waitlist`)},
	{TypeTestimonials, regexp.MustCompile(`(?i)testimonials?|reviews?|quotes?|social-proof|customers?`)},
	{TypeAbout, regexp.MustCompile(`(?i)about|team|story|mission|company`)},
	{TypeContact, regexp.MustCompile(`(?i)contact|get-in-touch|reach|form`)},
	{TypeFooter, regexp.MustCompile(`(?i)footer|bottom|site-footer`)},
	{TypeHeader, regexp.MustCompile(`(?i)header|navbar|nav|top-bar|site-header`)},
}

// ClassifyRegion guesses a region type from element attributes. tag and role
// break ties for otherwise unclassified header/footer landmarks.
func ClassifyRegion(id, classes, heading, ariaLabel, tag, role string) string {
	text := strings.ToLower(strings.Join([]string{id, classes, heading, ariaLabel}, " "))
	for _, tp := range typePatterns {
		if tp.pattern.MatchString(text) {
			return tp.regionType
		}
	}

	switch {
	case tag == "header", role == "banner":
		return TypeHeader
	case tag == "footer", role == "contentinfo":
		return TypeFooter
	default:
		return TypeDefault
	}
}
