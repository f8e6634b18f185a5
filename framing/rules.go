// Package framing computes how far to scroll so a page element sits where a
// framing rule wants it, and runs the closed-loop correction that gets it
// there on a live page.
//
// All coordinates are document pixels. A Viewport's Y is the current scroll
// offset, so its visible band is [Y, Y+Height). A positive delta scrolls down
// (content moves up); a negative delta scrolls up.
package framing

import (
	"fmt"
	"math"
	"strings"
)

// Rect is an axis-aligned rectangle in document pixels.
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// ElementBounds is the bounding box of a page element.
type ElementBounds = Rect

// Viewport is the visible window; Y is the scroll offset.
type Viewport = Rect

func (r Rect) Top() float64     { return r.Y }
func (r Rect) Bottom() float64  { return r.Y + r.Height }
func (r Rect) CenterY() float64 { return r.Y + r.Height/2 }

// Alignment says where a framed element should sit in the viewport.
type Alignment int

const (
	AlignTop Alignment = iota
	AlignCenter
	AlignBottom
	AlignFullyVisible
)

func (a Alignment) String() string {
	switch a {
	case AlignTop:
		return "top"
	case AlignCenter:
		return "center"
	case AlignBottom:
		return "bottom"
	case AlignFullyVisible:
		return "fully_visible"
	default:
		return "unknown"
	}
}

// ParseAlignment accepts the lower-case names used in plan files.
func ParseAlignment(s string) (Alignment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "top":
		return AlignTop, nil
	case "center", "centre":
		return AlignCenter, nil
	case "bottom":
		return AlignBottom, nil
	case "fully_visible", "fully-visible", "visible":
		return AlignFullyVisible, nil
	default:
		return 0, fmt.Errorf("framing: unknown alignment %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Alignment) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Alignment) UnmarshalText(text []byte) error {
	parsed, err := ParseAlignment(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Rule describes how the element identified by TargetID should be framed.
type Rule struct {
	TargetID  string    `json:"target_id" yaml:"target"`
	Alignment Alignment `json:"alignment" yaml:"alignment"`
	Margin    float64   `json:"margin" yaml:"margin"`
	Tolerance float64   `json:"tolerance" yaml:"tolerance"`
}

// Preset rules for common cases.
var (
	HeaderAtTop      = Rule{Alignment: AlignTop, Margin: 0, Tolerance: 20}
	HeaderWithMargin = Rule{Alignment: AlignTop, Margin: 50, Tolerance: 30}
	ContentCentered  = Rule{Alignment: AlignCenter, Tolerance: 50}
	FullyVisible     = Rule{Alignment: AlignFullyVisible, Margin: 30, Tolerance: 30}
)

// CalculateOptimalScroll returns the scroll delta that frames bounds per rule.
//
//   - TOP: element top lands on viewport top + margin
//   - CENTER: element midpoint lands on viewport midpoint
//   - BOTTOM: element bottom lands on viewport bottom - margin
//   - FULLY_VISIBLE: the smallest move that puts both edges inside the
//     margin-inset viewport; zero when they already are. An element taller
//     than the inset viewport is top-aligned.
func CalculateOptimalScroll(bounds ElementBounds, viewport Viewport, rule Rule) float64 {
	switch rule.Alignment {
	case AlignCenter:
		return bounds.CenterY() - viewport.CenterY()
	case AlignBottom:
		return bounds.Bottom() - (viewport.Bottom() - rule.Margin)
	case AlignFullyVisible:
		return fullyVisibleDelta(bounds, viewport, rule.Margin)
	default:
		return bounds.Top() - (viewport.Top() + rule.Margin)
	}
}

func fullyVisibleDelta(bounds ElementBounds, viewport Viewport, margin float64) float64 {
	top := viewport.Top() + margin
	bottom := viewport.Bottom() - margin

	if bounds.Height > bottom-top {
		return bounds.Top() - top
	}
	switch {
	case bounds.Top() < top:
		return bounds.Top() - top
	case bounds.Bottom() > bottom:
		return bounds.Bottom() - bottom
	default:
		return 0
	}
}

// IsProperlyFramed reports whether the rule's alignment is within tolerance pixels.
func IsProperlyFramed(bounds ElementBounds, viewport Viewport, rule Rule, tolerance float64) bool {
	return math.Abs(CalculateOptimalScroll(bounds, viewport, rule)) <= tolerance
}

// Shift returns the viewport after scrolling by delta.
func (r Rect) Shift(delta float64) Rect {
	r.Y += delta
	return r
}
