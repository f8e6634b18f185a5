package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func viewport800() Viewport {
	return Viewport{Width: 1280, Height: 800}
}

// TestCalculateOptimalScroll_Alignments tests the delta for each alignment
func TestCalculateOptimalScroll_Alignments(t *testing.T) {
	element := ElementBounds{Y: 100, Width: 600, Height: 100}

	tests := []struct {
		name string
		rule Rule
		want float64
	}{
		{"top no margin", Rule{Alignment: AlignTop}, 100},
		{"top with margin", Rule{Alignment: AlignTop, Margin: 50}, 50},
		{"center", Rule{Alignment: AlignCenter}, -250},
		{"bottom", Rule{Alignment: AlignBottom}, -600},
		{"bottom with margin", Rule{Alignment: AlignBottom, Margin: 40}, -560},
		{"fully visible already", Rule{Alignment: AlignFullyVisible, Margin: 30}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateOptimalScroll(element, viewport800(), tt.rule), 0.001)
		})
	}
}

// TestFramingExample_ElementAt100To200In800Viewport tests the element spanning
// y in [100,200] of an 800px viewport: TOP counts as framed only when the
// tolerance covers its 100px offset, CENTER is not framed and needs a signed
// delta of 150 - 400 = -250 (scroll up).
func TestFramingExample_ElementAt100To200In800Viewport(t *testing.T) {
	element := ElementBounds{Y: 100, Height: 100}
	vp := viewport800()

	top := Rule{Alignment: AlignTop, Tolerance: 100}
	assert.True(t, IsProperlyFramed(element, vp, top, top.Tolerance))
	assert.False(t, IsProperlyFramed(element, vp, top, 20), "100px off is outside a 20px tolerance")

	center := Rule{Alignment: AlignCenter, Tolerance: 50}
	assert.False(t, IsProperlyFramed(element, vp, center, center.Tolerance))
	assert.InDelta(t, -250, CalculateOptimalScroll(element, vp, center), 0.001)

	// Scrolling by the computed delta frames the element exactly.
	delta := CalculateOptimalScroll(element, vp, center)
	assert.InDelta(t, 0, CalculateOptimalScroll(element, vp.Shift(delta), center), 0.001)
}

func TestFullyVisible_Cases(t *testing.T) {
	vp := Viewport{Y: 1000, Height: 800}
	rule := Rule{Alignment: AlignFullyVisible, Margin: 20}

	below := ElementBounds{Y: 1700, Height: 200}
	assert.InDelta(t, 120, CalculateOptimalScroll(below, vp, rule), 0.001, "bottom edge pulled to inset bottom")

	above := ElementBounds{Y: 900, Height: 50}
	assert.InDelta(t, -120, CalculateOptimalScroll(above, vp, rule), 0.001, "top edge pulled to inset top")

	tall := ElementBounds{Y: 1500, Height: 2000}
	assert.InDelta(t, 480, CalculateOptimalScroll(tall, vp, rule), 0.001, "oversized element is top-aligned")
}

func TestAlignment_Text(t *testing.T) {
	for _, a := range []Alignment{AlignTop, AlignCenter, AlignBottom, AlignFullyVisible} {
		parsed, err := ParseAlignment(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}

	_, err := ParseAlignment("sideways")
	assert.Error(t, err)

	var rule Rule
	require.NoError(t, yaml.Unmarshal([]byte("target: \"#pricing\"\nalignment: center\ntolerance: 40\n"), &rule))
	assert.Equal(t, "#pricing", rule.TargetID)
	assert.Equal(t, AlignCenter, rule.Alignment)
	assert.Equal(t, 40.0, rule.Tolerance)
}
