package framing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPage replays a fixed sequence of element positions, one per Locate.
type scriptedPage struct {
	positions []float64 // element top in viewport-relative pixels
	locates   int
	scrolls   []float64
	scrollErr error
}

func (p *scriptedPage) Locate(_ context.Context, _ string) (ElementBounds, Viewport, error) {
	i := p.locates
	if i >= len(p.positions) {
		i = len(p.positions) - 1
	}
	p.locates++
	return ElementBounds{Y: p.positions[i], Height: 100}, Viewport{Height: 800}, nil
}

func (p *scriptedPage) ScrollBy(_ context.Context, delta float64) error {
	if p.scrollErr != nil {
		return p.scrollErr
	}
	p.scrolls = append(p.scrolls, delta)
	return nil
}

// livePage moves the viewport by a fraction of each requested delta.
type livePage struct {
	elementTop float64
	scrollY    float64
	efficiency float64
}

func (p *livePage) Locate(_ context.Context, _ string) (ElementBounds, Viewport, error) {
	return ElementBounds{Y: p.elementTop, Height: 100}, Viewport{Y: p.scrollY, Height: 800}, nil
}

func (p *livePage) ScrollBy(_ context.Context, delta float64) error {
	p.scrollY += delta * p.efficiency
	return nil
}

// TestAutoScroller_HalvingConverges tests a delta that halves every iteration
func TestAutoScroller_HalvingConverges(t *testing.T) {
	page := &scriptedPage{positions: []float64{160, 80, 40, 20}}
	scroller := NewAutoScroller(page, page)

	result, err := scroller.Frame(context.Background(), Rule{TargetID: "hero", Alignment: AlignTop, Tolerance: 20})
	require.NoError(t, err)

	assert.Equal(t, Framed, result.Outcome)
	assert.False(t, result.Outcome.BestEffort())
	assert.LessOrEqual(t, result.Iterations, DefaultMaxIterations)
	assert.Equal(t, []float64{160, 80, 40}, page.scrolls)
}

// TestAutoScroller_IterationCap tests a delta that never shrinks
func TestAutoScroller_IterationCap(t *testing.T) {
	page := &scriptedPage{positions: []float64{100}}
	scroller := NewAutoScroller(page, page)

	result, err := scroller.Frame(context.Background(), Rule{TargetID: "cta", Alignment: AlignTop, Tolerance: 10})
	require.NoError(t, err, "hitting the cap is best effort, not a failure")

	assert.Equal(t, IterationCap, result.Outcome)
	assert.True(t, result.Outcome.BestEffort())
	assert.Equal(t, 5, result.Iterations)
	assert.Len(t, page.scrolls, 5)
	assert.Equal(t, 6, page.locates, "final position is re-observed after the last scroll")
	assert.InDelta(t, 100, result.FinalDelta, 0.001)
}

func TestAutoScroller_ConvergedBelowMinAdjustment(t *testing.T) {
	page := &scriptedPage{positions: []float64{4}}
	scroller := NewAutoScroller(page, page)

	result, err := scroller.Frame(context.Background(), Rule{Alignment: AlignTop, Tolerance: 1})
	require.NoError(t, err)

	assert.Equal(t, Converged, result.Outcome)
	assert.Zero(t, result.Iterations)
	assert.Empty(t, page.scrolls)
}

func TestAutoScroller_LivePage(t *testing.T) {
	page := &livePage{elementTop: 2400, efficiency: 0.5}
	scroller := NewAutoScroller(page, page, WithMaxIterations(10))

	result, err := scroller.Frame(context.Background(), Rule{Alignment: AlignTop, Margin: 50, Tolerance: 30})
	require.NoError(t, err)

	assert.Equal(t, Framed, result.Outcome)
	assert.InDelta(t, 0, result.FinalDelta, 30)
	require.NotEmpty(t, result.Adjustments)
	assert.Zero(t, result.Adjustments[0].From)
}

func TestAutoScroller_ActuatorError(t *testing.T) {
	boom := errors.New("page detached")
	page := &scriptedPage{positions: []float64{300}, scrollErr: boom}
	scroller := NewAutoScroller(page, page)

	_, err := scroller.Frame(context.Background(), Rule{Alignment: AlignTop})
	assert.ErrorIs(t, err, boom)
}

func TestAutoScroller_Cancelled(t *testing.T) {
	page := &scriptedPage{positions: []float64{300}}
	scroller := NewAutoScroller(page, page)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scroller.Frame(ctx, Rule{Alignment: AlignTop})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, page.scrolls)
}
