package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/teranos/showrunner"
	"github.com/teranos/showrunner/framing"
)

// ErrElementNotFound is returned by Locate when the target is not on the page.
var ErrElementNotFound = errors.New("browser: element not found")

type pageState struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Observe implements showrunner.Sensor: a screenshot of the viewport, the
// visible page text and the page URL as context id.
func (b *Browser) Observe(ctx context.Context) (showrunner.Observation, error) {
	var shot []byte
	var state pageState
	err := b.run(ctx,
		chromedp.CaptureScreenshot(&shot),
		chromedp.Evaluate(`({text: document.body ? document.body.innerText : "", url: location.href})`, &state),
	)
	if err != nil {
		return showrunner.Observation{}, fmt.Errorf("observe: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return showrunner.Observation{}, fmt.Errorf("observe: decode screenshot: %w", err)
	}
	return showrunner.Observation{
		Sample:    img,
		Text:      state.Text,
		ContextID: state.URL,
		Timestamp: time.Now(),
	}, nil
}

// Sample implements stability.SampleSource.
func (b *Browser) Sample(ctx context.Context) (image.Image, error) {
	var shot []byte
	if err := b.run(ctx, chromedp.CaptureScreenshot(&shot)); err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	return png.Decode(bytes.NewReader(shot))
}

type rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r rect) toFraming() framing.Rect {
	return framing.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

type located struct {
	Found    bool `json:"found"`
	Element  rect `json:"element"`
	Viewport rect `json:"viewport"`
}

// Locate implements framing.Locator. Both rectangles are in document
// coordinates; the viewport Y is the scroll offset.
func (b *Browser) Locate(ctx context.Context, targetID string) (framing.ElementBounds, framing.Viewport, error) {
	var res located
	if err := b.run(ctx, chromedp.Evaluate(locateScript(targetID), &res)); err != nil {
		return framing.Rect{}, framing.Rect{}, fmt.Errorf("locate %s: %w", targetID, err)
	}
	if !res.Found {
		return framing.Rect{}, framing.Rect{}, fmt.Errorf("%w: %s", ErrElementNotFound, targetID)
	}
	return res.Element.toFraming(), res.Viewport.toFraming(), nil
}

func locateScript(targetID string) string {
	return fmt.Sprintf(`(function() {
	const vp = {x: window.scrollX, y: window.scrollY, width: window.innerWidth, height: window.innerHeight};
	const el = %s;
	if (!el) return {found: false, viewport: vp};
	const r = el.getBoundingClientRect();
	return {
		found: true,
		element: {x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height},
		viewport: vp,
	};
})()`, findElement(targetID))
}
