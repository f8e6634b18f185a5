package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/chromedp/chromedp"

	"github.com/teranos/showrunner/waypoint"
)

// section is what the detection script reports per candidate element.
type section struct {
	Name        string  `json:"name"`
	ID          string  `json:"id"`
	Classes     string  `json:"classes"`
	HeadingText string  `json:"headingText"`
	AriaLabel   string  `json:"ariaLabel"`
	Role        string  `json:"role"`
	TagName     string  `json:"tagName"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// sectionScript collects section-like landmarks in document coordinates.
// Landmarks nested in an already reported element are skipped unless they are
// explicit sections.
const sectionScript = `(function(minSize) {
	const selectors = ['section', '[role="region"]', '[role="main"]', '[role="banner"]',
		'[role="contentinfo"]', '[data-section]', 'main', 'header', 'footer', 'article'];
	const out = [];
	const taken = [];
	for (const el of document.querySelectorAll(selectors.join(', '))) {
		const explicit = el.tagName === 'SECTION' || el.hasAttribute('data-section');
		if (!explicit && taken.some(p => p.contains(el))) continue;
		const r = el.getBoundingClientRect();
		if (r.height < minSize || r.width < minSize) continue;
		const heading = el.querySelector('h1, h2, h3, h4');
		const headingText = heading ? heading.textContent.trim() : '';
		const dataSection = el.getAttribute('data-section') || '';
		const name = (dataSection || el.id || headingText || el.tagName.toLowerCase()).slice(0, 50);
		taken.push(el);
		out.push({
			name: name,
			id: el.id || '',
			classes: typeof el.className === 'string' ? el.className : '',
			headingText: headingText,
			ariaLabel: el.getAttribute('aria-label') || '',
			role: el.getAttribute('role') || '',
			tagName: el.tagName.toLowerCase(),
			x: r.left + window.scrollX,
			y: r.top + window.scrollY,
			width: r.width,
			height: r.height,
		});
	}
	return out;
})(%g)`

// Regions implements waypoint.RegionProvider.
func (b *Browser) Regions(ctx context.Context) ([]waypoint.Region, error) {
	var found []section
	if err := b.run(ctx, chromedp.Evaluate(fmt.Sprintf(sectionScript, b.config.MinSectionHeight), &found)); err != nil {
		return nil, fmt.Errorf("detect sections: %w", err)
	}
	regions := toRegions(found)
	b.logger.Debug("sections detected", slog.Int("candidates", len(found)), slog.Int("regions", len(regions)))
	return regions, nil
}

// toRegions classifies sections and orders them top to bottom. Names are
// made unique so waypoints can be told apart.
func toRegions(found []section) []waypoint.Region {
	sort.SliceStable(found, func(i, j int) bool { return found[i].Y < found[j].Y })

	seen := make(map[string]int)
	regions := make([]waypoint.Region, 0, len(found))
	for _, s := range found {
		name := s.Name
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s-%d", name, n+1)
		}
		seen[s.Name]++

		selector := ""
		if s.ID != "" {
			selector = "#" + s.ID
		}
		regions = append(regions, waypoint.Region{
			Name:     name,
			Type:     waypoint.ClassifyRegion(s.ID, s.Classes, s.HeadingText, s.AriaLabel, s.TagName, s.Role),
			Selector: selector,
			Bounds:   rect{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}.toFraming(),
		})
	}
	return regions
}
