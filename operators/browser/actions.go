package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/teranos/showrunner"
)

// pointer remembers where the mouse is so ReleaseInputs can release the
// button in place.
type pointer struct {
	mu   sync.Mutex
	x, y float64
}

func (p *pointer) moveTo(x, y float64) {
	p.mu.Lock()
	p.x, p.y = x, y
	p.mu.Unlock()
}

func (p *pointer) position() (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x, p.y
}

var namedKeys = map[string]string{
	"enter":     kb.Enter,
	"return":    kb.Enter,
	"tab":       kb.Tab,
	"esc":       kb.Escape,
	"escape":    kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"space":     " ",
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"home":      kb.Home,
	"end":       kb.End,
	"pgup":      kb.PageUp,
	"pageup":    kb.PageUp,
	"pgdown":    kb.PageDown,
	"pagedown":  kb.PageDown,
}

var modifierNames = map[string]input.Modifier{
	"ctrl":    input.ModifierCtrl,
	"control": input.ModifierCtrl,
	"alt":     input.ModifierAlt,
	"option":  input.ModifierAlt,
	"shift":   input.ModifierShift,
	"meta":    input.ModifierMeta,
	"cmd":     input.ModifierMeta,
	"command": input.ModifierMeta,
}

// parseKey splits "ctrl+shift+k" into the key chromedp sends and its
// modifier mask.
func parseKey(combo string) (string, input.Modifier, error) {
	parts := strings.Split(strings.TrimSpace(combo), "+")
	var mods input.Modifier
	for _, part := range parts[:len(parts)-1] {
		m, ok := modifierNames[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return "", 0, fmt.Errorf("browser: unknown modifier %q in %q", part, combo)
		}
		mods |= m
	}

	last := strings.TrimSpace(parts[len(parts)-1])
	if key, ok := namedKeys[strings.ToLower(last)]; ok {
		return key, mods, nil
	}
	if len([]rune(last)) == 1 {
		return last, mods, nil
	}
	return "", 0, fmt.Errorf("browser: unknown key %q", combo)
}

// point reads the target coordinates, or ok=false when none are set.
func point(a showrunner.Action) (x, y float64, ok bool) {
	if a.Target.X != 0 || a.Target.Y != 0 {
		return float64(a.Target.X), float64(a.Target.Y), true
	}
	return 0, 0, false
}

// Register installs the browser handlers on d:
//
//   - click: Target.Selector, Target.Text or Target.X/Y
//   - type: Params["text"], into Target.Selector when set
//   - press / hotkey: Params["key"] / Params["keys"], such as "ctrl+l"
//   - move: Target.X/Y
//   - scroll: Params["dy"] pixels
//   - scroll_to: Params["y"], or Target.Selector into view
//   - navigate: Params["url"]
func (b *Browser) Register(d *showrunner.HandlerDispatcher) error {
	handlers := map[showrunner.ActionKind]showrunner.ActionHandler{
		showrunner.ActionClick:    b.click,
		showrunner.ActionType:     b.typeText,
		showrunner.ActionPress:    b.press,
		showrunner.ActionHotkey:   b.press,
		showrunner.ActionMove:     b.move,
		showrunner.ActionScroll:   b.scroll,
		showrunner.ActionScrollTo: b.scrollTo,
		showrunner.ActionNavigate: b.navigate,
	}
	for kind, h := range handlers {
		if err := d.Register(kind, h); err != nil {
			return err
		}
	}
	return nil
}

func (b *Browser) click(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	switch {
	case a.Target.Selector != "":
		if err := b.run(ctx, chromedp.Click(a.Target.Selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
			return showrunner.ActionOutcome{}, fmt.Errorf("click %s: %w", a.Target.Selector, err)
		}
		return showrunner.ActionOutcome{Detail: "clicked " + a.Target.Selector}, nil

	case a.Target.Text != "":
		var pos struct{ X, Y float64 }
		if err := b.run(ctx, chromedp.Evaluate(findTextScript(a.Target.Text), &pos)); err != nil {
			return showrunner.ActionOutcome{}, fmt.Errorf("click %q: %w", a.Target.Text, err)
		}
		if err := b.clickAt(ctx, pos.X, pos.Y); err != nil {
			return showrunner.ActionOutcome{}, err
		}
		return showrunner.ActionOutcome{Detail: fmt.Sprintf("clicked %q", a.Target.Text)}, nil
	}

	x, y, ok := point(a)
	if !ok {
		return showrunner.ActionOutcome{}, fmt.Errorf("click: no target")
	}
	if err := b.clickAt(ctx, x, y); err != nil {
		return showrunner.ActionOutcome{}, err
	}
	return showrunner.ActionOutcome{Detail: fmt.Sprintf("clicked %.0f,%.0f", x, y)}, nil
}

func (b *Browser) clickAt(ctx context.Context, x, y float64) error {
	if err := b.run(ctx, chromedp.MouseClickXY(x, y)); err != nil {
		return fmt.Errorf("click at %.0f,%.0f: %w", x, y, err)
	}
	b.pointer.moveTo(x, y)
	return nil
}

func (b *Browser) typeText(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	text, ok := a.Params["text"]
	if !ok {
		return showrunner.ActionOutcome{}, fmt.Errorf("type: missing text param")
	}
	var action chromedp.Action = chromedp.KeyEvent(text)
	if a.Target.Selector != "" {
		action = chromedp.SendKeys(a.Target.Selector, text, chromedp.ByQuery)
	}
	if err := b.run(ctx, action); err != nil {
		return showrunner.ActionOutcome{}, fmt.Errorf("type: %w", err)
	}
	return showrunner.ActionOutcome{Detail: fmt.Sprintf("typed %d chars", len([]rune(text)))}, nil
}

func (b *Browser) press(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	combos := a.Param("keys", a.Param("key", ""))
	if combos == "" {
		return showrunner.ActionOutcome{}, fmt.Errorf("%s: missing key param", a.Kind)
	}

	var actions []chromedp.Action
	for _, combo := range strings.Split(combos, ",") {
		key, mods, err := parseKey(combo)
		if err != nil {
			return showrunner.ActionOutcome{}, err
		}
		actions = append(actions, chromedp.KeyEvent(key, chromedp.KeyModifiers(mods)))
	}
	if err := b.run(ctx, actions...); err != nil {
		return showrunner.ActionOutcome{}, fmt.Errorf("%s %s: %w", a.Kind, combos, err)
	}
	return showrunner.ActionOutcome{Detail: "pressed " + combos}, nil
}

func (b *Browser) move(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	x, y, ok := point(a)
	if !ok {
		return showrunner.ActionOutcome{}, fmt.Errorf("move: no coordinates")
	}
	if err := b.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y)); err != nil {
		return showrunner.ActionOutcome{}, fmt.Errorf("move: %w", err)
	}
	b.pointer.moveTo(x, y)
	return showrunner.ActionOutcome{Detail: fmt.Sprintf("moved to %.0f,%.0f", x, y)}, nil
}

func (b *Browser) scroll(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	dy, err := strconv.ParseFloat(a.Param("dy", "0"), 64)
	if err != nil {
		return showrunner.ActionOutcome{}, fmt.Errorf("scroll: bad dy: %w", err)
	}
	if err := b.ScrollBy(ctx, dy); err != nil {
		return showrunner.ActionOutcome{}, err
	}
	return showrunner.ActionOutcome{Detail: fmt.Sprintf("scrolled %.0fpx", dy)}, nil
}

// scrollTo goes to an absolute Params["y"] when set, otherwise brings the
// selector into view offset by Params["offset"]. Params["duration"] paces a
// smooth scroll.
func (b *Browser) scrollTo(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	offset, err := strconv.ParseFloat(a.Param("offset", "0"), 64)
	if err != nil {
		return showrunner.ActionOutcome{}, fmt.Errorf("scroll_to: bad offset: %w", err)
	}
	duration, err := time.ParseDuration(a.Param("duration", "0s"))
	if err != nil {
		return showrunner.ActionOutcome{}, fmt.Errorf("scroll_to: bad duration: %w", err)
	}

	var script, detail string
	switch {
	case a.Params["y"] != "":
		y, err := strconv.ParseFloat(a.Params["y"], 64)
		if err != nil {
			return showrunner.ActionOutcome{}, fmt.Errorf("scroll_to: bad y: %w", err)
		}
		script = fmt.Sprintf(`window.scrollTo({top: %g, behavior: %q}); true`, y+offset, behavior(duration > 0))
		detail = "scrolled to y=" + a.Params["y"]
	case a.Target.Selector != "":
		script = scrollToScript(a.Target.Selector, offset, duration > 0)
		detail = "scrolled to " + a.Target.Selector
	default:
		return showrunner.ActionOutcome{}, fmt.Errorf("scroll_to: no target")
	}

	var found bool
	actions := []chromedp.Action{chromedp.Evaluate(script, &found)}
	if duration > 0 {
		actions = append(actions, chromedp.Sleep(duration))
	}
	if err := b.run(ctx, actions...); err != nil {
		return showrunner.ActionOutcome{}, fmt.Errorf("scroll_to: %w", err)
	}
	if !found {
		return showrunner.ActionOutcome{}, fmt.Errorf("scroll_to: %s not found", a.Target.Selector)
	}
	return showrunner.ActionOutcome{Detail: detail}, nil
}

func (b *Browser) navigate(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	url := a.Param("url", a.Target.Text)
	if url == "" {
		return showrunner.ActionOutcome{}, fmt.Errorf("navigate: missing url param")
	}
	if err := b.Navigate(ctx, url); err != nil {
		return showrunner.ActionOutcome{}, err
	}
	return showrunner.ActionOutcome{Detail: "navigated to " + url}, nil
}

// Navigate loads url and waits PageLoadWait for it to settle.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	actions := []chromedp.Action{chromedp.Navigate(url)}
	if b.config.PageLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(b.config.PageLoadWait))
	}
	if err := b.run(ctx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	b.logger.Debug("navigated", slog.String("url", url))
	return nil
}

// ScrollBy implements framing.Actuator.
func (b *Browser) ScrollBy(ctx context.Context, delta float64) error {
	var ok bool
	if err := b.run(ctx, chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %g); true`, delta), &ok)); err != nil {
		return fmt.Errorf("scroll by %.0f: %w", delta, err)
	}
	return nil
}

// ReleaseInputs implements showrunner.InputReleaser: it releases the mouse
// buttons and modifier keys a scene may have left down.
func (b *Browser) ReleaseInputs(ctx context.Context) error {
	x, y := b.pointer.position()
	actions := []chromedp.Action{
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left),
	}
	for _, key := range []string{"Control", "Alt", "Shift", "Meta"} {
		actions = append(actions, input.DispatchKeyEvent(input.KeyUp).WithKey(key))
	}
	return b.run(ctx, actions...)
}

func behavior(smooth bool) string {
	if smooth {
		return "smooth"
	}
	return "instant"
}

func jsString(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

// findElement resolves a selector, or an element id when the selector has no
// CSS punctuation.
func findElement(target string) string {
	return fmt.Sprintf(`(function(t) {
	return document.getElementById(t) || (function() { try { return document.querySelector(t); } catch (e) { return null; } })();
})(%s)`, jsString(target))
}

func scrollToScript(selector string, offset float64, smooth bool) string {
	return fmt.Sprintf(`(function() {
	const el = %s;
	if (!el) return false;
	const top = el.getBoundingClientRect().top + window.scrollY + %g;
	window.scrollTo({top: top, behavior: %q});
	return true;
})()`, findElement(selector), offset, behavior(smooth))
}

func findTextScript(text string) string {
	return fmt.Sprintf(`(function(text) {
	const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_ELEMENT);
	let best = null;
	while (walker.nextNode()) {
		const el = walker.currentNode;
		if (el.innerText && el.innerText.trim().includes(text)) best = el;
	}
	if (!best) throw new Error("text not found: " + text);
	best.scrollIntoView({block: "center"});
	const r = best.getBoundingClientRect();
	return {X: r.left + r.width / 2, Y: r.top + r.height / 2};
})(%s)`, jsString(text))
}
