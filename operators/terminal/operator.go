package terminal

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/teranos/showrunner"
)

// Operator adapts a Stage to the Runner's collaborators: it handles terminal
// actions, observes the view and rasterizes it for stability checks and
// recording.
type Operator struct {
	stage *Stage

	renderMu sync.Mutex
	renderer *Renderer

	condMu     sync.Mutex
	conditions []string
}

// NewOperator wraps a started stage.
func NewOperator(stage *Stage, config RenderConfig) *Operator {
	return &Operator{stage: stage, renderer: NewRenderer(config)}
}

// Stage returns the wrapped stage.
func (op *Operator) Stage() *Stage { return op.stage }

// Register installs the terminal handlers on d:
//
//   - type: Params["text"], one key at a time
//   - press: Params["key"], for example "enter" or "ctrl+r"
//   - hotkey: Params["keys"], comma separated and pressed in order
//   - terminal: Params["command"] typed and submitted with enter
func (op *Operator) Register(d *showrunner.HandlerDispatcher) error {
	handlers := map[showrunner.ActionKind]showrunner.ActionHandler{
		showrunner.ActionType:     op.typeText,
		showrunner.ActionPress:    op.press,
		showrunner.ActionHotkey:   op.hotkey,
		showrunner.ActionTerminal: op.command,
	}
	for kind, h := range handlers {
		if err := d.Register(kind, h); err != nil {
			return err
		}
	}
	return nil
}

func (op *Operator) typeText(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	text, ok := a.Params["text"]
	if !ok {
		return showrunner.ActionOutcome{}, fmt.Errorf("type: missing text param")
	}
	if err := op.stage.Type(ctx, text); err != nil {
		return showrunner.ActionOutcome{}, err
	}
	return showrunner.ActionOutcome{Detail: fmt.Sprintf("typed %d chars", len([]rune(text)))}, nil
}

func (op *Operator) press(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	key := a.Param("key", "")
	if key == "" {
		return showrunner.ActionOutcome{}, fmt.Errorf("press: missing key param")
	}
	if err := op.stage.Press(ctx, key); err != nil {
		return showrunner.ActionOutcome{}, err
	}
	return showrunner.ActionOutcome{Detail: "pressed " + key}, nil
}

func (op *Operator) hotkey(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	keys := strings.Split(a.Param("keys", a.Param("key", "")), ",")
	pressed := 0
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if err := op.stage.Press(ctx, key); err != nil {
			return showrunner.ActionOutcome{}, err
		}
		pressed++
	}
	if pressed == 0 {
		return showrunner.ActionOutcome{}, fmt.Errorf("hotkey: missing keys param")
	}
	return showrunner.ActionOutcome{Detail: fmt.Sprintf("pressed %d keys", pressed)}, nil
}

func (op *Operator) command(ctx context.Context, a showrunner.Action) (showrunner.ActionOutcome, error) {
	cmd, ok := a.Params["command"]
	if !ok {
		return showrunner.ActionOutcome{}, fmt.Errorf("terminal: missing command param")
	}
	if err := op.stage.Type(ctx, cmd); err != nil {
		return showrunner.ActionOutcome{}, err
	}
	if err := op.stage.Press(ctx, "enter"); err != nil {
		return showrunner.ActionOutcome{}, err
	}
	return showrunner.ActionOutcome{Detail: "ran " + cmd}, nil
}

// Observe implements showrunner.Sensor. The mode is reported as the context
// id so scenes can wait on mode changes through custom predicates. View,
// mode and registered conditions all come from the same model.
func (op *Operator) Observe(ctx context.Context) (showrunner.Observation, error) {
	if err := op.stage.Err(); err != nil {
		return showrunner.Observation{}, err
	}
	if err := ctx.Err(); err != nil {
		return showrunner.Observation{}, err
	}
	m, _ := op.stage.current()
	if m == nil {
		return showrunner.Observation{}, ErrNotStarted
	}
	view := m.View()
	obs := showrunner.Observation{
		Sample:       op.render(view),
		TerminalText: showrunner.StripANSI(view),
		ContextID:    m.CurrentMode(),
		Timestamp:    time.Now(),
	}
	if names := op.conditionNames(); len(names) > 0 {
		obs.Conditions = make(map[string]bool, len(names))
		for _, name := range names {
			obs.Conditions[name] = m.CheckCondition(name)
		}
	}
	return obs, nil
}

func (op *Operator) conditionNames() []string {
	op.condMu.Lock()
	defer op.condMu.Unlock()
	return op.conditions
}

// Sample implements stability.SampleSource.
func (op *Operator) Sample(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return op.render(op.stage.View()), nil
}

func (op *Operator) render(view string) image.Image {
	op.renderMu.Lock()
	defer op.renderMu.Unlock()
	return op.renderer.Render(view)
}

// ReleaseInputs implements showrunner.InputReleaser. Terminal keys are never
// held, so there is nothing to let go of beyond a failed stage.
func (op *Operator) ReleaseInputs(context.Context) error {
	return op.stage.Err()
}

// RegisterConditions exposes model conditions as custom wait predicates.
// Observe records every registered name; the predicates only read that
// record, so a verdict never depends on when it is asked.
func (op *Operator) RegisterConditions(v *showrunner.StepVerifier, names ...string) {
	op.condMu.Lock()
	known := make(map[string]bool, len(op.conditions))
	for _, name := range op.conditions {
		known[name] = true
	}
	for _, name := range names {
		if !known[name] {
			known[name] = true
			op.conditions = append(op.conditions, name)
		}
	}
	op.condMu.Unlock()

	for _, name := range names {
		v.RegisterPredicate(name, func(obs showrunner.Observation) bool {
			return obs.Conditions[name]
		})
	}
}

// RegisterModePredicate registers "mode:<name>" predicates that match the
// observation's context id.
func RegisterModePredicate(v *showrunner.StepVerifier, modes ...string) {
	for _, mode := range modes {
		v.RegisterPredicate("mode:"+mode, func(obs showrunner.Observation) bool {
			return strings.EqualFold(obs.ContextID, mode)
		})
	}
}
