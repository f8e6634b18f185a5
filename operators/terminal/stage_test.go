package terminal

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/showrunner"
)

// mockREPL is a value-type model so each Update yields an independent copy.
type mockREPL struct {
	input   string
	mode    string
	history []string
	width   int
}

func (m mockREPL) Init() tea.Cmd { return nil }

func (m mockREPL) View() string {
	var b strings.Builder
	for _, h := range m.history {
		b.WriteString("> " + h + "\n")
		b.WriteString("\x1b[38;5;240mok\x1b[0m\n")
	}
	b.WriteString("Mock REPL: " + m.input)
	return b.String()
}

func (m mockREPL) CurrentInput() string { return m.input }
func (m mockREPL) CurrentMode() string  { return m.mode }

func (m mockREPL) CheckCondition(condition string) bool {
	switch condition {
	case "has_history":
		return len(m.history) > 0
	default:
		return false
	}
}

func (m mockREPL) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyRunes, tea.KeySpace:
			m.input += string(msg.Runes)
		case tea.KeyEnter:
			m.history = append(append([]string(nil), m.history...), m.input)
			m.input = ""
			m.mode = "executed"
		case tea.KeyTab:
			m.mode = "tab_pressed"
		case tea.KeyBackspace:
			if r := []rune(m.input); len(r) > 0 {
				m.input = string(r[:len(r)-1])
			}
		case tea.KeyEsc:
			m.mode = "escaped"
		case tea.KeyCtrlR:
			m.mode = "search"
		}
	}
	return m, nil
}

type panicModel struct{ mockREPL }

func (m panicModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && k.Type == tea.KeyEnter {
		panic("boom")
	}
	next, cmd := m.mockREPL.Update(msg)
	return panicModel{next.(mockREPL)}, cmd
}

func testConfig() Config {
	c := DefaultConfig()
	c.TypingSpeed = 0
	c.SettleTimeout = 2 * time.Second
	return c
}

func startStage(t *testing.T, model Model, config Config) *Stage {
	t.Helper()
	stage := NewStage(model, config, nil)
	require.NoError(t, stage.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = stage.Stop(ctx)
	})
	return stage
}

func TestStage_BasicInteractions(t *testing.T) {
	stage := startStage(t, mockREPL{mode: "initial"}, testConfig())
	ctx := context.Background()

	require.NoError(t, stage.Type(ctx, "hello world"))
	assert.Equal(t, "hello world", stage.Input())

	require.NoError(t, stage.Press(ctx, "tab"))
	assert.Equal(t, "tab_pressed", stage.Mode())

	require.NoError(t, stage.Press(ctx, "backspace"))
	assert.Equal(t, "hello worl", stage.Input())

	require.NoError(t, stage.Press(ctx, "esc"))
	assert.Equal(t, "escaped", stage.Mode())

	require.NoError(t, stage.Press(ctx, "enter"))
	assert.Equal(t, "executed", stage.Mode())
	assert.Contains(t, stage.View(), "> hello worl")
	assert.True(t, stage.CheckCondition("has_history"))

	assert.False(t, stage.HasDroppedUpdates())
	stats := stage.Stats()
	assert.Equal(t, stats["updates_generated"], stats["updates_processed"])
}

func TestStage_TypingSpeed(t *testing.T) {
	config := testConfig()
	config.TypingSpeed = 30 * time.Millisecond
	stage := startStage(t, mockREPL{}, config)

	start := time.Now()
	require.NoError(t, stage.Type(context.Background(), "abc"))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, "abc", stage.Input())
}

func TestStage_ClearInput(t *testing.T) {
	stage := startStage(t, mockREPL{input: "initial"}, testConfig())
	ctx := context.Background()

	require.NoError(t, stage.Type(ctx, "hello"))
	assert.Equal(t, "initialhello", stage.Input())

	require.NoError(t, stage.ClearInput(ctx))
	assert.Equal(t, "", stage.Input())
}

func TestStage_NotStarted(t *testing.T) {
	stage := NewStage(mockREPL{}, testConfig(), nil)
	assert.ErrorIs(t, stage.Press(context.Background(), "enter"), ErrNotStarted)
	assert.NoError(t, stage.Stop(context.Background()))
}

func TestStage_ModelPanicFailsStage(t *testing.T) {
	stage := startStage(t, panicModel{}, testConfig())
	ctx := context.Background()

	require.NoError(t, stage.Type(ctx, "x"))
	err := stage.Press(ctx, "enter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Error(t, stage.Err())

	// Later input is refused.
	assert.Error(t, stage.Type(ctx, "y"))
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name string
		want tea.KeyMsg
	}{
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}},
		{" Escape ", tea.KeyMsg{Type: tea.KeyEsc}},
		{"ctrl+r", tea.KeyMsg{Type: tea.KeyCtrlR}},
		{"pgdown", tea.KeyMsg{Type: tea.KeyPgDown}},
		{"q", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}},
		{"alt+x", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}, Alt: true}},
		{"alt+enter", tea.KeyMsg{Type: tea.KeyEnter, Alt: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseKey("hyper+z")
	assert.Error(t, err)
}

func TestOperator_RunsScene(t *testing.T) {
	stage := startStage(t, mockREPL{mode: "idle"}, testConfig())
	op := NewOperator(stage, DefaultRenderConfig())

	dispatcher := showrunner.NewHandlerDispatcher()
	require.NoError(t, op.Register(dispatcher))

	verifier := showrunner.NewStepVerifier()
	op.RegisterConditions(verifier, "has_history")
	RegisterModePredicate(verifier, "search")

	cfg := showrunner.DefaultRunnerConfig()
	cfg.WaitTimeout = time.Second
	cfg.PollInterval = 5 * time.Millisecond
	cfg.SceneSettle = 0

	runner := showrunner.NewRunner(dispatcher, op,
		showrunner.WithConfig(cfg),
		showrunner.WithVerifier(verifier),
		showrunner.WithInputReleaser(op),
	)

	scene := showrunner.Scene{
		Name: "repl",
		Steps: []showrunner.Step{
			{
				Action:  showrunner.Action{Kind: showrunner.ActionTerminal, Params: map[string]string{"command": "status"}},
				WaitFor: showrunner.WaitCondition{Kind: showrunner.WaitTextAppears, Text: "> STATUS"},
			},
			{
				Action:  showrunner.Action{Kind: showrunner.ActionHotkey, Params: map[string]string{"keys": "ctrl+r"}},
				WaitFor: showrunner.WaitCondition{Kind: showrunner.WaitCustom, Predicate: "mode:search"},
			},
			{
				Action:  showrunner.Action{Kind: showrunner.ActionPress, Params: map[string]string{"key": "enter"}},
				WaitFor: showrunner.WaitCondition{Kind: showrunner.WaitCustom, Predicate: "has_history"},
			},
		},
	}

	result := runner.ExecuteDemo(context.Background(), showrunner.Demo{Name: "terminal", Scenes: []showrunner.Scene{scene}})
	require.True(t, result.Success, "demo failed: %v", result.Error)
	assert.Equal(t, 3, result.Scenes[0].StepsCompleted)

	obs, err := op.Observe(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, obs.TerminalText, "\x1b[")
	assert.Contains(t, obs.TerminalText, "ok")
	assert.Equal(t, "executed", obs.ContextID)
	require.NotNil(t, obs.Sample)
	assert.Equal(t, NewRenderer(DefaultRenderConfig()).Bounds(), obs.Sample.Bounds())
}

func TestOperator_MissingParams(t *testing.T) {
	stage := startStage(t, mockREPL{}, testConfig())
	op := NewOperator(stage, DefaultRenderConfig())
	dispatcher := showrunner.NewHandlerDispatcher()
	require.NoError(t, op.Register(dispatcher))

	for _, kind := range []showrunner.ActionKind{showrunner.ActionType, showrunner.ActionPress, showrunner.ActionHotkey, showrunner.ActionTerminal} {
		_, err := dispatcher.Dispatch(context.Background(), showrunner.Action{Kind: kind})
		assert.Error(t, err, kind)
	}
}

func TestRenderer(t *testing.T) {
	r := NewRenderer(RenderConfig{Columns: 10, Rows: 2})
	blank := r.Render("")
	text := r.Render("\x1b[1mhi\x1b[0m\nthere and far beyond the edge\nclipped")

	assert.Equal(t, blank.Bounds(), text.Bounds())
	assert.Equal(t, 70, text.Bounds().Dx())
	assert.Equal(t, 26, text.Bounds().Dy())
	assert.NotEqual(t, blank.Pix, text.Pix)

	path := t.TempDir() + "/frame.png"
	require.NoError(t, SavePNG(text, path))
}

func TestOperator_ConditionsComeFromObservation(t *testing.T) {
	stage := startStage(t, mockREPL{}, testConfig())
	op := NewOperator(stage, DefaultRenderConfig())

	verifier := showrunner.NewStepVerifier()
	op.RegisterConditions(verifier, "has_history", "has_history")
	step := showrunner.Step{WaitFor: showrunner.WaitCondition{Kind: showrunner.WaitCustom, Predicate: "has_history"}}

	before, err := op.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"has_history": false}, before.Conditions)
	assert.False(t, verifier.Verify(step, before, showrunner.VerifyEnv{}))

	require.NoError(t, stage.Press(context.Background(), "enter"))
	assert.True(t, stage.CheckCondition("has_history"))

	// the earlier observation keeps its verdict after the model moved on
	assert.False(t, verifier.Verify(step, before, showrunner.VerifyEnv{}))

	after, err := op.Observe(context.Background())
	require.NoError(t, err)
	assert.True(t, verifier.Verify(step, after, showrunner.VerifyEnv{}))
}
