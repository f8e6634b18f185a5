package terminal

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Shell modes.
const (
	ModeInput   = "input"
	ModeRunning = "running"
)

// CommandRunner executes one command line and returns its combined output
// and exit code.
type CommandRunner func(ctx context.Context, command, dir string) (string, int, error)

type shellEntry struct {
	command  string
	output   string
	exitCode int
}

type commandDoneMsg struct {
	entry shellEntry
	err   error
}

// Shell is a small interactive shell for terminal demos: a prompt, the
// scrollback of earlier commands and a running state while one executes.
// Commands run through sh -c unless another CommandRunner is set.
type Shell struct {
	Prompt  string
	Dir     string
	Timeout time.Duration
	Run     CommandRunner

	input   string
	running bool
	entries []shellEntry
	width   int
	height  int
}

// NewShell returns a shell with a "$ " prompt in dir.
func NewShell(dir string) Shell {
	return Shell{Prompt: "$ ", Dir: dir, Timeout: 30 * time.Second, Run: runSh}
}

func runSh(ctx context.Context, command, dir string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode(), nil
	}
	if err != nil {
		return string(out), -1, err
	}
	return string(out), 0, nil
}

func (s Shell) Init() tea.Cmd { return nil }

func (s Shell) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width, s.height = msg.Width, msg.Height
	case commandDoneMsg:
		entry := msg.entry
		if msg.err != nil {
			entry.output += msg.err.Error() + "\n"
		}
		s.entries = append(append([]shellEntry(nil), s.entries...), entry)
		s.running = false
	case tea.KeyMsg:
		if s.running {
			return s, nil
		}
		return s.handleKey(msg)
	}
	return s, nil
}

func (s Shell) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyRunes, tea.KeySpace:
		s.input += string(msg.Runes)
	case tea.KeyBackspace:
		if r := []rune(s.input); len(r) > 0 {
			s.input = string(r[:len(r)-1])
		}
	case tea.KeyCtrlU:
		s.input = ""
	case tea.KeyCtrlL:
		s.entries = nil
	case tea.KeyEnter:
		command := strings.TrimSpace(s.input)
		s.input = ""
		switch command {
		case "":
			return s, nil
		case "clear":
			s.entries = nil
			return s, nil
		}
		s.running = true
		return s, s.execute(command)
	}
	return s, nil
}

func (s Shell) execute(command string) tea.Cmd {
	run, dir, timeout := s.Run, s.Dir, s.Timeout
	if run == nil {
		run = runSh
	}
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		out, code, err := run(ctx, command, dir)
		return commandDoneMsg{entry: shellEntry{command: command, output: out, exitCode: code}, err: err}
	}
}

func (s Shell) View() string {
	var b strings.Builder
	for _, e := range s.entries {
		b.WriteString(s.Prompt + e.command + "\n")
		b.WriteString(e.output)
		if e.output != "" && !strings.HasSuffix(e.output, "\n") {
			b.WriteByte('\n')
		}
	}
	if s.running {
		b.WriteString("\x1b[2m...\x1b[0m")
	} else {
		b.WriteString(s.Prompt + s.input + "\x1b[7m \x1b[0m")
	}

	view := b.String()
	if s.height > 0 {
		lines := strings.Split(view, "\n")
		if len(lines) > s.height {
			view = strings.Join(lines[len(lines)-s.height:], "\n")
		}
	}
	return view
}

func (s Shell) CurrentInput() string { return s.input }

func (s Shell) CurrentMode() string {
	if s.running {
		return ModeRunning
	}
	return ModeInput
}

// CheckCondition supports idle, last_ok, last_failed and has_output.
func (s Shell) CheckCondition(condition string) bool {
	var last *shellEntry
	if n := len(s.entries); n > 0 {
		last = &s.entries[n-1]
	}
	switch condition {
	case "idle":
		return !s.running
	case "last_ok":
		return !s.running && last != nil && last.exitCode == 0
	case "last_failed":
		return !s.running && last != nil && last.exitCode != 0
	case "has_output":
		return last != nil && last.output != ""
	default:
		return false
	}
}

// ShellConditions names what Shell.CheckCondition understands.
var ShellConditions = []string{"idle", "last_ok", "last_failed", "has_output"}
