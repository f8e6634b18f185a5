package terminal

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

var namedKeys = map[string]tea.KeyType{
	"enter":     tea.KeyEnter,
	"return":    tea.KeyEnter,
	"tab":       tea.KeyTab,
	"shift+tab": tea.KeyShiftTab,
	"esc":       tea.KeyEsc,
	"escape":    tea.KeyEsc,
	"backspace": tea.KeyBackspace,
	"delete":    tea.KeyDelete,
	"space":     tea.KeySpace,
	"up":        tea.KeyUp,
	"down":      tea.KeyDown,
	"left":      tea.KeyLeft,
	"right":     tea.KeyRight,
	"home":      tea.KeyHome,
	"end":       tea.KeyEnd,
	"pgup":      tea.KeyPgUp,
	"pgdown":    tea.KeyPgDown,
	"ctrl+a":    tea.KeyCtrlA,
	"ctrl+c":    tea.KeyCtrlC,
	"ctrl+d":    tea.KeyCtrlD,
	"ctrl+e":    tea.KeyCtrlE,
	"ctrl+k":    tea.KeyCtrlK,
	"ctrl+l":    tea.KeyCtrlL,
	"ctrl+n":    tea.KeyCtrlN,
	"ctrl+p":    tea.KeyCtrlP,
	"ctrl+r":    tea.KeyCtrlR,
	"ctrl+u":    tea.KeyCtrlU,
	"ctrl+w":    tea.KeyCtrlW,
}

// ParseKey turns a key name such as "enter", "ctrl+r" or "alt+x" into a
// key message. A single character is sent as runes.
func ParseKey(name string) (tea.KeyMsg, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if t, ok := namedKeys[key]; ok {
		return tea.KeyMsg{Type: t}, nil
	}

	if rest, ok := strings.CutPrefix(key, "alt+"); ok {
		inner, err := ParseKey(rest)
		if err != nil {
			return tea.KeyMsg{}, err
		}
		inner.Alt = true
		return inner, nil
	}

	if r := []rune(strings.TrimSpace(name)); len(r) == 1 {
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: r}, nil
	}
	return tea.KeyMsg{}, fmt.Errorf("terminal: unknown key %q", name)
}

// Send injects msg and waits until the model has processed an update issued
// after it, or SettleTimeout passes.
func (s *Stage) Send(ctx context.Context, msg tea.Msg) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	if err := s.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	before := s.updateSeq.Load()
	s.program.Send(msg)
	s.waitForSeq(ctx, before+1)
	return s.Err()
}

// waitForSeq blocks until the sync goroutine has processed seq.
func (s *Stage) waitForSeq(ctx context.Context, seq int64) {
	timer := time.NewTimer(s.config.SettleTimeout)
	defer timer.Stop()

	for {
		_, changed := s.current()
		if s.lastProcessedSeq.Load() >= seq {
			return
		}
		select {
		case <-changed:
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Type sends text one character at a time, pausing TypingSpeed between
// characters.
func (s *Stage) Type(ctx context.Context, text string) error {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()

	for i, char := range text {
		if i > 0 && s.config.TypingSpeed > 0 {
			if err := sleepCtx(ctx, s.config.TypingSpeed); err != nil {
				return err
			}
		}
		msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{char}}
		if char == ' ' {
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		}
		if err := s.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Press sends one named key.
func (s *Stage) Press(ctx context.Context, key string) error {
	msg, err := ParseKey(key)
	if err != nil {
		return err
	}
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	return s.Send(ctx, msg)
}

// ClearInput presses backspace once per input character.
func (s *Stage) ClearInput(ctx context.Context) error {
	for range []rune(s.Input()) {
		if err := s.Press(ctx, "backspace"); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
