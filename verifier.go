package showrunner

import (
	"strings"
	"sync"
	"time"
)

// Predicate is a custom success check over an observation.
type Predicate func(obs Observation) bool

// VerifyEnv carries the facts a verification needs that are not part of the
// observation. The Runner fills it so Verify itself reads no clock.
type VerifyEnv struct {
	Elapsed time.Duration // since the current attempt started
	Stable  bool          // last stability result for the surface
}

// StepVerifier decides whether an observation satisfies a step's wait
// condition. Verify is pure: the same inputs always give the same answer.
type StepVerifier struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
}

// NewStepVerifier returns a verifier with no custom predicates.
func NewStepVerifier() *StepVerifier {
	return &StepVerifier{predicates: make(map[string]Predicate)}
}

// RegisterPredicate makes p available to WaitCustom conditions under name.
func (v *StepVerifier) RegisterPredicate(name string, p Predicate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.predicates[name] = p
}

// Verify judges obs against step.WaitFor.
//
//   - none: any observation satisfies it
//   - text_appears: case-insensitive substring of extracted or terminal text
//   - timeout_elapsed: env.Elapsed has reached the configured duration
//   - element_stable: env.Stable
//   - custom: the registered predicate; unknown names never succeed
func (v *StepVerifier) Verify(step Step, obs Observation, env VerifyEnv) bool {
	cond := step.WaitFor
	switch cond.Kind {
	case WaitNone:
		return true
	case WaitTextAppears:
		return containsFold(obs.Text, cond.Text) || containsFold(obs.TerminalText, cond.Text)
	case WaitTimeoutElapsed:
		return env.Elapsed >= cond.Duration
	case WaitElementStable:
		return env.Stable
	case WaitCustom:
		v.mu.RLock()
		p, ok := v.predicates[cond.Predicate]
		v.mu.RUnlock()
		return ok && p(obs)
	default:
		return false
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
