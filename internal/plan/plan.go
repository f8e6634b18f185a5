// Package plan decodes demo plans from YAML into showrunner.Demo values.
//
// A plan looks like:
//
//	name: checkout tour
//	operator: browser
//	url: https://shop.example.com
//	retry:
//	  max_retries: 3
//	  backoff: 1s
//	  exponential: true
//	scenes:
//	  - name: landing
//	    journey:
//	      waypoints_file: landing.waypoints.yaml
//	      overrides:
//	        pricing: {pause: 5s}
//	  - name: buy
//	    on_failure: retry
//	    steps:
//	      - action: {kind: click, target: {text: "Buy now"}}
//	        wait_for: {kind: text_appears, text: "Checkout"}
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"

	"github.com/teranos/showrunner"
	"github.com/teranos/showrunner/trip"
	"github.com/teranos/showrunner/waypoint"
)

// ErrInvalidPlan wraps every validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Operators a plan can target.
const (
	OperatorTerminal = "terminal"
	OperatorBrowser  = "browser"
)

// Plan is the file form of a demo.
type Plan struct {
	Name     string     `yaml:"name"`
	Operator string     `yaml:"operator"`
	URL      string     `yaml:"url,omitempty"`
	Dir      string     `yaml:"dir,omitempty"` // working directory for terminal commands
	Width    int        `yaml:"width,omitempty"`
	Height   int        `yaml:"height,omitempty"`
	FPS      int        `yaml:"fps,omitempty"`
	Retry    *RetryPlan `yaml:"retry,omitempty"`
	// Conditions are model conditions exposed as custom predicates
	Conditions []string    `yaml:"conditions,omitempty"`
	Scenes     []ScenePlan `yaml:"scenes"`
}

// RetryPlan is a demo retry policy. Fields left out of the file keep the
// values of trip.DefaultRetryConfig, so a partial block still backs off
// exponentially up to the default cap.
type RetryPlan trip.RetryConfig

var retryFields = []string{"max_retries", "backoff", "max_backoff", "exponential"}

func (r *RetryPlan) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i < len(value.Content); i += 2 {
			key := value.Content[i]
			if !slices.Contains(retryFields, key.Value) {
				return fmt.Errorf("line %d: unknown retry field %q%s", key.Line, key.Value, suggest(key.Value, retryFields))
			}
		}
	}
	cfg := trip.DefaultRetryConfig()
	if err := value.Decode(&cfg); err != nil {
		return err
	}
	*r = RetryPlan(cfg)
	return nil
}

// ScenePlan is the file form of a scene.
type ScenePlan struct {
	Name        string            `yaml:"name"`
	Goal        string            `yaml:"goal,omitempty"`
	Narration   string            `yaml:"narration,omitempty"`
	OnFailure   string            `yaml:"on_failure,omitempty"`
	MaxAttempts int               `yaml:"max_attempts,omitempty"`
	Steps       []showrunner.Step `yaml:"steps,omitempty"`
	Journey     *JourneyPlan      `yaml:"journey,omitempty"`
}

// JourneyPlan lists waypoints inline or points at a file written by
// `showrunner waypoints`.
type JourneyPlan struct {
	WaypointsFile string                       `yaml:"waypoints_file,omitempty"`
	Waypoints     []waypoint.Waypoint          `yaml:"waypoints,omitempty"`
	Overrides     map[string]waypoint.Override `yaml:"overrides,omitempty"`
}

// WaypointsFile is the document `showrunner waypoints` writes.
type WaypointsFile struct {
	URL       string              `yaml:"url,omitempty"`
	Waypoints []waypoint.Waypoint `yaml:"waypoints"`
}

// Load reads and validates the plan at path. Relative waypoint files are
// resolved against the plan's directory.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	p, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range p.Scenes {
		if j := p.Scenes[i].Journey; j != nil && j.WaypointsFile != "" && !filepath.IsAbs(j.WaypointsFile) {
			j.WaypointsFile = filepath.Join(base, j.WaypointsFile)
		}
	}
	return p, nil
}

// Decode parses and validates a plan. Unknown fields are errors.
func Decode(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidPlan)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if p.Operator == "" {
		p.Operator = OperatorTerminal
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the plan without touching the filesystem.
func (p *Plan) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p.Name == "" {
		fail("name is required")
	}
	switch p.Operator {
	case OperatorTerminal:
	case OperatorBrowser:
		if p.URL == "" {
			fail("url is required for the browser operator")
		}
	default:
		fail("unknown operator %q", p.Operator)
	}
	if p.Retry != nil && p.Retry.MaxRetries < 0 {
		fail("retry.max_retries must not be negative")
	}
	if len(p.Scenes) == 0 {
		fail("at least one scene is required")
	}

	for i, s := range p.Scenes {
		where := fmt.Sprintf("scene %d", i)
		if s.Name != "" {
			where = fmt.Sprintf("scene %q", s.Name)
		} else {
			fail("%s: name is required", where)
		}
		if _, err := showrunner.ParseFailurePolicy(s.OnFailure); err != nil {
			fail("%s: %v", where, err)
		}
		if s.MaxAttempts < 0 {
			fail("%s: max_attempts must not be negative", where)
		}
		if len(s.Steps) == 0 && s.Goal == "" && s.Journey == nil {
			fail("%s: needs steps, a goal or a journey", where)
		}
		if j := s.Journey; j != nil && j.WaypointsFile == "" && len(j.Waypoints) == 0 {
			fail("%s: journey needs waypoints or waypoints_file", where)
		}
		for k, step := range s.Steps {
			if err := validateStep(step); err != nil {
				fail("%s step %d: %v", where, k, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, errors.Join(errs...))
	}
	return nil
}

func validateStep(step showrunner.Step) error {
	if !step.Action.Kind.Valid() {
		return fmt.Errorf("unknown action kind %q%s", step.Action.Kind, suggest(string(step.Action.Kind), actionKindNames()))
	}
	if step.MaxRetries != nil && *step.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	w := step.WaitFor
	switch w.Kind {
	case showrunner.WaitNone, showrunner.WaitElementStable:
	case showrunner.WaitTextAppears:
		if w.Text == "" {
			return errors.New("text_appears needs text")
		}
	case showrunner.WaitTimeoutElapsed:
		if w.Duration <= 0 {
			return errors.New("timeout_elapsed needs a positive duration")
		}
	case showrunner.WaitCustom:
		if w.Predicate == "" {
			return errors.New("custom wait needs a predicate")
		}
	default:
		return fmt.Errorf("unknown wait kind %q%s", w.Kind, suggest(string(w.Kind), waitKindNames))
	}
	return nil
}

var waitKindNames = []string{
	string(showrunner.WaitTextAppears),
	string(showrunner.WaitTimeoutElapsed),
	string(showrunner.WaitElementStable),
	string(showrunner.WaitCustom),
}

func actionKindNames() []string {
	names := make([]string, len(showrunner.ActionKinds))
	for i, k := range showrunner.ActionKinds {
		names[i] = string(k)
	}
	return names
}

// suggest returns a "did you mean" hint for near misses of at most two edits.
func suggest(got string, known []string) string {
	best, bestDist := "", 3
	for _, k := range known {
		if d := levenshtein.ComputeDistance(got, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

// Demo builds the runnable demo, reading waypoint files and applying
// overrides.
func (p *Plan) Demo() (showrunner.Demo, error) {
	demo := showrunner.Demo{
		Name: p.Name,
		Config: showrunner.DemoConfig{
			Width:  p.Width,
			Height: p.Height,
			FPS:    p.FPS,
		},
	}
	if p.Retry != nil {
		demo.Config.Retry = trip.RetryConfig(*p.Retry)
	}

	for _, s := range p.Scenes {
		policy, err := showrunner.ParseFailurePolicy(s.OnFailure)
		if err != nil {
			return showrunner.Demo{}, fmt.Errorf("scene %q: %w", s.Name, err)
		}
		scene := showrunner.Scene{
			Name:        s.Name,
			Goal:        s.Goal,
			Narration:   s.Narration,
			OnFailure:   policy,
			MaxAttempts: s.MaxAttempts,
			Steps:       append([]showrunner.Step(nil), s.Steps...),
		}
		if s.Journey != nil {
			journey, err := s.Journey.build()
			if err != nil {
				return showrunner.Demo{}, fmt.Errorf("scene %q: %w", s.Name, err)
			}
			scene.Journey = journey
		}
		demo.Scenes = append(demo.Scenes, scene)
	}
	return demo, nil
}

func (j *JourneyPlan) build() (*waypoint.Journey, error) {
	waypoints := j.Waypoints
	if j.WaypointsFile != "" {
		file, err := ReadWaypoints(j.WaypointsFile)
		if err != nil {
			return nil, err
		}
		waypoints = append(file.Waypoints, waypoints...)
	}
	if len(j.Overrides) > 0 {
		var err error
		if waypoints, err = waypoint.ApplyNamedOverrides(waypoints, j.Overrides); err != nil {
			return nil, err
		}
	}
	return waypoint.Seal(waypoints), nil
}

// ReadWaypoints loads a waypoints document.
func ReadWaypoints(path string) (*WaypointsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading waypoints: %w", err)
	}
	var file WaypointsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing waypoints %s: %w", path, err)
	}
	return &file, nil
}

// WriteWaypoints encodes a waypoints document to w.
func WriteWaypoints(w io.Writer, file WaypointsFile) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return err
	}
	return enc.Close()
}
