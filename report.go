package showrunner

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"
)

//go:embed html_templates/run_report.html
var runReportTemplate string

// ReportTimestampFormat names per-run report directories.
const ReportTimestampFormat = "20060102_150405"

// RunReport is the view model of one demo run.
type RunReport struct {
	RunID       string
	DemoName    string
	Timestamp   string
	Duration    time.Duration
	Success     bool
	Interrupted bool
	Reason      string
	FinalState  string
	VideoPath   string
	Failure     string
	Scenes      []SceneReport
	Warnings    []string
	Stats       map[string]int64
	TripReport  string
	Metadata    map[string]string
	Recording   []template.URL // sampled frames from the recorder
}

// SceneReport is one scene row of a RunReport.
type SceneReport struct {
	Index    int
	Name     string
	Status   string
	Attempts int
	Retries  int
	Duration time.Duration
	Error    string
	Steps    []StepReport
}

// StepReport is one step row, with the observation that settled it.
type StepReport struct {
	Index    int
	Label    string
	Status   string
	Attempts int
	Duration time.Duration
	Error    string
	Warnings []string
	Terminal template.HTML
	Text     string
	Frame    template.URL // PNG data URL of the observed sample
}

// RunMetadata is embedded as JSON in every report so dashboards can index
// runs without scraping HTML.
type RunMetadata struct {
	RunID      string `json:"runId"`
	DemoName   string `json:"demoName"`
	Duration   string `json:"duration"`
	SceneCount int    `json:"sceneCount"`
	FrameCount int    `json:"frameCount"`
	Timestamp  string `json:"timestamp"`
	Success    bool   `json:"success"`
	State      string `json:"state"`
}

// NewRunReport builds a report from a demo result. stats is typically
// Runner.Stats() and may be nil.
func NewRunReport(result DemoResult, stats map[string]int64) RunReport {
	report := RunReport{
		RunID:       result.RunID,
		DemoName:    result.Name,
		Timestamp:   time.Now().Format(ReportTimestampFormat),
		Duration:    result.Duration,
		Success:     result.Success,
		Interrupted: result.Interrupted,
		Reason:      result.InterruptReason,
		VideoPath:   result.VideoPath,
		Warnings:    result.Warnings,
		Stats:       stats,
		TripReport:  result.TripReport,
		Metadata:    map[string]string{},
	}
	if result.FirstFailure != nil {
		report.Failure = fmt.Sprintf("scene %d step %d: %s",
			result.FirstFailure.Scene, result.FirstFailure.Step, result.FirstFailure.Message)
	}
	report.FinalState = result.FinalState().String()

	for _, sc := range result.Scenes {
		report.Scenes = append(report.Scenes, newSceneReport(sc))
	}
	return report
}

// FinalState is the terminal Runner state the result corresponds to.
func (r DemoResult) FinalState() State {
	switch {
	case r.Interrupted:
		return StateStopped
	case r.Success:
		return StateCompleted
	default:
		return StateFailed
	}
}

func newSceneReport(sc SceneResult) SceneReport {
	row := SceneReport{
		Index:    sc.Index,
		Name:     sc.Name,
		Status:   sceneStatus(sc),
		Attempts: sc.Attempts,
		Retries:  sc.RetriesUsed,
		Duration: sc.Duration,
	}
	if sc.Error != nil {
		row.Error = sc.Error.Error()
	}

	for _, st := range sc.Steps {
		step := StepReport{
			Index:    st.Index,
			Label:    st.Label,
			Status:   stepStatus(st),
			Attempts: st.Attempts,
			Duration: st.Duration,
			Warnings: st.Warnings,
		}
		if st.Error != nil {
			step.Error = st.Error.Error()
		}
		if obs := st.Observation; obs != nil {
			step.Text = obs.Text
			if obs.TerminalText != "" {
				step.Terminal = TerminalHTML(obs.TerminalText)
			}
			if obs.Sample != nil {
				if url, err := imageDataURL(obs.Sample); err == nil {
					step.Frame = url
				}
			}
		}
		row.Steps = append(row.Steps, step)
	}
	return row
}

func sceneStatus(sc SceneResult) string {
	switch {
	case sc.Success:
		return "passed"
	case sc.Interrupted:
		return "interrupted"
	case sc.Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

func stepStatus(st StepResult) string {
	switch {
	case st.Success:
		return "passed"
	case st.Interrupted:
		return "interrupted"
	default:
		return "failed"
	}
}

// FrameCount is the number of steps with an embedded frame.
func (r RunReport) FrameCount() int {
	n := 0
	for _, sc := range r.Scenes {
		for _, st := range sc.Steps {
			if st.Frame != "" {
				n++
			}
		}
	}
	return n
}

// MetadataJSON renders the embedded metadata block.
func (r RunReport) MetadataJSON() (template.JS, error) {
	meta := RunMetadata{
		RunID:      r.RunID,
		DemoName:   r.DemoName,
		Duration:   r.Duration.String(),
		SceneCount: len(r.Scenes),
		FrameCount: r.FrameCount(),
		Timestamp:  r.Timestamp,
		Success:    r.Success,
		State:      r.FinalState,
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return template.JS(b), nil
}

// AttachFrames embeds up to max evenly spaced frames from paths as the
// recording strip.
func (r *RunReport) AttachFrames(paths []string, max int) error {
	if max <= 0 || len(paths) == 0 {
		return nil
	}
	stride := 1
	if len(paths) > max {
		stride = (len(paths) + max - 1) / max
	}
	for i := 0; i < len(paths); i += stride {
		url, err := convertImageToDataURL(paths[i])
		if err != nil {
			return err
		}
		r.Recording = append(r.Recording, url)
	}
	return nil
}

// HTMLReportGenerator writes run reports into a directory.
type HTMLReportGenerator struct {
	outputDir string
	tmpl      *template.Template
}

// NewHTMLReportGenerator creates a generator writing to outputDir.
func NewHTMLReportGenerator(outputDir string) *HTMLReportGenerator {
	funcs := template.FuncMap{
		"ms": func(d time.Duration) string {
			return d.Round(time.Millisecond).String()
		},
	}
	return &HTMLReportGenerator{
		outputDir: outputDir,
		tmpl:      template.Must(template.New("run_report").Funcs(funcs).Parse(runReportTemplate)),
	}
}

// ReportDir is where a run of demoName started at t is written under base:
// base/<demo>/<timestamp>. Dashboards rely on that layout.
func ReportDir(base, demoName string, t time.Time) string {
	return filepath.Join(base, slug(demoName), t.Format(ReportTimestampFormat))
}

// GenerateReport writes index.html and returns its path.
func (g *HTMLReportGenerator) GenerateReport(report RunReport) (string, error) {
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	meta, err := report.MetadataJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	var buf bytes.Buffer
	data := struct {
		RunReport
		MetaJSON template.JS
	}{report, meta}
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	path := filepath.Join(g.outputDir, "index.html")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// imageDataURL encodes img as a PNG data URL.
func imageDataURL(img image.Image) (template.URL, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// convertImageToDataURL reads an image file and converts it to a data URL.
func convertImageToDataURL(imagePath string) (template.URL, error) {
	imageBytes, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image file: %w", err)
	}

	mimeType := "image/png"
	switch strings.ToLower(filepath.Ext(imagePath)) {
	case ".jpg", ".jpeg":
		mimeType = "image/jpeg"
	case ".gif":
		mimeType = "image/gif"
	case ".webp":
		mimeType = "image/webp"
	}
	return template.URL(fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageBytes))), nil
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "demo"
	}
	return s
}
