package showrunner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/teranos/showrunner/stability"
)

// ErrNoBaseline is returned by a BaselineStore that has no image by that name.
var ErrNoBaseline = errors.New("showrunner: no baseline")

// BaselineStore keeps the approved image of every shot.
type BaselineStore interface {
	Baseline(ctx context.Context, name string) (image.Image, error)
	SetBaseline(ctx context.Context, name string, img image.Image) error
}

// DirBaselines stores baselines as <dir>/<name>.png.
type DirBaselines string

func (d DirBaselines) Baseline(_ context.Context, name string) (image.Image, error) {
	img, err := loadImage(filepath.Join(string(d), name+".png"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoBaseline, name)
	}
	return img, err
}

func (d DirBaselines) SetBaseline(_ context.Context, name string, img image.Image) error {
	if err := os.MkdirAll(string(d), 0o755); err != nil {
		return fmt.Errorf("failed to create baseline directory: %w", err)
	}
	return writePNG(filepath.Join(string(d), name+".png"), img)
}

// ShotResult is the comparison of one step's final sample with its baseline.
type ShotResult struct {
	Name     string
	Diff     float64 // fraction of sampled positions that differ
	Passed   bool
	Missing  bool   // no baseline existed
	DiffPath string // highlighted diff image, written on failure
}

// ScriptSupervisor keeps takes visually consistent: it compares the final
// sample of every step against a stored baseline.
type ScriptSupervisor struct {
	store     BaselineStore
	diffDir   string
	tolerance float64
	diff      stability.DiffOptions
	logger    *slog.Logger
}

// NewScriptSupervisor compares against store and writes diff images to
// diffDir. The default tolerance is 5%.
func NewScriptSupervisor(store BaselineStore, diffDir string, logger *slog.Logger) *ScriptSupervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptSupervisor{
		store:     store,
		diffDir:   diffDir,
		tolerance: 0.05,
		diff:      stability.DiffOptions{Epsilon: 10, Step: 1},
		logger:    logger,
	}
}

// WithTolerance sets the accepted diff fraction.
func (ss *ScriptSupervisor) WithTolerance(tolerance float64) *ScriptSupervisor {
	ss.tolerance = tolerance
	return ss
}

// ShotName is the baseline name of a step.
func ShotName(scene int, sceneName string, step int, label string) string {
	return fmt.Sprintf("%02d_%s_%02d_%s", scene, slug(sceneName), step, slug(label))
}

// ValidateConsistency compares img with the baseline called name.
func (ss *ScriptSupervisor) ValidateConsistency(ctx context.Context, name string, img image.Image) (ShotResult, error) {
	res := ShotResult{Name: name}
	baseline, err := ss.store.Baseline(ctx, name)
	if errors.Is(err, ErrNoBaseline) {
		res.Missing = true
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to load baseline: %w", err)
	}

	res.Diff = stability.DiffRatio(baseline, img, ss.diff)
	res.Passed = res.Diff <= ss.tolerance
	if res.Passed || ss.diffDir == "" {
		return res, nil
	}

	if err := os.MkdirAll(ss.diffDir, 0o755); err != nil {
		return res, fmt.Errorf("failed to create diff directory: %w", err)
	}
	res.DiffPath = filepath.Join(ss.diffDir, name+"_diff.png")
	if err := writePNG(res.DiffPath, diffImage(baseline, img, ss.diff.Epsilon)); err != nil {
		// the comparison result stands without the picture
		ss.logger.Warn("failed to write diff image", slog.String("path", res.DiffPath), slog.String("error", err.Error()))
		res.DiffPath = ""
	}
	return res, nil
}

// SetBaseline stores img as the baseline called name.
func (ss *ScriptSupervisor) SetBaseline(ctx context.Context, name string, img image.Image) error {
	return ss.store.SetBaseline(ctx, name, img)
}

// Review checks every observed step of result. With update set, missing
// baselines are recorded instead of reported.
func (ss *ScriptSupervisor) Review(ctx context.Context, result DemoResult, update bool) ([]ShotResult, error) {
	var shots []ShotResult
	for _, scene := range result.Scenes {
		for _, step := range scene.Steps {
			if step.Observation == nil || step.Observation.Sample == nil {
				continue
			}
			name := ShotName(scene.Index, scene.Name, step.Index, step.Label)
			shot, err := ss.ValidateConsistency(ctx, name, step.Observation.Sample)
			if err != nil {
				return shots, err
			}
			if shot.Missing && update {
				if err := ss.SetBaseline(ctx, name, step.Observation.Sample); err != nil {
					return shots, err
				}
				ss.logger.Info("baseline recorded", slog.String("shot", name))
			}
			if !shot.Passed && !shot.Missing {
				ss.logger.Warn("visual regression detected",
					slog.String("shot", name),
					slog.Float64("diff", shot.Diff),
					slog.Float64("tolerance", ss.tolerance))
			}
			shots = append(shots, shot)
		}
	}
	return shots, nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

// diffImage paints changed pixels red over a dimmed copy of the baseline.
func diffImage(baseline, current image.Image, epsilon uint8) *image.RGBA {
	bounds := baseline.Bounds()
	diff := image.NewRGBA(bounds)
	sameSize := bounds == current.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !sameSize || pixelDelta(baseline.At(x, y), current.At(x, y)) > uint32(epsilon) {
				diff.Set(x, y, color.RGBA{255, 0, 0, 255})
				continue
			}
			r, g, b, a := baseline.At(x, y).RGBA()
			diff.Set(x, y, color.RGBA{uint8(r >> 9), uint8(g >> 9), uint8(b >> 9), uint8(a >> 8)})
		}
	}
	return diff
}

func pixelDelta(a, b color.Color) uint32 {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	var m uint32
	for _, d := range []uint32{absDelta(ar, br), absDelta(ag, bg), absDelta(ab, bb)} {
		if d > m {
			m = d
		}
	}
	return m >> 8
}

func absDelta(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
