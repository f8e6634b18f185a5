// Package stability decides when a rendered surface has stopped changing.
//
// Consecutive samples are compared with DiffRatio; a Detector counts how many
// consecutive pairs changed less than a threshold and reports the surface
// stable once that run is long enough. A Sampler feeds samples from a
// background goroutine so the control loop only ever reads a snapshot.
package stability

import (
	"image"
)

// DiffOptions tunes DiffRatio.
type DiffOptions struct {
	// Epsilon is the per-channel delta (0-255) a position must exceed to count
	// as changed. Absorbs anti-aliasing and compression noise.
	Epsilon uint8
	// Step samples every Step-th pixel on both axes. 1 compares every pixel.
	Step int
	// Region limits the comparison. Empty means the whole image.
	Region image.Rectangle
	// Exclude lists areas ignored entirely, such as the cursor.
	Exclude []image.Rectangle
}

// DefaultDiffOptions mirrors the thresholds used for recorded demo frames.
func DefaultDiffOptions() DiffOptions {
	return DiffOptions{Epsilon: 10, Step: 2}
}

// DiffRatio returns the fraction (0.0 to 1.0) of sampled positions that
// changed between a and b. Images with different bounds are 100% different.
func DiffRatio(a, b image.Image, opts DiffOptions) float64 {
	if a == nil || b == nil {
		return 1.0
	}
	bounds := a.Bounds()
	if bounds != b.Bounds() {
		return 1.0
	}
	if !opts.Region.Empty() {
		bounds = bounds.Intersect(opts.Region)
	}
	if bounds.Empty() {
		return 0
	}

	step := opts.Step
	if step < 1 {
		step = 1
	}
	eps := uint32(opts.Epsilon)

	total, changed := 0, 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			if excluded(x, y, opts.Exclude) {
				continue
			}
			total++
			if channelDelta(a, b, x, y) > eps {
				changed++
			}
		}
	}

	if total == 0 {
		return 0
	}
	return float64(changed) / float64(total)
}

func excluded(x, y int, regions []image.Rectangle) bool {
	p := image.Pt(x, y)
	for _, r := range regions {
		if p.In(r) {
			return true
		}
	}
	return false
}

// channelDelta is the largest 8-bit RGB channel difference at (x, y).
func channelDelta(a, b image.Image, x, y int) uint32 {
	r1, g1, b1, _ := a.At(x, y).RGBA()
	r2, g2, b2, _ := b.At(x, y).RGBA()

	d := absDiff(r1>>8, r2>>8)
	if g := absDiff(g1>>8, g2>>8); g > d {
		d = g
	}
	if bl := absDiff(b1>>8, b2>>8); bl > d {
		d = bl
	}
	return d
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
