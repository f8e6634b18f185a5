package terminal

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/teranos/showrunner"
)

// RenderConfig defines how terminal text is rasterized.
type RenderConfig struct {
	Columns    int        // Terminal width in characters
	Rows       int        // Terminal height in characters
	Background color.RGBA // Background color
	Foreground color.RGBA // Default text color
}

// DefaultRenderConfig is white on black at 80x24.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Columns:    80,
		Rows:       24,
		Background: color.RGBA{0, 0, 0, 255},
		Foreground: color.RGBA{255, 255, 255, 255},
	}
}

// Renderer draws terminal views into images.
type Renderer struct {
	config     RenderConfig
	buffer     [][]rune
	charWidth  int
	charHeight int
	face       font.Face
}

// NewRenderer creates a renderer with a fixed character grid.
func NewRenderer(config RenderConfig) *Renderer {
	d := DefaultRenderConfig()
	if config.Columns <= 0 {
		config.Columns = d.Columns
	}
	if config.Rows <= 0 {
		config.Rows = d.Rows
	}
	if config.Background == (color.RGBA{}) && config.Foreground == (color.RGBA{}) {
		config.Background, config.Foreground = d.Background, d.Foreground
	}

	buffer := make([][]rune, config.Rows)
	for i := range buffer {
		buffer[i] = make([]rune, config.Columns)
	}
	return &Renderer{
		config:     config,
		buffer:     buffer,
		charWidth:  7,
		charHeight: 13,
		face:       basicfont.Face7x13,
	}
}

// Bounds is the pixel size of every rendered frame.
func (r *Renderer) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.config.Columns*r.charWidth, r.config.Rows*r.charHeight)
}

// Render rasterizes text. ANSI sequences are dropped and lines beyond the
// grid are clipped. Render is not safe for concurrent use.
func (r *Renderer) Render(text string) *image.RGBA {
	r.load(showrunner.StripANSI(text))

	img := image.NewRGBA(r.Bounds())
	draw.Draw(img, img.Bounds(), image.NewUniform(r.config.Background), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(r.config.Foreground),
		Face: r.face,
	}
	ascent := r.face.Metrics().Ascent.Ceil()

	for row, line := range r.buffer {
		for col, char := range line {
			if char == ' ' || char == 0 {
				continue
			}
			drawer.Dot = fixed.P(col*r.charWidth, row*r.charHeight+ascent)
			drawer.DrawString(string(char))
		}
	}
	return img
}

func (r *Renderer) load(text string) {
	for i := range r.buffer {
		for j := range r.buffer[i] {
			r.buffer[i][j] = ' '
		}
	}

	for row, line := range strings.Split(strings.ReplaceAll(text, "\r", ""), "\n") {
		if row >= r.config.Rows {
			break
		}
		col := 0
		for _, char := range line {
			if col >= r.config.Columns {
				break
			}
			if char == '\t' {
				col += 4 - col%4
				continue
			}
			r.buffer[row][col] = char
			col++
		}
	}
}

// SavePNG writes img to path.
func SavePNG(img image.Image, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return file.Close()
}
