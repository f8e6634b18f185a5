package baselines

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/showrunner"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "baselines.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func solid(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baselines.db")
	c1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()

	var version int
	require.NoError(t, c2.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestCatalog_RoundTripAndReplace(t *testing.T) {
	c := openCatalog(t)
	ctx := context.Background()
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	_, err := c.Baseline(ctx, "00_intro_00_type")
	assert.ErrorIs(t, err, showrunner.ErrNoBaseline)

	require.NoError(t, c.SetBaseline(ctx, "00_intro_00_type", solid(4, 3, 10)))
	img, err := c.Baseline(ctx, "00_intro_00_type")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	r, _, _, _ := img.At(1, 1).RGBA()
	assert.Equal(t, uint32(10), r>>8)

	require.NoError(t, c.SetBaseline(ctx, "00_intro_00_type", solid(8, 2, 200)))
	entries, err := c.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 8, entries[0].Width)
	assert.Equal(t, 2, entries[0].Height)
	assert.Positive(t, entries[0].Size)
	assert.Equal(t, int64(1_700_000_000_000), entries[0].UpdatedAt.UnixMilli())
}

func TestCatalog_ListAndDelete(t *testing.T) {
	c := openCatalog(t)
	ctx := context.Background()
	for _, name := range []string{"01_buy_00_click", "00_intro_01_type", "00_intro_00_type"} {
		require.NoError(t, c.SetBaseline(ctx, name, solid(2, 2, 0)))
	}

	entries, err := c.List(ctx, "00_")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "00_intro_00_type", entries[0].Name)

	n, err := c.Delete(ctx, "00_intro_00_type", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err = c.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCatalog_BacksScriptSupervisor(t *testing.T) {
	c := openCatalog(t)
	ctx := context.Background()
	ss := showrunner.NewScriptSupervisor(c, t.TempDir(), nil)

	result := showrunner.DemoResult{Scenes: []showrunner.SceneResult{{
		Name:  "intro",
		Steps: []showrunner.StepResult{{Label: "type", Observation: &showrunner.Observation{Sample: solid(4, 4, 50)}}},
	}}}

	shots, err := ss.Review(ctx, result, true)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.True(t, shots[0].Missing)

	shots, err = ss.Review(ctx, result, false)
	require.NoError(t, err)
	assert.True(t, shots[0].Passed)
}
