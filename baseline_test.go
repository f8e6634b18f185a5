package showrunner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observedResult(c uint8) DemoResult {
	return DemoResult{
		Name: "tour",
		Scenes: []SceneResult{{
			Index: 0,
			Name:  "Intro",
			Steps: []StepResult{
				{Index: 0, Label: "type help", Observation: &Observation{Sample: solid(c)}},
				{Index: 1, Label: "no sample"},
			},
		}},
	}
}

func TestScriptSupervisor_Review(t *testing.T) {
	base := filepath.Join(t.TempDir(), "baseline")
	current := filepath.Join(t.TempDir(), "current")
	ss := NewScriptSupervisor(DirBaselines(base), current, quietLogger())
	ctx := context.Background()

	shots, err := ss.Review(ctx, observedResult(40), false)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.True(t, shots[0].Missing)
	assert.NoFileExists(t, filepath.Join(base, shots[0].Name+".png"))

	shots, err = ss.Review(ctx, observedResult(40), true)
	require.NoError(t, err)
	assert.Equal(t, "00_intro_00_type-help", shots[0].Name)
	assert.FileExists(t, filepath.Join(base, "00_intro_00_type-help.png"))

	shots, err = ss.Review(ctx, observedResult(42), false)
	require.NoError(t, err)
	assert.True(t, shots[0].Passed, "deltas under epsilon are noise")
	assert.Zero(t, shots[0].Diff)

	shots, err = ss.Review(ctx, observedResult(200), false)
	require.NoError(t, err)
	assert.False(t, shots[0].Passed)
	assert.Equal(t, 1.0, shots[0].Diff)
	assert.FileExists(t, shots[0].DiffPath)
}

func TestScriptSupervisor_Tolerance(t *testing.T) {
	ctx := context.Background()
	ss := NewScriptSupervisor(DirBaselines(t.TempDir()), t.TempDir(), quietLogger()).WithTolerance(1.0)
	require.NoError(t, ss.SetBaseline(ctx, "shot", solid(0)))

	res, err := ss.ValidateConsistency(ctx, "shot", solid(255))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.DiffPath)
}

func TestDirBaselines_Missing(t *testing.T) {
	_, err := DirBaselines(t.TempDir()).Baseline(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoBaseline)
}
