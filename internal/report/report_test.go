package report

import (
	"bytes"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/monitoring"
	"github.com/banshee-data/imm.demo/internal/noise"
	"github.com/banshee-data/imm.demo/internal/pipeline"
	"github.com/banshee-data/imm.demo/internal/trajectory"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func runFor(t *testing.T, ft filter.Type) *pipeline.Run {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.MaxTime = 5
	cfg.FilterType = ft
	run, err := pipeline.Execute(cfg, pipeline.NewRegistry(), trajectory.Circle{Radius: 100, Period: 20}, noise.NewBoxMuller(5))
	require.NoError(t, err)
	return run
}

func TestWriteHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ft        filter.Type
		wantProbs bool
	}{
		{filter.TypeKalman, false},
		{filter.TypeIMM, true},
	}
	for _, tt := range tests {
		t.Run(tt.ft.String(), func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, WriteHTML(&buf, runFor(t, tt.ft), Options{Title: "unit"}))

			html := buf.String()
			assert.Contains(t, html, "<title>unit</title>")
			assert.Contains(t, html, "Trajectory")
			assert.Contains(t, html, "Position error")
			assert.Contains(t, html, "Coverage")
			if tt.wantProbs {
				assert.Contains(t, html, "Model probabilities")
			} else {
				assert.NotContains(t, html, "Model probabilities")
			}
		})
	}
}

func TestRenderPNG(t *testing.T) {
	t.Parallel()
	run := runFor(t, filter.TypeIMM)

	for _, name := range PlotNames(run) {
		var buf bytes.Buffer
		require.NoError(t, RenderPNG(&buf, run, name), name)
		img, err := png.Decode(&buf)
		require.NoError(t, err, name)
		assert.Greater(t, img.Bounds().Dx(), 0)
	}

	assert.Error(t, RenderPNG(&bytes.Buffer{}, run, "histogram"))
	assert.Error(t, RenderPNG(&bytes.Buffer{}, runFor(t, filter.TypeKalman), PlotProbabilities))
}

func TestWritePNGs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	paths, err := WritePNGs(dir, "kf", runFor(t, filter.TypeKalman))
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
	assert.Equal(t, []string{PlotTrajectory, PlotError, PlotProbabilities}, PlotNames(runFor(t, filter.TypeIMM)))
}
