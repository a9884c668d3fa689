package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/imm.demo/internal/monitoring"
	"github.com/banshee-data/imm.demo/internal/pipeline"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func execCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execCmd(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "immdemo "))
}

func TestRunCommand_Summary(t *testing.T) {
	out, err := execCmd(t, "run", "--filter", "imm", "--trajectory", "manoeuvre", "--max-time", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "filter")
	assert.Contains(t, out, "imm")
	assert.Contains(t, out, "ticks")
	assert.Contains(t, out, "100")
	assert.Contains(t, out, "mean mu (slow, fast)")
}

type runOutput struct {
	Summary   pipeline.Summary    `json:"summary"`
	Snapshots []pipeline.Snapshot `json:"snapshots"`
}

func TestRunCommand_JSONDeterministic(t *testing.T) {
	args := []string{"run", "--json", "--seed", "3", "--max-time", "2"}

	a, err := execCmd(t, args...)
	require.NoError(t, err)
	b, err := execCmd(t, args...)
	require.NoError(t, err)

	var ra, rb runOutput
	require.NoError(t, json.Unmarshal([]byte(a), &ra))
	require.NoError(t, json.Unmarshal([]byte(b), &rb))
	require.Len(t, ra.Snapshots, 40)
	if diff := cmp.Diff(ra.Snapshots, rb.Snapshots); diff != "" {
		t.Errorf("snapshots differ (-a +b):\n%s", diff)
	}
	assert.Equal(t, "kalman", ra.Summary.Filter)
}

func TestRunCommand_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filter_type: imm\nmax_time: 1\nmeasurement_ratio: 1\n"), 0644))

	out, err := execCmd(t, "run", "--config", path, "--json")
	require.NoError(t, err)
	var r runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "imm", r.Summary.Filter)
	assert.Equal(t, 20, r.Summary.Measurements)

	// Flags override the file.
	out, err = execCmd(t, "run", "--config", path, "--filter", "kalman", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "kalman", r.Summary.Filter)
}

func TestRunCommand_Errors(t *testing.T) {
	_, err := execCmd(t, "run", "--filter", "ukf")
	assert.ErrorContains(t, err, "unknown filter type")

	_, err = execCmd(t, "run", "--trajectory", "spiral")
	assert.ErrorContains(t, err, "unknown trajectory")

	_, err = execCmd(t, "run", "--config", "missing.json")
	assert.Error(t, err)
}

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	html := filepath.Join(dir, "out.html")
	pngDir := filepath.Join(dir, "png")

	out, err := execCmd(t, "report", "--filter", "imm", "--max-time", "3", "--html", html, "--png-dir", pngDir)
	require.NoError(t, err)
	assert.Contains(t, out, html)

	body, err := os.ReadFile(html)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Model probabilities")

	for _, name := range []string{"imm_trajectory.png", "imm_error.png", "imm_probabilities.png"} {
		_, err := os.Stat(filepath.Join(pngDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunCommand_JSONNonFinite(t *testing.T) {
	// r² overflows, so the bootstrap prior is infinite and the first update
	// turns the estimate into NaN.
	args := []string{"run", "--json", "--max-time", "1", "--measurement-noise", "1e200"}

	out, err := execCmd(t, args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-finite at tick")
	assert.NotContains(t, out, "unsupported value")

	// The tabular summary still reports the run.
	out, err = execCmd(t, "run", "--max-time", "1", "--measurement-noise", "1e200")
	require.NoError(t, err)
	assert.Contains(t, out, "non-finite from tick")
}
