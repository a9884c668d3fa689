package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/imm.demo/internal/config"
	"github.com/banshee-data/imm.demo/internal/monitoring"
	"github.com/banshee-data/imm.demo/internal/pipeline"
	"github.com/banshee-data/imm.demo/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newTestServer() *Server {
	base := config.DefaultSimulationConfig()
	maxTime := 3.0
	base.MaxTime = &maxTime
	return NewServer(base, pipeline.NewRegistry())
}

func serve(s *Server, method, path string) *response {
	req := testutil.NewTestRequest(method, path)
	rec := testutil.NewTestRecorder()
	s.Handler().ServeHTTP(rec, req)
	return &response{rec.Code, rec.Header(), rec.Body.String()}
}

type response struct {
	code   int
	header http.Header
	body   string
}

func TestShowRun(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	rec := serve(s, http.MethodGet, "/api/run?filter=imm&trajectory=manoeuvre&seed=4")
	testutil.AssertStatusCode(t, rec.code, http.StatusOK)

	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(rec.body), &resp))
	assert.Equal(t, "imm", resp.Summary.Filter)
	assert.Len(t, resp.Snapshots, 60)
	last := resp.Snapshots[len(resp.Snapshots)-1]
	require.Len(t, last.ModelProbabilities, 2)
	assert.InDelta(t, 1.0, last.ModelProbabilities[0]+last.ModelProbabilities[1], 1e-9)
	assert.Equal(t, pipeline.PhaseReady, last.Phase)
}

func TestShowRun_Deterministic(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	a := serve(s, http.MethodGet, "/api/run?seed=11")
	b := serve(s, http.MethodGet, "/api/run?seed=11")
	testutil.AssertStatusCode(t, a.code, http.StatusOK)

	var ra, rb runResponse
	require.NoError(t, json.Unmarshal([]byte(a.body), &ra))
	require.NoError(t, json.Unmarshal([]byte(b.body), &rb))
	assert.Equal(t, ra.Snapshots, rb.Snapshots)
	assert.NotEqual(t, ra.Summary.RunID, rb.Summary.RunID)
}

func TestShowSummary(t *testing.T) {
	t.Parallel()
	rec := serve(newTestServer(), http.MethodGet, "/api/summary?measurement_ratio=1&bootstrap_needed=2")
	testutil.AssertStatusCode(t, rec.code, http.StatusOK)

	var sum pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(rec.body), &sum))
	assert.Equal(t, 60, sum.Ticks)
	assert.Equal(t, 60, sum.Measurements)
	assert.Equal(t, 1, sum.BootstrapTick)
	assert.Greater(t, sum.Coverage, 0.0)
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	tests := []struct {
		name, path string
		want       int
	}{
		{"unknown filter", "/api/run?filter=ukf", http.StatusBadRequest},
		{"unknown trajectory", "/api/run?trajectory=spiral", http.StatusBadRequest},
		{"bad float", "/api/run?dt=fast", http.StatusBadRequest},
		{"bad seed", "/api/run?seed=-1", http.StatusBadRequest},
		{"negative dt", "/api/summary?dt=-0.1", http.StatusBadRequest},
		{"too many ticks", "/api/run?dt=0.001&max_time=100", http.StatusBadRequest},
		{"unknown path", "/nope", http.StatusNotFound},
		{"unknown plot", "/plot/histogram.png", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(s, http.MethodGet, tt.path)
			testutil.AssertStatusCode(t, rec.code, tt.want)
			assert.Contains(t, rec.body, `"error"`)
		})
	}

	rec := serve(s, http.MethodPost, "/api/run")
	testutil.AssertStatusCode(t, rec.code, http.StatusMethodNotAllowed)
}

func TestShowReport(t *testing.T) {
	t.Parallel()
	rec := serve(newTestServer(), http.MethodGet, "/?filter=imm")
	testutil.AssertStatusCode(t, rec.code, http.StatusOK)
	assert.True(t, strings.HasPrefix(rec.header.Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.body, "Model probabilities")
}

func TestShowPlot(t *testing.T) {
	t.Parallel()
	rec := serve(newTestServer(), http.MethodGet, "/plot/error.png")
	testutil.AssertStatusCode(t, rec.code, http.StatusOK)
	assert.Equal(t, "image/png", rec.header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.body, "\x89PNG"))
}

func TestShowConfig_DoesNotMutateBase(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	rec := serve(s, http.MethodGet, "/api/config?dt=0.1&filter=imm")
	testutil.AssertStatusCode(t, rec.code, http.StatusOK)

	var sc config.SimulationConfig
	require.NoError(t, json.Unmarshal([]byte(rec.body), &sc))
	assert.Equal(t, 0.1, sc.GetDt())
	assert.Equal(t, "imm", sc.GetFilterType())

	assert.Equal(t, 0.05, s.base.GetDt())
	assert.Equal(t, "kalman", s.base.GetFilterType())
}

func TestListTrajectoriesAndVersion(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	rec := serve(s, http.MethodGet, "/api/trajectories")
	testutil.AssertStatusCode(t, rec.code, http.StatusOK)
	assert.Contains(t, rec.body, "manoeuvre")

	rec = serve(s, http.MethodGet, "/api/version")
	testutil.AssertStatusCode(t, rec.code, http.StatusOK)
	assert.Contains(t, rec.body, `"version"`)
}

func TestStart_Shutdown(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestServer().Start(ctx, addr) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/api/version")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	resp.Body.Close()
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)

	cancel()
	select {
	case err := <-done:
		testutil.AssertNoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Shutdown timed out")
	}
}

func TestStatusCodeColor(t *testing.T) {
	t.Parallel()
	assert.Contains(t, statusCodeColor(200), colorBoldGreen)
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}
