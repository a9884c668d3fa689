// Package server exposes the estimation pipeline over HTTP. Every request
// replays the full horizon from tick 0 using the base configuration with
// any query-string overrides applied; no run state is kept between
// requests.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/imm.demo/internal/config"
	"github.com/banshee-data/imm.demo/internal/httputil"
	"github.com/banshee-data/imm.demo/internal/monitoring"
	"github.com/banshee-data/imm.demo/internal/pipeline"
	"github.com/banshee-data/imm.demo/internal/report"
	"github.com/banshee-data/imm.demo/internal/trajectory"
	"github.com/banshee-data/imm.demo/internal/version"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// MaxTicks caps the horizon a single request may ask for.
const MaxTicks = 20000

var logf = monitoring.Component("Server")

// Server serves reports and run data. The base config and registry are
// read-only after construction, so handlers run concurrently without
// locking.
type Server struct {
	base       *config.SimulationConfig
	reg        *pipeline.Registry
	assetsHost string
}

// Option configures a Server.
type Option func(*Server)

// WithAssetsHost serves echarts assets from host instead of the CDN.
func WithAssetsHost(host string) Option {
	return func(s *Server) { s.assetsHost = host }
}

// NewServer builds a server around a base configuration.
func NewServer(base *config.SimulationConfig, reg *pipeline.Registry, opts ...Option) *Server {
	if base == nil {
		base = config.DefaultSimulationConfig()
	}
	if reg == nil {
		reg = pipeline.NewRegistry()
	}
	s := &Server{base: base, reg: reg}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeMux returns the routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.showReport)
	mux.HandleFunc("/api/run", s.showRun)
	mux.HandleFunc("/api/summary", s.showSummary)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/trajectories", s.listTrajectories)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/plot/", s.showPlot)
	return mux
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.ServeMux())
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logf("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// execute replays the horizon for the request's configuration.
func (s *Server) execute(w http.ResponseWriter, r *http.Request) (*pipeline.Run, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	sc, err := s.requestConfig(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	p, err := pipeline.NewFromSimulation(sc, s.reg)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	run, err := p.Run()
	if err != nil {
		logf("run failed: %v", err)
		httputil.InternalServerError(w, err.Error())
		return nil, false
	}
	return run, true
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.NotFound(w, "not found")
		return
	}
	run, ok := s.execute(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteHTML(&buf, run, report.Options{AssetsHost: s.assetsHost}); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

type runResponse struct {
	Summary   pipeline.Summary    `json:"summary"`
	Snapshots []pipeline.Snapshot `json:"snapshots"`
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.execute(w, r)
	if !ok {
		return
	}
	sum := run.Summary()
	if sum.NonFiniteTick >= 0 {
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("estimate became non-finite at tick %d", sum.NonFiniteTick))
		return
	}
	httputil.WriteJSONOK(w, runResponse{Summary: sum, Snapshots: run.Snapshots})
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	run, ok := s.execute(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, run.Summary())
}

func (s *Server) showPlot(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/plot/"), ".png")
	run, ok := s.execute(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.RenderPNG(&buf, run, name); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteBody(w, "image/png", buf.Bytes())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sc, err := s.requestConfig(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, sc)
}

func (s *Server) listTrajectories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string][]string{"trajectories": trajectory.Names()})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Current())
}
