// Package pipeline drives an estimator over a fixed horizon of ticks.
//
// Each tick reads the true position, decides whether a measurement arrives,
// bootstraps the estimator from the first few measurements, runs
// predict/update and records a Snapshot with the position error, the 95%
// confidence bound and the running chi-square coverage. A run is a pure
// function of its Config and noise stream; any configuration change is
// handled by building a new Pipeline and replaying from tick 0.
package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/matrix"
	"github.com/banshee-data/imm.demo/internal/monitoring"
	"github.com/banshee-data/imm.demo/internal/noise"
	"github.com/banshee-data/imm.demo/internal/trajectory"
)

var logf = monitoring.Component("Pipeline")

// MinCoverageDet floors det(P) in the coverage Mahalanobis test.
const MinCoverageDet = 1e-9

// Bootstrap prior variances for velocity and acceleration.
const (
	BootstrapVelocityVar     = 1000.0
	BootstrapAccelerationVar = 10000.0
)

// Phase is the pipeline's view of estimator readiness.
type Phase int

const (
	PhaseUninitialized Phase = iota // no measurement buffered yet
	PhaseBootstrapping              // collecting measurements for the prior
	PhaseReady                      // estimator initialised
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized":
		*p = PhaseUninitialized
	case "bootstrapping":
		*p = PhaseBootstrapping
	case "ready":
		*p = PhaseReady
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// Measurement is a noisy position observation.
type Measurement struct {
	Time     float64     `json:"time"`
	Position matrix.Vec2 `json:"position"`
}

// Snapshot is the record of a single tick.
type Snapshot struct {
	Tick        int          `json:"tick"`
	Time        float64      `json:"time"`
	Truth       matrix.Vec2  `json:"truth"`
	Measurement *Measurement `json:"measurement,omitempty"`

	State              matrix.Vec6 `json:"state"`
	PositionCovariance matrix.Mat2 `json:"position_covariance"`
	Covariance         matrix.Mat6 `json:"covariance"`

	InnovationValid      bool         `json:"innovation_valid"`
	Innovation           matrix.Vec2  `json:"innovation"`
	InnovationCovariance matrix.Mat2  `json:"innovation_covariance"`
	Gain                 matrix.Mat62 `json:"gain"`

	Initialized     bool  `json:"initialized"`
	HadMeasurement  bool  `json:"had_measurement"`
	BootstrapCount  int   `json:"bootstrap_count"`
	BootstrapNeeded int   `json:"bootstrap_needed"`
	Phase           Phase `json:"phase"`

	Error           float64 `json:"error"`
	ConfidenceBound float64 `json:"confidence_bound"`
	Mahalanobis     float64 `json:"mahalanobis"`
	CoverageHit     bool    `json:"coverage_hit"`
	CoveragePct     float64 `json:"coverage_pct"`

	ModelProbabilities []float64 `json:"model_probabilities,omitempty"`
	ActiveModel        int       `json:"active_model"` // −1 for single-model estimators
}

// Coverage counts ticks whose true position fell inside the confidence
// ellipse.
type Coverage struct {
	Hits  int `json:"hits"`
	Total int `json:"total"`
}

// Add records one tested tick.
func (c *Coverage) Add(hit bool) {
	if hit {
		c.Hits++
	}
	c.Total++
}

// Pct returns Hits/Total, or 0 before any tick is tested.
func (c Coverage) Pct() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(c.Total)
}

// Pipeline runs one configuration end to end. It is single-use and not safe
// for concurrent use.
type Pipeline struct {
	cfg       Config
	est       filter.Estimator
	traj      trajectory.Source
	noise     noise.Source
	threshold float64

	buffer      []matrix.Vec2
	lastMeas    float64
	hasLastMeas bool
	coverage    Coverage
	bootTick    int
	warnedNaN   bool
}

// New validates cfg and builds the estimator it names from reg.
func New(cfg Config, reg *Registry, traj trajectory.Source, src noise.Source) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if reg == nil {
		return nil, errors.New("pipeline requires a registry")
	}
	if traj == nil {
		return nil, errors.New("pipeline requires a trajectory source")
	}
	if src == nil {
		src = noise.None{}
	}
	est, err := reg.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:       cfg,
		est:       est,
		traj:      traj,
		noise:     src,
		threshold: cfg.Threshold(),
		buffer:    make([]matrix.Vec2, 0, cfg.BootstrapNeeded),
		bootTick:  -1,
	}, nil
}

// Estimator returns the estimator being driven.
func (p *Pipeline) Estimator() filter.Estimator { return p.est }

// Run computes every tick of the horizon.
func (p *Pipeline) Run() (*Run, error) {
	n := p.cfg.Ticks()
	run := &Run{
		ID:        "run_" + uuid.NewString(),
		Config:    p.cfg,
		Threshold: p.threshold,
		Snapshots: make([]Snapshot, 0, n),
	}
	for k := 0; k < n; k++ {
		snap, err := p.step(k)
		if err != nil {
			return nil, fmt.Errorf("tick %d: %w", k, err)
		}
		run.Snapshots = append(run.Snapshots, snap)
	}
	run.Coverage = p.coverage
	run.BootstrapTick = p.bootTick
	return run, nil
}

func (p *Pipeline) step(k int) (Snapshot, error) {
	t := float64(k) * p.cfg.Dt
	truth := p.traj.Position(t)
	snap := Snapshot{
		Tick:            k,
		Time:            t,
		Truth:           truth,
		BootstrapNeeded: p.cfg.BootstrapNeeded,
		ActiveModel:     -1,
	}

	var z matrix.Vec2
	if p.measurementDue(t) {
		z = p.noise.AddGaussianNoise(truth, p.cfg.MeasurementNoise)
		p.lastMeas, p.hasLastMeas = t, true
		snap.Measurement = &Measurement{Time: t, Position: z}
		snap.HadMeasurement = true
		if p.est.Lifecycle() != filter.Ready {
			p.buffer = append(p.buffer, z)
		}
	}

	if p.est.Lifecycle() != filter.Ready && len(p.buffer) >= p.cfg.BootstrapNeeded {
		p.bootstrap(k)
	}

	if p.est.Lifecycle() == filter.Ready {
		if err := p.est.Predict(); err != nil {
			return snap, err
		}
		if snap.HadMeasurement {
			if err := p.est.Update(z); err != nil {
				return snap, err
			}
		}
	}

	p.record(&snap)
	return snap, nil
}

// measurementDue applies a half-tick tolerance so accumulated floating
// point drift never skips a measurement.
func (p *Pipeline) measurementDue(t float64) bool {
	if !p.hasLastMeas {
		return true
	}
	rate := p.cfg.MeasurementRatio * p.cfg.Dt
	return t-p.lastMeas >= rate-p.cfg.Dt/2
}

// bootstrap initialises the estimator at the mean buffered position with
// zero velocity and acceleration.
func (p *Pipeline) bootstrap(k int) {
	var mean matrix.Vec2
	for _, z := range p.buffer {
		mean[0] += z[0]
		mean[1] += z[1]
	}
	n := float64(len(p.buffer))
	mean[0] /= n
	mean[1] /= n

	r2 := p.cfg.MeasurementNoise * p.cfg.MeasurementNoise
	x0 := matrix.Vec6{filter.IdxPX: mean[0], filter.IdxPY: mean[1]}
	var d matrix.Vec6
	d[filter.IdxPX] = 4 * r2
	d[filter.IdxPY] = 4 * r2
	d[filter.IdxVX] = BootstrapVelocityVar
	d[filter.IdxVY] = BootstrapVelocityVar
	d[filter.IdxAX] = BootstrapAccelerationVar
	d[filter.IdxAY] = BootstrapAccelerationVar

	p.est.Initialize(x0, matrix.Diag6(d))
	p.bootTick = k
	logf("%s bootstrapped at tick %d from %d measurements: pos=(%.2f, %.2f)",
		p.est.Type(), k, len(p.buffer), mean[0], mean[1])
	p.buffer = p.buffer[:0]
}

func (p *Pipeline) record(snap *Snapshot) {
	ready := p.est.Lifecycle() == filter.Ready
	snap.Initialized = ready
	switch {
	case ready:
		snap.Phase = PhaseReady
		snap.BootstrapCount = p.cfg.BootstrapNeeded
	case len(p.buffer) > 0:
		snap.Phase = PhaseBootstrapping
		snap.BootstrapCount = len(p.buffer)
	default:
		snap.Phase = PhaseUninitialized
	}

	if !ready {
		snap.CoveragePct = p.coverage.Pct()
		return
	}

	if mm, ok := p.est.(filter.MultiModel); ok {
		snap.ModelProbabilities = mm.ModelProbabilities()
		snap.ActiveModel = mm.ActiveModel()
	}

	snap.State = p.est.State()
	snap.Covariance = p.est.Covariance()
	snap.PositionCovariance = p.est.PositionCovariance()
	if inn := p.est.Innovation(); inn.Valid {
		snap.InnovationValid = true
		snap.Innovation = inn.Residual
		snap.InnovationCovariance = inn.Covariance
		snap.Gain = inn.Gain
	}

	if !p.warnedNaN && !matrix.IsFinite6(snap.State) {
		p.warnedNaN = true
		logf("%s estimate became non-finite at tick %d", p.est.Type(), snap.Tick)
	}

	pos := filter.PositionOf(snap.State)
	e := matrix.SubVec2(snap.Truth, pos)
	snap.Error = math.Hypot(e[0], e[1])
	snap.ConfidenceBound = math.Sqrt(matrix.MaxEigenvalue2(snap.PositionCovariance) * p.threshold)
	snap.Mahalanobis = matrix.Mahalanobis2(e, snap.PositionCovariance, MinCoverageDet)
	snap.CoverageHit = snap.Mahalanobis <= p.threshold
	p.coverage.Add(snap.CoverageHit)
	snap.CoveragePct = p.coverage.Pct()
}

// Execute builds a pipeline and runs it.
func Execute(cfg Config, reg *Registry, traj trajectory.Source, src noise.Source) (*Run, error) {
	p, err := New(cfg, reg, traj, src)
	if err != nil {
		return nil, err
	}
	return p.Run()
}
