package pipeline

import (
	"fmt"
	"math"

	"github.com/banshee-data/imm.demo/internal/config"
	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/filter/imm"
	"github.com/banshee-data/imm.demo/internal/noise"
	"github.com/banshee-data/imm.demo/internal/trajectory"
)

// Config holds the parameters of one estimation run.
type Config struct {
	Dt               float64 // seconds per tick
	MaxTime          float64 // horizon in seconds
	MeasurementRatio float64 // measurement interval in multiples of Dt
	BootstrapNeeded  int     // measurements averaged into the initial state

	MeasurementNoise float64 // σ of each position coordinate
	ProcessNoise     float64 // jerk intensity q

	FilterType filter.Type
	IMM        imm.Params

	ConfidenceLevel float64 // 0 selects config.ChiSquare95
	Symmetrize      bool    // re-symmetrise P after every update
}

// DefaultConfig returns the standard demo configuration.
func DefaultConfig() Config {
	return ConfigFromSimulation(config.DefaultSimulationConfig())
}

// ConfigFromSimulation maps a simulation config onto a pipeline config.
// An unparseable filter type falls back to the single Kalman filter; the
// simulation config's Validate reports it.
func ConfigFromSimulation(sc *config.SimulationConfig) Config {
	ft, err := filter.ParseType(sc.GetFilterType())
	if err != nil {
		ft = filter.TypeKalman
	}
	cfg := Config{
		Dt:               sc.GetDt(),
		MaxTime:          sc.GetMaxTime(),
		MeasurementRatio: sc.GetMeasurementRatio(),
		BootstrapNeeded:  sc.GetBootstrapNeeded(),
		MeasurementNoise: sc.GetMeasurementNoise(),
		ProcessNoise:     sc.GetProcessNoise(),
		FilterType:       ft,
		IMM: imm.Params{
			SlowFactor:           sc.GetIMMSlowFactor(),
			FastFactor:           sc.GetIMMFastFactor(),
			SlowFloor:            sc.GetIMMSlowFloor(),
			Transition:           sc.GetIMMTransition(),
			InitialProbabilities: sc.GetIMMInitialProbabilities(),
		},
		Symmetrize: sc.GetSymmetrizeCovariance(),
	}
	if level, ok := sc.GetConfidenceLevel(); ok {
		cfg.ConfidenceLevel = level
	}
	return cfg
}

// Validate rejects configurations that cannot drive a run.
func (c Config) Validate() error {
	if !(c.Dt > 0) || math.IsInf(c.Dt, 0) {
		return fmt.Errorf("dt must be positive and finite, got %f", c.Dt)
	}
	if !(c.MaxTime > 0) || math.IsInf(c.MaxTime, 0) {
		return fmt.Errorf("max time must be positive and finite, got %f", c.MaxTime)
	}
	if c.Ticks() < 1 {
		return fmt.Errorf("max time %f is shorter than one tick of %f", c.MaxTime, c.Dt)
	}
	if !(c.MeasurementRatio > 0) {
		return fmt.Errorf("measurement ratio must be positive, got %f", c.MeasurementRatio)
	}
	if c.BootstrapNeeded < 1 {
		return fmt.Errorf("bootstrap needs at least one measurement, got %d", c.BootstrapNeeded)
	}
	if c.MeasurementNoise < 0 || c.ProcessNoise < 0 {
		return fmt.Errorf("noise must be non-negative, got r=%f q=%f", c.MeasurementNoise, c.ProcessNoise)
	}
	if c.ConfidenceLevel != 0 && !(c.ConfidenceLevel > 0 && c.ConfidenceLevel < 1) {
		return fmt.Errorf("confidence level must be in (0, 1), got %f", c.ConfidenceLevel)
	}
	if c.FilterType == filter.TypeIMM {
		if err := c.IMM.Validate(); err != nil {
			return fmt.Errorf("imm: %w", err)
		}
	}
	return nil
}

// Ticks returns the number of ticks in the horizon.
func (c Config) Ticks() int {
	return int(math.Round(c.MaxTime / c.Dt))
}

// Threshold returns the chi-square gate for the configured confidence level.
func (c Config) Threshold() float64 {
	if c.ConfidenceLevel == 0 {
		return config.ChiSquare95
	}
	return ChiSquareThreshold(c.ConfidenceLevel)
}

// Model returns the base motion model shared by every estimator.
func (c Config) Model() filter.MotionModel {
	return filter.MotionModel{Dt: c.Dt, Q: c.ProcessNoise, R: c.MeasurementNoise}
}

// NewFromSimulation validates sc and builds a pipeline over its named
// trajectory with a Box–Muller noise stream seeded from sc.
func NewFromSimulation(sc *config.SimulationConfig, reg *Registry) (*Pipeline, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	traj, err := trajectory.ByName(sc.GetTrajectory())
	if err != nil {
		return nil, err
	}
	return New(ConfigFromSimulation(sc), reg, traj, noise.NewBoxMuller(sc.GetSeed()))
}
