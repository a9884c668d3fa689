package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/trajectory"
)

// DefaultConfigPath is the path to the canonical simulation defaults file.
const DefaultConfigPath = "config/simulation.defaults.json"

// SimulationConfig is the root configuration of an estimation run. Every
// field is optional; the Get* accessors fall back to built-in defaults, so
// partial files are safe. The same schema is accepted as JSON or YAML.
type SimulationConfig struct {
	// Timing
	Dt               *float64 `json:"dt,omitempty" yaml:"dt,omitempty"`
	MaxTime          *float64 `json:"max_time,omitempty" yaml:"max_time,omitempty"`
	MeasurementRatio *float64 `json:"measurement_ratio,omitempty" yaml:"measurement_ratio,omitempty"` // measurement interval in multiples of dt
	BootstrapNeeded  *int     `json:"bootstrap_needed,omitempty" yaml:"bootstrap_needed,omitempty"`

	// Noise
	MeasurementNoise *float64 `json:"measurement_noise,omitempty" yaml:"measurement_noise,omitempty"` // σ of each position coordinate
	ProcessNoise     *float64 `json:"process_noise,omitempty" yaml:"process_noise,omitempty"`         // jerk intensity q
	Seed             *uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Estimator
	FilterType           *string  `json:"filter_type,omitempty" yaml:"filter_type,omitempty"`
	Trajectory           *string  `json:"trajectory,omitempty" yaml:"trajectory,omitempty"`
	ConfidenceLevel      *float64 `json:"confidence_level,omitempty" yaml:"confidence_level,omitempty"`
	SymmetrizeCovariance *bool    `json:"symmetrize_covariance,omitempty" yaml:"symmetrize_covariance,omitempty"`

	// IMM bank
	IMMTransition           [][]float64 `json:"imm_transition,omitempty" yaml:"imm_transition,omitempty"`
	IMMSlowFactor           *float64    `json:"imm_slow_factor,omitempty" yaml:"imm_slow_factor,omitempty"`
	IMMFastFactor           *float64    `json:"imm_fast_factor,omitempty" yaml:"imm_fast_factor,omitempty"`
	IMMSlowFloor            *float64    `json:"imm_slow_floor,omitempty" yaml:"imm_slow_floor,omitempty"`
	IMMInitialProbabilities []float64   `json:"imm_initial_probabilities,omitempty" yaml:"imm_initial_probabilities,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// ChiSquare95 is the 95% quantile of the chi-square distribution with two
// degrees of freedom, used when no confidence level is configured.
const ChiSquare95 = 5.991

// EmptySimulationConfig returns a config with every field unset.
func EmptySimulationConfig() *SimulationConfig {
	return &SimulationConfig{}
}

// DefaultSimulationConfig returns a config with every field set to its
// default. ConfidenceLevel stays unset so the fixed ChiSquare95 threshold
// applies.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		Dt:                      ptrFloat64(0.05),
		MaxTime:                 ptrFloat64(30),
		MeasurementRatio:        ptrFloat64(2.0),
		BootstrapNeeded:         ptrInt(3),
		MeasurementNoise:        ptrFloat64(15),
		ProcessNoise:            ptrFloat64(1.0),
		Seed:                    ptrUint64(1),
		FilterType:              ptrString("kalman"),
		Trajectory:              ptrString("circle"),
		SymmetrizeCovariance:    ptrBool(false),
		IMMTransition:           [][]float64{{0.94, 0.06}, {0.06, 0.94}},
		IMMSlowFactor:           ptrFloat64(0.5),
		IMMFastFactor:           ptrFloat64(3.0),
		IMMSlowFloor:            ptrFloat64(0.1),
		IMMInitialProbabilities: []float64{0.5, 0.5},
	}
}

// LoadSimulationConfig loads a config from a .json, .yaml or .yml file.
// The file must be under 1MB. Fields omitted from the file keep their
// defaults.
func LoadSimulationConfig(path string) (*SimulationConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySimulationConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. Panics if the file cannot be loaded; intended for tests
// and binaries run from inside the repository.
func MustLoadDefaultConfig() *SimulationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSimulationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from the repository")
}

// Validate checks every set field.
func (c *SimulationConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"dt", c.Dt},
		{"max_time", c.MaxTime},
		{"measurement_ratio", c.MeasurementRatio},
		{"imm_fast_factor", c.IMMFastFactor},
	}
	for _, p := range positive {
		if p.v != nil && !(*p.v > 0) {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}

	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"measurement_noise", c.MeasurementNoise},
		{"process_noise", c.ProcessNoise},
		{"imm_slow_factor", c.IMMSlowFactor},
		{"imm_slow_floor", c.IMMSlowFloor},
	}
	for _, p := range nonNegative {
		if p.v != nil && !(*p.v >= 0) {
			return fmt.Errorf("%s must be non-negative, got %f", p.name, *p.v)
		}
	}

	if c.Dt != nil && c.MaxTime != nil && *c.MaxTime < *c.Dt {
		return fmt.Errorf("max_time (%f) must be at least one dt (%f)", *c.MaxTime, *c.Dt)
	}

	if c.BootstrapNeeded != nil && *c.BootstrapNeeded < 1 {
		return fmt.Errorf("bootstrap_needed must be at least 1, got %d", *c.BootstrapNeeded)
	}

	if c.FilterType != nil {
		if _, err := filter.ParseType(*c.FilterType); err != nil {
			return err
		}
	}

	if c.Trajectory != nil {
		if _, err := trajectory.ByName(*c.Trajectory); err != nil {
			return err
		}
	}

	if c.ConfidenceLevel != nil {
		if v := *c.ConfidenceLevel; !(v > 0 && v < 1) {
			return fmt.Errorf("confidence_level must be in (0, 1), got %f", v)
		}
	}

	if c.IMMTransition != nil {
		if len(c.IMMTransition) != 2 {
			return fmt.Errorf("imm_transition must have 2 rows, got %d", len(c.IMMTransition))
		}
		for i, row := range c.IMMTransition {
			if err := validateDistribution(fmt.Sprintf("imm_transition row %d", i), row); err != nil {
				return err
			}
		}
	}

	if c.IMMInitialProbabilities != nil {
		if err := validateDistribution("imm_initial_probabilities", c.IMMInitialProbabilities); err != nil {
			return err
		}
	}

	return nil
}

func validateDistribution(name string, p []float64) error {
	if len(p) != 2 {
		return fmt.Errorf("%s must have 2 entries, got %d", name, len(p))
	}
	var sum float64
	for _, v := range p {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", name, p)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("%s must sum to 1, got %f", name, sum)
	}
	return nil
}

// GetDt returns the dt value or the default.
func (c *SimulationConfig) GetDt() float64 {
	if c.Dt == nil {
		return 0.05
	}
	return *c.Dt
}

// GetMaxTime returns the max_time value or the default.
func (c *SimulationConfig) GetMaxTime() float64 {
	if c.MaxTime == nil {
		return 30
	}
	return *c.MaxTime
}

// GetMeasurementRatio returns the measurement_ratio value or the default.
func (c *SimulationConfig) GetMeasurementRatio() float64 {
	if c.MeasurementRatio == nil {
		return 2.0
	}
	return *c.MeasurementRatio
}

// GetBootstrapNeeded returns the bootstrap_needed value or the default.
func (c *SimulationConfig) GetBootstrapNeeded() int {
	if c.BootstrapNeeded == nil {
		return 3
	}
	return *c.BootstrapNeeded
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *SimulationConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 15
	}
	return *c.MeasurementNoise
}

// GetProcessNoise returns the process_noise value or the default.
func (c *SimulationConfig) GetProcessNoise() float64 {
	if c.ProcessNoise == nil {
		return 1.0
	}
	return *c.ProcessNoise
}

// GetSeed returns the seed value or the default.
func (c *SimulationConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetFilterType returns the filter_type key or the default.
func (c *SimulationConfig) GetFilterType() string {
	if c.FilterType == nil || *c.FilterType == "" {
		return "kalman"
	}
	return *c.FilterType
}

// GetTrajectory returns the trajectory name or the default.
func (c *SimulationConfig) GetTrajectory() string {
	if c.Trajectory == nil || *c.Trajectory == "" {
		return "circle"
	}
	return *c.Trajectory
}

// GetConfidenceLevel returns the configured confidence level and whether
// one was set.
func (c *SimulationConfig) GetConfidenceLevel() (float64, bool) {
	if c.ConfidenceLevel == nil {
		return 0.95, false
	}
	return *c.ConfidenceLevel, true
}

// GetSymmetrizeCovariance returns the symmetrize_covariance value or the default.
func (c *SimulationConfig) GetSymmetrizeCovariance() bool {
	if c.SymmetrizeCovariance == nil {
		return false
	}
	return *c.SymmetrizeCovariance
}

// GetIMMTransition returns the model transition matrix or the default.
func (c *SimulationConfig) GetIMMTransition() [2][2]float64 {
	if len(c.IMMTransition) != 2 || len(c.IMMTransition[0]) != 2 || len(c.IMMTransition[1]) != 2 {
		return [2][2]float64{{0.94, 0.06}, {0.06, 0.94}}
	}
	return [2][2]float64{
		{c.IMMTransition[0][0], c.IMMTransition[0][1]},
		{c.IMMTransition[1][0], c.IMMTransition[1][1]},
	}
}

// GetIMMSlowFactor returns the imm_slow_factor value or the default.
func (c *SimulationConfig) GetIMMSlowFactor() float64 {
	if c.IMMSlowFactor == nil {
		return 0.5
	}
	return *c.IMMSlowFactor
}

// GetIMMFastFactor returns the imm_fast_factor value or the default.
func (c *SimulationConfig) GetIMMFastFactor() float64 {
	if c.IMMFastFactor == nil {
		return 3.0
	}
	return *c.IMMFastFactor
}

// GetIMMSlowFloor returns the imm_slow_floor value or the default.
func (c *SimulationConfig) GetIMMSlowFloor() float64 {
	if c.IMMSlowFloor == nil {
		return 0.1
	}
	return *c.IMMSlowFloor
}

// GetIMMInitialProbabilities returns the initial model probabilities or the
// default.
func (c *SimulationConfig) GetIMMInitialProbabilities() [2]float64 {
	if len(c.IMMInitialProbabilities) != 2 {
		return [2]float64{0.5, 0.5}
	}
	return [2]float64{c.IMMInitialProbabilities[0], c.IMMInitialProbabilities[1]}
}
