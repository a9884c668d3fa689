package pipeline

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/imm.demo/internal/matrix"
)

// Run is the full record of one horizon.
type Run struct {
	ID            string     `json:"id"`
	Config        Config     `json:"-"`
	Threshold     float64    `json:"threshold"`
	Snapshots     []Snapshot `json:"snapshots"`
	Coverage      Coverage   `json:"coverage"`
	BootstrapTick int        `json:"bootstrap_tick"` // −1 if the estimator never initialised
}

// Summary condenses a run into scalar diagnostics.
type Summary struct {
	RunID         string  `json:"run_id"`
	Filter        string  `json:"filter"`
	Ticks         int     `json:"ticks"`
	Measurements  int     `json:"measurements"`
	BootstrapTick int     `json:"bootstrap_tick"`
	RMSE          float64 `json:"rmse"`
	MeanError     float64 `json:"mean_error"`
	MaxError      float64 `json:"max_error"`
	Coverage      float64 `json:"coverage"`
	NonFiniteTick int     `json:"non_finite_tick"` // −1 if the estimate stayed finite

	// Worst covariance health over the initialised ticks.
	MaxAsymmetry      float64   `json:"max_asymmetry"`
	MinEigenvalue     float64   `json:"min_eigenvalue"`
	MeanProbabilities []float64 `json:"mean_probabilities,omitempty"`
}

// Summary computes the run's diagnostics. Error statistics and covariance
// health cover initialised ticks with a finite estimate only.
func (r *Run) Summary() Summary {
	s := Summary{
		RunID:         r.ID,
		Filter:        r.Config.FilterType.String(),
		Ticks:         len(r.Snapshots),
		BootstrapTick: r.BootstrapTick,
		Coverage:      r.Coverage.Pct(),
		NonFiniteTick: -1,
		MinEigenvalue: math.Inf(1),
	}

	var sumSq, sum float64
	var n, nProb int
	for i := range r.Snapshots {
		snap := &r.Snapshots[i]
		if snap.HadMeasurement {
			s.Measurements++
		}
		if !snap.Initialized {
			continue
		}
		if !matrix.IsFinite6(snap.State) {
			if s.NonFiniteTick < 0 {
				s.NonFiniteTick = snap.Tick
			}
			continue
		}
		n++
		sum += snap.Error
		sumSq += snap.Error * snap.Error
		s.MaxError = math.Max(s.MaxError, snap.Error)

		h := matrix.Health(snap.Covariance)
		if h.Finite {
			s.MaxAsymmetry = math.Max(s.MaxAsymmetry, h.Asymmetry)
			s.MinEigenvalue = math.Min(s.MinEigenvalue, h.MinEigenvalue)
		}

		if len(snap.ModelProbabilities) > 0 {
			if s.MeanProbabilities == nil {
				s.MeanProbabilities = make([]float64, len(snap.ModelProbabilities))
			}
			for j, v := range snap.ModelProbabilities {
				s.MeanProbabilities[j] += v
			}
			nProb++
		}
	}

	if n > 0 {
		s.MeanError = sum / float64(n)
		s.RMSE = math.Sqrt(sumSq / float64(n))
	}
	if math.IsInf(s.MinEigenvalue, 1) {
		s.MinEigenvalue = 0
	}
	for j := range s.MeanProbabilities {
		s.MeanProbabilities[j] /= float64(nProb)
	}
	return s
}

// ChiSquareThreshold returns the two-degree-of-freedom chi-square quantile
// for the given confidence level, e.g. ≈5.991 for 0.95.
func ChiSquareThreshold(level float64) float64 {
	return distuv.ChiSquared{K: 2}.Quantile(level)
}
