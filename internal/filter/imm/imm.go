// Package imm implements a two-model Interacting Multiple Model estimator.
//
// Both models share the constant-acceleration structure and differ only in
// process-noise intensity: a "slow" model for gentle motion and a "fast"
// model for manoeuvres. Each tick the models are mixed, predicted, updated,
// scored by innovation likelihood and blended by model probability.
package imm

import (
	"fmt"
	"math"

	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/filter/kalman"
	"github.com/banshee-data/imm.demo/internal/matrix"
)

// Numerical floors. Not user-tunable.
const (
	// MinNormalizer floors mixing normalisers and the probability-update
	// denominator before division.
	MinNormalizer = 1e-12
	// MinLikelihoodDet floors det(S) inside the Gaussian likelihood.
	MinLikelihoodDet = 1e-9
)

// NumModels is the size of the model bank.
const NumModels = 2

// Params configures the model bank.
type Params struct {
	SlowFactor           float64                       // process-noise scale of model 0
	FastFactor           float64                       // process-noise scale of model 1
	SlowFloor            float64                       // lower bound applied to SlowFactor
	Transition           [NumModels][NumModels]float64 // Pi[i][j]: P(model j at k | model i at k−1)
	InitialProbabilities [NumModels]float64            // mu after Initialize
}

// DefaultParams returns the standard slow/fast bank.
func DefaultParams() Params {
	return Params{
		SlowFactor:           0.5,
		FastFactor:           3.0,
		SlowFloor:            0.1,
		Transition:           [NumModels][NumModels]float64{{0.94, 0.06}, {0.06, 0.94}},
		InitialProbabilities: [NumModels]float64{0.5, 0.5},
	}
}

// Validate checks that the transition rows and initial probabilities are
// stochastic.
func (p Params) Validate() error {
	for i, row := range p.Transition {
		var sum float64
		for j, v := range row {
			if v < 0 {
				return fmt.Errorf("transition[%d][%d] must be non-negative, got %f", i, j, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			return fmt.Errorf("transition row %d must sum to 1, got %f", i, sum)
		}
	}
	var sum float64
	for i, v := range p.InitialProbabilities {
		if v < 0 {
			return fmt.Errorf("initial probability %d must be non-negative, got %f", i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("initial probabilities must sum to 1, got %f", sum)
	}
	if p.FastFactor <= 0 {
		return fmt.Errorf("fast factor must be positive, got %f", p.FastFactor)
	}
	return nil
}

// slowFactor returns the slow-model scale after the floor.
func (p Params) slowFactor() float64 {
	return math.Max(p.SlowFactor, p.SlowFloor)
}

// Filter is the IMM estimator. It owns its two Kalman filters; mixed priors
// are handed to them by value through SetPrior, never by reference.
type Filter struct {
	params    Params
	base      filter.MotionModel
	models    [NumModels]*kalman.Filter
	lifecycle filter.Lifecycle

	mu         [NumModels]float64 // model probabilities
	c          [NumModels]float64 // predicted model probabilities (mixing normalisers)
	likelihood [NumModels]float64 // innovation likelihoods of the last update
	active     int

	x matrix.Vec6
	p matrix.Mat6
}

// New builds an uninitialised IMM around the base motion model. Model 0
// runs at base.Q·max(SlowFactor, SlowFloor), model 1 at base.Q·FastFactor.
func New(base filter.MotionModel, params Params, opts ...kalman.Option) *Filter {
	f := &Filter{params: params, base: base}
	f.models[0] = kalman.New(scaled(base, params.slowFactor()), opts...)
	f.models[1] = kalman.New(scaled(base, params.FastFactor), opts...)
	return f
}

func scaled(m filter.MotionModel, factor float64) filter.MotionModel {
	m.Q *= factor
	return m
}

// Type implements filter.Estimator.
func (f *Filter) Type() filter.Type { return filter.TypeIMM }

// Lifecycle implements filter.Estimator.
func (f *Filter) Lifecycle() filter.Lifecycle { return f.lifecycle }

// Params returns the bank configuration.
func (f *Filter) Params() Params { return f.params }

// Model returns a read-only view of model i's filter state.
func (f *Filter) Model(i int) filter.Estimator { return f.models[i] }

// Initialize seeds both models with the same prior and resets the model
// probabilities.
func (f *Filter) Initialize(x0 matrix.Vec6, p0 matrix.Mat6) {
	for _, m := range f.models {
		m.Initialize(x0, p0)
	}
	f.mu = f.params.InitialProbabilities
	f.c = f.mu
	f.likelihood = [NumModels]float64{}
	f.x = x0
	f.p = p0
	f.selectActive()
	f.lifecycle = filter.Ready
}

// Predict mixes the model estimates, injects each mixed prior and predicts
// every model. The predicted probabilities c are kept for the next Update;
// mu changes only when a measurement is folded in, so the combined estimate
// of a predict-only tick is weighted by the current mu.
func (f *Filter) Predict() error {
	if f.lifecycle != filter.Ready {
		return filter.ErrNotReady
	}
	f.mix()
	for _, m := range f.models {
		if err := m.Predict(); err != nil {
			return err
		}
	}
	f.combine()
	f.selectActive()
	return nil
}

// mix computes c_j and the mixed priors and injects them into the models.
func (f *Filter) mix() {
	pi := f.params.Transition

	var xs [NumModels]matrix.Vec6
	var ps [NumModels]matrix.Mat6
	for i, m := range f.models {
		xs[i] = m.State()
		ps[i] = m.Covariance()
	}

	for j := 0; j < NumModels; j++ {
		var cj float64
		for i := 0; i < NumModels; i++ {
			cj += pi[i][j] * f.mu[i]
		}
		f.c[j] = cj
		norm := math.Max(cj, MinNormalizer)

		var w [NumModels]float64
		for i := 0; i < NumModels; i++ {
			w[i] = pi[i][j] * f.mu[i] / norm
		}

		var x0 matrix.Vec6
		for i := 0; i < NumModels; i++ {
			x0 = matrix.AddVec6(x0, matrix.ScaleVec6(xs[i], w[i]))
		}
		var p0 matrix.Mat6
		for i := 0; i < NumModels; i++ {
			d := matrix.SubVec6(xs[i], x0)
			spread := matrix.Add6(ps[i], matrix.Outer6(d, d))
			p0 = matrix.Add6(p0, matrix.Scale6(spread, w[i]))
		}
		f.models[j].SetPrior(x0, p0)
	}
}

// Update updates both models with z, scores each innovation and refreshes
// the model probabilities and the combined estimate.
func (f *Filter) Update(z matrix.Vec2) error {
	if f.lifecycle != filter.Ready {
		return filter.ErrNotReady
	}

	var total float64
	var weighted [NumModels]float64
	for j, m := range f.models {
		if err := m.Update(z); err != nil {
			return err
		}
		inn := m.Innovation()
		f.likelihood[j] = Likelihood(inn.Residual, inn.Covariance)
		weighted[j] = f.likelihood[j] * f.c[j]
		total += weighted[j]
	}

	// When every likelihood underflows the measurement carries no usable
	// model evidence; keep the predicted probabilities so mu stays a
	// distribution.
	if total >= MinNormalizer {
		for j := range weighted {
			f.mu[j] = weighted[j] / total
		}
	} else {
		f.mu = f.c
	}

	f.combine()
	f.selectActive()
	return nil
}

// Likelihood evaluates the zero-mean 2D Gaussian innovation score
// exp(−½·max(0, yᵀS⁻¹y)) / sqrt(max(det S, MinLikelihoodDet)). S is
// inverted without a floor; a NaN quadratic form scores as zero distance.
// The normalising constant 1/2π is common to both models and omitted.
func Likelihood(y matrix.Vec2, s matrix.Mat2) float64 {
	det := math.Max(matrix.Det2(s), MinLikelihoodDet)
	sInv := matrix.Inverse2(s)
	sy := matrix.Mul2Vec(sInv, y)
	q := y[0]*sy[0] + y[1]*sy[1]
	if q < 0 || math.IsNaN(q) {
		q = 0
	}
	return math.Exp(-0.5*q) / math.Sqrt(det)
}

// combine blends the model estimates by probability.
func (f *Filter) combine() {
	var x matrix.Vec6
	for j, m := range f.models {
		x = matrix.AddVec6(x, matrix.ScaleVec6(m.State(), f.mu[j]))
	}
	var p matrix.Mat6
	for j, m := range f.models {
		d := matrix.SubVec6(m.State(), x)
		spread := matrix.Add6(m.Covariance(), matrix.Outer6(d, d))
		p = matrix.Add6(p, matrix.Scale6(spread, f.mu[j]))
	}
	f.x = x
	f.p = p
}

// selectActive marks the most probable model; ties go to model 0.
func (f *Filter) selectActive() {
	if f.mu[0] >= f.mu[1] {
		f.active = 0
	} else {
		f.active = 1
	}
}

// UpdateNoise rescales both models from the new base noise.
func (f *Filter) UpdateNoise(r, q float64) {
	f.base.R = r
	f.base.Q = q
	f.models[0].UpdateNoise(r, q*f.params.slowFactor())
	f.models[1].UpdateNoise(r, q*f.params.FastFactor)
}

// State implements filter.Estimator.
func (f *Filter) State() matrix.Vec6 { return f.x }

// Covariance implements filter.Estimator.
func (f *Filter) Covariance() matrix.Mat6 { return f.p }

// PositionCovariance implements filter.Estimator.
func (f *Filter) PositionCovariance() matrix.Mat2 {
	return filter.PositionCovarianceOf(f.p)
}

// Innovation returns the active model's innovation.
func (f *Filter) Innovation() filter.Innovation {
	return f.models[f.active].Innovation()
}

// SystemMatrices returns the active model's matrices.
func (f *Filter) SystemMatrices() filter.SystemMatrices {
	return f.models[f.active].SystemMatrices()
}

// ModelProbabilities implements filter.MultiModel.
func (f *Filter) ModelProbabilities() []float64 {
	return []float64{f.mu[0], f.mu[1]}
}

// ActiveModel implements filter.MultiModel.
func (f *Filter) ActiveModel() int { return f.active }

// Likelihoods returns the innovation likelihoods from the last update.
func (f *Filter) Likelihoods() [NumModels]float64 { return f.likelihood }
