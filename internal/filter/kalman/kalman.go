// Package kalman implements a linear Kalman filter over the 6-state
// constant-acceleration model with a position-only measurement.
package kalman

import (
	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/matrix"
)

// Filter is a single constant-acceleration Kalman filter.
//
// State and covariance are stored by value. Every accessor returns a copy
// and every setter copies its input, so a Filter never shares storage with
// its caller.
type Filter struct {
	model      filter.MotionModel
	sys        filter.SystemMatrices
	lifecycle  filter.Lifecycle
	x          matrix.Vec6
	p          matrix.Mat6
	innovation filter.Innovation
	symmetrize bool
}

// Option configures a Filter.
type Option func(*Filter)

// WithSymmetrize re-symmetrises P after every update. Off by default: the
// plain (I−KH)P form is kept so output matches the reference behaviour.
func WithSymmetrize(on bool) Option {
	return func(f *Filter) { f.symmetrize = on }
}

// New returns an uninitialised filter for model.
func New(model filter.MotionModel, opts ...Option) *Filter {
	f := &Filter{
		model: model,
		sys:   model.Matrices(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Type implements filter.Estimator.
func (f *Filter) Type() filter.Type { return filter.TypeKalman }

// Lifecycle implements filter.Estimator.
func (f *Filter) Lifecycle() filter.Lifecycle { return f.lifecycle }

// Model returns the motion model parameters currently in effect.
func (f *Filter) Model() filter.MotionModel { return f.model }

// Initialize seeds the filter and marks it Ready.
func (f *Filter) Initialize(x0 matrix.Vec6, p0 matrix.Mat6) {
	f.x = x0
	f.p = p0
	f.innovation = filter.Innovation{}
	f.lifecycle = filter.Ready
}

// SetPrior overwrites state and covariance without touching the lifecycle.
// The IMM uses it to inject mixed priors.
func (f *Filter) SetPrior(x matrix.Vec6, p matrix.Mat6) {
	f.x = x
	f.p = p
}

// Predict applies x ← F·x and P ← F·P·Fᵀ + Q, and clears the cached
// innovation.
func (f *Filter) Predict() error {
	if f.lifecycle != filter.Ready {
		return filter.ErrNotReady
	}
	F := f.sys.F
	f.x = matrix.Mul6Vec(F, f.x)
	f.p = matrix.Add6(matrix.Mul6(matrix.Mul6(F, f.p), matrix.Transpose6(F)), f.sys.Q)
	f.innovation = filter.Innovation{}
	return nil
}

// Update folds in the position measurement z.
//
//	y = z − H·x
//	S = H·P·Hᵀ + R
//	K = P·Hᵀ·S⁻¹
//	x ← x + K·y
//	P ← (I − K·H)·P
//
// S is inverted without a determinant floor.
func (f *Filter) Update(z matrix.Vec2) error {
	if f.lifecycle != filter.Ready {
		return filter.ErrNotReady
	}
	H := f.sys.H
	Ht := matrix.Transpose26(H)

	y := matrix.SubVec2(z, matrix.Mul26Vec(H, f.x))
	s := matrix.Add2(matrix.Mul26x62(matrix.Mul26x6(H, f.p), Ht), f.sys.R)
	k := matrix.Mul62x2(matrix.Mul6x62(f.p, Ht), matrix.Inverse2(s))

	f.x = matrix.AddVec6(f.x, matrix.Mul62Vec(k, y))
	f.p = matrix.Mul6(matrix.Sub6(matrix.Identity6(), matrix.Mul62x26(k, H)), f.p)
	if f.symmetrize {
		f.p = matrix.Symmetrize6(f.p)
	}

	f.innovation = filter.Innovation{
		Valid:      true,
		Residual:   y,
		Covariance: s,
		Gain:       k,
	}
	return nil
}

// UpdateNoise replaces r and q and regenerates Q and R. State and
// covariance are unchanged.
func (f *Filter) UpdateNoise(r, q float64) {
	f.model.R = r
	f.model.Q = q
	f.sys.Q = f.model.ProcessNoise()
	f.sys.R = f.model.MeasurementNoise()
}

// State implements filter.Estimator.
func (f *Filter) State() matrix.Vec6 { return f.x }

// Covariance implements filter.Estimator.
func (f *Filter) Covariance() matrix.Mat6 { return f.p }

// PositionCovariance implements filter.Estimator.
func (f *Filter) PositionCovariance() matrix.Mat2 {
	return filter.PositionCovarianceOf(f.p)
}

// Innovation implements filter.Estimator.
func (f *Filter) Innovation() filter.Innovation { return f.innovation }

// SystemMatrices implements filter.Estimator.
func (f *Filter) SystemMatrices() filter.SystemMatrices { return f.sys }
