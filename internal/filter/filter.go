// Package filter defines the contract shared by every state estimator in the
// demo, together with the constant-acceleration motion model they run on.
//
// Concrete estimators live in the kalman and imm subpackages. Both satisfy
// Estimator; callers select one through an explicit registry keyed by Type
// rather than by string lookup at run time.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/imm.demo/internal/matrix"
)

var (
	// ErrNotReady is returned by Predict and Update before Initialize.
	ErrNotReady = errors.New("estimator not initialised")
	// ErrUnknownFilterType is returned when a filter key cannot be resolved.
	ErrUnknownFilterType = errors.New("unknown filter type")
)

// Type identifies an estimator implementation.
type Type int

const (
	TypeKalman Type = iota // single constant-acceleration Kalman filter
	TypeIMM                // two-model interacting multiple model
)

// String returns the canonical key for t.
func (t Type) String() string {
	switch t {
	case TypeKalman:
		return "kalman"
	case TypeIMM:
		return "imm"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType resolves a filter key. Keys are case-insensitive; "kf" is
// accepted as an alias for "kalman".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kalman", "kf":
		return TypeKalman, nil
	case "imm":
		return TypeIMM, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFilterType, s)
}

// Lifecycle is the initialisation state of an estimator.
type Lifecycle int

const (
	Uninitialized Lifecycle = iota
	Ready
)

func (l Lifecycle) String() string {
	if l == Ready {
		return "ready"
	}
	return "uninitialized"
}

// Innovation is the measurement residual of the most recent update.
// Valid is false after a predict with no update in the same tick.
type Innovation struct {
	Valid      bool
	Residual   matrix.Vec2  // y = z − H·x
	Covariance matrix.Mat2  // S = H·P·Hᵀ + R
	Gain       matrix.Mat62 // K = P·Hᵀ·S⁻¹
}

// Estimator is the capability set every filter exposes to the pipeline.
type Estimator interface {
	Type() Type
	Lifecycle() Lifecycle

	// Initialize seeds the estimate and moves the estimator to Ready.
	Initialize(x0 matrix.Vec6, p0 matrix.Mat6)
	// Predict advances one time step. It returns ErrNotReady before
	// Initialize and leaves the estimator untouched.
	Predict() error
	// Update folds in a position measurement. It returns ErrNotReady before
	// Initialize and leaves the estimator untouched.
	Update(z matrix.Vec2) error
	// UpdateNoise replaces the measurement and process noise scalars.
	// State and covariance are not modified.
	UpdateNoise(r, q float64)

	State() matrix.Vec6
	Covariance() matrix.Mat6
	PositionCovariance() matrix.Mat2
	Innovation() Innovation
	SystemMatrices() SystemMatrices
}

// MultiModel is implemented by estimators that blend a bank of models.
type MultiModel interface {
	ModelProbabilities() []float64
	ActiveModel() int
}
