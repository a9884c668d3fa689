package filter

import "github.com/banshee-data/imm.demo/internal/matrix"

// Index layout of the interleaved state vector.
const (
	IdxPX = 0
	IdxPY = 1
	IdxVX = 2
	IdxVY = 3
	IdxAX = 4
	IdxAY = 5
)

// MotionModel holds the scalar parameters of the constant-acceleration model.
type MotionModel struct {
	Dt float64 // time step (seconds, > 0)
	Q  float64 // process noise intensity (jerk spectral density)
	R  float64 // measurement noise standard deviation
}

// SystemMatrices are the matrices generated from a MotionModel.
type SystemMatrices struct {
	F matrix.Mat6  `json:"F"`
	H matrix.Mat26 `json:"H"`
	Q matrix.Mat6  `json:"Q"`
	R matrix.Mat2  `json:"R"`
}

// Matrices builds F, H, Q and R for m.
func (m MotionModel) Matrices() SystemMatrices {
	return SystemMatrices{
		F: m.Transition(),
		H: Projection(),
		Q: m.ProcessNoise(),
		R: m.MeasurementNoise(),
	}
}

// Transition returns F. Per axis:
//
//	p' = p + v·dt + a·dt²/2
//	v' = v + a·dt
//	a' = a
func (m MotionModel) Transition() matrix.Mat6 {
	dt := m.Dt
	f := matrix.Identity6()
	for axis := 0; axis < 2; axis++ {
		p, v, a := IdxPX+axis, IdxVX+axis, IdxAX+axis
		f[p][v] = dt
		f[p][a] = 0.5 * dt * dt
		f[v][a] = dt
	}
	return f
}

// Projection returns H, which observes position only.
func Projection() matrix.Mat26 {
	var h matrix.Mat26
	h[0][IdxPX] = 1
	h[1][IdxPY] = 1
	return h
}

// ProcessNoise returns Q for a white-noise-jerk model of intensity q. The
// x and y axes are independent.
func (m MotionModel) ProcessNoise() matrix.Mat6 {
	dt := m.Dt
	dt2 := dt * dt
	dt3 := dt2 * dt
	dt4 := dt3 * dt
	dt5 := dt4 * dt
	block := [3][3]float64{
		{dt5 / 20, dt4 / 8, dt3 / 6},
		{dt4 / 8, dt3 / 3, dt2 / 2},
		{dt3 / 6, dt2 / 2, dt},
	}

	var q matrix.Mat6
	for axis := 0; axis < 2; axis++ {
		idx := [3]int{IdxPX + axis, IdxVX + axis, IdxAX + axis}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				q[idx[i]][idx[j]] = m.Q * block[i][j]
			}
		}
	}
	return q
}

// MeasurementNoise returns R = r²·I₂.
func (m MotionModel) MeasurementNoise() matrix.Mat2 {
	r2 := m.R * m.R
	return matrix.Mat2{{r2, 0}, {0, r2}}
}

// PositionOf extracts (px, py) from a state vector.
func PositionOf(x matrix.Vec6) matrix.Vec2 {
	return matrix.Vec2{x[IdxPX], x[IdxPY]}
}

// PositionCovarianceOf extracts the 2×2 position block of a covariance.
func PositionCovarianceOf(p matrix.Mat6) matrix.Mat2 {
	return matrix.Extract2(p, IdxPX, IdxPX)
}
