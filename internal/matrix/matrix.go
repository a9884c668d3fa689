// Package matrix is the fixed-size dense linear-algebra kernel used by the
// estimators.
//
// Every shape the filters need is its own array type, so assignment copies
// and no two filters can alias a covariance by accident. Dimension
// compatibility is guaranteed by the types; there are no runtime shape
// checks.
//
// State ordering is [px, py, vx, vy, ax, ay].
package matrix

import "math"

// Vec6 is a 6-element column vector.
type Vec6 [6]float64

// Vec2 is a 2-element column vector.
type Vec2 [2]float64

// Mat6 is a 6×6 row-major matrix.
type Mat6 [6][6]float64

// Mat2 is a 2×2 row-major matrix.
type Mat2 [2][2]float64

// Mat26 is a 2×6 matrix (measurement projection shape).
type Mat26 [2][6]float64

// Mat62 is a 6×2 matrix (Kalman gain shape).
type Mat62 [6][2]float64

// Identity6 returns the 6×6 identity.
func Identity6() Mat6 {
	var m Mat6
	for i := 0; i < 6; i++ {
		m[i][i] = 1
	}
	return m
}

// Identity2 returns the 2×2 identity.
func Identity2() Mat2 {
	return Mat2{{1, 0}, {0, 1}}
}

// Identity returns an n×n identity as nested slices. The typed variants are
// preferred in hot paths.
func Identity(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	return m
}

// Diag6 builds a diagonal 6×6 matrix.
func Diag6(d Vec6) Mat6 {
	var m Mat6
	for i := 0; i < 6; i++ {
		m[i][i] = d[i]
	}
	return m
}

// Mul6 returns A·B.
func Mul6(a, b Mat6) Mat6 {
	var c Mat6
	for i := 0; i < 6; i++ {
		for k := 0; k < 6; k++ {
			aik := a[i][k]
			if aik == 0 {
				continue
			}
			for j := 0; j < 6; j++ {
				c[i][j] += aik * b[k][j]
			}
		}
	}
	return c
}

// Mul6Vec returns A·v.
func Mul6Vec(a Mat6, v Vec6) Vec6 {
	var out Vec6
	for i := 0; i < 6; i++ {
		var s float64
		for j := 0; j < 6; j++ {
			s += a[i][j] * v[j]
		}
		out[i] = s
	}
	return out
}

// Transpose6 returns Aᵀ.
func Transpose6(a Mat6) Mat6 {
	var t Mat6
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			t[j][i] = a[i][j]
		}
	}
	return t
}

// Add6 returns A+B.
func Add6(a, b Mat6) Mat6 {
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			a[i][j] += b[i][j]
		}
	}
	return a
}

// Sub6 returns A−B.
func Sub6(a, b Mat6) Mat6 {
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			a[i][j] -= b[i][j]
		}
	}
	return a
}

// Scale6 returns s·A.
func Scale6(a Mat6, s float64) Mat6 {
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			a[i][j] *= s
		}
	}
	return a
}

// AddVec6 returns a+b.
func AddVec6(a, b Vec6) Vec6 {
	for i := range a {
		a[i] += b[i]
	}
	return a
}

// SubVec6 returns a−b.
func SubVec6(a, b Vec6) Vec6 {
	for i := range a {
		a[i] -= b[i]
	}
	return a
}

// ScaleVec6 returns s·v.
func ScaleVec6(v Vec6, s float64) Vec6 {
	for i := range v {
		v[i] *= s
	}
	return v
}

// Outer6 returns a·bᵀ.
func Outer6(a, b Vec6) Mat6 {
	var m Mat6
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			m[i][j] = a[i] * b[j]
		}
	}
	return m
}

// Add2 returns A+B.
func Add2(a, b Mat2) Mat2 {
	return Mat2{
		{a[0][0] + b[0][0], a[0][1] + b[0][1]},
		{a[1][0] + b[1][0], a[1][1] + b[1][1]},
	}
}

// Sub2 returns A−B.
func Sub2(a, b Mat2) Mat2 {
	return Mat2{
		{a[0][0] - b[0][0], a[0][1] - b[0][1]},
		{a[1][0] - b[1][0], a[1][1] - b[1][1]},
	}
}

// SubVec2 returns a−b.
func SubVec2(a, b Vec2) Vec2 {
	return Vec2{a[0] - b[0], a[1] - b[1]}
}

// Det2 returns a·d − b·c.
func Det2(a Mat2) float64 {
	return a[0][0]*a[1][1] - a[0][1]*a[1][0]
}

// Inverse2 inverts a 2×2 matrix by the adjugate. The determinant is not
// floored: a singular input yields Inf/NaN entries.
func Inverse2(a Mat2) Mat2 {
	det := Det2(a)
	return Mat2{
		{a[1][1] / det, -a[0][1] / det},
		{-a[1][0] / det, a[0][0] / det},
	}
}

// Mul2Vec returns A·v.
func Mul2Vec(a Mat2, v Vec2) Vec2 {
	return Vec2{
		a[0][0]*v[0] + a[0][1]*v[1],
		a[1][0]*v[0] + a[1][1]*v[1],
	}
}

// Mul26x6 returns H·P.
func Mul26x6(h Mat26, p Mat6) Mat26 {
	var out Mat26
	for i := 0; i < 2; i++ {
		for k := 0; k < 6; k++ {
			hik := h[i][k]
			if hik == 0 {
				continue
			}
			for j := 0; j < 6; j++ {
				out[i][j] += hik * p[k][j]
			}
		}
	}
	return out
}

// Mul26x62 returns A·B for a 2×6 and a 6×2, giving 2×2.
func Mul26x62(a Mat26, b Mat62) Mat2 {
	var out Mat2
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			var s float64
			for k := 0; k < 6; k++ {
				s += a[i][k] * b[k][j]
			}
			out[i][j] = s
		}
	}
	return out
}

// Mul6x62 returns A·B for a 6×6 and a 6×2.
func Mul6x62(a Mat6, b Mat62) Mat62 {
	var out Mat62
	for i := 0; i < 6; i++ {
		for j := 0; j < 2; j++ {
			var s float64
			for k := 0; k < 6; k++ {
				s += a[i][k] * b[k][j]
			}
			out[i][j] = s
		}
	}
	return out
}

// Mul62x2 returns K·A for a 6×2 and a 2×2.
func Mul62x2(k Mat62, a Mat2) Mat62 {
	var out Mat62
	for i := 0; i < 6; i++ {
		out[i][0] = k[i][0]*a[0][0] + k[i][1]*a[1][0]
		out[i][1] = k[i][0]*a[0][1] + k[i][1]*a[1][1]
	}
	return out
}

// Mul62x26 returns K·H, a 6×6.
func Mul62x26(k Mat62, h Mat26) Mat6 {
	var out Mat6
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out[i][j] = k[i][0]*h[0][j] + k[i][1]*h[1][j]
		}
	}
	return out
}

// Mul62Vec returns K·y.
func Mul62Vec(k Mat62, y Vec2) Vec6 {
	var out Vec6
	for i := 0; i < 6; i++ {
		out[i] = k[i][0]*y[0] + k[i][1]*y[1]
	}
	return out
}

// Mul26Vec returns H·x.
func Mul26Vec(h Mat26, x Vec6) Vec2 {
	var out Vec2
	for i := 0; i < 2; i++ {
		var s float64
		for j := 0; j < 6; j++ {
			s += h[i][j] * x[j]
		}
		out[i] = s
	}
	return out
}

// Transpose26 returns Hᵀ.
func Transpose26(h Mat26) Mat62 {
	var t Mat62
	for i := 0; i < 2; i++ {
		for j := 0; j < 6; j++ {
			t[j][i] = h[i][j]
		}
	}
	return t
}

// Extract2 returns the 2×2 block of A whose top-left corner is (r0, c0).
func Extract2(a Mat6, r0, c0 int) Mat2 {
	return Mat2{
		{a[r0][c0], a[r0][c0+1]},
		{a[r0+1][c0], a[r0+1][c0+1]},
	}
}

// ExtractSubmatrix returns rows [r0, r1) and columns [c0, c1) of A.
func ExtractSubmatrix(a Mat6, r0, r1, c0, c1 int) [][]float64 {
	out := make([][]float64, r1-r0)
	for i := r0; i < r1; i++ {
		row := make([]float64, c1-c0)
		copy(row, a[i][c0:c1])
		out[i-r0] = row
	}
	return out
}

// Symmetrize6 returns (A + Aᵀ)/2.
func Symmetrize6(a Mat6) Mat6 {
	for i := 0; i < 6; i++ {
		for j := i + 1; j < 6; j++ {
			m := 0.5 * (a[i][j] + a[j][i])
			a[i][j] = m
			a[j][i] = m
		}
	}
	return a
}

// Asymmetry6 returns max |A[i][j] − A[j][i]|.
func Asymmetry6(a Mat6) float64 {
	var worst float64
	for i := 0; i < 6; i++ {
		for j := i + 1; j < 6; j++ {
			if d := math.Abs(a[i][j] - a[j][i]); d > worst {
				worst = d
			}
		}
	}
	return worst
}

// MaxEigenvalue2 returns the larger eigenvalue of a symmetric 2×2 matrix
// using trace/2 + sqrt(trace² − 4·det)/2. A negative discriminant from
// rounding is clamped to zero.
func MaxEigenvalue2(a Mat2) float64 {
	trace := a[0][0] + a[1][1]
	disc := trace*trace - 4*Det2(a)
	if disc < 0 {
		disc = 0
	}
	return trace/2 + math.Sqrt(disc)/2
}

// Mahalanobis2 returns yᵀ·A⁻¹·y, with det(A) floored at minDet before the
// division.
func Mahalanobis2(y Vec2, a Mat2, minDet float64) float64 {
	det := Det2(a)
	if det < minDet {
		det = minDet
	}
	// yᵀ adj(A) y / det
	num := y[0]*y[0]*a[1][1] - y[0]*y[1]*(a[0][1]+a[1][0]) + y[1]*y[1]*a[0][0]
	return num / det
}

// IsFinite6 reports whether every element of v is finite.
func IsFinite6(v Vec6) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
