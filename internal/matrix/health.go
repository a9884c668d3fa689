package matrix

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// CovarianceHealth summarises how far a covariance has drifted from the
// symmetric positive semi-definite set. The simple (I−KH)P update does not
// preserve either property exactly, so these are reported, not enforced.
type CovarianceHealth struct {
	Asymmetry     float64 `json:"asymmetry"`
	MinEigenvalue float64 `json:"min_eigenvalue"`
	Finite        bool    `json:"finite"`
}

// Dense6 copies a into a gonum dense matrix.
func Dense6(a Mat6) *mat.Dense {
	data := make([]float64, 0, 36)
	for i := 0; i < 6; i++ {
		data = append(data, a[i][:]...)
	}
	return mat.NewDense(6, 6, data)
}

// Health computes the asymmetry of p and the smallest eigenvalue of its
// symmetric part. A non-finite covariance reports Finite=false and NaN for
// the eigenvalue.
func Health(p Mat6) CovarianceHealth {
	h := CovarianceHealth{Asymmetry: Asymmetry6(p), Finite: true}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			if math.IsNaN(p[i][j]) || math.IsInf(p[i][j], 0) {
				h.Finite = false
				h.MinEigenvalue = math.NaN()
				return h
			}
		}
	}

	sym := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			sym.SetSym(i, j, 0.5*(p[i][j]+p[j][i]))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		h.MinEigenvalue = math.NaN()
		return h
	}
	values := eig.Values(nil)
	h.MinEigenvalue = values[0]
	for _, v := range values[1:] {
		if v < h.MinEigenvalue {
			h.MinEigenvalue = v
		}
	}
	return h
}
