package imm

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/filter/kalman"
	"github.com/banshee-data/imm.demo/internal/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumProbabilities(t *testing.T, f *Filter) float64 {
	t.Helper()
	mu := f.ModelProbabilities()
	require.Len(t, mu, NumModels)
	return mu[0] + mu[1]
}

func TestDefaultParams(t *testing.T) {
	t.Parallel()
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, 0.5, p.slowFactor())

	p.SlowFactor = 0.01
	assert.Equal(t, 0.1, p.slowFactor(), "slow factor is floored")
}

func TestParamsValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"row does not sum to one", func(p *Params) { p.Transition[0] = [2]float64{0.5, 0.4} }},
		{"negative transition", func(p *Params) { p.Transition[1] = [2]float64{-0.1, 1.1} }},
		{"initial probabilities", func(p *Params) { p.InitialProbabilities = [2]float64{0.7, 0.7} }},
		{"negative initial", func(p *Params) { p.InitialProbabilities = [2]float64{-0.5, 1.5} }},
		{"fast factor", func(p *Params) { p.FastFactor = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestNotReady(t *testing.T) {
	t.Parallel()
	f := New(filter.MotionModel{Dt: 0.05, Q: 1, R: 15}, DefaultParams())
	assert.Equal(t, filter.TypeIMM, f.Type())
	assert.Equal(t, filter.Uninitialized, f.Lifecycle())
	require.ErrorIs(t, f.Predict(), filter.ErrNotReady)
	require.ErrorIs(t, f.Update(matrix.Vec2{}), filter.ErrNotReady)
	assert.Equal(t, filter.Uninitialized, f.Model(0).Lifecycle())
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	f := New(filter.MotionModel{Dt: 0.05, Q: 1, R: 15}, DefaultParams())
	x0 := matrix.Vec6{3, 4}
	p0 := matrix.Identity6()
	f.Initialize(x0, p0)

	assert.Equal(t, filter.Ready, f.Lifecycle())
	assert.Equal(t, []float64{0.5, 0.5}, f.ModelProbabilities())
	assert.Equal(t, 0, f.ActiveModel(), "ties favour model 0")
	for i := 0; i < NumModels; i++ {
		assert.Equal(t, x0, f.Model(i).State())
		assert.Equal(t, p0, f.Model(i).Covariance())
	}
	assert.Equal(t, x0, f.State())
}

func TestModelNoiseScaling(t *testing.T) {
	t.Parallel()
	base := filter.MotionModel{Dt: 0.1, Q: 2, R: 5}
	f := New(base, DefaultParams())

	slow := filter.MotionModel{Dt: 0.1, Q: 1, R: 5}.ProcessNoise()
	fast := filter.MotionModel{Dt: 0.1, Q: 6, R: 5}.ProcessNoise()
	assert.Equal(t, slow, f.Model(0).SystemMatrices().Q)
	assert.Equal(t, fast, f.Model(1).SystemMatrices().Q)

	f.UpdateNoise(1, 4)
	assert.Equal(t, filter.MotionModel{Dt: 0.1, Q: 2}.ProcessNoise(), f.Model(0).SystemMatrices().Q)
	assert.Equal(t, filter.MotionModel{Dt: 0.1, Q: 12}.ProcessNoise(), f.Model(1).SystemMatrices().Q)
	assert.Equal(t, matrix.Mat2{{1, 0}, {0, 1}}, f.Model(1).SystemMatrices().R)
}

func TestLikelihood(t *testing.T) {
	t.Parallel()
	s := matrix.Mat2{{4, 0}, {0, 4}}
	assert.InDelta(t, 1.0/4.0, Likelihood(matrix.Vec2{}, s), 1e-12)
	assert.InDelta(t, math.Exp(-0.5*2)/4, Likelihood(matrix.Vec2{2, 2}, s), 1e-12)

	// Degenerate S: the determinant floor keeps the score finite.
	l := Likelihood(matrix.Vec2{}, matrix.Mat2{})
	assert.InDelta(t, 1/math.Sqrt(MinLikelihoodDet), l, 1e-6)
	assert.False(t, math.IsInf(l, 0))

	// A negative quadratic form from an indefinite S clamps to zero; the
	// floor only applies under the square root.
	l = Likelihood(matrix.Vec2{0, 1}, matrix.Mat2{{1, 0}, {0, -1e-12}})
	assert.InDelta(t, 1/math.Sqrt(MinLikelihoodDet), l, 1e-6)
}

func TestModelSelection(t *testing.T) {
	t.Parallel()
	base := filter.MotionModel{Dt: 1, Q: 10, R: 1}

	t.Run("small innovation favours the slow model", func(t *testing.T) {
		f := New(base, DefaultParams())
		f.Initialize(matrix.Vec6{}, matrix.Identity6())
		require.NoError(t, f.Predict())
		require.NoError(t, f.Update(matrix.Vec2{0, 0}))

		lik := f.Likelihoods()
		mu := f.ModelProbabilities()
		assert.InDelta(t, lik[0]/(lik[0]+lik[1]), mu[0], 1e-12)
		assert.Greater(t, mu[0], mu[1])
		assert.Equal(t, 0, f.ActiveModel())
		assert.Equal(t, f.Model(0).Innovation(), f.Innovation())
	})

	t.Run("large innovation favours the fast model", func(t *testing.T) {
		f := New(base, DefaultParams())
		f.Initialize(matrix.Vec6{}, matrix.Identity6())
		require.NoError(t, f.Predict())
		require.NoError(t, f.Update(matrix.Vec2{6, 6}))

		mu := f.ModelProbabilities()
		assert.Greater(t, mu[1], mu[0])
		assert.Equal(t, 1, f.ActiveModel())
		assert.Equal(t, f.Model(1).Innovation(), f.Innovation())
		assert.Equal(t, f.Model(1).SystemMatrices(), f.SystemMatrices())
	})
}

func TestCombination(t *testing.T) {
	t.Parallel()
	f := New(filter.MotionModel{Dt: 0.2, Q: 5, R: 2}, DefaultParams())
	f.Initialize(matrix.Vec6{}, matrix.Identity6())
	require.NoError(t, f.Predict())
	require.NoError(t, f.Update(matrix.Vec2{3, -1}))

	mu := f.ModelProbabilities()
	x0, x1 := f.Model(0).State(), f.Model(1).State()
	want := matrix.AddVec6(matrix.ScaleVec6(x0, mu[0]), matrix.ScaleVec6(x1, mu[1]))
	got := f.State()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12)
	}

	// The spread-of-means term makes the combined covariance at least as
	// large as the weighted model covariances.
	p := f.Covariance()
	p0, p1 := f.Model(0).Covariance(), f.Model(1).Covariance()
	for i := 0; i < 6; i++ {
		assert.GreaterOrEqual(t, p[i][i]+1e-12, mu[0]*p0[i][i]+mu[1]*p1[i][i])
	}
}

func TestProbabilityInvariant(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(31, 32))

	for trial := 0; trial < 20; trial++ {
		stay0 := 0.5 + 0.5*r.Float64()
		stay1 := 0.5 + 0.5*r.Float64()
		params := Params{
			SlowFactor:           r.Float64(),
			FastFactor:           1 + 5*r.Float64(),
			SlowFloor:            0.1,
			Transition:           [2][2]float64{{stay0, 1 - stay0}, {1 - stay1, stay1}},
			InitialProbabilities: [2]float64{0.5, 0.5},
		}
		base := filter.MotionModel{Dt: 0.01 + 0.2*r.Float64(), Q: 10 * r.Float64(), R: 0.5 + 20*r.Float64()}
		f := New(base, params)
		f.Initialize(matrix.Vec6{}, matrix.Diag6(matrix.Vec6{100, 100, 10, 10, 1, 1}))

		for k := 0; k < 200; k++ {
			require.NoError(t, f.Predict())
			assert.InDelta(t, 1.0, sumProbabilities(t, f), 1e-9)
			if k%3 != 0 {
				// Occasional outliers exercise the underflow fallback.
				scale := base.R
				if k%17 == 0 {
					scale *= 1e4
				}
				z := matrix.Vec2{r.NormFloat64() * scale, r.NormFloat64() * scale}
				require.NoError(t, f.Update(z))
				assert.InDelta(t, 1.0, sumProbabilities(t, f), 1e-9)
			}
		}
	}
}

// With Pi = I and all mass on model 0, the IMM must reproduce a standalone
// filter running model 0's noise.
func TestDegeneracy_MatchesSingleFilter(t *testing.T) {
	t.Parallel()
	base := filter.MotionModel{Dt: 0.05, Q: 2, R: 3}
	params := DefaultParams()
	params.Transition = [2][2]float64{{1, 0}, {0, 1}}
	params.InitialProbabilities = [2]float64{1, 0}

	bank := New(base, params)
	single := kalman.New(filter.MotionModel{Dt: 0.05, Q: 2 * params.slowFactor(), R: 3})

	x0 := matrix.Vec6{10, -4, 1, 0, 0, 0}
	p0 := matrix.Diag6(matrix.Vec6{36, 36, 100, 100, 1000, 1000})
	bank.Initialize(x0, p0)
	single.Initialize(x0, p0)

	r := rand.New(rand.NewPCG(41, 42))
	for k := 0; k < 300; k++ {
		tt := float64(k) * base.Dt
		truth := matrix.Vec2{50 * math.Cos(tt/3), 50 * math.Sin(tt/3)}
		z := matrix.Vec2{truth[0] + 3*r.NormFloat64(), truth[1] + 3*r.NormFloat64()}

		require.NoError(t, bank.Predict())
		require.NoError(t, single.Predict())
		if k%2 == 0 {
			require.NoError(t, bank.Update(z))
			require.NoError(t, single.Update(z))
		}

		assert.Equal(t, []float64{1, 0}, bank.ModelProbabilities(), "tick %d", k)
		bs, ss := bank.State(), single.State()
		bp, sp := bank.Covariance(), single.Covariance()
		for i := 0; i < 6; i++ {
			require.InDelta(t, ss[i], bs[i], 1e-9, "state[%d] tick %d", i, k)
			for j := 0; j < 6; j++ {
				require.InDelta(t, sp[i][j], bp[i][j], 1e-9, "P[%d][%d] tick %d", i, j, k)
			}
		}
	}
}

func TestPredictWithoutUpdate_KeepsProbabilities(t *testing.T) {
	t.Parallel()
	params := DefaultParams()
	params.InitialProbabilities = [2]float64{1, 0}
	f := New(filter.MotionModel{Dt: 0.05, Q: 1, R: 1}, params)
	f.Initialize(matrix.Vec6{}, matrix.Identity6())

	for k := 0; k < 3; k++ {
		require.NoError(t, f.Predict())
		assert.Equal(t, []float64{1, 0}, f.ModelProbabilities(), "predict %d", k)
		assert.InDelta(t, 0.94, f.c[0], 1e-12, "predict %d", k)
		assert.InDelta(t, 0.06, f.c[1], 1e-12, "predict %d", k)
		assert.Equal(t, 0, f.ActiveModel())
		assert.False(t, f.Innovation().Valid)
	}
}

// Predict, predict, update: the update must weight the likelihoods by
// c = Piᵀ·mu computed from the unchanged mu, so Pi is applied once.
func TestUpdateAfterPredictOnlyTick(t *testing.T) {
	t.Parallel()
	params := DefaultParams()
	params.InitialProbabilities = [2]float64{1, 0}
	f := New(filter.MotionModel{Dt: 0.05, Q: 1, R: 1}, params)
	f.Initialize(matrix.Vec6{}, matrix.Identity6())

	require.NoError(t, f.Predict())
	require.NoError(t, f.Predict())
	assert.InDelta(t, 0.94, f.c[0], 1e-12)
	assert.InDelta(t, 0.06, f.c[1], 1e-12)

	require.NoError(t, f.Update(matrix.Vec2{0.5, -0.5}))
	lik := f.Likelihoods()
	total := lik[0]*0.94 + lik[1]*0.06
	mu := f.ModelProbabilities()
	assert.InDelta(t, lik[0]*0.94/total, mu[0], 1e-12)
	assert.InDelta(t, lik[1]*0.06/total, mu[1], 1e-12)
}
