// Package noise supplies the measurement-noise collaborator.
package noise

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/imm.demo/internal/matrix"
)

// Source perturbs a true position with zero-mean Gaussian noise.
type Source interface {
	// AddGaussianNoise adds independent N(0, sigma²) noise to each
	// coordinate of p.
	AddGaussianNoise(p matrix.Vec2, sigma float64) matrix.Vec2
}

// BoxMuller draws normal pairs with the Box–Muller transform over a seeded
// PCG stream. The same seed always yields the same noise sequence.
//
// Not safe for concurrent use.
type BoxMuller struct {
	rng *rand.Rand
}

// NewBoxMuller returns a generator seeded with seed.
func NewBoxMuller(seed uint64) *BoxMuller {
	return &BoxMuller{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Pair returns two independent standard normal deviates.
func (b *BoxMuller) Pair() (float64, float64) {
	// 1 − Float64() lies in (0, 1], so the log is finite.
	u1 := 1 - b.rng.Float64()
	u2 := b.rng.Float64()
	mag := math.Sqrt(-2 * math.Log(u1))
	return mag * math.Cos(2*math.Pi*u2), mag * math.Sin(2*math.Pi*u2)
}

// AddGaussianNoise implements Source. A pair is always consumed, even for
// sigma = 0, so the stream position depends only on the call count.
func (b *BoxMuller) AddGaussianNoise(p matrix.Vec2, sigma float64) matrix.Vec2 {
	n0, n1 := b.Pair()
	return matrix.Vec2{p[0] + sigma*n0, p[1] + sigma*n1}
}

// None returns positions unchanged.
type None struct{}

// AddGaussianNoise implements Source.
func (None) AddGaussianNoise(p matrix.Vec2, _ float64) matrix.Vec2 { return p }
