package sim

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/anesthesia-sim/anesthesia-sim/sim/numeric"
)

// Measurement noise standard deviations.
const (
	bisNoiseStd = 3.0
	mapNoiseStd = 5.0
	coNoiseStd  = 0.1
)

// noiseBlock is the number of white samples shaped per filter run.
const noiseBlock = 1000

// noiseGenerator produces the measurement noise added to the outputs. MAP
// and CO noise is white; BIS noise is white noise shaped by a second-order
// low-pass filter with a resonance near 0.03 Hz,
//
//	H(s) = (0.1 s + 1) w0^2 / (s^2 + 2 xi w0 s + w0^2)
//
// realized in controllable canonical form and ZOH-discretized at the
// sampling period. The filter runs over fixed-size white blocks regenerated
// on exhaustion.
type noiseGenerator struct {
	white distuv.Normal

	ad, bd *mat.Dense
	cd     []float64

	bis []float64
	idx int
}

func newNoiseGenerator(ts float64, src rand.Source) *noiseGenerator {
	const xi = 0.2
	w0 := 0.03 * 2 * math.Pi / math.Sqrt(1-2*xi*xi)

	a := mat.NewDense(2, 2, []float64{
		0, 1,
		-w0 * w0, -2 * xi * w0,
	})
	b := mat.NewDense(2, 1, []float64{0, 1})
	ad, bd := numeric.Discretize(a, b, ts)

	g := &noiseGenerator{
		white: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		ad:    ad,
		bd:    bd,
		cd:    []float64{w0 * w0, 0.1 * w0 * w0},
	}
	g.refill()
	return g
}

// refill shapes a fresh white block through the filter from zero state.
func (g *noiseGenerator) refill() {
	if g.bis == nil {
		g.bis = make([]float64, noiseBlock)
	}
	var x0, x1 float64
	for i := range g.bis {
		g.bis[i] = g.cd[0]*x0 + g.cd[1]*x1
		u := g.white.Rand() * bisNoiseStd
		n0 := g.ad.At(0, 0)*x0 + g.ad.At(0, 1)*x1 + g.bd.At(0, 0)*u
		n1 := g.ad.At(1, 0)*x0 + g.ad.At(1, 1)*x1 + g.bd.At(1, 0)*u
		x0, x1 = n0, n1
	}
	g.idx = 0
}

// Step returns one sample of (bis, map, co) noise.
func (g *noiseGenerator) Step() (bisN, mapN, coN float64) {
	if g.idx >= len(g.bis) {
		g.refill()
	}
	bisN = g.bis[g.idx]
	g.idx++
	mapN = g.white.Rand() * mapNoiseStd
	coN = g.white.Rand() * coNoiseStd
	return bisN, mapN, coN
}
