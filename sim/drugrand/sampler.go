// Package drugrand provides the random sampling used to perturb nominal
// model parameters at construction time. Randomness is injected as a Sampler
// so tests and population studies can substitute deterministic draws; no
// package in the simulator reads global random state.
package drugrand

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Subsystem names used to derive independent streams from one simulation
// seed. Two patients built from the same seed draw identical parameters.
const (
	SubsystemPKPropofol       = "pk/propofol"
	SubsystemPKRemifentanil   = "pk/remifentanil"
	SubsystemPKNorepinephrine = "pk/norepinephrine"
	SubsystemBIS              = "pd/bis"
	SubsystemTOL              = "pd/tol"
	SubsystemHemodynamic      = "pd/hemodynamic"
	SubsystemNoise            = "noise"
)

// Sampler draws the perturbations applied to nominal model parameters.
// LogNormal returns a multiplicative factor exp(N(0, w)); Normal returns an
// additive offset N(0, std). The multivariate variants draw correlated
// blocks; cov is a full (symmetric) covariance matrix.
type Sampler interface {
	LogNormal(w float64) float64
	Normal(std float64) float64
	MultivariateNormal(mu []float64, cov [][]float64) []float64
	MultivariateLogNormal(mu []float64, cov [][]float64) []float64
}

// Deterministic is the Sampler used when parameter randomization is off:
// every draw collapses to its mean (factor 1, offset 0).
type Deterministic struct{}

// LogNormal returns 1.
func (Deterministic) LogNormal(float64) float64 { return 1 }

// Normal returns 0.
func (Deterministic) Normal(float64) float64 { return 0 }

// MultivariateNormal returns a copy of mu.
func (Deterministic) MultivariateNormal(mu []float64, _ [][]float64) []float64 {
	out := make([]float64, len(mu))
	copy(out, mu)
	return out
}

// MultivariateLogNormal returns exp(mu) element-wise.
func (Deterministic) MultivariateLogNormal(mu []float64, _ [][]float64) []float64 {
	out := make([]float64, len(mu))
	for i, m := range mu {
		out[i] = math.Exp(m)
	}
	return out
}

// Streams hands out one deterministically seeded Sampler per subsystem.
// The derivation mirrors the per-subsystem RNG partitioning used for the
// measurement-noise stream: master seed combined with an FNV-1a hash of the
// subsystem name, so adding a stream never shifts the draws of another.
type Streams struct {
	seed  int64
	cache map[string]Sampler
}

// NewStreams creates a Streams from a master seed.
func NewStreams(seed int64) *Streams {
	return &Streams{seed: seed, cache: make(map[string]Sampler)}
}

// For returns the Sampler for the named subsystem, creating it on first use.
// The same name always returns the same Sampler instance.
func (s *Streams) For(name string) Sampler {
	if smp, ok := s.cache[name]; ok {
		return smp
	}
	smp := NewSampler(rand.NewPCG(uint64(s.seed), fnv1a64(name)))
	s.cache[name] = smp
	return smp
}

// Source returns a rand.Rand for the named subsystem, derived the same way
// as For. Used by consumers that need raw variates (measurement noise).
func (s *Streams) Source(name string) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(s.seed), fnv1a64(name)))
}

// NewSampler wraps a rand source into a Sampler.
func NewSampler(src rand.Source) Sampler {
	return &randSampler{src: src}
}

type randSampler struct {
	src rand.Source
}

func (s *randSampler) Normal(std float64) float64 {
	if std == 0 {
		return 0
	}
	return distuv.Normal{Mu: 0, Sigma: std, Src: s.src}.Rand()
}

func (s *randSampler) LogNormal(w float64) float64 {
	if w == 0 {
		return 1
	}
	return math.Exp(s.Normal(w))
}

func (s *randSampler) MultivariateNormal(mu []float64, cov [][]float64) []float64 {
	n := len(mu)
	flat := make([]float64, 0, n*n)
	for _, row := range cov {
		flat = append(flat, row...)
	}
	dist, ok := distmv.NewNormal(mu, mat.NewSymDense(n, flat), s.src)
	if !ok {
		// Covariance not positive definite; fall back to the mean.
		out := make([]float64, n)
		copy(out, mu)
		return out
	}
	return dist.Rand(nil)
}

func (s *randSampler) MultivariateLogNormal(mu []float64, cov [][]float64) []float64 {
	out := s.MultivariateNormal(mu, cov)
	for i, v := range out {
		out[i] = math.Exp(v)
	}
	return out
}

// SpreadFromCV converts a reported coefficient of variation into the
// log-normal spread w = sqrt(log(1+cv^2)).
func SpreadFromCV(cv float64) float64 {
	return math.Sqrt(math.Log(1 + cv*cv))
}

func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
