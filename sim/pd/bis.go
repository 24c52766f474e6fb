// Package pd implements the pharmacodynamic models: the BIS surface-response
// model, the hierarchical TOL model, and the mechanistic and simple
// hemodynamic models. All compute paths clamp small negative concentrations
// to zero; the integrators never clamp internally.
package pd

import (
	"math"

	"github.com/anesthesia-sim/anesthesia-sim/sim/drugrand"
	"github.com/anesthesia-sim/anesthesia-sim/sim/numeric"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// BIS model variants.
const (
	BISBouillon   = "Bouillon"
	BISVanluchene = "Vanluchene"
	BISEleveld    = "Eleveld"
)

// Eleveld slope below and above C50p.
const (
	eleveldGammaLow  = 1.89
	eleveldGammaHigh = 1.47
)

// BISParams is one parameterization of the surface-response model. C50r == 0
// disables the remifentanil interaction.
type BISParams struct {
	C50p  float64 // µg/ml
	C50r  float64 // ng/ml
	Gamma float64
	Beta  float64
	E0    float64
	Emax  float64
}

// BISConfig selects a variant or a custom parameter set.
type BISConfig struct {
	Variant string
	Age     float64 // years; required by the Eleveld variant

	// Custom, when non-nil, overrides the variant table and disables
	// randomization.
	Custom *BISParams

	Sampler drugrand.Sampler
}

// BIS maps propofol and remifentanil effect-site concentrations to the
// bispectral index. The Eleveld variant switches its slope with the
// propofol concentration; the switch is a pure function of the inputs, so
// Compute stays referentially transparent inside optimizer objectives.
type BIS struct {
	p        BISParams
	variant  string
	c50pInit float64
}

// NewBIS builds a BIS model.
func NewBIS(cfg BISConfig) (*BIS, error) {
	if cfg.Custom != nil {
		return &BIS{p: *cfg.Custom, variant: "custom", c50pInit: cfg.Custom.C50p}, nil
	}

	var p BISParams
	var cv BISParams // coefficients of variation, same layout
	switch cfg.Variant {
	case BISBouillon, "":
		p = BISParams{C50p: 4.47, C50r: 19.3, Gamma: 1.43, Beta: 0, E0: 97.4, Emax: 97.4}
		cv = BISParams{C50p: 0.182, C50r: 0.888, Gamma: 0.304}
	case BISVanluchene:
		p = BISParams{C50p: 4.92, C50r: 0, Gamma: 2.69, Beta: 0, E0: 95.9, Emax: 87.5}
		cv = BISParams{C50p: 0.34, Gamma: 0.32, E0: 0.04, Emax: 0.11}
	case BISEleveld:
		if cfg.Age <= 0 {
			return nil, simerr.NewConfiguration("age", "required by the Eleveld BIS model")
		}
		p = BISParams{
			C50p:  3.08 * math.Exp(-0.00635*(cfg.Age-35)),
			Gamma: eleveldGammaLow,
			E0:    93,
			Emax:  93,
		}
		cv = BISParams{C50p: 0.523}
	default:
		return nil, simerr.NewConfiguration("bis model", "unknown variant %q", cfg.Variant)
	}

	if cfg.Sampler != nil {
		s := cfg.Sampler
		p.C50p *= s.LogNormal(drugrand.SpreadFromCV(cv.C50p))
		p.C50r *= s.LogNormal(drugrand.SpreadFromCV(cv.C50r))
		p.Gamma *= s.LogNormal(drugrand.SpreadFromCV(cv.Gamma))
		p.Beta *= s.LogNormal(drugrand.SpreadFromCV(cv.Beta))
		p.E0 = math.Min(100, p.E0*s.LogNormal(drugrand.SpreadFromCV(cv.E0)))
		p.Emax *= s.LogNormal(drugrand.SpreadFromCV(cv.Emax))
	}

	return &BIS{p: p, variant: cfg.Variant, c50pInit: p.C50p}, nil
}

// Params returns the current parameter set.
func (b *BIS) Params() BISParams { return b.p }

// gammaAt returns the slope for a propofol concentration; only the Eleveld
// variant is concentration-dependent.
func (b *BIS) gammaAt(cp float64) float64 {
	if b.variant != BISEleveld {
		return b.p.Gamma
	}
	if cp <= b.p.C50p {
		return eleveldGammaLow
	}
	return eleveldGammaHigh
}

// Compute returns the BIS for the given effect-site concentrations. Small
// negative inputs from the integrator are treated as zero.
func (b *BIS) Compute(cp, cr float64) float64 {
	cp = math.Max(0, cp)
	cr = math.Max(0, cr)

	var interaction, gamma float64
	if b.p.C50r == 0 {
		interaction = cp / b.p.C50p
		gamma = b.gammaAt(cp)
	} else {
		up := cp / b.p.C50p
		ur := cr / b.p.C50r
		phi := up / (up + ur + 1e-6)
		u50 := 1 - b.p.Beta*(phi-phi*phi)
		interaction = (up + ur) / u50
		gamma = b.p.Gamma
	}
	ig := math.Pow(interaction, gamma)
	return b.p.E0 - b.p.Emax*ig/(1+ig)
}

// Inverse returns the propofol effect-site concentration producing the
// requested BIS at a fixed remifentanil concentration. Targets outside the
// achievable effect range are a NoSolutionError.
func (b *BIS) Inverse(bis, cr float64) (float64, error) {
	effect := b.p.E0 - bis
	if effect <= 0 {
		return 0, simerr.NewNoSolution("bis.Inverse", "target %g above the zero-drug baseline %g", bis, b.p.E0)
	}
	if effect >= b.p.Emax {
		return 0, simerr.NewNoSolution("bis.Inverse", "target %g below the maximal-effect floor %g", bis, b.p.E0-b.p.Emax)
	}

	if b.p.C50r == 0 {
		// Slope selection must agree with Compute, so decide on the
		// candidate concentration, not the BIS value.
		cp := b.p.C50p * math.Pow(effect/(b.p.Emax-effect), 1/b.gammaAt(0))
		if b.variant == BISEleveld && cp > b.p.C50p {
			cp = b.p.C50p * math.Pow(effect/(b.p.Emax-effect), 1/eleveldGammaHigh)
		}
		return cp, nil
	}

	temp := math.Pow(effect/(b.p.Emax-effect), 1/b.p.Gamma)
	yr := math.Max(0, cr) / b.p.C50r
	roots := numeric.CubicRealRoots(
		3*yr-temp,
		3*yr*yr-(2-b.p.Beta)*yr*temp,
		yr*yr*yr-yr*yr*temp,
	)
	cp := -1.0
	for _, r := range roots {
		// Eigenvalue noise can nudge the repeated root at -Yr (or 0) just
		// past zero; only clearly positive roots are admissible.
		if r > 1e-7 {
			if cp > 0 {
				return 0, simerr.NewNoSolution("bis.Inverse", "multiple admissible roots for target %g", bis)
			}
			cp = r
		}
	}
	if cp <= 0 {
		return 0, simerr.NewNoSolution("bis.Inverse", "no positive root for target %g at cr=%g", bis, cr)
	}
	return cp * b.p.C50p, nil
}

// UpdateForBloodLoss lowers the effective C50p as blood volume is lost,
// always from the initial value so repeated calls do not compound.
func (b *BIS) UpdateForBloodLoss(vRatio float64) {
	b.p.C50p = b.c50pInit - 3/0.5*(1-vRatio)
}
