// sim/equilibrium.go
package sim

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/anesthesia-sim/anesthesia-sim/sim/numeric"
	"github.com/anesthesia-sim/anesthesia-sim/sim/pk"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// equilibriumObjectiveTol is the largest accepted value of the scaled
// BIS/TOL objective at the optimum; above it the targets are declared
// unreachable.
const equilibriumObjectiveTol = 1e-6

// FindEquilibrium returns the constant infusion rates (propofol mg/s,
// remifentanil µg/s, norepinephrine µg/s) whose steady state meets the BIS,
// TOL and MAP targets.
//
// The BIS/TOL pair fixes the propofol and remifentanil concentrations
// through a bounded 2-D minimization, norepinephrine follows analytically
// from the MAP gap, and the PK DC gains convert concentrations to rates.
func (p *Patient) FindEquilibrium(bisTarget, tolTarget, mapTarget float64) (uPropo, uRemi, uNore float64, err error) {
	objective := func(x []float64) float64 {
		bisErr := (p.bisPD.Compute(x[0], x[1]) - bisTarget) / 100
		tolErr := p.tolPD.Compute(x[0], x[1]) - tolTarget
		return bisErr*bisErr + tolErr*tolErr
	}
	x0 := []float64{p.bisPD.Params().C50p, p.tolPD.Params().C50r / 2.5}
	xOpt, fOpt, err := numeric.MinimizeBounded(objective, x0, []float64{0, 0}, []float64{50, 50})
	if err != nil || fOpt > equilibriumObjectiveTol {
		return 0, 0, 0, simerr.NewEquilibriumNotFound("FindEquilibrium", fOpt)
	}
	cPropo, cRemi := xOpt[0], xOpt[1]
	logrus.Debugf("equilibrium concentrations: propofol %.4g µg/ml, remifentanil %.4g ng/ml (objective %.3g)",
		cPropo, cRemi, fOpt)

	mapNoNore, err := p.equilibriumMAP(cPropo, cRemi, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	cNore, err := p.noreForMAPGap(mapTarget - mapNoNore)
	if err != nil {
		return 0, 0, 0, err
	}

	coEq, err := p.equilibriumCO(cPropo, cRemi, cNore)
	if err != nil {
		return 0, 0, 0, err
	}
	if p.coUpdate {
		// The equilibrium cardiac output shifts the clearances; convert
		// through the shifted gains, then restore the nominal scaling.
		if err := p.rescaleForCO(coEq / p.coBase); err != nil {
			return 0, 0, 0, err
		}
		defer func() {
			if rerr := p.rescaleForCO(1); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}
	uPropo = p.propoPK.EquilibriumInput(cPropo)
	uRemi = p.remiPK.EquilibriumInput(cRemi)
	uNore = p.norePK.EquilibriumInput(cNore)
	return uPropo, uRemi, uNore, nil
}

// equilibriumMAP returns the steady-state MAP at fixed plasma
// concentrations.
func (p *Patient) equilibriumMAP(cPropo, cRemi, cNore float64) (float64, error) {
	if p.hemo != nil {
		xEq, _, err := p.hemo.StateAtEquilibrium(cPropo, cRemi, cNore)
		if err != nil {
			return 0, err
		}
		return p.hemo.OutputsAt(xEq).MAP, nil
	}
	mapOut, _ := p.hemoSimple.Compute(cPropo, cPropo, cRemi, cNore)
	return mapOut, nil
}

func (p *Patient) equilibriumCO(cPropo, cRemi, cNore float64) (float64, error) {
	if p.hemo != nil {
		xEq, _, err := p.hemo.StateAtEquilibrium(cPropo, cRemi, cNore)
		if err != nil {
			return 0, err
		}
		return p.hemo.OutputsAt(xEq).CO, nil
	}
	_, co := p.hemoSimple.Compute(cPropo, cPropo, cRemi, cNore)
	return co, nil
}

// noreForMAPGap inverts the norepinephrine MAP sigmoid. A non-positive gap
// yields zero with a warning; a gap at or above the maximal effect is
// unreachable.
func (p *Patient) noreForMAPGap(delta float64) (float64, error) {
	if delta <= 0 {
		logrus.Warnf("MAP target %.3g mmHg below the drug-free equilibrium; norepinephrine cannot lower pressure, using zero", delta)
		return 0, nil
	}
	var emax, c50, gamma float64
	if p.hemo != nil {
		emax, c50, gamma = p.hemo.NoreMAPParams()
	} else {
		emax, c50, gamma = p.hemoSimple.NoreMAPParams()
	}
	if delta >= emax {
		return 0, simerr.NewEquilibriumNotFound("FindEquilibrium", delta-emax)
	}
	return c50 * math.Pow(delta/(emax-delta), 1/gamma), nil
}

// FindBISEquilibriumWithRatio returns the steady-state (propofol,
// remifentanil) rates meeting the BIS target with the remifentanil rate
// locked to ratio times the propofol rate. The PK steady states are exact in
// the rate, so the problem reduces to a scalar monotone root.
func (p *Patient) FindBISEquilibriumWithRatio(bisTarget, ratio float64) (uPropo, uRemi float64, err error) {
	if ratio < 0 || math.IsNaN(ratio) {
		return 0, 0, simerr.NewInvalidInput("FindBISEquilibriumWithRatio", "ratio must be non-negative, got %g", ratio)
	}
	gPropo, err := steadyStatePerUnit(p.propoPK)
	if err != nil {
		return 0, 0, err
	}
	gRemi, err := steadyStatePerUnit(p.remiPK)
	if err != nil {
		return 0, 0, err
	}

	f := func(u float64) float64 {
		return p.bisPD.Compute(gPropo*u, gRemi*ratio*u) - bisTarget
	}
	const lo, hi = 1e-3, 1e4
	u, err := numeric.Bisect(f, lo, hi, 1e-10, 200)
	if err != nil {
		resid := math.Min(math.Abs(f(lo)), math.Abs(f(hi)))
		return 0, 0, simerr.NewEquilibriumNotFound("FindBISEquilibriumWithRatio", resid)
	}
	return u, ratio * u, nil
}

// steadyStatePerUnit returns the per-unit-rate steady-state effect-site
// concentration from the discrete equality (Ad - I) x + Bd u = 0.
func steadyStatePerUnit(sys *pk.System) (float64, error) {
	ad, bd := sys.Discretization()
	n, _ := ad.Dims()
	var m mat.Dense
	m.Sub(ad, eye(n))
	negB := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		negB.SetVec(i, -bd.At(i, 0))
	}
	var x mat.VecDense
	if err := x.SolveVec(&m, negB); err != nil {
		return 0, simerr.NewEquilibriumNotFound("FindBISEquilibriumWithRatio", math.NaN())
	}
	return x.AtVec(effectIndex(sys)), nil
}

func effectIndex(sys *pk.System) int {
	if sys.Size() == 1 {
		return 0
	}
	return 3
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
