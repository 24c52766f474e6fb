package pd

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/anesthesia-sim/anesthesia-sim/sim/drugrand"
	"github.com/anesthesia-sim/anesthesia-sim/sim/numeric"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

func fsig(x, c50, gamma float64) float64 {
	xg := math.Pow(x, gamma)
	return xg / (math.Pow(c50, gamma) + xg)
}

// Norepinephrine MAP-effect parameterizations for the mechanistic model.
const (
	NoreBeloeil = "Beloeil"
	NoreOualha  = "Oualha"
)

// FeedbackMode identifies which setpoint coupling the effect trajectory is
// latched onto. The latch is one-way: once a mode engages it stays engaged
// for the rest of the run, and the two coupled modes are mutually exclusive.
type FeedbackMode int

const (
	FeedbackNone FeedbackMode = iota
	FeedbackNorepinephrine
	FeedbackBloodLoss
)

// HemoOutputs is one observation of the hemodynamic system.
type HemoOutputs struct {
	TPR float64 // mmHg/ml/min
	SV  float64 // ml
	HR  float64 // 1/min
	MAP float64 // mmHg
	CO  float64 // L/min
}

// HemoConfig configures the mechanistic model.
type HemoConfig struct {
	Age float64 // years
	Ts  float64 // sampling time (s)

	// NoreModel selects the norepinephrine MAP-effect sigmoid; default
	// Beloeil.
	NoreModel string

	// Custom baselines; all three must be set together. Zero values keep
	// the published Su baselines.
	HRBase  float64 // 1/min
	SVBase  float64 // ml
	MAPBase float64 // mmHg

	Sampler drugrand.Sampler
}

// Hemodynamic is the five-state mechanistic interaction model of Su 2023.
// State: [TPR, SV*, HR*, LTDE_sv, LTDE_hr], where the starred values exclude
// the long-term drug effect and LTDE are first-order decay states modeling
// acute tolerance. It integrates two trajectories: x, driven by drugs only,
// and xEffect, which additionally tracks a MAP setpoint (norepinephrine) or
// an apparent-SV setpoint (blood loss). Outputs are read from xEffect.
type Hemodynamic struct {
	ts float64

	tprBase, svBase, hrBase    float64
	kOut, kInTPR, kInSV, kInHR float64
	fb, hrSV                   float64
	kLTDE, ltdeSV, ltdeHR      float64

	c50PropoTPR, emaxPropoTPR, gammaPropoTPR float64
	c50PropoSV, emaxPropoSV                  float64
	c50RemiTPR, emaxRemiTPR                  float64
	slRemiHR, slRemiSV                       float64
	intHR, c50IntHR, intTPR, intSV           float64

	emaxNore, c50Nore, gammaNore float64

	kEffect float64

	abaseSV, abaseHR, baseMAP float64

	x, xEffect  []float64
	mode        FeedbackMode
	warnedMixed bool

	prevCpPropo, prevCpRemi float64
}

// NewHemodynamic builds the mechanistic model.
func NewHemodynamic(cfg HemoConfig) (*Hemodynamic, error) {
	if cfg.Ts <= 0 || math.IsNaN(cfg.Ts) {
		return nil, simerr.NewConfiguration("ts", "sampling time must be positive, got %g", cfg.Ts)
	}
	if cfg.Age <= 0 {
		return nil, simerr.NewConfiguration("age", "required by the hemodynamic model")
	}

	h := &Hemodynamic{
		ts:      cfg.Ts,
		svBase:  82.2,
		hrBase:  56.1,
		tprBase: 0.0163,
		kOut:    0.072 / 60,
		fb:      -0.661,
		hrSV:    0.312,
		kLTDE:   0.067 / 60,
		ltdeSV:  0.0899,
		ltdeHR:  0.121,

		c50PropoTPR:   3.21,
		emaxPropoTPR:  -0.778,
		gammaPropoTPR: 1.83,
		c50PropoSV:    0.44,
		emaxPropoSV:   -0.154 * math.Exp(0.0333*(cfg.Age-35)),
		c50RemiTPR:    4.59,
		emaxRemiTPR:   -1,
		slRemiHR:      0.0327,
		slRemiSV:      0.0581,
		intHR:         -0.0119,
		c50IntHR:      0.20,
		intTPR:        1,
		intSV:         -0.212,

		kEffect: 1e-4,
	}

	var c50NoreSpread float64
	switch cfg.NoreModel {
	case NoreBeloeil, "":
		h.emaxNore, h.c50Nore, h.gammaNore = 98.7, 7.04, 1.8
		c50NoreSpread = 1.64
	case NoreOualha:
		h.emaxNore, h.c50Nore, h.gammaNore = 32, 4.11, 1
		c50NoreSpread = 0.09
	default:
		return nil, simerr.NewConfiguration("nore model", "unknown variant %q", cfg.NoreModel)
	}

	if cfg.HRBase > 0 || cfg.SVBase > 0 || cfg.MAPBase > 0 {
		if cfg.HRBase <= 0 || cfg.SVBase <= 0 || cfg.MAPBase <= 0 {
			return nil, simerr.NewConfiguration("baselines", "hr, sv and map baselines must be set together")
		}
		// The arguments are apparent values; the stored bases exclude the
		// long-term drug effect so the apparent baselines reproduce them.
		h.hrBase = cfg.HRBase / (1 + h.ltdeHR)
		h.svBase = cfg.SVBase / (1 + h.ltdeSV)
		h.tprBase = cfg.MAPBase / (cfg.HRBase * cfg.SVBase)
	}

	if cfg.Sampler != nil {
		s := cfg.Sampler
		bases := s.MultivariateLogNormal([]float64{0, 0, 0}, [][]float64{
			{0.0328, -0.0244, 0},
			{-0.0244, 0.0528, -0.0233},
			{0, -0.0233, 0.0242},
		})
		h.tprBase *= bases[0]
		h.svBase *= bases[1]
		h.hrBase *= bases[2]

		slopes := s.MultivariateNormal([]float64{0, 0}, [][]float64{
			{0.00382, 0.00329},
			{0.00329, 0.00868},
		})
		h.slRemiHR += slopes[0]
		h.slRemiSV += slopes[1]

		h.c50PropoTPR *= s.LogNormal(math.Sqrt(0.44))
		h.emaxRemiTPR += s.Normal(math.Sqrt(0.449))
		h.c50Nore *= s.LogNormal(c50NoreSpread)
	}

	h.kInTPR = h.kOut * h.tprBase
	h.kInSV = h.kOut * h.svBase
	h.kInHR = h.kOut * h.hrBase

	h.abaseSV = h.svBase * (1 + h.ltdeSV)
	h.abaseHR = h.hrBase * (1 + h.ltdeHR)
	h.baseMAP = h.tprBase * h.abaseSV * h.abaseHR

	h.x = h.baselineState()
	h.xEffect = h.baselineState()
	return h, nil
}

func (h *Hemodynamic) baselineState() []float64 {
	return []float64{
		h.tprBase,
		h.svBase,
		h.hrBase,
		h.svBase * h.ltdeSV,
		h.hrBase * h.ltdeHR,
	}
}

// dynamics is the continuous right-hand side f(x, u). The LTDE decay only
// runs once propofol is present; before induction those states are frozen
// at their baseline fractions.
func (h *Hemodynamic) dynamics(x []float64, cpPropo, cpRemi, mapWanted, svWanted float64) []float64 {
	effPropoTPR := (h.emaxPropoTPR + h.intTPR*fsig(cpRemi, h.c50RemiTPR, 1)) *
		fsig(cpPropo, h.c50PropoTPR, h.gammaPropoTPR)
	effRemiSV := (h.slRemiSV + h.intSV*fsig(cpPropo, h.c50PropoSV, 1)) * cpRemi
	effRemiHR := (h.slRemiHR + h.intHR*fsig(cpPropo, h.c50IntHR, 1)) * cpRemi
	effPropoSV := h.emaxPropoSV * fsig(cpPropo, h.c50PropoSV, 1)
	effRemiTPR := h.emaxRemiTPR * fsig(cpRemi, h.c50RemiTPR, 1)

	dsv := x[1] + x[3]
	dhr := x[2] + x[4]
	aSV := dsv * (1 - h.hrSV*math.Log(dhr/h.abaseHR))
	aMAP := aSV * dhr * x[0]
	rmapFB := math.Pow(aMAP/h.baseMAP, h.fb)

	dTPR := h.kInTPR*rmapFB*(1+effPropoTPR) - h.kOut*x[0]*(1-effRemiTPR)
	if mapWanted > 0 {
		dTPR += (mapWanted - aMAP) * h.kEffect
	}
	dSV := h.kInSV*rmapFB*(1+effPropoSV) - h.kOut*x[1]*(1-effRemiSV)
	if svWanted > 0 {
		dSV += (svWanted - aSV) * h.kEffect * 10000
	}
	dHR := h.kInHR*rmapFB - h.kOut*x[2]*(1-effRemiHR)

	var dLTDEsv, dLTDEhr float64
	if cpPropo > 0 {
		dLTDEsv = -h.kLTDE * x[3]
		dLTDEhr = -h.kLTDE * x[4]
	}
	return []float64{dTPR, dSV, dHR, dLTDEsv, dLTDEhr}
}

// outputsOf reads the observable values from a state vector.
func (h *Hemodynamic) outputsOf(x []float64) HemoOutputs {
	hr := x[2] + x[4]
	sv := (x[1] + x[3]) * (1 - h.hrSV*math.Log(hr/h.abaseHR))
	return HemoOutputs{
		TPR: x[0],
		SV:  sv,
		HR:  hr,
		MAP: x[0] * sv * hr,
		CO:  hr * sv / 1000,
	}
}

// NoreMAPEffect returns the MAP rise produced by a norepinephrine plasma
// concentration (ng/ml).
func (h *Hemodynamic) NoreMAPEffect(cpNore float64) float64 {
	return h.emaxNore * fsig(math.Max(0, cpNore), h.c50Nore, h.gammaNore)
}

// integrate advances one state over a sampling period with RK4. Substeps
// keep the internal step at or below one second; the SV setpoint feedback
// has a time constant near one second and is unstable at larger steps. Drug
// concentrations ramp linearly from the previous call's values; setpoints
// are held constant.
func (h *Hemodynamic) integrate(x []float64, cpPropo, cpRemi, mapWanted, svWanted float64) []float64 {
	n := int(math.Ceil(h.ts))
	f := func(t float64, s []float64) []float64 {
		frac := t / h.ts
		cp := h.prevCpPropo + frac*(cpPropo-h.prevCpPropo)
		cr := h.prevCpRemi + frac*(cpRemi-h.prevCpRemi)
		return h.dynamics(s, cp, cr, mapWanted, svWanted)
	}
	return numeric.RK4(f, x, 0, h.ts, n)
}

// OneStep advances both trajectories one sampling period under plasma
// concentrations and returns the outputs of the effect trajectory.
func (h *Hemodynamic) OneStep(cpPropo, cpRemi, cpNore, vRatio float64) HemoOutputs {
	h.x = h.integrate(h.x, cpPropo, cpRemi, 0, 0)

	switch {
	case (h.mode == FeedbackNorepinephrine || cpNore > 0) && h.mode != FeedbackBloodLoss:
		h.mode = FeedbackNorepinephrine
		if vRatio != 1 && !h.warnedMixed {
			h.warnedMixed = true
			logrus.Warn("blood loss ignored: the hemodynamic model is latched onto norepinephrine coupling")
		}
		mapWanted := h.outputsOf(h.x).MAP + h.NoreMAPEffect(cpNore)
		h.xEffect = h.integrate(h.xEffect, cpPropo, cpRemi, mapWanted, 0)

	case (vRatio < 1 || h.mode == FeedbackBloodLoss) && h.mode != FeedbackNorepinephrine:
		h.mode = FeedbackBloodLoss
		if cpNore > 0 && !h.warnedMixed {
			h.warnedMixed = true
			logrus.Warn("norepinephrine ignored: the hemodynamic model is latched onto blood-loss coupling")
		}
		svWanted := h.outputsOf(h.x).SV * vRatio
		h.xEffect = h.integrate(h.xEffect, cpPropo, cpRemi, 0, svWanted)

	default:
		copy(h.xEffect, h.x)
	}

	h.prevCpPropo = cpPropo
	h.prevCpRemi = cpRemi
	return h.outputsOf(h.xEffect)
}

// Mode returns the currently latched feedback mode.
func (h *Hemodynamic) Mode() FeedbackMode { return h.mode }

// OutputsAt returns the observables of an arbitrary state vector, typically
// one returned by StateAtEquilibrium.
func (h *Hemodynamic) OutputsAt(x []float64) HemoOutputs { return h.outputsOf(x) }

// NoreMAPParams returns the norepinephrine MAP sigmoid (emax, c50, gamma).
func (h *Hemodynamic) NoreMAPParams() (emax, c50, gamma float64) {
	return h.emaxNore, h.c50Nore, h.gammaNore
}

// Clone returns an independent copy sharing no state with the receiver.
func (h *Hemodynamic) Clone() *Hemodynamic {
	c := *h
	c.x = append([]float64(nil), h.x...)
	c.xEffect = append([]float64(nil), h.xEffect...)
	return &c
}

// Outputs returns the observables of the current effect state without
// advancing the model.
func (h *Hemodynamic) Outputs() HemoOutputs { return h.outputsOf(h.xEffect) }

// Baseline returns the drug-free apparent baselines (MAP, CO, HR).
func (h *Hemodynamic) Baseline() (mapBase, coBase, hrBase float64) {
	return h.baseMAP, h.abaseHR * h.abaseSV / 1000, h.abaseHR
}

// StateAtEquilibrium solves f(x, u) = 0 at fixed plasma concentrations.
// The norepinephrine coupling is one pass, matching the step-path latch:
// solve without norepinephrine, lift the MAP setpoint by the sigmoid effect
// at that equilibrium, and re-solve. Returns the with-norepinephrine and the
// no-norepinephrine equilibrium states.
func (h *Hemodynamic) StateAtEquilibrium(cpPropo, cpRemi, cpNore float64) (xEq, xNoNore []float64, err error) {
	// With zero propofol the LTDE rows of f vanish identically and the
	// Jacobian is singular; pin those states to their current values.
	var pin []bool
	if cpPropo <= 0 {
		pin = []bool{false, false, false, true, true}
	}

	const (
		maxIter = 200
		tol     = 1e-10
	)
	solve := func(mapWanted float64) ([]float64, error) {
		f := func(x, out []float64) {
			copy(out, h.dynamics(x, cpPropo, cpRemi, mapWanted, 0))
		}
		x, resid, serr := numeric.SolveNewton(f, h.x, pin, maxIter, tol)
		if serr != nil {
			return nil, simerr.NewEquilibriumNotFound("hemodynamic.StateAtEquilibrium", resid)
		}
		return x, nil
	}

	xNoNore, err = solve(0)
	if err != nil {
		return nil, nil, err
	}
	if cpNore <= 0 {
		return xNoNore, xNoNore, nil
	}

	mapEq := h.outputsOf(xNoNore).MAP + h.NoreMAPEffect(cpNore)
	xEq, err = solve(mapEq)
	if err != nil {
		return nil, nil, err
	}
	return xEq, xNoNore, nil
}

// InitializeAtConcentration seeds both trajectories at the equilibrium for
// the given plasma concentrations: the drug-only trajectory from the
// no-norepinephrine equilibrium and the effect trajectory from the coupled
// one. The input memory is set so the next step does not ramp.
func (h *Hemodynamic) InitializeAtConcentration(cpPropo, cpRemi, cpNore float64) (HemoOutputs, error) {
	xEq, xNoNore, err := h.StateAtEquilibrium(cpPropo, cpRemi, cpNore)
	if err != nil {
		return HemoOutputs{}, err
	}
	h.x = xNoNore
	h.xEffect = xEq
	if cpNore > 0 {
		h.mode = FeedbackNorepinephrine
	}
	h.prevCpPropo = cpPropo
	h.prevCpRemi = cpRemi
	return h.outputsOf(h.xEffect), nil
}
