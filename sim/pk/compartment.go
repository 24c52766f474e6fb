package pk

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/anesthesia-sim/anesthesia-sim/sim/drugrand"
	"github.com/anesthesia-sim/anesthesia-sim/sim/numeric"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// Config describes one compartment system.
type Config struct {
	Drug         Drug
	Model        string
	Demographics Demographics
	Ts           float64 // sampling time (s)

	// ControlTs, when positive, additionally discretizes the system at a
	// coarser control sampling time (used by the TCI controller).
	ControlTs float64

	// Sampler perturbs volumes and clearances at construction; nil keeps
	// the nominal values.
	Sampler drugrand.Sampler
}

// System is the discrete-time realization of one drug's compartment model.
// States are concentrations, ordered plasma, two peripheral compartments,
// then effect sites; the norepinephrine topology is a single plasma state.
// All matrices derive from the baseline parameter set so the cardiac-output
// and blood-volume rescalings are exactly invertible.
type System struct {
	drug      Drug
	model     string
	n         int
	effectIdx int
	ts        float64
	ctrlTs    float64

	base params // after randomization; never mutated afterwards

	a, b     *mat.Dense
	ad, bd   *mat.Dense
	adCtrl   *mat.Dense
	bdCtrl   *mat.Dense
	coRatio  float64
	volRatio float64

	x *mat.VecDense
}

// NewSystem builds the compartment model for a drug/model pair.
func NewSystem(cfg Config) (*System, error) {
	if err := cfg.Demographics.Validate(); err != nil {
		return nil, err
	}
	if cfg.Ts <= 0 || math.IsNaN(cfg.Ts) {
		return nil, simerr.NewConfiguration("ts", "sampling time must be positive, got %g", cfg.Ts)
	}

	p, cv, err := buildParams(cfg.Drug, cfg.Model, cfg.Demographics)
	if err != nil {
		return nil, err
	}
	if cfg.Sampler != nil {
		p.randomize(cv, cfg.Sampler)
	}

	n := 3 + len(p.ke0)
	if len(p.v) == 1 {
		n = 1
	}
	effectIdx := 3
	if n == 1 {
		effectIdx = 0
	}

	s := &System{
		drug:      cfg.Drug,
		model:     cfg.Model,
		n:         n,
		effectIdx: effectIdx,
		ts:        cfg.Ts,
		ctrlTs:    cfg.ControlTs,
		base:      p,
		coRatio:   1,
		volRatio:  1,
		x:         mat.NewVecDense(n, nil),
	}
	for i := 0; i < n; i++ {
		s.x.SetVec(i, p.x0)
	}
	s.rebuild()
	return s, nil
}

// rebuild assembles A and B from the baseline parameters and the current
// rescaling ratios, then recomputes every discretization.
func (s *System) rebuild() {
	p := s.base
	a := mat.NewDense(s.n, s.n, nil)
	b := mat.NewDense(s.n, 1, nil)

	if s.n == 1 {
		k10 := p.cl[0] / p.v[0] / 60 * s.coRatio
		a.Set(0, 0, -k10)
	} else {
		// Rate constants in 1/s; the clearance-derived PK block scales
		// with the cardiac-output ratio.
		k10 := p.cl[0] / p.v[0] / 60 * s.coRatio
		k12 := p.cl[1] / p.v[0] / 60 * s.coRatio
		k21 := p.cl[1] / p.v[1] / 60 * s.coRatio
		k13 := p.cl[2] / p.v[0] / 60 * s.coRatio
		k31 := p.cl[2] / p.v[2] / 60 * s.coRatio

		a.Set(0, 0, -(k10 + k12 + k13))
		a.Set(0, 1, k12)
		a.Set(0, 2, k13)
		a.Set(1, 0, k21)
		a.Set(1, 1, -k21)
		a.Set(2, 0, k31)
		a.Set(2, 2, -k31)
		for i, ke0 := range p.ke0 {
			row := 3 + i
			ke := ke0 / 60
			a.Set(row, 0, ke)
			a.Set(row, row, -ke)
		}
	}
	// The central-compartment volume shrinks with blood loss.
	b.Set(0, 0, 1/(p.v[0]*s.volRatio))

	s.a, s.b = a, b
	s.ad, s.bd = numeric.Discretize(a, b, s.ts)
	if s.ctrlTs > 0 {
		s.adCtrl, s.bdCtrl = numeric.Discretize(a, b, s.ctrlTs)
	}
}

// Advance moves the state one sampling interval under the infusion rate u
// and returns the effect-site concentration. Endogenous production, when
// the model has one, is added to u.
func (s *System) Advance(u float64) (float64, error) {
	if u < 0 || math.IsNaN(u) {
		return 0, simerr.NewInvalidInput("pk.Advance", "infusion rate must be non-negative, got %g", u)
	}
	s.step(s.x, u+s.base.uEndo)
	return s.x.AtVec(s.effectIdx), nil
}

func (s *System) step(x *mat.VecDense, u float64) {
	var next mat.VecDense
	next.MulVec(s.ad, x)
	next.AddScaledVec(&next, u, s.bd.ColView(0))
	x.CopyVec(&next)
}

// FullSim simulates the whole input series from x0 (zero state when nil)
// without touching the committed state. The result has len(u)+1 rows: row 0
// is x0 and row i is the state after applying u[i-1].
func (s *System) FullSim(u []float64, x0 []float64) ([][]float64, error) {
	if len(u) == 0 {
		return nil, simerr.NewInvalidInput("pk.FullSim", "empty input series")
	}
	x := mat.NewVecDense(s.n, nil)
	if x0 != nil {
		if len(x0) != s.n {
			return nil, simerr.NewInvalidInput("pk.FullSim", "initial state has %d components, want %d", len(x0), s.n)
		}
		for i, v := range x0 {
			x.SetVec(i, v)
		}
	}

	out := make([][]float64, len(u)+1)
	out[0] = vecSlice(x)
	for i, ui := range u {
		if ui < 0 || math.IsNaN(ui) {
			return nil, simerr.NewInvalidInput("pk.FullSim", "infusion rate must be non-negative, got %g at sample %d", ui, i)
		}
		s.step(x, ui+s.base.uEndo)
		out[i+1] = vecSlice(x)
	}
	return out, nil
}

// RescaleForCardiacOutput scales the clearance-derived entries of A by the
// current-to-baseline cardiac output ratio. Always applied from the
// baseline matrices, so Rescale(r) followed by Rescale(1) restores the
// original system to machine precision.
func (s *System) RescaleForCardiacOutput(ratio float64) error {
	if ratio <= 0 || math.IsNaN(ratio) {
		return simerr.NewInvalidInput("pk.RescaleForCardiacOutput", "ratio must be positive, got %g", ratio)
	}
	s.coRatio = ratio
	s.rebuild()
	return nil
}

// RescaleForBloodVolume shrinks or expands the central-compartment volume
// term to model hemorrhage and transfusion. Steady-state concentrations
// scale as 1/ratio.
func (s *System) RescaleForBloodVolume(ratio float64) error {
	if ratio <= 0 || math.IsNaN(ratio) {
		return simerr.NewInvalidInput("pk.RescaleForBloodVolume", "ratio must be positive, got %g", ratio)
	}
	s.volRatio = ratio
	s.rebuild()
	return nil
}

// DCGain returns the steady-state concentration per unit input under the
// current rescaling, computed as -C A^-1 B with C selecting the plasma
// state. Every state shares the same gain: at steady state all
// concentrations equal the plasma concentration.
func (s *System) DCGain() float64 {
	var y mat.VecDense
	if err := y.SolveVec(s.a, s.b.ColView(0)); err != nil {
		return math.NaN()
	}
	return -y.AtVec(0)
}

// EquilibriumInput returns the constant infusion rate that holds the
// concentration c at steady state, net of endogenous production and
// clamped at zero.
func (s *System) EquilibriumInput(c float64) float64 {
	u := c/s.DCGain() - s.base.uEndo
	return math.Max(0, u)
}

// EquilibriumState returns the steady-state vector for a constant input u:
// every compartment at (u+uEndo)*DCGain.
func (s *System) EquilibriumState(u float64) []float64 {
	c := (u + s.base.uEndo) * s.DCGain()
	out := make([]float64, s.n)
	for i := range out {
		out[i] = c
	}
	return out
}

// State returns a copy of the state vector.
func (s *System) State() []float64 { return vecSlice(s.x) }

// SetState overwrites the state vector.
func (s *System) SetState(x []float64) error {
	if len(x) != s.n {
		return simerr.NewInvalidInput("pk.SetState", "state has %d components, want %d", len(x), s.n)
	}
	for i, v := range x {
		s.x.SetVec(i, v)
	}
	return nil
}

// PlasmaConcentration returns the plasma-compartment concentration.
func (s *System) PlasmaConcentration() float64 { return s.x.AtVec(0) }

// EffectSiteConcentration returns the primary effect-site concentration.
func (s *System) EffectSiteConcentration() float64 { return s.x.AtVec(s.effectIdx) }

// Size returns the state dimension.
func (s *System) Size() int { return s.n }

// V1 returns the baseline central-compartment volume (L).
func (s *System) V1() float64 { return s.base.v[0] }

// Ts returns the model sampling time (s).
func (s *System) Ts() float64 { return s.ts }

// Discretization returns copies of the discretized pair (Ad, Bd) at the
// model sampling time.
func (s *System) Discretization() (*mat.Dense, *mat.Dense) {
	return mat.DenseCopyOf(s.ad), mat.DenseCopyOf(s.bd)
}

// ControlDiscretization returns copies of the discretized pair at the
// control sampling time; nil when no control time was configured.
func (s *System) ControlDiscretization() (*mat.Dense, *mat.Dense) {
	if s.adCtrl == nil {
		return nil, nil
	}
	return mat.DenseCopyOf(s.adCtrl), mat.DenseCopyOf(s.bdCtrl)
}

func vecSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
