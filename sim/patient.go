// sim/patient.go
package sim

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/anesthesia-sim/anesthesia-sim/sim/drugrand"
	"github.com/anesthesia-sim/anesthesia-sim/sim/pd"
	"github.com/anesthesia-sim/anesthesia-sim/sim/pk"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
	"github.com/anesthesia-sim/anesthesia-sim/sim/trace"
)

// Hemodynamic model selector.
const (
	HemoMechanistic = "mechanistic"
	HemoSimple      = "simple"
)

// Config assembles a simulated patient. Zero values select the defaults
// noted on each field.
type Config struct {
	Demographics pk.Demographics

	COBase  float64 // L/min; default 6.5
	HRBase  float64 // 1/min; default 60
	MAPBase float64 // mmHg; default 90

	ModelPropofol       string // default Schnider
	ModelRemifentanil   string // default Minto
	ModelNorepinephrine string // default Beloeil
	ModelBIS            string // default Bouillon
	HemoModel           string // mechanistic (default) or simple

	Ts float64 // sampling time (s); default 1

	// CustomBIS overrides the BIS variant parameters.
	CustomBIS *pd.BISParams

	RandomPK bool
	RandomPD bool
	Seed     int64

	// COUpdate rescales the PK clearances with the simulated cardiac
	// output each step.
	COUpdate bool

	// DisableTrace turns off trajectory recording.
	DisableTrace bool
}

// StepOptions carries the per-step exogenous inputs of OneStep.
type StepOptions struct {
	// BloodRate is the fluid rate on the blood volume (ml/min); negative
	// is bleeding, positive a transfusion.
	BloodRate float64

	// Disturbance is added to [BIS, MAP, CO] after the models run.
	Disturbance [3]float64

	// Noise adds measurement noise to the outputs.
	Noise bool
}

// Patient simulates one anesthesia subject: three PK drug models feeding the
// BIS, TOL and hemodynamic PD models, with blood-loss and cardiac-output
// couplings and optional trajectory recording.
type Patient struct {
	demographics pk.Demographics
	ts           float64

	coBase, hrBase, mapBase, svBase float64
	coUpdate                        bool

	propoPK, remiPK, norePK *pk.System

	bisPD *pd.BIS
	tolPD *pd.TOL

	hemoModel  string
	hemo       *pd.Hemodynamic // mechanistic, nil when simple is selected
	hemoSimple *pd.SimpleHemo

	bloodVolume, bloodVolumeInit float64

	noise *noiseGenerator

	record bool
	traj   *trace.Trajectory
	time   float64

	bis, tol, tpr, sv, hr, mapv, co float64
}

// NewPatient builds a patient from the configuration.
func NewPatient(cfg Config) (*Patient, error) {
	if err := cfg.Demographics.Validate(); err != nil {
		return nil, err
	}

	p := &Patient{
		demographics: cfg.Demographics,
		ts:           cfg.Ts,
		coBase:       cfg.COBase,
		hrBase:       cfg.HRBase,
		mapBase:      cfg.MAPBase,
		coUpdate:     cfg.COUpdate,
		hemoModel:    cfg.HemoModel,
		record:       !cfg.DisableTrace,
	}
	if p.ts == 0 {
		p.ts = 1
	}
	if p.coBase == 0 {
		p.coBase = 6.5
	}
	if p.hrBase == 0 {
		p.hrBase = 60
	}
	if p.mapBase == 0 {
		p.mapBase = 90
	}
	p.svBase = p.coBase / p.hrBase * 1000
	if p.hemoModel == "" {
		p.hemoModel = HemoMechanistic
	}

	modelPropo := cfg.ModelPropofol
	if modelPropo == "" {
		modelPropo = "Schnider"
	}
	modelRemi := cfg.ModelRemifentanil
	if modelRemi == "" {
		modelRemi = "Minto"
	}
	modelNore := cfg.ModelNorepinephrine
	if modelNore == "" {
		modelNore = "Beloeil"
	}

	streams := drugrand.NewStreams(cfg.Seed)
	pkSampler := func(name string) drugrand.Sampler {
		if cfg.RandomPK {
			return streams.For(name)
		}
		return nil
	}
	pdSampler := func(name string) drugrand.Sampler {
		if cfg.RandomPD {
			return streams.For(name)
		}
		return nil
	}

	var err error
	p.propoPK, err = pk.NewSystem(pk.Config{
		Drug: pk.Propofol, Model: modelPropo, Demographics: cfg.Demographics,
		Ts: p.ts, Sampler: pkSampler(drugrand.SubsystemPKPropofol),
	})
	if err != nil {
		return nil, err
	}
	p.remiPK, err = pk.NewSystem(pk.Config{
		Drug: pk.Remifentanil, Model: modelRemi, Demographics: cfg.Demographics,
		Ts: p.ts, Sampler: pkSampler(drugrand.SubsystemPKRemifentanil),
	})
	if err != nil {
		return nil, err
	}
	p.norePK, err = pk.NewSystem(pk.Config{
		Drug: pk.Norepinephrine, Model: modelNore, Demographics: cfg.Demographics,
		Ts: p.ts, Sampler: pkSampler(drugrand.SubsystemPKNorepinephrine),
	})
	if err != nil {
		return nil, err
	}

	p.bisPD, err = pd.NewBIS(pd.BISConfig{
		Variant: cfg.ModelBIS, Age: cfg.Demographics.Age,
		Custom: cfg.CustomBIS, Sampler: pdSampler(drugrand.SubsystemBIS),
	})
	if err != nil {
		return nil, err
	}
	p.tolPD, err = pd.NewTOL(pd.TOLConfig{Sampler: pdSampler(drugrand.SubsystemTOL)})
	if err != nil {
		return nil, err
	}

	switch p.hemoModel {
	case HemoMechanistic:
		p.hemo, err = pd.NewHemodynamic(pd.HemoConfig{
			Age: cfg.Demographics.Age, Ts: p.ts, NoreModel: modelNore,
			HRBase: p.hrBase, SVBase: p.svBase, MAPBase: p.mapBase,
			Sampler: pdSampler(drugrand.SubsystemHemodynamic),
		})
		if err != nil {
			return nil, err
		}
	case HemoSimple:
		p.hemoSimple = pd.NewSimpleHemo(pd.SimpleHemoConfig{
			COBase: p.coBase, MAPBase: p.mapBase,
			Sampler: pdSampler(drugrand.SubsystemHemodynamic),
		})
	default:
		return nil, simerr.NewConfiguration("hemo_model", "unknown model %q", p.hemoModel)
	}

	p.bloodVolume = p.propoPK.V1()
	p.bloodVolumeInit = p.bloodVolume

	p.noise = newNoiseGenerator(p.ts, streams.Source(drugrand.SubsystemNoise))

	p.bis = p.bisPD.Compute(0, 0)
	p.tol = p.tolPD.Compute(0, 0)
	p.setHemoOutputs(p.baselineHemo())

	if p.record {
		p.traj = trace.NewTrajectory()
		p.recordRow(0, 0, 0)
	}
	return p, nil
}

func (p *Patient) baselineHemo() pd.HemoOutputs {
	if p.hemo != nil {
		return p.hemo.Outputs()
	}
	mapBase, coBase := p.hemoSimple.Baseline()
	return p.simpleOutputs(mapBase, coBase)
}

// simpleOutputs fills the pulse quantities the static model does not carry.
func (p *Patient) simpleOutputs(mapOut, co float64) pd.HemoOutputs {
	sv := co / p.hrBase * 1000
	return pd.HemoOutputs{
		TPR: mapOut / (sv * p.hrBase),
		SV:  sv,
		HR:  p.hrBase,
		MAP: mapOut,
		CO:  co,
	}
}

func (p *Patient) setHemoOutputs(y pd.HemoOutputs) {
	p.tpr, p.sv, p.hr, p.mapv, p.co = y.TPR, y.SV, y.HR, y.MAP, y.CO
}

func (p *Patient) stepHemo(cNore float64, vRatio float64) pd.HemoOutputs {
	if p.hemo != nil {
		return p.hemo.OneStep(p.propoPK.PlasmaConcentration(), p.remiPK.PlasmaConcentration(), cNore, vRatio)
	}
	xp := p.propoPK.State()
	xr := p.remiPK.State()
	mapOut, co := p.hemoSimple.Compute(xp[4], xp[5], xr[4], cNore)
	return p.simpleOutputs(mapOut, co)
}

// OneStep advances the whole patient one sampling period under the given
// infusion rates (propofol mg/s, remifentanil µg/s, norepinephrine µg/s) and
// returns (bis, co, map, tol).
func (p *Patient) OneStep(uPropo, uRemi, uNore float64, opts StepOptions) (bis, co, mapOut, tol float64, err error) {
	cesPropo, err := p.propoPK.Advance(uPropo)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	cesRemi, err := p.remiPK.Advance(uRemi)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if _, err = p.norePK.Advance(uNore); err != nil {
		return 0, 0, 0, 0, err
	}
	cNore := p.norePK.PlasmaConcentration()

	p.bis = p.bisPD.Compute(cesPropo, cesRemi)
	p.tol = p.tolPD.Compute(cesPropo, cesRemi)

	p.setHemoOutputs(p.stepHemo(cNore, p.bloodVolume/p.bloodVolumeInit))

	p.bis += opts.Disturbance[0]
	p.mapv += opts.Disturbance[1]
	p.co += opts.Disturbance[2]

	if opts.BloodRate != 0 || p.bloodVolume != p.bloodVolumeInit {
		if err := p.bloodLoss(opts.BloodRate); err != nil {
			return 0, 0, 0, 0, err
		}
		ratio := p.bloodVolume / p.bloodVolumeInit
		p.mapv *= ratio
		p.co *= ratio
	}

	if p.coUpdate {
		if err := p.rescaleForCO(p.co / p.coBase); err != nil {
			return 0, 0, 0, 0, err
		}
	}

	if opts.Noise {
		bisN, mapN, coN := p.noise.Step()
		p.bis = math.Min(100, math.Max(0, p.bis+bisN))
		p.mapv += mapN
		p.co += coN
	}

	p.time += p.ts
	if p.record {
		p.recordRow(uPropo, uRemi, uNore)
	}
	return p.bis, p.co, p.mapv, p.tol, nil
}

// bloodLoss integrates the fluid rate into the blood volume and propagates
// the volume ratio into the PK models and the BIS potency.
func (p *Patient) bloodLoss(rate float64) error {
	p.bloodVolume += rate / 1000 / 60 * p.ts
	ratio := p.bloodVolume / p.bloodVolumeInit
	for _, sys := range []*pk.System{p.propoPK, p.remiPK, p.norePK} {
		if err := sys.RescaleForBloodVolume(ratio); err != nil {
			return err
		}
	}
	p.bisPD.UpdateForBloodLoss(ratio)
	return nil
}

func (p *Patient) rescaleForCO(ratio float64) error {
	for _, sys := range []*pk.System{p.propoPK, p.remiPK, p.norePK} {
		if err := sys.RescaleForCardiacOutput(ratio); err != nil {
			return err
		}
	}
	return nil
}

func (p *Patient) recordRow(uPropo, uRemi, uNore float64) {
	p.traj.Append(trace.Row{
		Time: p.time,
		BIS:  p.bis, TOL: p.tol,
		TPR: p.tpr, SV: p.sv, HR: p.hr, MAP: p.mapv, CO: p.co,
		UPropo: uPropo, URemi: uRemi, UNore: uNore,
		BloodVolume: p.bloodVolume,
		XPropo:      p.propoPK.State(),
		XRemi:       p.remiPK.State(),
		XNore:       p.norePK.State(),
	})
}

// BatchInit optionally seeds the FullSim initial PK states; nil slices mean
// zero states.
type BatchInit struct {
	XPropo, XRemi, XNore []float64
}

// FullSim simulates the whole infusion profiles in one call without touching
// the committed patient state. At least one input series must be given;
// missing series are zero-filled. Disturbances, blood loss, cardiac-output
// coupling and noise do not apply on this path.
func (p *Patient) FullSim(uPropo, uRemi, uNore []float64, init *BatchInit) (*trace.Trajectory, error) {
	if uPropo == nil && uRemi == nil && uNore == nil {
		return nil, simerr.NewInvalidInput("FullSim", "no input series given")
	}
	n := len(uPropo)
	if n == 0 {
		n = len(uRemi)
	}
	if n == 0 {
		n = len(uNore)
	}
	if uPropo == nil {
		uPropo = make([]float64, n)
	}
	if uRemi == nil {
		uRemi = make([]float64, n)
	}
	if uNore == nil {
		uNore = make([]float64, n)
	}
	if len(uPropo) != n || len(uRemi) != n || len(uNore) != n {
		return nil, simerr.NewInvalidInput("FullSim", "input series lengths differ: %d, %d, %d",
			len(uPropo), len(uRemi), len(uNore))
	}

	var x0Propo, x0Remi, x0Nore []float64
	if init != nil {
		x0Propo, x0Remi, x0Nore = init.XPropo, init.XRemi, init.XNore
	}
	xPropo, err := p.propoPK.FullSim(uPropo, x0Propo)
	if err != nil {
		return nil, err
	}
	xRemi, err := p.remiPK.FullSim(uRemi, x0Remi)
	if err != nil {
		return nil, err
	}
	xNore, err := p.norePK.FullSim(uNore, x0Nore)
	if err != nil {
		return nil, err
	}

	var hemo *pd.Hemodynamic
	if p.hemo != nil {
		hemo = p.hemo.Clone()
	}

	traj := trace.NewTrajectory()
	for i := 0; i <= n; i++ {
		xp, xr, xn := xPropo[i], xRemi[i], xNore[i]
		bis := p.bisPD.Compute(xp[3], xr[3])
		tol := p.tolPD.Compute(xp[3], xr[3])

		var y pd.HemoOutputs
		switch {
		case i == 0 && hemo != nil:
			y = hemo.Outputs()
		case hemo != nil:
			y = hemo.OneStep(xp[0], xr[0], xn[0], 1)
		default:
			mapOut, co := p.hemoSimple.Compute(xp[4], xp[5], xr[4], xn[0])
			y = p.simpleOutputs(mapOut, co)
		}

		var up, ur, un float64
		if i > 0 {
			up, ur, un = uPropo[i-1], uRemi[i-1], uNore[i-1]
		}
		traj.Append(trace.Row{
			Time: float64(i) * p.ts,
			BIS:  bis, TOL: tol,
			TPR: y.TPR, SV: y.SV, HR: y.HR, MAP: y.MAP, CO: y.CO,
			UPropo: up, URemi: ur, UNore: un,
			BloodVolume: p.bloodVolumeInit,
			XPropo:      xp, XRemi: xr, XNore: xn,
		})
	}
	return traj, nil
}

// InitializeAtGivenInput sets the whole patient to the steady state of the
// given constant infusion rates: every PK state goes to its equilibrium
// concentration and the hemodynamic model is solved at those plasma levels.
// The trajectory restarts from the equilibrium row.
func (p *Patient) InitializeAtGivenInput(uPropo, uRemi, uNore float64) error {
	if uPropo < 0 || uRemi < 0 || uNore < 0 {
		return simerr.NewInvalidInput("InitializeAtGivenInput", "negative infusion rate")
	}
	cPropo := uPropo * p.propoPK.DCGain()
	cRemi := uRemi * p.remiPK.DCGain()
	if err := p.propoPK.SetState(p.propoPK.EquilibriumState(uPropo)); err != nil {
		return err
	}
	if err := p.remiPK.SetState(p.remiPK.EquilibriumState(uRemi)); err != nil {
		return err
	}
	if err := p.norePK.SetState(p.norePK.EquilibriumState(uNore)); err != nil {
		return err
	}
	cNore := p.norePK.PlasmaConcentration()
	return p.initializeOutputs(cPropo, cRemi, cNore)
}

// InitializeAtGivenConcentration seeds the PK states directly from plasma
// concentrations instead of infusion rates.
func (p *Patient) InitializeAtGivenConcentration(cPropo, cRemi, cNore float64) error {
	if cPropo < 0 || cRemi < 0 || cNore < 0 {
		return simerr.NewInvalidInput("InitializeAtGivenConcentration", "negative concentration")
	}
	if err := p.propoPK.SetState(constant(p.propoPK.Size(), cPropo)); err != nil {
		return err
	}
	if err := p.remiPK.SetState(constant(p.remiPK.Size(), cRemi)); err != nil {
		return err
	}
	if err := p.norePK.SetState(constant(p.norePK.Size(), cNore)); err != nil {
		return err
	}
	return p.initializeOutputs(cPropo, cRemi, cNore)
}

func (p *Patient) initializeOutputs(cPropo, cRemi, cNore float64) error {
	if p.hemo != nil {
		y, err := p.hemo.InitializeAtConcentration(cPropo, cRemi, cNore)
		if err != nil {
			return err
		}
		p.setHemoOutputs(y)
	} else {
		xp := p.propoPK.State()
		xr := p.remiPK.State()
		mapOut, co := p.hemoSimple.Compute(xp[4], xp[5], xr[4], cNore)
		p.setHemoOutputs(p.simpleOutputs(mapOut, co))
	}
	p.bis = p.bisPD.Compute(p.propoPK.EffectSiteConcentration(), p.remiPK.EffectSiteConcentration())
	p.tol = p.tolPD.Compute(p.propoPK.EffectSiteConcentration(), p.remiPK.EffectSiteConcentration())

	p.time = 0
	if p.record {
		p.traj.Reset()
		p.recordRow(0, 0, 0)
	}
	return nil
}

// InitializeAtMaintenance solves the equilibrium for the output targets and
// starts the patient there. Returns the equilibrium infusion rates.
func (p *Patient) InitializeAtMaintenance(bisTarget, tolTarget, mapTarget float64) (uPropo, uRemi, uNore float64, err error) {
	uPropo, uRemi, uNore, err = p.FindEquilibrium(bisTarget, tolTarget, mapTarget)
	if err != nil {
		return 0, 0, 0, err
	}
	if err = p.InitializeAtGivenInput(uPropo, uRemi, uNore); err != nil {
		return 0, 0, 0, err
	}
	logrus.Debugf("maintenance start: u_propo=%.4g mg/s u_remi=%.4g µg/s u_nore=%.4g µg/s",
		uPropo, uRemi, uNore)
	return uPropo, uRemi, uNore, nil
}

func constant(n int, v float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = v
	}
	return x
}

// Accessors.

// Outputs returns the current (bis, co, map, tol).
func (p *Patient) Outputs() (bis, co, mapOut, tol float64) {
	return p.bis, p.co, p.mapv, p.tol
}

// Trajectory returns the recorded trajectory, nil when recording is off.
func (p *Patient) Trajectory() *trace.Trajectory { return p.traj }

// BloodVolume returns the current blood volume (L).
func (p *Patient) BloodVolume() float64 { return p.bloodVolume }

// Demographics returns the subject characteristics.
func (p *Patient) Demographics() pk.Demographics { return p.demographics }

// Ts returns the sampling period (s).
func (p *Patient) Ts() float64 { return p.ts }

// Time returns the simulated time (s).
func (p *Patient) Time() float64 { return p.time }

// PropofolPK returns the propofol compartment model.
func (p *Patient) PropofolPK() *pk.System { return p.propoPK }

// RemifentanilPK returns the remifentanil compartment model.
func (p *Patient) RemifentanilPK() *pk.System { return p.remiPK }

// NorepinephrinePK returns the norepinephrine compartment model.
func (p *Patient) NorepinephrinePK() *pk.System { return p.norePK }

// BISModel returns the BIS surface model.
func (p *Patient) BISModel() *pd.BIS { return p.bisPD }
