// Package tci implements the target-controlled infusion algorithm of the
// Shafer and Gregg 1992 pump controller for plasma or effect-site
// concentration targeting.
package tci

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/anesthesia-sim/anesthesia-sim/sim/pk"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// Target sites.
const (
	TargetPlasma     = "plasma"
	TargetEffectSite = "effect_site"
)

// Config assembles a Controller.
type Config struct {
	Demographics pk.Demographics
	Drug         pk.Drug
	Model        string

	SamplingTime float64 // s; default 1
	ControlTime  float64 // s; default 10, multiple of SamplingTime

	// DrugConcentration is the syringe concentration (mg/ml for propofol,
	// µg/ml for remifentanil); default 10.
	DrugConcentration float64

	MaximumRate float64 // pump limit (ml/hr); default 500

	TargetSite string // plasma or effect_site; default effect_site
}

// Controller drives a virtual infusion pump toward a concentration target.
// The internal model is the 4-state head of the drug's compartment system
// (three compartments plus the first effect site), which is exact because
// the remaining effect sites do not feed back.
type Controller struct {
	ts, controlTime float64
	conc            float64
	infusionMax     float64 // mg/s or µg/s
	targetIdx       int

	ad, adCtrl *mat.Dense
	bd, bdCtrl []float64

	// ceBolus is the target-compartment response to a one-unit infusion
	// held for one control period, sampled until its peak.
	ceBolus []float64
	tPeak   float64

	x            []float64
	infusionRate float64
	target       float64
	tPeak0       float64
	time         float64
}

// NewController builds the controller and precomputes the unit-bolus
// response.
func NewController(cfg Config) (*Controller, error) {
	if cfg.SamplingTime == 0 {
		cfg.SamplingTime = 1
	}
	if cfg.ControlTime == 0 {
		cfg.ControlTime = 10
	}
	if cfg.DrugConcentration == 0 {
		cfg.DrugConcentration = 10
	}
	if cfg.MaximumRate == 0 {
		cfg.MaximumRate = 500
	}

	c := &Controller{
		ts:          cfg.SamplingTime,
		controlTime: cfg.ControlTime,
		conc:        cfg.DrugConcentration,
		infusionMax: cfg.MaximumRate * cfg.DrugConcentration / 3600,
		x:           make([]float64, 4),
	}
	switch cfg.TargetSite {
	case TargetPlasma:
		c.targetIdx = 0
	case TargetEffectSite, "":
		c.targetIdx = 3
	default:
		return nil, simerr.NewConfiguration("target_site", "must be %q or %q, got %q",
			TargetPlasma, TargetEffectSite, cfg.TargetSite)
	}

	sys, err := pk.NewSystem(pk.Config{
		Drug: cfg.Drug, Model: cfg.Model, Demographics: cfg.Demographics,
		Ts: cfg.SamplingTime, ControlTs: cfg.ControlTime,
	})
	if err != nil {
		return nil, err
	}
	if sys.Size() < 4 {
		return nil, simerr.NewConfiguration("drug", "%s has no effect-site compartment", cfg.Drug)
	}
	ad, bd := sys.Discretization()
	adCtrl, bdCtrl := sys.ControlDiscretization()
	c.ad = truncate(ad)
	c.adCtrl = truncate(adCtrl)
	c.bd = []float64{bd.At(0, 0), bd.At(1, 0), bd.At(2, 0), bd.At(3, 0)}
	c.bdCtrl = []float64{bdCtrl.At(0, 0), bdCtrl.At(1, 0), bdCtrl.At(2, 0), bdCtrl.At(3, 0)}

	c.precomputeBolus()
	return c, nil
}

func truncate(m *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(m.Slice(0, 4, 0, 4))
}

// precomputeBolus simulates a one-unit infusion held for one control period
// plus a second and records the target-compartment curve until it peaks.
func (c *Controller) precomputeBolus() {
	x := make([]float64, 4)
	prev := 0.0
	t := c.ts
	for {
		u := 0.0
		if t < c.controlTime+1 {
			u = 1
		}
		x = c.step(x, u)
		t += c.ts
		c.ceBolus = append(c.ceBolus, x[c.targetIdx])
		if x[c.targetIdx] < prev {
			c.tPeak = t - c.ts
			break
		}
		prev = x[c.targetIdx]
	}
	c.tPeak0 = c.tPeak
}

func (c *Controller) step(x []float64, u float64) []float64 {
	out := make([]float64, 4)
	for i := 0; i < 4; i++ {
		s := c.bd[i] * u
		for j := 0; j < 4; j++ {
			s += c.ad.At(i, j) * x[j]
		}
		out[i] = s
	}
	return out
}

// OneStep must be called every sampling period; it updates the control move
// on control instants (or on a target change) and returns the pump rate in
// ml/hr.
func (c *Controller) OneStep(target float64) float64 {
	if math.Mod(c.time, c.controlTime) < 1e-9 || target != c.target {
		if target != c.target {
			c.tPeak0 = c.tPeak
			c.target = target
		}
		c.updateRate()
	}
	c.time += c.ts
	c.infusionRate = math.Max(0, math.Min(c.infusionRate, c.infusionMax))
	c.x = c.step(c.x, c.infusionRate)
	return c.infusionRate / c.conc * 3600
}

func (c *Controller) updateRate() {
	if c.target <= 0 {
		c.infusionRate = 0
		return
	}
	if c.targetIdx == 0 {
		c.infusionRate = math.Max(0, c.plasmaTrackingRate())
		return
	}

	// Project the decay from the current state with the pump off.
	n := int(c.tPeak / c.ts)
	ce0 := make([]float64, n)
	x := c.x
	for t := 0; t < n; t++ {
		x = c.step(x, 0)
		ce0[t] = x[c.targetIdx]
	}

	switch {
	case ce0[0] > 0.95*c.target && ce0[0] < 1.05*c.target:
		// Close to the target: track the plasma compartment over one
		// control period.
		c.infusionRate = math.Max(0, c.plasmaTrackingRate())
	case ce0[min(int(c.controlTime/c.ts), len(ce0)-1)] > c.target:
		// The effect site still overshoots with the pump off.
		c.infusionRate = 0
	default:
		c.infusionRate = c.bolusRate(ce0)
	}
}

// plasmaTrackingRate reaches the target plasma concentration at the next
// control instant.
func (c *Controller) plasmaTrackingRate() float64 {
	proj := 0.0
	for j := 0; j < 4; j++ {
		proj += c.adCtrl.At(0, j) * c.x[j]
	}
	return (c.target - proj) / c.bdCtrl[0]
}

// bolusRate scales the precomputed bolus curve to hit the target at the
// peak, iterating because the peak index shifts with the rate.
func (c *Controller) bolusRate(ce0 []float64) float64 {
	rate := func(tPeak float64) float64 {
		i := int(tPeak/c.ts) - 1
		if i < 0 {
			i = 0
		}
		if i >= len(ce0) {
			i = len(ce0) - 1
		}
		if i >= len(c.ceBolus) {
			i = len(c.ceBolus) - 1
		}
		return (c.target - ce0[i]) / c.ceBolus[i]
	}
	peakOf := func(r float64) float64 {
		best, arg := math.Inf(-1), 0
		for i := 0; i < len(ce0) && i < len(c.ceBolus); i++ {
			if v := ce0[i] + r*c.ceBolus[i]; v > best {
				best, arg = v, i
			}
		}
		return float64(arg) * c.ts
	}

	r := rate(c.tPeak0)
	tPeak1 := peakOf(r)
	for iter := 0; tPeak1 != c.tPeak0 && iter < 500; iter++ {
		c.tPeak0 = tPeak1
		r = rate(c.tPeak0)
		tPeak1 = peakOf(r)
	}
	return math.Max(0, math.Min(r, c.infusionMax))
}

// Rate returns the last control move (mg/s or µg/s).
func (c *Controller) Rate() float64 { return c.infusionRate }

// Target returns the current concentration target.
func (c *Controller) Target() float64 { return c.target }

// State returns the internal 4-state model prediction.
func (c *Controller) State() []float64 {
	out := make([]float64, 4)
	copy(out, c.x)
	return out
}
