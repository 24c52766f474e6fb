package pk

import (
	"math"

	"github.com/anesthesia-sim/anesthesia-sim/sim/drugrand"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// params is one drug parameterization in the units the literature reports:
// volumes in liters, clearances in L/min, effect-site rate constants in
// 1/min. The engine converts to 1/s when it assembles the system matrices.
type params struct {
	v   []float64 // compartment volumes V1..V3 (nore: V1 only)
	cl  []float64 // clearances Cl1..Cl3
	ke0 []float64 // effect-site rate constants, one per effect site

	uEndo float64 // endogenous production, drug units per second
	x0    float64 // initial concentration in every compartment
}

// variability is the log-normal coefficient of variation per volume and
// clearance, applied at construction when randomization is on.
type variability struct {
	v  []float64
	cl []float64
}

func (p *params) randomize(cv variability, s drugrand.Sampler) {
	for i := range p.v {
		if i < len(cv.v) {
			p.v[i] *= s.LogNormal(drugrand.SpreadFromCV(cv.v[i]))
		}
	}
	for i := range p.cl {
		if i < len(cv.cl) {
			p.cl[i] *= s.LogNormal(drugrand.SpreadFromCV(cv.cl[i]))
		}
	}
}

func fsig(x, c50, gamma float64) float64 {
	xg := math.Pow(x, gamma)
	return xg / (math.Pow(c50, gamma) + xg)
}

// MAP effect-site equilibration constants shared by the propofol models
// (slow and fast arterial-pressure sites) and the remifentanil models.
const (
	propoMAPKe0Slow = 0.0540 // 1/min
	propoMAPKe0Fast = 0.0695 // 1/min
	remiMAPKe0      = 0.81   // 1/min
)

func buildParams(drug Drug, model string, d Demographics) (params, variability, error) {
	switch drug {
	case Propofol:
		switch model {
		case "Schnider":
			return schniderPropofol(d), variability{
				v:  []float64{0.047, 0.339, 0.165},
				cl: []float64{0.101, 0.369, 0.575},
			}, nil
		case "Marsh_initial":
			p := marshPropofol(d)
			p.ke0 = []float64{0.26, propoMAPKe0Slow, propoMAPKe0Fast}
			return p, marshVariability, nil
		case "Marsh_modified":
			p := marshPropofol(d)
			p.ke0 = []float64{1.2, propoMAPKe0Slow, propoMAPKe0Fast}
			return p, marshVariability, nil
		case "Eleveld":
			return eleveldPropofol(d), variability{
				v:  []float64{0.292, 0.580, 0.326},
				cl: []float64{0.268, 0.472, 0.482},
			}, nil
		}
	case Remifentanil:
		switch model {
		case "Minto":
			return mintoRemifentanil(d), variability{
				v:  []float64{0.26, 0.29, 0.66},
				cl: []float64{0.14, 0.36, 0.41},
			}, nil
		case "Eleveld":
			return eleveldRemifentanil(d), variability{
				v:  []float64{0.33, 0.35, 1.12},
				cl: []float64{0.14, 0.58, 0.60},
			}, nil
		}
	case Norepinephrine:
		switch model {
		case "Beloeil":
			return params{
				v:   []float64{8.84},
				cl:  []float64{59.6 / 30},
				ke0: nil,
			}, variability{v: []float64{0.36}, cl: []float64{0.49}}, nil
		case "Oualha":
			cl := 0.11 * math.Pow(d.Weight, 0.75)
			uEndoPerMin := 0.052 * math.Pow(d.Weight, 0.75)
			return params{
				v:     []float64{0.08 * d.Weight},
				cl:    []float64{cl},
				ke0:   nil,
				uEndo: uEndoPerMin / 60,
				x0:    uEndoPerMin / cl,
			}, variability{v: []float64{0.64}, cl: []float64{0.34}}, nil
		}
	default:
		return params{}, variability{}, simerr.NewConfiguration("drug", "unknown drug %q", drug)
	}
	return params{}, variability{}, simerr.NewConfiguration("model", "unknown model %q for drug %q", model, drug)
}

var marshVariability = variability{
	v:  []float64{0.26, 0.29, 0.66},
	cl: []float64{0.27, 0.38, 0.52},
}

func schniderPropofol(d Demographics) params {
	lbm := d.LBM()
	return params{
		v: []float64{4.27, 18.9 - 0.391*(d.Age-53), 238},
		cl: []float64{
			1.89 + 0.0456*(d.Weight-77) - 0.0681*(lbm-59) + 0.0264*(d.Height-177),
			1.29 - 0.024*(d.Age-53),
			0.836,
		},
		ke0: []float64{0.456, propoMAPKe0Slow, propoMAPKe0Fast},
	}
}

func marshPropofol(d Demographics) params {
	v1 := 0.228 * d.Weight
	return params{
		v:  []float64{v1, 0.463 * d.Weight, 2.893 * d.Weight},
		cl: []float64{0.119 * v1, 0.112 * v1, 0.0419 * v1},
		// ke0 filled by the caller: the initial and modified Marsh models
		// differ only in the BIS effect-site constant.
	}
}

func eleveldPropofol(d Demographics) params {
	const (
		ageRef = 35.0
		wRef   = 70.0
	)
	faging := func(x float64) float64 { return math.Exp(x * (d.Age - ageRef)) }

	pma := d.Age*52 + 40       // post-menstrual age, weeks
	pmaRef := ageRef*52 + 40.0 // reference individual

	v1 := 6.28 * fsig(d.Weight, 33.6, 1) / fsig(wRef, 33.6, 1)
	v2 := 25.5 * (d.Weight / wRef) * faging(-0.0156)
	v3 := 273 * alSallamiFFM(d) / alSallamiFFM(Demographics{Age: ageRef, Weight: wRef, Height: 170, Sex: Male}) * math.Exp(-0.0138*d.Age)

	clRef := 1.79
	if d.Sex == Female {
		clRef = 2.10
	}
	cl1 := clRef * math.Pow(d.Weight/wRef, 0.75) *
		fsig(pma, 42.3, 9.06) / fsig(pmaRef, 42.3, 9.06) * faging(-0.00286)
	cl2 := 1.75 * math.Pow(v2/25.5, 0.75)
	cl3 := 1.11 * math.Pow(v3/273, 0.75)

	return params{
		v:   []float64{v1, v2, v3},
		cl:  []float64{cl1, cl2, cl3},
		ke0: []float64{0.146 * math.Pow(d.Weight/wRef, -0.25), propoMAPKe0Slow, propoMAPKe0Fast},
	}
}

// alSallamiFFM is the fat-free mass used by the Eleveld propofol model (kg).
func alSallamiFFM(d Demographics) float64 {
	bmi := d.Weight / (d.Height / 100) / (d.Height / 100)
	if d.Sex == Male {
		return (0.88 + (1-0.88)/(1+math.Pow(d.Age/13.4, -12.7))) *
			9270 * d.Weight / (6680 + 216*bmi)
	}
	return (1.11 + (1-1.11)/(1+math.Pow(d.Age/7.1, -1.1))) *
		9270 * d.Weight / (8780 + 244*bmi)
}

func mintoRemifentanil(d Demographics) params {
	lbm := d.LBM()
	return params{
		v: []float64{
			5.1 - 0.0201*(d.Age-40) + 0.072*(lbm-55),
			9.82 - 0.0811*(d.Age-40) + 0.108*(lbm-55),
			5.42,
		},
		cl: []float64{
			2.6 - 0.0162*(d.Age-40) + 0.0191*(lbm-55),
			2.05 - 0.0301*(d.Age-40),
			0.076 - 0.00113*(d.Age-40),
		},
		ke0: []float64{0.595 - 0.007*(d.Age-40), remiMAPKe0},
	}
}

func eleveldRemifentanil(d Demographics) params {
	const ageRef = 35.0
	size := d.Weight / 70
	faging := func(x float64) float64 { return math.Exp(x * (d.Age - ageRef)) }

	ksex := 1.0
	if d.Sex == Female {
		ksex = 1 + 0.47*fsig(d.Age, 12, 6)*(1-fsig(d.Age, 45, 6))
	}
	kmat := fsig(d.Weight, 2.88, 2)

	v2 := 8.82 * size * faging(-0.00327) * ksex
	v3 := 5.03 * size * faging(-0.0315)
	return params{
		v: []float64{5.81 * size * faging(-0.00554), v2, v3},
		cl: []float64{
			2.58 * math.Pow(size, 0.75) * kmat * ksex * faging(-0.00327),
			1.72 * math.Pow(v2/8.82, 0.75) * faging(-0.00554),
			0.124 * math.Pow(v3/5.03, 0.75) * faging(-0.00554),
		},
		ke0: []float64{1.09 * faging(-0.0289), remiMAPKe0},
	}
}
