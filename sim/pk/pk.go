// Package pk implements the linear pharmacokinetic compartment models of the
// three drugs. A drug is a continuous-time system dx/dt = A x + B u whose
// states are concentrations (plasma, peripheral, effect sites); the engine
// discretizes it exactly at the simulator sampling time and advances it one
// step per infusion-rate sample.
package pk

import (
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// Sex of the patient, used by covariate-dependent parameterizations.
type Sex int

const (
	Female Sex = iota
	Male
)

// Drug identifies one of the simulated drugs.
type Drug string

const (
	Propofol       Drug = "Propofol"       // input mg/s, concentrations µg/ml
	Remifentanil   Drug = "Remifentanil"   // input µg/s, concentrations ng/ml
	Norepinephrine Drug = "Norepinephrine" // input µg/s, concentrations ng/ml
)

// Demographics holds the patient covariates every parameterization is
// derived from.
type Demographics struct {
	Age    float64 // years
	Height float64 // cm
	Weight float64 // kg
	Sex    Sex
}

// Validate rejects non-physiological covariates.
func (d Demographics) Validate() error {
	if d.Age <= 0 {
		return simerr.NewConfiguration("age", "must be positive, got %g", d.Age)
	}
	if d.Height <= 0 {
		return simerr.NewConfiguration("height", "must be positive, got %g", d.Height)
	}
	if d.Weight <= 0 {
		return simerr.NewConfiguration("weight", "must be positive, got %g", d.Weight)
	}
	if d.Sex != Female && d.Sex != Male {
		return simerr.NewConfiguration("sex", "unknown value %d", d.Sex)
	}
	return nil
}

// LBM returns the James lean body mass (kg).
func (d Demographics) LBM() float64 {
	if d.Sex == Male {
		return 1.1*d.Weight - 128*(d.Weight/d.Height)*(d.Weight/d.Height)
	}
	return 1.07*d.Weight - 148*(d.Weight/d.Height)*(d.Weight/d.Height)
}
