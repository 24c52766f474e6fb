package cmd

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	sim "github.com/anesthesia-sim/anesthesia-sim/sim"
	"github.com/anesthesia-sim/anesthesia-sim/sim/pk"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// PatientConfig holds the subject demographics of a scenario file.
type PatientConfig struct {
	Age     float64 `yaml:"age"`
	Height  float64 `yaml:"height"`
	Weight  float64 `yaml:"weight"`
	Sex     string  `yaml:"sex"` // female or male
	COBase  float64 `yaml:"co_base"`
	HRBase  float64 `yaml:"hr_base"`
	MAPBase float64 `yaml:"map_base"`
}

// ModelConfig selects the PK/PD parameterizations.
type ModelConfig struct {
	Propofol       string `yaml:"propofol"`
	Remifentanil   string `yaml:"remifentanil"`
	Norepinephrine string `yaml:"norepinephrine"`
	BIS            string `yaml:"bis"`
	Hemo           string `yaml:"hemo"`
}

// SimConfig holds the simulation switches of a scenario file.
type SimConfig struct {
	SamplingTime float64 `yaml:"sampling_time"`
	Duration     float64 `yaml:"duration"` // s
	Seed         int64   `yaml:"seed"`
	RandomPK     bool    `yaml:"random_pk"`
	RandomPD     bool    `yaml:"random_pd"`
	COUpdate     bool    `yaml:"co_update"`
	Noise        bool    `yaml:"noise"`

	Disturbance      string  `yaml:"disturbance"`
	DisturbanceStart float64 `yaml:"disturbance_start"` // s, step profile
	DisturbanceEnd   float64 `yaml:"disturbance_end"`   // s, step profile
}

// Segment is one piece of a piecewise-constant infusion profile.
type Segment struct {
	Start float64 `yaml:"start"` // s
	Rate  float64 `yaml:"rate"`  // mg/s or µg/s
}

// BloodWindow applies a fluid rate over a time interval.
type BloodWindow struct {
	Start float64 `yaml:"start"` // s
	End   float64 `yaml:"end"`   // s
	Rate  float64 `yaml:"rate"`  // ml/min, negative bleeds
}

// TCIBlock drives one drug through the pump controller instead of a fixed
// profile. Either a concentration target or, for propofol, a BIS target.
type TCIBlock struct {
	TargetSite    string  `yaml:"target_site"` // plasma or effect_site
	Target        float64 `yaml:"target"`      // µg/ml or ng/ml
	BISTarget     float64 `yaml:"bis_target"`  // propofol only
	Concentration float64 `yaml:"concentration"`
	MaxRate       float64 `yaml:"max_rate"` // ml/hr
	ControlTime   float64 `yaml:"control_time"`
}

// withDefaults fills the pump defaults so rate conversions outside the
// controller agree with the ones inside it.
func (b TCIBlock) withDefaults() TCIBlock {
	if b.Concentration == 0 {
		b.Concentration = 10
	}
	if b.MaxRate == 0 {
		b.MaxRate = 500
	}
	if b.ControlTime == 0 {
		b.ControlTime = 10
	}
	return b
}

// MaintenanceConfig starts the simulation at the equilibrium for the given
// targets instead of an awake patient.
type MaintenanceConfig struct {
	BISTarget float64 `yaml:"bis_target"`
	TOLTarget float64 `yaml:"tol_target"`
	MAPTarget float64 `yaml:"map_target"`
}

// ScenarioConfig is the root of a scenario YAML file.
type ScenarioConfig struct {
	Patient    PatientConfig `yaml:"patient"`
	Models     ModelConfig   `yaml:"models"`
	Simulation SimConfig     `yaml:"simulation"`

	Infusions map[string][]Segment `yaml:"infusions"` // keyed by drug name
	Blood     []BloodWindow        `yaml:"blood"`
	TCI       map[string]TCIBlock  `yaml:"tci"`

	Maintenance *MaintenanceConfig `yaml:"maintenance"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*ScenarioConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var cfg ScenarioConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-field constraints the YAML schema cannot.
func (c *ScenarioConfig) Validate() error {
	for drug, segments := range c.Infusions {
		switch drug {
		case "propofol", "remifentanil", "norepinephrine":
		default:
			return simerr.NewConfiguration("infusions", "unknown drug %q", drug)
		}
		if !sort.SliceIsSorted(segments, func(i, j int) bool {
			return segments[i].Start < segments[j].Start
		}) {
			return simerr.NewConfiguration("infusions", "%s segments must be sorted by start time", drug)
		}
		for _, s := range segments {
			if s.Rate < 0 {
				return simerr.NewConfiguration("infusions", "%s rate must be non-negative", drug)
			}
		}
	}
	for drug := range c.TCI {
		switch drug {
		case "propofol", "remifentanil":
		default:
			return simerr.NewConfiguration("tci", "unsupported drug %q", drug)
		}
		if _, ok := c.Infusions[drug]; ok {
			return simerr.NewConfiguration("tci", "%s cannot have both an infusion profile and a TCI block", drug)
		}
	}
	if tci, ok := c.TCI["remifentanil"]; ok && tci.BISTarget > 0 {
		return simerr.NewConfiguration("tci", "BIS targeting is only available for propofol")
	}
	for _, w := range c.Blood {
		if w.End <= w.Start {
			return simerr.NewConfiguration("blood", "window end must be after start")
		}
	}
	return nil
}

// sexFromString maps the scenario spelling onto the PK demographics value.
func sexFromString(s string) (pk.Sex, error) {
	switch s {
	case "female", "":
		return pk.Female, nil
	case "male":
		return pk.Male, nil
	default:
		return pk.Female, simerr.NewConfiguration("sex", "must be female or male, got %q", s)
	}
}

// patientConfig assembles the simulator configuration from scenario plus
// flag values (flags win when the scenario leaves a field zero).
func (c *ScenarioConfig) patientConfig() (sim.Config, error) {
	sex, err := sexFromString(c.Patient.Sex)
	if err != nil {
		return sim.Config{}, err
	}
	return sim.Config{
		Demographics: pk.Demographics{
			Age:    c.Patient.Age,
			Height: c.Patient.Height,
			Weight: c.Patient.Weight,
			Sex:    sex,
		},
		COBase:              c.Patient.COBase,
		HRBase:              c.Patient.HRBase,
		MAPBase:             c.Patient.MAPBase,
		ModelPropofol:       c.Models.Propofol,
		ModelRemifentanil:   c.Models.Remifentanil,
		ModelNorepinephrine: c.Models.Norepinephrine,
		ModelBIS:            c.Models.BIS,
		HemoModel:           c.Models.Hemo,
		Ts:                  c.Simulation.SamplingTime,
		RandomPK:            c.Simulation.RandomPK,
		RandomPD:            c.Simulation.RandomPD,
		Seed:                c.Simulation.Seed,
		COUpdate:            c.Simulation.COUpdate,
	}, nil
}

// rateAt evaluates a piecewise-constant profile.
func rateAt(segments []Segment, t float64) float64 {
	rate := 0.0
	for _, s := range segments {
		if t >= s.Start {
			rate = s.Rate
		}
	}
	return rate
}

// bloodRateAt evaluates the blood windows.
func bloodRateAt(windows []BloodWindow, t float64) float64 {
	for _, w := range windows {
		if t >= w.Start && t < w.End {
			return w.Rate
		}
	}
	return 0
}
