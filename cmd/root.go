package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/anesthesia-sim/anesthesia-sim/sim"
	"github.com/anesthesia-sim/anesthesia-sim/sim/disturbance"
	"github.com/anesthesia-sim/anesthesia-sim/sim/metrics"
	"github.com/anesthesia-sim/anesthesia-sim/sim/pk"
	"github.com/anesthesia-sim/anesthesia-sim/sim/tci"
)

var (
	// CLI flags for the simulated subject
	age      float64 // Patient age (years)
	height   float64 // Patient height (cm)
	weight   float64 // Patient weight (kg)
	sex      string  // Patient sex (female, male)
	coBase   float64 // Baseline cardiac output (L/min)
	hrBase   float64 // Baseline heart rate (beats/min)
	mapBase  float64 // Baseline mean arterial pressure (mmHg)
	logLevel string  // Log verbosity level

	// CLI flags for PK/PD model selection
	modelPropofol       string // Propofol PK parameterization
	modelRemifentanil   string // Remifentanil PK parameterization
	modelNorepinephrine string // Norepinephrine PK parameterization
	modelBIS            string // BIS PD parameterization
	hemoModel           string // Hemodynamic model (mechanistic, simple)

	// CLI flags for the simulation run
	samplingTime float64 // Simulation sampling time (s)
	duration     float64 // Total simulated time (s)
	seed         int64   // Seed for inter-patient variability and noise
	randomPK     bool    // Draw PK parameters from their log-normal spread
	randomPD     bool    // Draw PD parameters from their log-normal spread
	coUpdate     bool    // Couple drug clearances to cardiac output
	noise        bool    // Add measurement noise to BIS, MAP and CO

	// CLI flags for surgical disturbance and blood loss
	disturbanceName  string  // Stimulation profile name
	disturbanceStart float64 // Step-profile start (s)
	disturbanceEnd   float64 // Step-profile end (s)
	bloodRate        float64 // Fluid rate during the blood window (ml/min)
	bloodStart       float64 // Blood window start (s)
	bloodEnd         float64 // Blood window end (s)

	// CLI flags for constant open-loop infusions
	uPropo float64 // Propofol infusion rate (mg/s)
	uRemi  float64 // Remifentanil infusion rate (µg/s)
	uNore  float64 // Norepinephrine infusion rate (µg/s)

	// CLI flags for scenario and outputs
	scenarioPath string // YAML scenario file; explicit flags override its values
	outputPath   string // Trajectory CSV path
	plotPath     string // Trajectory PNG path
)

// progressEvery spaces the Info-level progress logs; every step still logs
// at Debug.
const progressEvery = 60

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "anesthesia-sim",
	Short: "Physiological simulator for total intravenous anesthesia",
}

// flagScenario assembles a scenario equivalent to the CLI flags, so the run
// loop only ever deals with one input shape.
func flagScenario() *ScenarioConfig {
	cfg := &ScenarioConfig{
		Patient: PatientConfig{
			Age: age, Height: height, Weight: weight, Sex: sex,
			COBase: coBase, HRBase: hrBase, MAPBase: mapBase,
		},
		Models: ModelConfig{
			Propofol:       modelPropofol,
			Remifentanil:   modelRemifentanil,
			Norepinephrine: modelNorepinephrine,
			BIS:            modelBIS,
			Hemo:           hemoModel,
		},
		Simulation: SimConfig{
			SamplingTime: samplingTime,
			Duration:     duration,
			Seed:         seed,
			RandomPK:     randomPK,
			RandomPD:     randomPD,
			COUpdate:     coUpdate,
			Noise:        noise,

			Disturbance:      disturbanceName,
			DisturbanceStart: disturbanceStart,
			DisturbanceEnd:   disturbanceEnd,
		},
		Infusions: map[string][]Segment{
			"propofol":       {{Start: 0, Rate: uPropo}},
			"remifentanil":   {{Start: 0, Rate: uRemi}},
			"norepinephrine": {{Start: 0, Rate: uNore}},
		},
	}
	if bloodRate != 0 {
		cfg.Blood = []BloodWindow{{Start: bloodStart, End: bloodEnd, Rate: bloodRate}}
	}
	return cfg
}

// overrideFromFlags applies flags the user set explicitly on top of the
// scenario file values.
func overrideFromFlags(cmd *cobra.Command, scn *ScenarioConfig) {
	setFloat := func(name string, dst *float64, v float64) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	setString := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool, v bool) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}

	setFloat("age", &scn.Patient.Age, age)
	setFloat("height", &scn.Patient.Height, height)
	setFloat("weight", &scn.Patient.Weight, weight)
	setString("sex", &scn.Patient.Sex, sex)
	setFloat("co-base", &scn.Patient.COBase, coBase)
	setFloat("hr-base", &scn.Patient.HRBase, hrBase)
	setFloat("map-base", &scn.Patient.MAPBase, mapBase)

	setString("model-propofol", &scn.Models.Propofol, modelPropofol)
	setString("model-remifentanil", &scn.Models.Remifentanil, modelRemifentanil)
	setString("model-norepinephrine", &scn.Models.Norepinephrine, modelNorepinephrine)
	setString("model-bis", &scn.Models.BIS, modelBIS)
	setString("hemo-model", &scn.Models.Hemo, hemoModel)

	setFloat("sampling-time", &scn.Simulation.SamplingTime, samplingTime)
	setFloat("duration", &scn.Simulation.Duration, duration)
	if cmd.Flags().Changed("seed") {
		scn.Simulation.Seed = seed
	}
	setBool("random-pk", &scn.Simulation.RandomPK, randomPK)
	setBool("random-pd", &scn.Simulation.RandomPD, randomPD)
	setBool("co-update", &scn.Simulation.COUpdate, coUpdate)
	setBool("noise", &scn.Simulation.Noise, noise)
	setString("disturbance", &scn.Simulation.Disturbance, disturbanceName)
	setFloat("disturbance-start", &scn.Simulation.DisturbanceStart, disturbanceStart)
	setFloat("disturbance-end", &scn.Simulation.DisturbanceEnd, disturbanceEnd)
}

// newTCIController builds the pump controller for one drug of the scenario.
func newTCIController(scn *ScenarioConfig, drug pk.Drug, block TCIBlock) (*tci.Controller, error) {
	model := scn.Models.Propofol
	if drug == pk.Remifentanil {
		model = scn.Models.Remifentanil
	}
	sexValue, err := sexFromString(scn.Patient.Sex)
	if err != nil {
		return nil, err
	}
	return tci.NewController(tci.Config{
		Demographics: pk.Demographics{
			Age:    scn.Patient.Age,
			Height: scn.Patient.Height,
			Weight: scn.Patient.Weight,
			Sex:    sexValue,
		},
		Drug:              drug,
		Model:             model,
		SamplingTime:      scn.Simulation.SamplingTime,
		ControlTime:       block.ControlTime,
		DrugConcentration: block.Concentration,
		MaximumRate:       block.MaxRate,
		TargetSite:        block.TargetSite,
	})
}

// runCmd executes one simulated case using parameters from CLI flags or a
// scenario file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulated anesthesia case",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		scn := flagScenario()
		if scenarioPath != "" {
			scn, err = LoadScenario(scenarioPath)
			if err != nil {
				logrus.Fatalf("unable to load scenario: %v", err)
			}
			overrideFromFlags(cmd, scn)
		}
		if scn.Simulation.Duration <= 0 {
			logrus.Fatalf("simulation duration must be positive, got %g", scn.Simulation.Duration)
		}

		cfg, err := scn.patientConfig()
		if err != nil {
			logrus.Fatalf("invalid scenario: %v", err)
		}
		patient, err := sim.NewPatient(cfg)
		if err != nil {
			logrus.Fatalf("unable to build patient: %v", err)
		}

		profile, err := disturbance.New(disturbanceOf(scn), disturbance.Options{
			StartStep: scn.Simulation.DisturbanceStart,
			EndStep:   scn.Simulation.DisturbanceEnd,
		})
		if err != nil {
			logrus.Fatalf("invalid disturbance: %v", err)
		}

		var tciPropo, tciRemi *tci.Controller
		var tciPropoBlock, tciRemiBlock TCIBlock
		if block, ok := scn.TCI["propofol"]; ok {
			tciPropoBlock = block.withDefaults()
			if tciPropo, err = newTCIController(scn, pk.Propofol, tciPropoBlock); err != nil {
				logrus.Fatalf("invalid propofol TCI block: %v", err)
			}
		}
		if block, ok := scn.TCI["remifentanil"]; ok {
			tciRemiBlock = block.withDefaults()
			if tciRemi, err = newTCIController(scn, pk.Remifentanil, tciRemiBlock); err != nil {
				logrus.Fatalf("invalid remifentanil TCI block: %v", err)
			}
		}

		if m := scn.Maintenance; m != nil {
			up, ur, un, err := patient.InitializeAtMaintenance(m.BISTarget, m.TOLTarget, m.MAPTarget)
			if err != nil {
				logrus.Fatalf("maintenance equilibrium not found: %v", err)
			}
			logrus.Infof("Maintenance equilibrium: propofol=%.4fmg/s remifentanil=%.4fµg/s norepinephrine=%.4fµg/s", up, ur, un)
		}

		ts := patient.Ts()
		steps := int(scn.Simulation.Duration / ts)
		logrus.Infof("Starting simulation: duration=%gs ts=%gs steps=%d disturbance=%s",
			scn.Simulation.Duration, ts, steps, disturbanceOf(scn))

		startTime := time.Now() // Get current time (start)

		for i := 0; i < steps; i++ {
			t := patient.Time()

			up := rateAt(scn.Infusions["propofol"], t)
			if tciPropo != nil {
				target := tciPropoBlock.Target
				if tciPropoBlock.BISTarget > 0 {
					target, err = patient.BISModel().Inverse(tciPropoBlock.BISTarget, patient.RemifentanilPK().EffectSiteConcentration())
					if err != nil {
						logrus.Fatalf("BIS target unreachable: %v", err)
					}
				}
				up = tciPropo.OneStep(target) * tciPropoBlock.Concentration / 3600
			}
			ur := rateAt(scn.Infusions["remifentanil"], t)
			if tciRemi != nil {
				ur = tciRemi.OneStep(tciRemiBlock.Target) * tciRemiBlock.Concentration / 3600
			}
			un := rateAt(scn.Infusions["norepinephrine"], t)

			bis, co, mapv, tol, err := patient.OneStep(up, ur, un, sim.StepOptions{
				BloodRate:   bloodRateAt(scn.Blood, t),
				Disturbance: profile.At(t),
				Noise:       scn.Simulation.Noise,
			})
			if err != nil {
				logrus.Fatalf("[tick %07d] step failed: %v", i, err)
			}
			if i%progressEvery == 0 {
				logrus.Infof("[tick %07d] BIS=%.1f MAP=%.1f CO=%.2f TOL=%.3f", i, bis, mapv, co, tol)
			} else {
				logrus.Debugf("[tick %07d] BIS=%.1f MAP=%.1f CO=%.2f TOL=%.3f", i, bis, mapv, co, tol)
			}
		}
		logrus.Infof("[tick %07d] Simulation ended", steps)

		traj := patient.Trajectory()
		if scn.Maintenance == nil {
			if ind, err := metrics.ComputeInduction(traj.Times(), traj.BIS()); err == nil {
				logrus.Infof("Induction metrics: TT=%.1fmin nadir=%.1f ST10=%.1fmin ST20=%.1fmin US=%.1f",
					ind.TT, ind.BISNadir, ind.ST10, ind.ST20, ind.US)
			}
		}
		if outputPath != "" {
			if err := traj.WriteCSV(outputPath); err != nil {
				logrus.Fatalf("unable to write trajectory: %v", err)
			}
			logrus.Infof("Trajectory written to %s", outputPath)
		}
		if plotPath != "" {
			if err := traj.SavePNG(plotPath); err != nil {
				logrus.Fatalf("unable to write plot: %v", err)
			}
			logrus.Infof("Plot written to %s", plotPath)
		}

		logrus.Infof("Simulation complete in %v.", time.Since(startTime).Round(time.Millisecond))
	},
}

// disturbanceOf defaults the profile name
func disturbanceOf(scn *ScenarioConfig) string {
	if scn.Simulation.Disturbance == "" {
		return disturbance.Null
	}
	return scn.Simulation.Disturbance
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {

	runCmd.Flags().StringVar(&logLevel, "log-level", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Patient demographics and hemodynamic baselines
	runCmd.Flags().Float64Var(&age, "age", 35, "Patient age in years")
	runCmd.Flags().Float64Var(&height, "height", 170, "Patient height in cm")
	runCmd.Flags().Float64Var(&weight, "weight", 70, "Patient weight in kg")
	runCmd.Flags().StringVar(&sex, "sex", "female", "Patient sex (female, male)")
	runCmd.Flags().Float64Var(&coBase, "co-base", 6.5, "Baseline cardiac output in L/min")
	runCmd.Flags().Float64Var(&hrBase, "hr-base", 60, "Baseline heart rate in beats/min")
	runCmd.Flags().Float64Var(&mapBase, "map-base", 90, "Baseline mean arterial pressure in mmHg")

	// PK/PD model selection
	runCmd.Flags().StringVar(&modelPropofol, "model-propofol", "Schnider", "Propofol PK model (Schnider, Marsh_initial, Marsh_modified, Eleveld)")
	runCmd.Flags().StringVar(&modelRemifentanil, "model-remifentanil", "Minto", "Remifentanil PK model (Minto, Eleveld)")
	runCmd.Flags().StringVar(&modelNorepinephrine, "model-norepinephrine", "Beloeil", "Norepinephrine PK model (Beloeil, Oualha)")
	runCmd.Flags().StringVar(&modelBIS, "model-bis", "Bouillon", "BIS PD model (Bouillon, Vanluchene, Eleveld)")
	runCmd.Flags().StringVar(&hemoModel, "hemo-model", sim.HemoMechanistic, "Hemodynamic model (mechanistic, simple)")

	// Simulation switches
	runCmd.Flags().Float64Var(&samplingTime, "sampling-time", 1, "Simulation sampling time in seconds")
	runCmd.Flags().Float64Var(&duration, "duration", 3600, "Total simulated time in seconds")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for inter-patient variability and measurement noise")
	runCmd.Flags().BoolVar(&randomPK, "random-pk", false, "Draw PK parameters from their log-normal spread")
	runCmd.Flags().BoolVar(&randomPD, "random-pd", false, "Draw PD parameters from their log-normal spread")
	runCmd.Flags().BoolVar(&coUpdate, "co-update", false, "Couple drug clearances to cardiac output")
	runCmd.Flags().BoolVar(&noise, "noise", false, "Add measurement noise to BIS, MAP and CO")

	// Surgical disturbance and blood loss
	runCmd.Flags().StringVar(&disturbanceName, "disturbance", "null", "Stimulation profile (null, realistic, realistic2, simple, step, liverTransplantation)")
	runCmd.Flags().Float64Var(&disturbanceStart, "disturbance-start", 600, "Step-profile start in seconds")
	runCmd.Flags().Float64Var(&disturbanceEnd, "disturbance-end", 1200, "Step-profile end in seconds")
	runCmd.Flags().Float64Var(&bloodRate, "blood-rate", 0, "Fluid rate in ml/min during the blood window (negative bleeds)")
	runCmd.Flags().Float64Var(&bloodStart, "blood-start", 0, "Blood window start in seconds")
	runCmd.Flags().Float64Var(&bloodEnd, "blood-end", 0, "Blood window end in seconds")

	// Constant open-loop infusions
	runCmd.Flags().Float64Var(&uPropo, "u-propo", 0, "Propofol infusion rate in mg/s")
	runCmd.Flags().Float64Var(&uRemi, "u-remi", 0, "Remifentanil infusion rate in µg/s")
	runCmd.Flags().Float64Var(&uNore, "u-nore", 0, "Norepinephrine infusion rate in µg/s")

	// Scenario and outputs
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "YAML scenario file (explicitly set flags override its values)")
	runCmd.Flags().StringVar(&outputPath, "output", "", "Trajectory CSV path")
	runCmd.Flags().StringVar(&plotPath, "plot", "", "Trajectory PNG path")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
