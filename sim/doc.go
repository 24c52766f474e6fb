// Package sim simulates the physiological response of a patient under total
// intravenous anesthesia.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - patient.go: the Patient orchestrator, one sampling step and batch simulation
//   - equilibrium.go: steady-state solvers mapping output targets to infusion rates
//   - noise.go: the measurement-noise generator
//
// # Architecture
//
// The sim package orchestrates; the models live in sub-packages:
//   - sim/pk/: compartment pharmacokinetic models (propofol, remifentanil, norepinephrine)
//   - sim/pd/: pharmacodynamic models (BIS, TOL, mechanistic and static hemodynamics)
//   - sim/disturbance/: tabulated surgical stimulation profiles
//   - sim/metrics/: control-performance metrics over BIS trajectories
//   - sim/trace/: trajectory recording and CSV/PNG export
//   - sim/tci/: target-controlled infusion pump controller
//   - sim/numeric/: shared discretization, root finding and optimization routines
//   - sim/drugrand/: seeded parameter-randomization streams
//
// Each step of Patient.OneStep advances the three PK models, evaluates the PD
// surfaces on the effect-site concentrations, steps the hemodynamic ODE on the
// plasma concentrations, and applies disturbances, blood loss, cardiac-output
// coupling and measurement noise in that order.
package sim
