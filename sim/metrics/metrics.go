// Package metrics computes closed-loop anesthesia control-performance
// metrics over a recorded BIS trajectory. Times are reported in minutes
// unless stated otherwise; metrics of events that never happen are NaN.
package metrics

import (
	"math"

	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// Induction holds the Ionescu 2008 induction-phase metrics.
type Induction struct {
	TT       float64 // time to first BIS < 55 (min)
	BISNadir float64 // lowest BIS
	ST10     float64 // settling time into (45, 55) (min)
	ST20     float64 // settling time into (40, 60) (min)
	US       float64 // undershoot below 45
}

// Maintenance holds the disturbance-rejection metrics around a step window.
type Maintenance struct {
	TTp       float64 // time to recover below 55 after the positive step (min)
	BISNadirP float64 // lowest BIS inside the step window
	TTn       float64 // time to recover above 45 after the negative step (min)
	BISNadirN float64 // highest BIS after the step window
}

// Total combines both phases, with induction limited to the first ten
// minutes.
type Total struct {
	Induction
	Maintenance
}

func validate(time, bis []float64) error {
	if len(time) == 0 {
		return simerr.NewInvalidInput("metrics", "empty trajectory")
	}
	if len(time) != len(bis) {
		return simerr.NewInvalidInput("metrics", "time has %d samples, bis %d", len(time), len(bis))
	}
	return nil
}

// indexAt locates the sample at time v with a half-sample tolerance; exact
// float comparison would miss breakpoints assembled by accumulation.
func indexAt(time []float64, v float64) (int, error) {
	half := math.Inf(1)
	if len(time) > 1 {
		half = (time[1] - time[0]) / 2
	}
	for i, t := range time {
		if math.Abs(t-v) <= half {
			return i, nil
		}
	}
	return 0, simerr.NewInvalidInput("metrics", "no sample at t=%gs", v)
}

// ComputeInduction evaluates the induction metrics over the whole
// trajectory. The settling times are the start of the final streak inside
// the band that lasts to the end of the record.
func ComputeInduction(time, bis []float64) (Induction, error) {
	if err := validate(time, bis); err != nil {
		return Induction{}, err
	}

	m := Induction{TT: math.NaN(), ST10: math.NaN(), ST20: math.NaN(), BISNadir: math.Inf(1)}
	for j, b := range bis {
		if b < m.BISNadir {
			m.BISNadir = b
		}
		if b < 55 && math.IsNaN(m.TT) {
			m.TT = time[j] / 60
		}
		if b < 55 && b > 45 {
			if math.IsNaN(m.ST10) {
				m.ST10 = time[j] / 60
			}
		} else {
			m.ST10 = math.NaN()
		}
		if b < 60 && b > 40 {
			if math.IsNaN(m.ST20) {
				m.ST20 = time[j] / 60
			}
		} else {
			m.ST20 = math.NaN()
		}
	}
	m.US = math.Max(0, 45-m.BISNadir)
	return m, nil
}

// ComputeMaintenance evaluates the disturbance-rejection metrics for a step
// window given by its start and end times in seconds.
func ComputeMaintenance(time, bis []float64, startStep, endStep float64) (Maintenance, error) {
	if err := validate(time, bis); err != nil {
		return Maintenance{}, err
	}
	iStart, err := indexAt(time, startStep)
	if err != nil {
		return Maintenance{}, err
	}
	iEnd, err := indexAt(time, endStep)
	if err != nil {
		return Maintenance{}, err
	}
	iStart++

	m := Maintenance{TTp: math.NaN(), TTn: math.NaN()}
	m.BISNadirP = minOf(bis[iStart:iEnd])
	m.BISNadirN = maxOf(bis[iEnd:])

	for j := iStart; j < iEnd && j+1 < len(bis); j++ {
		if bis[j+1] < 55 {
			m.TTp = (time[j] - startStep) / 60
			break
		}
	}
	for j := iEnd; j+1 < len(bis); j++ {
		if bis[j+1] > 45 {
			m.TTn = (time[j] - endStep) / 60
			break
		}
	}
	return m, nil
}

// ComputeTotal evaluates both phases on one record: induction over the
// first ten minutes, then the step-window metrics with the total-phase
// indexing (recovery measured from the first sample past the window).
func ComputeTotal(time, bis []float64, startStep, endStep float64) (Total, error) {
	if err := validate(time, bis); err != nil {
		return Total{}, err
	}
	i10, err := indexAt(time, 10*60)
	if err != nil {
		return Total{}, err
	}
	ind, err := ComputeInduction(time[:i10], bis[:i10])
	if err != nil {
		return Total{}, err
	}

	iStart, err := indexAt(time, startStep)
	if err != nil {
		return Total{}, err
	}
	iEnd, err := indexAt(time, endStep)
	if err != nil {
		return Total{}, err
	}
	iStart++
	iEnd++

	maint := Maintenance{TTp: math.NaN(), TTn: math.NaN()}
	maint.BISNadirP = minOf(bis[iStart:iEnd])
	maint.BISNadirN = maxOf(bis[iEnd:])
	for j := iStart; j < iEnd; j++ {
		if bis[j] < 55 {
			maint.TTp = (time[j] - startStep) / 60
			break
		}
	}
	for j := iEnd; j < len(bis); j++ {
		if bis[j] > 45 {
			maint.TTn = (time[j] - time[iEnd]) / 60
			break
		}
	}
	return Total{Induction: ind, Maintenance: maint}, nil
}

// IAE is the trapezoidal integral of |BIS - target| over time (BIS*s).
func IAE(time, bis []float64, target float64) float64 {
	var iae float64
	for i := 1; i < len(bis); i++ {
		e0 := math.Abs(bis[i-1] - target)
		e1 := math.Abs(bis[i] - target)
		iae += (e0 + e1) / 2 * (time[i] - time[i-1])
	}
	return iae
}

// InductionDetail holds the extended induction metrics.
type InductionDetail struct {
	IAE          float64 // against a BIS target of 50 (BIS*s)
	SleepTime    float64 // last crossing into BIS <= 60 (min)
	LowBISTime   float64 // time spent below 40 (s)
	LowestBIS    float64
	SettlingTime float64 // last crossing into (40, 60) (min)
}

// ComputeInductionDetail evaluates the extended induction metrics.
func ComputeInductionDetail(time, bis []float64) (InductionDetail, error) {
	if err := validate(time, bis); err != nil {
		return InductionDetail{}, err
	}

	d := InductionDetail{
		IAE:          IAE(time, bis, 50),
		SleepTime:    lastCrossing(time, bis, func(b float64) bool { return b > 60 }),
		SettlingTime: lastCrossing(time, bis, func(b float64) bool { return b > 60 || b < 40 }),
		LowestBIS:    minOf(bis),
	}
	ts := 0.0
	if len(time) > 1 {
		ts = time[1] - time[0]
	}
	for _, b := range bis {
		if b < 40 {
			d.LowBISTime += ts
		}
	}
	return d, nil
}

// MaintenanceDetail holds the extended maintenance metrics.
type MaintenanceDetail struct {
	IAE            float64 // against a BIS target of 50 (BIS*s)
	TimeOutOfRange float64 // time outside [40, 60] (s)
	LowestBIS      float64
	HighestBIS     float64
}

// ComputeMaintenanceDetail evaluates the extended maintenance metrics.
func ComputeMaintenanceDetail(time, bis []float64) (MaintenanceDetail, error) {
	if err := validate(time, bis); err != nil {
		return MaintenanceDetail{}, err
	}
	d := MaintenanceDetail{
		IAE:        IAE(time, bis, 50),
		LowestBIS:  minOf(bis),
		HighestBIS: maxOf(bis),
	}
	ts := 0.0
	if len(time) > 1 {
		ts = time[1] - time[0]
	}
	for _, b := range bis {
		if b < 40 || b > 60 {
			d.TimeOutOfRange += ts
		}
	}
	return d, nil
}

// lastCrossing scans backwards for the last sample where out holds and
// returns the time of the next sample, i.e. the final entry into the band.
func lastCrossing(time, bis []float64, out func(float64) bool) float64 {
	for j := len(bis) - 1; j >= 0; j-- {
		if out(bis[j]) {
			if j == len(bis)-1 {
				return time[j] / 60
			}
			return time[j+1] / 60
		}
	}
	return math.NaN()
}

func minOf(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		m = math.Min(m, x)
	}
	return m
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}
