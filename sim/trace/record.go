// Package trace records simulated patient trajectories and exports them as
// CSV files or summary plots. It stores pure data and has no dependency on
// the model packages.
package trace

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

// Row is one sample of the full simulator state. Inputs are the rates that
// produced this sample's states.
type Row struct {
	Time float64 // s
	BIS  float64
	TOL  float64
	TPR  float64 // mmHg/ml/min
	SV   float64 // ml
	HR   float64 // 1/min
	MAP  float64 // mmHg
	CO   float64 // L/min

	UPropo float64 // mg/s
	URemi  float64 // µg/s
	UNore  float64 // µg/s

	BloodVolume float64 // L

	XPropo []float64 // 6 states, µg/ml
	XRemi  []float64 // 5 states, ng/ml
	XNore  []float64 // 1 state, ng/ml
}

// Trajectory is an append-only record of simulation rows.
type Trajectory struct {
	rows []Row
}

// NewTrajectory returns an empty trajectory.
func NewTrajectory() *Trajectory { return &Trajectory{} }

// Append adds one sample.
func (tr *Trajectory) Append(r Row) { tr.rows = append(tr.rows, r) }

// Reset drops every recorded row.
func (tr *Trajectory) Reset() { tr.rows = tr.rows[:0] }

// Len returns the number of recorded rows.
func (tr *Trajectory) Len() int { return len(tr.rows) }

// Rows returns the recorded rows; the slice is shared, callers must not
// mutate it.
func (tr *Trajectory) Rows() []Row { return tr.rows }

// Times returns the time column.
func (tr *Trajectory) Times() []float64 {
	return tr.column(func(r Row) float64 { return r.Time })
}

// BIS returns the BIS column.
func (tr *Trajectory) BIS() []float64 {
	return tr.column(func(r Row) float64 { return r.BIS })
}

// MAP returns the MAP column.
func (tr *Trajectory) MAP() []float64 {
	return tr.column(func(r Row) float64 { return r.MAP })
}

// CO returns the cardiac output column.
func (tr *Trajectory) CO() []float64 {
	return tr.column(func(r Row) float64 { return r.CO })
}

func (tr *Trajectory) column(get func(Row) float64) []float64 {
	out := make([]float64, len(tr.rows))
	for i, r := range tr.rows {
		out[i] = get(r)
	}
	return out
}

// header is the stable CSV column order.
var header = []string{
	"Time", "BIS", "TOL", "TPR", "SV", "HR", "MAP", "CO",
	"u_propo", "u_remi", "u_nore", "blood_volume",
	"x_propo_1", "x_propo_2", "x_propo_3", "x_propo_4", "x_propo_5", "x_propo_6",
	"x_remi_1", "x_remi_2", "x_remi_3", "x_remi_4", "x_remi_5",
	"x_nore_1",
}

// WriteCSV writes the trajectory to path in the stable column order.
func (tr *Trajectory) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("trace: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("trace: write header: %w", err)
	}
	record := make([]string, len(header))
	for i, r := range tr.rows {
		vals := make([]float64, 0, len(header))
		vals = append(vals, r.Time, r.BIS, r.TOL, r.TPR, r.SV, r.HR, r.MAP, r.CO,
			r.UPropo, r.URemi, r.UNore, r.BloodVolume)
		vals = append(vals, pad(r.XPropo, 6)...)
		vals = append(vals, pad(r.XRemi, 5)...)
		vals = append(vals, pad(r.XNore, 1)...)
		if len(vals) != len(header) {
			return simerr.NewInvalidInput("trace.WriteCSV", "row %d has %d columns, want %d", i, len(vals), len(header))
		}
		for j, v := range vals {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("trace: write row %d: %w", i, err)
		}
	}
	w.Flush()
	return w.Error()
}

func pad(x []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, x)
	return out
}
