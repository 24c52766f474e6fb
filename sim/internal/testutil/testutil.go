// Package testutil provides shared test infrastructure for the simulator:
// tolerance-based float assertions and loaders for exported trajectories.
package testutil

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"
	"testing"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// LoadCSVColumns reads a trajectory CSV exported by sim/trace into named
// float columns.
func LoadCSVColumns(t *testing.T, path string) map[string][]float64 {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	if len(records) == 0 {
		t.Fatalf("%s: empty file", path)
	}

	header := records[0]
	cols := make(map[string][]float64, len(header))
	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			t.Fatalf("%s: row has %d fields, want %d", path, len(rec), len(header))
		}
		for i, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				t.Fatalf("%s: column %s: %v", path, header[i], err)
			}
			cols[header[i]] = append(cols[header[i]], v)
		}
	}
	return cols
}
