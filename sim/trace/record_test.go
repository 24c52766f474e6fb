package trace

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anesthesia-sim/anesthesia-sim/sim/internal/testutil"
)

func sampleRow(t float64) Row {
	return Row{
		Time: t, BIS: 97 - t, TOL: 0.01 * t,
		TPR: 0.02, SV: 85, HR: 60, MAP: 90, CO: 5.1,
		UPropo: 0.13, URemi: 0.5, UNore: 0,
		BloodVolume: 4.9,
		XPropo:      []float64{1, 2, 3, 4, 5, 6},
		XRemi:       []float64{0.1, 0.2, 0.3, 0.4, 0.5},
		XNore:       []float64{0.01},
	}
}

func TestTrajectoryColumns(t *testing.T) {
	tr := NewTrajectory()
	for i := 0; i < 5; i++ {
		tr.Append(sampleRow(float64(i)))
	}

	require.Equal(t, 5, tr.Len())
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, tr.Times())
	assert.Equal(t, 97.0, tr.BIS()[0])
	assert.Equal(t, 93.0, tr.BIS()[4])
	assert.Equal(t, 90.0, tr.MAP()[2])
	assert.Equal(t, 5.1, tr.CO()[3])

	tr.Reset()
	assert.Equal(t, 0, tr.Len())
}

func TestWriteCSVRoundTrip(t *testing.T) {
	tr := NewTrajectory()
	for i := 0; i < 3; i++ {
		tr.Append(sampleRow(float64(i)))
	}

	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, tr.WriteCSV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	first, err := csv.NewReader(f).Read()
	f.Close()
	require.NoError(t, err)
	require.Equal(t, header, first)

	cols := testutil.LoadCSVColumns(t, path)
	require.Len(t, cols, 24)
	require.Len(t, cols["Time"], 3)
	testutil.AssertFloat64Equal(t, "BIS", 96.0, cols["BIS"][1], 1e-12)
	testutil.AssertFloat64Equal(t, "x_propo_6", 6.0, cols["x_propo_6"][0], 1e-12)
	testutil.AssertFloat64Equal(t, "x_remi_5", 0.5, cols["x_remi_5"][2], 1e-12)
	testutil.AssertFloat64Equal(t, "blood_volume", 4.9, cols["blood_volume"][0], 1e-12)
}

func TestWriteCSVPadsShortStateVectors(t *testing.T) {
	tr := NewTrajectory()
	r := sampleRow(0)
	r.XNore = nil
	tr.Append(r)

	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, tr.WriteCSV(path))

	cols := testutil.LoadCSVColumns(t, path)
	assert.Equal(t, 0.0, cols["x_nore_1"][0])
}

func TestSavePNG(t *testing.T) {
	tr := NewTrajectory()
	for i := 0; i < 20; i++ {
		tr.Append(sampleRow(float64(i)))
	}

	path := filepath.Join(t.TempDir(), "run.png")
	require.NoError(t, tr.SavePNG(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	empty := NewTrajectory()
	assert.Error(t, empty.SavePNG(filepath.Join(t.TempDir(), "empty.png")))
}
