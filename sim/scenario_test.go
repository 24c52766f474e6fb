package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anesthesia-sim/anesthesia-sim/sim/disturbance"
	"github.com/anesthesia-sim/anesthesia-sim/sim/metrics"
)

// runInduction simulates the reference induction scenario (0.13 mg/s
// propofol, 0.5 µg/s remifentanil, 60 s sampling, one hour) under the named
// disturbance profile and returns the recorded trajectory.
func runInduction(t *testing.T, profile string, opts disturbance.Options) ([]float64, []float64) {
	t.Helper()
	p := newTestPatient(t, Config{Ts: 60})
	prof, err := disturbance.New(profile, opts)
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		d := prof.At(float64(i) * 60)
		_, _, _, _, err := p.OneStep(0.13, 0.5, 0, StepOptions{Disturbance: d})
		require.NoError(t, err)
	}
	return p.Trajectory().Times(), p.Trajectory().BIS()
}

func TestReferenceInductionMetrics(t *testing.T) {
	for _, profile := range []string{disturbance.Realistic, disturbance.Simple} {
		t.Run(profile, func(t *testing.T) {
			time, bis := runInduction(t, profile, disturbance.Options{})

			m, err := metrics.ComputeInduction(time[:11], bis[:11])
			require.NoError(t, err)

			assert.Greater(t, m.BISNadir, 50.0)
			assert.Equal(t, 0.0, m.US)
			assert.InDelta(t, 9, m.TT, 1e-9)
			assert.InDelta(t, 9, m.ST10, 1e-9)
			assert.InDelta(t, 6, m.ST20, 1e-9)
		})
	}
}

func TestReferenceInductionDetail(t *testing.T) {
	time, bis := runInduction(t, disturbance.Realistic, disturbance.Options{})

	d, err := metrics.ComputeInductionDetail(time[:11], bis[:11])
	require.NoError(t, err)
	assert.InDelta(t, 6, d.SleepTime, 1e-9)
	assert.Equal(t, 0.0, d.LowBISTime)
	assert.InDelta(t, 53.2, d.LowestBIS, 0.1)
	assert.InDelta(t, 6, d.SettlingTime, 1e-9)
}

func TestReferenceTotalMetricsWithStep(t *testing.T) {
	const startStep, endStep = 20 * 60, 30 * 60
	time, bis := runInduction(t, disturbance.Step,
		disturbance.Options{StartStep: startStep, EndStep: endStep})

	m, err := metrics.ComputeTotal(time, bis, startStep, endStep)
	require.NoError(t, err)

	assert.InDelta(t, 9, m.TT, 1e-9)
	assert.InDelta(t, 9, m.ST10, 1e-9)
	assert.InDelta(t, 6, m.ST20, 1e-9)

	assert.InDelta(t, 10, m.TTp, 1e-9)
	assert.Greater(t, m.BISNadirP, 50.0)
	assert.True(t, math.IsNaN(m.TTn))
	assert.Less(t, m.BISNadirN, 50.0)
}

func TestReferenceMaintenanceDetail(t *testing.T) {
	const startStep, endStep = 20 * 60, 30 * 60
	time, bis := runInduction(t, disturbance.Step,
		disturbance.Options{StartStep: startStep, EndStep: endStep})

	d, err := metrics.ComputeMaintenanceDetail(time[10:], bis[10:])
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.TimeOutOfRange)
	assert.InDelta(t, 42.2, d.LowestBIS, 0.1)
	assert.InDelta(t, 57.0, d.HighestBIS, 0.1)
}
