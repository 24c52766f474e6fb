package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anesthesia-sim/anesthesia-sim/sim/pk"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

var testDemo = pk.Demographics{Age: 35, Height: 170, Weight: 70, Sex: pk.Female}

func newTestPatient(t *testing.T, cfg Config) *Patient {
	t.Helper()
	if cfg.Demographics == (pk.Demographics{}) {
		cfg.Demographics = testDemo
	}
	p, err := NewPatient(cfg)
	require.NoError(t, err)
	return p
}

func TestNewPatientValidation(t *testing.T) {
	_, err := NewPatient(Config{Demographics: pk.Demographics{Age: -3, Height: 170, Weight: 70}})
	var cfgErr *simerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	_, err = NewPatient(Config{Demographics: testDemo, HemoModel: "lumped"})
	require.ErrorAs(t, err, &cfgErr)
}

func TestPatientInitialOutputs(t *testing.T) {
	p := newTestPatient(t, Config{})
	bis, co, mapOut, tol := p.Outputs()
	assert.Greater(t, bis, 90.0)
	assert.InDelta(t, 6.5, co, 1e-6)
	assert.InDelta(t, 90, mapOut, 1e-6)
	assert.Equal(t, 0.0, tol)

	require.NotNil(t, p.Trajectory())
	require.Equal(t, 1, p.Trajectory().Len())
	row := p.Trajectory().Rows()[0]
	assert.Len(t, row.XPropo, 6)
	assert.Len(t, row.XRemi, 5)
	assert.Len(t, row.XNore, 1)
	assert.Equal(t, p.BloodVolume(), row.BloodVolume)
}

func TestOneStepRejectsNegativeInput(t *testing.T) {
	p := newTestPatient(t, Config{})
	_, _, _, _, err := p.OneStep(-0.1, 0, 0, StepOptions{})
	var inErr *simerr.InvalidInputError
	require.ErrorAs(t, err, &inErr)
}

func TestOneStepDrugsTakeEffect(t *testing.T) {
	p := newTestPatient(t, Config{})
	var bis, co, mapOut, tol float64
	var err error
	for i := 0; i < 600; i++ {
		bis, co, mapOut, tol, err = p.OneStep(0.2, 0.4, 0, StepOptions{})
		require.NoError(t, err)
	}
	assert.Less(t, bis, 60.0)
	assert.Greater(t, tol, 0.1)
	assert.Less(t, mapOut, 90.0)
	assert.Less(t, co, 6.5)
	assert.Equal(t, float64(600), p.Time())
	assert.Equal(t, 601, p.Trajectory().Len())
}

func TestSamplingTimeInvariance(t *testing.T) {
	fine := newTestPatient(t, Config{Ts: 1})
	coarse := newTestPatient(t, Config{Ts: 5})

	var bisF, mapF, coF float64
	for i := 0; i < 300; i++ {
		var err error
		bisF, coF, mapF, _, err = fine.OneStep(0.15, 0.3, 0.05, StepOptions{})
		require.NoError(t, err)
	}
	var bisC, mapC, coC float64
	for i := 0; i < 60; i++ {
		var err error
		bisC, coC, mapC, _, err = coarse.OneStep(0.15, 0.3, 0.05, StepOptions{})
		require.NoError(t, err)
	}

	assert.InDelta(t, bisF, bisC, 0.1)
	assert.InDelta(t, mapF, mapC, 0.1)
	assert.InDelta(t, coF, coC, 0.1)
}

func TestDeterministicWithoutNoise(t *testing.T) {
	a := newTestPatient(t, Config{Seed: 7})
	b := newTestPatient(t, Config{Seed: 7})
	for i := 0; i < 120; i++ {
		bisA, coA, mapA, tolA, err := a.OneStep(0.1, 0.2, 0, StepOptions{})
		require.NoError(t, err)
		bisB, coB, mapB, tolB, err := b.OneStep(0.1, 0.2, 0, StepOptions{})
		require.NoError(t, err)
		require.Equal(t, bisA, bisB)
		require.Equal(t, coA, coB)
		require.Equal(t, mapA, mapB)
		require.Equal(t, tolA, tolB)
	}
}

func TestNoisePerturbsAndClipsBIS(t *testing.T) {
	quiet := newTestPatient(t, Config{Seed: 3})
	noisy := newTestPatient(t, Config{Seed: 3})

	differs := false
	for i := 0; i < 200; i++ {
		bisQ, _, _, _, err := quiet.OneStep(0, 0, 0, StepOptions{})
		require.NoError(t, err)
		bisN, _, _, _, err := noisy.OneStep(0, 0, 0, StepOptions{Noise: true})
		require.NoError(t, err)
		require.GreaterOrEqual(t, bisN, 0.0)
		require.LessOrEqual(t, bisN, 100.0)
		if bisQ != bisN {
			differs = true
		}
	}
	assert.True(t, differs)
}

func TestDisturbanceAddsToOutputs(t *testing.T) {
	base := newTestPatient(t, Config{})
	bumped := newTestPatient(t, Config{})

	bis0, co0, map0, _, err := base.OneStep(0, 0, 0, StepOptions{})
	require.NoError(t, err)
	bis1, co1, map1, _, err := bumped.OneStep(0, 0, 0, StepOptions{Disturbance: [3]float64{10, 5, 0.3}})
	require.NoError(t, err)

	assert.InDelta(t, bis0+10, bis1, 1e-9)
	assert.InDelta(t, map0+5, map1, 1e-9)
	assert.InDelta(t, co0+0.3, co1, 1e-9)
}

func TestBloodLossMonotone(t *testing.T) {
	bleeding := newTestPatient(t, Config{})
	intact := newTestPatient(t, Config{})

	for i := 0; i < 600; i++ {
		_, _, _, _, err := bleeding.OneStep(0.1, 0.2, 0, StepOptions{BloodRate: -200})
		require.NoError(t, err)
		_, _, _, _, err = intact.OneStep(0.1, 0.2, 0, StepOptions{})
		require.NoError(t, err)
	}

	assert.Less(t, bleeding.BloodVolume(), intact.BloodVolume())
	// Less volume concentrates the drug and depresses the circulation.
	assert.Greater(t, bleeding.PropofolPK().PlasmaConcentration(), intact.PropofolPK().PlasmaConcentration())
	_, coB, mapB, _ := bleeding.Outputs()
	_, coI, mapI, _ := intact.Outputs()
	assert.Less(t, mapB, mapI)
	assert.Less(t, coB, coI)
}

func TestFullSimValidation(t *testing.T) {
	p := newTestPatient(t, Config{})
	_, err := p.FullSim(nil, nil, nil, nil)
	var inErr *simerr.InvalidInputError
	require.ErrorAs(t, err, &inErr)

	_, err = p.FullSim(make([]float64, 10), make([]float64, 9), nil, nil)
	require.ErrorAs(t, err, &inErr)
}

func TestFullSimMatchesStepPath(t *testing.T) {
	const n = 120
	uPropo := make([]float64, n)
	uRemi := make([]float64, n)
	for i := range uPropo {
		uPropo[i] = 0.15
		uRemi[i] = 0.25
	}

	batch := newTestPatient(t, Config{})
	traj, err := batch.FullSim(uPropo, uRemi, nil, nil)
	require.NoError(t, err)
	require.Equal(t, n+1, traj.Len())

	stepper := newTestPatient(t, Config{})
	for i := 0; i < n; i++ {
		_, _, _, _, err := stepper.OneStep(uPropo[i], uRemi[i], 0, StepOptions{})
		require.NoError(t, err)
	}
	stepped := stepper.Trajectory()
	require.Equal(t, traj.Len(), stepped.Len())

	for i := 0; i < traj.Len(); i++ {
		require.InDelta(t, stepped.Rows()[i].BIS, traj.Rows()[i].BIS, 0.1, "row %d", i)
		require.InDelta(t, stepped.Rows()[i].MAP, traj.Rows()[i].MAP, 0.1, "row %d", i)
		require.InDelta(t, stepped.Rows()[i].CO, traj.Rows()[i].CO, 0.1, "row %d", i)
	}

	// The batch path must not move the committed state.
	assert.Equal(t, 0.0, batch.PropofolPK().PlasmaConcentration())
	assert.Equal(t, float64(0), batch.Time())
}

func TestFullSimLeavesHemoUntouched(t *testing.T) {
	p := newTestPatient(t, Config{})
	u := make([]float64, 60)
	for i := range u {
		u[i] = 0.3
	}
	_, err := p.FullSim(u, nil, nil, nil)
	require.NoError(t, err)

	_, co, mapOut, _ := p.Outputs()
	assert.InDelta(t, 6.5, co, 1e-9)
	assert.InDelta(t, 90, mapOut, 1e-9)
}

func TestSimpleHemoModelRuns(t *testing.T) {
	p := newTestPatient(t, Config{HemoModel: HemoSimple})
	var mapOut, co float64
	for i := 0; i < 900; i++ {
		var err error
		_, co, mapOut, _, err = p.OneStep(0.2, 0.3, 0, StepOptions{})
		require.NoError(t, err)
	}
	assert.Less(t, mapOut, 90.0)
	assert.Less(t, co, 6.5)
	assert.Greater(t, mapOut, 0.0)
}

func TestInitializeAtGivenInputIsSteady(t *testing.T) {
	p := newTestPatient(t, Config{})
	require.NoError(t, p.InitializeAtGivenInput(0.12, 0.2, 0.01))

	bis0, co0, map0, tol0 := p.Outputs()
	for i := 0; i < 120; i++ {
		_, _, _, _, err := p.OneStep(0.12, 0.2, 0.01, StepOptions{})
		require.NoError(t, err)
	}
	bis1, co1, map1, tol1 := p.Outputs()
	assert.InDelta(t, bis0, bis1, 0.1)
	assert.InDelta(t, tol0, tol1, 0.01)
	assert.InDelta(t, map0, map1, 0.5)
	assert.InDelta(t, co0, co1, 0.1)
}

func TestInitializeAtGivenConcentration(t *testing.T) {
	p := newTestPatient(t, Config{})
	require.NoError(t, p.InitializeAtGivenConcentration(3, 4, 0))

	assert.InDelta(t, 3, p.PropofolPK().EffectSiteConcentration(), 1e-12)
	assert.InDelta(t, 4, p.RemifentanilPK().PlasmaConcentration(), 1e-12)
	bis, _, _, _ := p.Outputs()
	assert.InDelta(t, p.BISModel().Compute(3, 4), bis, 1e-12)
	require.Equal(t, 1, p.Trajectory().Len())
}

func TestInitializeRejectsNegative(t *testing.T) {
	p := newTestPatient(t, Config{})
	var inErr *simerr.InvalidInputError
	require.True(t, errors.As(p.InitializeAtGivenInput(-1, 0, 0), &inErr))
	require.True(t, errors.As(p.InitializeAtGivenConcentration(0, -2, 0), &inErr))
}

func TestRandomizedPatientReproducible(t *testing.T) {
	a := newTestPatient(t, Config{RandomPK: true, RandomPD: true, Seed: 42})
	b := newTestPatient(t, Config{RandomPK: true, RandomPD: true, Seed: 42})
	c := newTestPatient(t, Config{RandomPK: true, RandomPD: true, Seed: 43})

	for i := 0; i < 200; i++ {
		bisA, _, mapA, _, err := a.OneStep(0.2, 0.3, 0, StepOptions{})
		require.NoError(t, err)
		bisB, _, mapB, _, err := b.OneStep(0.2, 0.3, 0, StepOptions{})
		require.NoError(t, err)
		require.Equal(t, bisA, bisB)
		require.Equal(t, mapA, mapB)
	}
	bisC, _, _, _, err := c.OneStep(0.2, 0.3, 0, StepOptions{})
	require.NoError(t, err)
	bisA, _, _, _, err := a.OneStep(0.2, 0.3, 0, StepOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, bisA, bisC)
}

func TestCOUpdateChangesKinetics(t *testing.T) {
	coupled := newTestPatient(t, Config{COUpdate: true})
	plain := newTestPatient(t, Config{})

	for i := 0; i < 900; i++ {
		_, _, _, _, err := coupled.OneStep(0.3, 0.3, 0, StepOptions{})
		require.NoError(t, err)
		_, _, _, _, err = plain.OneStep(0.3, 0.3, 0, StepOptions{})
		require.NoError(t, err)
	}
	cCoupled := coupled.PropofolPK().PlasmaConcentration()
	cPlain := plain.PropofolPK().PlasmaConcentration()
	assert.False(t, math.Abs(cCoupled-cPlain) < 1e-9,
		"cardiac-output coupling should shift the concentrations")
}
