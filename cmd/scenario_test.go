package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anesthesia-sim/anesthesia-sim/sim/pk"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

const sampleScenario = `
patient:
  age: 52
  height: 168
  weight: 81
  sex: male
  co_base: 6.0
models:
  propofol: Eleveld
  bis: Eleveld
simulation:
  sampling_time: 2
  duration: 1800
  seed: 7
  noise: true
  disturbance: realistic
infusions:
  propofol:
    - {start: 0, rate: 0.5}
    - {start: 120, rate: 0.15}
blood:
  - {start: 600, end: 900, rate: -150}
tci:
  remifentanil: {target: 4, target_site: effect_site}
maintenance:
  bis_target: 50
  tol_target: 0.9
  map_target: 75
unknown_field: ignored
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	scn, err := LoadScenario(writeScenario(t, sampleScenario))
	require.NoError(t, err)

	assert.Equal(t, 52.0, scn.Patient.Age)
	assert.Equal(t, "male", scn.Patient.Sex)
	assert.Equal(t, "Eleveld", scn.Models.Propofol)
	assert.Equal(t, 1800.0, scn.Simulation.Duration)
	assert.True(t, scn.Simulation.Noise)
	assert.Len(t, scn.Infusions["propofol"], 2)
	assert.Equal(t, 4.0, scn.TCI["remifentanil"].Target)
	require.NotNil(t, scn.Maintenance)
	assert.Equal(t, 50.0, scn.Maintenance.BISTarget)

	cfg, err := scn.patientConfig()
	require.NoError(t, err)
	assert.Equal(t, pk.Male, cfg.Demographics.Sex)
	assert.Equal(t, "Eleveld", cfg.ModelPropofol)
	assert.Equal(t, 2.0, cfg.Ts)
	assert.Equal(t, int64(7), cfg.Seed)
}

func TestLoadScenarioRejectsBadFiles(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadScenario(writeScenario(t, "patient: [not, a, map]"))
	assert.Error(t, err)
}

func TestScenarioValidation(t *testing.T) {
	var cfgErr *simerr.ConfigurationError

	scn := &ScenarioConfig{Infusions: map[string][]Segment{"ketamine": {{Rate: 1}}}}
	require.ErrorAs(t, scn.Validate(), &cfgErr)

	scn = &ScenarioConfig{Infusions: map[string][]Segment{
		"propofol": {{Start: 100, Rate: 1}, {Start: 0, Rate: 2}},
	}}
	require.ErrorAs(t, scn.Validate(), &cfgErr)

	scn = &ScenarioConfig{Infusions: map[string][]Segment{
		"propofol": {{Start: 0, Rate: -1}},
	}}
	require.ErrorAs(t, scn.Validate(), &cfgErr)

	scn = &ScenarioConfig{TCI: map[string]TCIBlock{"norepinephrine": {Target: 1}}}
	require.ErrorAs(t, scn.Validate(), &cfgErr)

	scn = &ScenarioConfig{
		Infusions: map[string][]Segment{"propofol": {{Rate: 0.1}}},
		TCI:       map[string]TCIBlock{"propofol": {Target: 3}},
	}
	require.ErrorAs(t, scn.Validate(), &cfgErr)

	scn = &ScenarioConfig{TCI: map[string]TCIBlock{"remifentanil": {BISTarget: 50}}}
	require.ErrorAs(t, scn.Validate(), &cfgErr)

	scn = &ScenarioConfig{Blood: []BloodWindow{{Start: 100, End: 100, Rate: -50}}}
	require.ErrorAs(t, scn.Validate(), &cfgErr)
}

func TestRateAt(t *testing.T) {
	segments := []Segment{{Start: 0, Rate: 0.5}, {Start: 120, Rate: 0.15}}
	assert.Equal(t, 0.5, rateAt(segments, 0))
	assert.Equal(t, 0.5, rateAt(segments, 119))
	assert.Equal(t, 0.15, rateAt(segments, 120))
	assert.Equal(t, 0.15, rateAt(segments, 1e6))
	assert.Equal(t, 0.0, rateAt(nil, 10))
}

func TestBloodRateAt(t *testing.T) {
	windows := []BloodWindow{{Start: 600, End: 900, Rate: -150}}
	assert.Equal(t, 0.0, bloodRateAt(windows, 599))
	assert.Equal(t, -150.0, bloodRateAt(windows, 600))
	assert.Equal(t, -150.0, bloodRateAt(windows, 899))
	assert.Equal(t, 0.0, bloodRateAt(windows, 900))
}

func TestFlagScenarioDefaults(t *testing.T) {
	scn := flagScenario()
	require.NoError(t, scn.Validate())

	cfg, err := scn.patientConfig()
	require.NoError(t, err)
	assert.Equal(t, 35.0, cfg.Demographics.Age)
	assert.Equal(t, pk.Female, cfg.Demographics.Sex)
	assert.Empty(t, scn.TCI)
	assert.Empty(t, scn.Blood)
}

func TestSexFromString(t *testing.T) {
	s, err := sexFromString("")
	require.NoError(t, err)
	assert.Equal(t, pk.Female, s)

	_, err = sexFromString("other")
	assert.Error(t, err)
}
