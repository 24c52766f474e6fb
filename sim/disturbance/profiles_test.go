package disturbance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

func TestUnknownProfile(t *testing.T) {
	var cfgErr *simerr.ConfigurationError
	_, err := New("surgery", Options{})
	require.ErrorAs(t, err, &cfgErr)
}

func TestNullProfile(t *testing.T) {
	p, err := New(Null, Options{})
	require.NoError(t, err)
	assert.Equal(t, [3]float64{}, p.At(0))
	assert.Equal(t, [3]float64{}, p.At(1e6))
}

func TestRealisticProfile(t *testing.T) {
	p, err := New(Realistic, Options{})
	require.NoError(t, err)

	// Quiet before the laryngoscopy at minute 10.
	assert.Equal(t, [3]float64{}, p.At(0))
	assert.Equal(t, [3]float64{}, p.At(5 * 60))

	// Plateau between minutes 10 and 12.
	assert.Equal(t, [3]float64{20, 10, 0.6}, p.At(11 * 60))

	// Linear interpolation on the rising edge from 9.9 to 10 min.
	d := p.At(9.95 * 60)
	assert.InDelta(t, 10, d[0], 1e-9)
	assert.InDelta(t, 5, d[1], 1e-9)

	// Clamped past the table end.
	assert.Equal(t, [3]float64{}, p.At(2 * 3600))
}

func TestStepProfile(t *testing.T) {
	p, err := New(Step, Options{StartStep: 600, EndStep: 1200})
	require.NoError(t, err)

	assert.Equal(t, [3]float64{}, p.At(0))
	assert.Equal(t, [3]float64{10, 5, 0.3}, p.At(900))
	assert.Equal(t, [3]float64{}, p.At(1500))
}

func TestStepProfileValidation(t *testing.T) {
	var inErr *simerr.InvalidInputError
	_, err := New(Step, Options{StartStep: 600, EndStep: 600})
	require.ErrorAs(t, err, &inErr)
	_, err = New(Step, Options{StartStep: 600, EndStep: 300})
	require.ErrorAs(t, err, &inErr)
}

func TestTablesAreMonotone(t *testing.T) {
	for _, name := range []string{Realistic, Realistic2, LiverTransplantation, Simple} {
		p, err := New(name, Options{})
		require.NoError(t, err)
		for i := 1; i < len(p.points); i++ {
			assert.Greater(t, p.points[i][0], p.points[i-1][0], "%s point %d", name, i)
		}
	}
}
