package pd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

func TestTOLZeroAtZero(t *testing.T) {
	m, err := NewTOL(TOLConfig{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Compute(0, 0))
	assert.Equal(t, 0.0, m.Compute(-1e-12, 0))
}

func TestTOLBoundedAndMonotone(t *testing.T) {
	m, err := NewTOL(TOLConfig{Variant: "Bouillon"})
	require.NoError(t, err)

	prev := -1.0
	for cp := 0.0; cp <= 12; cp += 0.25 {
		tol := m.Compute(cp, 2)
		assert.GreaterOrEqual(t, tol, 0.0)
		assert.LessOrEqual(t, tol, 1.0)
		assert.GreaterOrEqual(t, tol, prev)
		prev = tol
	}

	// Remifentanil potentiates propofol: higher cr, higher TOL at fixed cp.
	prev = -1.0
	for cr := 0.0; cr <= 20; cr += 0.5 {
		tol := m.Compute(4, cr)
		assert.GreaterOrEqual(t, tol, prev)
		prev = tol
	}
}

func TestTOLUnknownVariant(t *testing.T) {
	var cfgErr *simerr.ConfigurationError
	_, err := NewTOL(TOLConfig{Variant: "Minto"})
	require.ErrorAs(t, err, &cfgErr)
}

func TestTOLDeepAnesthesia(t *testing.T) {
	m, err := NewTOL(TOLConfig{})
	require.NoError(t, err)
	assert.Greater(t, m.Compute(12, 8), 0.9)
}
