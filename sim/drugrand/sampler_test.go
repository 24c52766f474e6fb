package drugrand

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicCollapsesToMean(t *testing.T) {
	var d Deterministic
	assert.Equal(t, 1.0, d.LogNormal(0.5))
	assert.Equal(t, 0.0, d.Normal(3))
	assert.Equal(t, []float64{1, 2}, d.MultivariateNormal([]float64{1, 2}, nil))
	out := d.MultivariateLogNormal([]float64{0, 0}, nil)
	assert.Equal(t, []float64{1, 1}, out)
}

func TestStreamsReproducible(t *testing.T) {
	a := NewStreams(42).For(SubsystemBIS)
	b := NewStreams(42).For(SubsystemBIS)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Normal(1), b.Normal(1))
	}
}

func TestStreamsIndependentAcrossSubsystems(t *testing.T) {
	s := NewStreams(42)
	a := s.For(SubsystemPKPropofol)
	b := s.For(SubsystemPKRemifentanil)
	assert.NotEqual(t, a.Normal(1), b.Normal(1))

	// Same name returns the cached stream, not a reset one.
	assert.Same(t, s.For(SubsystemBIS), s.For(SubsystemBIS))
}

func TestLogNormalZeroSpreadIsUnity(t *testing.T) {
	s := NewStreams(1).For(SubsystemTOL)
	assert.Equal(t, 1.0, s.LogNormal(0))
	assert.Equal(t, 0.0, s.Normal(0))
}

func TestMultivariateNormalShape(t *testing.T) {
	s := NewStreams(7).For(SubsystemHemodynamic)
	cov := [][]float64{
		{0.0328, -0.0244, 0},
		{-0.0244, 0.0528, -0.0233},
		{0, -0.0233, 0.0242},
	}
	draw := s.MultivariateNormal([]float64{0, 0, 0}, cov)
	require.Len(t, draw, 3)
	for _, v := range draw {
		assert.False(t, math.IsNaN(v))
	}
}

func TestSpreadFromCV(t *testing.T) {
	assert.Equal(t, 0.0, SpreadFromCV(0))
	assert.InDelta(t, math.Sqrt(math.Log(1.04)), SpreadFromCV(0.2), 1e-12)
}
