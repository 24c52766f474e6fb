package pd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anesthesia-sim/anesthesia-sim/sim/drugrand"
	"github.com/anesthesia-sim/anesthesia-sim/sim/simerr"
)

func newBIS(t *testing.T, variant string) *BIS {
	t.Helper()
	b, err := NewBIS(BISConfig{Variant: variant, Age: 35})
	require.NoError(t, err)
	return b
}

func TestBISConfigErrors(t *testing.T) {
	var cfgErr *simerr.ConfigurationError
	_, err := NewBIS(BISConfig{Variant: "Schnider"})
	require.ErrorAs(t, err, &cfgErr)
	_, err = NewBIS(BISConfig{Variant: BISEleveld})
	require.ErrorAs(t, err, &cfgErr)
}

func TestBISBaselineAndDeepAnesthesia(t *testing.T) {
	for _, variant := range []string{BISBouillon, BISVanluchene, BISEleveld} {
		b := newBIS(t, variant)
		assert.GreaterOrEqual(t, b.Compute(0, 0), 90.0, variant)
	}
	assert.LessOrEqual(t, newBIS(t, BISBouillon).Compute(12, 8), 20.0)
}

func TestBISNegativeInputClamped(t *testing.T) {
	b := newBIS(t, BISBouillon)
	assert.Equal(t, b.Compute(0, 0), b.Compute(-1e-12, -1e-9))
}

func TestBISRoundTrip(t *testing.T) {
	for _, variant := range []string{BISBouillon, BISVanluchene, BISEleveld} {
		b := newBIS(t, variant)
		for cp := 0.5; cp <= 12; cp += 0.5 {
			for cr := 0.0; cr <= 20; cr += 4 {
				bis := b.Compute(cp, cr)
				got, err := b.Inverse(bis, cr)
				require.NoError(t, err, "%s cp=%g cr=%g", variant, cp, cr)
				assert.InDelta(t, cp, got, 1e-3, "%s cp=%g cr=%g", variant, cp, cr)
			}
		}
	}
}

func TestBISEleveldSlopeSwitchContinuous(t *testing.T) {
	b := newBIS(t, BISEleveld)
	c50 := b.Params().C50p
	below := b.Compute(c50*(1-1e-9), 0)
	above := b.Compute(c50*(1+1e-9), 0)
	assert.InDelta(t, below, above, 1e-6)
}

func TestBISInverseNoSolution(t *testing.T) {
	b := newBIS(t, BISBouillon)
	var noSol *simerr.NoSolutionError
	_, err := b.Inverse(b.Params().E0+1, 0)
	require.ErrorAs(t, err, &noSol)
	_, err = b.Inverse(b.Params().E0-b.Params().Emax-1, 0)
	require.ErrorAs(t, err, &noSol)
}

func TestBISBloodLossLowersC50p(t *testing.T) {
	b := newBIS(t, BISBouillon)
	init := b.Params().C50p
	b.UpdateForBloodLoss(0.8)
	lowered := b.Params().C50p
	assert.Less(t, lowered, init)
	assert.InDelta(t, init-3/0.5*0.2, lowered, 1e-12)

	// Always relative to the initial value, never compounding.
	b.UpdateForBloodLoss(1)
	assert.Equal(t, init, b.Params().C50p)
}

func TestBISCustomParams(t *testing.T) {
	custom := BISParams{C50p: 5, C50r: 20, Gamma: 2, Beta: 0.5, E0: 95, Emax: 95}
	b, err := NewBIS(BISConfig{Custom: &custom})
	require.NoError(t, err)
	assert.Equal(t, custom, b.Params())
}

func TestBISRandomizedE0Capped(t *testing.T) {
	for seed := int64(0); seed < 30; seed++ {
		b, err := NewBIS(BISConfig{
			Variant: BISVanluchene,
			Sampler: drugrand.NewStreams(seed).For(drugrand.SubsystemBIS),
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, b.Params().E0, 100.0)
	}
}
