package numeric

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestDiscretizeScalarDecay(t *testing.T) {
	// dx/dt = -k x + u/v has the closed-form ZOH pair
	// Ad = exp(-k ts), Bd = (1 - exp(-k ts)) / (k v).
	k, v, ts := 0.3, 2.0, 5.0
	a := mat.NewDense(1, 1, []float64{-k})
	b := mat.NewDense(1, 1, []float64{1 / v})

	ad, bd := Discretize(a, b, ts)

	assert.InDelta(t, math.Exp(-k*ts), ad.At(0, 0), 1e-12)
	assert.InDelta(t, (1-math.Exp(-k*ts))/(k*v), bd.At(0, 0), 1e-12)
}

func TestDiscretizeDoubleIntegrator(t *testing.T) {
	ts := 0.7
	a := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	b := mat.NewDense(2, 1, []float64{0, 1})

	ad, bd := Discretize(a, b, ts)

	assert.InDelta(t, 1.0, ad.At(0, 0), 1e-12)
	assert.InDelta(t, ts, ad.At(0, 1), 1e-12)
	assert.InDelta(t, 0.0, ad.At(1, 0), 1e-12)
	assert.InDelta(t, 1.0, ad.At(1, 1), 1e-12)
	assert.InDelta(t, ts*ts/2, bd.At(0, 0), 1e-12)
	assert.InDelta(t, ts, bd.At(1, 0), 1e-12)
}

func TestSolveNewtonQuadratic(t *testing.T) {
	f := func(x, out []float64) {
		out[0] = x[0]*x[0] - 4
		out[1] = x[1] - x[0]
	}
	x, norm, err := SolveNewton(f, []float64{1, 1}, nil, 50, 1e-10)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, x[0], 1e-8)
	assert.InDelta(t, 2.0, x[1], 1e-8)
	assert.Less(t, norm, 1e-10)
}

func TestSolveNewtonPinnedRows(t *testing.T) {
	// Second residual is identically zero; without pinning the Jacobian
	// is singular.
	f := func(x, out []float64) {
		out[0] = x[0] - 3
		out[1] = 0
	}
	x0 := []float64{0, 7}
	x, _, err := SolveNewton(f, x0, []bool{false, true}, 50, 1e-10)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, x[0], 1e-8)
	assert.InDelta(t, 7.0, x[1], 1e-8)
}

func TestCubicRealRootsThreeReal(t *testing.T) {
	// (x-1)(x-2)(x-3) = x^3 - 6x^2 + 11x - 6
	roots := CubicRealRoots(-6, 11, -6)
	require.Len(t, roots, 3)
	sort.Float64s(roots)
	assert.InDelta(t, 1.0, roots[0], 1e-8)
	assert.InDelta(t, 2.0, roots[1], 1e-8)
	assert.InDelta(t, 3.0, roots[2], 1e-8)
}

func TestCubicRealRootsOneReal(t *testing.T) {
	// (x-1)(x^2+1) = x^3 - x^2 + x - 1
	roots := CubicRealRoots(-1, 1, -1)
	require.Len(t, roots, 1)
	assert.InDelta(t, 1.0, roots[0], 1e-8)
}

func TestBisect(t *testing.T) {
	root, err := Bisect(math.Cos, 0, 2, 1e-10, 200)
	require.NoError(t, err)
	assert.InDelta(t, math.Pi/2, root, 1e-8)

	_, err = Bisect(func(x float64) float64 { return x*x + 1 }, -1, 1, 1e-10, 100)
	assert.ErrorIs(t, err, ErrNoBracket)
}

func TestRK4ExponentialDecay(t *testing.T) {
	f := func(_ float64, x []float64) []float64 {
		return []float64{-x[0]}
	}
	x := RK4(f, []float64{1}, 0, 2.0, 200)
	assert.InDelta(t, math.Exp(-2), x[0], 1e-8)
}

func TestRK4TimeDependent(t *testing.T) {
	f := func(tt float64, _ []float64) []float64 {
		return []float64{math.Cos(tt)}
	}
	x := RK4(f, []float64{0}, 0, math.Pi/2, 100)
	assert.InDelta(t, 1.0, x[0], 1e-8)
}

func TestMinimizeBounded(t *testing.T) {
	f := func(x []float64) float64 {
		return (x[0]-1)*(x[0]-1) + (x[1]-2)*(x[1]-2)
	}
	x, val, err := MinimizeBounded(f, []float64{3, 3}, []float64{0, 0}, []float64{5, 5})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x[0], 1e-4)
	assert.InDelta(t, 2.0, x[1], 1e-4)
	assert.Less(t, val, 1e-7)
}
