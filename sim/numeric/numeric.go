// Package numeric provides the small numerical kernel shared by the PK and PD
// models: exact ZOH discretization, a damped Newton solver, cubic root
// finding, bisection, a fixed-step RK4 integrator, and a bounded minimizer.
// All routines are deterministic and allocation-light; none of them log.
package numeric

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

var (
	// ErrNoConvergence is returned when an iterative solver exhausts its
	// iteration budget above tolerance.
	ErrNoConvergence = errors.New("numeric: no convergence")

	// ErrNoBracket is returned when a bracketing method is handed an
	// interval without a sign change.
	ErrNoBracket = errors.New("numeric: no sign change in bracket")

	// ErrSingular is returned when a linear solve inside a solver fails.
	ErrSingular = errors.New("numeric: singular system")
)

// Discretize computes the exact zero-order-hold discretization of
// dx/dt = A x + B u at step ts through one matrix exponential of the
// augmented block matrix [A B; 0 0]*ts:
//
//	[Ad Bd]        [A B]
//	[ 0  I] = expm([0 0] * ts)
func Discretize(a mat.Matrix, b mat.Matrix, ts float64) (ad, bd *mat.Dense) {
	n, _ := a.Dims()
	_, m := b.Dims()
	aug := mat.NewDense(n+m, n+m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			aug.Set(i, j, a.At(i, j)*ts)
		}
		for j := 0; j < m; j++ {
			aug.Set(i, n+j, b.At(i, j)*ts)
		}
	}

	var e mat.Dense
	e.Exp(aug)

	ad = mat.NewDense(n, n, nil)
	bd = mat.NewDense(n, m, nil)
	ad.Copy(e.Slice(0, n, 0, n))
	bd.Copy(e.Slice(0, n, n, n+m))
	return ad, bd
}

// SolveNewton finds x with f(x) ~ 0 by damped Newton iterations. The Jacobian
// is estimated by central finite differences. pin marks residual rows that
// must be replaced with x[i]-x0[i]; this keeps the Jacobian nonsingular when
// a state has no dynamics at the current operating point.
func SolveNewton(f func(x, out []float64), x0 []float64, pin []bool, maxIter int, tol float64) ([]float64, float64, error) {
	n := len(x0)
	x := make([]float64, n)
	copy(x, x0)

	resid := func(dst, x []float64) {
		f(x, dst)
		for i := range dst {
			if pin != nil && pin[i] {
				dst[i] = x[i] - x0[i]
			}
		}
	}

	fx := make([]float64, n)
	trial := make([]float64, n)
	ftrial := make([]float64, n)
	jac := mat.NewDense(n, n, nil)

	resid(fx, x)
	norm := normInf(fx)
	for iter := 0; iter < maxIter; iter++ {
		if norm < tol {
			return x, norm, nil
		}

		fd.Jacobian(jac, resid, x, &fd.JacobianSettings{Formula: fd.Central})

		neg := make([]float64, n)
		for i, v := range fx {
			neg[i] = -v
		}
		var dx mat.VecDense
		if err := dx.SolveVec(jac, mat.NewVecDense(n, neg)); err != nil {
			return x, norm, ErrSingular
		}

		// Backtrack until the residual shrinks.
		step := 1.0
		for k := 0; k < 12; k++ {
			for i := 0; i < n; i++ {
				trial[i] = x[i] + step*dx.AtVec(i)
			}
			resid(ftrial, trial)
			if tn := normInf(ftrial); tn < norm && !math.IsNaN(tn) {
				copy(x, trial)
				copy(fx, ftrial)
				norm = tn
				break
			}
			step /= 2
			if k == 11 {
				return x, norm, ErrNoConvergence
			}
		}
	}
	if norm < tol {
		return x, norm, nil
	}
	return x, norm, ErrNoConvergence
}

// CubicRealRoots returns the real roots of x^3 + b x^2 + c x + d, found as
// the eigenvalues of the companion matrix.
func CubicRealRoots(b, c, d float64) []float64 {
	comp := mat.NewDense(3, 3, []float64{
		0, 0, -d,
		1, 0, -c,
		0, 1, -b,
	})
	var eig mat.Eigen
	if ok := eig.Factorize(comp, mat.EigenNone); !ok {
		return nil
	}

	var roots []float64
	for _, v := range eig.Values(nil) {
		if math.Abs(imag(v)) < 1e-8*(1+math.Abs(real(v))) {
			roots = append(roots, real(v))
		}
	}
	return roots
}

// Bisect finds a root of f on [lo, hi]. The interval must bracket a sign
// change.
func Bisect(f func(float64) float64, lo, hi, tol float64, maxIter int) (float64, error) {
	flo := f(lo)
	fhi := f(hi)
	if flo == 0 {
		return lo, nil
	}
	if fhi == 0 {
		return hi, nil
	}
	if flo*fhi > 0 {
		return 0, ErrNoBracket
	}
	for i := 0; i < maxIter; i++ {
		mid := 0.5 * (lo + hi)
		fm := f(mid)
		if fm == 0 || hi-lo < tol {
			return mid, nil
		}
		if flo*fm < 0 {
			hi = mid
		} else {
			lo, flo = mid, fm
		}
	}
	return 0.5 * (lo + hi), nil
}

// RK4 integrates dx/dt = f(t, x) from t0 over a window h using n equal
// substeps and returns the final state. f must not retain its arguments.
func RK4(f func(t float64, x []float64) []float64, x0 []float64, t0, h float64, n int) []float64 {
	if n < 1 {
		n = 1
	}
	dt := h / float64(n)
	x := make([]float64, len(x0))
	copy(x, x0)
	tmp := make([]float64, len(x0))

	for s := 0; s < n; s++ {
		t := t0 + float64(s)*dt
		k1 := f(t, x)
		axpy(tmp, x, k1, dt/2)
		k2 := f(t+dt/2, tmp)
		axpy(tmp, x, k2, dt/2)
		k3 := f(t+dt/2, tmp)
		axpy(tmp, x, k3, dt)
		k4 := f(t+dt, tmp)
		for i := range x {
			x[i] += dt / 6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
		}
	}
	return x
}

// MinimizeBounded minimizes f over the box [lo, hi]^n starting from x0,
// using BFGS on log-transformed coordinates so iterates stay inside the box.
// It returns the minimizer and the objective value there.
func MinimizeBounded(f func(x []float64) float64, x0, lo, hi []float64) ([]float64, float64, error) {
	n := len(x0)

	// Map the box onto R^n with a logistic transform.
	toUnbounded := func(x []float64) []float64 {
		z := make([]float64, n)
		for i := range x {
			frac := (x[i] - lo[i]) / (hi[i] - lo[i])
			frac = math.Min(1-1e-9, math.Max(1e-9, frac))
			z[i] = math.Log(frac / (1 - frac))
		}
		return z
	}
	toBounded := func(z []float64) []float64 {
		x := make([]float64, n)
		for i := range z {
			x[i] = lo[i] + (hi[i]-lo[i])/(1+math.Exp(-z[i]))
		}
		return x
	}

	obj := func(z []float64) float64 { return f(toBounded(z)) }
	problem := optimize.Problem{
		Func: obj,
		Grad: func(grad, z []float64) {
			fd.Gradient(grad, obj, z, nil)
		},
	}

	result, err := optimize.Minimize(problem, toUnbounded(x0), nil, &optimize.BFGS{})
	if result == nil {
		return nil, math.NaN(), err
	}
	x := toBounded(result.X)
	// A linesearch stall at a good point is still a usable answer; the
	// caller judges the residual.
	return x, f(x), nil
}

func normInf(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

func axpy(dst, x, k []float64, a float64) {
	for i := range x {
		dst[i] = x[i] + a*k[i]
	}
}
