package kern

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Kernel is a stationary covariance function over input vectors. Its
// hyperparameters are exposed in log space so that optimizers can work on an
// unconstrained vector.
type Kernel interface {
	// Covariance :math:`k(\mathbf{x}, \mathbf{x}')`.
	Cov(x1, x2 []float64) float64

	// Covariance and its partial derivatives with respect to the log
	// hyperparameters, written to deriv (length NumHyper).
	CovDHyper(x1, x2, deriv []float64) float64

	// Number of hyperparameters.
	NumHyper() int

	// Log hyperparameters, in the order given by HyperNames.
	Hyper() []float64

	// Set the log hyperparameters.
	SetHyper(theta []float64)

	HyperNames() []string

	// Independent copy of the kernel.
	Clone() Kernel
}

// Matrix evaluates the kernel over all pairs of rows of x.
func Matrix(k Kernel, x mat.Matrix) *mat.SymDense {
	n, _ := x.Dims()
	rows := rowsOf(x)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, k.Cov(rows[i], rows[j]))
		}
	}
	return out
}

// MatrixDHyper evaluates the kernel matrix over x together with one
// derivative matrix per log hyperparameter.
func MatrixDHyper(k Kernel, x mat.Matrix) (*mat.SymDense, []*mat.SymDense) {
	n, _ := x.Dims()
	rows := rowsOf(x)
	out := mat.NewSymDense(n, nil)
	derivs := make([]*mat.SymDense, k.NumHyper())
	for l := range derivs {
		derivs[l] = mat.NewSymDense(n, nil)
	}
	tmp := make([]float64, k.NumHyper())
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, k.CovDHyper(rows[i], rows[j], tmp))
			for l, d := range tmp {
				derivs[l].SetSym(i, j, d)
			}
		}
	}
	return out, derivs
}

// Cross evaluates the kernel between every row of x1 and every row of x2.
func Cross(k Kernel, x1, x2 mat.Matrix) *mat.Dense {
	r1, r2 := rowsOf(x1), rowsOf(x2)
	out := mat.NewDense(len(r1), len(r2), nil)
	for i, a := range r1 {
		for j, b := range r2 {
			out.Set(i, j, k.Cov(a, b))
		}
	}
	return out
}

func rowsOf(x mat.Matrix) [][]float64 {
	n, _ := x.Dims()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, x)
	}
	return rows
}

func dist(x1, x2 []float64) float64 {
	return floats.Distance(x1, x2, 2)
}
