package kern

import (
	"math"
)

var (
	rbf *RBF
	_   Kernel = rbf // Check that RBF respects the Kernel interface.
)

// RBF is the squared-exponential kernel
// :math:`v \exp(-\|\mathbf{x} - \mathbf{x}'\|^2 / 2\ell^2)`.
type RBF struct {
	variance float64
	lscale   float64
}

func NewRBF(variance, lscale float64) *RBF {
	return &RBF{
		variance: variance,
		lscale:   lscale,
	}
}

func (k *RBF) Lengthscale() float64 {
	return k.lscale
}

func (k *RBF) Cov(x1, x2 []float64) float64 {
	d := dist(x1, x2) / k.lscale
	return k.variance * math.Exp(-d*d/2)
}

func (k *RBF) CovDHyper(x1, x2, deriv []float64) float64 {
	d := dist(x1, x2) / k.lscale
	cov := k.variance * math.Exp(-d*d/2)
	deriv[0] = cov
	deriv[1] = cov * d * d
	return cov
}

// Grad writes the gradient of k(x1, x2) with respect to x1 into dst.
func (k *RBF) Grad(dst, x1, x2 []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(x1))
	}
	cov := k.Cov(x1, x2)
	l2 := k.lscale * k.lscale
	for i := range x1 {
		dst[i] = -cov * (x1[i] - x2[i]) / l2
	}
	return dst
}

func (k *RBF) NumHyper() int {
	return 2
}

func (k *RBF) Hyper() []float64 {
	return []float64{math.Log(k.variance), math.Log(k.lscale)}
}

func (k *RBF) SetHyper(theta []float64) {
	k.variance = math.Exp(theta[0])
	k.lscale = math.Exp(theta[1])
}

func (k *RBF) HyperNames() []string {
	return []string{"variance", "lengthscale"}
}

func (k *RBF) Clone() Kernel {
	c := *k
	return &c
}
