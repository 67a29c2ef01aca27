package kern

import (
	"math"
)

var (
	matern12 *Matern12
	_        Kernel = matern12 // Check that Matern12 respects the Kernel interface.
)

// Matern12 is the exponential kernel.
type Matern12 struct {
	variance float64
	lscale   float64
}

func NewMatern12(variance, lscale float64) *Matern12 {
	return &Matern12{
		variance: variance,
		lscale:   lscale,
	}
}

func (k *Matern12) Cov(x1, x2 []float64) float64 {
	return k.variance * math.Exp(-dist(x1, x2)/k.lscale)
}

func (k *Matern12) CovDHyper(x1, x2, deriv []float64) float64 {
	s := dist(x1, x2) / k.lscale
	cov := k.variance * math.Exp(-s)
	deriv[0] = cov
	deriv[1] = cov * s
	return cov
}

func (k *Matern12) NumHyper() int {
	return 2
}

func (k *Matern12) Hyper() []float64 {
	return []float64{math.Log(k.variance), math.Log(k.lscale)}
}

func (k *Matern12) SetHyper(theta []float64) {
	k.variance = math.Exp(theta[0])
	k.lscale = math.Exp(theta[1])
}

func (k *Matern12) HyperNames() []string {
	return []string{"variance", "lengthscale"}
}

func (k *Matern12) Clone() Kernel {
	c := *k
	return &c
}
