package kern

import (
	"math"
)

var (
	matern32 *Matern32
	_        Kernel = matern32 // Check that Matern32 respects the Kernel interface.
)

type Matern32 struct {
	variance float64
	lscale   float64
}

func NewMatern32(variance, lscale float64) *Matern32 {
	return &Matern32{
		variance: variance,
		lscale:   lscale,
	}
}

func (k *Matern32) Cov(x1, x2 []float64) float64 {
	s := math.Sqrt(3) * dist(x1, x2) / k.lscale
	return k.variance * (1 + s) * math.Exp(-s)
}

func (k *Matern32) CovDHyper(x1, x2, deriv []float64) float64 {
	s := math.Sqrt(3) * dist(x1, x2) / k.lscale
	e := math.Exp(-s)
	cov := k.variance * (1 + s) * e
	deriv[0] = cov
	deriv[1] = k.variance * s * s * e
	return cov
}

func (k *Matern32) NumHyper() int {
	return 2
}

func (k *Matern32) Hyper() []float64 {
	return []float64{math.Log(k.variance), math.Log(k.lscale)}
}

func (k *Matern32) SetHyper(theta []float64) {
	k.variance = math.Exp(theta[0])
	k.lscale = math.Exp(theta[1])
}

func (k *Matern32) HyperNames() []string {
	return []string{"variance", "lengthscale"}
}

func (k *Matern32) Clone() Kernel {
	c := *k
	return &c
}
