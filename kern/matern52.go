package kern

import (
	"math"
)

var (
	matern52 *Matern52
	_        Kernel = matern52 // Check that Matern52 respects the Kernel interface.
)

var sqrt5 = math.Sqrt(5)

type Matern52 struct {
	variance float64
	lscale   float64
}

func NewMatern52(variance, lscale float64) *Matern52 {
	return &Matern52{
		variance: variance,
		lscale:   lscale,
	}
}

func (k *Matern52) Variance() float64 {
	return k.variance
}

func (k *Matern52) Lengthscale() float64 {
	return k.lscale
}

func (k *Matern52) Cov(x1, x2 []float64) float64 {
	s := sqrt5 * dist(x1, x2) / k.lscale
	return k.variance * (1 + s + s*s/3) * math.Exp(-s)
}

func (k *Matern52) CovDHyper(x1, x2, deriv []float64) float64 {
	s := sqrt5 * dist(x1, x2) / k.lscale
	e := math.Exp(-s)
	cov := k.variance * (1 + s + s*s/3) * e
	deriv[0] = cov
	// dk/ds = -v s (1 + s) e / 3 and ds/dlog(l) = -s.
	deriv[1] = k.variance * s * s * (1 + s) * e / 3
	return cov
}

func (k *Matern52) NumHyper() int {
	return 2
}

func (k *Matern52) Hyper() []float64 {
	return []float64{math.Log(k.variance), math.Log(k.lscale)}
}

func (k *Matern52) SetHyper(theta []float64) {
	k.variance = math.Exp(theta[0])
	k.lscale = math.Exp(theta[1])
}

func (k *Matern52) HyperNames() []string {
	return []string{"variance", "lengthscale"}
}

func (k *Matern52) Clone() Kernel {
	c := *k
	return &c
}
