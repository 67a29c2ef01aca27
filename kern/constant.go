package kern

import (
	"math"
)

var (
	constant *Constant
	_        Kernel = constant // Check that Constant respects the Kernel interface.
)

type Constant struct {
	variance float64
}

func NewConstant(variance float64) *Constant {
	return &Constant{
		variance: variance,
	}
}

func (k *Constant) Cov(x1, x2 []float64) float64 {
	return k.variance
}

func (k *Constant) CovDHyper(x1, x2, deriv []float64) float64 {
	deriv[0] = k.variance
	return k.variance
}

func (k *Constant) NumHyper() int {
	return 1
}

func (k *Constant) Hyper() []float64 {
	return []float64{math.Log(k.variance)}
}

func (k *Constant) SetHyper(theta []float64) {
	k.variance = math.Exp(theta[0])
}

func (k *Constant) HyperNames() []string {
	return []string{"variance"}
}

func (k *Constant) Clone() Kernel {
	c := *k
	return &c
}
