package kern

import (
	"fmt"
)

var (
	add *Add
	_   Kernel = add // Check that Add respects the Kernel interface.
)

// Add is the sum of several kernels. Hyperparameters are the concatenation of
// the parts' hyperparameters.
type Add struct {
	parts  []Kernel
	nHyper int
}

func NewAdd(first, second Kernel) *Add {
	parts := make([]Kernel, 0, 2)
	switch first := first.(type) {
	case *Add:
		parts = append(parts, first.parts...)
	default:
		parts = append(parts, first)
	}
	switch second := second.(type) {
	case *Add:
		parts = append(parts, second.parts...)
	default:
		parts = append(parts, second)
	}
	nHyper := 0
	for _, part := range parts {
		nHyper += part.NumHyper()
	}
	return &Add{
		parts:  parts,
		nHyper: nHyper,
	}
}

func (k *Add) Cov(x1, x2 []float64) float64 {
	cov := 0.0
	for _, part := range k.parts {
		cov += part.Cov(x1, x2)
	}
	return cov
}

func (k *Add) CovDHyper(x1, x2, deriv []float64) float64 {
	cov := 0.0
	offset := 0
	for _, part := range k.parts {
		n := part.NumHyper()
		cov += part.CovDHyper(x1, x2, deriv[offset:offset+n])
		offset += n
	}
	return cov
}

func (k *Add) NumHyper() int {
	return k.nHyper
}

func (k *Add) Hyper() []float64 {
	theta := make([]float64, 0, k.nHyper)
	for _, part := range k.parts {
		theta = append(theta, part.Hyper()...)
	}
	return theta
}

func (k *Add) SetHyper(theta []float64) {
	offset := 0
	for _, part := range k.parts {
		n := part.NumHyper()
		part.SetHyper(theta[offset : offset+n])
		offset += n
	}
}

func (k *Add) HyperNames() []string {
	names := make([]string, 0, k.nHyper)
	for i, part := range k.parts {
		for _, name := range part.HyperNames() {
			names = append(names, fmt.Sprintf("%d.%s", i, name))
		}
	}
	return names
}

func (k *Add) Clone() Kernel {
	parts := make([]Kernel, len(k.parts))
	for i, part := range k.parts {
		parts[i] = part.Clone()
	}
	return &Add{
		parts:  parts,
		nHyper: k.nHyper,
	}
}
