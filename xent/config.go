package xent

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config is the string-tagged form of a Method, as it appears in run
// configurations. Only the fields of the selected method are used.
type Config struct {
	// Selects AnalyticalGP if it contains "gp", otherwise ScoreSurrogate if
	// it contains "ssge".
	Method string

	X      mat.Matrix
	Y      *G.Node
	Kernel KernelFunc

	NParticles     int
	PriorParticles *tensor.Dense
	Estimator      Estimator
}

// Resolve returns the Method named by c.Method.
func (c Config) Resolve() (Method, error) {
	switch {
	case strings.Contains(c.Method, "gp"):
		return AnalyticalGP{X: c.X, Y: c.Y, Kernel: c.Kernel}, nil
	case strings.Contains(c.Method, "ssge"):
		return ScoreSurrogate{
			Y:              c.Y,
			NParticles:     c.NParticles,
			PriorParticles: c.PriorParticles,
			Estimator:      c.Estimator,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, c.Method)
}

// ComputeCrossEntropy resolves c and computes its cross-entropy.
func ComputeCrossEntropy(c Config, opts ...Option) (*G.Node, error) {
	m, err := c.Resolve()
	if err != nil {
		return nil, err
	}
	return CrossEntropy(m, opts...)
}
