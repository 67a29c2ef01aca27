package cmd

import (
	"fmt"

	"github.com/lucasmaystre/fprior/dataset"
	"github.com/lucasmaystre/fprior/ssge"
	"github.com/lucasmaystre/fprior/xent"
	"github.com/spf13/cobra"
	G "gorgonia.org/gorgonia"
)

var (
	xentMethod     string
	xentData       string
	xentSamples    string
	xentPrior      string
	xentNParticles int
	xentJitter     float64
)

var xentCmd = &cobra.Command{
	Use:   "xent",
	Short: "Compute the prior cross-entropy of posterior samples",
	Long: `Compute the cross-entropy between posterior function samples and a prior.

Method gp fits a GP prior on --data and evaluates the samples (one row per
sample, one column per training input) under it. Method ssge estimates the
prior score from --prior particles tiled --n-particles times and evaluates
the surrogate at the samples (one row per point).

Examples:
  fprior xent --method gp --data train.csv --samples f.csv
  fprior xent --method ssge --prior particles.csv --samples f.csv --n-particles 3`,
	RunE: runXent,
}

func init() {
	xentCmd.Flags().StringVarP(&xentMethod, "method", "m", "", "gp or ssge (default from config)")
	xentCmd.Flags().StringVarP(&xentData, "data", "d", "", "training set CSV for the gp method")
	xentCmd.Flags().StringVarP(&xentSamples, "samples", "s", "", "posterior samples CSV")
	xentCmd.Flags().StringVarP(&xentPrior, "prior", "p", "", "prior particles CSV for the ssge method")
	xentCmd.Flags().IntVar(&xentNParticles, "n-particles", 0, "prior particle replication (default from config)")
	xentCmd.Flags().Float64Var(&xentJitter, "jitter", -1, "kernel diagonal jitter (default from config)")
	_ = xentCmd.MarkFlagRequired("samples")
	rootCmd.AddCommand(xentCmd)
}

func runXent(cmd *cobra.Command, args []string) error {
	method := runConfig.CrossEntropy.Method
	if xentMethod != "" {
		method = xentMethod
	}
	nParticles := runConfig.CrossEntropy.NParticles
	if xentNParticles > 0 {
		nParticles = xentNParticles
	}
	jitter := runConfig.CrossEntropy.Jitter
	if xentJitter >= 0 {
		jitter = xentJitter
	}

	samples, err := dataset.LoadTensor(xentSamples)
	if err != nil {
		return err
	}
	y, err := xent.Bind(G.NewGraph(), "samples", samples)
	if err != nil {
		return err
	}
	c := xent.Config{Method: method, Y: y, NParticles: nParticles}

	m, err := c.Resolve()
	if err != nil {
		return err
	}
	switch m.(type) {
	case xent.AnalyticalGP:
		if xentData == "" {
			return fmt.Errorf("method %q needs --data", method)
		}
		x, targets, err := dataset.LoadTrainingSet(xentData)
		if err != nil {
			return err
		}
		model, _, err := trainPrior(x, targets, -1, false, cmd)
		if err != nil {
			return err
		}
		c.X = x
		c.Kernel = model.KernelFunc()
	case xent.ScoreSurrogate:
		if xentPrior == "" {
			return fmt.Errorf("method %q needs --prior", method)
		}
		particles, err := dataset.LoadMatrix(xentPrior)
		if err != nil {
			return err
		}
		c.PriorParticles = dataset.TensorOf(particles)
		opts := append(runConfig.SSGE.Options(), ssge.WithLogger(logger))
		c.Estimator = ssge.New(opts...)
	}

	ce, err := xent.ComputeCrossEntropy(c, xent.WithJitter(jitter), xent.WithLogger(logger))
	if err != nil {
		return err
	}
	v, _, err := xent.Evaluate(ce)
	if err != nil {
		return err
	}
	logger.Info("cross-entropy computed", "method", method, "value", v)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.10g\n", v)
	return err
}
