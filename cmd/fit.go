package cmd

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/lucasmaystre/fprior/dataset"
	"github.com/lucasmaystre/fprior/gp"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

var (
	fitData    string
	fitMaxIter int
	fitVerbose bool
	fitJSON    bool
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Pretrain a GP prior on a training set",
	Long: `Fit a zero-mean Gaussian Process with a Matern-5/2 kernel to a CSV
training set whose last column holds the targets.

Examples:
  fprior fit --data train.csv
  fprior fit --data train.csv --max-iter 200 --verbose
  fprior fit --data train.csv --json`,
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVarP(&fitData, "data", "d", "", "training set CSV (last column is the target)")
	fitCmd.Flags().IntVarP(&fitMaxIter, "max-iter", "n", -1, "maximum optimizer iterations (default from config)")
	fitCmd.Flags().BoolVarP(&fitVerbose, "verbose", "v", false, "print the fitted hyperparameters")
	fitCmd.Flags().BoolVar(&fitJSON, "json", false, "print the result as JSON")
	_ = fitCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(fitCmd)
}

type fitResult struct {
	Hyperparameters map[string]float64 `json:"hyperparameters"`
	NoiseVariance   float64            `json:"noise_variance"`
	Loss            float64            `json:"loss"`
	Iterations      int                `json:"iterations"`
	Converged       bool               `json:"converged"`
	Status          string             `json:"status"`
}

func trainPrior(x mat.Matrix, y mat.Vector, maxIter int, verbose bool, cmd *cobra.Command) (*gp.Model, *gp.Diagnostics, error) {
	kernel, err := runConfig.Prior.NewKernel()
	if err != nil {
		return nil, nil, err
	}
	if maxIter < 0 {
		maxIter = runConfig.Prior.MaxIter
	}
	return gp.TrainPrior(x, y,
		gp.WithKernel(kernel),
		gp.WithNoiseVariance(runConfig.Prior.NoiseVariance),
		gp.WithMaxIter(maxIter),
		gp.WithVerbose(verbose),
		gp.WithOutput(cmd.OutOrStdout()),
		gp.WithLogger(logger),
	)
}

func runFit(cmd *cobra.Command, args []string) error {
	verbose := (fitVerbose || runConfig.Prior.Verbose) && !fitJSON
	x, y, err := dataset.LoadTrainingSet(fitData)
	if err != nil {
		return err
	}
	model, diag, err := trainPrior(x, y, fitMaxIter, verbose, cmd)
	if err != nil {
		return err
	}
	logger.Info("prior fitted",
		"loss", diag.Loss,
		"iterations", diag.Iterations,
		"converged", diag.Converged,
	)

	out := cmd.OutOrStdout()
	if fitJSON {
		res := fitResult{
			Hyperparameters: make(map[string]float64),
			NoiseVariance:   model.NoiseVariance(),
			Loss:            diag.Loss,
			Iterations:      diag.Iterations,
			Converged:       diag.Converged,
			Status:          diag.Status.String(),
		}
		k := model.Kernel()
		for i, name := range k.HyperNames() {
			res.Hyperparameters[name] = math.Exp(k.Hyper()[i])
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprintf(out, "loss: %.6g\niterations: %d\nconverged: %t\nstatus: %s\n",
		diag.Loss, diag.Iterations, diag.Converged, diag.Status)
	return err
}
