// Package cmd provides the fprior command-line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/lucasmaystre/fprior/config"
	"github.com/spf13/cobra"
)

var (
	configPath string

	// Set by the root command before any subcommand runs.
	runConfig *config.Config
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fprior",
	Short: "Fit GP priors and evaluate prior cross-entropy terms",
	Long: `fprior pretrains Gaussian Process priors by marginal-likelihood
optimization and computes the prior cross-entropy term of a functional ELBO,
either analytically under a GP prior or with a spectral Stein gradient
estimate from prior particles.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	l, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	runConfig = cfg
	logger = l.With(slog.String("run_id", uuid.NewString()))
	return nil
}

func Execute() error {
	return rootCmd.Execute()
}
