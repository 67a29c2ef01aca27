// Package config loads run configuration for prior pretraining and
// cross-entropy evaluation from YAML files and FPRIOR_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/lucasmaystre/fprior/kern"
	"github.com/lucasmaystre/fprior/ssge"
	"github.com/lucasmaystre/fprior/xent"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Prior        PriorConfig        `yaml:"prior"`
	CrossEntropy CrossEntropyConfig `yaml:"cross_entropy"`
	SSGE         SSGEConfig         `yaml:"ssge"`
	Log          LogConfig          `yaml:"log"`
}

type PriorConfig struct {
	MaxIter       int     `yaml:"max_iter"`
	Verbose       bool    `yaml:"verbose"`
	Kernel        string  `yaml:"kernel"`
	Variance      float64 `yaml:"variance"`
	Lengthscale   float64 `yaml:"lengthscale"`
	NoiseVariance float64 `yaml:"noise_variance"`
}

type CrossEntropyConfig struct {
	Method     string  `yaml:"method"`
	Jitter     float64 `yaml:"jitter"`
	NParticles int     `yaml:"n_particles"`
}

type SSGEConfig struct {
	NumEigen       int     `yaml:"num_eigen"`
	EigenThreshold float64 `yaml:"eigen_threshold"`
	Eta            float64 `yaml:"eta"`
	Bandwidth      float64 `yaml:"bandwidth"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Prior: PriorConfig{
			MaxIter:       100,
			Kernel:        "matern52",
			Variance:      1.0,
			Lengthscale:   1.0,
			NoiseVariance: 1.0,
		},
		CrossEntropy: CrossEntropyConfig{
			Method:     "gp",
			Jitter:     xent.DefaultJitter,
			NParticles: 1,
		},
		SSGE: SSGEConfig{
			EigenThreshold: ssge.DefaultEigenThreshold,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := loadYAMLFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnvironment(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func applyEnvironment(cfg *Config) error {
	if v := os.Getenv("FPRIOR_PRIOR_MAX_ITER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("FPRIOR_PRIOR_MAX_ITER", err)
		}
		cfg.Prior.MaxIter = n
	}
	if v := os.Getenv("FPRIOR_PRIOR_VERBOSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("FPRIOR_PRIOR_VERBOSE", err)
		}
		cfg.Prior.Verbose = b
	}
	if v := os.Getenv("FPRIOR_PRIOR_KERNEL"); v != "" {
		cfg.Prior.Kernel = v
	}
	if v := os.Getenv("FPRIOR_XENT_METHOD"); v != "" {
		cfg.CrossEntropy.Method = v
	}
	if v := os.Getenv("FPRIOR_XENT_JITTER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("FPRIOR_XENT_JITTER", err)
		}
		cfg.CrossEntropy.Jitter = f
	}
	if v := os.Getenv("FPRIOR_XENT_N_PARTICLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("FPRIOR_XENT_N_PARTICLES", err)
		}
		cfg.CrossEntropy.NParticles = n
	}
	if v := os.Getenv("FPRIOR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FPRIOR_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

func envError(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
}

func (c *Config) Validate() error {
	if c.Prior.MaxIter < 0 {
		return fmt.Errorf("%w: prior.max_iter must be non-negative", ErrInvalidConfig)
	}
	if c.Prior.Variance <= 0 || c.Prior.Lengthscale <= 0 || c.Prior.NoiseVariance <= 0 {
		return fmt.Errorf("%w: prior hyperparameters must be positive", ErrInvalidConfig)
	}
	if _, err := c.Prior.NewKernel(); err != nil {
		return err
	}
	if _, err := (xent.Config{Method: c.CrossEntropy.Method}).Resolve(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.CrossEntropy.Jitter < 0 {
		return fmt.Errorf("%w: cross_entropy.jitter must be non-negative", ErrInvalidConfig)
	}
	if c.CrossEntropy.NParticles < 1 {
		return fmt.Errorf("%w: cross_entropy.n_particles must be positive", ErrInvalidConfig)
	}
	if c.SSGE.NumEigen < 0 {
		return fmt.Errorf("%w: ssge.num_eigen must be non-negative", ErrInvalidConfig)
	}
	if c.SSGE.EigenThreshold <= 0 || c.SSGE.EigenThreshold > 1 {
		return fmt.Errorf("%w: ssge.eigen_threshold must be in (0, 1]", ErrInvalidConfig)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log.format must be text or json", ErrInvalidConfig)
	}
	return nil
}

// NewKernel builds the initial prior kernel. Kernel names joined by "+"
// build a sum, e.g. "matern52+constant". Every part starts from the
// configured variance and lengthscale.
func (c PriorConfig) NewKernel() (kern.Kernel, error) {
	var k kern.Kernel
	for _, name := range strings.Split(c.Kernel, "+") {
		part, err := c.newPart(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if k == nil {
			k = part
		} else {
			k = kern.NewAdd(k, part)
		}
	}
	return k, nil
}

func (c PriorConfig) newPart(name string) (kern.Kernel, error) {
	switch strings.ToLower(name) {
	case "matern52":
		return kern.NewMatern52(c.Variance, c.Lengthscale), nil
	case "matern32":
		return kern.NewMatern32(c.Variance, c.Lengthscale), nil
	case "matern12", "exponential":
		return kern.NewMatern12(c.Variance, c.Lengthscale), nil
	case "rbf":
		return kern.NewRBF(c.Variance, c.Lengthscale), nil
	case "constant":
		return kern.NewConstant(c.Variance), nil
	}
	return nil, fmt.Errorf("%w: unknown kernel %q", ErrInvalidConfig, name)
}

func (c SSGEConfig) Options() []ssge.Option {
	return []ssge.Option{
		ssge.WithNumEigen(c.NumEigen),
		ssge.WithEigenThreshold(c.EigenThreshold),
		ssge.WithEta(c.Eta),
		ssge.WithBandwidth(c.Bandwidth),
	}
}

func (c LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return level, fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	return level, nil
}

// NewLogger builds a structured logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
