package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fxnlabs/gemmcheck/internal/verify"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Server struct {
		ListenAddress string `yaml:"listenAddress"`
		// Auth requires signed requests on /gemm and /scenarios.
		Auth struct {
			Enabled          bool          `yaml:"enabled"`
			AllowedAddresses []string      `yaml:"allowedAddresses"`
			NonceTTL         time.Duration `yaml:"nonceTTL"`
			CleanupInterval  time.Duration `yaml:"cleanupInterval"`
		} `yaml:"auth"`
	} `yaml:"server"`
	Backend struct {
		Name string `yaml:"name"`
	} `yaml:"backend"`
	Executor struct {
		Kernel string `yaml:"kernel"`
		Digits int    `yaml:"digits"`
	} `yaml:"executor"`
	Suite struct {
		ScenariosPath string `yaml:"scenariosPath"`
	} `yaml:"suite"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logger.Verbosity == "" {
		c.Logger.Verbosity = "info"
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "json"
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.Auth.NonceTTL == 0 {
		c.Server.Auth.NonceTTL = 5 * time.Minute
	}
	if c.Server.Auth.CleanupInterval == 0 {
		c.Server.Auth.CleanupInterval = time.Minute
	}
	if c.Backend.Name == "" {
		c.Backend.Name = "cpu"
	}
	if c.Executor.Kernel == "" {
		c.Executor.Kernel = "sgemm"
	}
	if c.Executor.Digits == 0 {
		c.Executor.Digits = 4
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	config.applyDefaults()
	if err := verify.ValidateDigits(config.Executor.Digits); err != nil {
		return nil, fmt.Errorf("executor.digits: %w", err)
	}

	return &config, nil
}
