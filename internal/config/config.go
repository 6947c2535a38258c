// Package config defines the data structures related to configuration and
// includes functions for loading and parsing the config.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iwvelando/loan-amortization/internal/advisor"
	"github.com/iwvelando/loan-amortization/internal/store"
	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/logging"
	"github.com/iwvelando/loan-amortization/pkg/validation"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Configuration holds all configuration for loan-amortization.
type Configuration struct {
	Loan    Loan           `yaml:"loan"`
	Logging logging.Config `yaml:"logging,omitempty"`
	Output  OutputConfig   `yaml:"output,omitempty"`
	Storage store.Config   `yaml:"storage,omitempty"`
	Advisor advisor.Config `yaml:"advisor,omitempty"`
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format      string `yaml:"format,omitempty"` // pretty, csv
	RowsPerPage int    `yaml:"rowsPerPage,omitempty"`
}

// newViper returns a viper instance reading YAML with AMORTIZE_ environment
// overrides, e.g. AMORTIZE_LOAN_PRINCIPAL.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yml")
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("output.rowsPerPage", constants.DefaultRowsPerPage)
	v.SetDefault("storage.backend", constants.StorageBackendMemory)
	v.SetDefault("storage.sqlitePath", constants.DefaultSQLitePath)
	v.SetDefault("storage.redisAddr", constants.DefaultRedisAddr)
	v.SetDefault("advisor.endpoint", constants.DefaultAdvisorEndpoint)
	v.SetDefault("advisor.model", constants.DefaultAdvisorModel)
	v.SetDefault("advisor.apiKeyEnv", constants.DefaultAdvisorKeyEnv)
	v.SetDefault("advisor.maxTokens", constants.DefaultAdvisorMaxTokens)
	v.SetDefault("advisor.timeout", "30s")
	return v
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %w", err)
	}
	return decode(v)
}

// LoadConfigurationFromReader loads YAML configuration from r.
func LoadConfigurationFromReader(r io.Reader) (*Configuration, error) {
	v := newViper()
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config, %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Configuration, error) {
	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	return &configuration, nil
}

// ValidateConfiguration checks the loan and the output settings. It returns
// non-fatal warnings alongside an error combining every fatal problem.
func (c *Configuration) ValidateConfiguration(now time.Time) ([]string, error) {
	var err error

	if c.Output.Format != "" {
		err = multierr.Append(err, validation.ValidateOutputFormat(c.Output.Format))
	}

	cfg, convErr := c.Loan.ToLoanConfiguration(now)
	if convErr != nil {
		return nil, multierr.Append(err, convErr)
	}
	err = multierr.Append(err, validation.ValidateLoan(cfg))

	warnings := validation.Warnings(cfg)
	warnings = append(warnings, c.Loan.dateWarnings(cfg.StartDate)...)
	return warnings, err
}
