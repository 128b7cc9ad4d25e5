// Package config содержит логику чтения конфигурации кассового сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/gestock-pos/internal/model"
	"github.com/mmeshcher/gestock-pos/internal/pricing"
)

// Config содержит параметры конфигурации кассового сервиса.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	BackofficeAddress  string        `env:"BACKOFFICE_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	DirectSaleClientID int64         `env:"DIRECT_SALE_CLIENT_ID"`
	TaxRates           string        `env:"TAX_RATES"`
	DefaultTaxRateID   int64         `env:"DEFAULT_TAX_RATE_ID"`
	SessionSecret      string        `env:"SESSION_SECRET"`
	LogLevel           string        `env:"LOG_LEVEL"`
	BackofficeTimeout  time.Duration `env:"BACKOFFICE_TIMEOUT"`
	WorkflowTTL        time.Duration `env:"WORKFLOW_TTL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Непустые переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	fromEnv := Config{}
	if err := env.Parse(&fromEnv); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.BackofficeAddress, "b", "localhost:8000", "back office API address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for the submission journal")
	flag.Int64Var(&cfg.DirectSaleClientID, "c", 3, "back office client id used for direct sales")
	flag.StringVar(&cfg.TaxRates, "t", "1=18,2=10,3=5.5", "tax rate table, id=percent pairs")
	flag.Int64Var(&cfg.DefaultTaxRateID, "x", 1, "tax rate id selected for new carts")
	flag.StringVar(&cfg.SessionSecret, "s", "", "secret for signing workflow cookies")
	flag.StringVar(&cfg.LogLevel, "l", "info", "log level")
	flag.DurationVar(&cfg.BackofficeTimeout, "timeout", 10*time.Second, "back office request timeout")
	flag.DurationVar(&cfg.WorkflowTTL, "ttl", 12*time.Hour, "idle workflow lifetime, 0 disables cleanup")

	flag.Parse()

	if fromEnv.RunAddress != "" {
		cfg.RunAddress = fromEnv.RunAddress
	}
	if fromEnv.BackofficeAddress != "" {
		cfg.BackofficeAddress = fromEnv.BackofficeAddress
	}
	if fromEnv.DatabaseURI != "" {
		cfg.DatabaseURI = fromEnv.DatabaseURI
	}
	if fromEnv.DirectSaleClientID != 0 {
		cfg.DirectSaleClientID = fromEnv.DirectSaleClientID
	}
	if fromEnv.TaxRates != "" {
		cfg.TaxRates = fromEnv.TaxRates
	}
	if fromEnv.DefaultTaxRateID != 0 {
		cfg.DefaultTaxRateID = fromEnv.DefaultTaxRateID
	}
	if fromEnv.SessionSecret != "" {
		cfg.SessionSecret = fromEnv.SessionSecret
	}
	if fromEnv.LogLevel != "" {
		cfg.LogLevel = fromEnv.LogLevel
	}
	if fromEnv.BackofficeTimeout != 0 {
		cfg.BackofficeTimeout = fromEnv.BackofficeTimeout
	}
	if fromEnv.WorkflowTTL != 0 {
		cfg.WorkflowTTL = fromEnv.WorkflowTTL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.DirectSaleClientID <= 0 {
		return nil, fmt.Errorf("direct sale client id must be positive, got %d", cfg.DirectSaleClientID)
	}

	return cfg, nil
}

// TaxRateTable разбирает таблицу ставок налога.
func (c *Config) TaxRateTable() ([]model.TaxRate, error) {
	return pricing.ParseTaxRates(c.TaxRates)
}
