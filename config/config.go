// Package config loads the circulation settings from defaults, an optional
// YAML file, a .env file and LIBRARY_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"library-circulation/library"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Lending  LendingConfig  `yaml:"lending"`
	Admin    AdminConfig    `yaml:"admin"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type LendingConfig struct {
	LoanDays   int    `yaml:"loan_days" validate:"gt=0"`
	FinePerDay string `yaml:"fine_per_day" validate:"required"`
}

// AdminConfig is the administrator created on first start.
type AdminConfig struct {
	Username string `yaml:"username" validate:"required"`
	Email    string `yaml:"email" validate:"required,email"`
	Password string `yaml:"password" validate:"required,min=6"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "library.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Lending:  LendingConfig{LoanDays: 14, FinePerDay: "1.00"},
		Admin: AdminConfig{
			Username: "admin",
			Email:    "admin@library.local",
			Password: "admin123",
		},
	}
}

// Load builds the configuration. A missing YAML file or .env file is not an
// error; an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LIBRARY_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("LIBRARY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LIBRARY_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("LIBRARY_LOAN_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIBRARY_LOAN_DAYS: %w", err)
		}
		c.Lending.LoanDays = n
	}
	if v := os.Getenv("LIBRARY_FINE_PER_DAY"); v != "" {
		c.Lending.FinePerDay = v
	}
	if v := os.Getenv("LIBRARY_ADMIN_PASSWORD"); v != "" {
		c.Admin.Password = v
	}
	return nil
}

// Validate checks field constraints and that the fine rate is a non-negative decimal.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.FineRate(); err != nil {
		return err
	}
	return nil
}

// FineRate parses lending.fine_per_day.
func (c *Config) FineRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Lending.FinePerDay)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid config: fine_per_day %q: %w", c.Lending.FinePerDay, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid config: fine_per_day %s must not be negative", rate)
	}
	return rate, nil
}

// Policy converts the lending section into library rules.
func (c *Config) Policy() (library.Policy, error) {
	rate, err := c.FineRate()
	if err != nil {
		return library.Policy{}, err
	}
	return library.Policy{LoanDays: c.Lending.LoanDays, FinePerDay: rate}, nil
}

// AdminInput is the bootstrap administrator as a registration.
func (c *Config) AdminInput() library.UserInput {
	return library.UserInput{
		Username: c.Admin.Username,
		Email:    c.Admin.Email,
		Password: c.Admin.Password,
		FullName: "System Administrator",
		Role:     library.RoleAdmin,
	}
}
