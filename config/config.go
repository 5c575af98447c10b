// Package config holds the YAML configuration of the alterant CLI.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/verran-io/alterant/passwd"
	"github.com/verran-io/alterant/purge"
	"github.com/verran-io/alterant/report"
)

var (
	ErrUnknownDriver = errors.New("unknown database driver")
	ErrMissingDSN    = errors.New("database dsn is not set")
)

const (
	DriverMysql  = "mysql"
	DriverSqlite = "sqlite"
)

type Config struct {
	Database Database       `yaml:"database"`
	Plan     string         `yaml:"plan"`
	Purge    []purge.Target `yaml:"purge"`
	Report   report.Config  `yaml:"report"`
	Passwd   passwd.Config  `yaml:"passwd"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Schema scopes MySQL catalog lookups; ignored for SQLite.
	Schema string `yaml:"schema"`
}

// ---

func Load(reader io.Reader) (*Config, error) {
	var cfg Config

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMysql
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

func (cfg *Config) validate() error {
	switch cfg.Database.Driver {
	case DriverMysql, DriverSqlite:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Database.Driver)
	}

	if cfg.Database.DSN == "" {
		return ErrMissingDSN
	}

	return nil
}
