// Package config loads service configuration: defaults, then an optional YAML
// file, then environment overrides. Commands apply their flags last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config aggregates the settings of every claimgraph binary.
type Config struct {
	// Store selects the graph backend: "memory" or "neo4j".
	Store   string        `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
	Neo4j   Neo4jConfig   `yaml:"neo4j"`
	NATS    NATSConfig    `yaml:"nats"`
	Import  ImportConfig  `yaml:"import"`
	Report  ReportConfig  `yaml:"report"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig governs the API listeners.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	MetricsPort     int           `yaml:"metrics_port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Neo4jConfig describes the Neo4j connection.
type Neo4jConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// NATSConfig enables the import consumer.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// ImportConfig tunes the import pipeline.
type ImportConfig struct {
	Workers          int     `yaml:"workers"`
	Rate             float64 `yaml:"rate"`
	Burst            int     `yaml:"burst"`
	StrictReferences bool    `yaml:"strict_references"`
}

// ReportConfig tunes the report engine.
type ReportConfig struct {
	Workers int `yaml:"workers"`
	// Dir holds extra YAML or JSON specs added to the catalog.
	Dir string `yaml:"dir"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"` // text|json
	IncludeCaller bool   `yaml:"include_caller"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: "memory",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			MetricsPort:     9100,
			CORSOrigin:      "*",
			ShutdownTimeout: 10 * time.Second,
		},
		Neo4j: Neo4jConfig{
			URL:  "neo4j://localhost:7687",
			User: "neo4j",
		},
		Import: ImportConfig{
			Workers: 8,
			Burst:   1,
		},
		Report: ReportConfig{Workers: 8},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Store = envOr("CLAIMGRAPH_STORE", c.Store)
	c.HTTP.Addr = envOr("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.GRPCAddr = envOr("GRPC_ADDR", c.HTTP.GRPCAddr)
	c.HTTP.CORSOrigin = envOr("CORS_ORIGIN", c.HTTP.CORSOrigin)
	c.Neo4j.URL = envOr("NEO4J_URL", c.Neo4j.URL)
	c.Neo4j.User = envOr("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Password = envOr("NEO4J_PASS", c.Neo4j.Password)
	c.Neo4j.Database = envOr("NEO4J_DATABASE", c.Neo4j.Database)
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)
	c.Report.Dir = envOr("REPORT_DIR", c.Report.Dir)
	c.Logging.Level = envOr("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envOr("LOG_FORMAT", c.Logging.Format)

	var errs []error
	c.HTTP.MetricsPort, errs = envInt("METRICS_PORT", c.HTTP.MetricsPort, errs)
	c.Import.Workers, errs = envInt("IMPORT_WORKERS", c.Import.Workers, errs)
	c.Import.Burst, errs = envInt("IMPORT_BURST", c.Import.Burst, errs)
	c.Report.Workers, errs = envInt("REPORT_WORKERS", c.Report.Workers, errs)
	if v := os.Getenv("IMPORT_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: invalid IMPORT_RATE %q: %w", v, err))
		}
		c.Import.Rate = f
	}
	if v := os.Getenv("IMPORT_STRICT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: invalid IMPORT_STRICT %q: %w", v, err))
		}
		c.Import.StrictReferences = b
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: invalid SHUTDOWN_TIMEOUT %q: %w", v, err))
		}
		c.HTTP.ShutdownTimeout = d
	}
	return errors.Join(errs...)
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Store) {
	case "memory", "neo4j":
	default:
		errs = append(errs, fmt.Errorf("config: unknown store %q", c.Store))
	}
	if c.HTTP.MetricsPort < 0 || c.HTTP.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("config: metrics port %d is out of range", c.HTTP.MetricsPort))
	}
	if c.Import.Workers <= 0 {
		errs = append(errs, fmt.Errorf("config: import workers must be positive, got %d", c.Import.Workers))
	}
	if c.Report.Workers <= 0 {
		errs = append(errs, fmt.Errorf("config: report workers must be positive, got %d", c.Report.Workers))
	}
	if c.Import.Rate < 0 {
		errs = append(errs, fmt.Errorf("config: import rate must not be negative, got %v", c.Import.Rate))
	}
	return errors.Join(errs...)
}

// EnvOr returns the environment variable key, or fallback when it is unset
// or empty.
func EnvOr(key, fallback string) string {
	return envOr(key, fallback)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs []error) (int, []error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, append(errs, fmt.Errorf("config: invalid %s %q: %w", key, v, err))
	}
	return n, errs
}
