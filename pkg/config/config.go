package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the loader configuration
type Config struct {
	Collectors   []string      `yaml:"collectors"`
	From         string        `yaml:"from"`
	Until        string        `yaml:"until"`
	Filter       string        `yaml:"filter"`
	RecordType   string        `yaml:"recordType"`
	Concurrency  int           `yaml:"concurrency"`
	BufferSize   int           `yaml:"bufferSize"`
	Precision    string        `yaml:"precision"`
	InclusiveEnd bool          `yaml:"inclusiveEnd"`
	FailFast     bool          `yaml:"failFast"`
	Source       SourceConfig  `yaml:"source"`
	Sink         SinkConfig    `yaml:"sink"`
	Status       StatusConfig  `yaml:"status"`
	Metrics      MetricsConfig `yaml:"metrics"`
	Log          LogConfig     `yaml:"log"`
}

// SourceConfig selects where updates are read from
type SourceConfig struct {
	Type        string        `yaml:"type"`
	Flight      FlightConfig  `yaml:"flight"`
	CSV         CSVConfig     `yaml:"csv"`
	OpenTimeout time.Duration `yaml:"openTimeout"`
	NextTimeout time.Duration `yaml:"nextTimeout"`
}

// FlightConfig represents the Arrow Flight collection service
type FlightConfig struct {
	Address string `yaml:"address"`
}

// CSVConfig points at a directory of previously dumped update files
type CSVConfig struct {
	Dir string `yaml:"dir"`
}

// SinkConfig selects where updates are written
type SinkConfig struct {
	Type     string `yaml:"type"`
	Dir      string `yaml:"dir"`
	Table    string `yaml:"table"`
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"maxConns"`
}

// StatusConfig represents the run ledger. An empty Redis address disables it.
type StatusConfig struct {
	RedisAddr string        `yaml:"redisAddr"`
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// MetricsConfig represents the metrics endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig represents the logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads the configuration from the specified file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills in unset values
func (c *Config) SetDefaults() {
	if c.RecordType == "" {
		c.RecordType = "updates"
	}
	if c.Concurrency == 0 {
		c.Concurrency = runtime.NumCPU()
	}
	if c.BufferSize == 0 {
		c.BufferSize = 100_000
	}
	if c.Precision == "" {
		c.Precision = "microsecond"
	}
	if c.Source.Type == "" {
		c.Source.Type = "flight"
	}
	if c.Source.Flight.Address == "" {
		c.Source.Flight.Address = "localhost:8815"
	}
	if c.Sink.Type == "" {
		c.Sink.Type = "csv"
	}
	if c.Sink.Dir == "" {
		c.Sink.Dir = "data"
	}
	if c.Sink.Table == "" {
		c.Sink.Table = "updates"
	}
	if c.Status.KeyPrefix == "" {
		c.Status.KeyPrefix = "bgpload:"
	}
	if c.Status.TTL == 0 {
		c.Status.TTL = 7 * 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the values that can be checked without the partitioner
func (c *Config) Validate() error {
	var errs []error
	if len(c.Collectors) == 0 {
		errs = append(errs, errors.New("at least one collector is required"))
	}
	if c.From == "" || c.Until == "" {
		errs = append(errs, errors.New("from and until are required"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.BufferSize < 1 {
		errs = append(errs, fmt.Errorf("bufferSize must be at least 1, got %d", c.BufferSize))
	}
	switch c.Precision {
	case "microsecond", "second":
	default:
		errs = append(errs, fmt.Errorf("unsupported precision: %s", c.Precision))
	}

	switch c.Source.Type {
	case "flight":
		if c.Source.Flight.Address == "" {
			errs = append(errs, errors.New("source.flight.address is required"))
		}
	case "csv":
		if c.Source.CSV.Dir == "" {
			errs = append(errs, errors.New("source.csv.dir is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported source type: %s", c.Source.Type))
	}

	switch c.Sink.Type {
	case "csv", "parquet", "arrow":
	case "table":
		if c.Sink.DSN == "" {
			errs = append(errs, errors.New("sink.dsn is required for the table sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported sink type: %s", c.Sink.Type))
	}

	return errors.Join(errs...)
}

// PrecisionDuration returns the gap between adjacent ranges
func (c *Config) PrecisionDuration() time.Duration {
	if c.Precision == "second" {
		return time.Second
	}
	return time.Microsecond
}

// ParseCollectors splits a comma separated collector list, trimming spaces and
// dropping empty entries
func ParseCollectors(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
