// Package config holds the YAML configuration for the mvstore CLI tooling.
// The engine itself takes collaborators by handle and reads no files; config
// exists so the commands can share one source of defaults, with flags
// overriding file values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30m" or "1h30m" parse
// with time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Sweep configures the garbage-collection command.
type Sweep struct {
	// BatchSize caps rows removed per delete statement.
	BatchSize int `yaml:"batch_size"`

	// ReapAfter resolves transaction-log sessions open longer than this
	// before computing the horizon. Zero disables reaping.
	ReapAfter Duration `yaml:"reap_after"`
}

// Config is the root of the CLI configuration file.
type Config struct {
	// DB is the SQLite database path.
	DB string `yaml:"db"`

	Sweep Sweep `yaml:"sweep"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DB: "mvstore.db",
		Sweep: Sweep{
			BatchSize: 1000,
			ReapAfter: 0,
		},
	}
}

// Load reads a YAML config file over the defaults. Fields absent from the
// file keep their default values; unknown fields are rejected so typos fail
// loudly. An empty file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.DB == "" {
		return errors.New("config: db path must not be empty")
	}
	if c.Sweep.BatchSize < 0 {
		return fmt.Errorf("config: sweep batch_size must not be negative, got %d", c.Sweep.BatchSize)
	}
	if c.Sweep.ReapAfter < 0 {
		return fmt.Errorf("config: sweep reap_after must not be negative, got %s", c.Sweep.ReapAfter.Std())
	}
	return nil
}
