package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, expands ${ENV} references
// against the process environment, and returns a validated [Config].
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
// Unknown fields are rejected, so typos fail loudly instead of silently
// falling back to defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Database.PoolSize == 0 {
		cfg.Database.PoolSize = 25
	}
	if cfg.Locks.Mode == "" {
		cfg.Locks.Mode = LockMemory
	}
	if cfg.API.KeyPrefix == "" {
		cfg.API.KeyPrefix = "vb_live_"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if cfg.Database.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("database.pool_size %d must not be negative", cfg.Database.PoolSize))
	}

	for _, v := range []struct {
		name  string
		entry ProviderEntry
	}{
		{"providers.vendor_a", cfg.Providers.VendorA},
		{"providers.vendor_b", cfg.Providers.VendorB},
	} {
		if v.entry.Faults < 0 || v.entry.Faults > 1 {
			errs = append(errs, fmt.Errorf("%s.faults %.2f is out of range [0, 1]", v.name, v.entry.Faults))
		}
		if v.entry.MinLatency > v.entry.MaxLatency {
			errs = append(errs, fmt.Errorf("%s.min_latency exceeds max_latency", v.name))
		}
	}

	if cfg.Orchestrator.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_attempts %d must not be negative", cfg.Orchestrator.MaxAttempts))
	}
	if cfg.Orchestrator.Multiplier < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.multiplier %.2f must not be negative", cfg.Orchestrator.Multiplier))
	}

	if !cfg.Locks.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("locks.mode %q is invalid; valid values: memory, postgres", cfg.Locks.Mode))
	}

	if cfg.Jobs.Workers < 0 {
		errs = append(errs, fmt.Errorf("jobs.workers %d must not be negative", cfg.Jobs.Workers))
	}

	return errors.Join(errs...)
}
