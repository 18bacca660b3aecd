package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills empty fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Campaigns.Dir == "" {
		cfg.Campaigns.Dir = "campaigns"
	}
	if cfg.Audio.CacheDir == "" {
		cfg.Audio.CacheDir = "audio-cache"
	}
	if cfg.Audio.MaxConcurrent == 0 {
		cfg.Audio.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = DefaultModelName
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = DefaultMaxTokens
	}
	if cfg.Model.MaxToolRounds == 0 {
		cfg.Model.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.TTS.Model == "" {
		cfg.TTS.Model = DefaultTTSModel
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}
	if cfg.Audio.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("audio.max_concurrent %d must not be negative", cfg.Audio.MaxConcurrent))
	}
	if cfg.Model.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("model.max_tokens %d must be positive", cfg.Model.MaxTokens))
	}
	if cfg.Model.MaxToolRounds < 1 {
		errs = append(errs, fmt.Errorf("model.max_tool_rounds %d must be positive", cfg.Model.MaxToolRounds))
	}

	return errors.Join(errs...)
}
