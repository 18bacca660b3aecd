// Package config provides the configuration schema and loader for the Astral
// server.
package config

import "log/slog"

// LogLevel controls log verbosity for the Astral server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the slog level scale. An empty level means info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [Load] for fields left empty.
const (
	DefaultListenAddr    = ":8080"
	DefaultModelName     = "claude-sonnet-4-5"
	DefaultMaxTokens     = 4096
	DefaultMaxToolRounds = 10
	DefaultTTSModel      = "eleven_multilingual_v2"
	DefaultMaxConcurrent = 4
)

// Config is the root configuration structure for Astral.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Campaigns CampaignsConfig `yaml:"campaigns"`
	Audio     AudioConfig     `yaml:"audio"`
	Model     ModelConfig     `yaml:"model"`
	TTS       TTSConfig       `yaml:"tts"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// CampaignsConfig locates the campaign state directories.
type CampaignsConfig struct {
	// Dir is the root directory; each campaign is a subdirectory holding its
	// JSON state files, voice registry, session log, and opening cache.
	Dir string `yaml:"dir"`
}

// AudioConfig holds settings for the audio artifact cache and generators.
type AudioConfig struct {
	// CacheDir is the shared on-disk artifact cache directory.
	CacheDir string `yaml:"cache_dir"`

	// MaxConcurrent bounds in-flight generator calls per session.
	MaxConcurrent int64 `yaml:"max_concurrent"`
}

// ModelConfig selects the DM model and its turn limits. The API key is read
// from the environment, never from this file.
type ModelConfig struct {
	// Name is the model identifier sent to the API.
	Name string `yaml:"name"`

	// MaxTokens caps the response length per model round.
	MaxTokens int `yaml:"max_tokens"`

	// MaxToolRounds bounds tool-use iterations within one turn.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// TTSConfig selects the speech synthesis model. The API key is read from the
// environment.
type TTSConfig struct {
	// Model is the TTS model identifier (e.g., "eleven_multilingual_v2").
	Model string `yaml:"model"`
}
