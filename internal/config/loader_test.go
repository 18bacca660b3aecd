package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":9090"
  log_level: debug
campaigns:
  dir: /srv/astral/campaigns
audio:
  cache_dir: /var/cache/astral
  max_concurrent: 8
model:
  name: test-model
  max_tokens: 2048
  max_tool_rounds: 5
tts:
  model: eleven_turbo_v2
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Campaigns.Dir != "/srv/astral/campaigns" {
		t.Errorf("campaigns.dir = %q", cfg.Campaigns.Dir)
	}
	if cfg.Audio.MaxConcurrent != 8 || cfg.Audio.CacheDir != "/var/cache/astral" {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Model.Name != "test-model" || cfg.Model.MaxTokens != 2048 || cfg.Model.MaxToolRounds != 5 {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.TTS.Model != "eleven_turbo_v2" {
		t.Errorf("tts = %+v", cfg.TTS)
	}
}

func TestLoadFromReader_DefaultsForEmptyConfig(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Model.Name != DefaultModelName || cfg.Model.MaxTokens != DefaultMaxTokens || cfg.Model.MaxToolRounds != DefaultMaxToolRounds {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Audio.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("max_concurrent = %d", cfg.Audio.MaxConcurrent)
	}
	if cfg.TTS.Model != DefaultTTSModel {
		t.Errorf("tts.model = %q", cfg.TTS.Model)
	}
}

func TestLoadFromReader_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "server:\n  listen_address: ':80'\n",
			want: "decode yaml",
		},
		{
			name: "bad log level",
			yaml: "server:\n  log_level: verbose\n",
			want: "log_level",
		},
		{
			name: "tls without key",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: "key_file",
		},
		{
			name: "negative concurrency",
			yaml: "audio:\n  max_concurrent: -1\n",
			want: "max_concurrent",
		},
		{
			name: "negative tokens",
			yaml: "model:\n  max_tokens: -5\n",
			want: "max_tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "astral.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_addr: ':7000'\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestLogLevelSlog(t *testing.T) {
	t.Parallel()
	if LogDebug.Slog() >= LogInfo.Slog() || LogWarn.Slog() >= LogError.Slog() {
		t.Error("log levels are not ordered")
	}
	if LogLevel("").Slog() != LogInfo.Slog() {
		t.Error("empty level is not info")
	}
}
