// Command astral is the main entry point for the Astral game-master server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/astralforge/astral/internal/config"
	"github.com/astralforge/astral/internal/observe"
	"github.com/astralforge/astral/internal/server"
	"github.com/astralforge/astral/pkg/audio"
	"github.com/astralforge/astral/pkg/provider/llm"
	"github.com/astralforge/astral/pkg/provider/llm/anthropic"
	"github.com/astralforge/astral/pkg/provider/sound"
	soundel "github.com/astralforge/astral/pkg/provider/sound/elevenlabs"
	"github.com/astralforge/astral/pkg/provider/tts"
	"github.com/astralforge/astral/pkg/provider/tts/elevenlabs"
)

// Credential environment variables. A missing credential disables the
// corresponding capability; it never prevents startup.
const (
	envAnthropicKey  = "ANTHROPIC_API_KEY"
	envElevenLabsKey = "ELEVENLABS_API_KEY"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "astral.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "astral: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "astral: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Slog(),
	}))
	slog.SetDefault(logger)

	slog.Info("astral starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"campaigns_dir", cfg.Campaigns.Dir,
		"model", cfg.Model.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Providers from environment credentials ───────────────────────────────
	var llmProvider llm.Provider
	if key := os.Getenv(envAnthropicKey); key != "" {
		p, err := anthropic.New(key)
		if err != nil {
			slog.Error("failed to create model provider", "err", err)
			return 1
		}
		llmProvider = p
		slog.Info("model provider configured", "model", cfg.Model.Name)
	} else {
		slog.Warn("no model credential found; narration is disabled", "env", envAnthropicKey)
	}

	var ttsProvider tts.Provider
	var soundProvider sound.Provider
	if key := os.Getenv(envElevenLabsKey); key != "" {
		tp, err := elevenlabs.New(key, elevenlabs.WithModel(cfg.TTS.Model))
		if err != nil {
			slog.Error("failed to create tts provider", "err", err)
			return 1
		}
		sp, err := soundel.New(key)
		if err != nil {
			slog.Error("failed to create sound provider", "err", err)
			return 1
		}
		ttsProvider = tp
		soundProvider = sp
		slog.Info("audio providers configured", "tts_model", cfg.TTS.Model)
	} else {
		slog.Warn("no speech credential found; audio generation is disabled", "env", envElevenLabsKey)
	}

	// ── Shared artifact cache ─────────────────────────────────────────────────
	cache, err := audio.NewCache(cfg.Audio.CacheDir)
	if err != nil {
		slog.Error("failed to open artifact cache", "dir", cfg.Audio.CacheDir, "err", err)
		return 1
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := server.New(server.Config{
		Addr:               cfg.Server.ListenAddr,
		CertFile:           tlsCert(cfg),
		KeyFile:            tlsKey(cfg),
		CampaignsDir:       cfg.Campaigns.Dir,
		ModelName:          cfg.Model.Name,
		MaxTokens:          cfg.Model.MaxTokens,
		MaxToolRounds:      cfg.Model.MaxToolRounds,
		LLM:                llmProvider,
		TTS:                ttsProvider,
		Sound:              soundProvider,
		Cache:              cache,
		MaxConcurrentAudio: cfg.Audio.MaxConcurrent,
		Log:                logger,
		Metrics:            observe.DefaultMetrics(),
	})

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func tlsCert(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.CertFile
}

func tlsKey(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.KeyFile
}
