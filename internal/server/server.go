// Package server exposes the Astral HTTP surface: the session WebSocket,
// health probes, and the Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/astralforge/astral/internal/game"
	"github.com/astralforge/astral/internal/health"
	"github.com/astralforge/astral/internal/observe"
	"github.com/astralforge/astral/internal/orchestrator"
	"github.com/astralforge/astral/internal/pipeline"
	"github.com/astralforge/astral/internal/session"
	"github.com/astralforge/astral/pkg/audio"
	"github.com/astralforge/astral/pkg/provider/llm"
	"github.com/astralforge/astral/pkg/provider/sound"
	"github.com/astralforge/astral/pkg/provider/tts"
)

// voicesFile is the per-campaign voice registry file name.
const voicesFile = "voice-registry.json"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// validCampaign restricts campaign names to directory-safe identifiers.
var validCampaign = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ -]*$`)

// Config assembles the server's listen settings and shared collaborators.
// LLM, TTS, and Sound may be nil when the corresponding credential is absent;
// sessions then run with that capability disabled.
type Config struct {
	Addr     string
	CertFile string
	KeyFile  string

	// CampaignsDir is the root under which each campaign directory lives.
	CampaignsDir string

	ModelName     string
	MaxTokens     int
	MaxToolRounds int

	LLM   llm.Provider
	TTS   tts.Provider
	Sound sound.Provider

	// Cache is the shared audio artifact cache. Required.
	Cache *audio.Cache

	// MaxConcurrentAudio bounds in-flight generator calls per session.
	MaxConcurrentAudio int64

	Log     *slog.Logger
	Metrics *observe.Metrics
}

// Server is the Astral HTTP server. Create with [New]; serve with
// [Server.Run] or mount [Server.Handler] directly in tests.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	router  *mux.Router
}

// New creates a server and builds its routes.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg, log: log, metrics: metrics}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	health.New(s.checkers()...).Register(r)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/session/{campaign}", s.handleSession).Methods(http.MethodGet)

	s.router = r
}

func (s *Server) checkers() []health.Checker {
	return []health.Checker{
		{Name: "campaigns", Check: func(context.Context) error {
			info, err := os.Stat(s.cfg.CampaignsDir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", s.cfg.CampaignsDir)
			}
			return nil
		}},
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully. Session
// contexts derive from ctx, so cancellation also ends live WebSocket
// sessions.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		s.log.Info("server listening", "addr", s.cfg.Addr, "tls", s.cfg.CertFile != "")
		var err error
		if s.cfg.CertFile != "" {
			err = srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// handleSession upgrades the connection and runs one session controller over
// it. Each connection gets its own store, orchestrator, and generators; the
// artifact cache is the only cross-session shared resource.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	campaign := mux.Vars(r)["campaign"]
	if campaign == ".." || !validCampaign.MatchString(campaign) {
		http.Error(w, "invalid campaign name", http.StatusBadRequest)
		return
	}
	dir := filepath.Join(s.cfg.CampaignsDir, campaign)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		http.Error(w, "campaign not found", http.StatusNotFound)
		return
	}

	store, err := game.NewStore(dir)
	if err != nil {
		s.log.Error("campaign store unavailable", "campaign", campaign, "error", err)
		http.Error(w, "campaign state unavailable", http.StatusInternalServerError)
		return
	}
	registry, err := audio.LoadRegistry(filepath.Join(dir, voicesFile))
	if err != nil {
		s.log.Error("voice registry unreadable", "campaign", campaign, "error", err)
		http.Error(w, "voice registry unreadable", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "campaign", campaign, "error", err)
		return
	}

	opts := []orchestrator.Option{}
	if s.cfg.MaxToolRounds > 0 {
		opts = append(opts, orchestrator.WithMaxToolRounds(s.cfg.MaxToolRounds))
	}
	ctrl := session.NewController(session.Config{
		Campaign:  campaign,
		Transport: newWSTransport(conn),
		Orchestrator: orchestrator.New(
			s.cfg.LLM,
			game.NewHandler(store, s.log),
			s.cfg.ModelName,
			s.cfg.MaxTokens,
			s.log,
			s.metrics,
			opts...,
		),
		Generators: pipeline.NewGenerators(
			s.cfg.TTS, s.cfg.Sound, registry, s.cfg.Cache,
			s.log, s.metrics, s.cfg.MaxConcurrentAudio,
		),
		Store:   store,
		Opening: session.NewOpeningCache(dir),
		Log:     s.log,
		Metrics: s.metrics,
	})

	if err := ctrl.Run(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("session ended with error", "campaign", campaign, "error", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "session ended")
}
