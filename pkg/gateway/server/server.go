package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/scholar-lite/pkg/core/live"
	"github.com/vango-go/scholar-lite/pkg/core/search"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
	"github.com/vango-go/scholar-lite/pkg/gateway/handlers"
	"github.com/vango-go/scholar-lite/pkg/gateway/lifecycle"
	"github.com/vango-go/scholar-lite/pkg/gateway/live/sessions"
	"github.com/vango-go/scholar-lite/pkg/gateway/mw"
)

// Deps are the provider capabilities the gateway serves. Any of them may be
// nil; the matching routes then fail with an api_error instead of panicking.
type Deps struct {
	Generator   solve.Generator
	Synthesizer speech.Synthesizer
	Searcher    search.Searcher
	Connector   live.Connector
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	solver    solve.Solver
	speech    *speech.Cache
	searcher  search.Service
	connector live.Connector

	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		solver: solve.Solver{
			Generator: deps.Generator,
			Models:    cfg.Profile.SolveModels(),
		},
		searcher:     search.Service{Searcher: deps.Searcher},
		connector:    deps.Connector,
		lifecycle:    lifecycle.New(),
		liveSessions: sessions.NewTracker(),
	}
	if deps.Synthesizer != nil {
		s.speech = speech.NewCache(deps.Synthesizer, cfg.SpeechCacheTTL)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:       s.cfg,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})
	s.mux.Handle("/v1/models", handlers.ModelsHandler{Config: s.cfg})

	s.mux.Handle("/v1/solve", handlers.SolveHandler{
		Config: s.cfg,
		Solver: s.solver,
		Logger: s.logger,
	})
	speechHandler := handlers.SpeechHandler{Config: s.cfg, Logger: s.logger}
	if s.speech != nil {
		speechHandler.Synth = s.speech
	}
	s.mux.Handle("/v1/speech", speechHandler)
	s.mux.Handle("/v1/search", handlers.SearchHandler{
		Config:   s.cfg,
		Searcher: s.searcher,
		Logger:   s.logger,
	})
	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Connector:    s.connector,
		Logger:       s.logger,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})

	ui := handlers.UIHandler{
		Config:   s.cfg,
		Solver:   s.solver,
		Searcher: s.searcher,
		Logger:   s.logger,
	}
	s.mux.Handle("/ui/", ui)
	s.mux.Handle("/", ui)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes /readyz report 503 and refuses new live sessions.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) WarnLiveSessionsDraining() int {
	return s.liveSessions.WarnAll("draining", "gateway is shutting down; finish the current turn")
}

// WaitLiveSessions blocks until all live sessions end or ctx is done.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.liveSessions.CancelAll()
}

func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}
