package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/scholar-lite/internal/dotenv"
	"github.com/vango-go/scholar-lite/internal/logging"
	"github.com/vango-go/scholar-lite/pkg/core/providers/gemini"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
	gatewayserver "github.com/vango-go/scholar-lite/pkg/gateway/server"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	newProvider  func(context.Context, config.Config) (gatewayserver.Deps, error)
	newGateway   func(config.Config, *slog.Logger, gatewayserver.Deps) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:  config.LoadFromEnv,
		newProvider: newGeminiDeps,
		newGateway:  gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// newGeminiDeps backs every gateway capability with one Gemini client.
func newGeminiDeps(ctx context.Context, cfg config.Config) (gatewayserver.Deps, error) {
	p, err := gemini.New(ctx, gemini.Config{
		APIKey:   cfg.GeminiAPIKey,
		Project:  cfg.VertexProject,
		Location: cfg.VertexLocation,
	},
		gemini.WithSpeechModel(cfg.Profile.SpeechModel),
		gemini.WithVoice(cfg.Profile.SpeechVoice),
		gemini.WithSearchModel(cfg.Profile.SearchModel),
	)
	if err != nil {
		return gatewayserver.Deps{}, err
	}
	return gatewayserver.Deps{Generator: p, Synthesizer: p, Searcher: p, Connector: p}, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, cfg config.Config, logger *slog.Logger, deps gatewayDeps) error {
	if deps.newProvider == nil {
		return errors.New("missing newProvider dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	providers, err := deps.newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init provider: %w", err)
	}

	gw := deps.newGateway(cfg, logger, providers)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	backend := "gemini_api"
	if cfg.GeminiAPIKey == "" {
		backend = "vertex"
	}
	logger.Info("starting gateway", "addr", cfg.Addr, "backend", backend, "solve_model", cfg.Profile.SolveModel, "live_model", cfg.Profile.LiveModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context canceled; shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	warned := gw.WarnLiveSessionsDraining()
	logger.Info("draining", "live_sessions", warned)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if n := gw.LiveSessionCount(); n > 0 {
		logger.Info("waiting for live sessions", "live_sessions", n)
	}
	if !gw.WaitLiveSessions(waitCtx) {
		canceled := gw.CancelLiveSessions()
		logger.Warn("live sessions canceled after grace period", "live_sessions", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "scholar-gateway: %v\n", err)
		return 1
	}
	if deps.loadConfig == nil {
		fmt.Fprintln(stderr, "scholar-gateway: missing loadConfig dependency")
		return 1
	}
	cfg, err := deps.loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "scholar-gateway: load config: %v\n", err)
		return 1
	}

	logger, closer, err := logging.New(stderr, logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(stderr, "scholar-gateway: %v\n", err)
		return 1
	}
	defer closer.Close()

	if err := runGateway(ctx, cfg, logger, deps); err != nil {
		fmt.Fprintf(stderr, "scholar-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
