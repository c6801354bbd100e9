package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dental-receptionist/cmd/mainconfig"
	"github.com/wolfman30/dental-receptionist/internal/api/router"
	"github.com/wolfman30/dental-receptionist/internal/app/bootstrap"
	"github.com/wolfman30/dental-receptionist/internal/audit"
	appconfig "github.com/wolfman30/dental-receptionist/internal/config"
	"github.com/wolfman30/dental-receptionist/internal/conversation"
	"github.com/wolfman30/dental-receptionist/internal/observability/metrics"
	"github.com/wolfman30/dental-receptionist/internal/session"
	"github.com/wolfman30/dental-receptionist/internal/webchat"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dental receptionist API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, res, err := buildHandler(ctx, cfg, mainconfig.AWSLoader(ctx, cfg), logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer res.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// LLM completion plus synthesis can take most of a minute.
		WriteTimeout: cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "error", err)
		res.Close()
		os.Exit(1)
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics builds the registry served on /metrics and summarized on /api/stats.
func setupMetrics() (*prometheus.Registry, *metrics.ConversationMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	conversation.RegisterMetrics(reg)
	return reg, metrics.NewConversationMetrics(reg)
}

// buildHandler wires every component behind the HTTP router. The returned
// resources must be closed after the server stops.
func buildHandler(ctx context.Context, cfg *appconfig.Config, awsCfg func() (aws.Config, error), logger *logging.Logger) (http.Handler, *bootstrap.Resources, error) {
	res := &bootstrap.Resources{}
	fail := func(err error) (http.Handler, *bootstrap.Resources, error) {
		res.Close()
		return nil, nil, err
	}

	backend, err := bootstrap.BuildSessionBackend(ctx, cfg, awsCfg, res, logger)
	if err != nil {
		return fail(err)
	}
	store := session.NewStore(ctx, backend, logger)

	llm, model, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, res, logger)
	if err != nil {
		return fail(err)
	}
	audioStore, err := bootstrap.BuildAudioStore(cfg, awsCfg, logger)
	if err != nil {
		return fail(err)
	}
	synth, err := bootstrap.BuildSynthesizer(cfg, awsCfg, audioStore, logger)
	if err != nil {
		return fail(err)
	}
	transcriber, err := bootstrap.BuildTranscriber(ctx, cfg, res, logger)
	if err != nil {
		return fail(err)
	}

	profile := bootstrap.BuildProfile(cfg)
	notifier, err := bootstrap.BuildNotifier(cfg, awsCfg, profile, logger)
	if err != nil {
		return fail(err)
	}
	auditSvc := bootstrap.BuildAuditService(ctx, cfg, res, logger)

	reg, convMetrics := setupMetrics()
	orch := conversation.NewOrchestrator(conversation.Deps{
		LLM:         llm,
		Store:       store,
		Transcriber: transcriber,
		Synthesizer: synth,
		Notifier:    notifier,
		Audit:       auditSvc,
		Profile:     profile,
		Policy:      bootstrap.BuildPolicy(cfg, profile),
		Metrics:     convMetrics,
	}, bootstrap.OrchestratorOptions(cfg, model), logger)

	return router.New(&router.Config{
		Logger:              logger,
		ServiceName:         "SmileCare Dental Receptionist API",
		ConversationHandler: conversation.NewHandler(orch, audioStore, cfg.MaxUploadBytes, logger),
		SessionHandler:      session.NewHandler(store, logger),
		AuditHandler:        audit.NewHandler(auditSvc, logger),
		WebChatHandler:      webchat.NewHandler(orch, store, cfg.RateLimitRPS, cfg.RateLimitBurst, logger),
		StatsHandler:        metrics.StatsHandler(reg),
		MetricsHandler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitRPS:        cfg.RateLimitRPS,
		RateLimitBurst:      cfg.RateLimitBurst,
	}), res, nil
}
