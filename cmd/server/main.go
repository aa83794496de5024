package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/psysense/voice-coach/internal/analysis"
	"github.com/psysense/voice-coach/internal/config"
	"github.com/psysense/voice-coach/internal/gateway"
	"github.com/psysense/voice-coach/internal/gemini"
	"github.com/psysense/voice-coach/internal/knowledge"
	"github.com/psysense/voice-coach/internal/observability"
	"github.com/psysense/voice-coach/internal/profile"
)

const healthPollInterval = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_health_port", cfg.GRPCHealthPort).
		Str("profile_store", cfg.ProfileStore).
		Bool("qdrant", cfg.QdrantURL != "").
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice coach gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := profile.NewStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create profile store")
	}
	defer store.Close()

	cred := gemini.EnvCredential(cfg.GeminiAPIKey)
	helpers, err := gemini.HelpersFromConfig(ctx, cfg, cred, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Gemini helpers")
	}

	checks := map[string]observability.HealthCheckFunc{
		"profile_store": func(ctx context.Context) (bool, error) {
			if err := store.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}

	retrieval := knowledge.Options{
		Embedder:   helpers,
		Researcher: helpers,
		Threshold:  cfg.KnowledgeMatchThreshold,
		Logger:     observability.ForComponent("knowledge"),
	}
	if cfg.QdrantURL != "" {
		index, err := knowledge.NewQdrantIndex(knowledge.QdrantConfig{
			URL:            cfg.QdrantURL,
			CollectionName: cfg.QdrantCollection,
			APIKey:         cfg.QdrantAPIKey,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Qdrant client")
		}
		defer index.Close()
		retrieval.Index = index
		checks["qdrant"] = func(ctx context.Context) (bool, error) {
			if err := index.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	gw := gateway.NewServer(gateway.Options{
		Config:    cfg,
		Dialers:   gemini.DialerFactory(cred, helpers.Models(), logger),
		Helpers:   helpers,
		Knowledge: knowledge.New(retrieval),
		Analyzer:  analysis.New(helpers, observability.ForComponent("analysis")),
		Store:     store,
	})

	mux := http.NewServeMux()
	gw.Routes(mux)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Websocket sessions are long lived, so only headers are bounded
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer, err := serveGRPCHealth(ctx, cfg.GRPCHealthPort, checks, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start gRPC health server")
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// serveGRPCHealth exposes the readiness checks over the standard gRPC health
// protocol, refreshing the serving status on an interval
func serveGRPCHealth(ctx context.Context, port string, checks map[string]observability.HealthCheckFunc, logger zerolog.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", port, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if _, ok := observability.CheckDependencies(checkCtx, checks); !ok {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		healthServer.SetServingStatus("", status)
	}
	update()

	go func() {
		ticker := time.NewTicker(healthPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				healthServer.Shutdown()
				return
			case <-ticker.C:
				update()
			}
		}
	}()

	go func() {
		logger.Info().Str("port", port).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC health server stopped")
		}
	}()
	return grpcServer, nil
}
