package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"go.pilab.hu/sociallink/config"
	"go.pilab.hu/sociallink/internal/federation"
	"go.pilab.hu/sociallink/internal/metrics"
	"go.pilab.hu/sociallink/internal/server"
	"go.pilab.hu/sociallink/linkstore"
	"go.pilab.hu/sociallink/log"
	"go.pilab.hu/sociallink/services"
	"go.pilab.hu/sociallink/tracing"
)

func main() {
	// Configuration first; nothing else is set up yet.
	cfg, err := config.Load(os.Getenv("SOCIALLINK_CONFIG_FILE"))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	appLogger, err := log.New(log.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("Invalid log level")
	}

	ctx := context.Background()
	appLogger.Info(ctx, "Starting sociallink server", log.Fields{
		"http_addr":       cfg.HTTPAddr,
		"base_url":        cfg.BaseURL,
		"storage_backend": cfg.Storage.Backend,
		"session_backend": cfg.Session.Backend,
		"providers":       len(cfg.Providers),
	})

	var tracerProvider *sdktrace.TracerProvider
	if cfg.Tracing.Enabled {
		tracerProvider, err = tracing.InitTracerProvider(tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Output:      os.Stdout,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
		}
		appLogger.Info(ctx, "TracerProvider initialized")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(reg)

	// --- Dependencies ---
	repos, err := server.OpenRepositories(ctx, cfg.Storage)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to open storage", err, log.Fields{"backend": cfg.Storage.Backend})
	}

	sessions, err := server.OpenSessionStore(ctx, cfg.Session)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to open session store", err, log.Fields{"backend": cfg.Session.Backend})
	}

	opts, err := cfg.LoginOptions()
	if err != nil {
		appLogger.Fatal(ctx, "Invalid social_login options", err)
	}
	service, err := services.NewSocialLoginService(opts, linkstore.New(repos.Accounts), repos.Users)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to create social login service", err)
	}

	providers, err := cfg.FederationProviders()
	if err != nil {
		appLogger.Fatal(ctx, "Failed to configure providers", err)
	}
	engine := federation.NewEngine(cfg.CallbackURL(), providers...)

	e := server.NewEcho(cfg, appLogger, server.Dependencies{
		Service:  service,
		Engine:   engine,
		Users:    repos.Users,
		Sessions: sessions,
		Gatherer: reg,
	})
	httpServer := server.NewHTTPServer(cfg, e)

	go func() {
		appLogger.Info(ctx, "HTTP server listening", log.Fields{"addr": cfg.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(ctx, "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	appLogger.Info(ctx, "Shutting down server", log.Fields{"signal": receivedSignal.String()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	if err := sessions.Close(); err != nil {
		appLogger.Error(shutdownCtx, "Session store shutdown error", err)
	}
	if err := repos.Close(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "Storage shutdown error", err)
	}
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
		}
	}

	appLogger.Info(shutdownCtx, "Server gracefully stopped")
}
