package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/onkernel/netshape/cmd/api/config"
	mw "github.com/onkernel/netshape/lib/middleware"
	"github.com/onkernel/netshape/lib/otel"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config early for OpenTelemetry initialization
	cfg := config.Load()

	otelProvider, otelShutdown, err := otel.Init(context.Background(), otel.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Insecure:          cfg.OtelInsecure,
		Version:           cfg.Version,
		Env:               cfg.Env,
	})
	if err != nil {
		// Run without telemetry rather than refuse to start
		slog.Warn("failed to initialize OpenTelemetry, continuing without telemetry", "error", err)
	}
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				slog.Warn("error shutting down OpenTelemetry", "error", err)
			}
		}()
	}

	var otelHandler slog.Handler
	if otelProvider != nil {
		otelHandler = otelProvider.LogHandler
	}

	app, cleanup, err := initializeApp(otelHandler)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := app.Logger

	if cfg.OtelEnabled {
		logger.Info("OpenTelemetry enabled", "endpoint", cfg.OtelEndpoint, "service", cfg.OtelServiceName)
	}
	if app.Config.JwtSecret == "" {
		logger.Warn("JWT_SECRET not configured - API authentication will fail")
	}

	var httpMetrics *mw.HTTPMetrics
	if otelProvider != nil && otelProvider.Meter != nil {
		if httpMetrics, err = mw.NewHTTPMetrics(otelProvider.MeterFor("netshape/http")); err != nil {
			logger.Warn("failed to create HTTP metrics", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", app.Config.Port),
		Handler:           newRouter(app, httpMetrics, mw.NewAccessLogger(otelHandler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info("starting netshape API", "port", app.Config.Port, "backend", app.ShaperBackend.Type())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Keep context values but drop the cancellation
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
			return err
		}
		logger.Info("http server shutdown complete")
		return nil
	})

	return grp.Wait()
}

// newRouter builds the HTTP handler. httpMetrics may be nil.
func newRouter(app *application, httpMetrics *mw.HTTPMetrics, accessLogger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", app.ApiService.GetHealth)

	r.Group(func(r chi.Router) {
		// Tracing first so the access log carries the span context
		if app.Config.OtelEnabled {
			r.Use(otelchi.Middleware(app.Config.OtelServiceName, otelchi.WithChiRoutes(r)))
		}
		r.Use(mw.InjectLogger(app.Logger))
		r.Use(mw.AccessLogger(accessLogger))
		if httpMetrics != nil {
			r.Use(httpMetrics.Middleware)
		}
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(mw.JwtAuth(app.Config.JwtSecret))

		app.ApiService.Routes(r)
	})

	return r
}
