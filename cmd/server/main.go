package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/audit"
	"fintrack/internal/platform/config"
	"fintrack/internal/platform/database"
	"fintrack/internal/platform/httpserver"
	"fintrack/internal/platform/logger"
	"fintrack/internal/platform/metrics"
	"fintrack/internal/platform/middleware"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Persistence logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("schema migration failed")
	}

	// Register persistence instruments so /metrics reports them from startup.
	_ = metrics.New()

	router := chi.NewRouter()
	router.Use(middleware.Metadata(log))
	router.Use(middleware.Auth(cfg.JWTSigningKey, log))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.WithField("addr", cfg.Addr).Info("starting fintrack")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.PublishAudit {
		publisher, err := audit.NewPublisher(db, cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			log.WithError(err).Fatal("kafka unavailable")
		}
		defer publisher.Close()
		group.Go(func() error {
			if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Fatal("server error")
	}
	log.Info("shutdown complete")
}
