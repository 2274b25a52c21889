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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/642studio/Veridis/internal/api"
	"github.com/642studio/Veridis/internal/authz"
	"github.com/642studio/Veridis/internal/config"
	"github.com/642studio/Veridis/internal/events"
	"github.com/642studio/Veridis/internal/hub"
	"github.com/642studio/Veridis/internal/ingest"
	"github.com/642studio/Veridis/internal/logging"
	"github.com/642studio/Veridis/internal/metrics"
	"github.com/642studio/Veridis/internal/server"
	"github.com/642studio/Veridis/internal/vault"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Resolve("veridis-cored", os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "veridis-cored: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("daemon stopped")
	}
	log.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	store := events.NewStore(cfg.MaxEvents,
		events.WithMetrics(m),
		events.WithLogger(logging.Component(log, "events")),
	)
	svc := authz.NewService(authz.NewPersistence(cfg.AuthzStorePath), cfg.PrivilegedIDs,
		authz.WithDefaultTTL(cfg.InviteTTL),
		authz.WithMetrics(m),
		authz.WithLogger(logging.Component(log, "authz")),
	)
	if err := svc.Load(); err != nil {
		return fmt.Errorf("load authorization store: %w", err)
	}
	h := hub.New(store, svc, log)
	log.Info().
		Int("max_events", cfg.MaxEvents).
		Str("authz_store", cfg.AuthzStorePath).
		Int("privileged_ids", len(cfg.PrivilegedIDs)).
		Msg("core started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(&api.Handler{Hub: h, Log: logging.Component(log, "http")}, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.TCPAddr != "" {
		router := server.NewRouter(h, logging.Component(log, "tcp"))
		if !cfg.DisableTLS {
			cert, err := vault.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("generate TLS certificate: %w", err)
			}
			router.SetCertificate(cert)
		}
		g.Go(func() error {
			return router.Listen(cfg.TCPAddr)
		})
		g.Go(func() error {
			<-ctx.Done()
			return router.Stop()
		})
	} else {
		log.Info().Msg("line protocol disabled")
	}

	if cfg.NATSURL != "" {
		sub := ingest.NewSubscriber(h, cfg.NATSSubject, logging.Component(log, "ingest"))
		g.Go(func() error {
			return sub.Run(ctx, cfg.NATSURL)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
