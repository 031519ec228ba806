package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"strata/internal/platform/config"
	"strata/internal/platform/health"
	"strata/internal/platform/logger"
	"strata/internal/pool"
	poolhandler "strata/internal/pool/handler"
	"strata/internal/provisioner"
	"strata/internal/registry"
	tenanthandler "strata/internal/tenant/handler"
	"strata/internal/vault"
	"strata/pkg/platform/middleware/admin"
	request "strata/pkg/platform/middleware/request"
)

const maxRequestBody = 1 << 20 // 1 MiB

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing strata",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"pg_host", cfg.Postgres.Host,
	)

	v, err := vault.NewFromConfig(cfg.MasterKey, log)
	if err != nil {
		log.Error("vault initialization failed", "error", err)
		os.Exit(1)
	}

	manager, err := pool.NewManager(pool.Config{
		Postgres: cfg.Postgres,
		Central:  cfg.CentralPool,
		Tenant:   cfg.TenantPool,
	}, log)
	if err != nil {
		log.Error("pool manager initialization failed", "error", err)
		os.Exit(1)
	}

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := registry.Migrate(migrateCtx, manager.System().DB()); err != nil {
		cancelMigrate()
		log.Error("registry migration failed", "error", err)
		os.Exit(1)
	}
	cancelMigrate()

	reg := registry.NewPostgres(manager.System().DB())
	prov := provisioner.New(v, reg, provisioner.NewPgConnector(cfg.Postgres), manager, cfg.Postgres, log)

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(request.BodyLimit(maxRequestBody))
	r.Use(request.ContentTypeJSON)

	healthHandler := health.New(cfg.Environment)
	healthHandler.RegisterCheck("central_database", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return manager.System().Health(ctx)
	})
	healthHandler.Register(r)

	r.Handle("/metrics", promhttp.Handler())

	if cfg.AdminToken == "" {
		log.Warn("STRATA_ADMIN_TOKEN not set, admin API disabled")
	} else {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(cfg.AdminToken, log))
			tenanthandler.New(prov, manager, log).Register(r)
			poolhandler.New(manager, log).Register(r)
		})
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	manager.Shutdown(ctx)

	log.Info("server stopped")
}
