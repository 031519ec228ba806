// Package pool owns the central registry connection pool and a lazily built
// map of per-tenant pools. It hides which physical pool backs a tenant behind
// a single addressing scheme and makes every query resilient to brief backend
// hiccups.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"strata/internal/platform/config"
	"strata/internal/platform/database"
	"strata/internal/registry"
	"strata/internal/sentinel"
	"strata/internal/tenant/models"
)

// RegistryReader resolves a tenant's connection metadata from the central
// registry on a pool-cache miss.
type RegistryReader interface {
	FindByID(ctx context.Context, tenantID string) (*models.TenantRecord, error)
}

// Pool is one physical connection pool bound to one database.
type Pool interface {
	DB() *sql.DB
	Database() string
	Health(ctx context.Context) error
	Close() error
	Stats() sql.DBStats
}

// Opener constructs a live pool from a connection config. Swapped out in
// tests to observe construction counts without a running database.
type Opener func(cfg database.Config) (Pool, error)

func defaultOpener(cfg database.Config) (Pool, error) {
	return database.New(cfg)
}

// Config carries everything the manager needs to open pools: the root
// credentials (tenant pools open as the admin role, never with a tenant's
// decrypted password) and the per-pool tunables.
type Config struct {
	Postgres config.Postgres
	Central  config.PoolLimits
	Tenant   config.PoolLimits

	Retry              RetryPolicy
	SlowQueryThreshold time.Duration
}

// Manager owns the central pool and the tenantID -> pool cache.
type Manager struct {
	cfg    Config
	retry  RetryPolicy
	slow   time.Duration
	log    *slog.Logger
	open   Opener
	reg    RegistryReader
	tracer trace.Tracer

	mu      sync.RWMutex
	central Pool
	tenants map[string]Pool
	closed  bool

	// flight collapses concurrent first-time constructions for the same
	// tenant into one: at most one pool is ever live per tenant.
	flight singleflight.Group
}

// Option customizes manager construction.
type Option func(*Manager)

// WithOpener overrides how physical pools are constructed.
func WithOpener(open Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithCentralPool injects an already constructed central pool.
func WithCentralPool(p Pool) Option {
	return func(m *Manager) { m.central = p }
}

// WithRegistry overrides the registry reader used on pool-cache misses.
func WithRegistry(reg RegistryReader) Option {
	return func(m *Manager) { m.reg = reg }
}

// NewManager opens the central registry pool and prepares the tenant cache.
func NewManager(cfg Config, log *slog.Logger, opts ...Option) (*Manager, error) {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.SlowQueryThreshold == 0 {
		cfg.SlowQueryThreshold = time.Second
	}

	m := &Manager{
		cfg:     cfg,
		retry:   cfg.Retry,
		slow:    cfg.SlowQueryThreshold,
		log:     log,
		open:    defaultOpener,
		tenants: make(map[string]Pool),
		tracer:  otel.Tracer("strata/pool"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.central == nil {
		central, err := m.open(m.centralConfig())
		if err != nil {
			return nil, fmt.Errorf("open central pool: %w", err)
		}
		m.central = central
	}
	if m.reg == nil {
		m.reg = registry.NewPostgres(m.central.DB())
	}

	log.Info("connection pool manager initialized",
		"host", cfg.Postgres.Host,
		"port", cfg.Postgres.Port,
		"central_database", cfg.Postgres.MaintenanceDB,
		"central_max_conns", cfg.Central.MaxConns,
		"tenant_max_conns", cfg.Tenant.MaxConns,
	)
	return m, nil
}

func (m *Manager) centralConfig() database.Config {
	return m.connConfig(m.cfg.Postgres.MaintenanceDB, m.cfg.Central)
}

func (m *Manager) tenantConfig(dbName string) database.Config {
	return m.connConfig(dbName, m.cfg.Tenant)
}

func (m *Manager) connConfig(dbName string, limits config.PoolLimits) database.Config {
	return database.Config{
		Host:             m.cfg.Postgres.Host,
		Port:             m.cfg.Postgres.Port,
		User:             m.cfg.Postgres.RootUser,
		Password:         m.cfg.Postgres.RootPassword,
		Database:         dbName,
		MaxOpenConns:     limits.MaxConns,
		MaxIdleConns:     limits.MinIdleConns,
		ConnMaxIdleTime:  limits.IdleTimeout,
		ConnMaxLifetime:  limits.ConnMaxLifetime,
		ConnectTimeout:   limits.ConnectTimeout,
		StatementTimeout: limits.StatementTimeout,
	}
}

// System returns the central registry pool.
func (m *Manager) System() Pool {
	return m.central
}

// PoolFor returns the pool serving a tenant, constructing it on first access.
// Concurrent first accesses for the same unseen tenant share one construction.
func (m *Manager) PoolFor(ctx context.Context, tenantID string) (Pool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, sentinel.ErrPoolClosed
	}
	p, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	ctx, span := m.tracer.Start(ctx, "pool.PoolFor",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	v, err, _ := m.flight.Do(tenantID, func() (any, error) {
		// Re-check under the flight: a previous caller may have finished
		// construction between our cache miss and this closure running.
		m.mu.RLock()
		p, ok := m.tenants[tenantID]
		m.mu.RUnlock()
		if ok {
			return p, nil
		}

		var rec *models.TenantRecord
		lookupErr := m.withRetry(ctx, "registry", func(ctx context.Context) error {
			r, err := m.reg.FindByID(ctx, tenantID)
			if err != nil {
				return err
			}
			rec = r
			return nil
		})
		if lookupErr != nil {
			return nil, lookupErr
		}

		p, err := m.open(m.tenantConfig(rec.DBName))
		if err != nil {
			return nil, fmt.Errorf("open tenant pool %s: %w", rec.DBName, err)
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			p.Close() //nolint:errcheck // racing a shutdown, pool is discarded
			return nil, sentinel.ErrPoolClosed
		}
		m.tenants[tenantID] = p
		m.mu.Unlock()

		poolsCreated.Inc()
		m.log.InfoContext(ctx, "tenant pool created",
			"tenant_id", tenantID, "database", rec.DBName)
		return p, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return v.(Pool), nil
}

// Query executes a query against a tenant's pool with bounded retry on
// transient errors.
func (m *Manager) Query(ctx context.Context, tenantID, query string, args ...any) (*sql.Rows, error) {
	p, err := m.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return m.runQuery(ctx, p, "tenant", query, args...)
}

// Exec executes a statement against a tenant's pool with bounded retry on
// transient errors.
func (m *Manager) Exec(ctx context.Context, tenantID, query string, args ...any) (sql.Result, error) {
	p, err := m.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return m.runExec(ctx, p, "tenant", query, args...)
}

// QuerySystem executes a query against the central registry pool.
func (m *Manager) QuerySystem(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return m.runQuery(ctx, m.central, "system", query, args...)
}

// ExecSystem executes a statement against the central registry pool.
func (m *Manager) ExecSystem(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return m.runExec(ctx, m.central, "system", query, args...)
}

func (m *Manager) runQuery(ctx context.Context, p Pool, scope, query string, args ...any) (*sql.Rows, error) {
	ctx, span := m.tracer.Start(ctx, "pool.Query",
		trace.WithAttributes(attribute.String("db.scope", scope)))
	defer span.End()

	var rows *sql.Rows
	err := m.withRetry(ctx, scope, func(ctx context.Context) error {
		start := time.Now()
		r, err := p.DB().QueryContext(ctx, query, args...)
		m.observe(ctx, scope, query, start, err)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rows, nil
}

func (m *Manager) runExec(ctx context.Context, p Pool, scope, query string, args ...any) (sql.Result, error) {
	ctx, span := m.tracer.Start(ctx, "pool.Exec",
		trace.WithAttributes(attribute.String("db.scope", scope)))
	defer span.End()

	var res sql.Result
	err := m.withRetry(ctx, scope, func(ctx context.Context) error {
		start := time.Now()
		r, err := p.DB().ExecContext(ctx, query, args...)
		m.observe(ctx, scope, query, start, err)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// observe records latency for every attempt and flags slow executions at a
// higher severity regardless of success or failure.
func (m *Manager) observe(ctx context.Context, scope, query string, start time.Time, err error) {
	elapsed := time.Since(start)
	queryDuration.WithLabelValues(scope).Observe(elapsed.Seconds())

	if elapsed >= m.slow {
		slowQueries.WithLabelValues(scope).Inc()
		m.log.WarnContext(ctx, "slow query",
			"scope", scope,
			"query", truncateQuery(query),
			"duration", elapsed.String(),
			"failed", err != nil,
		)
		return
	}
	m.log.DebugContext(ctx, "query executed",
		"scope", scope,
		"query", truncateQuery(query),
		"duration", elapsed.String(),
	)
}

func truncateQuery(query string) string {
	const limit = 120
	if len(query) <= limit {
		return query
	}
	// Back up to a rune boundary so the log line stays valid UTF-8.
	cut := limit
	for cut > 0 && !utf8.RuneStart(query[cut]) {
		cut--
	}
	return query[:cut] + "..."
}

// Evict removes and closes a tenant's pool if one is cached. Used on tenant
// deletion; returns whether a pool was present.
func (m *Manager) Evict(tenantID string) bool {
	m.mu.Lock()
	p, ok := m.tenants[tenantID]
	if ok {
		delete(m.tenants, tenantID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	if err := p.Close(); err != nil {
		m.log.Warn("closing evicted tenant pool", "tenant_id", tenantID, "error", err)
	}
	poolsEvicted.Inc()
	return true
}

// PoolHealth is the liveness and capacity snapshot of one pool.
type PoolHealth struct {
	Database  string `json:"database"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	OpenConns int    `json:"open_connections"`
	IdleConns int    `json:"idle_connections"`
	WaitCount int64  `json:"wait_count"`
}

// Health aggregates per-pool liveness. One broken tenant pool does not mark
// the whole system unhealthy, but its status stays visible in the detail.
type Health struct {
	Healthy bool                  `json:"healthy"`
	Central PoolHealth            `json:"central"`
	Tenants map[string]PoolHealth `json:"tenants"`
}

// HealthCheck pings the central pool and every cached tenant pool
// concurrently, without letting an individual pool's failure abort the rest.
func (m *Manager) HealthCheck(ctx context.Context) Health {
	m.mu.RLock()
	tenants := make(map[string]Pool, len(m.tenants))
	for id, p := range m.tenants {
		tenants[id] = p
	}
	central := m.central
	m.mu.RUnlock()

	health := Health{Tenants: make(map[string]PoolHealth, len(tenants))}

	var resMu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ph := checkPool(ctx, central)
		resMu.Lock()
		health.Central = ph
		resMu.Unlock()
		return nil
	})
	for id, p := range tenants {
		id, p := id, p
		g.Go(func() error {
			ph := checkPool(ctx, p)
			resMu.Lock()
			health.Tenants[id] = ph
			resMu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // checks never return errors, only statuses

	// The platform is up as long as the central registry answers; a broken
	// tenant pool is that tenant's problem, reported in the detail.
	health.Healthy = health.Central.Healthy
	return health
}

func checkPool(ctx context.Context, p Pool) PoolHealth {
	stats := p.Stats()
	ph := PoolHealth{
		Database:  p.Database(),
		Healthy:   true,
		OpenConns: stats.OpenConnections,
		IdleConns: stats.Idle,
		WaitCount: stats.WaitCount,
	}
	if err := p.Health(ctx); err != nil {
		ph.Healthy = false
		ph.Error = err.Error()
	}
	poolOpenConns.WithLabelValues(p.Database()).Set(float64(stats.OpenConnections))
	poolIdleConns.WithLabelValues(p.Database()).Set(float64(stats.Idle))
	poolWaitCount.WithLabelValues(p.Database()).Set(float64(stats.WaitCount))
	return ph
}

// PoolStats is a point-in-time capacity snapshot of one pool.
type PoolStats struct {
	Database  string `json:"database"`
	MaxOpen   int    `json:"max_open_connections"`
	Open      int    `json:"open_connections"`
	InUse     int    `json:"in_use"`
	Idle      int    `json:"idle"`
	WaitCount int64  `json:"wait_count"`
}

// Stats reports live connection counts for the central pool and every cached
// tenant pool.
type Stats struct {
	Central PoolStats            `json:"central"`
	Tenants map[string]PoolStats `json:"tenants"`
}

// Stats exposes per-pool connection counts for capacity monitoring.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Stats{
		Central: poolStats(m.central),
		Tenants: make(map[string]PoolStats, len(m.tenants)),
	}
	for id, p := range m.tenants {
		out.Tenants[id] = poolStats(p)
	}
	return out
}

func poolStats(p Pool) PoolStats {
	s := p.Stats()
	return PoolStats{
		Database:  p.Database(),
		MaxOpen:   s.MaxOpenConnections,
		Open:      s.OpenConnections,
		InUse:     s.InUse,
		Idle:      s.Idle,
		WaitCount: s.WaitCount,
	}
}

// Shutdown drains and closes the central pool and every cached tenant pool.
// Intended to run once at process termination; the manager refuses new pools
// afterwards.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	tenants := m.tenants
	m.tenants = make(map[string]Pool)
	central := m.central
	m.mu.Unlock()

	for id, p := range tenants {
		if err := p.Close(); err != nil {
			m.log.WarnContext(ctx, "closing tenant pool", "tenant_id", id, "error", err)
		} else {
			m.log.InfoContext(ctx, "tenant pool closed", "tenant_id", id)
		}
	}
	if central != nil {
		if err := central.Close(); err != nil {
			m.log.WarnContext(ctx, "closing central pool", "error", err)
		}
	}
	m.log.InfoContext(ctx, "connection pool manager shut down")
}
