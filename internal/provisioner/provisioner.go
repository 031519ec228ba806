// Package provisioner stands up and tears down one isolated database per
// tenant and keeps the central registry consistent with what physically
// exists on the database server.
package provisioner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "strata/pkg/domain-errors"

	"strata/internal/platform/config"
	"strata/internal/sentinel"
	"strata/internal/tenant/models"
	"strata/internal/vault"
)

// Registry is the central registry accessor the provisioner writes through.
type Registry interface {
	Insert(ctx context.Context, rec *models.TenantRecord) error
	FindByID(ctx context.Context, tenantID string) (*models.TenantRecord, error)
	List(ctx context.Context) ([]*models.TenantRecord, error)
	UpdateName(ctx context.Context, tenantID, name string) error
	UpdatePassword(ctx context.Context, tenantID, encryptedPassword string) error
	Delete(ctx context.Context, tenantID string) error
}

// PoolEvictor drops a tenant's cached connection pool on teardown.
type PoolEvictor interface {
	Evict(tenantID string) bool
}

// Conn is a short-lived administrative connection to one database.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// Connector opens administrative connections to arbitrary databases as
// arbitrary roles. Provisioning needs three distinct connections: the
// maintenance database as root, the new database as root, and the new
// database as the tenant role.
type Connector interface {
	Connect(ctx context.Context, dbName, user, password string) (Conn, error)
}

// Details is a tenant record enriched for display. Password is masked when
// the vault cannot decrypt the stored blob (ephemeral key mismatch).
type Details struct {
	models.TenantRecord
	Password          string
	PasswordAvailable bool
	ConnectionString  string
}

const maskedPassword = "***"

// Provisioner orchestrates tenant database lifecycle.
type Provisioner struct {
	vault     *vault.Vault
	registry  Registry
	connector Connector
	pools     PoolEvictor
	cfg       config.Postgres
	log       *slog.Logger
	tracer    trace.Tracer

	mu    sync.RWMutex
	cache map[string]*models.TenantRecord
}

// New constructs a Provisioner. pools may be nil when no pool manager is
// wired (e.g. provisioning CLIs).
func New(v *vault.Vault, reg Registry, connector Connector, pools PoolEvictor, cfg config.Postgres, log *slog.Logger) *Provisioner {
	return &Provisioner{
		vault:     v,
		registry:  reg,
		connector: connector,
		pools:     pools,
		cfg:       cfg,
		log:       log,
		tracer:    otel.Tracer("strata/provisioner"),
		cache:     make(map[string]*models.TenantRecord),
	}
}

// Create provisions an isolated database and role for a new tenant, boots the
// baseline schema, and persists the vault-encrypted credentials in the
// central registry. The returned record never carries the plaintext password.
//
// Database and role creation tolerate "already exists" so a crashed or
// repeated Create converges instead of failing. Any later failure surfaces
// with db_name and db_user attached so an operator can clean up by hand;
// nothing is rolled back automatically.
func (p *Provisioner) Create(ctx context.Context, name, optionalID string) (*models.TenantRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant name is required")
	}

	id := optionalID
	if id == "" {
		generated, err := models.NewID()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not generate tenant id")
		}
		id = generated
	} else if err := models.ValidateID(id); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, err.Error())
	}

	dbName := models.DeriveDBName(name, id)
	dbUser := models.DeriveDBUser(name, id)

	ctx, span := p.tracer.Start(ctx, "provisioner.Create", trace.WithAttributes(
		attribute.String("tenant.id", id),
		attribute.String("tenant.db_name", dbName),
	))
	defer span.End()

	p.log.InfoContext(ctx, "creating tenant", "tenant_id", id, "name", name, "db_name", dbName)
	start := time.Now()

	password, err := models.NewPassword()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not generate tenant password")
	}

	if err := p.createDatabaseAndRole(ctx, dbName, dbUser, password); err != nil {
		span.RecordError(err)
		return nil, provisioningError(err, dbName, dbUser)
	}
	if err := p.configureSchemaOwnership(ctx, dbName, dbUser); err != nil {
		// Ownership tuning is best-effort, matching how operators repair it:
		// the grants on the database itself already guarantee access.
		p.log.WarnContext(ctx, "could not set schema permissions",
			"db_name", dbName, "db_user", dbUser, "error", err)
	}
	if err := p.bootstrapTenantSchema(ctx, dbName, dbUser, password); err != nil {
		span.RecordError(err)
		return nil, provisioningError(err, dbName, dbUser)
	}

	encrypted, err := p.vault.Encrypt(password)
	if err != nil {
		return nil, provisioningError(fmt.Errorf("encrypt password: %w", err), dbName, dbUser)
	}

	rec := &models.TenantRecord{
		ID:                id,
		Name:              name,
		DBName:            dbName,
		DBUser:            dbUser,
		EncryptedPassword: encrypted,
		CreatedAt:         time.Now().UTC(),
	}

	if err := p.registry.Insert(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			// Re-provisioning an existing tenant: the row keeps its identity
			// and created_at, but the role now carries this run's password
			// (CREATE USER or the reset above), so the stored blob must
			// follow or Describe would export dead credentials.
			p.log.InfoContext(ctx, "tenant already registered, updating credentials", "tenant_id", id)
			existing, findErr := p.registry.FindByID(ctx, id)
			if findErr != nil {
				return nil, provisioningError(findErr, dbName, dbUser)
			}
			if updErr := p.registry.UpdatePassword(ctx, id, encrypted); updErr != nil {
				return nil, provisioningError(fmt.Errorf("update tenant credentials: %w", updErr), dbName, dbUser)
			}
			existing.EncryptedPassword = encrypted
			rec = existing
		} else {
			return nil, provisioningError(fmt.Errorf("persist tenant metadata: %w", err), dbName, dbUser)
		}
	}

	p.mu.Lock()
	p.cache[id] = rec
	p.mu.Unlock()

	tenantsProvisioned.Inc()
	provisioningDuration.Observe(time.Since(start).Seconds())
	p.log.InfoContext(ctx, "tenant created", "tenant_id", id, "db_name", dbName,
		"duration", time.Since(start).String())
	return rec, nil
}

func (p *Provisioner) createDatabaseAndRole(ctx context.Context, dbName, dbUser, password string) error {
	conn, err := p.connector.Connect(ctx, p.cfg.MaintenanceDB, p.cfg.RootUser, p.cfg.RootPassword)
	if err != nil {
		return fmt.Errorf("connect maintenance database: %w", err)
	}
	defer conn.Close() //nolint:errcheck // read-only administrative session

	if _, err := conn.ExecContext(ctx, `CREATE DATABASE `+quoteIdent(dbName)); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("create database: %w", err)
		}
		p.log.InfoContext(ctx, "database already exists", "db_name", dbName)
	}

	createUser := `CREATE USER ` + quoteIdent(dbUser) + ` WITH PASSWORD ` + quoteLiteral(password)
	if _, err := conn.ExecContext(ctx, createUser); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("create role: %w", err)
		}
		p.log.InfoContext(ctx, "role already exists", "db_user", dbUser)
		// The role keeps its original password; the fresh one is still the
		// one persisted, so reset it to stay consistent.
		alter := `ALTER USER ` + quoteIdent(dbUser) + ` WITH PASSWORD ` + quoteLiteral(password)
		if _, err := conn.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("reset role password: %w", err)
		}
	}

	grants := []string{
		`GRANT ALL PRIVILEGES ON DATABASE ` + quoteIdent(dbName) + ` TO ` + quoteIdent(dbUser),
		// The admin role keeps access so platform maintenance can always
		// reach tenant data; pools also open with these credentials.
		`GRANT ALL PRIVILEGES ON DATABASE ` + quoteIdent(dbName) + ` TO ` + quoteIdent(p.cfg.RootUser),
	}
	for _, stmt := range grants {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("grant privileges: %w", err)
		}
	}
	return nil
}

func (p *Provisioner) configureSchemaOwnership(ctx context.Context, dbName, dbUser string) error {
	conn, err := p.connector.Connect(ctx, dbName, p.cfg.RootUser, p.cfg.RootPassword)
	if err != nil {
		return fmt.Errorf("connect tenant database as admin: %w", err)
	}
	defer conn.Close() //nolint:errcheck // short-lived administrative session

	stmts := []string{
		`ALTER SCHEMA public OWNER TO ` + quoteIdent(dbUser),
		`GRANT ALL ON SCHEMA public TO ` + quoteIdent(p.cfg.RootUser),
		`GRANT ALL ON ALL TABLES IN SCHEMA public TO ` + quoteIdent(p.cfg.RootUser),
		`ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON TABLES TO ` + quoteIdent(p.cfg.RootUser),
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) bootstrapTenantSchema(ctx context.Context, dbName, dbUser, password string) error {
	conn, err := p.connector.Connect(ctx, dbName, dbUser, password)
	if err != nil {
		return fmt.Errorf("connect tenant database as tenant role: %w", err)
	}
	defer conn.Close() //nolint:errcheck // short-lived bootstrap session

	return bootstrapSchema(ctx, conn)
}

// Get returns a tenant record, reading through the in-memory cache to the
// central registry.
func (p *Provisioner) Get(ctx context.Context, tenantID string) (*models.TenantRecord, error) {
	p.mu.RLock()
	rec, ok := p.cache[tenantID]
	p.mu.RUnlock()
	if ok {
		return rec, nil
	}

	rec, err := p.registry.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrTenantNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "tenant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not load tenant")
	}

	p.mu.Lock()
	p.cache[tenantID] = rec
	p.mu.Unlock()
	return rec, nil
}

// Describe returns a tenant with its decrypted password and derived
// connection string, for display and export only. When decryption fails
// (blob predates an ephemeral key, or the key rotated) the password is
// masked instead of failing the read.
func (p *Provisioner) Describe(ctx context.Context, tenantID string) (*Details, error) {
	rec, err := p.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	details := &Details{TenantRecord: *rec, Password: maskedPassword}
	password, err := p.vault.Decrypt(rec.EncryptedPassword)
	if err != nil {
		p.log.WarnContext(ctx, "could not decrypt tenant password",
			"tenant_id", tenantID, "error", err)
	} else {
		details.Password = password
		details.PasswordAvailable = true
	}
	details.ConnectionString = rec.ConnectionString(p.cfg.Host, p.cfg.Port, details.Password)
	return details, nil
}

// List returns every tenant record, newest first.
func (p *Provisioner) List(ctx context.Context) ([]*models.TenantRecord, error) {
	records, err := p.registry.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not list tenants")
	}
	return records, nil
}

// Rename updates the tenant display name. The database and role identifiers
// are immutable once assigned and are deliberately untouched.
func (p *Provisioner) Rename(ctx context.Context, tenantID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "tenant name is required")
	}
	if err := p.registry.UpdateName(ctx, tenantID, name); err != nil {
		if errors.Is(err, sentinel.ErrTenantNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "tenant not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not rename tenant")
	}

	p.mu.Lock()
	if rec, ok := p.cache[tenantID]; ok {
		clone := *rec
		clone.Name = name
		p.cache[tenantID] = &clone
	}
	p.mu.Unlock()

	p.log.InfoContext(ctx, "tenant renamed", "tenant_id", tenantID, "name", name)
	return nil
}

// Teardown step names reported by TeardownError.
const (
	StepTerminateSessions = "terminate_sessions"
	StepDropDatabase      = "drop_database"
	StepDropRole          = "drop_role"
	StepDeleteRegistryRow = "delete_registry_row"
)

// StepFailure is one failed teardown step.
type StepFailure struct {
	Step string
	Err  error
}

// TeardownError reports a tenant deletion that completed some but not all of
// its destructive steps. Partial completion is never silently accepted.
type TeardownError struct {
	TenantID  string
	Succeeded []string
	Failed    []StepFailure
}

func (e *TeardownError) Error() string {
	steps := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		steps = append(steps, fmt.Sprintf("%s: %v", f.Step, f.Err))
	}
	return fmt.Sprintf("tenant %s teardown incomplete (succeeded: %s; failed: %s)",
		e.TenantID, strings.Join(e.Succeeded, ", "), strings.Join(steps, "; "))
}

// Delete destroys a tenant: terminates live sessions against its database,
// drops the database and role, removes the registry row, and evicts any
// cached pool. Destructive and irreversible. All steps are attempted even
// when an earlier one fails; the error reports exactly which steps failed.
func (p *Provisioner) Delete(ctx context.Context, tenantID string) error {
	rec, err := p.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "provisioner.Delete", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("tenant.db_name", rec.DBName),
	))
	defer span.End()

	conn, err := p.connector.Connect(ctx, p.cfg.MaintenanceDB, p.cfg.RootUser, p.cfg.RootPassword)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "connect maintenance database")
	}
	defer conn.Close() //nolint:errcheck // short-lived administrative session

	result := &TeardownError{TenantID: tenantID}
	step := func(name string, fn func() error) {
		if stepErr := fn(); stepErr != nil {
			result.Failed = append(result.Failed, StepFailure{Step: name, Err: stepErr})
			return
		}
		result.Succeeded = append(result.Succeeded, name)
	}

	step(StepTerminateSessions, func() error {
		// Lingering sessions hold locks that would block the drop.
		_, err := conn.ExecContext(ctx, `
			SELECT pg_terminate_backend(pg_stat_activity.pid)
			FROM pg_stat_activity
			WHERE pg_stat_activity.datname = $1
			  AND pid <> pg_backend_pid()
		`, rec.DBName)
		return err
	})
	step(StepDropDatabase, func() error {
		_, err := conn.ExecContext(ctx, `DROP DATABASE IF EXISTS `+quoteIdent(rec.DBName))
		return err
	})
	step(StepDropRole, func() error {
		_, err := conn.ExecContext(ctx, `DROP USER IF EXISTS `+quoteIdent(rec.DBUser))
		return err
	})
	step(StepDeleteRegistryRow, func() error {
		return p.registry.Delete(ctx, tenantID)
	})

	p.mu.Lock()
	delete(p.cache, tenantID)
	p.mu.Unlock()
	if p.pools != nil {
		p.pools.Evict(tenantID)
	}

	if len(result.Failed) > 0 {
		span.RecordError(result)
		teardownFailures.Inc()
		p.log.ErrorContext(ctx, "tenant teardown incomplete",
			"tenant_id", tenantID, "db_name", rec.DBName, "error", result)
		return dErrors.Wrap(result, dErrors.CodePartialTeardown, result.Error())
	}

	tenantsDeleted.Inc()
	p.log.InfoContext(ctx, "tenant deleted", "tenant_id", tenantID, "db_name", rec.DBName)
	return nil
}

// provisioningError attaches the derived identifiers so a failed run can be
// cleaned up manually.
func provisioningError(err error, dbName, dbUser string) error {
	return dErrors.Wrap(err, dErrors.CodeInternal,
		fmt.Sprintf("provisioning failed (db_name=%s db_user=%s): %v", dbName, dbUser, err))
}

// quoteIdent double-quotes an identifier. Inputs are already restricted to
// [a-z0-9_] by derivation, so this is belt-and-braces.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, ``) + `"`
}

// quoteLiteral single-quotes a string literal for DDL statements that cannot
// take bind parameters (CREATE USER ... WITH PASSWORD).
func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// isAlreadyExists matches the PostgreSQL duplicate errors tolerated during
// idempotent provisioning: 42P04 duplicate_database, 42710 duplicate_object.
func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P04" || pgErr.Code == "42710"
	}
	return strings.Contains(err.Error(), "already exists")
}
