package provisioner

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "strata/pkg/domain-errors"

	"strata/internal/platform/config"
	"strata/internal/registry"
	"strata/internal/vault"
)

type execRecord struct {
	DB    string
	User  string
	Query string
}

type fakeConn struct {
	db     string
	user   string
	parent *fakeConnector
	closed bool
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	return c.parent.record(c.db, c.user, query)
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// fakeConnector records every administrative statement and can fail
// connections or individual statements by substring match.
type fakeConnector struct {
	mu       sync.Mutex
	execs    []execRecord
	failExec map[string]error // statement substring -> error
	failConn map[string]error // "db/user" -> error
	conns    []*fakeConn
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		failExec: make(map[string]error),
		failConn: make(map[string]error),
	}
}

func (f *fakeConnector) Connect(_ context.Context, dbName, user, _ string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failConn[dbName+"/"+user]; ok {
		return nil, err
	}
	conn := &fakeConn{db: dbName, user: user, parent: f}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeConnector) record(db, user, query string) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for substr, err := range f.failExec {
		if strings.Contains(query, substr) {
			return nil, err
		}
	}
	f.execs = append(f.execs, execRecord{DB: db, User: user, Query: query})
	return nil, nil
}

func (f *fakeConnector) queriesOn(db, user string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.execs {
		if e.DB == db && e.User == user {
			out = append(out, e.Query)
		}
	}
	return out
}

func (f *fakeConnector) sawQuery(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.execs {
		if strings.Contains(e.Query, substr) {
			return true
		}
	}
	return false
}

// rolePassword returns the password the role was last given, i.e. what the
// database would actually authenticate.
func (f *fakeConnector) rolePassword() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	password := ""
	for _, e := range f.execs {
		_, after, ok := strings.Cut(e.Query, "WITH PASSWORD '")
		if !ok {
			continue
		}
		password, _, _ = strings.Cut(after, "'")
	}
	return password
}

type fakeEvictor struct {
	mu      sync.Mutex
	evicted []string
}

func (f *fakeEvictor) Evict(tenantID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, tenantID)
	return true
}

func testConfig() config.Postgres {
	return config.Postgres{
		Host:          "db.internal",
		Port:          5432,
		RootUser:      "postgres",
		RootPassword:  "rootpw",
		MaintenanceDB: "postgres",
	}
}

func newTestProvisioner(t *testing.T) (*Provisioner, *registry.MemoryStore, *fakeConnector, *fakeEvictor) {
	t.Helper()
	v, err := vault.New(bytes.Repeat([]byte{0x42}, vault.KeySize))
	require.NoError(t, err)

	reg := registry.NewMemory()
	connector := newFakeConnector()
	evictor := &fakeEvictor{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(v, reg, connector, evictor, testConfig(), log), reg, connector, evictor
}

func TestCreateProvisionsDatabaseRoleAndSchema(t *testing.T) {
	p, reg, connector, _ := newTestProvisioner(t)
	ctx := context.Background()

	rec, err := p.Create(ctx, "Acme Corp", "")
	require.NoError(t, err)

	assert.Len(t, rec.ID, 16, "id should be 8 random bytes hex-encoded")
	assert.Equal(t, "Acme Corp", rec.Name)
	assert.Equal(t, "tenant_acme_corp_"+rec.ID, rec.DBName)
	assert.Equal(t, "u_acme_corp_"+rec.ID, rec.DBUser)
	assert.NotEmpty(t, rec.EncryptedPassword)

	// DDL runs against the maintenance database as root.
	maint := connector.queriesOn("postgres", "postgres")
	require.NotEmpty(t, maint)
	assert.Contains(t, maint[0], `CREATE DATABASE "`+rec.DBName+`"`)
	assert.True(t, connector.sawQuery(`CREATE USER "`+rec.DBUser+`"`))
	assert.True(t, connector.sawQuery(`GRANT ALL PRIVILEGES ON DATABASE "`+rec.DBName+`" TO "`+rec.DBUser+`"`))
	assert.True(t, connector.sawQuery(`GRANT ALL PRIVILEGES ON DATABASE "`+rec.DBName+`" TO "postgres"`))

	// Ownership fixes run on the new database as root, schema bootstrap as
	// the tenant role.
	assert.True(t, connector.sawQuery(`ALTER SCHEMA public OWNER TO "`+rec.DBUser+`"`))
	tenantDDL := connector.queriesOn(rec.DBName, rec.DBUser)
	assert.GreaterOrEqual(t, len(tenantDDL), len(baselineSchema))
	assert.Contains(t, tenantDDL[0], "CREATE TABLE IF NOT EXISTS tenant_data")

	// The registry row carries only the encrypted password.
	stored, err := reg.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.EncryptedPassword, stored.EncryptedPassword)

	password, err := p.vault.Decrypt(rec.EncryptedPassword)
	require.NoError(t, err)
	assert.Len(t, password, 32, "password should be 16 random bytes hex-encoded")
	assert.True(t, connector.sawQuery(`WITH PASSWORD '`+password+`'`))
}

func TestCreateWithExplicitID(t *testing.T) {
	p, _, _, _ := newTestProvisioner(t)

	rec, err := p.Create(context.Background(), "Beta", "deadbeef01")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef01", rec.ID)
	assert.Equal(t, "tenant_beta_deadbeef01", rec.DBName)
}

func TestCreateRejectsBadInput(t *testing.T) {
	p, _, _, _ := newTestProvisioner(t)
	ctx := context.Background()

	_, err := p.Create(ctx, "   ", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = p.Create(ctx, "Acme", "DROP TABLE; --")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestCreateToleratesExistingDatabaseAndRole(t *testing.T) {
	p, _, connector, _ := newTestProvisioner(t)
	connector.failExec["CREATE DATABASE"] = &pgconn.PgError{Code: "42P04"}
	connector.failExec["CREATE USER"] = &pgconn.PgError{Code: "42710"}

	rec, err := p.Create(context.Background(), "Gamma", "")
	require.NoError(t, err)

	// An existing role gets its password reset to the newly persisted one.
	assert.True(t, connector.sawQuery(`ALTER USER "`+rec.DBUser+`"`))
}

func TestCreateSurfacesIdentifiersOnFailure(t *testing.T) {
	p, _, connector, _ := newTestProvisioner(t)
	connector.failExec["GRANT ALL PRIVILEGES"] = errors.New("permission denied")

	_, err := p.Create(context.Background(), "Delta", "aabbccdd00")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	assert.Contains(t, err.Error(), "db_name=tenant_delta_aabbccdd00")
	assert.Contains(t, err.Error(), "db_user=u_delta_aabbccdd00")
}

func TestCreateIsIdempotentOnRegistryConflict(t *testing.T) {
	p, reg, connector, _ := newTestProvisioner(t)
	ctx := context.Background()

	first, err := p.Create(ctx, "Echo", "0011223344")
	require.NoError(t, err)

	second, err := p.Create(ctx, "Echo", "0011223344")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.DBName, second.DBName)
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "the original row keeps its identity")

	// The second run gave the role a fresh password, so the stored blob must
	// decrypt to exactly that or Describe would export dead credentials.
	stored, err := reg.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.EncryptedPassword, stored.EncryptedPassword)
	decrypted, err := p.vault.Decrypt(stored.EncryptedPassword)
	require.NoError(t, err)
	assert.Equal(t, connector.rolePassword(), decrypted,
		"registry credentials must match the role's live password after re-provisioning")
}

func TestReprovisionAfterRoleSurvivedKeepsCredentialsInSync(t *testing.T) {
	p, reg, connector, _ := newTestProvisioner(t)
	ctx := context.Background()

	_, err := p.Create(ctx, "Foxtrot Ltd", "5566778899")
	require.NoError(t, err)

	// Second run finds the database and role already present; the role
	// password is reset to this run's value.
	connector.failExec["CREATE DATABASE"] = &pgconn.PgError{Code: "42P04"}
	connector.failExec["CREATE USER"] = &pgconn.PgError{Code: "42710"}
	rec, err := p.Create(ctx, "Foxtrot Ltd", "5566778899")
	require.NoError(t, err)

	stored, err := reg.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	decrypted, err := p.vault.Decrypt(stored.EncryptedPassword)
	require.NoError(t, err)
	assert.Equal(t, connector.rolePassword(), decrypted,
		"ALTER USER reset must be reflected in the stored blob")
}

func TestGetReadsThroughCache(t *testing.T) {
	p, reg, _, _ := newTestProvisioner(t)
	ctx := context.Background()

	rec, err := p.Create(ctx, "Foxtrot", "")
	require.NoError(t, err)

	// Remove the registry row; the cache still serves the record.
	require.NoError(t, reg.Delete(ctx, rec.ID))
	cached, err := p.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, cached.ID)

	_, err = p.Get(ctx, "ffffffffffffffff")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestDescribeDecryptsPassword(t *testing.T) {
	p, _, _, _ := newTestProvisioner(t)
	ctx := context.Background()

	rec, err := p.Create(ctx, "Golf", "")
	require.NoError(t, err)

	details, err := p.Describe(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, details.PasswordAvailable)
	assert.Len(t, details.Password, 32)
	wantConn := fmt.Sprintf("postgresql://%s:%s@db.internal:5432/%s",
		rec.DBUser, details.Password, rec.DBName)
	assert.Equal(t, wantConn, details.ConnectionString)
}

func TestDescribeMasksUndecryptablePassword(t *testing.T) {
	p, reg, _, _ := newTestProvisioner(t)
	ctx := context.Background()

	rec, err := p.Create(ctx, "Hotel", "")
	require.NoError(t, err)

	// Simulate a blob written under a different (rotated) key.
	other, err := vault.New(bytes.Repeat([]byte{0x7f}, vault.KeySize))
	require.NoError(t, err)
	foreign, err := other.Encrypt("unreachable")
	require.NoError(t, err)
	stored, err := reg.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	stored.EncryptedPassword = foreign
	require.NoError(t, reg.Delete(ctx, rec.ID))
	require.NoError(t, reg.Insert(ctx, stored))
	p.mu.Lock()
	delete(p.cache, rec.ID)
	p.mu.Unlock()

	details, err := p.Describe(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, details.PasswordAvailable)
	assert.Equal(t, "***", details.Password)
	assert.NotContains(t, details.ConnectionString, "unreachable")
}

func TestRenameKeepsIdentifiers(t *testing.T) {
	p, _, _, _ := newTestProvisioner(t)
	ctx := context.Background()

	rec, err := p.Create(ctx, "India", "")
	require.NoError(t, err)

	require.NoError(t, p.Rename(ctx, rec.ID, "India Renamed"))
	renamed, err := p.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "India Renamed", renamed.Name)
	assert.Equal(t, rec.DBName, renamed.DBName)
	assert.Equal(t, rec.DBUser, renamed.DBUser)

	assert.True(t, dErrors.HasCode(p.Rename(ctx, rec.ID, "  "), dErrors.CodeBadRequest))
	assert.True(t, dErrors.HasCode(p.Rename(ctx, "ffffffffffffffff", "x"), dErrors.CodeNotFound))
}

func TestDeleteTearsDownEverything(t *testing.T) {
	p, reg, connector, evictor := newTestProvisioner(t)
	ctx := context.Background()

	rec, err := p.Create(ctx, "Juliet", "")
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, rec.ID))

	assert.True(t, connector.sawQuery("pg_terminate_backend"))
	assert.True(t, connector.sawQuery(`DROP DATABASE IF EXISTS "`+rec.DBName+`"`))
	assert.True(t, connector.sawQuery(`DROP USER IF EXISTS "`+rec.DBUser+`"`))

	_, err = reg.FindByID(ctx, rec.ID)
	assert.Error(t, err)
	assert.Contains(t, evictor.evicted, rec.ID)

	_, err = p.Get(ctx, rec.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestDeleteReportsPartialTeardown(t *testing.T) {
	p, reg, connector, evictor := newTestProvisioner(t)
	ctx := context.Background()

	rec, err := p.Create(ctx, "Kilo", "")
	require.NoError(t, err)

	connector.failExec["DROP DATABASE"] = errors.New("database is being accessed by other users")

	err = p.Delete(ctx, rec.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePartialTeardown))

	var teardown *TeardownError
	require.ErrorAs(t, err, &teardown)
	require.Len(t, teardown.Failed, 1)
	assert.Equal(t, StepDropDatabase, teardown.Failed[0].Step)
	assert.Contains(t, teardown.Succeeded, StepTerminateSessions)
	assert.Contains(t, teardown.Succeeded, StepDropRole)
	assert.Contains(t, teardown.Succeeded, StepDeleteRegistryRow)

	// The remaining steps still ran: the registry row is gone and the pool
	// was evicted, leaving only the physical database for manual cleanup.
	_, findErr := reg.FindByID(ctx, rec.ID)
	assert.Error(t, findErr)
	assert.Contains(t, evictor.evicted, rec.ID)
}
