package provisioner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"strata/internal/platform/config"
	"strata/internal/platform/database"
)

// adminConn is a single administrative connection checked out of a throwaway
// single-connection pool. Closing it closes the pool.
type adminConn struct {
	db *sql.DB
}

func (c *adminConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *adminConn) Close() error {
	return c.db.Close()
}

// PgConnector opens short-lived administrative connections using the same
// DSN construction as the long-lived pools.
type PgConnector struct {
	cfg config.Postgres
}

// NewPgConnector constructs a Connector bound to one database server.
func NewPgConnector(cfg config.Postgres) *PgConnector {
	return &PgConnector{cfg: cfg}
}

// Connect opens a single connection to dbName as the given role and verifies
// it with a ping. Caller must Close.
func (c *PgConnector) Connect(ctx context.Context, dbName, user, password string) (Conn, error) {
	dsn := database.Config{
		Host:           c.cfg.Host,
		Port:           c.cfg.Port,
		User:           user,
		Password:       password,
		Database:       dbName,
		ConnectTimeout: 10 * time.Second,
	}.DSN()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %q as %q: %w", dbName, user, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping %q as %q: %w", dbName, user, err)
	}
	return &adminConn{db: db}, nil
}
