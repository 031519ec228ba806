package config

import (
	"os"
	"strconv"
	"time"
)

// Postgres captures the root/administrative connection settings. The same
// credentials open the central registry pool and every tenant pool.
type Postgres struct {
	Host         string
	Port         int
	RootUser     string
	RootPassword string
	// MaintenanceDB is the database the provisioner connects to for
	// CREATE/DROP DATABASE statements and that hosts the central registry.
	MaintenanceDB string
}

// PoolLimits are the tunables applied to one connection pool.
type PoolLimits struct {
	MaxConns         int
	MinIdleConns     int
	IdleTimeout      time.Duration
	ConnMaxLifetime  time.Duration
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// Server is the top-level process configuration.
type Server struct {
	Addr        string
	Environment string
	Postgres    Postgres
	// MasterKey is the base64-encoded 256-bit vault master key. Empty means
	// the vault falls back to an ephemeral in-process key.
	MasterKey string
	// AdminToken guards the /admin API. Empty disables the admin surface
	// entirely rather than leaving it open.
	AdminToken  string
	CentralPool PoolLimits
	TenantPool  PoolLimits
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        envString("STRATA_ADDR", ":8080"),
		Environment: envString("STRATA_ENV", "development"),
		Postgres: Postgres{
			Host:          envString("PG_HOST", "localhost"),
			Port:          envInt("PG_PORT", 5432),
			RootUser:      envString("PG_ROOT_USER", "postgres"),
			RootPassword:  envString("PG_ROOT_PASSWORD", "postgres"),
			MaintenanceDB: envString("PG_MAINTENANCE_DB", "postgres"),
		},
		MasterKey:  os.Getenv("STRATA_MASTER_KEY"),
		AdminToken: os.Getenv("STRATA_ADMIN_TOKEN"),
		// The central pool serves every tenant's metadata lookups, so it runs
		// larger than the per-tenant pools.
		CentralPool: PoolLimits{
			MaxConns:         envInt("PG_CENTRAL_MAX_CONNS", 25),
			MinIdleConns:     envInt("PG_CENTRAL_MIN_IDLE", 2),
			IdleTimeout:      envDuration("PG_CENTRAL_IDLE_TIMEOUT", 30*time.Second),
			ConnMaxLifetime:  envDuration("PG_CENTRAL_CONN_LIFETIME", 5*time.Minute),
			ConnectTimeout:   envDuration("PG_CENTRAL_CONNECT_TIMEOUT", 10*time.Second),
			StatementTimeout: envDuration("PG_CENTRAL_STATEMENT_TIMEOUT", 30*time.Second),
		},
		TenantPool: PoolLimits{
			MaxConns:         envInt("PG_TENANT_MAX_CONNS", 15),
			MinIdleConns:     envInt("PG_TENANT_MIN_IDLE", 1),
			IdleTimeout:      envDuration("PG_TENANT_IDLE_TIMEOUT", 30*time.Second),
			ConnMaxLifetime:  envDuration("PG_TENANT_CONN_LIFETIME", 5*time.Minute),
			ConnectTimeout:   envDuration("PG_TENANT_CONNECT_TIMEOUT", 10*time.Second),
			StatementTimeout: envDuration("PG_TENANT_STATEMENT_TIMEOUT", 30*time.Second),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
