// Package models holds the tenant domain types shared by the provisioner,
// the registry store, and the pool manager.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// TenantRecord is the identity and connection metadata for one tenant. The
// row in the central registry is the single source of truth; every in-memory
// copy is a read-through cache of that row.
type TenantRecord struct {
	ID                string
	Name              string
	DBName            string
	DBUser            string
	EncryptedPassword string
	CreatedAt         time.Time
}

// identifierPattern is the only shape allowed into SQL identifier positions.
// Database and role names are interpolated into DDL, so this is a security
// gate, not a formatting nicety.
var identifierPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// maxSafeNameLen keeps derived identifiers under PostgreSQL's 63-byte
// identifier limit: "tenant_" + name + "_" + 16-char id stays at 56 bytes.
const maxSafeNameLen = 32

// SanitizeName lowers a display name and maps every character outside
// [a-z0-9_] to an underscore, truncated so derived identifiers stay valid.
func SanitizeName(name string) string {
	safe := strings.ToLower(unsafeChars.ReplaceAllString(name, "_"))
	if len(safe) > maxSafeNameLen {
		safe = safe[:maxSafeNameLen]
	}
	return safe
}

// ValidateID rejects tenant ids that could not appear safely inside a derived
// SQL identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("tenant id is empty")
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("tenant id %q contains characters outside [a-z0-9_]", id)
	}
	return nil
}

// DeriveDBName returns the tenant database name. Deterministic in (name, id);
// never regenerated once assigned.
func DeriveDBName(name, id string) string {
	return "tenant_" + SanitizeName(name) + "_" + id
}

// DeriveDBUser returns the tenant role name. Deterministic in (name, id).
func DeriveDBUser(name, id string) string {
	return "u_" + SanitizeName(name) + "_" + id
}

// NewID generates a random hex tenant identifier.
func NewID() (string, error) {
	return randomHex(8)
}

// NewPassword generates a high-entropy tenant database password. It is never
// derived from anything user-supplied.
func NewPassword() (string, error) {
	return randomHex(16)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ConnectionString renders the tenant DSN for display or export only. Pools
// that actually serve queries open with root credentials instead, so the
// plaintext password exists in memory just long enough to render this.
func (r *TenantRecord) ConnectionString(host string, port int, password string) string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s",
		url.QueryEscape(r.DBUser), url.QueryEscape(password), host, port, r.DBName)
}
