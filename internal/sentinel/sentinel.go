package sentinel

import "errors"

// Sentinel infrastructure errors. Dependencies should return these (optionally
// wrapped) so services can translate them into domain errors exactly once.
var (
	// ErrTenantNotFound indicates the central registry has no row for the id.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrAlreadyExists indicates a database or role name collision beyond the
	// tolerated idempotent "already exists" path.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAuthenticationFailed indicates a vault decryption tag mismatch:
	// the blob was tampered with, truncated, or encrypted under another key.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidKeyLength indicates the vault master key is not 256 bits.
	ErrInvalidKeyLength = errors.New("master key must be 32 bytes")

	// ErrTransientBackend indicates a backend failure expected to resolve on
	// retry (connection reset/refused, too many connections, cannot connect now).
	ErrTransientBackend = errors.New("transient backend error")

	// ErrPoolClosed indicates the pool manager has been shut down.
	ErrPoolClosed = errors.New("pool manager closed")
)
