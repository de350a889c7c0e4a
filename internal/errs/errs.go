// Package errs defines the error taxonomy shared across the mesh: a small
// set of sentinel kinds that callers can match with errors.Is, wrapped
// with context the way internal/crypto does for signature failures.
package errs

import "errors"

var (
	ErrNotFound             = errors.New("agent not found")
	ErrAlreadyExists        = errors.New("agent already exists")
	ErrInvalidTransition    = errors.New("invalid protocol transition")
	ErrProtocolNotSupported = errors.New("protocol not supported")
	ErrProtocolNotAllowed   = errors.New("protocol not allowed by capabilities")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrCapabilityDenied     = errors.New("capability denied")
	ErrEpochStale           = errors.New("stale epoch")
	ErrTimeout              = errors.New("operation timed out")
	ErrExecutionTimeout     = errors.New("execution timeout")
	ErrFuelExhausted        = errors.New("fuel exhausted")
	ErrResourceExhausted    = errors.New("resource exhausted")
	ErrMailboxFull          = errors.New("mailbox full")
	ErrQuotaExceeded        = errors.New("storage quota exceeded")
	ErrStorageNotFound      = errors.New("storage key not found")
	ErrShuttingDown         = errors.New("shutting down")
	ErrMalformedMessage     = errors.New("malformed message")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrModuleInvalid        = errors.New("wasm module invalid")
	ErrHashMismatch         = errors.New("hash mismatch")
	ErrNoLeader             = errors.New("no raft leader")
	ErrMigrationRejected    = errors.New("migration rejected")
	ErrMigrationStale       = errors.New("stale migration epoch")
	ErrMigrationAborted     = errors.New("migration aborted")
	ErrSignatureInvalid     = errors.New("invalid signature")
	ErrNetworkUnavailable   = errors.New("network unavailable")
	ErrDeadlineExceeded     = errors.New("deadline exceeded")
	ErrConsensusUnavailable = errors.New("consensus unavailable")
	ErrDirectoryStale       = errors.New("directory read is stale")
)
