package core

import (
	"errors"
	"fmt"
)

// Kind is one of the semantic error kinds the gateway RPC boundary maps to
// stable JSON-RPC codes; kinds are a closed classification, not Go types.
type Kind string

const (
	KindInvalidParams  Kind = "invalid_params"
	KindNotFound       Kind = "not_found"
	KindStorage        Kind = "storage"
	KindBackendTool    Kind = "backend_tool"
	KindTimeout        Kind = "timeout"
	KindPoolExhausted  Kind = "pool_exhausted"
	KindRateLimited    Kind = "rate_limited"
	KindSafetyBlock    Kind = "safety_block"
	KindCancelled      Kind = "cancelled"
	KindInternal       Kind = "internal"
)

// Error carries structured context about a failure: which operation, which
// kind, which entity id, and the wrapped cause.
type Error struct {
	Op      string
	Kind    Kind
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a structured Error for op/kind wrapping err.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewErrorWithID is NewError plus the id of the entity involved.
func NewErrorWithID(op string, kind Kind, id string, err error) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err's kind equals k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// Sentinel errors for errors.Is comparisons at call sites that don't need
// the full structured Error.
var (
	ErrCapabilityNotFound = errors.New("capability not found")
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrToolNotFound       = errors.New("tool not found")
	ErrPoolExhausted      = errors.New("connection pool exhausted")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionForbidden   = errors.New("session does not belong to caller identity")
	ErrInvalidFQDN        = errors.New("invalid fqdn")
	ErrInvalidToolID      = errors.New("invalid tool id")
	ErrCircularDependency = errors.New("circular dependency in dag")
	ErrAborted            = errors.New("workflow aborted")
)

// IsRetryable reports whether a caller may reasonably retry the operation
// that produced err.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindBackendTool, KindStorage:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool {
	if IsKind(err, KindNotFound) {
		return true
	}
	return errors.Is(err, ErrCapabilityNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrCheckpointNotFound) ||
		errors.Is(err, ErrToolNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}
