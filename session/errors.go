package session

import "errors"

var (
	errPoolExhausted = errors.New("session: pool exhausted")
	errPoolClosed    = errors.New("session: pool closed")
	errSessionNotFound = errors.New("session: not found")
	errIdentityMismatch = errors.New("session: identity mismatch")
)
