package service

import (
	"errors"
	"fmt"
)

// Error taxonomy exposed to the transport layer. Storage errors are logged
// where they occur and coarsened to ErrInternal before they cross the
// facade, so callers never see raw driver detail.
var (
	// ErrUnauthorized covers bad credentials, unknown or cleared session
	// tokens, and path/session account mismatches. "User does not exist"
	// and "wrong password" deliberately collapse into this one value to
	// prevent account enumeration.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest covers malformed client input such as unparseable
	// tokens or invalid episode actions.
	ErrBadRequest = errors.New("bad request")

	// ErrInternal covers storage failures and integrity violations.
	ErrInternal = errors.New("internal error")
)

// ErrSessionMismatch is returned when a client presents a session token
// that differs from the account's stored one during login. A mismatch is a
// protocol violation rather than a normal unauthorized case, so it wraps
// ErrInternal, not ErrUnauthorized.
var ErrSessionMismatch = fmt.Errorf("%w: session token mismatch", ErrInternal)
