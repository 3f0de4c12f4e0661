package types

import "errors"

// Error taxonomy shared by every package of the engine. Narrower sentinels
// wrap one of these so callers can classify a failure with errors.Is.
var (
	// ErrInvalidArgument marks malformed or missing caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks a referenced user, rule, component or issue that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized marks a caller lacking a required permission.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict marks an update that raced a concurrent modification.
	ErrConflict = errors.New("conflict")
	// ErrIllegalState marks an internal consistency failure (catalog drift).
	ErrIllegalState = errors.New("illegal state")
)

// IsClientError reports whether err should be surfaced to the caller as a
// rejection of its request rather than a server failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized)
}
