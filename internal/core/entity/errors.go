package entity

import "errors"

// Error taxonomy for the entity layer. Callers match with errors.Is; the
// authentication error lives in the auth package.
var (
	// ErrInvalidParameters means the caller passed a malformed argument,
	// e.g. a scene name that resolves to nothing.
	ErrInvalidParameters = errors.New("noon: invalid parameters")

	// ErrInvalidJSON means a payload entity was missing required fields.
	ErrInvalidJSON = errors.New("noon: invalid JSON payload")

	// ErrDuplicateID is reserved: the registry currently tolerates duplicate
	// registrations (first writer wins) and never returns this.
	ErrDuplicateID = errors.New("noon: duplicate entity ID")
)
