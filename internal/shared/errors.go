package shared

import "errors"

// Sentinel errors shared by the auth and session layers. Callers match with
// errors.Is; the messages are safe to surface to API clients.
var (
	ErrNotFound           = errors.New("expedio: record not found")
	ErrInvalidCredentials = errors.New("expedio: invalid email or password")
	ErrCSRFTokenMissing   = errors.New("expedio: csrf token missing")
	ErrCSRFTokenMismatch  = errors.New("expedio: csrf token mismatch")
)
