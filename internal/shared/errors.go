package shared

import "errors"

// Sentinel errors shared across the session, CSRF, and repository
// layers. Handlers map them to problem responses in one place.
var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("shared: not found")
	// ErrInvalidCredentials covers every login failure so responses
	// never reveal whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("shared: invalid credentials")
	// ErrCSRFTokenMissing means the request carried no CSRF header.
	ErrCSRFTokenMissing = errors.New("shared: csrf token missing")
	// ErrCSRFTokenMismatch means the header failed HMAC verification.
	ErrCSRFTokenMismatch = errors.New("shared: csrf token mismatch")
)
