// Package validation holds the two preconditions of batch acceptance:
// caller authentication and schema validation of the request body.
// Both are pure functions and never touch the staging store or the broker.
package validation

import (
	"crypto/subtle"
	"errors"
)

// HeaderName is the request header carrying the shared secret.
const HeaderName = "X-Ingest-Key"

// errSecretNotConfigured is reported when the service has no secret, so that
// an empty header cannot match an empty configuration.
var errSecretNotConfigured = errors.New("ingest secret is not configured")

// Authenticate compares the presented secret with the configured one in
// constant time. Any mismatch, a missing secret or an empty configured
// secret yields an error wrapping contracts.ErrAuthentication.
func Authenticate(configured, presented string) error {
	if configured == "" {
		return authError(errSecretNotConfigured)
	}
	if presented == "" {
		return authError(errors.New("missing " + HeaderName + " header"))
	}
	if subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) != 1 {
		return authError(errors.New("invalid " + HeaderName + " header"))
	}
	return nil
}
