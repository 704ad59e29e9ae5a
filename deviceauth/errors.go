package deviceauth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidContinueURI is returned when a continue URI is malformed
	// or its host is neither loopback nor the configured production host.
	ErrInvalidContinueURI = errors.New("invalid continue uri")

	// ErrSessionNotFound is returned when a device-auth session does not
	// exist for the given identifier.
	ErrSessionNotFound = errors.New("auth session not found")

	// ErrCodeInvalid covers every failed code exchange: unknown session,
	// expired code, wrong code, or a session that never reached hand-off.
	// Callers must surface it uniformly; the wrapping errors below exist
	// for internal logging only.
	ErrCodeInvalid = errors.New("invalid or expired code")

	// ErrInvalidRefreshToken covers every failed refresh: undecryptable
	// envelope, unknown or already-consumed token, expired token, or a
	// token bound to a different user.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrUnauthorized is returned when the access token presented during
	// refresh fails signature or claim checks.
	ErrUnauthorized = errors.New("unauthorized")
)

// Internal refinements of ErrCodeInvalid and ErrInvalidRefreshToken.
// errors.Is(err, ErrCodeInvalid) etc. still holds for each.
var (
	errCodeNotIssued     = fmt.Errorf("no code issued for session: %w", ErrCodeInvalid)
	errCodeExpired       = fmt.Errorf("code expired: %w", ErrCodeInvalid)
	errCodeMismatch      = fmt.Errorf("code mismatch: %w", ErrCodeInvalid)
	errRefreshExpired    = fmt.Errorf("refresh token expired: %w", ErrInvalidRefreshToken)
	errRefreshWrongUser  = fmt.Errorf("refresh token user mismatch: %w", ErrInvalidRefreshToken)
	errRefreshBadPayload = fmt.Errorf("refresh envelope payload malformed: %w", ErrInvalidRefreshToken)
)
