// Package storage provides the storage abstraction layer for device-auth
// sessions and refresh tokens.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist. Consume
// operations also return it when another request already won the record:
// callers cannot tell the two cases apart, which is intentional.
var ErrNotFound = errors.New("record not found")

// DeviceSession is one in-flight native-app sign-in attempt.
//
// The desktop client holds SessionID and never sees ID; the browser leg
// holds ID and never sees SessionID. Code and CodeExpires are set together
// at hand-off time, or not at all.
type DeviceSession struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ContinueURI string    `json:"continue_uri"`
	UserID      string    `json:"user_id,omitempty"`
	Code        string    `json:"code,omitempty"`
	CodeExpires time.Time `json:"code_expires,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RefreshToken is one outstanding, independently revocable refresh issuance.
// Token is the raw value the store keys on; it never leaves the service
// unencrypted.
type RefreshToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Expires   time.Time `json:"expires"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceSessionStore persists DeviceSession records.
type DeviceSessionStore interface {
	CreateDeviceSession(ctx context.Context, s *DeviceSession) error
	GetDeviceSession(ctx context.Context, id string) (*DeviceSession, error)
	GetDeviceSessionBySessionID(ctx context.Context, sessionID string) (*DeviceSession, error)
	// UpdateDeviceSession replaces the stored record with the given one,
	// matched by ID. Returns ErrNotFound if the record no longer exists.
	UpdateDeviceSession(ctx context.Context, s *DeviceSession) error
	// ConsumeDeviceSession atomically looks up the session by SessionID,
	// runs validate against it, and deletes it only when validate returns
	// nil. The lookup, validation, and delete happen under one store
	// transaction, so two concurrent consumers of the same session can
	// only have one winner; the loser observes ErrNotFound.
	ConsumeDeviceSession(ctx context.Context, sessionID string, validate func(*DeviceSession) error) (*DeviceSession, error)
	// DeleteExpiredDeviceSessions removes sessions whose code expiry has
	// passed, and orphaned sessions (no code ever issued) created more
	// than orphanTTL before now. Returns the number of deleted rows.
	DeleteExpiredDeviceSessions(ctx context.Context, now time.Time, orphanTTL time.Duration) (int, error)
}

// RefreshTokenStore persists RefreshToken records.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	// ConsumeRefreshToken atomically deletes the record for the given raw
	// token and returns it. ErrNotFound means the token was never issued
	// or was already consumed.
	ConsumeRefreshToken(ctx context.Context, rawToken string) (*RefreshToken, error)
	// DeleteExpiredRefreshTokens removes tokens expired as of now.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error)
}

// Repository is the full persistence surface the service needs.
type Repository interface {
	DeviceSessionStore
	RefreshTokenStore
}
