// Package deviceauth implements the native-app authentication exchange:
// a desktop client registers a loopback continue URI, the user's browser
// binds the attempt to their account and receives a one-time code, and
// the client exchanges that code for an access/refresh token pair.
package deviceauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/b-editor/beutl-auth/internal/util"
	"github.com/b-editor/beutl-auth/internal/uuid"
	"github.com/b-editor/beutl-auth/storage"
)

const (
	// defaultCodeTTL is how long an issued one-time code stays valid.
	defaultCodeTTL = 30 * time.Minute
	// codeEntropyBytes is the entropy of a one-time code before encoding.
	codeEntropyBytes = 24
)

// Registry creates and resolves device-auth sessions.
type Registry struct {
	store          storage.DeviceSessionStore
	codeTTL        time.Duration
	productionHost string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCodeTTL overrides the one-time code lifetime.
func WithCodeTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.codeTTL = ttl }
}

// WithProductionHost allows continue URIs pointing at the service's own
// host, used by the browser-based variant of the hand-off.
func WithProductionHost(host string) RegistryOption {
	return func(r *Registry) { r.productionHost = host }
}

// NewRegistry returns a Registry backed by the given store.
func NewRegistry(store storage.DeviceSessionStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:   store,
		codeTTL: defaultCodeTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSession validates continueURI and persists a fresh session with
// no user, code, or expiry. The URI's host must be loopback or the
// configured production host.
func (r *Registry) CreateSession(ctx context.Context, continueURI string) (*storage.DeviceSession, error) {
	if err := r.validateContinueURI(continueURI); err != nil {
		return nil, err
	}
	sess := &storage.DeviceSession{
		ID:          uuid.New(),
		SessionID:   uuid.New(),
		ContinueURI: continueURI,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.CreateDeviceSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting auth session: %w", err)
	}
	return sess, nil
}

// FindByID looks up a session by its browser-leg identifier.
func (r *Registry) FindByID(ctx context.Context, id string) (*storage.DeviceSession, error) {
	sess, err := r.store.GetDeviceSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// FindBySessionID looks up a session by its desktop-client identifier.
func (r *Registry) FindBySessionID(ctx context.Context, sessionID string) (*storage.DeviceSession, error) {
	sess, err := r.store.GetDeviceSessionBySessionID(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// BindUserAndIssueCode attaches the authenticated user to the session and
// mints a one-time code with a fresh expiry. Returns the code and the
// stored continue URI for redirect construction.
func (r *Registry) BindUserAndIssueCode(ctx context.Context, id, userID string) (code, continueURI string, err error) {
	sess, err := r.FindByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	code, err = util.RandomToken(codeEntropyBytes)
	if err != nil {
		return "", "", fmt.Errorf("generating one-time code: %w", err)
	}

	sess.UserID = userID
	sess.Code = code
	sess.CodeExpires = time.Now().UTC().Add(r.codeTTL)
	if err := r.store.UpdateDeviceSession(ctx, sess); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", "", ErrSessionNotFound
		}
		return "", "", fmt.Errorf("persisting issued code: %w", err)
	}
	return code, sess.ContinueURI, nil
}

// ConsumeBySessionAndCode validates and consumes a (sessionID, code)
// pair. Exactly one concurrent caller can succeed for a given session;
// everyone else gets an error satisfying errors.Is(err, ErrCodeInvalid).
// The code comparison is constant-time.
func (r *Registry) ConsumeBySessionAndCode(ctx context.Context, sessionID, code string) (userID string, err error) {
	now := time.Now().UTC()
	sess, err := r.store.ConsumeDeviceSession(ctx, sessionID, func(s *storage.DeviceSession) error {
		if s.Code == "" || s.CodeExpires.IsZero() || s.UserID == "" {
			return errCodeNotIssued
		}
		if now.After(s.CodeExpires) {
			return errCodeExpired
		}
		if !util.ConstantTimeEquals(s.Code, code) {
			return errCodeMismatch
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("unknown session: %w", ErrCodeInvalid)
	}
	if err != nil {
		return "", err
	}
	return sess.UserID, nil
}

func (r *Registry) validateContinueURI(continueURI string) error {
	u, err := url.Parse(continueURI)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: not an absolute URL", ErrInvalidContinueURI)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidContinueURI, u.Scheme)
	}
	host := u.Hostname()
	if IsLoopbackHost(host) {
		return nil
	}
	if r.productionHost != "" && strings.EqualFold(host, r.productionHost) {
		return nil
	}
	return fmt.Errorf("%w: host %q is not loopback", ErrInvalidContinueURI, host)
}

// IsLoopbackHost reports whether host is "localhost" or a loopback IP
// literal. No DNS resolution is performed: a name that merely resolves
// to loopback is not enough, the redirect target must be provably the
// user's own machine.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
