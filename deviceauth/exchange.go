package deviceauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/b-editor/beutl-auth/internal/util"
	"github.com/b-editor/beutl-auth/storage"
	"github.com/b-editor/beutl-auth/token"
)

// TokenPair is the result of a successful code exchange or refresh.
// RefreshToken is the encrypted envelope, never the raw stored value.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Expiration   time.Time
}

// Exchanger turns a consumed one-time code, or a valid refresh envelope
// plus access token, into a fresh token pair.
//
// Session state machine: CREATED -> CODE_ISSUED -> CONSUMED (terminal),
// with an implicit EXPIRED branch treated identically to "not found".
type Exchanger struct {
	registry   *Registry
	refresh    storage.RefreshTokenStore
	signer     *token.Signer
	secret     *memguard.Enclave
	refreshTTL time.Duration
}

// NewExchanger returns an Exchanger. refreshSecret is the server secret
// feeding the refresh-envelope key derivation; the slice is wiped as a
// side effect of sealing it into the enclave.
func NewExchanger(registry *Registry, refresh storage.RefreshTokenStore, signer *token.Signer, refreshSecret []byte, refreshTTL time.Duration) *Exchanger {
	return &Exchanger{
		registry:   registry,
		refresh:    refresh,
		signer:     signer,
		secret:     memguard.NewEnclave(refreshSecret),
		refreshTTL: refreshTTL,
	}
}

// ExchangeCode consumes a (sessionID, code) pair and mints a token pair
// for the bound user. The session row is gone afterwards: a second call
// with the same pair fails.
func (e *Exchanger) ExchangeCode(ctx context.Context, sessionID, code string) (*TokenPair, error) {
	userID, err := e.registry.ConsumeBySessionAndCode(ctx, sessionID, code)
	if err != nil {
		return nil, err
	}
	return e.issuePair(ctx, userID)
}

// Refresh rotates a refresh token. The access token is verified for
// signature and issuer/audience but may be expired; the envelope is
// decrypted to recover the raw token, which is atomically deleted from
// the store before a new pair is minted. Zero rows deleted means the
// token was already used or never existed.
func (e *Exchanger) Refresh(ctx context.Context, refreshEnvelope, accessToken string) (*TokenPair, error) {
	userID, err := e.signer.Subject(accessToken)
	if err != nil {
		return nil, fmt.Errorf("access token rejected: %w", ErrUnauthorized)
	}

	raw, err := e.openEnvelope(refreshEnvelope)
	if err != nil {
		return nil, err
	}

	rec, err := e.refresh.ConsumeRefreshToken(ctx, raw)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("unknown or already consumed: %w", ErrInvalidRefreshToken)
	}
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, errRefreshWrongUser
	}
	if time.Now().UTC().After(rec.Expires) {
		return nil, errRefreshExpired
	}
	return e.issuePair(ctx, userID)
}

func (e *Exchanger) issuePair(ctx context.Context, userID string) (*TokenPair, error) {
	access, expiresAt, err := e.signer.Issue(userID)
	if err != nil {
		return nil, fmt.Errorf("minting access token: %w", err)
	}

	now := time.Now().UTC()
	raw := uuid.NewString()
	if err := e.refresh.CreateRefreshToken(ctx, &storage.RefreshToken{
		Token:     raw,
		UserID:    userID,
		Expires:   now.Add(e.refreshTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("persisting refresh token: %w", err)
	}

	envelope, err := e.sealEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: envelope,
		Expiration:   expiresAt,
	}, nil
}

func (e *Exchanger) sealEnvelope(raw string) (string, error) {
	secret, err := e.secret.Open()
	if err != nil {
		return "", err
	}
	defer secret.Destroy()

	sealed, err := util.SealEnvelope(secret.Bytes(), []byte(raw))
	if err != nil {
		return "", fmt.Errorf("sealing refresh envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Exchanger) openEnvelope(envelope string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("envelope not base64: %w", ErrInvalidRefreshToken)
	}

	secret, err := e.secret.Open()
	if err != nil {
		return "", err
	}
	defer secret.Destroy()

	raw, err := util.OpenEnvelope(secret.Bytes(), data)
	if err != nil {
		return "", fmt.Errorf("envelope rejected: %w", ErrInvalidRefreshToken)
	}
	if _, err := uuid.Parse(string(raw)); err != nil {
		return "", errRefreshBadPayload
	}
	return string(raw), nil
}
