package deviceauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b-editor/beutl-auth/storage/memory"
	"github.com/b-editor/beutl-auth/token"
)

func newTestExchanger(t *testing.T, opts ...RegistryOption) (*Exchanger, *Registry, *token.Signer) {
	t.Helper()
	repo := memory.NewRepository()
	registry := NewRegistry(repo, opts...)
	signer := token.NewSigner([]byte("access-token-secret-0123456789ab"), "beutl-auth", "beutl-api", 15*time.Minute)
	ex := NewExchanger(registry, repo, signer, []byte("refresh-envelope-secret"), 30*24*time.Hour)
	return ex, registry, signer
}

// completeHandoff walks a session through create and bind, returning what
// the desktop client would hold.
func completeHandoff(t *testing.T, r *Registry, userID string) (sessionID, code string) {
	t.Helper()
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "http://localhost:9000/cb")
	require.NoError(t, err)
	code, _, err = r.BindUserAndIssueCode(ctx, sess.ID, userID)
	require.NoError(t, err)
	return sess.SessionID, code
}

func TestExchanger_ExchangeCode(t *testing.T) {
	ctx := context.Background()
	ex, registry, signer := newTestExchanger(t)
	sessionID, code := completeHandoff(t, registry, "user-1")

	pair, err := ex.ExchangeCode(ctx, sessionID, code)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.Expiration.After(time.Now()))

	uid, err := signer.Validate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)

	// Single use.
	_, err = ex.ExchangeCode(ctx, sessionID, code)
	assert.ErrorIs(t, err, ErrCodeInvalid)
}

func TestExchanger_ExchangeCodeConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	ex, registry, _ := newTestExchanger(t)
	sessionID, code := completeHandoff(t, registry, "user-1")

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan *TokenPair, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if pair, err := ex.ExchangeCode(ctx, sessionID, code); err == nil {
				wins <- pair
			}
		}()
	}
	wg.Wait()
	close(wins)

	var n int
	for range wins {
		n++
	}
	assert.Equal(t, 1, n, "exactly one concurrent exchange may succeed")
}

func TestExchanger_Refresh(t *testing.T) {
	ctx := context.Background()
	ex, registry, signer := newTestExchanger(t)
	sessionID, code := completeHandoff(t, registry, "user-1")

	pair, err := ex.ExchangeCode(ctx, sessionID, code)
	require.NoError(t, err)

	rotated, err := ex.Refresh(ctx, pair.RefreshToken, pair.AccessToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	uid, err := signer.Validate(rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)

	// Rotation: the consumed envelope is dead.
	_, err = ex.Refresh(ctx, pair.RefreshToken, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// The rotated envelope still works.
	_, err = ex.Refresh(ctx, rotated.RefreshToken, rotated.AccessToken)
	assert.NoError(t, err)
}

func TestExchanger_RefreshWithExpiredAccessToken(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	registry := NewRegistry(repo)
	// TTL in the past: every issued access token is already expired.
	signer := token.NewSigner([]byte("access-token-secret-0123456789ab"), "beutl-auth", "beutl-api", -time.Minute)
	ex := NewExchanger(registry, repo, signer, []byte("refresh-envelope-secret"), 30*24*time.Hour)

	sessionID, code := completeHandoff(t, registry, "user-1")
	pair, err := ex.ExchangeCode(ctx, sessionID, code)
	require.NoError(t, err)

	_, err = signer.Validate(pair.AccessToken)
	require.Error(t, err, "precondition: the access token must be expired")

	rotated, err := ex.Refresh(ctx, pair.RefreshToken, pair.AccessToken)
	require.NoError(t, err, "refresh must accept an expired access token")
	assert.NotEmpty(t, rotated.RefreshToken)
}

func TestExchanger_RefreshFailures(t *testing.T) {
	ctx := context.Background()
	ex, registry, _ := newTestExchanger(t)
	sessionID, code := completeHandoff(t, registry, "user-1")
	pair, err := ex.ExchangeCode(ctx, sessionID, code)
	require.NoError(t, err)

	t.Run("GarbageAccessToken", func(t *testing.T) {
		_, err := ex.Refresh(ctx, pair.RefreshToken, "not.a.jwt")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("GarbageEnvelope", func(t *testing.T) {
		_, err := ex.Refresh(ctx, "%%%not-base64%%%", pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("TamperedEnvelope", func(t *testing.T) {
		_, err := ex.Refresh(ctx, "AAAA"+pair.RefreshToken[4:], pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("WrongUser", func(t *testing.T) {
		otherSessionID, otherCode := completeHandoff(t, registry, "user-2")
		otherPair, err := ex.ExchangeCode(ctx, otherSessionID, otherCode)
		require.NoError(t, err)

		// user-2's access token with user-1's envelope.
		_, err = ex.Refresh(ctx, pair.RefreshToken, otherPair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestExchanger_RefreshExpiredToken(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	registry := NewRegistry(repo)
	signer := token.NewSigner([]byte("access-token-secret-0123456789ab"), "beutl-auth", "beutl-api", 15*time.Minute)
	ex := NewExchanger(registry, repo, signer, []byte("refresh-envelope-secret"), -time.Minute)

	sessionID, code := completeHandoff(t, registry, "user-1")
	pair, err := ex.ExchangeCode(ctx, sessionID, code)
	require.NoError(t, err)

	_, err = ex.Refresh(ctx, pair.RefreshToken, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}
