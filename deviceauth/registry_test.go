package deviceauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b-editor/beutl-auth/storage/memory"
)

func TestRegistry_CreateSession(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(memory.NewRepository(), WithProductionHost("beutl.beditor.net"))

	tests := []struct {
		name        string
		continueURI string
		wantErr     error
	}{
		{"localhost", "http://localhost:9000/cb", nil},
		{"localhost with port and path", "http://localhost:3000/auth/callback?state=x", nil},
		{"loopback v4", "http://127.0.0.1:9000/cb", nil},
		{"loopback v6", "http://[::1]:9000/cb", nil},
		{"production host", "https://beutl.beditor.net/continue", nil},
		{"production host case-insensitive", "https://BEUTL.beditor.net/continue", nil},
		{"external host", "http://evil.example/cb", ErrInvalidContinueURI},
		{"public ip", "http://203.0.113.7/cb", ErrInvalidContinueURI},
		{"relative", "/cb", ErrInvalidContinueURI},
		{"not a url", "://bad", ErrInvalidContinueURI},
		{"bad scheme", "ftp://localhost/cb", ErrInvalidContinueURI},
		{"empty", "", ErrInvalidContinueURI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := r.CreateSession(ctx, tt.continueURI)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, sess.ID)
			assert.NotEmpty(t, sess.SessionID)
			assert.NotEqual(t, sess.ID, sess.SessionID)
			assert.Equal(t, tt.continueURI, sess.ContinueURI)
			assert.Empty(t, sess.UserID)
			assert.Empty(t, sess.Code)
			assert.True(t, sess.CodeExpires.IsZero())
		})
	}
}

func TestRegistry_RejectedURICreatesNoRow(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	r := NewRegistry(repo)

	_, err := r.CreateSession(ctx, "http://evil.example/cb")
	require.ErrorIs(t, err, ErrInvalidContinueURI)

	n, err := repo.DeleteExpiredDeviceSessions(ctx, time.Now().Add(365*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Zero(t, n, "no session row should have been created")
}

func TestRegistry_BindUserAndIssueCode(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(memory.NewRepository())

	sess, err := r.CreateSession(ctx, "http://localhost:9000/cb")
	require.NoError(t, err)

	code, continueURI, err := r.BindUserAndIssueCode(ctx, sess.ID, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, code)
	assert.Equal(t, "http://localhost:9000/cb", continueURI)

	bound, err := r.FindByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", bound.UserID)
	assert.Equal(t, code, bound.Code)
	assert.False(t, bound.CodeExpires.IsZero())
	assert.WithinDuration(t, time.Now().Add(defaultCodeTTL), bound.CodeExpires, time.Minute)

	_, _, err = r.BindUserAndIssueCode(ctx, "unknown-id", "user-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_ConsumeBySessionAndCode(t *testing.T) {
	ctx := context.Background()

	newBoundSession := func(t *testing.T, r *Registry) (sessionID, code string) {
		t.Helper()
		sess, err := r.CreateSession(ctx, "http://localhost:9000/cb")
		require.NoError(t, err)
		code, _, err = r.BindUserAndIssueCode(ctx, sess.ID, "user-1")
		require.NoError(t, err)
		return sess.SessionID, code
	}

	t.Run("Success", func(t *testing.T) {
		r := NewRegistry(memory.NewRepository())
		sessionID, code := newBoundSession(t, r)

		userID, err := r.ConsumeBySessionAndCode(ctx, sessionID, code)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)

		// Single use: the row is gone.
		_, err = r.ConsumeBySessionAndCode(ctx, sessionID, code)
		assert.ErrorIs(t, err, ErrCodeInvalid)
	})

	t.Run("WrongCode", func(t *testing.T) {
		r := NewRegistry(memory.NewRepository())
		sessionID, code := newBoundSession(t, r)

		_, err := r.ConsumeBySessionAndCode(ctx, sessionID, "not-the-code")
		require.ErrorIs(t, err, ErrCodeInvalid)

		// A wrong guess must not consume the session.
		userID, err := r.ConsumeBySessionAndCode(ctx, sessionID, code)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})

	t.Run("ExpiredCode", func(t *testing.T) {
		r := NewRegistry(memory.NewRepository(), WithCodeTTL(-time.Minute))
		sessionID, code := newBoundSession(t, r)

		_, err := r.ConsumeBySessionAndCode(ctx, sessionID, code)
		assert.ErrorIs(t, err, ErrCodeInvalid)
	})

	t.Run("NoCodeIssued", func(t *testing.T) {
		r := NewRegistry(memory.NewRepository())
		sess, err := r.CreateSession(ctx, "http://localhost:9000/cb")
		require.NoError(t, err)

		_, err = r.ConsumeBySessionAndCode(ctx, sess.SessionID, "anything")
		assert.ErrorIs(t, err, ErrCodeInvalid)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		r := NewRegistry(memory.NewRepository())
		_, err := r.ConsumeBySessionAndCode(ctx, "missing", "anything")
		assert.ErrorIs(t, err, ErrCodeInvalid)
	})
}

func TestIsLoopbackHost(t *testing.T) {
	assert.True(t, IsLoopbackHost("localhost"))
	assert.True(t, IsLoopbackHost("LOCALHOST"))
	assert.True(t, IsLoopbackHost("127.0.0.1"))
	assert.True(t, IsLoopbackHost("127.8.8.8"))
	assert.True(t, IsLoopbackHost("::1"))
	assert.False(t, IsLoopbackHost("example.com"))
	assert.False(t, IsLoopbackHost("203.0.113.7"))
	assert.False(t, IsLoopbackHost("localhost.evil.example"))
	assert.False(t, IsLoopbackHost(""))
}
