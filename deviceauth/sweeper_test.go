package deviceauth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b-editor/beutl-auth/storage"
	"github.com/b-editor/beutl-auth/storage/memory"
)

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateDeviceSession(ctx, &storage.DeviceSession{
		ID: "expired", SessionID: "s-expired",
		Code: "x", CodeExpires: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, repo.CreateDeviceSession(ctx, &storage.DeviceSession{
		ID: "live", SessionID: "s-live",
		Code: "y", CodeExpires: now.Add(time.Minute), CreatedAt: now,
	}))
	require.NoError(t, repo.CreateRefreshToken(ctx, &storage.RefreshToken{
		Token: "dead", UserID: "u", Expires: now.Add(-time.Minute),
	}))
	require.NoError(t, repo.CreateRefreshToken(ctx, &storage.RefreshToken{
		Token: "alive", UserID: "u", Expires: now.Add(time.Hour),
	}))

	sessions, tokens, err := SweepOnce(ctx, repo, DefaultOrphanTTL)
	require.NoError(t, err)
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 1, tokens)

	_, err = repo.GetDeviceSession(ctx, "live")
	assert.NoError(t, err, "live session must survive")
}

func TestSweeperBackgroundLoop(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateDeviceSession(ctx, &storage.DeviceSession{
		ID: "expired", SessionID: "s-expired",
		Code: "x", CodeExpires: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
	}))

	s := NewSweeper(repo, slog.Default(), WithSweepInterval(10*time.Millisecond))
	defer s.Close()

	assert.Eventually(t, func() bool {
		_, err := repo.GetDeviceSession(ctx, "expired")
		return err != nil
	}, time.Second, 10*time.Millisecond, "sweeper should reclaim the expired session")
}
