package deviceauth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/b-editor/beutl-auth/storage"
)

const (
	defaultSweepInterval = 5 * time.Minute
	// DefaultOrphanTTL is how long a session that never reached hand-off
	// (no code issued) stays around before reclamation.
	DefaultOrphanTTL = 24 * time.Hour
)

// Sweeper periodically reclaims expired device-auth sessions and refresh
// tokens. Expiry is otherwise only checked lazily at use time, so without
// a sweeper abandoned rows accumulate forever.
type Sweeper struct {
	repo      storage.Repository
	interval  time.Duration
	orphanTTL time.Duration
	logger    *slog.Logger
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval overrides the sweep interval.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithOrphanTTL overrides how long codeless sessions are kept.
func WithOrphanTTL(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.orphanTTL = d }
}

// NewSweeper creates a Sweeper and starts its background loop.
// Call Close to stop it.
func NewSweeper(repo storage.Repository, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:      repo,
		interval:  defaultSweepInterval,
		orphanTTL: DefaultOrphanTTL,
		logger:    logger.With("component", "sweeper"),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Close stops the background loop.
func (s *Sweeper) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			sessions, tokens, err := SweepOnce(context.Background(), s.repo, s.orphanTTL)
			if err != nil {
				s.logger.Error("sweep failed", "error", err)
				continue
			}
			if sessions > 0 || tokens > 0 {
				s.logger.Info("sweep reclaimed rows",
					"sessions", sessions, "refresh_tokens", tokens)
			}
		}
	}
}

// SweepOnce runs a single reclamation pass and returns how many device
// sessions and refresh tokens were removed.
func SweepOnce(ctx context.Context, repo storage.Repository, orphanTTL time.Duration) (sessions, tokens int, err error) {
	now := time.Now().UTC()
	sessions, err = repo.DeleteExpiredDeviceSessions(ctx, now, orphanTTL)
	if err != nil {
		return 0, 0, err
	}
	tokens, err = repo.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		return sessions, 0, err
	}
	return sessions, tokens, nil
}
