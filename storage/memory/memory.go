// Package memory provides a thread-safe in-memory implementation of
// storage.Repository. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/b-editor/beutl-auth/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
type Repository struct {
	mu            sync.Mutex
	sessions      map[string]*storage.DeviceSession // keyed by ID
	sessionsBySID map[string]string                 // SessionID -> ID
	refreshTokens map[string]*storage.RefreshToken  // keyed by raw token
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		sessions:      make(map[string]*storage.DeviceSession),
		sessionsBySID: make(map[string]string),
		refreshTokens: make(map[string]*storage.RefreshToken),
	}
}

func cloneSession(s *storage.DeviceSession) *storage.DeviceSession {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneRefreshToken(t *storage.RefreshToken) *storage.RefreshToken {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (r *Repository) CreateDeviceSession(_ context.Context, s *storage.DeviceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = cloneSession(s)
	r.sessionsBySID[s.SessionID] = s.ID
	return nil
}

func (r *Repository) GetDeviceSession(_ context.Context, id string) (*storage.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *Repository) GetDeviceSessionBySessionID(_ context.Context, sessionID string) (*storage.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.lookupBySIDLocked(sessionID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *Repository) UpdateDeviceSession(_ context.Context, s *storage.DeviceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return storage.ErrNotFound
	}
	r.sessions[s.ID] = cloneSession(s)
	r.sessionsBySID[s.SessionID] = s.ID
	return nil
}

func (r *Repository) ConsumeDeviceSession(_ context.Context, sessionID string, validate func(*storage.DeviceSession) error) (*storage.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.lookupBySIDLocked(sessionID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if err := validate(cloneSession(s)); err != nil {
		return nil, err
	}
	delete(r.sessions, s.ID)
	delete(r.sessionsBySID, s.SessionID)
	return cloneSession(s), nil
}

func (r *Repository) DeleteExpiredDeviceSessions(_ context.Context, now time.Time, orphanTTL time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if !sessionExpired(s, now, orphanTTL) {
			continue
		}
		delete(r.sessions, id)
		delete(r.sessionsBySID, s.SessionID)
		n++
	}
	return n, nil
}

func (r *Repository) lookupBySIDLocked(sessionID string) (*storage.DeviceSession, bool) {
	id, ok := r.sessionsBySID[sessionID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

func sessionExpired(s *storage.DeviceSession, now time.Time, orphanTTL time.Duration) bool {
	if !s.CodeExpires.IsZero() {
		return now.After(s.CodeExpires)
	}
	return now.Sub(s.CreatedAt) > orphanTTL
}

func (r *Repository) CreateRefreshToken(_ context.Context, t *storage.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshTokens[t.Token] = cloneRefreshToken(t)
	return nil
}

func (r *Repository) ConsumeRefreshToken(_ context.Context, rawToken string) (*storage.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.refreshTokens[rawToken]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(r.refreshTokens, rawToken)
	return cloneRefreshToken(t), nil
}

func (r *Repository) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for raw, t := range r.refreshTokens {
		if now.After(t.Expires) {
			delete(r.refreshTokens, raw)
			n++
		}
	}
	return n, nil
}
