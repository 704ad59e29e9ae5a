// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/b-editor/beutl-auth/storage"
)

var (
	sessionBucket      = []byte("device_sessions")
	sessionIndexBucket = []byte("device_sessions_by_sid")
	refreshBucket      = []byte("refresh_tokens")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{sessionBucket, sessionIndexBucket, refreshBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateDeviceSession(_ context.Context, sess *storage.DeviceSession) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		if err := tx.Bucket(sessionBucket).Put([]byte(sess.ID), data); err != nil {
			return err
		}
		return tx.Bucket(sessionIndexBucket).Put([]byte(sess.SessionID), []byte(sess.ID))
	})
}

func (s *Store) GetDeviceSession(_ context.Context, id string) (*storage.DeviceSession, error) {
	var sess *storage.DeviceSession
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		sess, err = getSession(tx, []byte(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) GetDeviceSessionBySessionID(_ context.Context, sessionID string) (*storage.DeviceSession, error) {
	var sess *storage.DeviceSession
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(sessionIndexBucket).Get([]byte(sessionID))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		sess, err = getSession(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) UpdateDeviceSession(_ context.Context, sess *storage.DeviceSession) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if b.Get([]byte(sess.ID)) == nil {
			return storage.ErrNotFound
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(sess.ID), data); err != nil {
			return err
		}
		return tx.Bucket(sessionIndexBucket).Put([]byte(sess.SessionID), []byte(sess.ID))
	})
}

// ConsumeDeviceSession runs lookup, validation, and delete inside a single
// bbolt update transaction. Update transactions are serialized, so two
// racing consumers of the same session can only have one winner.
func (s *Store) ConsumeDeviceSession(_ context.Context, sessionID string, validate func(*storage.DeviceSession) error) (*storage.DeviceSession, error) {
	var sess *storage.DeviceSession
	err := s.db.Update(func(tx *bbolt.Tx) error {
		id := tx.Bucket(sessionIndexBucket).Get([]byte(sessionID))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		sess, err = getSession(tx, id)
		if err != nil {
			return err
		}
		if err := validate(sess); err != nil {
			return err
		}
		if err := tx.Bucket(sessionBucket).Delete(id); err != nil {
			return err
		}
		return tx.Bucket(sessionIndexBucket).Delete([]byte(sessionID))
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) DeleteExpiredDeviceSessions(_ context.Context, now time.Time, orphanTTL time.Duration) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		idx := tx.Bucket(sessionIndexBucket)

		var expired []*storage.DeviceSession
		err := b.ForEach(func(_, v []byte) error {
			var sess storage.DeviceSession
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sessionExpired(&sess, now, orphanTTL) {
				expired = append(expired, &sess)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, sess := range expired {
			if err := b.Delete([]byte(sess.ID)); err != nil {
				return err
			}
			if err := idx.Delete([]byte(sess.SessionID)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func getSession(tx *bbolt.Tx, id []byte) (*storage.DeviceSession, error) {
	data := tx.Bucket(sessionBucket).Get(id)
	if data == nil {
		return nil, storage.ErrNotFound
	}
	var sess storage.DeviceSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func sessionExpired(s *storage.DeviceSession, now time.Time, orphanTTL time.Duration) bool {
	if !s.CodeExpires.IsZero() {
		return now.After(s.CodeExpires)
	}
	return now.Sub(s.CreatedAt) > orphanTTL
}

func (s *Store) CreateRefreshToken(_ context.Context, t *storage.RefreshToken) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tx.Bucket(refreshBucket).Put([]byte(t.Token), data)
	})
}

// ConsumeRefreshToken deletes and returns the record in one transaction.
// A second consume of the same token sees ErrNotFound.
func (s *Store) ConsumeRefreshToken(_ context.Context, rawToken string) (*storage.RefreshToken, error) {
	var token storage.RefreshToken
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(refreshBucket)
		data := b.Get([]byte(rawToken))
		if data == nil {
			return storage.ErrNotFound
		}
		if err := json.Unmarshal(data, &token); err != nil {
			return err
		}
		return b.Delete([]byte(rawToken))
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *Store) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(refreshBucket)

		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var t storage.RefreshToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if now.After(t.Expires) {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range expired {
			if err := b.Delete(key); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
