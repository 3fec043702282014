// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package runlock provides the short-lived advisory lock that keeps at
// most one pipeline invocation active per recording. Locks carry a TTL
// so a crashed worker cannot wedge a recording forever.
package runlock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/mediapress/internal/xerr"
)

// Lock is a held run lock. Release it when the run settles.
type Lock interface {
	Key() string
	Owner() string
	Release() error
}

// Locker acquires run locks.
type Locker interface {
	// Acquire takes the lock for recordingID or fails with AlreadyRunning.
	Acquire(ctx context.Context, recordingID, owner string, ttl time.Duration) (Lock, error)
}

// ---- memory implementation (tests, single-process runs) ----

type memoryLocker struct {
	mu    sync.Mutex
	held  map[string]memEntry
	clock func() time.Time
}

type memEntry struct {
	owner   string
	expires time.Time
}

// NewMemory returns an in-process locker.
func NewMemory() Locker {
	return &memoryLocker{held: make(map[string]memEntry), clock: time.Now}
}

func (m *memoryLocker) Acquire(_ context.Context, recordingID, owner string, ttl time.Duration) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if e, ok := m.held[recordingID]; ok && e.expires.After(now) {
		return nil, xerr.Ef(xerr.KindAlreadyRunning, "recording %s already has an active run", recordingID)
	}
	m.held[recordingID] = memEntry{owner: owner, expires: now.Add(ttl)}
	return &memLock{l: m, key: recordingID, owner: owner}, nil
}

type memLock struct {
	l     *memoryLocker
	key   string
	owner string
}

func (l *memLock) Key() string   { return l.key }
func (l *memLock) Owner() string { return l.owner }

func (l *memLock) Release() error {
	l.l.mu.Lock()
	defer l.l.mu.Unlock()
	if e, ok := l.l.held[l.key]; ok && e.owner == l.owner {
		delete(l.l.held, l.key)
	}
	return nil
}

// ---- badger implementation (survives worker restarts) ----

type badgerLocker struct {
	db *badger.DB
}

type lockEnvelope struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

var errLockHeld = errors.New("lock held")

// NewBadger returns a locker backed by an already-open badger DB. Entries
// use badger TTLs, so expiry needs no sweeper.
func NewBadger(db *badger.DB) Locker {
	return &badgerLocker{db: db}
}

func (b *badgerLocker) Acquire(_ context.Context, recordingID, owner string, ttl time.Duration) (Lock, error) {
	key := []byte("runlock:" + recordingID)
	env := lockEnvelope{Owner: owner, ExpiresAt: time.Now().Add(ttl)}
	buf, err := json.Marshal(env)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "marshal lock", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return errLockHeld
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry(key, buf).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return nil, xerr.Ef(xerr.KindAlreadyRunning, "recording %s already has an active run", recordingID)
		}
		return nil, xerr.Wrap(xerr.KindInternal, "acquire run lock", err)
	}
	return &badgerLock{db: b.db, key: key, keyStr: recordingID, owner: owner}, nil
}

type badgerLock struct {
	db     *badger.DB
	key    []byte
	keyStr string
	owner  string
}

func (l *badgerLock) Key() string   { return l.keyStr }
func (l *badgerLock) Owner() string { return l.owner }

func (l *badgerLock) Release() error {
	return l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(l.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var env lockEnvelope
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &env) }); err != nil {
			return err
		}
		if env.Owner != l.owner {
			return nil // expired and re-acquired by someone else
		}
		return txn.Delete(l.key)
	})
}
