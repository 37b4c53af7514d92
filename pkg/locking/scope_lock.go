// Package locking provides the serialization primitives the ledger uses to
// linearize check-then-act sequences: per-scope locks held for the duration
// of a transaction, and a coarser migration lock for schema changes across
// replicas.
package locking

import (
	"context"
	"fmt"
	"hash/crc32"
	"sync"

	"gorm.io/gorm"
)

// ScopeLocker serializes concurrent transactions that contend on the same
// scope key. Acquire is called inside an open transaction; the returned
// release function must be invoked only after that transaction has committed
// or rolled back, so that no second holder can act between the check and the
// commit.
type ScopeLocker interface {
	Acquire(ctx context.Context, tx *gorm.DB, key string) (release func(), err error)
}

// LockID maps an arbitrary scope key to the stable integer keyspace used by
// advisory locks.
func LockID(key string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(key)))
}

// ForDialect returns the strongest locker available for the database behind
// db: Postgres advisory transaction locks, or an in-process mutex for SQLite
// and MySQL, where the exclusivity claims' unique index is the cross-process
// backstop.
func ForDialect(db *gorm.DB) ScopeLocker {
	if db != nil && db.Dialector.Name() == "postgres" {
		return &AdvisoryScopeLocker{}
	}
	return NewMutexScopeLocker()
}

// AdvisoryScopeLocker uses pg_advisory_xact_lock. The lock is bound to the
// transaction and released by the database at commit or rollback, so the
// release function is a no-op.
type AdvisoryScopeLocker struct{}

// Acquire blocks until the advisory lock for key is held by tx.
func (l *AdvisoryScopeLocker) Acquire(ctx context.Context, tx *gorm.DB, key string) (func(), error) {
	if err := tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", LockID(key)).Error; err != nil {
		return nil, fmt.Errorf("acquire advisory lock for %q: %w", key, err)
	}
	return func() {}, nil
}

// MutexScopeLocker serializes scopes within a single process. Sufficient for
// SQLite (one writer per database) and a safety net for MySQL, where the
// storage-level unique constraint catches cross-process races.
type MutexScopeLocker struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewMutexScopeLocker creates an in-process scope locker.
func NewMutexScopeLocker() *MutexScopeLocker {
	return &MutexScopeLocker{locks: make(map[int64]*sync.Mutex)}
}

// Acquire locks the mutex for key's lock ID, creating it on first use.
func (l *MutexScopeLocker) Acquire(ctx context.Context, _ *gorm.DB, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := LockID(key)

	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

// NoopScopeLocker performs no locking. Used in tests that exercise the
// storage-level constraint path in isolation.
type NoopScopeLocker struct{}

// Acquire returns immediately.
func (NoopScopeLocker) Acquire(context.Context, *gorm.DB, string) (func(), error) {
	return func() {}, nil
}
