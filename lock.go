package pancake

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lock enforces the single-writer invariant: no two executions may drive
// the same run id concurrently.
type Lock interface {
	// Acquire attempts to acquire a lock for the run.
	// Returns a token if successful, or an error if the lock is held.
	Acquire(ctx context.Context, runID string, ttl time.Duration) (string, error)

	// Release releases the lock for the run.
	Release(ctx context.Context, runID string, token string) error
}

// NoOpLock is a lock that does nothing (for single-goroutine use).
type NoOpLock struct{}

// Acquire always succeeds for NoOpLock.
func (l *NoOpLock) Acquire(ctx context.Context, runID string, ttl time.Duration) (string, error) {
	return "noop", nil
}

// Release does nothing for NoOpLock.
func (l *NoOpLock) Release(ctx context.Context, runID string, token string) error {
	return nil
}

// Ensure NoOpLock implements Lock.
var _ Lock = (*NoOpLock)(nil)

// MemoryLock implements Lock for a single process.
// WARNING: Not production safe across processes - use PostgresLock there.
type MemoryLock struct {
	mu     sync.Mutex
	held   map[string]string
	expiry map[string]time.Time
}

// NewMemoryLock creates a new MemoryLock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		held:   make(map[string]string),
		expiry: make(map[string]time.Time),
	}
}

// Acquire takes the run's lock unless it is held and unexpired.
func (l *MemoryLock) Acquire(ctx context.Context, runID string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[runID]; ok && time.Now().Before(l.expiry[runID]) {
		return "", NewRunLockedError(runID)
	}
	token := uuid.NewString()
	l.held[runID] = token
	l.expiry[runID] = time.Now().Add(ttl)
	return token, nil
}

// Release frees the run's lock if the token matches.
func (l *MemoryLock) Release(ctx context.Context, runID string, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[runID] == token {
		delete(l.held, runID)
		delete(l.expiry, runID)
	}
	return nil
}

// Ensure MemoryLock implements Lock.
var _ Lock = (*MemoryLock)(nil)

// PostgresLock implements Lock using PostgreSQL advisory locks.
type PostgresLock struct {
	db *sql.DB
}

// NewPostgresLock creates a new PostgresLock.
func NewPostgresLock(db *sql.DB) *PostgresLock {
	return &PostgresLock{db: db}
}

// hashToLockKey converts a run ID to a 64-bit lock key using SHA-256.
func hashToLockKey(runID string) int64 {
	hash := sha256.Sum256([]byte(runID))
	// Read first 8 bytes as signed int64
	return int64(binary.BigEndian.Uint64(hash[:8]))
}

// Acquire attempts to acquire a PostgreSQL advisory lock.
func (l *PostgresLock) Acquire(ctx context.Context, runID string, ttl time.Duration) (string, error) {
	lockKey := hashToLockKey(runID)

	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey).Scan(&acquired)
	if err != nil {
		return "", fmt.Errorf("advisory lock: %w", err)
	}

	if !acquired {
		return "", NewRunLockedError(runID)
	}

	// Return the lock key as the token
	return fmt.Sprintf("%d", lockKey), nil
}

// Release releases a PostgreSQL advisory lock.
func (l *PostgresLock) Release(ctx context.Context, runID string, token string) error {
	lockKey := hashToLockKey(runID)

	var released bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", lockKey).Scan(&released)
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}

	// Note: released will be false if we didn't hold the lock, which is fine
	return nil
}

// Ensure PostgresLock implements Lock.
var _ Lock = (*PostgresLock)(nil)
