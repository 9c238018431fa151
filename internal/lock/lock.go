// Package lock implements TTL-based mutual exclusion locks over the
// tenant store.
//
// A lock is Free when no record exists or the record's expiry has passed;
// expired records are treated as absent rather than swept by a timer.
// Holder tokens are opaque credentials: release and extend require the
// live holder's token, which prevents a caller whose lease expired and was
// reacquired from releasing the new holder's lock.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tenantd/tenantd/internal/storage"
)

// ErrTokenMismatch is returned when a release or extend supplies a token
// that does not match the live holder.
var ErrTokenMismatch = errors.New("holder token mismatch")

// Lock is a live lease on a name.
type Lock struct {
	Name        string    `json:"name"`
	HolderToken string    `json:"holder_token"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AcquireResult reports an acquisition attempt. When Acquired is false the
// token and expiry describe the current holder so the caller can decide
// when to retry.
type AcquireResult struct {
	Acquired    bool      `json:"acquired"`
	HolderToken string    `json:"holder_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CheckResult reports whether a lock is currently held.
type CheckResult struct {
	Held      bool       `json:"held"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Service provides lock operations against one tenant's database.
type Service struct {
	store *storage.Store
	now   func() time.Time
}

// New creates a lock service over the tenant's durable store.
func New(s *storage.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// Acquire takes the named lock for ttlSeconds. A fresh holder token is
// generated when none is supplied. If another live holder exists the
// result has Acquired=false and describes that holder; this is an expected
// outcome, not an error.
func (l *Service) Acquire(ctx context.Context, name string, ttlSeconds int, holderToken string) (*AcquireResult, error) {
	if name == "" {
		return nil, fmt.Errorf("lock name is required")
	}
	if ttlSeconds <= 0 {
		return nil, fmt.Errorf("ttl_seconds must be positive, got %d", ttlSeconds)
	}

	db := l.store.DB()
	now := l.now().UTC()
	nowMs := now.UnixMilli()

	var curToken string
	var curExpiresMs int64
	err := db.QueryRowContext(ctx,
		"SELECT holder_token, expires_at FROM locks WHERE name = ?", name,
	).Scan(&curToken, &curExpiresMs)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("read lock %q: %w", name, err)
	}
	if err == nil && curExpiresMs > nowMs {
		return &AcquireResult{
			Acquired:    false,
			HolderToken: curToken,
			ExpiresAt:   time.UnixMilli(curExpiresMs).UTC(),
		}, nil
	}

	if holderToken == "" {
		holderToken = uuid.NewString()
	}
	expires := now.Add(time.Duration(ttlSeconds) * time.Second)

	_, err = db.ExecContext(ctx,
		`INSERT INTO locks (name, holder_token, acquired_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			holder_token = excluded.holder_token,
			acquired_at  = excluded.acquired_at,
			expires_at   = excluded.expires_at`,
		name, holderToken, nowMs, expires.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", name, err)
	}

	return &AcquireResult{Acquired: true, HolderToken: holderToken, ExpiresAt: expires}, nil
}

// Release frees the named lock. The supplied token must match the live
// holder; otherwise ErrTokenMismatch is returned and the lock is untouched.
func (l *Service) Release(ctx context.Context, name, holderToken string) (bool, error) {
	live, err := l.liveLock(ctx, name)
	if err != nil {
		return false, err
	}
	if live == nil || live.HolderToken != holderToken {
		return false, ErrTokenMismatch
	}

	_, err = l.store.DB().ExecContext(ctx, "DELETE FROM locks WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("release lock %q: %w", name, err)
	}
	return true, nil
}

// Extend pushes the expiry of a held lock further out. The supplied token
// must match the live holder.
func (l *Service) Extend(ctx context.Context, name, holderToken string, additionalSeconds int) (*Lock, error) {
	if additionalSeconds <= 0 {
		return nil, fmt.Errorf("additional_seconds must be positive, got %d", additionalSeconds)
	}

	live, err := l.liveLock(ctx, name)
	if err != nil {
		return nil, err
	}
	if live == nil || live.HolderToken != holderToken {
		return nil, ErrTokenMismatch
	}

	live.ExpiresAt = live.ExpiresAt.Add(time.Duration(additionalSeconds) * time.Second)
	_, err = l.store.DB().ExecContext(ctx,
		"UPDATE locks SET expires_at = ? WHERE name = ?", live.ExpiresAt.UnixMilli(), name)
	if err != nil {
		return nil, fmt.Errorf("extend lock %q: %w", name, err)
	}
	return live, nil
}

// Check reports whether the named lock is currently held.
func (l *Service) Check(ctx context.Context, name string) (*CheckResult, error) {
	live, err := l.liveLock(ctx, name)
	if err != nil {
		return nil, err
	}
	if live == nil {
		return &CheckResult{Held: false}, nil
	}
	exp := live.ExpiresAt
	return &CheckResult{Held: true, ExpiresAt: &exp}, nil
}

// List returns all currently live locks ordered by name.
func (l *Service) List(ctx context.Context) ([]Lock, error) {
	rows, err := l.store.DB().QueryContext(ctx,
		"SELECT name, holder_token, acquired_at, expires_at FROM locks WHERE expires_at > ? ORDER BY name",
		l.now().UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var lk Lock
		var acquiredMs, expiresMs int64
		if err := rows.Scan(&lk.Name, &lk.HolderToken, &acquiredMs, &expiresMs); err != nil {
			return nil, err
		}
		lk.AcquiredAt = time.UnixMilli(acquiredMs).UTC()
		lk.ExpiresAt = time.UnixMilli(expiresMs).UTC()
		out = append(out, lk)
	}
	return out, rows.Err()
}

// liveLock returns the non-expired lock record for name, or nil.
func (l *Service) liveLock(ctx context.Context, name string) (*Lock, error) {
	var lk Lock
	var acquiredMs, expiresMs int64
	err := l.store.DB().QueryRowContext(ctx,
		"SELECT name, holder_token, acquired_at, expires_at FROM locks WHERE name = ?", name,
	).Scan(&lk.Name, &lk.HolderToken, &acquiredMs, &expiresMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock %q: %w", name, err)
	}
	if expiresMs <= l.now().UTC().UnixMilli() {
		return nil, nil
	}
	lk.AcquiredAt = time.UnixMilli(acquiredMs).UTC()
	lk.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	return &lk, nil
}
