// Package counter implements atomic bounded counters over the tenant store.
//
// Counters are created lazily on the first increment or reset. Bounds are
// optional on both ends; when set, increments clamp to the bound and report
// whether clamping changed the value. The owning actor serializes all calls,
// so read-modify-write here needs no locking of its own.
package counter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tenantd/tenantd/internal/storage"
)

// Counter is a named bounded counter.
type Counter struct {
	Name      string    `json:"name"`
	Value     int64     `json:"value"`
	Min       *int64    `json:"min,omitempty"`
	Max       *int64    `json:"max,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IncrementResult reports the outcome of an increment or decrement.
type IncrementResult struct {
	Value    int64 `json:"value"`
	Previous int64 `json:"previous_value"`
	Capped   bool  `json:"capped"`
}

// ResetResult reports the outcome of a reset.
type ResetResult struct {
	Value    int64 `json:"value"`
	Previous int64 `json:"previous_value"`
}

// Store provides counter operations against one tenant's database.
type Store struct {
	store *storage.Store
	now   func() time.Time
}

// New creates a counter store over the tenant's durable store.
func New(s *storage.Store) *Store {
	return &Store{store: s, now: time.Now}
}

// Increment adds step to the named counter, creating it at step if absent.
// Explicit bounds override stored bounds and are persisted with the new
// value. The result is clamped into [min, max]; Capped reports whether
// clamping changed the raw arithmetic result.
func (c *Store) Increment(ctx context.Context, name string, step int64, min, max *int64) (*IncrementResult, error) {
	if name == "" {
		return nil, fmt.Errorf("counter name is required")
	}
	if min != nil && max != nil && *min > *max {
		return nil, fmt.Errorf("min %d exceeds max %d", *min, *max)
	}

	db := c.store.DB()
	nowMs := c.now().UTC().UnixMilli()

	var prev int64
	var storedMin, storedMax sql.NullInt64
	err := db.QueryRowContext(ctx,
		"SELECT value, min, max FROM counters WHERE name = ?", name,
	).Scan(&prev, &storedMin, &storedMax)

	switch {
	case err == sql.ErrNoRows:
		value, capped := clamp(step, min, max)
		_, err = db.ExecContext(ctx,
			`INSERT INTO counters (name, value, min, max, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			name, value, min, max, nowMs, nowMs)
		if err != nil {
			return nil, fmt.Errorf("create counter %q: %w", name, err)
		}
		return &IncrementResult{Value: value, Previous: 0, Capped: capped}, nil

	case err != nil:
		return nil, fmt.Errorf("read counter %q: %w", name, err)
	}

	// Explicit bounds win over stored ones.
	if min == nil && storedMin.Valid {
		v := storedMin.Int64
		min = &v
	}
	if max == nil && storedMax.Valid {
		v := storedMax.Int64
		max = &v
	}

	value, capped := clamp(prev+step, min, max)
	_, err = db.ExecContext(ctx,
		"UPDATE counters SET value = ?, min = ?, max = ?, updated_at = ? WHERE name = ?",
		value, min, max, nowMs, name)
	if err != nil {
		return nil, fmt.Errorf("update counter %q: %w", name, err)
	}
	return &IncrementResult{Value: value, Previous: prev, Capped: capped}, nil
}

// Decrement subtracts step from the named counter. Equivalent to an
// increment with a negated step.
func (c *Store) Decrement(ctx context.Context, name string, step int64, min, max *int64) (*IncrementResult, error) {
	return c.Increment(ctx, name, -step, min, max)
}

// Get returns the named counter, or nil if it does not exist.
func (c *Store) Get(ctx context.Context, name string) (*Counter, error) {
	row := c.store.DB().QueryRowContext(ctx,
		"SELECT name, value, min, max, created_at, updated_at FROM counters WHERE name = ?", name)
	cnt, err := scanCounter(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get counter %q: %w", name, err)
	}
	return cnt, nil
}

// Reset sets the counter value directly, ignoring bounds. The counter is
// created if absent (previous value 0).
func (c *Store) Reset(ctx context.Context, name string, to int64) (*ResetResult, error) {
	if name == "" {
		return nil, fmt.Errorf("counter name is required")
	}

	db := c.store.DB()
	nowMs := c.now().UTC().UnixMilli()

	var prev int64
	err := db.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = ?", name).Scan(&prev)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.ExecContext(ctx,
			`INSERT INTO counters (name, value, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			name, to, nowMs, nowMs)
		if err != nil {
			return nil, fmt.Errorf("create counter %q: %w", name, err)
		}
		return &ResetResult{Value: to, Previous: 0}, nil
	case err != nil:
		return nil, fmt.Errorf("read counter %q: %w", name, err)
	}

	_, err = db.ExecContext(ctx,
		"UPDATE counters SET value = ?, updated_at = ? WHERE name = ?", to, nowMs, name)
	if err != nil {
		return nil, fmt.Errorf("reset counter %q: %w", name, err)
	}
	return &ResetResult{Value: to, Previous: prev}, nil
}

// List returns all counters ordered by name.
func (c *Store) List(ctx context.Context) ([]Counter, error) {
	rows, err := c.store.DB().QueryContext(ctx,
		"SELECT name, value, min, max, created_at, updated_at FROM counters ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	defer rows.Close()

	var out []Counter
	for rows.Next() {
		cnt, err := scanCounter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cnt)
	}
	return out, rows.Err()
}

// Delete removes the named counter. Returns false if it did not exist.
func (c *Store) Delete(ctx context.Context, name string) (bool, error) {
	res, err := c.store.DB().ExecContext(ctx, "DELETE FROM counters WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("delete counter %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCounter(row scanner) (*Counter, error) {
	var cnt Counter
	var min, max sql.NullInt64
	var createdMs, updatedMs int64

	if err := row.Scan(&cnt.Name, &cnt.Value, &min, &max, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	if min.Valid {
		v := min.Int64
		cnt.Min = &v
	}
	if max.Valid {
		v := max.Int64
		cnt.Max = &v
	}
	cnt.CreatedAt = time.UnixMilli(createdMs).UTC()
	cnt.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &cnt, nil
}

// clamp constrains v into [min, max] and reports whether it changed.
func clamp(v int64, min, max *int64) (int64, bool) {
	if min != nil && v < *min {
		return *min, true
	}
	if max != nil && v > *max {
		return *max, true
	}
	return v, false
}
