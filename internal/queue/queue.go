// Package queue implements named job queues with lease-based visibility
// timeouts over the tenant store.
//
// Delivery is at-least-once: a leased job whose visibility window lapses
// without a complete becomes eligible again, so a slow worker and a dead
// worker are indistinguishable and handlers must be idempotent. Reclamation
// is lazy — expired leases are folded back into pending at the next Lease
// call, not by a background sweeper.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/tenantd/tenantd/internal/storage"
)

// Job states.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateDead       = "dead"
)

// Visibility timeout limits in seconds.
const (
	DefaultVisibility = 60
	MinVisibility     = 10
	MaxVisibility     = 3600
)

// ErrStaleCompletion is returned when a complete arrives after the job's
// lease expired and the job was reclaimed or reassigned.
var ErrStaleCompletion = errors.New("lease expired; job was reclaimed")

// Job is a queued unit of work.
type Job struct {
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	Payload    string    `json:"payload"`
	State      string    `json:"state"`
	Attempt    int       `json:"attempt"`
	LeaseToken string    `json:"lease_token,omitempty"`
	VisibleAt  time.Time `json:"visible_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Lease is the result of a successful lease call.
type Lease struct {
	JobID      string    `json:"job_id"`
	Payload    string    `json:"payload"`
	Attempt    int       `json:"attempt"`
	LeaseToken string    `json:"lease_token"`
	VisibleAt  time.Time `json:"visible_at"`
}

// Status is the aggregate view of one named queue.
type Status struct {
	Pending       int        `json:"pending"`
	Processing    int        `json:"processing"`
	Completed     int        `json:"completed"`
	Failed        int        `json:"failed"`
	Dead          int        `json:"dead"`
	Total         int        `json:"total"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
	NewestPending *time.Time `json:"newest_pending,omitempty"`
}

// Queue provides job queue operations against one tenant's database.
type Queue struct {
	store   *storage.Store
	now     func() time.Time
	entropy *ulid.MonotonicEntropy

	// maxAttempts is the auto-dead-letter ceiling: a reclaimed job that
	// already reached this many lease acquisitions is dead-lettered
	// instead of requeued. Zero disables the ceiling, leaving explicit
	// fail(requeue=false) as the only dead-letter path.
	maxAttempts int
}

// New creates a job queue over the tenant's durable store. maxAttempts is
// the auto-dead-letter ceiling; pass 0 to disable it.
func New(s *storage.Store, maxAttempts int) *Queue {
	return &Queue{
		store:       s,
		now:         time.Now,
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		maxAttempts: maxAttempts,
	}
}

// newJobID returns a ULID. ULIDs sort lexically by creation time, which
// makes them a stable FIFO tiebreak for jobs created in the same millisecond.
func (q *Queue) newJobID() string {
	return ulid.MustNew(ulid.Timestamp(q.now()), q.entropy).String()
}

// Push appends a job to the named queue in pending state, immediately
// visible, and returns its ID.
func (q *Queue) Push(ctx context.Context, queueName, payload string) (string, error) {
	if queueName == "" {
		return "", fmt.Errorf("queue name is required")
	}

	id := q.newJobID()
	nowMs := q.now().UTC().UnixMilli()

	_, err := q.store.DB().ExecContext(ctx,
		`INSERT INTO jobs (id, queue, payload, state, attempt, visible_at, created_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, queueName, payload, StatePending, nowMs, nowMs)
	if err != nil {
		return "", fmt.Errorf("push job to %q: %w", queueName, err)
	}
	return id, nil
}

// Lease atomically claims the oldest eligible job in the queue, marking it
// processing with a fresh lease token and incrementing its attempt count.
// Eligible means pending, or processing with an expired visibility window
// (the implicit reclaim). Returns nil when the queue has no eligible job.
func (q *Queue) Lease(ctx context.Context, queueName string, visibilitySeconds int) (*Lease, error) {
	if queueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if visibilitySeconds == 0 {
		visibilitySeconds = DefaultVisibility
	}
	if visibilitySeconds < MinVisibility || visibilitySeconds > MaxVisibility {
		return nil, fmt.Errorf("visibility_seconds must be in [%d, %d], got %d",
			MinVisibility, MaxVisibility, visibilitySeconds)
	}

	db := q.store.DB()
	now := q.now().UTC()
	nowMs := now.UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Fold expired leases back into pending before selecting. A reclaimed
	// job that already hit the attempt ceiling is dead-lettered instead.
	if q.maxAttempts > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, lease_token = NULL
			 WHERE queue = ? AND state = ? AND visible_at <= ? AND attempt >= ?`,
			StateDead, queueName, StateProcessing, nowMs, q.maxAttempts)
		if err != nil {
			return nil, fmt.Errorf("dead-letter expired leases in %q: %w", queueName, err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, lease_token = NULL
		 WHERE queue = ? AND state = ? AND visible_at <= ?`,
		StatePending, queueName, StateProcessing, nowMs)
	if err != nil {
		return nil, fmt.Errorf("reclaim expired leases in %q: %w", queueName, err)
	}

	var id, payload string
	var attempt int
	err = tx.QueryRowContext(ctx,
		`SELECT id, payload, attempt FROM jobs
		 WHERE queue = ? AND state = ?
		 ORDER BY created_at, id
		 LIMIT 1`,
		queueName, StatePending).Scan(&id, &payload, &attempt)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, fmt.Errorf("select next job in %q: %w", queueName, err)
	}

	token := uuid.NewString()
	visibleAt := now.Add(time.Duration(visibilitySeconds) * time.Second)
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, lease_token = ?, visible_at = ?, attempt = attempt + 1
		 WHERE id = ?`,
		StateProcessing, token, visibleAt.UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("lease job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Lease{
		JobID:      id,
		Payload:    payload,
		Attempt:    attempt + 1,
		LeaseToken: token,
		VisibleAt:  visibleAt,
	}, nil
}

// Complete transitions a leased job to completed. The lease token must
// still be live; a token whose visibility window lapsed (and whose job may
// have been reassigned) gets ErrStaleCompletion and changes nothing.
func (q *Queue) Complete(ctx context.Context, jobID, leaseToken string) (bool, error) {
	nowMs := q.now().UTC().UnixMilli()

	res, err := q.store.DB().ExecContext(ctx,
		`UPDATE jobs SET state = ?, lease_token = NULL
		 WHERE id = ? AND state = ? AND lease_token = ? AND visible_at > ?`,
		StateCompleted, jobID, StateProcessing, leaseToken, nowMs)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, fmt.Errorf("complete job %s: %w", jobID, ErrStaleCompletion)
	}
	return true, nil
}

// Fail records an explicit failure for a processing job. The job returns
// to pending when requeue is set or its attempt count is still below the
// configured ceiling; otherwise it is dead-lettered.
func (q *Queue) Fail(ctx context.Context, jobID string, requeue bool) (bool, error) {
	db := q.store.DB()
	nowMs := q.now().UTC().UnixMilli()

	var state string
	var attempt int
	err := db.QueryRowContext(ctx,
		"SELECT state, attempt FROM jobs WHERE id = ?", jobID).Scan(&state, &attempt)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("fail job %s: not found", jobID)
	}
	if err != nil {
		return false, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if state != StateProcessing {
		return false, fmt.Errorf("fail job %s: state is %q, not processing", jobID, state)
	}

	next := StateDead
	if requeue || (q.maxAttempts > 0 && attempt < q.maxAttempts) {
		next = StatePending
	}

	_, err = db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, lease_token = NULL, visible_at = ? WHERE id = ?",
		next, nowMs, jobID)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return true, nil
}

// Status returns aggregate counts for the named queue plus the creation
// timestamps of the oldest and newest pending jobs.
func (q *Queue) Status(ctx context.Context, queueName string) (*Status, error) {
	db := q.store.DB()

	rows, err := db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM jobs WHERE queue = ? GROUP BY state", queueName)
	if err != nil {
		return nil, fmt.Errorf("status of %q: %w", queueName, err)
	}
	defer rows.Close()

	var st Status
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		switch state {
		case StatePending:
			st.Pending = n
		case StateProcessing:
			st.Processing = n
		case StateCompleted:
			st.Completed = n
		case StateFailed:
			st.Failed = n
		case StateDead:
			st.Dead = n
		}
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldestMs, newestMs sql.NullInt64
	err = db.QueryRowContext(ctx,
		"SELECT MIN(created_at), MAX(created_at) FROM jobs WHERE queue = ? AND state = ?",
		queueName, StatePending).Scan(&oldestMs, &newestMs)
	if err != nil {
		return nil, fmt.Errorf("pending extremes of %q: %w", queueName, err)
	}
	if oldestMs.Valid {
		t := time.UnixMilli(oldestMs.Int64).UTC()
		st.OldestPending = &t
	}
	if newestMs.Valid {
		t := time.UnixMilli(newestMs.Int64).UTC()
		st.NewestPending = &t
	}
	return &st, nil
}

// Purge deletes terminal jobs (completed or dead) from the named queue and
// returns how many were removed. state narrows the purge to one terminal
// state; empty purges both.
func (q *Queue) Purge(ctx context.Context, queueName, state string) (int64, error) {
	var res sql.Result
	var err error
	switch state {
	case "":
		res, err = q.store.DB().ExecContext(ctx,
			"DELETE FROM jobs WHERE queue = ? AND state IN (?, ?)",
			queueName, StateCompleted, StateDead)
	case StateCompleted, StateDead:
		res, err = q.store.DB().ExecContext(ctx,
			"DELETE FROM jobs WHERE queue = ? AND state = ?", queueName, state)
	default:
		return 0, fmt.Errorf("purge %q: state must be completed or dead, got %q", queueName, state)
	}
	if err != nil {
		return 0, fmt.Errorf("purge %q: %w", queueName, err)
	}
	return res.RowsAffected()
}
