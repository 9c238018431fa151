// Package memory implements the embedding-indexed semantic record store.
//
// Records are keyed upserts carrying an embedding vector supplied by the
// caller (vector generation is an external concern). Search is a
// brute-force cosine scan over the tenant's records — exact, and fast
// enough at per-tenant scale; no approximate index is warranted below
// single-digit thousands of records.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tenantd/tenantd/internal/storage"
)

// Record types.
const (
	TypeFact         = "fact"
	TypeConversation = "conversation"
	TypeTask         = "task"
	TypeNote         = "note"
)

// Search defaults and limits.
const (
	DefaultSearchLimit   = 10
	MaxSearchLimit       = 100
	DefaultMinSimilarity = 0.5
)

// Record is a stored semantic memory.
type Record struct {
	Key        string    `json:"key"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Type       string    `json:"type"`
	Importance int       `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchOptions narrow and rank a similarity search.
type SearchOptions struct {
	Limit         int      `json:"limit,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"` // nil means DefaultMinSimilarity
	Tags          []string `json:"tags,omitempty"`           // match-any
	Type          string   `json:"type,omitempty"`
	MinImportance *int     `json:"min_importance,omitempty"`
}

// SearchResult pairs a record with its similarity to the query.
type SearchResult struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
}

// Store provides memory operations against one tenant's database.
type Store struct {
	store *storage.Store
	now   func() time.Time
}

// New creates a memory store over the tenant's durable store.
func New(s *storage.Store) *Store {
	return &Store{store: s, now: time.Now}
}

func validType(t string) bool {
	switch t {
	case TypeFact, TypeConversation, TypeTask, TypeNote:
		return true
	}
	return false
}

// Put upserts a record by key.
func (m *Store) Put(ctx context.Context, rec Record) error {
	if rec.Key == "" {
		return fmt.Errorf("memory key is required")
	}
	if rec.Content == "" {
		return fmt.Errorf("memory content is required")
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("memory embedding is required")
	}
	if !validType(rec.Type) {
		return fmt.Errorf("invalid memory type %q", rec.Type)
	}
	if rec.Importance < 0 || rec.Importance > 10 {
		return fmt.Errorf("importance must be in [0, 10], got %d", rec.Importance)
	}

	var tagsJSON *string
	if len(rec.Tags) > 0 {
		b, _ := json.Marshal(rec.Tags)
		s := string(b)
		tagsJSON = &s
	}

	_, err := m.store.DB().ExecContext(ctx,
		`INSERT INTO memory (key, content, summary, embedding, tags, type, importance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			content    = excluded.content,
			summary    = excluded.summary,
			embedding  = excluded.embedding,
			tags       = excluded.tags,
			type       = excluded.type,
			importance = excluded.importance`,
		rec.Key, rec.Content, rec.Summary, embeddingToBlob(rec.Embedding),
		tagsJSON, rec.Type, rec.Importance, m.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put memory %q: %w", rec.Key, err)
	}
	return nil
}

// Get returns the record for key, or nil if it does not exist.
func (m *Store) Get(ctx context.Context, key string) (*Record, error) {
	row := m.store.DB().QueryRowContext(ctx,
		`SELECT key, content, summary, embedding, tags, type, importance, created_at
		 FROM memory WHERE key = ?`, key)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %q: %w", key, err)
	}
	return rec, nil
}

// Delete removes the record for key. Returns false if it did not exist.
func (m *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := m.store.DB().ExecContext(ctx, "DELETE FROM memory WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("delete memory %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns all records, newest first.
func (m *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT key, content, summary, embedding, tags, type, importance, created_at
		 FROM memory ORDER BY created_at DESC, key`)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Search ranks records by cosine similarity to the query embedding,
// applying the scalar and tag filters before scoring. Results below the
// similarity floor are dropped; the rest are sorted descending and
// truncated to the limit.
func (m *Store) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return nil, fmt.Errorf("limit must be at most %d, got %d", MaxSearchLimit, limit)
	}
	minSim := DefaultMinSimilarity
	if opts.MinSimilarity != nil {
		minSim = *opts.MinSimilarity
	}

	where := "1=1"
	var args []any
	if opts.Type != "" {
		if !validType(opts.Type) {
			return nil, fmt.Errorf("invalid memory type %q", opts.Type)
		}
		where += " AND type = ?"
		args = append(args, opts.Type)
	}
	if opts.MinImportance != nil {
		where += " AND importance >= ?"
		args = append(args, *opts.MinImportance)
	}

	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT key, content, summary, embedding, tags, type, importance, created_at
		 FROM memory WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if len(opts.Tags) > 0 && !matchAnyTag(rec.Tags, opts.Tags) {
			continue
		}
		sim := cosine(query, rec.Embedding)
		if sim < minSim {
			continue
		}
		results = append(results, SearchResult{Record: *rec, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// matchAnyTag reports whether the record carries at least one wanted tag.
func matchAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var blob []byte
	var tagsJSON sql.NullString
	var createdMs int64

	err := row.Scan(&rec.Key, &rec.Content, &rec.Summary, &blob,
		&tagsJSON, &rec.Type, &rec.Importance, &createdMs)
	if err != nil {
		return nil, err
	}
	rec.Embedding = blobToEmbedding(blob)
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &rec.Tags)
	}
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &rec, nil
}
