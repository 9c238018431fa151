package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantd/tenantd/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func f64(v float64) *float64 { return &v }

func TestPut_Validation(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	base := Record{
		Key:       "k",
		Content:   "c",
		Embedding: []float32{1, 0},
		Type:      TypeFact,
	}

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing key", func(r *Record) { r.Key = "" }},
		{"missing content", func(r *Record) { r.Content = "" }},
		{"missing embedding", func(r *Record) { r.Embedding = nil }},
		{"bad type", func(r *Record) { r.Type = "gossip" }},
		{"importance too high", func(r *Record) { r.Importance = 11 }},
		{"importance negative", func(r *Record) { r.Importance = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base
			tt.mutate(&rec)
			assert.Error(t, m.Put(ctx, rec))
		})
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	rec := Record{
		Key:        "meeting-notes",
		Content:    "discussed the rollout plan",
		Summary:    "rollout plan",
		Embedding:  []float32{0.1, 0.2, 0.3},
		Tags:       []string{"work", "planning"},
		Type:       TypeNote,
		Importance: 7,
	}
	require.NoError(t, m.Put(ctx, rec))

	got, err := m.Get(ctx, "meeting-notes")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.Equal(t, 7, got.Importance)
}

func TestPut_UpsertReplaces(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	rec := Record{Key: "k", Content: "old", Embedding: []float32{1, 0}, Type: TypeFact}
	require.NoError(t, m.Put(ctx, rec))

	rec.Content = "new"
	rec.Importance = 9
	require.NoError(t, m.Put(ctx, rec))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)
	assert.Equal(t, 9, got.Importance)

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGet_NotFound(t *testing.T) {
	m := newTestStore(t)
	got, err := m.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSearch_RankingAndFloor(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	put := func(key string, emb []float32) {
		require.NoError(t, m.Put(ctx, Record{
			Key: key, Content: key, Embedding: emb, Type: TypeFact,
		}))
	}
	put("identical", []float32{1, 0, 0})
	put("close", []float32{0.9, 0.1, 0})
	put("orthogonal", []float32{0, 1, 0})
	put("opposite", []float32{-1, 0, 0})

	results, err := m.Search(ctx, []float32{1, 0, 0}, SearchOptions{MinSimilarity: f64(0.5)})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "identical", results[0].Record.Key)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, "close", results[1].Record.Key)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.5)
	}
}

func TestSearch_NegativeFloorIncludesOpposite(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, Record{
		Key: "opposite", Content: "x", Embedding: []float32{-1, 0}, Type: TypeFact,
	}))

	results, err := m.Search(ctx, []float32{1, 0}, SearchOptions{MinSimilarity: f64(-1)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, -1.0, results[0].Similarity, 1e-6)
}

func TestSearch_Filters(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, Record{
		Key: "a", Content: "x", Embedding: []float32{1, 0}, Type: TypeFact,
		Tags: []string{"alpha"}, Importance: 2,
	}))
	require.NoError(t, m.Put(ctx, Record{
		Key: "b", Content: "x", Embedding: []float32{1, 0}, Type: TypeTask,
		Tags: []string{"beta"}, Importance: 8,
	}))

	query := []float32{1, 0}

	// Type filter.
	results, err := m.Search(ctx, query, SearchOptions{Type: TypeTask})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Record.Key)

	// Importance filter.
	minImp := 5
	results, err = m.Search(ctx, query, SearchOptions{MinImportance: &minImp})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Record.Key)

	// Tag filter is match-any.
	results, err = m.Search(ctx, query, SearchOptions{Tags: []string{"alpha", "missing"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Record.Key)
}

func TestSearch_LimitTruncates(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, m.Put(ctx, Record{
			Key: key, Content: "x", Embedding: []float32{1, 0}, Type: TypeFact,
		}))
	}

	results, err := m.Search(ctx, []float32{1, 0}, SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	_, err = m.Search(ctx, []float32{1, 0}, SearchOptions{Limit: 101})
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, Record{
		Key: "k", Content: "x", Embedding: []float32{1}, Type: TypeFact,
	}))

	deleted, err := m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosine(tt.a, tt.b), 1e-6)
		})
	}
}

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}
	assert.Equal(t, vec, blobToEmbedding(embeddingToBlob(vec)))
}
