package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// fakeEmbedder returns a fixed vector per known text and a fallback vector
// for everything else.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := f.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = f.fallback
		}
	}
	return out, nil
}

func newTestIndex(t *testing.T, embedder Embedder, maxChunks int) *SQLIndex {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	index, err := NewSQLIndex(db, embedder, NewChunker(1000, 200), maxChunks)
	require.NoError(t, err)
	return index
}

func TestSQLIndexIngestAndCount(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float32{1, 0, 0}}
	index := newTestIndex(t, embedder, 100)
	ctx := context.Background()

	ids, err := index.Ingest(ctx, Document{
		Title:   "Opening hours",
		Content: "The office is open 9 to 5 on weekdays.",
		Source:  "handbook",
		Topics:  []string{"Hours", "hours", " office "},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLIndexIngestEmptyDocument(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float32{1, 0, 0}}
	index := newTestIndex(t, embedder, 100)

	_, err := index.Ingest(context.Background(), Document{Title: "Blank", Content: "   "})
	assert.Error(t, err)
	assert.Equal(t, 0, embedder.calls)
}

func TestSQLIndexCapacityFailsClosed(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float32{1, 0, 0}}
	index := newTestIndex(t, embedder, 1)
	ctx := context.Background()

	// two paragraphs well past the chunk size force at least two chunks
	big := strings.Repeat("only the persistent visitor finds the archive. ", 30) +
		"\n\n" + strings.Repeat("records are kept in the basement annex. ", 30)
	index.chunker = NewChunker(200, 20)

	_, err := index.Ingest(ctx, Document{Title: "Archive", Content: big})
	require.ErrorIs(t, err, ErrIndexFull)

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "capacity overrun must not write partial documents")
}

func TestSQLIndexSearchRanksByScore(t *testing.T) {
	embedder := &fakeEmbedder{
		vectors: map[string][]float32{
			"dogs and leashes":  {1, 0, 0},
			"cats and scratch":  {0, 1, 0},
			"parrots and seeds": {0.9, 0.1, 0},
			"query about dogs":  {1, 0, 0},
		},
	}
	index := newTestIndex(t, embedder, 100)
	ctx := context.Background()

	for _, content := range []string{"dogs and leashes", "cats and scratch", "parrots and seeds"} {
		_, err := index.Ingest(ctx, Document{Title: content, Content: content, Source: "pets"})
		require.NoError(t, err)
	}

	results, err := index.Search(ctx, "query about dogs", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "dogs and leashes", results[0].Chunk.Text)
	assert.Equal(t, "parrots and seeds", results[1].Chunk.Text)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSQLIndexSearchTieBreaksOnRecency(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float32{1, 0, 0}}
	index := newTestIndex(t, embedder, 100)
	ctx := context.Background()

	_, err := index.Ingest(ctx, Document{Title: "older", Content: "identical content here"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = index.Ingest(ctx, Document{Title: "newer", Content: "identical content too"})
	require.NoError(t, err)

	results, err := index.Search(ctx, "anything", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "newer", results[0].Chunk.Title)
	assert.Equal(t, "older", results[1].Chunk.Title)
}

func TestSQLIndexSearchEmptyQuery(t *testing.T) {
	index := newTestIndex(t, &fakeEmbedder{fallback: []float32{1}}, 100)

	results, err := index.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLIndexSearchCachesQueryEmbedding(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	index := newTestIndex(t, embedder, 100)
	ctx := context.Background()

	_, err := index.Ingest(ctx, Document{Title: "doc", Content: "some stored text"})
	require.NoError(t, err)
	callsAfterIngest := embedder.calls

	_, err = index.Search(ctx, "repeated question", 1)
	require.NoError(t, err)
	_, err = index.Search(ctx, "repeated question", 1)
	require.NoError(t, err)

	assert.Equal(t, callsAfterIngest+1, embedder.calls)
}

func TestSQLIndexEmbedderFailurePropagates(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("rate limited")}
	index := newTestIndex(t, embedder, 100)

	_, err := index.Ingest(context.Background(), Document{Title: "doc", Content: "text"})
	assert.ErrorContains(t, err, "rate limited")

	count, err := index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSQLIndexRemove(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	index := newTestIndex(t, embedder, 100)
	ctx := context.Background()

	_, err := index.Ingest(ctx, Document{Title: "doomed", Content: "to be removed"})
	require.NoError(t, err)

	var documentID string
	require.NoError(t, index.db.Get(&documentID, `SELECT document_id FROM document_chunks LIMIT 1`))
	require.NoError(t, index.Remove(ctx, documentID))

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSQLIndexStats(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	index := newTestIndex(t, embedder, 100)
	ctx := context.Background()

	_, err := index.Ingest(ctx, Document{
		Title: "a", Content: "first document", Source: "handbook", Topics: []string{"hr"},
	})
	require.NoError(t, err)
	_, err = index.Ingest(ctx, Document{
		Title: "b", Content: "second document", Source: "wiki", Topics: []string{"it", "hr"},
	})
	require.NoError(t, err)

	stats, err := index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ChunkCount)
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, []string{"hr", "it"}, stats.Topics)
	assert.Equal(t, []string{"handbook", "wiki"}, stats.Sources)
}
