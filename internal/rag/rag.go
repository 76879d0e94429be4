// Package rag implements the retrieval index: documents are chunked,
// embedded and stored, then ranked against query embeddings by cosine
// similarity.
package rag

import (
	"context"
	"errors"
	"math"
	"sort"

	"mailbot/internal/models"
)

// ErrIndexFull is returned when an ingest would push the index past its
// configured chunk capacity. Nothing is written in that case.
var ErrIndexFull = errors.New("retrieval index is at capacity")

// Embedder turns texts into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Document is the unit of ingestion.
type Document struct {
	Title   string
	Content string
	Source  string
	URL     string
	Topics  []string
}

// Index stores document chunks and answers similarity queries.
type Index interface {
	Ingest(ctx context.Context, doc Document) (chunkIDs []string, err error)
	Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
	Count(ctx context.Context) (int, error)
	Remove(ctx context.Context, documentID string) error
	Stats(ctx context.Context) (models.IndexStats, error)
}

// cosineSimilarity between two vectors; zero when lengths differ or either
// vector has zero norm.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
