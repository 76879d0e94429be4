package models

import "time"

// DocumentChunk is a bounded slice of an ingested document together with its
// embedding vector. Chunks are created at ingestion time and immutable
// afterwards; they disappear only when their owning document is removed.
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Title      string    `db:"title" json:"title"`
	Source     string    `db:"source" json:"source"`
	URL        string    `db:"url" json:"url,omitempty"`
	Topics     []string  `db:"-" json:"topics"`
	Text       string    `db:"chunk_text" json:"text"`
	Embedding  []float32 `db:"-" json:"-"`
	IngestedAt time.Time `db:"ingested_at" json:"ingested_at"`
}

// ScoredChunk pairs a chunk with its relevance to a query.
type ScoredChunk struct {
	Chunk DocumentChunk `json:"chunk"`
	Score float64       `json:"score"`
}

// IndexStats summarizes the retrieval index for the control surface.
type IndexStats struct {
	ChunkCount    int      `json:"chunk_count"`
	DocumentCount int      `json:"document_count"`
	Topics        []string `json:"topics"`
	Sources       []string `json:"sources"`
}
