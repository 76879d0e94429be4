package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"mailbot/internal/cache"
	"mailbot/internal/models"
)

const schemaChunks = `
	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		title TEXT NOT NULL,
		source TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		topics TEXT NOT NULL DEFAULT '[]',
		chunk_text TEXT NOT NULL,
		embedding TEXT NOT NULL,
		ingested_at TIMESTAMP NOT NULL
	)`

const queryEmbeddingTTL = 10 * time.Minute

// SQLIndex is the default Index implementation: chunks and their embeddings
// live in a SQL table (sqlite or postgres) and similarity is ranked in
// process.
type SQLIndex struct {
	db         *sqlx.DB
	embedder   Embedder
	chunker    *Chunker
	maxChunks  int
	queryCache *cache.Cache[[]float32]
}

// NewSQLIndex creates the backing table if needed and returns the index.
func NewSQLIndex(db *sqlx.DB, embedder Embedder, chunker *Chunker, maxChunks int) (*SQLIndex, error) {
	if _, err := db.Exec(schemaChunks); err != nil {
		return nil, fmt.Errorf("failed to create document_chunks table: %w", err)
	}
	return &SQLIndex{
		db:         db,
		embedder:   embedder,
		chunker:    chunker,
		maxChunks:  maxChunks,
		queryCache: cache.New[[]float32](),
	}, nil
}

type chunkRow struct {
	ID         string    `db:"id"`
	DocumentID string    `db:"document_id"`
	Title      string    `db:"title"`
	Source     string    `db:"source"`
	URL        string    `db:"url"`
	Topics     string    `db:"topics"`
	Text       string    `db:"chunk_text"`
	Embedding  string    `db:"embedding"`
	IngestedAt time.Time `db:"ingested_at"`
}

// Ingest splits the document, embeds every chunk and stores them in one
// transaction. When the resulting chunk count would exceed the capacity
// nothing is written and ErrIndexFull is returned.
func (s *SQLIndex) Ingest(ctx context.Context, doc Document) ([]string, error) {
	pieces := s.chunker.Split(doc.Content)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("document %q has no indexable content", doc.Title)
	}

	current, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if s.maxChunks > 0 && current+len(pieces) > s.maxChunks {
		return nil, fmt.Errorf("ingest of %d chunks (index holds %d of %d): %w",
			len(pieces), current, s.maxChunks, ErrIndexFull)
	}

	vectors, err := s.embedder.Embed(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("failed to embed document %q: %w", doc.Title, err)
	}

	topicsJSON, err := json.Marshal(normalizeTopics(doc.Topics))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal topics: %w", err)
	}

	documentID := uuid.NewString()
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := s.db.Rebind(`
		INSERT INTO document_chunks
			(id, document_id, title, source, url, topics, chunk_text, embedding, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	chunkIDs := make([]string, 0, len(pieces))
	for i, piece := range pieces {
		embeddingJSON, err := json.Marshal(vectors[i])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal embedding: %w", err)
		}
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, insert,
			id, documentID, doc.Title, doc.Source, doc.URL,
			string(topicsJSON), piece, string(embeddingJSON), now); err != nil {
			return nil, fmt.Errorf("failed to store chunk %d of %q: %w", i, doc.Title, err)
		}
		chunkIDs = append(chunkIDs, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ingest: %w", err)
	}

	log.Info().
		Str("document_id", documentID).
		Str("title", doc.Title).
		Int("chunks", len(chunkIDs)).
		Msg("document ingested")
	return chunkIDs, nil
}

// Search embeds the query, scores every stored chunk by cosine similarity
// and returns the top k, highest score first. Equal scores rank the more
// recently ingested chunk first.
func (s *SQLIndex) Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}

	queryVec, ok := s.queryCache.Get(query)
	if !ok {
		vectors, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		queryVec = vectors[0]
		s.queryCache.Set(query, queryVec, queryEmbeddingTTL)
	}

	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, document_id, title, source, url, topics, chunk_text, embedding, ingested_at
		 FROM document_chunks`); err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	scored := make([]models.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.Embedding), &embedding); err != nil {
			log.Warn().Str("chunk_id", row.ID).Err(err).Msg("skipping chunk with unreadable embedding")
			continue
		}
		chunk := row.toChunk()
		chunk.Embedding = embedding
		scored = append(scored, models.ScoredChunk{
			Chunk: chunk,
			Score: cosineSimilarity(queryVec, embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.IngestedAt.After(scored[j].Chunk.IngestedAt)
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Count returns the number of stored chunks.
func (s *SQLIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM document_chunks`); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Remove deletes every chunk of the given document.
func (s *SQLIndex) Remove(ctx context.Context, documentID string) error {
	query := s.db.Rebind(`DELETE FROM document_chunks WHERE document_id = ?`)
	res, err := s.db.ExecContext(ctx, query, documentID)
	if err != nil {
		return fmt.Errorf("failed to remove document %s: %w", documentID, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		log.Info().Str("document_id", documentID).Int64("chunks", n).Msg("document removed")
	}
	return nil
}

// Stats reports chunk and document counts plus the distinct topics and
// sources seen across the index.
func (s *SQLIndex) Stats(ctx context.Context) (models.IndexStats, error) {
	var stats models.IndexStats

	if err := s.db.GetContext(ctx, &stats.ChunkCount,
		`SELECT COUNT(*) FROM document_chunks`); err != nil {
		return stats, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.DocumentCount,
		`SELECT COUNT(DISTINCT document_id) FROM document_chunks`); err != nil {
		return stats, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := s.db.SelectContext(ctx, &stats.Sources,
		`SELECT DISTINCT source FROM document_chunks WHERE source != '' ORDER BY source`); err != nil {
		return stats, fmt.Errorf("failed to list sources: %w", err)
	}

	var topicBlobs []string
	if err := s.db.SelectContext(ctx, &topicBlobs,
		`SELECT DISTINCT topics FROM document_chunks`); err != nil {
		return stats, fmt.Errorf("failed to list topics: %w", err)
	}
	seen := make(map[string]struct{})
	for _, blob := range topicBlobs {
		var topics []string
		if err := json.Unmarshal([]byte(blob), &topics); err != nil {
			continue
		}
		for _, topic := range topics {
			if _, dup := seen[topic]; dup {
				continue
			}
			seen[topic] = struct{}{}
			stats.Topics = append(stats.Topics, topic)
		}
	}
	sort.Strings(stats.Topics)
	return stats, nil
}

func (r chunkRow) toChunk() models.DocumentChunk {
	chunk := models.DocumentChunk{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Title:      r.Title,
		Source:     r.Source,
		URL:        r.URL,
		Text:       r.Text,
		IngestedAt: r.IngestedAt,
	}
	// topics are stored as a JSON array; an unreadable value degrades to none
	_ = json.Unmarshal([]byte(r.Topics), &chunk.Topics)
	return chunk
}

func normalizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := make(map[string]struct{})
	for _, topic := range topics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}
