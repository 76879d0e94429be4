package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"mailbot/internal/models"
)

const qdrantCollection = "document_chunks"

// statsScrollLimit bounds how many payloads Stats inspects for topic and
// source listings.
const statsScrollLimit = 1024

// QdrantIndex stores chunks in a remote Qdrant collection with cosine
// distance. Selected when QDRANT_ADDR is configured; the collection is
// created lazily on the first ingest, once the embedding dimension is known.
type QdrantIndex struct {
	client    *qdrant.Client
	embedder  Embedder
	chunker   *Chunker
	maxChunks int
}

// NewQdrantIndex connects to the Qdrant instance at addr (host:port, port
// defaults to 6334).
func NewQdrantIndex(addr string, embedder Embedder, chunker *Chunker, maxChunks int) (*QdrantIndex, error) {
	host := addr
	port := 6334
	if h, p, ok := strings.Cut(addr, ":"); ok {
		host = h
		if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
			return nil, fmt.Errorf("invalid qdrant address %q: %w", addr, err)
		}
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s: %w", addr, err)
	}
	return &QdrantIndex{
		client:    client,
		embedder:  embedder,
		chunker:   chunker,
		maxChunks: maxChunks,
	}, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dim int) error {
	exists, err := q.client.CollectionExists(ctx, qdrantCollection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qdrantCollection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	log.Info().Str("collection", qdrantCollection).Int("dim", dim).Msg("qdrant collection created")
	return nil
}

// Ingest splits, embeds and upserts the document's chunks. Capacity is
// checked before any point is written.
func (q *QdrantIndex) Ingest(ctx context.Context, doc Document) ([]string, error) {
	pieces := q.chunker.Split(doc.Content)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("document %q has no indexable content", doc.Title)
	}

	current, err := q.Count(ctx)
	if err != nil {
		return nil, err
	}
	if q.maxChunks > 0 && current+len(pieces) > q.maxChunks {
		return nil, fmt.Errorf("ingest of %d chunks (index holds %d of %d): %w",
			len(pieces), current, q.maxChunks, ErrIndexFull)
	}

	vectors, err := q.embedder.Embed(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("failed to embed document %q: %w", doc.Title, err)
	}
	if err := q.ensureCollection(ctx, len(vectors[0])); err != nil {
		return nil, err
	}

	documentID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	topics := normalizeTopics(doc.Topics)
	topicValues := make([]any, len(topics))
	for i, topic := range topics {
		topicValues[i] = topic
	}

	chunkIDs := make([]string, 0, len(pieces))
	points := make([]*qdrant.PointStruct, 0, len(pieces))
	for i, piece := range pieces {
		id := uuid.NewString()
		chunkIDs = append(chunkIDs, id)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": documentID,
				"title":       doc.Title,
				"source":      doc.Source,
				"url":         doc.URL,
				"topics":      topicValues,
				"chunk_text":  piece,
				"ingested_at": now,
			}),
		})
	}

	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qdrantCollection,
		Points:         points,
	}); err != nil {
		return nil, fmt.Errorf("failed to upsert chunks: %w", err)
	}

	log.Info().
		Str("document_id", documentID).
		Str("title", doc.Title).
		Int("chunks", len(chunkIDs)).
		Msg("document ingested into qdrant")
	return chunkIDs, nil
}

// Search ranks stored chunks against the query, highest cosine score first.
func (q *QdrantIndex) Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}
	exists, err := q.client.CollectionExists(ctx, qdrantCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil, nil
	}

	vectors, err := q.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qdrantCollection,
		Query:          qdrant.NewQuery(vectors[0]...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	scored := make([]models.ScoredChunk, 0, len(points))
	for _, point := range points {
		chunk := chunkFromPayload(point.Payload)
		if id := point.Id.GetUuid(); id != "" {
			chunk.ID = id
		}
		scored = append(scored, models.ScoredChunk{Chunk: chunk, Score: float64(point.Score)})
	}
	return scored, nil
}

// Count returns the number of stored chunks; a missing collection counts as
// empty.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	exists, err := q.client.CollectionExists(ctx, qdrantCollection)
	if err != nil {
		return 0, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return 0, nil
	}
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: qdrantCollection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Remove deletes every chunk of the given document.
func (q *QdrantIndex) Remove(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qdrantCollection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to remove document %s: %w", documentID, err)
	}
	return nil
}

// Stats reports counts plus topics and sources sampled from stored payloads.
func (q *QdrantIndex) Stats(ctx context.Context) (models.IndexStats, error) {
	var stats models.IndexStats

	count, err := q.Count(ctx)
	if err != nil {
		return stats, err
	}
	stats.ChunkCount = count
	if count == 0 {
		return stats, nil
	}

	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: qdrantCollection,
		Limit:          qdrant.PtrOf(uint32(statsScrollLimit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return stats, fmt.Errorf("failed to scroll points: %w", err)
	}

	documents := make(map[string]struct{})
	topics := make(map[string]struct{})
	sources := make(map[string]struct{})
	for _, point := range points {
		payload := point.Payload
		if id := payload["document_id"].GetStringValue(); id != "" {
			documents[id] = struct{}{}
		}
		if source := payload["source"].GetStringValue(); source != "" {
			sources[source] = struct{}{}
		}
		if list := payload["topics"].GetListValue(); list != nil {
			for _, value := range list.Values {
				if topic := value.GetStringValue(); topic != "" {
					topics[topic] = struct{}{}
				}
			}
		}
	}
	stats.DocumentCount = len(documents)
	stats.Topics = sortedKeys(topics)
	stats.Sources = sortedKeys(sources)
	return stats, nil
}

func chunkFromPayload(payload map[string]*qdrant.Value) models.DocumentChunk {
	chunk := models.DocumentChunk{
		DocumentID: payload["document_id"].GetStringValue(),
		Title:      payload["title"].GetStringValue(),
		Source:     payload["source"].GetStringValue(),
		URL:        payload["url"].GetStringValue(),
		Text:       payload["chunk_text"].GetStringValue(),
	}
	if list := payload["topics"].GetListValue(); list != nil {
		for _, value := range list.Values {
			if topic := value.GetStringValue(); topic != "" {
				chunk.Topics = append(chunk.Topics, topic)
			}
		}
	}
	if raw := payload["ingested_at"].GetStringValue(); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			chunk.IngestedAt = t
		}
	}
	return chunk
}
