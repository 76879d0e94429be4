package models

import "time"

// HealthResponse represents a basic health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// StatusResponse is the orchestrator status snapshot returned by the
// control surface.
type StatusResponse struct {
	Running        bool       `json:"running"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastOutcome    string     `json:"last_outcome"`
	ProcessedCount int        `json:"processed_count"`
	LastError      string     `json:"last_error,omitempty"`
}

// TriggerResponse is returned by the manual poll trigger.
type TriggerResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// IngestRequest is the payload for document and article ingestion.
type IngestRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Source  string   `json:"source,omitempty"`
	URL     string   `json:"url,omitempty"`
	Topics  []string `json:"topics,omitempty"`
}

// IngestResponse reports the chunks created by an ingestion.
type IngestResponse struct {
	ChunkIDs   []string `json:"chunk_ids"`
	ChunkCount int      `json:"chunk_count"`
}

// SearchResponse wraps a retrieval sandbox query result.
type SearchResponse struct {
	Query   string        `json:"query"`
	Results []ScoredChunk `json:"results"`
}

// StatsResponse combines index statistics with ledger size.
type StatsResponse struct {
	Index          IndexStats `json:"index"`
	ProcessedCount int        `json:"processed_count"`
}

// ErrorResponse is the generic error envelope for API handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}
