package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailbot/internal/cache"
	"mailbot/internal/ledger"
	"mailbot/internal/models"
	"mailbot/internal/rag"

	"github.com/labstack/echo/v4"
)

const statsCacheTTL = 30 * time.Second

// DocumentHandler ingests a plain document into the retrieval index.
func DocumentHandler(index rag.Index) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req models.IngestRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		}
		if strings.TrimSpace(req.Content) == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "content is required"})
		}

		source := req.Source
		if source == "" {
			source = "document"
		}
		chunkIDs, err := index.Ingest(c.Request().Context(), rag.Document{
			Title:   req.Title,
			Content: req.Content,
			Source:  source,
			URL:     req.URL,
			Topics:  req.Topics,
		})
		if err != nil {
			if errors.Is(err, rag.ErrIndexFull) {
				return c.JSON(http.StatusInsufficientStorage, models.ErrorResponse{Error: err.Error()})
			}
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		}

		return c.JSON(http.StatusCreated, models.IngestResponse{
			ChunkIDs:   chunkIDs,
			ChunkCount: len(chunkIDs),
		})
	}
}

// ArticleHandler ingests an article: the title is prepended to the content
// so it is retrievable by name, and the URL travels with every chunk.
func ArticleHandler(index rag.Index) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req models.IngestRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		}
		if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "title and content are required"})
		}

		chunkIDs, err := index.Ingest(c.Request().Context(), rag.Document{
			Title:   req.Title,
			Content: "Title: " + req.Title + "\n\n" + req.Content,
			Source:  "article",
			URL:     req.URL,
			Topics:  req.Topics,
		})
		if err != nil {
			if errors.Is(err, rag.ErrIndexFull) {
				return c.JSON(http.StatusInsufficientStorage, models.ErrorResponse{Error: err.Error()})
			}
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		}

		return c.JSON(http.StatusCreated, models.IngestResponse{
			ChunkIDs:   chunkIDs,
			ChunkCount: len(chunkIDs),
		})
	}
}

// SearchHandler runs a sandbox retrieval query against the index.
func SearchHandler(index rag.Index) echo.HandlerFunc {
	return func(c echo.Context) error {
		query := strings.TrimSpace(c.QueryParam("q"))
		if query == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "query parameter q is required"})
		}

		k := 5
		if raw := c.QueryParam("k"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > 50 {
				return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "k must be a positive integer up to 50"})
			}
			k = parsed
		}

		results, err := index.Search(c.Request().Context(), query, k)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		}
		if results == nil {
			results = []models.ScoredChunk{}
		}

		return c.JSON(http.StatusOK, models.SearchResponse{Query: query, Results: results})
	}
}

// StatsHandler reports index statistics plus the ledger size. Results are
// cached briefly since stats walk the whole index.
func StatsHandler(index rag.Index, processed ledger.Ledger, statsCache *cache.Cache[models.StatsResponse]) echo.HandlerFunc {
	return func(c echo.Context) error {
		if cached, ok := statsCache.Get("stats"); ok {
			return c.JSON(http.StatusOK, cached)
		}

		indexStats, err := index.Stats(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		}

		response := models.StatsResponse{
			Index:          indexStats,
			ProcessedCount: processed.Len(),
		}
		statsCache.Set("stats", response, statsCacheTTL)
		return c.JSON(http.StatusOK, response)
	}
}
