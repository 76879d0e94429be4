// Command ingest loads a text document into the retrieval index from the
// command line, using the same configuration as the server.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"mailbot/internal/config"
	"mailbot/internal/database"
	"mailbot/internal/openai"
	"mailbot/internal/rag"
)

func main() {
	var (
		file   = flag.String("file", "", "path to the text file to ingest (defaults to stdin)")
		title  = flag.String("title", "", "document title")
		source = flag.String("source", "cli", "document source label")
		url    = flag.String("url", "", "optional source URL")
		topics = flag.String("topics", "", "comma-separated topic tags")
	)
	flag.Parse()

	cfg := config.Load()
	logger := cfg.SetupLogger()

	var content []byte
	var err error
	if *file != "" {
		content, err = os.ReadFile(*file)
		if err != nil {
			logger.Fatal().Err(err).Str("file", *file).Msg("failed to read input file")
		}
	} else {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read stdin")
		}
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		logger.Fatal().Msg("no content to ingest")
	}
	if *title == "" && *file != "" {
		*title = *file
	}

	ai, err := openai.NewClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create OpenAI client")
	}

	chunker := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	var index rag.Index
	if cfg.QdrantAddr != "" {
		index, err = rag.NewQdrantIndex(cfg.QdrantAddr, ai, chunker, cfg.MaxChunks)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.QdrantAddr).Msg("failed to connect to qdrant")
		}
	} else {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		index, err = rag.NewSQLIndex(db, ai, chunker, cfg.MaxChunks)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize retrieval index")
		}
	}

	var topicList []string
	for _, topic := range strings.Split(*topics, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			topicList = append(topicList, topic)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	chunkIDs, err := index.Ingest(ctx, rag.Document{
		Title:   *title,
		Content: string(content),
		Source:  *source,
		URL:     *url,
		Topics:  topicList,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("ingestion failed")
	}

	logger.Info().Int("chunks", len(chunkIDs)).Str("title", *title).Msg("document ingested")
}
