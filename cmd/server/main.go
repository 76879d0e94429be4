package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailbot/internal/config"
	"mailbot/internal/database"
	"mailbot/internal/evaluator"
	"mailbot/internal/history"
	"mailbot/internal/ledger"
	"mailbot/internal/mailbox"
	"mailbot/internal/mailparse"
	"mailbot/internal/openai"
	"mailbot/internal/orchestrator"
	"mailbot/internal/rag"
	"mailbot/internal/reply"
	"mailbot/internal/retry"
	"mailbot/internal/server"
)

func main() {
	cfg := config.Load()
	logger := cfg.SetupLogger()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	processed, err := ledger.OpenFile(cfg.LedgerPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.LedgerPath).Msg("failed to open processed ledger")
	}
	defer processed.Close()

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
		logger.Info().Str("addr", cfg.QdrantAddr).Msg("using qdrant retrieval index")
	} else {
		index, err = rag.NewSQLIndex(db, ai, chunker, cfg.MaxChunks)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize retrieval index")
		}
	}

	turns, err := history.NewStore(db, cfg.HistoryCap)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize conversation history")
	}

	inbox := mailbox.NewIMAPInbox(cfg.IMAPHost, cfg.IMAPPort, cfg.MailUsername, cfg.MailPassword)
	sender := mailbox.NewSendGridSender(cfg.SendGridAPIKey, cfg.FromAddress, cfg.FromName)
	retries := retry.NewPolicy()

	orch := orchestrator.New(
		inbox,
		sender,
		mailparse.New(cfg.MaxMessageSizeMB),
		processed,
		evaluator.New(ai, time.Duration(cfg.OpenAITimeout)*time.Second),
		index,
		reply.NewGenerator(ai, retries, cfg.ContextCharLimit, cfg.HistoryWindow),
		turns,
		retries,
		orchestrator.Options{
			Interval:      time.Duration(cfg.PollingInterval) * time.Second,
			MaxBatchSize:  cfg.MaxBatchSize,
			MaxResults:    cfg.MaxResults,
			HistoryWindow: cfg.HistoryWindow,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)

	srv := server.New(cfg, logger, db, orch, index, processed, turns)
	srv.Initialize()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := orch.Close(); err != nil {
		logger.Error().Err(err).Msg("pipeline shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}
