package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	Port     string
	Version  string
	LogLevel string

	// Mailbox credentials. The IMAP half reads, SendGrid sends.
	IMAPHost       string
	IMAPPort       int
	MailUsername   string
	MailPassword   string
	SendGridAPIKey string
	FromAddress    string
	FromName       string

	// OpenAI
	OpenAIKey            string
	OpenAIModel          string
	OpenAIEmbeddingModel string
	OpenAITimeout        int // seconds, applies to every model call

	// Pipeline
	PollingInterval  int     // seconds between scheduled runs
	MaxBatchSize     int     // messages processed per cycle
	MaxMessageSizeMB float64 // larger inbound messages are skipped
	LedgerPath       string  // processed-message ledger file

	// Retrieval index
	DatabaseURL      string // sqlite path or postgres:// URL
	QdrantAddr       string // host:port; when set, chunks live in Qdrant
	ChunkSize        int    // runes per chunk
	ChunkOverlap     int    // rune overlap between adjacent chunks
	MaxChunks        int    // index capacity, ingestion fails closed beyond it
	MaxResults       int    // top-k chunks handed to the reply generator
	ContextCharLimit int    // per-chunk cap inside the prompt

	// Conversation history
	HistoryWindow int // prior turns included in the prompt
	HistoryCap    int // turns retained per sender
}

// Load initializes and returns application configuration
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Version:  getEnv("VERSION", "1.0.0"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		IMAPHost:       getEnv("IMAP_HOST", "imap.gmail.com"),
		IMAPPort:       getEnvInt("IMAP_PORT", 993),
		MailUsername:   os.Getenv("MAIL_USERNAME"),
		MailPassword:   os.Getenv("MAIL_PASSWORD"),
		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		FromAddress:    getEnv("FROM_ADDRESS", os.Getenv("MAIL_USERNAME")),
		FromName:       getEnv("FROM_NAME", "Mailbot"),

		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          getEnv("OPENAI_MODEL", ""),
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", ""),
		OpenAITimeout:        getEnvInt("OPENAI_TIMEOUT", 60),

		PollingInterval:  getEnvInt("POLLING_INTERVAL", 300),
		MaxBatchSize:     getEnvInt("MAX_BATCH_SIZE", 10),
		MaxMessageSizeMB: getEnvFloat("MAX_MESSAGE_SIZE_MB", 5.0),
		LedgerPath:       getEnv("LEDGER_PATH", "processed_messages.json"),

		DatabaseURL:      getEnv("DATABASE_URL", "mailbot.db"),
		QdrantAddr:       os.Getenv("QDRANT_ADDR"),
		ChunkSize:        getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 200),
		MaxChunks:        getEnvInt("MAX_CHUNKS", 10000),
		MaxResults:       getEnvInt("MAX_RESULTS", 5),
		ContextCharLimit: getEnvInt("CONTEXT_CHAR_LIMIT", 1200),

		HistoryWindow: getEnvInt("HISTORY_WINDOW", 6),
		HistoryCap:    getEnvInt("HISTORY_CAP", 20),
	}
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as integer with a default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float with a default fallback
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// SetupLogger configures zerolog with JSON output and single-line format
func (c *Config) SetupLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "mailbot").
		Str("version", c.Version).
		Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}
