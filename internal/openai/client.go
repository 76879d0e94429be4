// Package openai wraps the OpenAI API behind the two capabilities the
// pipeline needs: text embedding and chat completion. Consumers depend on
// small interfaces so tests run without a live service.
package openai

import (
	"context"
	"fmt"
	"time"

	"mailbot/internal/config"

	"github.com/sashabaranov/go-openai"
)

// Client is the concrete OpenAI-backed implementation of the embedding and
// completion capabilities.
type Client struct {
	api        *openai.Client
	chatModel  string
	embedModel openai.EmbeddingModel
	timeout    time.Duration
}

// NewClient creates a client from configuration. Models default to
// GPT-4o-mini and text-embedding-3-small when not overridden.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not configured")
	}

	chatModel := cfg.OpenAIModel
	if chatModel == "" {
		chatModel = string(openai.GPT4oMini)
	}
	embedModel := openai.SmallEmbedding3
	if cfg.OpenAIEmbeddingModel != "" {
		embedModel = openai.EmbeddingModel(cfg.OpenAIEmbeddingModel)
	}

	timeout := time.Duration(cfg.OpenAITimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		api:        openai.NewClient(cfg.OpenAIKey),
		chatModel:  chatModel,
		embedModel: embedModel,
		timeout:    timeout,
	}, nil
}

// Embed generates embeddings for the given texts, one vector per input.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.embedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}
	return embeddings, nil
}

// Complete runs a single-turn chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatModel returns the configured chat model name.
func (c *Client) ChatModel() string {
	return c.chatModel
}

// EmbeddingModel returns the configured embedding model name.
func (c *Client) EmbeddingModel() string {
	return string(c.embedModel)
}
