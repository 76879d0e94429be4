package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerEmptyText(t *testing.T) {
	c := NewChunker(100, 20)

	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\n  "))
}

func TestChunkerShortTextSingleChunk(t *testing.T) {
	c := NewChunker(100, 20)

	chunks := c.Split("  a short note about opening hours  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short note about opening hours", chunks[0])
}

func TestChunkerBoundsChunkSize(t *testing.T) {
	c := NewChunker(50, 10)
	text := strings.Repeat("word ", 100)

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 50)
		assert.NotEmpty(t, chunk)
	}
}

func TestChunkerCoversAllContent(t *testing.T) {
	c := NewChunker(40, 10)
	text := "alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima"

	chunks := c.Split(text)
	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(text) {
		assert.Contains(t, joined, word)
	}
}

func TestChunkerOverlapRepeatsBoundaryText(t *testing.T) {
	c := NewChunker(40, 15)
	text := strings.Repeat("one two three four five six seven ", 5)

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	// the tail of each chunk reappears at the head of the next one
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1])
		lastWord := prevWords[len(prevWords)-1]
		assert.Contains(t, chunks[i], lastWord)
	}
}

func TestChunkerPrefersParagraphBreaks(t *testing.T) {
	c := NewChunker(60, 0)
	first := strings.Repeat("a", 35)
	second := strings.Repeat("b", 35)

	chunks := c.Split(first + "\n\n" + second)
	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0])
	assert.Equal(t, second, chunks[1])
}

func TestChunkerDefaults(t *testing.T) {
	c := NewChunker(0, -5)
	assert.Equal(t, 1000, c.Size)
	assert.Equal(t, 0, c.Overlap)

	c = NewChunker(100, 100)
	assert.Less(t, c.Overlap, c.Size)
}
