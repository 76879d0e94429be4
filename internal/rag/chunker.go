package rag

import "strings"

// separator preference order for splitting: paragraph break, line break,
// sentence end, word boundary.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits document text into overlapping pieces bounded by Size runes.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker. Non-positive size falls back to 1000 runes,
// negative overlap to 0; overlap is clamped below size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split breaks text into chunks of at most Size runes, each overlapping the
// previous by roughly Overlap runes. Splits land on the strongest separator
// available inside the window; whitespace-only pieces are dropped.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.Size {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.splitPoint(runes, start, end)
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}

		if end == len(runes) {
			break
		}
		next := end - c.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// splitPoint finds the best cut position in (start, limit], preferring the
// strongest separator whose last occurrence falls in the second half of the
// window so chunks do not degenerate.
func (c *Chunker) splitPoint(runes []rune, start, limit int) int {
	window := string(runes[start:limit])
	half := (limit - start) / 2

	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		pos := len([]rune(window[:idx]))
		if pos < half {
			continue
		}
		if sep == ". " {
			// keep the period with the sentence
			return start + pos + 1
		}
		return start + pos
	}
	return limit
}
