package outbound

import (
	"strings"
	"unicode"
)

// DefaultChunkSize keeps outbound messages short enough to read
// comfortably on a phone; several small messages beat one wall of text.
const DefaultChunkSize = 800

// Chunker splits long replies into channel-sized pieces, preferring
// natural boundaries: paragraph breaks, then single newlines, then
// sentence endings, then word boundaries, then a hard cut.
type Chunker struct {
	MaxSize int
}

// NewChunker creates a chunker; non-positive sizes get the default.
func NewChunker(maxSize int) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	return &Chunker{MaxSize: maxSize}
}

// Chunk splits text into pieces no longer than MaxSize.
func (c *Chunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.MaxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > c.MaxSize {
		breakIdx := c.breakPoint(remaining)
		if breakIdx <= 0 {
			breakIdx = c.MaxSize
		}
		chunk := strings.TrimRightFunc(remaining[:breakIdx], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[breakIdx:], unicode.IsSpace)
	}
	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func (c *Chunker) breakPoint(text string) int {
	window := text[:c.MaxSize]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > 0 {
			return idx + 1
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return c.MaxSize
}
