package app

import (
	"strings"
	"unicode"

	"charachat/pkg/domain"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Chunker splits text into bounded segments for embedding. Cuts prefer
// natural boundaries: paragraph break, then newline, then sentence end
// (Latin and CJK), then space, then a hard cut.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split cuts text into chunks of at most size runes. Consecutive chunks
// share at most overlap runes of trailing context.
func (c *Chunker) Split(text string) ([]string, error) {
	text = strings.TrimSpace(strings.ToValidUTF8(text, ""))
	if text == "" {
		return nil, domain.ErrEmptyContent
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}, nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			if part := strings.TrimSpace(string(runes[start:])); part != "" {
				chunks = append(chunks, part)
			}
			break
		}
		cut := c.boundary(runes, start, end)
		if part := strings.TrimSpace(string(runes[start:cut])); part != "" {
			chunks = append(chunks, part)
		}
		next := cut - c.overlap
		if next <= start {
			// overlap would stall the scan, drop it for this step
			next = cut
		}
		start = next
	}
	return chunks, nil
}

// boundary picks the cut position in (min, end], scanning backward for the
// best break. Cuts in the first half of the window are rejected so chunks
// cannot degenerate into slivers.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	min := start + c.size/2
	for i := end; i > min+1; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > min; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := end; i > min; i-- {
		if isSentenceEnd(runes[i-1]) {
			return i
		}
	}
	for i := end; i > min; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…', '；', ';':
		return true
	}
	return false
}
