// Package chunker splits extracted text into overlapping fixed-size passages.
package chunker

import (
	"strconv"
	"unicode/utf8"

	"github.com/markdave123-py/documind/internal/core"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Passage is one chunk of a document in reading order.
//
// Index:      zero-based, gap-free position inside the document.
// Start:      rune offset of the first character in the source text.
// Text:       passage content.
// TokenCount: approximate token count (~4 chars per token).
type Passage struct {
	Index      int
	Start      int
	Text       string
	TokenCount int
}

// Chunker slides a window of size characters across a text, advancing by size-overlap.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window parameters.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, &core.ConfigurationError{Field: "chunk_size", Reason: "must be positive, got " + strconv.Itoa(size)}
	}
	if overlap < 0 {
		return nil, &core.ConfigurationError{Field: "chunk_overlap", Reason: "must not be negative, got " + strconv.Itoa(overlap)}
	}
	if overlap >= size {
		return nil, &core.ConfigurationError{
			Field:  "chunk_overlap",
			Reason: "must be smaller than chunk_size (" + strconv.Itoa(overlap) + " >= " + strconv.Itoa(size) + ")",
		}
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window length in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of characters shared by consecutive passages.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk is the slice form of Each.
func (c *Chunker) Chunk(text string) []Passage {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return nil
	}
	out := make([]Passage, 0, n/(c.size-c.overlap)+1)
	_ = c.Each(text, func(p Passage) error {
		out = append(out, p)
		return nil
	})
	return out
}

// Each emits passages in reading order and stops at the first error returned by emit.
// Windows start at 0, step, 2*step, ... and the last one is the first window that reaches the end of
// the text, so the tail is always covered and no passage is a pure suffix of its predecessor.
// Empty text produces no passages.
func (c *Chunker) Each(text string, emit func(Passage) error) error {
	runes := []rune(text)
	total := len(runes)
	if total == 0 {
		return nil
	}

	step := c.size - c.overlap
	index := 0
	for start := 0; ; start += step {
		end := start + c.size
		if end > total {
			end = total
		}

		body := string(runes[start:end])
		if err := emit(Passage{
			Index:      index,
			Start:      start,
			Text:       body,
			TokenCount: ApproxTokens(body),
		}); err != nil {
			return err
		}
		index++

		if end == total {
			return nil
		}
	}
}

// ApproxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func ApproxTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
