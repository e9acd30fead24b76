package core

import (
	"context"

	"github.com/markdave123-py/documind/internal/models"
)

// ExtractedText represents the result of text extraction, potentially with metadata.
type ExtractedText struct {
	Text      string
	PageCount *int
	Metadata  map[string]string
}

// TextExtractor converts raw file bytes of a declared type into plain text.
// Failures are reported as *ExtractionError wrapping ErrUnsupportedType or ErrCorruptInput.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, fileType models.FileType) (*ExtractedText, error)
}
