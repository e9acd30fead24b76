package ingestion_engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

// extractDocument pulls the raw upload from object storage and turns it into text.
// A document whose extraction yields only whitespace is treated as corrupt.
func (i *DocumentIngestor) extractDocument(ctx context.Context, doc *models.Document) (*core.ExtractedText, error) {
	raw, err := i.obj.GetFile(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	res, err := i.extractor.Extract(ctx, raw, doc.FileType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, &core.ExtractionError{
			FileType: string(doc.FileType),
			Err:      fmt.Errorf("%w: no extractable text", core.ErrCorruptInput),
		}
	}

	i.logger.Debug().
		Str("document_id", doc.ID).
		Int("chars", len([]rune(res.Text))).
		Msg("text extracted")
	return res, nil
}

// preview returns the first n runes of text.
func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
