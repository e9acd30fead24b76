package ingestion_engine

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

// embedAndCollect drains the chunk channel, embeds in batches of batchSize
// and accumulates rows. Nothing is written here; the caller persists the
// whole set in one call once every batch succeeded.
func (i *DocumentIngestor) embedAndCollect(
	ctx context.Context,
	doc *models.Document,
	chunks <-chan passage,
	batchSize int,
	meta map[string]string,
	rows *[]models.DocumentChunk,
) error {
	batch := make([]passage, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, len(batch))
		for j, p := range batch {
			texts[j] = p.Text
		}

		vecs, err := i.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch at chunk %d: %w", batch[0].Index, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed batch at chunk %d: got %d vectors for %d texts", batch[0].Index, len(vecs), len(batch))
		}

		dim := i.embedder.Dimension()
		for j, p := range batch {
			if len(vecs[j]) != dim {
				return fmt.Errorf("%w: chunk %d has %d dims, want %d", core.ErrDimensionMismatch, p.Index, len(vecs[j]), dim)
			}
			*rows = append(*rows, models.DocumentChunk{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				Position:   p.Index,
				Text:       p.Text,
				Embedding:  vecs[j],
				TokenCount: p.TokenCount,
				Metadata:   maps.Clone(meta),
			})
		}

		i.logger.Debug().
			Str("document_id", doc.ID).
			Int("batch", len(batch)).
			Int("total", len(*rows)).
			Msg("embedded chunk batch")
		batch = batch[:0]
		return nil
	}

	for p := range chunks {
		batch = append(batch, p)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return flush()
}
