package ingestion_engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// streamChunk splits text into overlapping windows and emits them downstream.
//
// The emitter stops early when gctx is cancelled so a failed embed stage
// does not leave this goroutine blocked on a full channel.
func (i *DocumentIngestor) streamChunk(ctx context.Context, g *errgroup.Group, text string) <-chan passage {
	out := make(chan passage, 8)

	g.Go(func() error {
		defer close(out)

		return i.chunker.Each(text, func(p passage) error {
			select {
			case out <- p:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	return out
}
