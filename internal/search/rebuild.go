package search

import (
	"context"
	"fmt"

	"github.com/renderinc/pagekeeper/internal/storage"
)

// PageLister lists every stored page.
type PageLister interface {
	ListPages(ctx context.Context) ([]*storage.Page, error)
}

const rebuildBatchSize = 500

// Rebuild empties engine and indexes every page from src in batches.
// progress, if non-nil, is called after each batch.
func Rebuild(ctx context.Context, engine Engine, src PageLister, progress func(current, total int)) error {
	pages, err := src.ListPages(ctx)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}

	if err := engine.Reset(ctx); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}

	for start := 0; start < len(pages); start += rebuildBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+rebuildBatchSize, len(pages))

		docs := make([]Document, 0, end-start)
		for _, p := range pages[start:end] {
			docs = append(docs, PageDocument(p))
		}
		if err := engine.IndexBatch(ctx, docs); err != nil {
			return err
		}
		if progress != nil {
			progress(end, len(pages))
		}
	}
	return nil
}
