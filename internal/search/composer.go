package search

import (
	"context"
	"fmt"
	"html/template"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/renderinc/pagekeeper/internal/logger"
	"github.com/renderinc/pagekeeper/internal/storage"
)

// MinQueryLength is the shortest search string that runs any query.
const MinQueryLength = 3

// ShortQueryMessage is shown instead of results for shorter search strings.
const ShortQueryMessage = "Search term must be at least 3 characters"

// PageStore is the read side of the content store the composer needs.
type PageStore interface {
	GetPages(ctx context.Context, ids []int64) (map[int64]*storage.Page, error)
	TitleContains(ctx context.Context, s string) ([]*storage.Page, error)
	ContentContains(ctx context.Context, s string) ([]*storage.Page, error)
}

// RankedPage is a full-text match joined to its page.
type RankedPage struct {
	Page             *storage.Page
	Rank             float64
	TitleHighlight   template.HTML
	ContentHighlight template.HTML
}

// Results is everything the search page renders. Either Error is set or the
// three collections are.
type Results struct {
	SearchString   string
	Error          string
	TextResults    []RankedPage
	TitleResults   []*storage.Page
	ContentResults []*storage.Page
}

// Composer runs the ranked and the two substring searches for one query.
type Composer struct {
	engine Engine
	store  PageStore
	logger logger.Logger
}

func NewComposer(engine Engine, store PageStore, log logger.Logger) *Composer {
	return &Composer{engine: engine, store: store, logger: log}
}

// DocumentID is the engine ID of a page.
func DocumentID(pageID int64) string {
	return strconv.FormatInt(pageID, 10)
}

// PageDocument converts a page into its indexed form.
func PageDocument(p *storage.Page) Document {
	return Document{ID: DocumentID(p.ID), Title: p.Title, Content: p.Content}
}

// Compose validates raw and, when long enough, runs all three searches.
// There is no result limit.
func (c *Composer) Compose(ctx context.Context, raw string) (*Results, error) {
	searchString := strings.TrimSpace(raw)
	results := &Results{SearchString: searchString}

	if utf8.RuneCountInString(searchString) < MinQueryLength {
		results.Error = ShortQueryMessage
		return results, nil
	}

	ranked, err := c.ranked(ctx, searchString)
	if err != nil {
		return nil, err
	}
	results.TextResults = ranked

	// Substring matching uses the trimmed string too, so padding never hides a
	// title that equals the query.
	results.TitleResults, err = c.store.TitleContains(ctx, searchString)
	if err != nil {
		return nil, fmt.Errorf("title search: %w", err)
	}
	results.ContentResults, err = c.store.ContentContains(ctx, searchString)
	if err != nil {
		return nil, fmt.Errorf("content search: %w", err)
	}

	c.logger.Debug("Search composed",
		logger.String("query", searchString),
		logger.Int("text_results", len(results.TextResults)),
		logger.Int("title_results", len(results.TitleResults)),
		logger.Int("content_results", len(results.ContentResults)),
	)
	return results, nil
}

func (c *Composer) ranked(ctx context.Context, text string) ([]RankedPage, error) {
	hits, err := c.engine.Search(ctx, Query{Text: text, Highlight: true})
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(hits))
	for _, hit := range hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			c.logger.Warn("Skipping hit with foreign ID", logger.String("id", hit.ID))
			continue
		}
		ids = append(ids, id)
	}

	pages, err := c.store.GetPages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load ranked pages: %w", err)
	}

	ranked := make([]RankedPage, 0, len(hits))
	for _, hit := range hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		page, ok := pages[id]
		if !ok {
			// Index is ahead of the store; reindex cleans this up.
			c.logger.Warn("Indexed page missing from store", logger.Int64("page_id", id))
			continue
		}
		ranked = append(ranked, RankedPage{
			Page:             page,
			Rank:             hit.Rank,
			TitleHighlight:   template.HTML(hit.TitleHighlight),
			ContentHighlight: template.HTML(hit.ContentHighlight),
		})
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Rank > ranked[b].Rank
	})
	return ranked, nil
}
