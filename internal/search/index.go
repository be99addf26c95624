package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/highlight/highlighter/html"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Index is the bleve-backed Engine.
type Index struct {
	index bleve.Index
}

var _ Engine = (*Index)(nil)

// Open opens or creates a Bleve index
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx}, nil
}

// OpenMemory creates an index that lives only in memory.
func OpenMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create memory index: %w", err)
	}
	return &Index{index: idx}, nil
}

// buildIndexMapping maps title and content with the English analyzer so that
// both sides of the vector stem the same way. Weights are applied at query time.
func buildIndexMapping() mapping.IndexMapping {
	textField := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = en.AnalyzerName
		f.Store = true
		f.IncludeTermVectors = true
		return f
	}

	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false
	for _, field := range PageVector {
		docMapping.AddFieldMappingsAt(field.Name, textField())
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

func indexable(doc Document) map[string]interface{} {
	return map[string]interface{}{
		FieldTitle:   doc.Title,
		FieldContent: doc.Content,
	}
}

// Index adds or updates a document in the index
func (i *Index) Index(_ context.Context, doc Document) error {
	return i.index.Index(doc.ID, indexable(doc))
}

// IndexBatch indexes docs in a single batch.
func (i *Index) IndexBatch(_ context.Context, docs []Document) error {
	batch := i.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, indexable(doc)); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.ID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Delete removes a document from the index
func (i *Index) Delete(_ context.Context, id string) error {
	return i.index.Delete(id)
}

// Reset deletes every document.
func (i *Index) Reset(ctx context.Context) error {
	count, err := i.index.DocCount()
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	if count == 0 {
		return nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	batch := i.index.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit delete batch: %w", err)
	}
	return nil
}

// buildQuery analyzes text the way the fields were analyzed and requires each
// remaining term to match title or content. Stop words vanish in analysis;
// a query made only of stop words yields nil.
func (i *Index) buildQuery(text string) query.Query {
	analyzer := i.index.Mapping().AnalyzerNamed(en.AnalyzerName)
	if analyzer == nil {
		return nil
	}

	seen := make(map[string]bool)
	var terms []query.Query
	for _, token := range analyzer.Analyze([]byte(text)) {
		term := string(token.Term)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true

		perField := make([]query.Query, 0, len(PageVector))
		for _, field := range PageVector {
			tq := bleve.NewTermQuery(term)
			tq.SetField(field.Name)
			tq.SetBoost(float64(field.Weight))
			perField = append(perField, tq)
		}
		terms = append(terms, bleve.NewDisjunctionQuery(perField...))
	}

	if len(terms) == 0 {
		return nil
	}
	return bleve.NewConjunctionQuery(terms...)
}

// Search returns every matching document, highest rank first.
func (i *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	bq := i.buildQuery(q.Text)
	if bq == nil {
		return nil, nil
	}

	count, err := i.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(bq, int(count), 0, false)
	if q.Highlight {
		req.Highlight = bleve.NewHighlightWithStyle(html.Name)
		req.Highlight.AddField(FieldTitle)
		req.Highlight.AddField(FieldContent)
		req.Fields = []string{FieldTitle, FieldContent}
	}

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, match := range res.Hits {
		hit := Hit{ID: match.ID, Rank: match.Score}
		if q.Highlight {
			title, _ := match.Fields[FieldTitle].(string)
			content, _ := match.Fields[FieldContent].(string)
			// The html formatter has already escaped the fragments.
			hit.TitleHighlight = headline(match.Fragments[FieldTitle], title, true)
			hit.ContentHighlight = headline(match.Fragments[FieldContent], content, false)
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Rank > hits[b].Rank
	})
	return hits, nil
}

// Count returns the number of documents in the index
func (i *Index) Count(_ context.Context) (uint64, error) {
	return i.index.DocCount()
}
