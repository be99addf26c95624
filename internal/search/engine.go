package search

import (
	"context"
	"html"
	"strings"
)

// Weight is the relative importance of a field in the combined search vector.
type Weight float64

// The four weight labels, highest first.
const (
	WeightA Weight = 1.0
	WeightB Weight = 0.4
	WeightC Weight = 0.2
	WeightD Weight = 0.1
)

// Field is one component of the weighted search vector.
type Field struct {
	Name   string
	Weight Weight
}

// Field names as stored in every backend.
const (
	FieldTitle   = "title"
	FieldContent = "content"
)

// PageVector is title (A) plus content (B).
var PageVector = []Field{
	{Name: FieldTitle, Weight: WeightA},
	{Name: FieldContent, Weight: WeightB},
}

// Document is what gets indexed for one page.
type Document struct {
	ID      string
	Title   string
	Content string
}

// Query is a full-text query. Every analyzed term must match somewhere in
// the weighted vector.
type Query struct {
	Text      string
	Highlight bool
}

// Hit is one ranked match. Highlights are HTML-safe with matched terms in <mark>.
type Hit struct {
	ID               string
	Rank             float64
	TitleHighlight   string
	ContentHighlight string
}

// Engine is a full-text backend: weighted-field indexing, ranked matching
// and match highlighting.
type Engine interface {
	Index(ctx context.Context, doc Document) error
	IndexBatch(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, id string) error
	// Reset removes every document.
	Reset(ctx context.Context) error
	// Search returns all matches ordered by descending rank.
	Search(ctx context.Context, q Query) ([]Hit, error)
	Count(ctx context.Context) (uint64, error)
	Close() error
}

const (
	markOpen  = "<mark>"
	markClose = "</mark>"

	// headlineWords is how much unmatched content is shown, like ts_headline's MaxWords.
	headlineWords = 35
)

// safeFragment escapes a raw highlighter fragment while keeping the <mark> tags.
func safeFragment(fragment string) string {
	escaped := html.EscapeString(fragment)
	escaped = strings.ReplaceAll(escaped, html.EscapeString(markOpen), markOpen)
	return strings.ReplaceAll(escaped, html.EscapeString(markClose), markClose)
}

func safeFragments(fragments []string) []string {
	out := make([]string, len(fragments))
	for i, f := range fragments {
		out[i] = safeFragment(f)
	}
	return out
}

// headline picks the first fragment or, when the field had no match, an
// escaped excerpt of the original text. Fragments must already be HTML-safe.
func headline(fragments []string, original string, whole bool) string {
	if len(fragments) > 0 && fragments[0] != "" {
		return fragments[0]
	}
	if whole {
		return html.EscapeString(original)
	}
	return html.EscapeString(excerpt(original, headlineWords))
}

func excerpt(text string, words int) string {
	fields := strings.Fields(text)
	if len(fields) <= words {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:words], " ") + " …"
}
