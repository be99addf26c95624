package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/renderinc/pagekeeper/internal/config"
)

// Elastic is the Elasticsearch-backed Engine.
type Elastic struct {
	client *es.Client
	index  string
}

var _ Engine = (*Elastic)(nil)

// NewElastic connects, verifies the cluster answers and creates the index if
// it does not exist yet.
func NewElastic(ctx context.Context, cfg config.ElasticsearchConfig) (*Elastic, error) {
	address := cfg.URL
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}

	clientConfig := es.Config{
		Addresses:  []string{address},
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.Username != "" {
		clientConfig.Username = cfg.Username
		clientConfig.Password = cfg.Password
	}

	client, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	e := &Elastic{client: client, index: cfg.Index}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping elasticsearch: %w", err)
	}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Elastic) ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	return closeChecked(res, "ping")
}

// indexSettings mirrors the bleve mapping: english analysis on both fields.
var indexSettings = map[string]any{
	"mappings": map[string]any{
		"dynamic": false,
		"properties": map[string]any{
			FieldTitle:   map[string]any{"type": "text", "analyzer": "english"},
			FieldContent: map[string]any{"type": "text", "analyzer": "english"},
		},
	},
}

func (e *Elastic) ensureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", e.index, err)
	}
	_ = res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(indexSettings)
	if err != nil {
		return err
	}
	res, err = e.client.Indices.Create(e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", e.index, err)
	}
	return closeChecked(res, "create index")
}

type esDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Index adds or updates a document. Refresh is forced so the next search sees it.
func (e *Elastic) Index(ctx context.Context, doc Document) error {
	body, err := json.Marshal(esDocument{Title: doc.Title, Content: doc.Content})
	if err != nil {
		return err
	}
	res, err := e.client.Index(e.index, bytes.NewReader(body),
		e.client.Index.WithContext(ctx),
		e.client.Index.WithDocumentID(doc.ID),
		e.client.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}
	return closeChecked(res, "index "+doc.ID)
}

// IndexBatch sends docs through the bulk API.
func (e *Elastic) IndexBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		action := map[string]any{"index": map[string]any{"_index": e.index, "_id": doc.ID}}
		if err := enc.Encode(action); err != nil {
			return err
		}
		if err := enc.Encode(esDocument{Title: doc.Title, Content: doc.Content}); err != nil {
			return err
		}
	}

	res, err := e.client.Bulk(&buf,
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res, "bulk index")
	}

	var bulk struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulk); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulk.Errors {
		return fmt.Errorf("bulk index: one or more documents failed")
	}
	return nil
}

// Delete removes a document. Deleting an unknown ID is not an error.
func (e *Elastic) Delete(ctx context.Context, id string) error {
	res, err := e.client.Delete(e.index, id,
		e.client.Delete.WithContext(ctx),
		e.client.Delete.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if res.StatusCode == http.StatusNotFound {
		_ = res.Body.Close()
		return nil
	}
	return closeChecked(res, "delete "+id)
}

// Reset drops and recreates the index.
func (e *Elastic) Reset(ctx context.Context) error {
	res, err := e.client.Indices.Delete([]string{e.index},
		e.client.Indices.Delete.WithContext(ctx),
		e.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", e.index, err)
	}
	if err := closeChecked(res, "delete index"); err != nil {
		return err
	}
	return e.ensureIndex(ctx)
}

// Count returns the number of indexed documents.
func (e *Elastic) Count(ctx context.Context) (uint64, error) {
	res, err := e.client.Count(
		e.client.Count.WithContext(ctx),
		e.client.Count.WithIndex(e.index),
	)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError(res, "count")
	}

	var body struct {
		Count uint64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return body.Count, nil
}

func floatToString(f Weight) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 64)
}

// buildSearchBody is a cross_fields multi_match so that the terms may be
// spread over title and content, with every term required.
func buildSearchBody(q Query, size uint64) map[string]any {
	fields := make([]string, 0, len(PageVector))
	for _, field := range PageVector {
		fields = append(fields, field.Name+"^"+floatToString(field.Weight))
	}

	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":    q.Text,
				"type":     "cross_fields",
				"operator": "and",
				"fields":   fields,
			},
		},
		"size":             size,
		"track_total_hits": true,
		"_source":          []string{FieldTitle, FieldContent},
	}

	if q.Highlight {
		body["highlight"] = map[string]any{
			"pre_tags":  []string{markOpen},
			"post_tags": []string{markClose},
			"fields": map[string]any{
				FieldTitle:   map[string]any{"number_of_fragments": 0},
				FieldContent: map[string]any{"fragment_size": 200, "number_of_fragments": 1},
			},
		}
	}
	return body
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID        string              `json:"_id"`
			Score     float64             `json:"_score"`
			Source    esDocument          `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns every match, highest rank first. The result size is the
// index document count, so the index's max_result_window must cover it.
func (e *Elastic) Search(ctx context.Context, q Query) ([]Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}

	count, err := e.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	body, err := json.Marshal(buildSearchBody(q, count))
	if err != nil {
		return nil, err
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res, "search")
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hit := Hit{ID: h.ID, Rank: h.Score}
		if q.Highlight {
			// Elasticsearch returns highlight fragments unescaped.
			hit.TitleHighlight = headline(safeFragments(h.Highlight[FieldTitle]), h.Source.Title, true)
			hit.ContentHighlight = headline(safeFragments(h.Highlight[FieldContent]), h.Source.Content, false)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close is a no-op; the HTTP transport has nothing to release.
func (e *Elastic) Close() error {
	return nil
}

func closeChecked(res *esapi.Response, op string) error {
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res, op)
	}
	return nil
}

func responseError(res *esapi.Response, op string) error {
	body, _ := io.ReadAll(res.Body)
	return fmt.Errorf("%s returned error [%d]: %s", op, res.StatusCode, string(body))
}
