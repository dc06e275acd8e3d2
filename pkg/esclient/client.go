// Package esclient wraps the Elasticsearch client behind the small surface
// the pipeline needs: index-existence checks, single and multi search,
// scrolling, and bulk updates. Services depend on the SearchClient interface
// so tests can substitute a fake backend.
package esclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	elastic "github.com/olivere/elastic/v7"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
)

// MsearchItem is one entry of a multi-search request.
type MsearchItem struct {
	Index string
	Body  map[string]any
}

// BulkUpdateOp is one document update of a bulk request.
type BulkUpdateOp struct {
	Index string
	ID    string
	Doc   map[string]any
}

// SearchClient is the backend surface used by the analysis services.
type SearchClient interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	Search(ctx context.Context, index string, body map[string]any) (models.SearchResult, error)
	// Msearch issues one multi-search; the returned slice is aligned with items.
	Msearch(ctx context.Context, items []MsearchItem) ([]models.SearchResult, error)
	// Scroll streams hits to fn until fn returns false or the stream ends.
	Scroll(ctx context.Context, index string, body map[string]any, pageSize int, fn func(models.Hit) bool) error
	BulkUpdate(ctx context.Context, ops []BulkUpdateOp) error
	Host() string
}

// Client is the production SearchClient over olivere/elastic.
type Client struct {
	es   *elastic.Client
	host string
	log  *slog.Logger
}

var _ SearchClient = (*Client)(nil)

// NewClient connects to the backend at url. Sniffing and health checks are
// disabled: the service talks to a fixed endpoint behind a load balancer.
func NewClient(url string) (*Client, error) {
	es, err := elastic.NewClient(
		elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &Client{
		es:   es,
		host: url,
		log:  slog.With("component", "esclient"),
	}, nil
}

// Host returns the configured backend URL (with credentials, if any).
func (c *Client) Host() string {
	return c.host
}

// IndexExists reports whether the index exists.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	exists, err := c.es.IndexExists(name).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check index %q: %w", name, err)
	}
	return exists, nil
}

// Search runs one query against one index.
func (c *Client) Search(ctx context.Context, index string, body map[string]any) (models.SearchResult, error) {
	res, err := c.es.Search(index).Source(body).Do(ctx)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("search against %q failed: %w", index, err)
	}
	return convertResult(res), nil
}

// Msearch issues all items as a single multi-search. Responses preserve the
// request order; an errored sub-response yields an empty hit list.
func (c *Client) Msearch(ctx context.Context, items []MsearchItem) ([]models.SearchResult, error) {
	svc := c.es.MultiSearch()
	for _, item := range items {
		svc.Add(elastic.NewSearchRequest().Index(item.Index).Source(item.Body))
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("msearch of %d queries failed: %w", len(items), err)
	}
	results := make([]models.SearchResult, 0, len(res.Responses))
	for _, r := range res.Responses {
		if r == nil || r.Error != nil {
			if r != nil && r.Error != nil {
				c.log.Warn("msearch sub-query failed", "reason", r.Error.Reason)
			}
			results = append(results, models.SearchResult{})
			continue
		}
		results = append(results, convertResult(r))
	}
	return results, nil
}

// Scroll streams hits page by page, invoking fn per hit. Streaming stops when
// fn returns false.
func (c *Client) Scroll(ctx context.Context, index string, body map[string]any, pageSize int, fn func(models.Hit) bool) error {
	svc := c.es.Scroll(index).Body(body).Size(pageSize)
	defer func() {
		if err := svc.Clear(context.Background()); err != nil {
			c.log.Warn("failed to clear scroll", "error", err)
		}
	}()
	for {
		page, err := svc.Do(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scroll against %q failed: %w", index, err)
		}
		for _, hit := range page.Hits.Hits {
			converted, ok := convertHit(hit)
			if !ok {
				continue
			}
			if !fn(converted) {
				return nil
			}
		}
	}
}

// BulkUpdate applies all document updates in one bulk request.
func (c *Client) BulkUpdate(ctx context.Context, ops []BulkUpdateOp) error {
	if len(ops) == 0 {
		return nil
	}
	bulk := c.es.Bulk()
	for _, op := range ops {
		bulk.Add(elastic.NewBulkUpdateRequest().Index(op.Index).Id(op.ID).Doc(op.Doc))
	}
	res, err := bulk.Do(ctx)
	if err != nil {
		return fmt.Errorf("bulk update of %d documents failed: %w", len(ops), err)
	}
	if failed := res.Failed(); len(failed) > 0 {
		c.log.Warn("bulk update partially failed", "failed", len(failed), "total", len(ops))
	}
	return nil
}

func convertResult(res *elastic.SearchResult) models.SearchResult {
	if res == nil || res.Hits == nil {
		return models.SearchResult{}
	}
	out := models.SearchResult{Hits: make([]models.Hit, 0, len(res.Hits.Hits))}
	for _, hit := range res.Hits.Hits {
		if converted, ok := convertHit(hit); ok {
			out.Hits = append(out.Hits, converted)
		}
	}
	return out
}

func convertHit(hit *elastic.SearchHit) (models.Hit, bool) {
	var source models.LogSource
	if err := json.Unmarshal(hit.Source, &source); err != nil {
		return models.Hit{}, false
	}
	converted := models.Hit{ID: hit.Id, Index: hit.Index, Source: source}
	if hit.Score != nil {
		converted.Score = *hit.Score
	}
	return converted, true
}
