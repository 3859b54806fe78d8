// Package esrepo stores knowledge base articles in Elasticsearch.
package esrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/spec-kit/helpdesk-service/internal/knowledge"
)

// Config for the Elasticsearch repo. Index defaults to "helpdesk-kb".
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
	Transport http.RoundTripper
}

type Repo struct {
	cli   *elasticsearch.Client
	index string

	mu      sync.Mutex
	ensured bool
}

func New(cfg Config) (*Repo, error) {
	if len(cfg.Addresses) == 0 {
		cfg.Addresses = []string{"http://localhost:9200"}
	}
	if cfg.Index == "" {
		cfg.Index = "helpdesk-kb"
	}
	esCfg := elasticsearch.Config{Addresses: cfg.Addresses, Transport: cfg.Transport}
	if cfg.Username != "" || cfg.Password != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}
	cli, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, err
	}
	return &Repo{cli: cli, index: cfg.Index}, nil
}

const indexMapping = `{
	"settings": {"refresh_interval": "5s"},
	"mappings": {"properties": {
		"ticket_id":  {"type": "keyword"},
		"title":      {"type": "text", "analyzer": "english"},
		"content":    {"type": "text", "analyzer": "english"},
		"category":   {"type": "keyword"},
		"tags":       {"type": "keyword"},
		"confidence": {"type": "float"},
		"updated_at": {"type": "date"}
	}}
}`

// ensureIndex creates the index with its mapping if it doesn't exist.
func (r *Repo) ensureIndex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensured {
		return nil
	}

	res, err := r.cli.Indices.Exists([]string{r.index}, r.cli.Indices.Exists.WithContext(ctx))
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		r.ensured = true
		return nil
	}

	cr := esapi.IndicesCreateRequest{Index: r.index, Body: strings.NewReader(indexMapping)}
	cres, err := cr.Do(ctx, r.cli)
	if err != nil {
		return err
	}
	defer cres.Body.Close()
	// 400 resource_already_exists_exception when another process won the race
	if cres.StatusCode >= 300 && !strings.Contains(cres.String(), "resource_already_exists_exception") {
		return fmt.Errorf("create index failed: %s", cres.String())
	}
	r.ensured = true
	return nil
}

func (r *Repo) Upsert(ctx context.Context, a *knowledge.Article) error {
	if a == nil || a.ID == "" {
		return errors.New("invalid article")
	}
	if err := r.ensureIndex(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ir := esapi.IndexRequest{Index: r.index, DocumentID: a.ID, Body: bytes.NewReader(payload), Refresh: "true"}
	res, err := ir.Do(ctx, r.cli)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("index failed: %s", res.String())
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*knowledge.Article, bool) {
	gr := esapi.GetRequest{Index: r.index, DocumentID: id}
	res, err := gr.Do(ctx, r.cli)
	if err != nil {
		return nil, false
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, false
	}
	var hit struct {
		Source knowledge.Article `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&hit); err != nil {
		return nil, false
	}
	return &hit.Source, true
}

func (r *Repo) Search(ctx context.Context, q string, limit int) ([]*knowledge.Item, int, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*knowledge.Item{}, 0, nil
	}
	if err := r.ensureIndex(ctx); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 10
	}
	sr := esapi.SearchRequest{Index: []string{r.index}, Body: strings.NewReader(buildSearchQuery(q, limit))}
	res, err := sr.Do(ctx, r.cli)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, 0, fmt.Errorf("search failed: %s", res.String())
	}
	return parseSearchResponse(res)
}

func buildSearchQuery(q string, limit int) string {
	return fmt.Sprintf(`{
	"size": %d,
	"query": {"multi_match": {"query": %q, "fields": ["title^2","content^1","tags"], "type": "best_fields"}},
	"highlight": {"fields": {"content": {"fragment_size": 120, "number_of_fragments": 1}}}
}`, limit, q)
}

func parseSearchResponse(res *esapi.Response) ([]*knowledge.Item, int, error) {
	var resp struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string              `json:"_id"`
				Score  float64             `json:"_score"`
				Source knowledge.Article   `json:"_source"`
				HL     map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, 0, err
	}
	items := make([]*knowledge.Item, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		snippet := h.Source.Content
		if frags := h.HL["content"]; len(frags) > 0 {
			snippet = stripTags(frags[0])
		}
		items = append(items, &knowledge.Item{ID: h.ID, Title: h.Source.Title, Snippet: snippet, Score: h.Score})
	}
	return items, resp.Hits.Total.Value, nil
}

// Ping performs a lightweight health check against the cluster.
func (r *Repo) Ping(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
	}
	res, err := r.cli.Info(r.cli.Info.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("es info status %d", res.StatusCode)
	}
	return nil
}

func stripTags(s string) string {
	res := make([]rune, 0, len(s))
	in := false
	for _, r := range s {
		switch r {
		case '<':
			in = true
		case '>':
			in = false
		default:
			if !in {
				res = append(res, r)
			}
		}
	}
	return string(res)
}
