package airtable

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/mohammad-safakhou/opsctl/internal/httpclient"
	"golang.org/x/time/rate"
)

const (
	pageSize  = 100
	batchSize = 10
)

type Fields map[string]any

type Record struct {
	ID          string `json:"id,omitempty"`
	CreatedTime string `json:"createdTime,omitempty"`
	Fields      Fields `json:"fields"`
}

// Client talks to one Airtable base. Every request waits on the limiter;
// the public API allows 5 requests per second per base.
type Client struct {
	baseURL string
	baseID  string
	apiKey  string
	limiter *rate.Limiter
	http    *httpclient.Client
}

func New(cfg config.AirtableConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.airtable.com/v0"
	}
	rps := cfg.Rate
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL: base,
		baseID:  cfg.BaseID,
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		http:    httpclient.New(cfg.Timeout, 2, 0),
	}, nil
}

func (c *Client) tableURL(table string) string {
	return c.baseURL + "/" + url.PathEscape(c.baseID) + "/" + url.PathEscape(table)
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.http.DoJSON(ctx, method, u, c.headers(), body, out)
}

// ListRecords reads every record of table, following the offset token.
func (c *Client) ListRecords(ctx context.Context, table string) ([]Record, error) {
	var all []Record
	offset := ""
	for {
		q := url.Values{}
		q.Set("pageSize", fmt.Sprint(pageSize))
		if offset != "" {
			q.Set("offset", offset)
		}
		var page struct {
			Records []Record `json:"records"`
			Offset  string   `json:"offset"`
		}
		if err := c.do(ctx, http.MethodGet, c.tableURL(table)+"?"+q.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("list %s: %w", table, err)
		}
		all = append(all, page.Records...)
		if page.Offset == "" {
			return all, nil
		}
		offset = page.Offset
	}
}

// CreateRecords writes rows in batches of ten, the API maximum. With
// mergeOn set, existing records matching those fields are updated instead
// of duplicated. It returns the number of records written before any error.
func (c *Client) CreateRecords(ctx context.Context, table string, rows []Fields, mergeOn ...string) (int, error) {
	written := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		recs := make([]Record, 0, end-start)
		for _, f := range rows[start:end] {
			recs = append(recs, Record{Fields: f})
		}
		body := map[string]any{"records": recs, "typecast": true}
		method := http.MethodPost
		if len(mergeOn) > 0 {
			method = http.MethodPatch
			body["performUpsert"] = map[string]any{"fieldsToMergeOn": mergeOn}
		}
		var out struct {
			Records []Record `json:"records"`
		}
		if err := c.do(ctx, method, c.tableURL(table), body, &out); err != nil {
			return written, fmt.Errorf("write %s batch at %d: %w", table, start, err)
		}
		written += len(out.Records)
	}
	return written, nil
}
