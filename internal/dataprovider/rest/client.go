package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/query"
)

var (
	_ dataprovider.Provider = (*Client)(nil)
	_ dataprovider.Creator  = (*Client)(nil)
)

// DefaultTimeout bounds a single HTTP call.
const DefaultTimeout = 10 * time.Second

// Client is a dataprovider.Provider talking to a Handler (or any server
// speaking the same convention).
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for baseURL (e.g. "http://localhost:8080/api").
// A nil httpClient gets a client with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// GetOne implements dataprovider.Provider.
func (c *Client) GetOne(ctx context.Context, resource string, id any) (choice.Choice, error) {
	u := c.base + "/" + url.PathEscape(resource) + "/" + url.PathEscape(choice.Key(id))
	var rec choice.Choice
	if _, err := c.do(ctx, http.MethodGet, u, nil, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetMany implements dataprovider.Provider.
func (c *Client) GetMany(ctx context.Context, resource string, ids []any) ([]choice.Choice, error) {
	if len(ids) == 0 {
		return []choice.Choice{}, nil
	}
	filter, err := json.Marshal(map[string]any{"id": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ids: %w", err)
	}
	u := c.base + "/" + url.PathEscape(resource) + "?" + url.Values{"filter": {string(filter)}}.Encode()
	var recs []choice.Choice
	if _, err := c.do(ctx, http.MethodGet, u, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// GetList implements dataprovider.Provider.
func (c *Client) GetList(ctx context.Context, resource string, params query.Params) (dataprovider.List, error) {
	v := url.Values{}
	if params.Sort.Field != "" {
		sort, _ := json.Marshal([]string{params.Sort.Field, string(params.Sort.Order)})
		v.Set("sort", string(sort))
	}
	if pp := params.Pagination.PerPage; pp > 0 {
		from := params.Pagination.Offset()
		v.Set("range", fmt.Sprintf("[%d,%d]", from, from+pp-1))
	}
	if len(params.Filter) > 0 {
		filter, err := json.Marshal(params.Filter)
		if err != nil {
			return dataprovider.List{}, fmt.Errorf("failed to encode filter: %w", err)
		}
		v.Set("filter", string(filter))
	}

	u := c.base + "/" + url.PathEscape(resource) + "?" + v.Encode()
	var data []choice.Choice
	header, err := c.do(ctx, http.MethodGet, u, nil, &data)
	if err != nil {
		return dataprovider.List{}, err
	}
	total, err := parseContentRange(header.Get("Content-Range"))
	if err != nil {
		return dataprovider.List{}, err
	}
	if data == nil {
		data = []choice.Choice{}
	}
	return dataprovider.List{Data: data, Total: total}, nil
}

// Create implements dataprovider.Creator.
func (c *Client) Create(ctx context.Context, resource string, data choice.Choice) (choice.Choice, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var rec choice.Choice
	if _, err := c.do(ctx, http.MethodPost, c.base+"/"+url.PathEscape(resource), body, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) (http.Header, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
			return nil, fmt.Errorf("%s: %w", eb.Error, dataprovider.ErrNotFound)
		}
		return nil, &dataprovider.HTTPError{Status: resp.StatusCode, Message: eb.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Header, nil
}

// parseContentRange reads the total from "posts 0-24/319".
func parseContentRange(h string) (int, error) {
	if h == "" {
		return 0, fmt.Errorf("missing Content-Range header")
	}
	i := strings.LastIndexByte(h, '/')
	if i < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", h)
	}
	total, err := strconv.Atoi(h[i+1:])
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Range %q", h)
	}
	return total, nil
}
