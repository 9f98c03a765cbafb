package client

import (
	"context"
	"net/http"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/Sternrassler/graph-client/pkg/pagination"
)

// DefaultSearchTypes are the search types accepted by Search.
var DefaultSearchTypes = []string{
	"user",
	"page",
	"event",
	"group",
	"place",
	"placetopic",
	"application",
	"ad",
}

// CallOption customizes a single facade call.
type CallOption func(*callOptions)

type callOptions struct {
	retries  int
	maxPages int
}

// WithRetries overrides Config.MaxRetries for one call.
func WithRetries(n int) CallOption {
	return func(o *callOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithMaxPages bounds the pages fetched by a pager. 0 means unbounded.
func WithMaxPages(n int) CallOption {
	return func(o *callOptions) {
		o.maxPages = n
	}
}

func (c *Client) callOptions(opts []CallOption) callOptions {
	o := callOptions{retries: c.config.MaxRetries}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// call executes a request through the retry wrapper. File readers that
// cannot seek are buffered first when the request may be retried.
func (c *Client) call(ctx context.Context, method, path string, params Params, retries int) (*Response, error) {
	if retries > 0 {
		buffered, err := rewindable(params)
		if err != nil {
			return nil, c.record(err)
		}
		params = buffered
	}

	req := &Request{Method: method, Path: path, Params: params, Retries: retries}
	return c.withRetry(ctx, req.Retries, func() (*Response, error) {
		return c.Execute(ctx, req)
	})
}

// Get reads an object or connection, e.g. "me" or "me/friends".
func (c *Client) Get(ctx context.Context, path string, params Params, opts ...CallOption) (*Response, error) {
	return c.call(ctx, http.MethodGet, path, params, c.callOptions(opts).retries)
}

// GetPages returns a pager over a list connection.
func (c *Client) GetPages(path string, params Params, opts ...CallOption) *pagination.Pager {
	o := c.callOptions(opts)
	return pagination.New(pageFetcher{client: c, retries: o.retries}, http.MethodGet, path, params,
		pagination.Config{MaxPages: o.maxPages})
}

// Post creates or updates an object. Reader values in params are uploaded
// as files.
func (c *Client) Post(ctx context.Context, path string, params Params, opts ...CallOption) (*Response, error) {
	return c.call(ctx, http.MethodPost, path, params, c.callOptions(opts).retries)
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, path string, params Params, opts ...CallOption) (*Response, error) {
	return c.call(ctx, http.MethodDelete, path, params, c.callOptions(opts).retries)
}

// Search queries objects of the given type matching term.
func (c *Client) Search(ctx context.Context, term, searchType string, params Params, opts ...CallOption) (*Response, error) {
	query, err := c.searchParams(term, searchType, params)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, http.MethodGet, "search", query, c.callOptions(opts).retries)
}

// SearchPages returns a pager over search results.
// An unsupported type is reported by the first Next call.
func (c *Client) SearchPages(term, searchType string, params Params, opts ...CallOption) *pagination.Pager {
	o := c.callOptions(opts)
	fetcher := pageFetcher{client: c, retries: o.retries}

	query, err := c.searchParams(term, searchType, params)
	if err != nil {
		fetcher.err = err
	}
	return pagination.New(fetcher, http.MethodGet, "search", query, pagination.Config{MaxPages: o.maxPages})
}

func (c *Client) searchParams(term, searchType string, params Params) (Params, error) {
	if !c.searchTypes[searchType] {
		return nil, apierr.Usage("unsupported search type %q", searchType)
	}

	query := make(Params, len(params)+2)
	for k, v := range params {
		query[k] = v
	}
	query["q"] = term
	query["type"] = searchType
	return query, nil
}

// FetchPage implements pagination.Fetcher with the configured retry budget.
func (c *Client) FetchPage(ctx context.Context, method, target string, params map[string]any) (any, string, error) {
	return pageFetcher{client: c, retries: c.config.MaxRetries}.FetchPage(ctx, method, target, params)
}

type pageFetcher struct {
	client  *Client
	retries int
	err     error
}

func (f pageFetcher) FetchPage(ctx context.Context, method, target string, params map[string]any) (any, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	resp, err := f.client.call(ctx, method, target, params, f.retries)
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.Next, nil
}
