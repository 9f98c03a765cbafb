package pagination

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var graphPagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "graph_pages_fetched_total",
	Help: "Total number of list pages fetched by pagers",
})

// cursorParams are embedded in the next cursor URL and must not be resent.
var cursorParams = []string{"offset", "until", "since"}

// Config holds pager configuration.
type Config struct {
	// MaxPages bounds the number of pages fetched. 0 means unbounded.
	MaxPages int
}

// DefaultConfig returns an unbounded configuration.
func DefaultConfig() Config {
	return Config{}
}

// Fetcher is the interface the Graph client implements for single-page fetching.
type Fetcher interface {
	// FetchPage requests target and returns the decoded body and the next
	// cursor URL (empty on the last page).
	FetchPage(ctx context.Context, method, target string, params map[string]any) (body any, next string, err error)
}

// Pager walks a cursor-paged endpoint one page per Next call.
// A Pager is not safe for concurrent use and cannot be rewound.
type Pager struct {
	fetcher Fetcher
	config  Config

	method string
	target string
	params map[string]any

	page  any
	pages int
	done  bool
	err   error
	start time.Time
}

// New creates a pager for method and target. params is copied.
func New(fetcher Fetcher, method, target string, params map[string]any, config Config) *Pager {
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}

	carried := make(map[string]any, len(params))
	for k, v := range params {
		carried[k] = v
	}

	return &Pager{
		fetcher: fetcher,
		config:  config,
		method:  method,
		target:  target,
		params:  carried,
	}
}

// Next fetches the next page. It returns false when the sequence is
// exhausted or a request failed; check Err afterwards.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done {
		return false
	}
	if p.config.MaxPages > 0 && p.pages >= p.config.MaxPages {
		log.Debug().
			Str("target", p.target).
			Int("max_pages", p.config.MaxPages).
			Msg("Page limit reached")
		p.finish()
		return false
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}

	body, next, err := p.fetcher.FetchPage(ctx, p.method, p.target, p.params)
	if err != nil {
		log.Warn().
			Err(err).
			Str("target", p.target).
			Int("page", p.pages+1).
			Msg("Page fetch failed")
		p.err = err
		p.finish()
		return false
	}

	p.pages++
	graphPagesFetchedTotal.Inc()
	p.page = pageData(body)

	switch {
	case next == "":
		p.finish()
	case next == p.target:
		log.Warn().
			Str("target", p.target).
			Msg("Cursor did not advance, stopping")
		p.finish()
	default:
		p.target = next
		for _, key := range cursorParams {
			delete(p.params, key)
		}
	}

	return true
}

// Page returns the page fetched by the last successful Next: the "data"
// field of the body, or the whole body when it has none.
func (p *Pager) Page() any {
	return p.page
}

// Err returns the error that ended iteration, if any.
func (p *Pager) Err() error {
	return p.err
}

// Pages returns the number of pages fetched so far.
func (p *Pager) Pages() int {
	return p.pages
}

// Collect drains the pager and returns all pages in order.
// Pages fetched before a failure are returned along with the error.
func (p *Pager) Collect(ctx context.Context) ([]any, error) {
	var pages []any
	for p.Next(ctx) {
		pages = append(pages, p.Page())
	}
	return pages, p.Err()
}

func (p *Pager) finish() {
	if p.done {
		return
	}
	p.done = true
	if p.pages > 0 {
		log.Debug().
			Int("pages", p.pages).
			Dur("duration", time.Since(p.start)).
			Msg("Pagination complete")
	}
}

func pageData(body any) any {
	if m, ok := body.(map[string]any); ok {
		if data, ok := m["data"]; ok {
			return data
		}
	}
	return body
}
