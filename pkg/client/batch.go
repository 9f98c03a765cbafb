package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
)

// MaxBatchSize is the number of requests the Graph API accepts per batch.
const MaxBatchSize = 50

var graphBatchGroupsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "graph_batch_groups_total",
	Help: "Total number of batch groups submitted",
})

// BatchRequest is one item of a batch.
type BatchRequest struct {
	Method      string
	RelativeURL string

	// Body is form encoded into the item's body. Readers are not supported.
	Body Params

	// Name and DependsOn chain items within one group.
	Name      string
	DependsOn string

	// OmitResponseOnSuccess overrides the server default when set.
	OmitResponseOnSuccess *bool
}

// BatchResult is the outcome of one batch item. Value and Err are both nil
// when the server returned no response for the item.
type BatchResult struct {
	Request *BatchRequest
	Value   any
	Err     error
}

type batchItem struct {
	Method                string `json:"method"`
	RelativeURL           string `json:"relative_url"`
	Body                  string `json:"body,omitempty"`
	Name                  string `json:"name,omitempty"`
	DependsOn             string `json:"depends_on,omitempty"`
	OmitResponseOnSuccess *bool  `json:"omit_response_on_success,omitempty"`
}

// BatchIterator yields batch results in request order. A group of up to
// MaxBatchSize requests is submitted only when the results of the previous
// group have been consumed. Not safe for concurrent use.
type BatchIterator struct {
	client   *Client
	requests []BatchRequest
	items    []batchItem
	retries  int

	offset  int
	pending []BatchResult
	current BatchResult
	err     error
}

// Batch prepares requests for submission. Nothing is sent until Next is called.
func (c *Client) Batch(requests []BatchRequest, opts ...CallOption) *BatchIterator {
	o := c.callOptions(opts)
	it := &BatchIterator{
		client:   c,
		requests: requests,
		retries:  o.retries,
	}

	it.items = make([]batchItem, len(requests))
	for i, req := range requests {
		body, err := c.encodeForm(req.Body)
		if err != nil {
			it.err = err
			return it
		}
		it.items[i] = batchItem{
			Method:                strings.ToUpper(req.Method),
			RelativeURL:           req.RelativeURL,
			Body:                  body,
			Name:                  req.Name,
			DependsOn:             req.DependsOn,
			OmitResponseOnSuccess: req.OmitResponseOnSuccess,
		}
	}
	return it
}

// Next advances to the next result, submitting the next group when needed.
// It returns false when all results were consumed or a group failed.
func (it *BatchIterator) Next(ctx context.Context) bool {
	if len(it.pending) == 0 {
		if it.err != nil || it.offset >= len(it.requests) {
			return false
		}

		end := min(it.offset+MaxBatchSize, len(it.requests))
		results, err := it.client.submitGroup(ctx, it.requests[it.offset:end], it.items[it.offset:end], it.retries)
		it.offset = end
		if err != nil {
			it.err = err
			return false
		}
		it.pending = results
	}

	it.current, it.pending = it.pending[0], it.pending[1:]
	return true
}

// Result returns the result produced by the last Next call.
func (it *BatchIterator) Result() BatchResult {
	return it.current
}

// Err returns the error that ended iteration, if any. Item failures are
// reported in BatchResult.Err and do not end iteration.
func (it *BatchIterator) Err() error {
	return it.err
}

// BatchAll submits all requests and returns one result per request.
// On a group failure the results of the earlier groups are returned with the error.
func (c *Client) BatchAll(ctx context.Context, requests []BatchRequest, opts ...CallOption) ([]BatchResult, error) {
	it := c.Batch(requests, opts...)
	results := make([]BatchResult, 0, len(requests))
	for it.Next(ctx) {
		results = append(results, it.Result())
	}
	return results, it.Err()
}

// submitGroup posts one group and maps the response array back onto requests.
func (c *Client) submitGroup(ctx context.Context, requests []BatchRequest, items []batchItem, retries int) ([]BatchResult, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, apierr.Usage("encode batch: %v", err)
	}

	graphBatchGroupsTotal.Inc()
	c.logger.Debug().
		Int("size", len(items)).
		Msg("Submitting batch group")

	resp, err := c.call(ctx, http.MethodPost, "", Params{"batch": string(payload)}, retries)
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(resp.Raw)
	if !root.IsArray() {
		return nil, &apierr.Error{
			Kind:       apierr.KindRemote,
			Message:    "batch response is not an array",
			StatusCode: resp.StatusCode,
			Err:        ErrBatchResponse,
		}
	}
	responses := root.Array()

	results := make([]BatchResult, len(requests))
	for i := range requests {
		req := &requests[i]
		results[i].Request = req

		if i >= len(responses) {
			results[i].Err = &BatchError{Request: req, Err: apierr.Remote("missing batch response", 0)}
			continue
		}

		item := responses[i]
		if item.Type == gjson.Null || (item.IsObject() && len(item.Map()) == 0) {
			continue
		}

		value, err := parseBody([]byte(item.Get("body").String()))
		if err != nil {
			if apiErr, ok := err.(*apierr.Error); ok {
				apiErr.StatusCode = int(item.Get("code").Int())
			}
			results[i].Err = &BatchError{Request: req, Err: err}
			continue
		}
		results[i].Value = value
	}

	if len(responses) < len(requests) {
		c.logger.Warn().
			Int("requested", len(requests)).
			Int("received", len(responses)).
			Msg("Batch response shorter than request")
	}

	return results, nil
}
