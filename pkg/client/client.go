// Package client provides the Graph API HTTP client: request building,
// credential injection, response parsing and error classification, plus the
// retry, pagination and batch layers composed on top of it.
package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/Sternrassler/graph-client/pkg/logging"
	"github.com/Sternrassler/graph-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for Graph client operations.
var (
	graphRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_requests_total",
		Help: "Total Graph API requests by method and status",
	}, []string{"method", "status"})

	graphRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graph_request_duration_seconds",
		Help:    "Graph API request duration in seconds by method",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	graphErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_errors_total",
		Help: "Total Graph API errors by kind",
	}, []string{"kind"})
)

// DefaultBaseURL is the Graph API origin.
const DefaultBaseURL = "https://graph.facebook.com"

// Reserved parameter names injected by the client.
const (
	paramAccessToken    = "access_token"
	paramAppSecretProof = "appsecret_proof"
)

// Client is the Graph API client.
//
// A Client may be reused for sequential calls. Concurrent use is safe as far
// as net/http is, but pagers and batch iterators must stay on one goroutine.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	searchTypes map[string]bool
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the Graph API (default DefaultBaseURL).
	BaseURL string

	// AccessToken is sent as access_token with every request when set.
	AccessToken string

	// AppSecret enables appsecret_proof when an AccessToken is set.
	AppSecret string

	// Version is the API version, e.g. "2.3" or "v2.3". Inserted as a path segment.
	Version string

	// Timeout applies to every request. Zero means no timeout.
	Timeout time.Duration

	// SkipTLSVerify disables certificate verification.
	SkipTLSVerify bool

	// UserAgent header, optional.
	UserAgent string

	// Retry
	MaxRetries int // Re-attempts after a failed first attempt
	Retry      RetryConfig

	// SearchTypes lists the accepted search types (default DefaultSearchTypes).
	SearchTypes []string

	// MangleKeys rewrites bracket and colon markers in parameter names, see MangleKey.
	MangleKeys bool

	// Redis enables the shared app usage gate, see package ratelimit. Optional.
	Redis *redis.Client
}

// DefaultConfig returns a default configuration for the given access token.
func DefaultConfig(accessToken string) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		AccessToken: accessToken,
		MaxRetries:  3,
		Retry:       DefaultRetryConfig(),
		SearchTypes: DefaultSearchTypes,
	}
}

// New creates a new Graph client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	if cfg.SearchTypes == nil {
		cfg.SearchTypes = DefaultSearchTypes
	}
	searchTypes := make(map[string]bool, len(cfg.SearchTypes))
	for _, t := range cfg.SearchTypes {
		searchTypes[t] = true
	}

	logger := logging.NewLogger("graph-client")

	var rateLimiter *ratelimit.Tracker
	if cfg.Redis != nil {
		rateLimiter = ratelimit.NewTracker(cfg.Redis, logger)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.SkipTLSVerify}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		rateLimiter: rateLimiter,
		searchTypes: searchTypes,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Request describes one logical Graph API call.
type Request struct {
	// Method is GET, POST, DELETE or PUT.
	Method string

	// Path is relative to the base URL, or an absolute URL such as a paging cursor.
	Path string

	// Params are sent as query parameters (GET, DELETE) or as the body (POST, PUT).
	Params Params

	// Retries is the number of re-attempts after a failed first attempt.
	Retries int

	// anonymous requests are sent without access_token and appsecret_proof.
	anonymous bool
}

// Response is the parsed result of one HTTP call.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body is the decoded JSON value: map[string]any, []any, string, bool,
	// int64, decimal.Decimal or nil. Bodies that are not JSON are returned as
	// raw text.
	Body any

	// Raw is the unparsed response body.
	Raw []byte

	// Next is the paging cursor (paging.next), empty on the last page.
	Next string
}

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Execute issues a single request without retry.
// All errors are *apierr.Error values.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPut:
	default:
		return nil, apierr.Usage("unsupported method %q", req.Method)
	}

	values, files, err := c.encodeParams(req.Params)
	if err != nil {
		return nil, err
	}
	if len(files) > 0 && method != http.MethodPost && method != http.MethodPut {
		return nil, apierr.Usage("file parameters require POST or PUT, got %s", method)
	}

	target, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	if !req.anonymous {
		c.authenticate(values)
	}

	if err := c.checkRateLimit(ctx); err != nil {
		return nil, err
	}

	httpReq, err := c.newHTTPRequest(ctx, method, target, values, files)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", target.Path).
		Msg("Executing Graph request")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	graphRequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	if err != nil {
		c.logger.Error().Err(err).Str("path", target.Path).Msg("HTTP request failed")
		graphRequestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, c.record(apierr.Transport(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.record(apierr.Transport(fmt.Errorf("read response body: %w", err)))
	}

	graphRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update app usage from headers")
		}
	}

	if resp.StatusCode >= 500 {
		return nil, c.record(serverError(resp.StatusCode, body))
	}

	value, err := parseBody(body)
	if err != nil {
		if apiErr, ok := err.(*apierr.Error); ok {
			apiErr.StatusCode = resp.StatusCode
		}
		return nil, c.record(err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       value,
		Raw:        body,
		Next:       nextCursor(body),
	}, nil
}

// resolve qualifies path against the base URL and version.
// URLs with a host pass through unchanged; protocol-relative ones take the
// base URL's scheme.
func (c *Client) resolve(path string) (*url.URL, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, apierr.Usage("invalid path %q: %v", path, err)
	}
	if u.Host != "" {
		if u.Scheme == "" {
			u.Scheme = c.baseScheme()
		}
		return u, nil
	}

	base := strings.TrimRight(c.config.BaseURL, "/")
	if v := c.config.Version; v != "" {
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		base += "/" + v
	}

	full, err := url.Parse(base + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, apierr.Usage("invalid path %q: %v", path, err)
	}
	return full, nil
}

func (c *Client) baseScheme() string {
	if base, err := url.Parse(c.config.BaseURL); err == nil && base.Scheme != "" {
		return base.Scheme
	}
	return "https"
}

// authenticate injects access_token and appsecret_proof.
func (c *Client) authenticate(values url.Values) {
	if c.config.AccessToken == "" {
		return
	}
	values.Set(paramAccessToken, c.config.AccessToken)
	if c.config.AppSecret != "" {
		values.Set(paramAppSecretProof, AppSecretProof(c.config.AccessToken, c.config.AppSecret))
	}
}

// AppSecretProof returns hex(HMAC-SHA256(appSecret, accessToken)).
func AppSecretProof(accessToken, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(accessToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// checkRateLimit consults the shared app usage gate, if configured.
// Gate failures are logged and do not block the request.
func (c *Client) checkRateLimit(ctx context.Context) error {
	if c.rateLimiter == nil {
		return nil
	}

	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("App usage check failed")
		return nil
	}
	if !allowed {
		graphRequestsTotal.WithLabelValues("", "rate_limited").Inc()
		e := apierr.Remote("Application request limit reached", 4)
		e.IsTransient = true
		e.Err = ErrAppUsageLimit
		return c.record(e)
	}
	return nil
}

// newHTTPRequest builds the HTTP request: query string for GET/DELETE, form
// or multipart body for POST/PUT.
func (c *Client) newHTTPRequest(ctx context.Context, method string, target *url.URL, values url.Values, files []fileParam) (*http.Request, error) {
	u := *target
	var body io.Reader
	var contentType string

	switch method {
	case http.MethodGet, http.MethodDelete:
		query := u.Query()
		for key, vs := range values {
			query[key] = vs
		}
		u.RawQuery = query.Encode()
	default:
		if len(files) > 0 {
			buf, ct, err := encodeMultipart(values, files)
			if err != nil {
				return nil, err
			}
			body, contentType = buf, ct
		} else {
			body, contentType = strings.NewReader(values.Encode()), "application/x-www-form-urlencoded"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, apierr.Usage("create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	return req, nil
}

// encodeMultipart writes form fields followed by file parts.
// Seekable readers are rewound so retried attempts resend the full content.
func encodeMultipart(values url.Values, files []fileParam) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for key, vs := range values {
		for _, v := range vs {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", apierr.Usage("write field %q: %v", key, err)
			}
		}
	}

	for _, f := range files {
		if seeker, ok := f.reader.(io.Seeker); ok {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, "", apierr.Usage("rewind file %q: %v", f.key, err)
			}
		}

		filename := f.key
		if named, ok := f.reader.(interface{ Name() string }); ok {
			filename = filepath.Base(named.Name())
		}

		part, err := w.CreateFormFile(f.key, filename)
		if err != nil {
			return nil, "", apierr.Usage("create file part %q: %v", f.key, err)
		}
		if _, err := io.Copy(part, f.reader); err != nil {
			return nil, "", apierr.Usage("copy file %q: %v", f.key, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", apierr.Usage("close multipart body: %v", err)
	}
	return buf, w.FormDataContentType(), nil
}

// serverError classifies a 5xx response. A structured error in the body wins;
// otherwise a generic internal error tagged with the status code.
func serverError(status int, body []byte) error {
	if _, err := parseBody(body); err != nil {
		if apiErr, ok := err.(*apierr.Error); ok {
			apiErr.StatusCode = status
		}
		return err
	}
	e := apierr.Remote("Internal error occurred", status)
	e.StatusCode = status
	return e
}

// nextCursor extracts paging.next from an object body.
func nextCursor(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "paging.next").String()
}

// record counts and logs a classified error and returns it unchanged.
func (c *Client) record(err error) error {
	kind := apierr.KindOf(err)
	graphErrorsTotal.WithLabelValues(string(kind)).Inc()

	c.logger.Debug().
		Str("kind", string(kind)).
		Err(err).
		Msg("Error classified")
	return err
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
