// Package testutil provides testing utilities for the Graph client.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// MockGraphResponse defines the behavior for a mock Graph endpoint response.
type MockGraphResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request received by the mock server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values

	// Form holds body parameters (urlencoded or multipart).
	Form   url.Values
	Header http.Header

	// Files maps multipart file field names to their content.
	Files map[string]string
}

// Param returns a parameter from the query or, failing that, the body.
func (r RecordedRequest) Param(key string) string {
	if v := r.Query.Get(key); v != "" {
		return v
	}
	return r.Form.Get(key)
}

// MockGraph is a configurable mock Graph API server for testing.
type MockGraph struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	requests []RecordedRequest
}

// NewMockGraph creates a new mock Graph server.
func NewMockGraph() *MockGraph {
	mock := &MockGraph{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded := record(r)

		mock.mu.Lock()
		mock.requests = append(mock.requests, recorded)
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		defaultHandler(w, r)
	}))

	return mock
}

func record(r *http.Request) RecordedRequest {
	recorded := RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Form:   url.Values{},
		Header: r.Header.Clone(),
		Files:  map[string]string{},
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			for key, values := range r.MultipartForm.Value {
				recorded.Form[key] = values
			}
			for key, headers := range r.MultipartForm.File {
				f, err := headers[0].Open()
				if err != nil {
					continue
				}
				data, _ := io.ReadAll(f)
				f.Close()
				recorded.Files[key] = string(data)
			}
		}
		return recorded
	}

	if err := r.ParseForm(); err == nil {
		recorded.Form = r.PostForm
	}
	return recorded
}

// URL returns the mock server URL.
func (m *MockGraph) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGraph) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockGraph) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockGraph) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockGraph) SetResponse(path string, resp MockGraphResponse) {
	m.SetHandler(path, resp.Write)
}

// SetSequence serves the responses for path in order, repeating the last one.
func (m *MockGraph) SetSequence(path string, responses ...MockGraphResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[min(next, len(responses)-1)]
		next++
		mu.Unlock()
		resp.Write(w, r)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGraph) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockGraph) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// LastRequest returns the most recent request. It panics if none was made.
func (m *MockGraph) LastRequest() RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[len(m.requests)-1]
}

// Write writes the response.
func (resp MockGraphResponse) Write(w http.ResponseWriter, r *http.Request) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// defaultHandler answers unknown paths the way the Graph API does.
func defaultHandler(w http.ResponseWriter, r *http.Request) {
	NewErrorResponse(http.StatusBadRequest, "GraphMethodException",
		fmt.Sprintf("Unsupported %s request.", strings.ToLower(r.Method)), 100).Write(w, r)
}

// NewJSONResponse creates a standard 200 OK JSON response.
func NewJSONResponse(body string) MockGraphResponse {
	return MockGraphResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=UTF-8",
		},
	}
}

// NewErrorResponse creates a structured Graph error response.
func NewErrorResponse(status int, errorType, message string, code int) MockGraphResponse {
	return MockGraphResponse{
		StatusCode: status,
		Body: fmt.Sprintf(`{"error":{"message":%q,"type":%q,"code":%d,"fbtrace_id":"AbCdEf"}}`,
			message, errorType, code),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=UTF-8",
		},
	}
}

// NewLegacyErrorResponse creates an error in the legacy error_msg/error_code shape.
func NewLegacyErrorResponse(code int, message string) MockGraphResponse {
	return MockGraphResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"error_code":%d,"error_msg":%q}`, code, message),
		Headers: map[string]string{
			"Content-Type": "text/javascript; charset=UTF-8",
		},
	}
}

// NewServerErrorResponse creates a 500 response without an error body.
func NewServerErrorResponse() MockGraphResponse {
	return MockGraphResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "Internal Server Error",
		Headers: map[string]string{
			"Content-Type": "text/plain",
		},
	}
}

// NewAppUsageResponse creates a 200 OK response carrying an X-App-Usage header.
func NewAppUsageResponse(body string, callCount, totalTime, totalCPUTime int) MockGraphResponse {
	resp := NewJSONResponse(body)
	resp.Headers["X-App-Usage"] = fmt.Sprintf(`{"call_count":%d,"total_time":%d,"total_cputime":%d}`,
		callCount, totalTime, totalCPUTime)
	return resp
}

// NewBatchEchoHandler answers a batch POST with one 200 sub-response per
// item whose body echoes the item's method and relative_url.
func NewBatchEchoHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		items := gjson.Parse(r.FormValue("batch")).Array()

		parts := make([]string, len(items))
		for i, item := range items {
			body := fmt.Sprintf(`{"method":%q,"relative_url":%q}`,
				item.Get("method").String(), item.Get("relative_url").String())
			parts[i] = fmt.Sprintf(`{"code":200,"headers":[],"body":%q}`, body)
		}

		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("[" + strings.Join(parts, ",") + "]"))
	}
}
