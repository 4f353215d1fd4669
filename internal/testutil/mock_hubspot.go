// Package testutil provides testing utilities for the HubSpot extractor.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// MockDeal is one deal record served by the mock CRM API.
type MockDeal struct {
	ID           string         `json:"id"`
	Properties   map[string]any `json:"properties"`
	Associations map[string]any `json:"associations,omitempty"`
	CreatedAt    string         `json:"createdAt,omitempty"`
	UpdatedAt    string         `json:"updatedAt,omitempty"`
	Archived     bool           `json:"archived"`
}

// MockPage is one page of the cursor sequence served by the deals
// endpoint. After is the cursor that selects this page ("" for the first
// page); Next is the cursor handed out for the following page.
type MockPage struct {
	After string
	Next  string
	Deals []MockDeal
	Total *int64
}

// MockResponse overrides the deals endpoint with a fixed response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// MockHubSpot is a configurable mock HubSpot CRM server for testing.
type MockHubSpot struct {
	server *httptest.Server

	mu       sync.RWMutex
	pages    map[string]MockPage // keyed by After cursor
	scripted []MockResponse      // consumed before pages, one per request
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount int
	LastQuery    map[string]string
	LastHeader   http.Header
}

// NewMockHubSpot creates a new mock HubSpot server.
func NewMockHubSpot() *MockHubSpot {
	mock := &MockHubSpot{
		pages:    make(map[string]MockPage),
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastHeader = r.Header.Clone()
		mock.LastQuery = map[string]string{}
		for key := range r.URL.Query() {
			mock.LastQuery[key] = r.URL.Query().Get(key)
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		if r.URL.Path == "/crm/v3/objects/deals" {
			mock.dealsHandler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockHubSpot) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockHubSpot) Close() {
	m.server.Close()
}

// Reset clears tracking counters and scripted responses.
func (m *MockHubSpot) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastQuery = nil
	m.LastHeader = nil
	m.scripted = nil
}

// SetHandler installs a custom handler for a specific path.
func (m *MockHubSpot) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetPages configures the cursor sequence served by the deals endpoint.
func (m *MockHubSpot) SetPages(pages ...MockPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = make(map[string]MockPage, len(pages))
	for _, page := range pages {
		m.pages[page.After] = page
	}
}

// QueueResponse scripts a fixed deals-endpoint response that is consumed
// before the page map, in FIFO order. Useful for injecting 429/5xx
// failures ahead of normal pages.
func (m *MockHubSpot) QueueResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockHubSpot) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// dealsHandler serves the deals list endpoint from scripted responses and
// the configured page map.
func (m *MockHubSpot) dealsHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	var scripted *MockResponse
	if len(m.scripted) > 0 {
		scripted = &m.scripted[0]
		m.scripted = m.scripted[1:]
	}
	m.mu.Unlock()

	if scripted != nil {
		for key, value := range scripted.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(scripted.StatusCode)
		if scripted.Body != "" {
			w.Write([]byte(scripted.Body))
		}
		return
	}

	m.mu.RLock()
	page, exists := m.pages[r.URL.Query().Get("after")]
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")

	if !exists {
		// Unknown cursor: empty last page.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"results": []}`))
		return
	}

	body := map[string]any{
		"results": page.Deals,
	}
	if page.Deals == nil {
		body["results"] = []MockDeal{}
	}
	if page.Next != "" {
		body["paging"] = map[string]any{
			"next": map[string]any{"after": page.Next},
		}
	}
	if page.Total != nil {
		body["total"] = *page.Total
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

// NewDealsPage builds a MockPage of simple deals with sequential ids
// starting at firstID.
func NewDealsPage(after, next string, firstID, count int) MockPage {
	deals := make([]MockDeal, 0, count)
	for i := 0; i < count; i++ {
		id := strconv.Itoa(firstID + i)
		deals = append(deals, MockDeal{
			ID: id,
			Properties: map[string]any{
				"dealname": "Deal " + id,
				"amount":   "1000.50",
			},
		})
	}
	return MockPage{After: after, Next: next, Deals: deals}
}

// NewRateLimitResponse creates a 429 response with a Retry-After header.
func NewRateLimitResponse(retryAfter string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  retryAfter,
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
