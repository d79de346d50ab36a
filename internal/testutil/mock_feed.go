// Package testutil provides testing utilities for the calendar server.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockFeedResponse defines the behavior for a mock feed response.
type MockFeedResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockFeed is a configurable mock iCalendar upstream for testing.
type MockFeed struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	counts   map[string]int

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockFeed creates a new mock feed server.
func NewMockFeed() *MockFeed {
	mock := &MockFeed{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		counts:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.counts[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockFeed) URL() string {
	return m.server.URL
}

// Template returns a URL template whose month placeholder maps to
// /events/YYYY-MM/ on the mock server.
func (m *MockFeed) Template() string {
	return m.server.URL + "/events/$$/"
}

// MonthPath returns the request path Template produces for a month expression.
func MonthPath(expr string) string {
	return "/events/" + expr + "/"
}

// Close shuts down the mock server.
func (m *MockFeed) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockFeed) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.counts = make(map[string]int)
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockFeed) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockFeed) SetResponse(path string, resp MockFeedResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetMonthResponse configures the response for a month expression under Template.
func (m *MockFeed) SetMonthResponse(expr string, resp MockFeedResponse) {
	m.SetResponse(MonthPath(expr), resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockFeed) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made for one path.
func (m *MockFeed) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[path]
}

// GetLastRequestHeader returns a copy of the most recent request headers.
func (m *MockFeed) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// defaultHandler serves an empty calendar.
func (m *MockFeed) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(Calendar()))
}

// NewCalendarResponse creates a 200 OK response carrying an iCalendar body.
func NewCalendarResponse(body string) MockFeedResponse {
	return MockFeedResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "text/calendar; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockFeedResponse {
	return MockFeedResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "internal server error",
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockFeedResponse {
	return MockFeedResponse{
		StatusCode: http.StatusNotFound,
		Body:       "not found",
	}
}

// Event is a minimal VEVENT description for building test feeds.
type Event struct {
	UID      string
	Summary  string
	Start    time.Time
	End      time.Time
	RRule    string
	Category string
}

// VEvent renders e as a VEVENT block with UTC timestamps.
func (e Event) VEvent() string {
	var b strings.Builder
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s\r\n", e.UID)
	fmt.Fprintf(&b, "DTSTAMP:%s\r\n", e.Start.UTC().Format("20060102T150405Z"))
	fmt.Fprintf(&b, "DTSTART:%s\r\n", e.Start.UTC().Format("20060102T150405Z"))
	if !e.End.IsZero() {
		fmt.Fprintf(&b, "DTEND:%s\r\n", e.End.UTC().Format("20060102T150405Z"))
	}
	if e.Summary != "" {
		fmt.Fprintf(&b, "SUMMARY:%s\r\n", e.Summary)
	}
	if e.Category != "" {
		fmt.Fprintf(&b, "CATEGORIES:%s\r\n", e.Category)
	}
	if e.RRule != "" {
		fmt.Fprintf(&b, "RRULE:%s\r\n", e.RRule)
	}
	b.WriteString("END:VEVENT\r\n")
	return b.String()
}

// Calendar wraps events into a VCALENDAR document.
func Calendar(events ...Event) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//calendar-server//testutil//EN\r\n")
	for _, e := range events {
		b.WriteString(e.VEvent())
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}
