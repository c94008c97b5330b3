// Package testutil provides HTTP test servers for exercising the download engine.
package testutil

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockServer serves a synthetic file over HTTP with configurable range
// support and failure injection.
type MockServer struct {
	Server *httptest.Server

	// Configuration
	FileSize         int64         // Size of the served file
	SupportsRanges   bool          // Whether to honor HTTP Range requests
	HeadDisabled     bool          // If true, HEAD requests get 405 (probe must fall back to ranged GET)
	RandomData       bool          // If true, serve random data; otherwise zeros
	Latency          time.Duration // Artificial latency per request
	ByteLatency      time.Duration // Latency per byte served
	FailOnNthRequest int           // Fail the Nth request with a 500 (0 = never)
	FailAfterBytes   int64         // Drop the connection after serving N bytes per request (0 = never)

	// Tracking
	RequestCount  atomic.Int64
	HeadRequests  atomic.Int64
	RangeRequests atomic.Int64
	FullRequests  atomic.Int64

	reqNumMu sync.Mutex
	reqNum   int

	data []byte
}

// MockServerOption configures a MockServer.
type MockServerOption func(*MockServer)

// WithFileSize sets the size of the served file.
func WithFileSize(size int64) MockServerOption {
	return func(m *MockServer) { m.FileSize = size }
}

// WithRangeSupport enables or disables Range request support.
func WithRangeSupport(enabled bool) MockServerOption {
	return func(m *MockServer) { m.SupportsRanges = enabled }
}

// WithHeadDisabled makes the server reject HEAD requests with 405.
func WithHeadDisabled() MockServerOption {
	return func(m *MockServer) { m.HeadDisabled = true }
}

// WithRandomData serves random bytes instead of zeros.
func WithRandomData() MockServerOption {
	return func(m *MockServer) { m.RandomData = true }
}

// WithLatency adds artificial latency per request.
func WithLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) { m.Latency = d }
}

// WithByteLatency adds artificial latency per byte served.
func WithByteLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) { m.ByteLatency = d }
}

// WithFailOnNthRequest fails the Nth request with a 500.
func WithFailOnNthRequest(n int) MockServerOption {
	return func(m *MockServer) { m.FailOnNthRequest = n }
}

// WithFailAfterBytes drops the connection after serving N bytes of a request.
func WithFailAfterBytes(n int64) MockServerOption {
	return func(m *MockServer) { m.FailAfterBytes = n }
}

// NewMockServerT creates a mock server and skips the test if binding fails.
func NewMockServerT(t *testing.T, opts ...MockServerOption) *MockServer {
	t.Helper()
	m := &MockServer{
		FileSize:       1024 * 1024,
		SupportsRanges: true,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.data = make([]byte, m.FileSize)
	if m.RandomData {
		_, _ = rand.Read(m.data)
	}

	m.Server = NewHTTPServerT(t, http.HandlerFunc(m.handleRequest))
	t.Cleanup(m.Close)
	return m
}

// URL returns the server's base URL.
func (m *MockServer) URL() string {
	return m.Server.URL
}

// Close shuts down the server.
func (m *MockServer) Close() {
	if m.Server != nil {
		m.Server.Close()
	}
}

// Data returns the byte payload the server serves.
func (m *MockServer) Data() []byte {
	return m.data
}

func (m *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	m.RequestCount.Add(1)

	m.reqNumMu.Lock()
	m.reqNum++
	reqNum := m.reqNum
	m.reqNumMu.Unlock()

	if m.FailOnNthRequest > 0 && reqNum == m.FailOnNthRequest {
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}

	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	if r.Method == http.MethodHead {
		m.HeadRequests.Add(1)
		if m.HeadDisabled {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(m.FileSize, 10))
		if m.SupportsRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	rangeHeader := r.Header.Get("Range")
	start := int64(0)
	end := m.FileSize - 1

	if rangeHeader != "" && m.SupportsRanges {
		m.RangeRequests.Add(1)
		var err error
		start, end, err = parseRange(rangeHeader, m.FileSize)
		if err != nil {
			http.Error(w, "invalid range", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, m.FileSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		m.FullRequests.Add(1)
		w.Header().Set("Content-Length", strconv.FormatInt(m.FileSize, 10))
		if m.SupportsRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
	}

	length := end - start + 1
	written := int64(0)
	chunk := int64(32 * 1024)

	for written < length {
		if m.FailAfterBytes > 0 && written >= m.FailAfterBytes {
			// Stop writing mid-body so the client sees a short read.
			return
		}

		remaining := length - written
		if remaining < chunk {
			chunk = remaining
		}

		n, err := w.Write(m.data[start+written : start+written+chunk])
		if err != nil {
			return
		}
		written += int64(n)

		if m.ByteLatency > 0 {
			time.Sleep(m.ByteLatency * time.Duration(n))
		}
	}
}

// parseRange parses "bytes=start-end", "bytes=start-" and "bytes=-suffix".
func parseRange(rangeHeader string, fileSize int64) (int64, int64, error) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, fmt.Errorf("invalid range prefix")
	}

	parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	var start, end int64
	var err error

	if parts[0] == "" {
		end = fileSize - 1
		start, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		start = fileSize - start
	} else {
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		if parts[1] == "" {
			end = fileSize - 1
		} else {
			end, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, 0, err
			}
		}
	}

	if start < 0 || end >= fileSize || start > end {
		return 0, 0, fmt.Errorf("range out of bounds")
	}
	return start, end, nil
}
