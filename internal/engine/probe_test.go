package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/modelpull/modelpull/internal/testutil"
)

func TestProbeViaHead(t *testing.T) {
	srv := testutil.NewMockServerT(t, testutil.WithFileSize(4096))

	result, err := Probe(context.Background(), &http.Client{}, srv.URL())
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if result.FileSize != 4096 {
		t.Errorf("size = %d, want 4096", result.FileSize)
	}
	if !result.SupportsRange {
		t.Error("expected range support")
	}
	if srv.HeadRequests.Load() != 1 {
		t.Errorf("HEAD requests = %d, want 1", srv.HeadRequests.Load())
	}
}

func TestProbeWithoutRangeSupport(t *testing.T) {
	srv := testutil.NewMockServerT(t, testutil.WithFileSize(2048), testutil.WithRangeSupport(false))

	result, err := Probe(context.Background(), &http.Client{}, srv.URL())
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if result.FileSize != 2048 {
		t.Errorf("size = %d, want 2048", result.FileSize)
	}
	if result.SupportsRange {
		t.Error("expected no range support")
	}
}

func TestProbeFallsBackToRangedGet(t *testing.T) {
	srv := testutil.NewMockServerT(t, testutil.WithFileSize(8192), testutil.WithHeadDisabled())

	result, err := Probe(context.Background(), &http.Client{}, srv.URL())
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if result.FileSize != 8192 {
		t.Errorf("size = %d, want 8192", result.FileSize)
	}
	if !result.SupportsRange {
		t.Error("206 response should imply range support")
	}
	if srv.RangeRequests.Load() != 1 {
		t.Errorf("range requests = %d, want 1", srv.RangeRequests.Load())
	}
}

func TestProbeContentRangeTotal(t *testing.T) {
	// A server that refuses HEAD but answers a one-byte ranged GET with the
	// full size in Content-Range. The body is a single byte; the probe must
	// take the total from the header, not Content-Length.
	const total = 500_000_000
	srv := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", total))
		w.Header().Set("Content-Length", "1")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0})
	}))
	defer srv.Close()

	result, err := Probe(context.Background(), &http.Client{}, srv.URL)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if result.FileSize != total {
		t.Errorf("size = %d, want %d", result.FileSize, total)
	}
	if !result.SupportsRange {
		t.Error("expected range support from 206")
	}
}

func TestProbeSizeUnknown(t *testing.T) {
	srv := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flush before the body so the response is chunked and never
		// carries a Content-Length.
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		if r.Method != http.MethodHead {
			fmt.Fprint(w, "streaming")
		}
	}))
	defer srv.Close()

	_, err := Probe(context.Background(), &http.Client{}, srv.URL)
	if !errors.Is(err, ErrSizeUnknown) {
		t.Fatalf("err = %v, want ErrSizeUnknown", err)
	}
}
