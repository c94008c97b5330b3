package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/modelpull/modelpull/internal/engine/events"
	"github.com/modelpull/modelpull/internal/engine/types"
	"github.com/modelpull/modelpull/internal/utils"
)

// Transfer coordinates one download job: size discovery, preallocation, chunk
// fan-out, and terminal cleanup. At most one Transfer runs process-wide; the
// queue driver enforces that.
type Transfer struct {
	ID       string
	URL      string
	DestPath string
	Control  *Control
	Events   chan<- any

	Connections    int
	ChunkThreshold int64
	WorkerBuffer   int

	client    *http.Client
	totalSize int64
}

func NewTransfer(id, rawurl, destPath string, ctrl *Control, eventCh chan<- any) *Transfer {
	return &Transfer{
		ID:             id,
		URL:            rawurl,
		DestPath:       destPath,
		Control:        ctrl,
		Events:         eventCh,
		Connections:    types.DefaultConnections,
		ChunkThreshold: types.ChunkThreshold,
		WorkerBuffer:   types.WorkerBuffer,
	}
}

// TotalSize returns the discovered file size, zero before discovery.
func (t *Transfer) TotalSize() int64 {
	return t.totalSize
}

// Run executes the transfer to a terminal state. It returns nil on success
// and on cancellation (the caller distinguishes via the Control); any error
// return means the job failed and the partial file is left on disk as-is.
func (t *Transfer) Run(ctx context.Context) error {
	log := utils.GetLogger("transfer")

	// The client is built here, not in NewTransfer, so callers can tune
	// Connections between construction and Run.
	if t.client == nil {
		t.client = newTransferClient(t.Connections)
	}

	probe, err := Probe(ctx, t.client, t.URL)
	if err != nil {
		return err
	}
	if t.Control.IsCancelled() {
		return nil
	}
	t.totalSize = probe.FileSize

	log.Info().
		Str("id", t.ID).
		Str("size", humanize.Bytes(uint64(t.totalSize))).
		Bool("supports_range", probe.SupportsRange).
		Msg("starting transfer")

	t.Events <- events.StartedMsg{DownloadID: t.ID, URL: t.URL, Total: t.totalSize}

	// Preallocate to full size so chunk writers can WriteAt arbitrary offsets
	// without growing the file under concurrent writers.
	file, err := os.OpenFile(t.DestPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()
	if err := file.Truncate(t.totalSize); err != nil {
		return fmt.Errorf("failed to preallocate file: %w", err)
	}

	if probe.SupportsRange && t.totalSize > t.ChunkThreshold {
		err = t.runChunked(ctx, file)
	} else {
		log.Debug().Str("id", t.ID).Msg("using single connection")
		t.Control.InitSlots(1)
		err = t.fetchSingle(ctx, file)
	}

	if t.Control.IsCancelled() {
		_ = os.Remove(t.DestPath)
		log.Info().Str("id", t.ID).Msg("transfer cancelled, partial file removed")
		return nil
	}
	if err != nil {
		return err
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// runChunked fans out one fetcher per planned chunk and waits for all of
// them. A single failing chunk fails the whole job; there are no chunk-level
// retries.
func (t *Transfer) runChunked(ctx context.Context, file *os.File) error {
	chunks := PlanChunks(t.totalSize, t.Connections)
	t.Control.InitSlots(len(chunks))

	log := utils.GetLogger("transfer")
	log.Debug().
		Str("id", t.ID).
		Int("connections", len(chunks)).
		Msg("using chunked transfer")

	var wg sync.WaitGroup
	errCh := make(chan error, len(chunks))

	for _, chunk := range chunks {
		wg.Add(1)
		go func(c Chunk) {
			defer wg.Done()
			if err := t.fetchChunk(ctx, file, c, c.Index == 0); err != nil {
				errCh <- err
			}
		}(chunk)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// newTransferClient builds an http.Client tuned for parallel range fetches.
// No overall timeout: artifacts can take hours on slow links.
func newTransferClient(numConns int) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: numConns + 2,
		MaxConnsPerHost:     0,

		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		// Force HTTP/1.1 so each fetcher gets its own TCP connection.
		DisableCompression: true,
		ForceAttemptHTTP2:  false,
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		DialContext: (&net.Dialer{
			Timeout:   types.DialTimeout,
			KeepAlive: types.KeepAliveDuration,
		}).DialContext,
	}

	return &http.Client{Transport: transport}
}
