package engine

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/modelpull/modelpull/internal/engine/events"
	"github.com/modelpull/modelpull/internal/engine/types"
)

// Round2 rounds a percentage to two decimals, matching the progress figures
// stored in the registry and pushed to subscribers.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// fetchChunk downloads one byte range and writes it into the output file at
// the chunk's offset via positioned writes. The fetcher never touches the
// shared file cursor, so any number of fetchers can share the handle.
//
// Pause is a cooperative busy-wait before each read increment; the connection
// stays open. Cancel stops consumption promptly and returns nil: cancellation
// is not a failure.
//
// Only the fetcher with report=true emits progress events (chunk 0 by
// convention), rate-limited to one per ProgressInterval and always computed
// from the shared aggregate counter.
func (t *Transfer) fetchChunk(ctx context.Context, file *os.File, chunk Chunk, report bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", chunk.Start, chunk.End))

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", chunk.Index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("chunk %d: unexpected status %d", chunk.Index, resp.StatusCode)
	}

	return t.consume(resp.Body, file, chunk.Start, chunk.Index, report)
}

// fetchSingle streams the whole file over one connection, for servers without
// range support or files below the chunking threshold.
func (t *Transfer) fetchSingle(ctx context.Context, file *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return t.consume(resp.Body, file, 0, 0, true)
}

// consume reads the body in WorkerBuffer increments and writes each increment
// at base+written, crediting the fetcher's arena slot. Returns nil on cancel.
func (t *Transfer) consume(body io.Reader, file *os.File, base int64, slot int, report bool) error {
	bufSize := t.WorkerBuffer
	if bufSize <= 0 {
		bufSize = types.WorkerBuffer
	}
	buf := make([]byte, bufSize)
	var written int64
	var lastReport time.Time

	for {
		for t.Control.IsPaused() && !t.Control.IsCancelled() {
			time.Sleep(types.PausePollInterval)
		}
		if t.Control.IsCancelled() {
			return nil
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := file.WriteAt(buf[:n], base+written); err != nil {
				return fmt.Errorf("write error: %w", err)
			}
			written += int64(n)

			t.Control.AddDownloaded(slot, int64(n))
			if report && time.Since(lastReport) >= types.ProgressInterval {
				total := t.Control.Downloaded()
				t.Events <- events.ProgressMsg{
					DownloadID: t.ID,
					Progress:   Round2(float64(total) / float64(t.totalSize) * 100),
					Downloaded: total,
					Total:      t.totalSize,
				}
				lastReport = time.Now()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("read error: %w", readErr)
		}
	}
}
