package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/modelpull/modelpull/internal/engine/types"
	"github.com/modelpull/modelpull/internal/utils"
)

// ErrSizeUnknown means no discovery strategy yielded a total size. A transfer
// with unknown size is never attempted: chunk planning and preallocation both
// need the exact byte count up front.
var ErrSizeUnknown = errors.New("could not determine file size from server")

// ProbeResult contains the metadata discovered from the server.
type ProbeResult struct {
	FileSize      int64
	SupportsRange bool
}

// Probe determines the total size of the resource at rawurl and whether the
// server honors byte-range requests. Strategies are tried in order, first
// success wins:
//
//  1. HEAD following redirects; Content-Length plus an Accept-Ranges check.
//  2. GET with Range: bytes=0-0; prefer the total from Content-Range
//     ("bytes 0-0/TOTAL"), fall back to that response's Content-Length.
//     A 206 response implies range support.
//
// If both leave the size at zero the probe fails with ErrSizeUnknown.
func Probe(ctx context.Context, client *http.Client, rawurl string) (*ProbeResult, error) {
	log := utils.GetLogger("probe")

	result := &ProbeResult{}

	headCtx, cancel := context.WithTimeout(ctx, types.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(headCtx, http.MethodHead, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("HEAD probe failed, falling back to ranged GET")
	} else {
		drainAndClose(resp)
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result.FileSize = parseContentLength(resp.Header)
			result.SupportsRange = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
		}
	}

	if result.FileSize == 0 {
		log.Debug().Str("url", rawurl).Msg("HEAD yielded no size, probing with Range: bytes=0-0")
		if err := probeWithRange(ctx, client, rawurl, result); err != nil {
			log.Debug().Err(err).Msg("ranged probe failed")
		}
	}

	if result.FileSize == 0 {
		return nil, ErrSizeUnknown
	}

	log.Debug().
		Int64("size", result.FileSize).
		Bool("supports_range", result.SupportsRange).
		Msg("probe complete")
	return result, nil
}

func probeWithRange(ctx context.Context, client *http.Client, rawurl string, result *ProbeResult) error {
	getCtx, cancel := context.WithTimeout(ctx, types.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(getCtx, http.MethodGet, rawurl, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Content-Range: bytes 0-0/TOTAL
	if contentRange := resp.Header.Get("Content-Range"); contentRange != "" {
		if idx := strings.LastIndex(contentRange, "/"); idx != -1 {
			sizeStr := contentRange[idx+1:]
			if sizeStr != "*" {
				if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil && size > 0 {
					result.FileSize = size
					result.SupportsRange = true
				}
			}
		}
	}

	if result.FileSize == 0 {
		result.FileSize = parseContentLength(resp.Header)
	}
	if resp.StatusCode == http.StatusPartialContent {
		result.SupportsRange = true
	}
	return nil
}

func parseContentLength(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return 0
	}
	size, err := strconv.ParseInt(v, 10, 64)
	if err != nil || size < 0 {
		return 0
	}
	return size
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
