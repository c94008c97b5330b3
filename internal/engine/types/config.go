package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// Transfer tuning
const (
	// ChunkThreshold is the minimum file size for multi-connection transfers.
	// Files at or below this size are fetched over a single stream.
	ChunkThreshold = 32 * MB

	// DefaultConnections is the number of parallel range fetches per transfer.
	DefaultConnections = 8

	// WorkerBuffer is the read increment for each chunk fetcher.
	WorkerBuffer = 512 * KB

	// PausePollInterval is how often a paused fetcher re-checks its control.
	PausePollInterval = 500 * time.Millisecond

	// ProgressInterval rate-limits progress events from the reporting fetcher.
	ProgressInterval = 100 * time.Millisecond
)

// HTTP client tuning. Transfer requests themselves carry no overall timeout:
// model artifacts run into tens of gigabytes.
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
	ProbeTimeout                 = 30 * time.Second
)

// Channel buffer sizes
const (
	EventChannelBuffer = 100
)
