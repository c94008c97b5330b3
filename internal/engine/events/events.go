package events

import (
	"encoding/json"
	"errors"
)

// QueuedMsg is emitted when a download is admitted to the queue.
type QueuedMsg struct {
	DownloadID string
	Filename   string
}

// StartedMsg is emitted once size discovery succeeds and the transfer begins.
type StartedMsg struct {
	DownloadID string
	URL        string
	Total      int64
}

// ProgressMsg is a rate-limited progress update for one download. Progress is
// computed from the transfer-wide byte counter, not a single chunk's count.
type ProgressMsg struct {
	DownloadID string
	Progress   float64
	Downloaded int64
	Total      int64
}

// CompleteMsg signals that the download finished successfully.
type CompleteMsg struct {
	DownloadID string
	Path       string
	Size       int64
}

// ErrorMsg signals that the download failed.
type ErrorMsg struct {
	DownloadID string
	Err        error
}

func (m ErrorMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		DownloadID string `json:"DownloadID"`
		Err        string `json:"Err,omitempty"`
	}

	out := encoded{DownloadID: m.DownloadID}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}
	return json.Marshal(out)
}

func (m *ErrorMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		DownloadID string `json:"DownloadID"`
		Err        string `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.DownloadID = aux.DownloadID
	m.Err = nil
	if aux.Err != "" {
		m.Err = errors.New(aux.Err)
	}
	return nil
}

// CancelledMsg signals a user-initiated cancellation. Not an error.
type CancelledMsg struct {
	DownloadID string
}

type PausedMsg struct {
	DownloadID string
	Downloaded int64
}

type ResumedMsg struct {
	DownloadID string
}
