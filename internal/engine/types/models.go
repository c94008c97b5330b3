package types

// Download lifecycle states. Transitions are forward-only: a terminal entry is
// never resurrected, only overwritten by a fresh submission under the same id.
const (
	StatusQueued      = "queued"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusError       = "error"
	StatusCancelled   = "cancelled"
)

// DownloadStatus is the registry record for one download, keyed by id.
type DownloadStatus struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Filename   string  `json:"filename"`
	SavePath   string  `json:"save_path"`
	OutputPath string  `json:"output_path"`
	Progress   float64 `json:"progress"` // percentage 0-100, two decimals
	Status     string  `json:"status"`
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"`
	Error      string  `json:"error,omitempty"`
}

// Terminal reports whether the status is in a final state.
func (s *DownloadStatus) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}
