package core

import (
	"github.com/modelpull/modelpull/internal/downloader"
	"github.com/modelpull/modelpull/internal/engine/types"
)

// DownloadService is the surface the HTTP layer (and tests) program against.
// It hides the manager's queue, registry, and active-transfer slot behind an
// explicit interface so multiple isolated instances can coexist.
type DownloadService interface {
	// Submit admits a validated download job.
	Submit(req downloader.SubmitRequest)

	// Statuses returns a snapshot of every download's status, keyed by id.
	Statuses() map[string]types.DownloadStatus

	// Status returns one download's status.
	Status(id string) (types.DownloadStatus, bool)

	// Cancel cancels a queued or active download. Idempotent.
	Cancel(id string)

	// Pause suspends the active download's byte consumption.
	Pause(id string) bool

	// Resume unpauses the active download.
	Resume(id string) bool

	// Subscribe registers an event subscriber; cancel unregisters it.
	Subscribe(buffer int) (id string, ch <-chan any, cancel func())

	// Shutdown stops the service.
	Shutdown()
}
