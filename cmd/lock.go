package cmd

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/modelpull/modelpull/internal/config"
)

var instanceLock *flock.Flock

// AcquireLock takes the single-instance lock. Returns false when another
// modelpull process already holds it.
func AcquireLock() (bool, error) {
	dir := config.GetStateDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	instanceLock = flock.New(filepath.Join(dir, "modelpull.lock"))
	return instanceLock.TryLock()
}

// ReleaseLock releases the single-instance lock if held.
func ReleaseLock() error {
	if instanceLock == nil {
		return nil
	}
	return instanceLock.Unlock()
}
