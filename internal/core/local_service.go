package core

import (
	"github.com/modelpull/modelpull/internal/downloader"
	"github.com/modelpull/modelpull/internal/engine/types"
)

// LocalDownloadService implements DownloadService over an in-process manager.
type LocalDownloadService struct {
	manager *downloader.Manager
}

func NewLocalDownloadService(m *downloader.Manager) *LocalDownloadService {
	return &LocalDownloadService{manager: m}
}

func (s *LocalDownloadService) Submit(req downloader.SubmitRequest) {
	s.manager.Submit(req)
}

func (s *LocalDownloadService) Statuses() map[string]types.DownloadStatus {
	return s.manager.Statuses()
}

func (s *LocalDownloadService) Status(id string) (types.DownloadStatus, bool) {
	return s.manager.Status(id)
}

func (s *LocalDownloadService) Cancel(id string) {
	s.manager.Cancel(id)
}

func (s *LocalDownloadService) Pause(id string) bool {
	return s.manager.Pause(id)
}

func (s *LocalDownloadService) Resume(id string) bool {
	return s.manager.Resume(id)
}

func (s *LocalDownloadService) Subscribe(buffer int) (string, <-chan any, func()) {
	return s.manager.Hub().Subscribe(buffer)
}

func (s *LocalDownloadService) Shutdown() {
	s.manager.Shutdown()
}
