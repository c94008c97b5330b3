package downloader

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/h2non/filetype"
	"github.com/rs/zerolog"

	"github.com/modelpull/modelpull/internal/engine"
	"github.com/modelpull/modelpull/internal/engine/events"
	"github.com/modelpull/modelpull/internal/engine/types"
	"github.com/modelpull/modelpull/internal/utils"
)

// SubmitRequest describes a validated download admission.
type SubmitRequest struct {
	ID         string
	URL        string
	Filename   string
	SavePath   string
	OutputPath string
}

// Options are the transfer tuning knobs, normally sourced from the settings
// file. Zero values fall back to the built-in defaults.
type Options struct {
	Connections    int
	ChunkThreshold int64
	WorkerBuffer   int
}

func (o Options) withDefaults() Options {
	if o.Connections <= 0 {
		o.Connections = types.DefaultConnections
	}
	if o.ChunkThreshold <= 0 {
		o.ChunkThreshold = types.ChunkThreshold
	}
	if o.WorkerBuffer <= 0 {
		o.WorkerBuffer = types.WorkerBuffer
	}
	return o
}

// Manager owns the job queue, the status registry, and the single active
// transfer slot. A single driver goroutine pops jobs and runs transfers one
// at a time, so at most one transfer is ever in flight and queue advancement
// cannot double-start.
type Manager struct {
	mu       sync.Mutex
	statuses map[string]*types.DownloadStatus
	active   *engine.Control
	activeID string
	opts     Options

	queue   *jobQueue
	hub     *events.Hub
	eventCh chan any

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger

	// runTransfer is swapped out in tests to avoid real network transfers.
	runTransfer func(ctx context.Context, job Job, ctrl *engine.Control, eventCh chan<- any) (int64, error)
}

func NewManager(opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		statuses: make(map[string]*types.DownloadStatus),
		opts:     opts.withDefaults(),
		queue:    newJobQueue(),
		hub:      events.NewHub(),
		eventCh:  make(chan any, types.EventChannelBuffer),
		ctx:      ctx,
		cancel:   cancel,
		log:      utils.GetLogger("manager"),
	}
	m.runTransfer = func(ctx context.Context, job Job, ctrl *engine.Control, eventCh chan<- any) (int64, error) {
		t := engine.NewTransfer(job.ID, job.URL, job.OutputPath, ctrl, eventCh)
		t.Connections = m.opts.Connections
		t.ChunkThreshold = m.opts.ChunkThreshold
		t.WorkerBuffer = m.opts.WorkerBuffer
		err := t.Run(ctx)
		return t.TotalSize(), err
	}

	m.wg.Add(2)
	go m.drive()
	go m.pump()
	return m
}

// Hub exposes the event stream for subscribers (SSE handlers, console).
func (m *Manager) Hub() *events.Hub {
	return m.hub
}

// Submit admits a job: registry entry created as queued, job appended to the
// FIFO. A second submission with the same id overwrites the registry entry.
func (m *Manager) Submit(req SubmitRequest) {
	m.mu.Lock()
	m.statuses[req.ID] = &types.DownloadStatus{
		ID:         req.ID,
		URL:        req.URL,
		Filename:   req.Filename,
		SavePath:   req.SavePath,
		OutputPath: req.OutputPath,
		Status:     types.StatusQueued,
	}
	m.mu.Unlock()

	m.queue.Enqueue(Job{ID: req.ID, URL: req.URL, OutputPath: req.OutputPath})
	m.eventCh <- events.QueuedMsg{DownloadID: req.ID, Filename: req.Filename}
	m.log.Info().Str("id", req.ID).Str("url", req.URL).Msg("download queued")
}

// Cancel is idempotent for queued, active, or unknown ids. A queued job is
// struck from the FIFO and never starts; an active one has its control flag
// set and the transfer deletes its partial file on the way out.
func (m *Manager) Cancel(id string) {
	m.queue.Remove(id)

	m.mu.Lock()
	if m.activeID == id && m.active != nil {
		m.active.Cancel()
	}
	if st, ok := m.statuses[id]; ok && !st.Terminal() {
		st.Status = types.StatusCancelled
	}
	m.mu.Unlock()

	m.eventCh <- events.CancelledMsg{DownloadID: id}
	m.log.Info().Str("id", id).Msg("download cancelled")
}

// Pause suspends the active transfer's byte consumption. Returns false if id
// is not the active download.
func (m *Manager) Pause(id string) bool {
	m.mu.Lock()
	ctrl := m.active
	isActive := m.activeID == id && ctrl != nil
	m.mu.Unlock()

	if !isActive {
		return false
	}
	ctrl.Pause()
	m.eventCh <- events.PausedMsg{DownloadID: id, Downloaded: ctrl.Downloaded()}
	return true
}

// Resume unpauses the active transfer.
func (m *Manager) Resume(id string) bool {
	m.mu.Lock()
	ctrl := m.active
	isActive := m.activeID == id && ctrl != nil
	m.mu.Unlock()

	if !isActive {
		return false
	}
	ctrl.Resume()
	m.eventCh <- events.ResumedMsg{DownloadID: id}
	return true
}

// Statuses returns a snapshot of every registry entry.
func (m *Manager) Statuses() map[string]types.DownloadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]types.DownloadStatus, len(m.statuses))
	for id, st := range m.statuses {
		out[id] = *st
	}
	return out
}

// Status returns a snapshot of one entry.
func (m *Manager) Status(id string) (types.DownloadStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statuses[id]
	if !ok {
		return types.DownloadStatus{}, false
	}
	return *st, true
}

// QueueLen reports the number of pending (not yet started) jobs.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// Shutdown aborts the in-flight transfer, stops the driver, and drops all
// event subscribers. Queue and registry state are not persisted.
func (m *Manager) Shutdown() {
	m.queue.Close()
	m.cancel()
	m.wg.Wait()
	m.hub.Close()
}

// drive is the queue supervisory loop: one job at a time, always advancing
// to the next job whatever the previous one's terminal state was.
func (m *Manager) drive() {
	defer m.wg.Done()
	defer close(m.eventCh)

	for {
		job, ok := m.queue.Next()
		if !ok {
			return
		}
		m.runJob(job)
	}
}

func (m *Manager) runJob(job Job) {
	m.mu.Lock()
	st, ok := m.statuses[job.ID]
	if !ok || st.Status != types.StatusQueued {
		// Cancelled while pending, or overwritten by a resubmission.
		m.mu.Unlock()
		return
	}
	st.Status = types.StatusDownloading
	st.Progress = 0
	st.Downloaded = 0

	ctrl := engine.NewControl()
	m.active = ctrl
	m.activeID = job.ID
	m.mu.Unlock()

	m.eventCh <- events.ProgressMsg{DownloadID: job.ID}

	total, err := m.runTransfer(m.ctx, job, ctrl, m.eventCh)

	m.mu.Lock()
	m.active = nil
	m.activeID = ""
	st = m.statuses[job.ID]

	switch {
	case ctrl.IsCancelled():
		if st != nil && !st.Terminal() {
			st.Status = types.StatusCancelled
		}
		m.mu.Unlock()
		// The cancelled event was already published by Cancel.

	case err != nil:
		if st != nil && !st.Terminal() {
			st.Status = types.StatusError
			st.Error = err.Error()
		}
		m.mu.Unlock()
		m.eventCh <- events.ErrorMsg{DownloadID: job.ID, Err: err}
		m.log.Error().Str("id", job.ID).Err(err).Msg("download failed")

	default:
		if st != nil && !st.Terminal() {
			st.Status = types.StatusCompleted
			st.Progress = 100
			st.Total = total
			st.Downloaded = total
		}
		m.mu.Unlock()
		m.eventCh <- events.CompleteMsg{DownloadID: job.ID, Path: job.OutputPath, Size: total}

		logEvt := m.log.Info().Str("id", job.ID).Str("path", job.OutputPath)
		if kind := detectFileType(job.OutputPath); kind != "" {
			logEvt = logEvt.Str("type", kind)
		}
		logEvt.Msg("download completed")
	}
}

// pump applies progress events to the registry and fans everything out to
// subscribers. Registry updates only land while the entry is still
// downloading, so a stale progress event can never walk back a terminal
// state.
func (m *Manager) pump() {
	defer m.wg.Done()

	for msg := range m.eventCh {
		switch ev := msg.(type) {
		case events.StartedMsg:
			m.mu.Lock()
			if st, ok := m.statuses[ev.DownloadID]; ok && st.Status == types.StatusDownloading {
				st.Total = ev.Total
			}
			m.mu.Unlock()
		case events.ProgressMsg:
			m.mu.Lock()
			if st, ok := m.statuses[ev.DownloadID]; ok && st.Status == types.StatusDownloading {
				st.Progress = ev.Progress
				st.Downloaded = ev.Downloaded
				if ev.Total > 0 {
					st.Total = ev.Total
				}
			}
			m.mu.Unlock()
		}
		m.hub.Publish(msg)
	}
}

// detectFileType sniffs the finished file's magic bytes. Best effort, used
// only for logging.
func detectFileType(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 262)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return ""
	}

	kind, err := filetype.Match(buf[:n])
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
