package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelpull/modelpull/internal/downloader"
	"github.com/modelpull/modelpull/internal/engine/events"
	"github.com/modelpull/modelpull/internal/engine/types"
	"github.com/modelpull/modelpull/internal/paths"
	"github.com/modelpull/modelpull/internal/testutil"
)

// fakeService records calls so handler behavior can be asserted without real
// transfers.
type fakeService struct {
	mu        sync.Mutex
	submitted []downloader.SubmitRequest
	statuses  map[string]types.DownloadStatus
	cancelled []string
	activeID  string
	hub       *events.Hub
}

func newFakeService() *fakeService {
	return &fakeService{
		statuses: make(map[string]types.DownloadStatus),
		hub:      events.NewHub(),
	}
}

func (f *fakeService) Submit(req downloader.SubmitRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	f.statuses[req.ID] = types.DownloadStatus{
		ID:       req.ID,
		URL:      req.URL,
		Filename: req.Filename,
		Status:   types.StatusQueued,
	}
}

func (f *fakeService) Statuses() map[string]types.DownloadStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]types.DownloadStatus, len(f.statuses))
	for id, st := range f.statuses {
		out[id] = st
	}
	return out
}

func (f *fakeService) Status(id string) (types.DownloadStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	return st, ok
}

func (f *fakeService) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
}

func (f *fakeService) Pause(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return id == f.activeID && id != ""
}

func (f *fakeService) Resume(id string) bool {
	return f.Pause(id)
}

func (f *fakeService) Subscribe(buffer int) (string, <-chan any, func()) {
	return f.hub.Subscribe(buffer)
}

func (f *fakeService) Shutdown() {
	f.hub.Close()
}

func newTestAPI(t *testing.T) (http.Handler, *fakeService, *paths.Registry) {
	t.Helper()
	svc := newFakeService()
	t.Cleanup(svc.Shutdown)
	reg := paths.NewRegistry(t.TempDir())
	return newAPIHandler(7457, svc, reg), svc, reg
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func TestHealthEndpoint(t *testing.T) {
	h, _, _ := newTestAPI(t)

	w := get(t, h, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(7457), body["port"])
}

func TestStartValidation(t *testing.T) {
	h, svc, _ := newTestAPI(t)

	tests := []struct {
		name string
		body StartRequest
	}{
		{"missing url", StartRequest{SavePath: "checkpoints", Filename: "m.safetensors"}},
		{"missing save_path", StartRequest{URL: "http://x.test/m", Filename: "m.safetensors"}},
		{"missing filename", StartRequest{URL: "http://x.test/m", SavePath: "checkpoints"}},
		{"traversal filename", StartRequest{URL: "http://x.test/m", SavePath: "checkpoints", Filename: "../../etc/passwd"}},
		{"backslash filename", StartRequest{URL: "http://x.test/m", SavePath: "checkpoints", Filename: `a\b.bin`}},
		{"unknown category", StartRequest{URL: "http://x.test/m", SavePath: "nope", Filename: "m.safetensors"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h, "/api/download/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var body map[string]string
			decode(t, w, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Empty(t, svc.submitted, "no invalid request may reach the service")
}

func TestStartQueuesDownload(t *testing.T) {
	h, svc, reg := newTestAPI(t)

	w := postJSON(t, h, "/api/download/start", StartRequest{
		URL:      "http://x.test/model",
		SavePath: "checkpoints",
		Filename: "model.safetensors",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "checkpoints/model.safetensors", body["download_id"])

	require.Len(t, svc.submitted, 1)
	sub := svc.submitted[0]
	assert.Equal(t, "checkpoints/model.safetensors", sub.ID)
	assert.Equal(t, filepath.Join(reg.ModelsRoot(), "checkpoints", "model.safetensors"), sub.OutputPath)

	// The target directory is created ahead of the transfer.
	assert.DirExists(t, filepath.Dir(sub.OutputPath))
}

func TestStartConflictAndOverride(t *testing.T) {
	h, svc, reg := newTestAPI(t)

	existing := filepath.Join(reg.ModelsRoot(), "loras", "style.safetensors")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	start := StartRequest{
		URL:      "http://x.test/style",
		SavePath: "loras",
		Filename: "style.safetensors",
	}

	w := postJSON(t, h, "/api/download/start", start)
	require.Equal(t, http.StatusOK, w.Code)

	var conflict map[string]any
	decode(t, w, &conflict)
	assert.Equal(t, true, conflict["confirm_override"])
	assert.Equal(t, existing, conflict["path"])
	assert.Empty(t, svc.submitted)

	start.Override = true
	w = postJSON(t, h, "/api/download/start", start)
	require.Equal(t, http.StatusOK, w.Code)

	var ok map[string]any
	decode(t, w, &ok)
	assert.Equal(t, true, ok["success"])
	require.Len(t, svc.submitted, 1)

	_, err := os.Stat(existing)
	assert.True(t, os.IsNotExist(err), "override must remove the existing file")
}

func TestStatusEndpoints(t *testing.T) {
	h, svc, _ := newTestAPI(t)

	svc.Submit(downloader.SubmitRequest{ID: "vae/ae.sft", URL: "http://x.test/ae", Filename: "ae.sft"})

	w := get(t, h, "/api/download/status")
	require.Equal(t, http.StatusOK, w.Code)
	var all map[string]types.DownloadStatus
	decode(t, w, &all)
	require.Contains(t, all, "vae/ae.sft")
	assert.Equal(t, types.StatusQueued, all["vae/ae.sft"].Status)

	w = get(t, h, "/api/download/status/vae/ae.sft")
	require.Equal(t, http.StatusOK, w.Code)
	var one types.DownloadStatus
	decode(t, w, &one)
	assert.Equal(t, "vae/ae.sft", one.ID)

	w = get(t, h, "/api/download/status/vae/missing.sft")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelEndpoint(t *testing.T) {
	h, svc, _ := newTestAPI(t)

	w := postJSON(t, h, "/api/download/cancel", map[string]string{"download_id": "checkpoints/x.bin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"checkpoints/x.bin"}, svc.cancelled)

	// Cancel is idempotent; unknown ids succeed too.
	w = postJSON(t, h, "/api/download/cancel", map[string]string{"download_id": "checkpoints/x.bin"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, h, "/api/download/cancel", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPauseResumeEndpoints(t *testing.T) {
	h, svc, _ := newTestAPI(t)

	w := postJSON(t, h, "/api/download/pause", map[string]string{"download_id": "vae/idle.sft"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	svc.mu.Lock()
	svc.activeID = "vae/busy.sft"
	svc.mu.Unlock()

	w = postJSON(t, h, "/api/download/pause", map[string]string{"download_id": "vae/busy.sft"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, h, "/api/download/resume", map[string]string{"download_id": "vae/busy.sft"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFoldersEndpoints(t *testing.T) {
	h, _, _ := newTestAPI(t)

	w := get(t, h, "/api/folders")
	require.Equal(t, http.StatusOK, w.Code)
	var folders map[string][]string
	decode(t, w, &folders)
	assert.Contains(t, folders["folders"], "checkpoints")

	// Listing an empty known category still yields the sentinel entry.
	w = get(t, h, "/api/folders/checkpoints/files")
	require.Equal(t, http.StatusOK, w.Code)
	var files map[string][]string
	decode(t, w, &files)
	require.NotEmpty(t, files["files"])
	assert.Equal(t, paths.FolderSentinelPrefix+"checkpoints", files["files"][0])

	w = get(t, h, "/api/folders/no_such/files")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExtensionsEndpoint(t *testing.T) {
	h, _, _ := newTestAPI(t)

	w := get(t, h, "/api/extensions")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string][]string
	decode(t, w, &body)
	assert.Contains(t, body["extensions"], ".safetensors")
}

func TestCORSPreflight(t *testing.T) {
	h, _, _ := newTestAPI(t)
	wrapped := corsMiddleware(h)

	req := httptest.NewRequest(http.MethodOptions, "/api/download/status", nil)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventsStream(t *testing.T) {
	svc := newFakeService()
	t.Cleanup(svc.Shutdown)
	reg := paths.NewRegistry(t.TempDir())

	srv := testutil.NewHTTPServerT(t, newAPIHandler(0, svc, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler a moment to register its subscriber, then publish.
	deadline := time.Now().Add(2 * time.Second)
	for svc.hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotZero(t, svc.hub.SubscriberCount(), "SSE handler never subscribed")

	svc.hub.Publish(events.QueuedMsg{DownloadID: "checkpoints/m.safetensors", Filename: "m.safetensors"})

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	require.Equal(t, "event: queued", eventLine)

	var payload events.QueuedMsg
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &payload))
	assert.Equal(t, "checkpoints/m.safetensors", payload.DownloadID)
}
