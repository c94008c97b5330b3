package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelpull/modelpull/internal/core"
	"github.com/modelpull/modelpull/internal/downloader"
	"github.com/modelpull/modelpull/internal/engine/events"
	"github.com/modelpull/modelpull/internal/paths"
	"github.com/modelpull/modelpull/internal/utils"
)

// StartRequest is the body of POST /api/download/start.
type StartRequest struct {
	URL      string `json:"url"`
	SavePath string `json:"save_path"`
	Filename string `json:"filename"`
	Override bool   `json:"override"`
}

// startHTTPServer serves the API on an existing listener until the listener closes.
func startHTTPServer(ln net.Listener, port int, svc core.DownloadService, reg *paths.Registry) {
	log := utils.GetLogger("api")

	server := &http.Server{Handler: corsMiddleware(newAPIHandler(port, svc, reg))}
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("HTTP server stopped")
	}
}

func newAPIHandler(port int, svc core.DownloadService, reg *paths.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"port":   port,
		})
	})

	mux.HandleFunc("/api/download/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handleStart(w, r, svc, reg)
	})

	mux.HandleFunc("/api/download/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, svc.Statuses())
	})

	mux.HandleFunc("/api/download/status/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/download/status/")
		st, ok := svc.Status(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "download not found")
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	mux.HandleFunc("/api/download/cancel", func(w http.ResponseWriter, r *http.Request) {
		id, ok := downloadID(w, r)
		if !ok {
			return
		}
		svc.Cancel(id)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "download_id": id})
	})

	mux.HandleFunc("/api/download/pause", func(w http.ResponseWriter, r *http.Request) {
		id, ok := downloadID(w, r)
		if !ok {
			return
		}
		if !svc.Pause(id) {
			writeJSONError(w, http.StatusNotFound, "no active download with that id")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "download_id": id})
	})

	mux.HandleFunc("/api/download/resume", func(w http.ResponseWriter, r *http.Request) {
		id, ok := downloadID(w, r)
		if !ok {
			return
		}
		if !svc.Resume(id) {
			writeJSONError(w, http.StatusNotFound, "no active download with that id")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "download_id": id})
	})

	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		handleEvents(w, r, svc)
	})

	mux.HandleFunc("/api/folders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"folders": reg.Categories()})
	})

	mux.HandleFunc("/api/folders/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/folders/")
		category, ok := strings.CutSuffix(rest, "/files")
		if !ok || category == "" || strings.Contains(category, "/") {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		if _, known := reg.Dirs(category); !known {
			writeJSONError(w, http.StatusNotFound, "unknown folder: "+category)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": reg.FilenameList(category)})
	})

	mux.HandleFunc("/api/extensions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"extensions": paths.SupportedExtensions})
	})

	return mux
}

func handleStart(w http.ResponseWriter, r *http.Request, svc core.DownloadService, reg *paths.Registry) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL == "" || req.SavePath == "" || req.Filename == "" {
		writeJSONError(w, http.StatusBadRequest, "url, save_path and filename are required")
		return
	}

	safeName, err := paths.SanitizeFilename(req.Filename)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	outputPath, err := reg.ResolveOutputPath(req.SavePath, safeName)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := os.Stat(outputPath); err == nil {
		if !req.Override {
			writeJSON(w, http.StatusOK, map[string]any{
				"confirm_override": true,
				"message":          fmt.Sprintf("file %q already exists", safeName),
				"path":             outputPath,
			})
			return
		}
		if err := os.Remove(outputPath); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "could not remove existing file: "+err.Error())
			return
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not create target directory: "+err.Error())
		return
	}

	id := req.SavePath + "/" + safeName
	svc.Submit(downloader.SubmitRequest{
		ID:         id,
		URL:        req.URL,
		Filename:   safeName,
		SavePath:   req.SavePath,
		OutputPath: outputPath,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "download_id": id})
}

// handleEvents streams download events as Server-Sent Events.
func handleEvents(w http.ResponseWriter, r *http.Request, svc core.DownloadService) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_, ch, cancel := svc.Subscribe(64)
	defer cancel()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case msg, open := <-ch:
			if !open {
				return
			}
			name := eventName(msg)
			if name == "" {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			flusher.Flush()
		}
	}
}

func eventName(msg any) string {
	switch msg.(type) {
	case events.QueuedMsg:
		return "queued"
	case events.StartedMsg:
		return "started"
	case events.ProgressMsg:
		return "progress"
	case events.CompleteMsg:
		return "complete"
	case events.ErrorMsg:
		return "error"
	case events.CancelledMsg:
		return "cancelled"
	case events.PausedMsg:
		return "paused"
	case events.ResumedMsg:
		return "resumed"
	}
	return ""
}

// downloadID decodes the {download_id} body shared by cancel, pause and resume.
func downloadID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	var req struct {
		DownloadID string `json:"download_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	if req.DownloadID == "" {
		writeJSONError(w, http.StatusBadRequest, "download_id is required")
		return "", false
	}
	return req.DownloadID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS, PUT, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
