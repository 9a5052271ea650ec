package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/viddl/viddl/internal/jobs"
	"github.com/viddl/viddl/pkg/file"
	"github.com/viddl/viddl/pkg/log"
)

var allowedUploadExts = map[string]bool{
	".mp4": true, ".webm": true, ".mkv": true, ".mov": true, ".avi": true,
	".mp3": true, ".m4a": true, ".wav": true,
}

type submitRequest struct {
	URL     string       `json:"url"`
	Kind    jobs.Kind    `json:"kind"`
	Options jobs.Options `json:"options"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.store.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			s.handleSubmitUpload(w, r)
			return
		}
		s.handleSubmitURL(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSubmitURL(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Kind == "" {
		req.Kind = jobs.KindDownload
	}
	if req.Kind != jobs.KindDownload {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("kind %q requires a file upload", req.Kind))
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	s.submit(w, jobs.NewJob{
		Kind:    req.Kind,
		Input:   req.URL,
		Options: req.Options,
	})
}

func (s *Server) handleSubmitUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploadsDir == "" {
		writeError(w, http.StatusBadRequest, "file uploads are not enabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse upload: file may be too large")
		return
	}

	upload, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer upload.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		writeError(w, http.StatusBadRequest, "unsupported file type, please upload a media file")
		return
	}

	kind := jobs.Kind(r.FormValue("kind"))
	if kind == jobs.KindDownload || kind == "" {
		writeError(w, http.StatusBadRequest, "uploaded files require a processing kind")
		return
	}

	// Validate before touching the disk so bad requests leave nothing behind.
	spec := jobs.NewJob{
		Kind: kind,
		// Placeholder until the upload is stored; validation only inspects
		// kind and options for non-URL inputs.
		Input: header.Filename,
		Options: jobs.Options{
			Quality:           r.FormValue("quality"),
			Format:            r.FormValue("format"),
			StartTime:         r.FormValue("start_time"),
			EndTime:           r.FormValue("end_time"),
			WatermarkText:     r.FormValue("watermark_text"),
			WatermarkPosition: r.FormValue("watermark_position"),
		},
	}
	spec, err = jobs.ValidateSpec(spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inputPath, err := s.saveUpload(upload, ext)
	if err != nil {
		log.Error("Failed to store upload: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	spec.Input = inputPath

	job, err := s.queue.Submit(spec)
	if err != nil {
		_ = os.Remove(inputPath)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID})
}

func (s *Server) saveUpload(upload io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.uploadsDir, 0755); err != nil {
		return "", fmt.Errorf("create uploads directory: %w", err)
	}
	path := filepath.Join(s.uploadsDir, uuid.NewString()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, upload); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *Server) submit(w http.ResponseWriter, spec jobs.NewJob) {
	spec, err := jobs.ValidateSpec(spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.queue.Submit(spec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID})
}

func (s *Server) handleJobSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "status":
		s.handleStatus(w, r, id)
	case "file":
		s.handleFile(w, r, id)
	case "cancel":
		s.handleCancel(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type statusResponse struct {
	ID          string      `json:"id"`
	Status      jobs.Status `json:"status"`
	Progress    int         `json:"progress"`
	Title       string      `json:"title,omitempty"`
	DownloadURL string      `json:"download_url,omitempty"`
	Error       string      `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, err := s.store.Get(id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ID:          job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		Title:       job.Title,
		DownloadURL: job.DownloadURL,
		Error:       job.Error,
	})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, err := s.store.Get(id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Status != jobs.StatusCompleted {
		writeError(w, http.StatusConflict, "file not ready for download")
		return
	}
	// The reaper or an operator may have removed the file since completion,
	// so existence is checked at fetch time rather than trusted from status.
	if job.OutputPath == "" || !file.Exists(job.OutputPath) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	ext := filepath.Ext(job.OutputPath)
	w.Header().Set("Content-Type", file.ContentType(ext))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", downloadFilename(job, ext)))
	http.ServeFile(w, r, job.OutputPath)
}

func downloadFilename(job *jobs.Job, ext string) string {
	base := "video"
	if job.Platform != "" {
		base += "_" + job.Platform
	}
	return base + "_" + job.ID + ext
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch err := s.queue.Cancel(id); {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrTerminal):
		writeError(w, http.StatusConflict, "job already finished")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := map[string]any{
		"status":      "ok",
		"queue_depth": s.queue.Depth(),
	}
	if s.reaper != nil {
		if next, err := s.reaper.NextSweep(time.Now()); err == nil {
			resp["next_cleanup"] = next.Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
