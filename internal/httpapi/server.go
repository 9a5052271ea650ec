package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/viddl/viddl/internal/jobs"
)

type Server struct {
	store  jobs.Store
	queue  *jobs.Queue
	reaper *jobs.Reaper

	uploadsDir     string
	maxUploadBytes int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithUploads enables multipart file submissions, stored under dir.
func WithUploads(dir string, maxUploadMB int) Option {
	return func(s *Server) {
		s.uploadsDir = dir
		s.maxUploadBytes = int64(maxUploadMB) << 20
	}
}

// WithReaper surfaces the next cleanup sweep on the health endpoint.
func WithReaper(reaper *jobs.Reaper) Option {
	return func(s *Server) {
		s.reaper = reaper
	}
}

func NewServer(store jobs.Store, queue *jobs.Queue, opts ...Option) *Server {
	s := &Server{
		store:          store,
		queue:          queue,
		maxUploadBytes: 500 << 20,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/jobs/", s.handleJobSubpath)
	s.mux.HandleFunc("/api/health", s.handleHealth)
}
