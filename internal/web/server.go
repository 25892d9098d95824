// Package web serves the track library over HTTP: listing and searching
// tracks, single lookups and commits, and batch jobs whose progress streams
// over a websocket.
package web

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tagify/internal/index"
	"tagify/internal/logger"
	"tagify/internal/lookup"
	"tagify/internal/metadata"
	"tagify/internal/pattern"
	"tagify/internal/pipeline"
)

// Library is the read side of the track index.
type Library interface {
	Get(ctx context.Context, id int64) (metadata.Track, error)
	List(ctx context.Context, f index.Filter) ([]metadata.Track, error)
	Find(ctx context.Context, query string) ([]metadata.Track, error)
}

// Lookuper runs single and batch lookups.
type Lookuper interface {
	Lookup(ctx context.Context, track metadata.Track, strategy metadata.Strategy) (metadata.Outcome, error)
	Search(ctx context.Context, artist, title string) (metadata.Outcome, error)
	LookupBatch(ctx context.Context, tracks []metadata.Track, strategy metadata.Strategy, progress func(done, total int)) <-chan lookup.Result
}

// Deps are the components the server drives.
type Deps struct {
	Library   Library
	Lookup    Lookuper
	Committer pipeline.Committer
	Artwork   pipeline.ArtworkSource
	Pattern   *pattern.Pattern
	// Strategy is used when a request does not name one.
	Strategy metadata.Strategy
}

type Server struct {
	ctx    context.Context
	jobMgr *JobManager
	deps   Deps
	logger *logger.Logger
}

// NewServer creates a Server. Jobs run under ctx and stop when it is
// cancelled.
func NewServer(ctx context.Context, jobMgr *JobManager, deps Deps, log *logger.Logger) *Server {
	return &Server{
		ctx:    ctx,
		jobMgr: jobMgr,
		deps:   deps,
		logger: log,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/tracks", s.handleListTracks)
	mux.HandleFunc("/api/tracks/", s.handleTrackAction)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/batch", s.handleBatch)
	mux.HandleFunc("/api/jobs", s.handleListJobs)
	mux.HandleFunc("/api/jobs/", s.handleJobAction)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())

	return s.loggingMiddleware(mux)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
