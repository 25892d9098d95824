package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tagify/internal/commit"
	"tagify/internal/index"
	"tagify/internal/metadata"
	"tagify/internal/pipeline"
)

// Operation names a batch job type.
type Operation string

const (
	OpAutoTag         Operation = "autotag"
	OpRemoveTags      Operation = "remove-tags"
	OpRemoveArtwork   Operation = "remove-artwork"
	OpTagFromFilename Operation = "tag-from-filename"
)

func (op Operation) valid() bool {
	switch op {
	case OpAutoTag, OpRemoveTags, OpRemoveArtwork, OpTagFromFilename:
		return true
	}
	return false
}

const timeLayout = "2006-01-02 15:04:05"

type BatchRequest struct {
	Operation Operation `json:"operation"`
	TrackIDs  []int64   `json:"track_ids"`
	// MissingOnly selects every track lacking a required field when no ids
	// are given.
	MissingOnly bool   `json:"missing_only"`
	Strategy    string `json:"strategy"`
}

type LookupRequest struct {
	Strategy string `json:"strategy"`
	Artist   string `json:"artist"`
	Title    string `json:"title"`
}

type CommitRequest struct {
	Candidate     CandidateResponse `json:"candidate"`
	RemoveTag     bool              `json:"remove_tag"`
	RemoveArtwork bool              `json:"remove_artwork"`
}

type JobResponse struct {
	ID          string    `json:"id"`
	Operation   Operation `json:"operation"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase,omitempty"`
	Progress    int       `json:"progress"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   string    `json:"created_at"`
	StartedAt   *string   `json:"started_at,omitempty"`
	CompletedAt *string   `json:"completed_at,omitempty"`
}

type TrackResponse struct {
	ID             int64  `json:"id"`
	Path           string `json:"path"`
	Duration       int    `json:"duration"`
	MimeType       string `json:"mime_type"`
	Title          string `json:"title"`
	Artist         string `json:"artist"`
	Album          string `json:"album"`
	AlbumArtist    string `json:"album_artist,omitempty"`
	Genre          string `json:"genre,omitempty"`
	Composer       string `json:"composer,omitempty"`
	Year           int    `json:"year,omitempty"`
	Track          string `json:"track,omitempty"`
	Disc           string `json:"disc,omitempty"`
	HasRequiredTag bool   `json:"has_required_tag"`
}

type CandidateResponse struct {
	Provider    string `json:"provider"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtist string `json:"album_artist,omitempty"`
	Date        string `json:"date,omitempty"`
	Genre       string `json:"genre,omitempty"`
	TrackPos    string `json:"track_pos,omitempty"`
	TrackCount  string `json:"track_count,omitempty"`
	DiscPos     string `json:"disc_pos,omitempty"`
	DiscCount   string `json:"disc_count,omitempty"`
	Country     string `json:"country,omitempty"`
	CoverURL    string `json:"cover_url,omitempty"`
}

type OutcomeResponse struct {
	Success    bool                `json:"success"`
	Throttled  bool                `json:"throttled,omitempty"`
	Candidates []CandidateResponse `json:"candidates"`
}

type CommitResponse struct {
	Result string         `json:"result"`
	Error  string         `json:"error,omitempty"`
	Track  *TrackResponse `json:"track,omitempty"`
}

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	var (
		tracks []metadata.Track
		err    error
	)
	if query := q.Get("q"); query != "" {
		tracks, err = s.deps.Library.Find(r.Context(), query)
	} else {
		tracks, err = s.deps.Library.List(r.Context(), index.Filter{
			Album:      q.Get("album"),
			Artist:     q.Get("artist"),
			MissingTag: q.Get("missing") == "1" || q.Get("missing") == "true",
			OrderBy:    q.Get("order"),
		})
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	responses := make([]TrackResponse, len(tracks))
	for i, t := range tracks {
		responses[i] = trackToResponse(t)
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleTrackAction(w http.ResponseWriter, r *http.Request) {
	// Extract track ID from path: /api/tracks/{id}, /api/tracks/{id}/lookup
	// or /api/tracks/{id}/commit
	path := strings.TrimPrefix(r.URL.Path, "/api/tracks/")
	parts := strings.Split(path, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	track, err := s.deps.Library.Get(r.Context(), id)
	if errors.Is(err, index.ErrNotFound) {
		http.Error(w, fmt.Sprintf("track not found: %d", id), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		writeJSON(w, http.StatusOK, trackToResponse(track))
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "lookup":
		s.handleLookup(w, r, track)
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "commit":
		s.handleCommit(w, r, track)
	default:
		http.Error(w, "Invalid request", http.StatusBadRequest)
	}
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request, track metadata.Track) {
	var req LookupRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	var (
		out metadata.Outcome
		err error
	)
	if req.Artist != "" || req.Title != "" {
		out, err = s.deps.Lookup.Search(r.Context(), req.Artist, req.Title)
	} else {
		strategy, ok := s.strategy(req.Strategy)
		if !ok {
			http.Error(w, "Unknown strategy: "+req.Strategy, http.StatusBadRequest)
			return
		}
		out, err = s.deps.Lookup.Lookup(r.Context(), track, strategy)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, outcomeToResponse(out))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	artist, title := r.URL.Query().Get("artist"), r.URL.Query().Get("title")
	out, err := s.deps.Lookup.Search(r.Context(), artist, title)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, outcomeToResponse(out))
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request, track metadata.Track) {
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var change commit.Change
	switch {
	case req.RemoveTag:
		change = commit.RemoveTag()
	case req.RemoveArtwork:
		change = commit.RemoveArtwork()
	default:
		c := responseToCandidate(req.Candidate)
		var picture []byte
		if c.CoverURL != "" && s.deps.Artwork != nil {
			data, err := s.deps.Artwork.Download(r.Context(), c.CoverURL)
			if err != nil {
				s.logger.Warn("No artwork from %s: %v", c.CoverURL, err)
			}
			picture = data
		}
		change = commit.FromCandidate(c, picture)
	}

	updated, res, err := s.deps.Committer.Commit(r.Context(), track, change)
	resp := CommitResponse{Result: res.String()}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
		if res == commit.LoadFailed {
			status = http.StatusUnprocessableEntity
		}
	} else {
		tr := trackToResponse(updated)
		resp.Track = &tr
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Operation.valid() {
		http.Error(w, "Unknown operation: "+string(req.Operation), http.StatusBadRequest)
		return
	}
	strategy, ok := s.strategy(req.Strategy)
	if !ok {
		http.Error(w, "Unknown strategy: "+req.Strategy, http.StatusBadRequest)
		return
	}

	tracks, err := s.resolveTracks(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(tracks) == 0 {
		http.Error(w, "No tracks selected", http.StatusBadRequest)
		return
	}

	ids := make([]int64, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	job := s.jobMgr.CreateJob(req.Operation, ids)
	s.logger.Info("Created job %s: %s on %d tracks", job.ID, job.Operation, len(tracks))

	go s.processJob(job, tracks, strategy)

	writeJSON(w, http.StatusAccepted, jobToResponse(job))
}

func (s *Server) resolveTracks(ctx context.Context, req BatchRequest) ([]metadata.Track, error) {
	if len(req.TrackIDs) == 0 {
		return s.deps.Library.List(ctx, index.Filter{MissingTag: req.MissingOnly})
	}
	tracks := make([]metadata.Track, 0, len(req.TrackIDs))
	for _, id := range req.TrackIDs {
		t, err := s.deps.Library.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", id, err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobs := s.jobMgr.ListJobs()
	responses := make([]*JobResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = jobToResponse(job)
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request) {
	// Extract job ID from path: /api/jobs/{id} or /api/jobs/{id}/cancel
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	job, err := s.jobMgr.GetJob(jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	// Handle GET /api/jobs/{id}
	if r.Method == http.MethodGet && len(parts) == 1 {
		writeJSON(w, http.StatusOK, jobToResponse(job))
		return
	}

	// Handle POST /api/jobs/{id}/cancel
	if r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "cancel" {
		if job.Status.Done() {
			http.Error(w, "Job already finished", http.StatusConflict)
			return
		}
		if job.Cancel != nil {
			job.Cancel()
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
		return
	}

	http.Error(w, "Invalid request", http.StatusBadRequest)
}

func (s *Server) processJob(job Job, tracks []metadata.Track, strategy metadata.Strategy) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		j.Cancel = cancel
		j.Status = StatusRunning
	})
	s.logger.Info("Starting job %s", job.ID)

	phase := func(name string) func(done, total int) {
		return func(done, total int) {
			s.jobMgr.UpdateJob(job.ID, func(j *Job) {
				j.Phase = name
				j.Progress = done
				j.Total = total
			})
		}
	}

	p := pipeline.New(s.deps.Committer, s.deps.Artwork, s.deps.Pattern, s.logger, pipeline.Hooks{
		OnStart:    func(total int) { phase("commit")(0, total) },
		OnProgress: phase("commit"),
	})

	var (
		stats pipeline.Stats
		err   error
	)
	switch job.Operation {
	case OpAutoTag:
		phase("lookup")(0, len(tracks))
		results := s.deps.Lookup.LookupBatch(ctx, tracks, strategy, phase("lookup"))
		stats, err = p.AutoTag(ctx, results, len(tracks))
	case OpRemoveTags:
		stats, err = p.RemoveTags(ctx, tracks)
	case OpRemoveArtwork:
		stats, err = p.RemoveArtwork(ctx, tracks)
	case OpTagFromFilename:
		stats, err = p.TagFromFilename(ctx, tracks)
	}

	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		j.Stats = stats
		j.Cancel = nil
		switch {
		case errors.Is(err, context.Canceled):
			j.Status = StatusCancelled
		case err != nil:
			j.Status = StatusFailed
			j.Error = err.Error()
		default:
			j.Status = StatusCompleted
		}
	})

	if err != nil {
		s.logger.Error("Job %s: %v", job.ID, err)
		return
	}
	s.logger.Info("Job %s completed: %d written, %d skipped, %d failed", job.ID, stats.Succeeded, stats.Skipped, stats.Failed())
}

func (s *Server) strategy(name string) (metadata.Strategy, bool) {
	if name == "" {
		return s.deps.Strategy, true
	}
	st, ok := metadata.ParseStrategy(name)
	return st, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jobToResponse(job Job) *JobResponse {
	resp := &JobResponse{
		ID:        job.ID,
		Operation: job.Operation,
		Status:    job.Status,
		Phase:     job.Phase,
		Progress:  job.Progress,
		Total:     job.Total,
		Succeeded: job.Stats.Succeeded,
		Skipped:   job.Stats.Skipped,
		Failed:    job.Stats.Failed(),
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format(timeLayout),
	}

	if job.StartedAt != nil {
		started := job.StartedAt.Format(timeLayout)
		resp.StartedAt = &started
	}

	if job.CompletedAt != nil {
		completed := job.CompletedAt.Format(timeLayout)
		resp.CompletedAt = &completed
	}

	return resp
}

func trackToResponse(t metadata.Track) TrackResponse {
	return TrackResponse{
		ID:             t.ID,
		Path:           t.Path,
		Duration:       t.Duration,
		MimeType:       t.MimeType,
		Title:          t.Title,
		Artist:         t.Artist,
		Album:          t.Album,
		AlbumArtist:    t.AlbumArtist,
		Genre:          t.Genre,
		Composer:       t.Composer,
		Year:           t.Year,
		Track:          metadata.FormatNumberPair(t.TrackPos, t.TrackCount),
		Disc:           metadata.FormatNumberPair(t.DiscPos, t.DiscCount),
		HasRequiredTag: t.HasRequiredTag,
	}
}

func outcomeToResponse(out metadata.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		Success:    out.Success,
		Throttled:  out.Throttled,
		Candidates: make([]CandidateResponse, len(out.Candidates)),
	}
	for i, c := range out.Candidates {
		resp.Candidates[i] = CandidateResponse{
			Provider:    c.Kind.String(),
			Title:       c.Title,
			Artist:      c.Artist,
			Album:       c.Album,
			AlbumArtist: c.AlbumArtist,
			Date:        c.Date,
			Genre:       c.Genre,
			TrackPos:    c.TrackPos,
			TrackCount:  c.TrackCount,
			DiscPos:     c.DiscPos,
			DiscCount:   c.DiscCount,
			Country:     c.Country,
			CoverURL:    c.CoverURL,
		}
	}
	return resp
}

func responseToCandidate(c CandidateResponse) metadata.Candidate {
	kind := metadata.ProviderMusicBrainz
	if c.Provider == metadata.ProviderITunes.String() {
		kind = metadata.ProviderITunes
	}
	return metadata.Candidate{
		Kind:        kind,
		Title:       c.Title,
		Artist:      c.Artist,
		Album:       c.Album,
		AlbumArtist: c.AlbumArtist,
		Date:        c.Date,
		Genre:       c.Genre,
		TrackPos:    c.TrackPos,
		TrackCount:  c.TrackCount,
		DiscPos:     c.DiscPos,
		DiscCount:   c.DiscCount,
		Country:     c.Country,
		CoverURL:    c.CoverURL,
	}
}
