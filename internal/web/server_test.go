package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagify/internal/commit"
	"tagify/internal/index"
	"tagify/internal/logger"
	"tagify/internal/lookup"
	"tagify/internal/metadata"
	"tagify/internal/metrics"
)

type fakeLibrary map[int64]metadata.Track

func (l fakeLibrary) Get(_ context.Context, id int64) (metadata.Track, error) {
	if t, ok := l[id]; ok {
		return t, nil
	}
	return metadata.Track{}, index.ErrNotFound
}

func (l fakeLibrary) List(_ context.Context, f index.Filter) ([]metadata.Track, error) {
	var out []metadata.Track
	for id := int64(1); id <= int64(len(l)); id++ {
		t := l[id]
		if f.MissingTag && t.HasRequiredTag {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (l fakeLibrary) Find(_ context.Context, q string) ([]metadata.Track, error) {
	var out []metadata.Track
	for _, t := range l {
		if strings.Contains(strings.ToLower(t.Title), strings.ToLower(q)) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeLookup struct {
	gate chan struct{}
}

func (f *fakeLookup) outcome(title string) metadata.Outcome {
	return metadata.Outcome{Success: true, Candidates: []metadata.Candidate{
		{Kind: metadata.ProviderITunes, Artist: "Queen", Title: title, Album: "Hot Space"},
	}}
}

func (f *fakeLookup) Lookup(_ context.Context, t metadata.Track, _ metadata.Strategy) (metadata.Outcome, error) {
	return f.outcome(t.Title), nil
}

func (f *fakeLookup) Search(_ context.Context, artist, title string) (metadata.Outcome, error) {
	if artist == "" && title == "" {
		return metadata.Failed(), lookup.ErrNoTerms
	}
	return f.outcome(title), nil
}

func (f *fakeLookup) LookupBatch(ctx context.Context, tracks []metadata.Track, _ metadata.Strategy, progress func(done, total int)) <-chan lookup.Result {
	ch := make(chan lookup.Result)
	go func() {
		defer close(ch)
		for i, t := range tracks {
			if f.gate != nil {
				select {
				case <-f.gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- lookup.Result{Track: t, Outcome: f.outcome(t.Title)}:
			case <-ctx.Done():
				return
			}
			progress(i+1, len(tracks))
		}
	}()
	return ch
}

type fakeCommitter struct {
	mu      sync.Mutex
	written map[string]commit.Change
}

func (c *fakeCommitter) Commit(_ context.Context, t metadata.Track, change commit.Change) (metadata.Track, commit.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.Contains(t.Path, "broken") {
		return t, commit.LoadFailed, commit.ErrLoadFailed
	}
	c.written[t.Path] = change
	if title, ok := change.Fields[metadata.FieldTitle]; ok {
		t.Title = title
	}
	return t, commit.Success, nil
}

func (c *fakeCommitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func newTestServer(t *testing.T, lk *fakeLookup) (*httptest.Server, *fakeCommitter) {
	t.Helper()
	lib := fakeLibrary{
		1: {ID: 1, Path: "/music/dancer.mp3", Title: "Dancer"},
		2: {ID: 2, Path: "/music/back-chat.mp3", Title: "Back Chat", HasRequiredTag: true},
		3: {ID: 3, Path: "/music/broken.mp3", Title: "Body Language"},
	}
	committer := &fakeCommitter{written: map[string]commit.Change{}}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := NewServer(ctx, NewJobManager(), Deps{
		Library:   lib,
		Lookup:    lk,
		Committer: committer,
		Strategy:  metadata.StrategyQuery,
	}, logger.Discard())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, committer
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestListAndGetTracks(t *testing.T) {
	ts, _ := newTestServer(t, &fakeLookup{})

	resp, err := http.Get(ts.URL + "/api/tracks?missing=1")
	require.NoError(t, err)
	tracks := decode[[]TrackResponse](t, resp)
	assert.Len(t, tracks, 2)

	resp, err = http.Get(ts.URL + "/api/tracks?q=chat")
	require.NoError(t, err)
	tracks = decode[[]TrackResponse](t, resp)
	require.Len(t, tracks, 1)
	assert.Equal(t, "Back Chat", tracks[0].Title)

	resp, err = http.Get(ts.URL + "/api/tracks/1")
	require.NoError(t, err)
	track := decode[TrackResponse](t, resp)
	assert.Equal(t, "/music/dancer.mp3", track.Path)

	resp, err = http.Get(ts.URL + "/api/tracks/99")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLookupAndCommit(t *testing.T) {
	ts, committer := newTestServer(t, &fakeLookup{})

	resp := postJSON(t, ts.URL+"/api/tracks/1/lookup", LookupRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[OutcomeResponse](t, resp)
	require.True(t, out.Success)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "itunes", out.Candidates[0].Provider)

	resp = postJSON(t, ts.URL+"/api/tracks/1/commit", CommitRequest{Candidate: out.Candidates[0]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cr := decode[CommitResponse](t, resp)
	assert.Equal(t, "success", cr.Result)
	require.NotNil(t, cr.Track)
	assert.Equal(t, "Dancer", cr.Track.Title)
	assert.Equal(t, "Hot Space", committer.written["/music/dancer.mp3"].Fields[metadata.FieldAlbum])

	resp = postJSON(t, ts.URL+"/api/tracks/3/commit", CommitRequest{RemoveTag: true})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	cr = decode[CommitResponse](t, resp)
	assert.Equal(t, "load_failed", cr.Result)

	resp = postJSON(t, ts.URL+"/api/tracks/1/lookup", LookupRequest{Strategy: "telepathy"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearch(t *testing.T) {
	ts, _ := newTestServer(t, &fakeLookup{})

	resp, err := http.Get(ts.URL + "/api/search?artist=Queen&title=Staying+Power")
	require.NoError(t, err)
	out := decode[OutcomeResponse](t, resp)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "Staying Power", out.Candidates[0].Title)

	resp, err = http.Get(ts.URL + "/api/search")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func waitForJob(t *testing.T, url, id string) JobResponse {
	t.Helper()
	var job JobResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/api/jobs/" + id)
		if err != nil {
			return false
		}
		job = decode[JobResponse](t, resp)
		return job.Status == StatusCompleted || job.Status == StatusFailed || job.Status == StatusCancelled
	}, 5*time.Second, 20*time.Millisecond)
	return job
}

func TestBatchAutoTagJob(t *testing.T) {
	ts, committer := newTestServer(t, &fakeLookup{})

	resp := postJSON(t, ts.URL+"/api/batch", BatchRequest{Operation: OpAutoTag, TrackIDs: []int64{1, 2, 3}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[JobResponse](t, resp)
	assert.Equal(t, 3, created.Total)

	job := waitForJob(t, ts.URL, created.ID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 2, job.Succeeded)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, "commit", job.Phase)
	assert.Equal(t, 2, committer.count())

	resp, err := http.Get(ts.URL + "/api/jobs")
	require.NoError(t, err)
	jobs := decode[[]JobResponse](t, resp)
	assert.Len(t, jobs, 1)
}

func TestBatchRejectsBadRequests(t *testing.T) {
	ts, _ := newTestServer(t, &fakeLookup{})

	resp := postJSON(t, ts.URL+"/api/batch", BatchRequest{Operation: "defragment"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/batch", BatchRequest{Operation: OpRemoveTags, TrackIDs: []int64{42}})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelJob(t *testing.T) {
	lk := &fakeLookup{gate: make(chan struct{})}
	ts, committer := newTestServer(t, lk)

	resp := postJSON(t, ts.URL+"/api/batch", BatchRequest{Operation: OpAutoTag, TrackIDs: []int64{1, 2}})
	created := decode[JobResponse](t, resp)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/jobs/" + created.ID)
		if err != nil {
			return false
		}
		return decode[JobResponse](t, resp).Status == StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	resp = postJSON(t, ts.URL+"/api/jobs/"+created.ID+"/cancel", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	job := waitForJob(t, ts.URL, created.ID)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Zero(t, committer.count())
}

func TestWebSocketStreamsProgress(t *testing.T) {
	lk := &fakeLookup{gate: make(chan struct{})}
	ts, _ := newTestServer(t, lk)

	resp := postJSON(t, ts.URL+"/api/batch", BatchRequest{Operation: OpAutoTag, TrackIDs: []int64{1, 2}})
	created := decode[JobResponse](t, resp)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?job_id=" + created.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	close(lk.gate)

	var last JobResponse
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var update JobResponse
		if err := conn.ReadJSON(&update); err != nil {
			break
		}
		assert.Equal(t, created.ID, update.ID)
		last = update
	}
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 2, last.Succeeded)
}

func TestWebSocketUnknownJob(t *testing.T) {
	ts, _ := newTestServer(t, &fakeLookup{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?job_id=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Register()
	ts, _ := newTestServer(t, &fakeLookup{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), "tagify_batch_deferrals_total")
}
