package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/extractor"
	"github.com/guiyumin/vfetch/internal/core/media"
	"github.com/guiyumin/vfetch/internal/core/metrics"
	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/guiyumin/vfetch/internal/core/retrieval"
	"github.com/guiyumin/vfetch/internal/core/storage"
)

type fakeRetriever struct {
	mu        sync.Mutex
	info      *media.Info
	infoErr   error
	result    *media.Result
	retrErr   error
	block     bool
	qualities []string
}

func (f *fakeRetriever) ResolveInfo(ctx context.Context, rawURL string) (*media.Info, error) {
	return f.info, f.infoErr
}

func (f *fakeRetriever) RetrieveMedia(ctx context.Context, rawURL string, opts extractor.Options) (*media.Result, error) {
	f.mu.Lock()
	f.qualities = append(f.qualities, opts.Quality)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, errs.E(errs.KindCanceled, "fake", ctx.Err())
	}
	if opts.Progress != nil {
		opts.Progress(50, 100)
	}
	return f.result, f.retrErr
}

func (f *fakeRetriever) Chains() map[platform.Platform][]string {
	return map[platform.Platform][]string{platform.YouTube: {"ytdlp", "oembed"}}
}

func (f *fakeRetriever) Probe(ctx context.Context) map[platform.Platform][]retrieval.AdapterStatus {
	return map[platform.Platform][]retrieval.AdapterStatus{
		platform.YouTube: {
			{Name: "ytdlp", Priority: 1, CanDownload: true, Available: false, Reason: "not installed"},
			{Name: "oembed", Priority: 2, Available: true},
		},
	}
}

func (f *fakeRetriever) seenQualities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.qualities...)
}

type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
}

func testInfo() *media.Info {
	d := 212
	f := "3:32"
	return &media.Info{
		Platform:          platform.YouTube,
		Title:             "Test",
		DurationSeconds:   &d,
		DurationFormatted: &f,
		Uploader:          "Rick",
		WebpageURL:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Formats:           []media.Format{},
		IsPlayable:        true,
	}
}

type testEnv struct {
	srv  *Server
	retr *fakeRetriever
	sink *storage.Sink
	reg  *prometheus.Registry
}

func newTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	sink, err := storage.NewSink(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	retr := &fakeRetriever{info: testInfo()}
	reg := prometheus.NewRegistry()
	opts.Gatherer = reg

	playlist := func(ctx context.Context, rawURL string, limit int) ([]extractor.PlaylistEntry, error) {
		if !strings.Contains(rawURL, "list=") {
			return nil, errs.Errorf(errs.KindInvalidInput, "playlist", "URL has no list parameter")
		}
		return []extractor.PlaylistEntry{{ID: "a", Title: "A", URL: "https://www.youtube.com/watch?v=a"}}, nil
	}

	srv := newServer(retr, sink, playlist, metrics.New(reg), opts, zerolog.Nop())
	return &testEnv{srv: srv, retr: retr, sink: sink, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, Options{})
	w, env := e.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
}

func TestInfo(t *testing.T) {
	e := newTestServer(t, Options{})

	w, env := e.do(t, http.MethodPost, "/api/info", InfoRequest{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	var info media.Info
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "Test", info.Title)
	assert.Equal(t, "3:32", *info.DurationFormatted)
	assert.Equal(t, platform.YouTube, info.Platform)
}

func TestInfoMissingURL(t *testing.T) {
	e := newTestServer(t, Options{})
	w, env := e.do(t, http.MethodPost, "/api/info", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, string(errs.KindInvalidInput), env.Kind)
}

func TestErrorKindStatus(t *testing.T) {
	tests := []struct {
		kind   errs.Kind
		status int
	}{
		{errs.KindInvalidInput, http.StatusBadRequest},
		{errs.KindUnsupportedPlatform, http.StatusBadRequest},
		{errs.KindAllBackendsFailed, http.StatusBadRequest},
		{errs.KindTimeout, http.StatusGatewayTimeout},
		{errs.KindCanceled, http.StatusRequestTimeout},
		{errs.KindPersistFailed, http.StatusInternalServerError},
		{errs.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := newTestServer(t, Options{})
			e.retr.infoErr = errs.Errorf(tt.kind, "retrieval.ResolveInfo", "went wrong")

			w, env := e.do(t, http.MethodPost, "/api/info", InfoRequest{URL: "https://example.com"})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.status, env.Code)
			assert.False(t, env.Success)
			assert.Equal(t, string(tt.kind), env.Kind)
			assert.Equal(t, "went wrong", env.Message)
		})
	}
}

func TestDownload(t *testing.T) {
	e := newTestServer(t, Options{Quality: "best"})
	e.retr.result = &media.Result{
		Filename:      "Test_20240101T000000-abcd1234.mp4",
		FilesizeBytes: 2048,
		DownloadPath:  "/downloads/Test_20240101T000000-abcd1234.mp4",
		SourceInfo:    testInfo(),
	}

	w, env := e.do(t, http.MethodPost, "/api/download", DownloadRequest{URL: "https://youtu.be/dQw4w9WgXcQ"})
	require.Equal(t, http.StatusOK, w.Code)

	var summary media.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, "/downloads/Test_20240101T000000-abcd1234.mp4", summary.DownloadURL)
	assert.Equal(t, int64(2048), summary.FilesizeBytes)
	assert.Equal(t, "Test", summary.Title)
	assert.Equal(t, "Rick", summary.Uploader)

	e.do(t, http.MethodPost, "/api/download", DownloadRequest{URL: "https://youtu.be/x", Quality: "720p"})
	assert.Equal(t, []string{"best", "720p"}, e.retr.seenQualities())
}

func TestJobsLifecycle(t *testing.T) {
	e := newTestServer(t, Options{MaxConcurrent: 2})
	e.retr.result = &media.Result{Filename: "a.mp4", FilesizeBytes: 10, SourceInfo: testInfo()}
	e.srv.Jobs().Start()
	defer e.srv.Jobs().Stop()

	w, env := e.do(t, http.MethodPost, "/api/jobs", DownloadRequest{URL: "https://youtu.be/x"})
	require.Equal(t, http.StatusAccepted, w.Code)
	var job Job
	require.NoError(t, json.Unmarshal(env.Data, &job))
	require.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		j := e.srv.Jobs().GetJob(job.ID)
		return j != nil && j.Status == JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	w, env = e.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var done Job
	require.NoError(t, json.Unmarshal(env.Data, &done))
	require.NotNil(t, done.Result)
	assert.Equal(t, "a.mp4", done.Result.Filename)
	assert.Equal(t, 100.0, done.Progress)

	w, _ = e.do(t, http.MethodGet, "/api/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = e.do(t, http.MethodDelete, "/api/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "job removed", env.Message)

	w, _ = e.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobFailureRecordsKind(t *testing.T) {
	e := newTestServer(t, Options{MaxConcurrent: 1})
	e.retr.retrErr = errs.Errorf(errs.KindAllBackendsFailed, "retrieval.RetrieveMedia", "all 2 download adapter(s) failed")
	e.srv.Jobs().Start()
	defer e.srv.Jobs().Stop()

	job, err := e.srv.Jobs().AddJob("https://youtu.be/x", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return e.srv.Jobs().GetJob(job.ID).Status == JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got := e.srv.Jobs().GetJob(job.ID)
	assert.Equal(t, errs.KindAllBackendsFailed, got.Kind)
	assert.Equal(t, "all 2 download adapter(s) failed", got.Error)
}

func TestCancelRunningJob(t *testing.T) {
	e := newTestServer(t, Options{MaxConcurrent: 1})
	e.retr.block = true
	e.srv.Jobs().Start()
	defer e.srv.Jobs().Stop()

	job, err := e.srv.Jobs().AddJob("https://youtu.be/x", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return e.srv.Jobs().GetJob(job.ID).Status == JobStatusDownloading
	}, 2*time.Second, 10*time.Millisecond)

	w, env := e.do(t, http.MethodDelete, "/api/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "job cancelled", env.Message)

	got := e.srv.Jobs().GetJob(job.ID)
	assert.Equal(t, JobStatusCancelled, got.Status)
	assert.Equal(t, errs.KindCanceled, got.Kind)
}

func TestPlatforms(t *testing.T) {
	e := newTestServer(t, Options{})
	w, env := e.do(t, http.MethodGet, "/api/platforms", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out []PlatformStatus
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, platform.YouTube, out[0].Platform)
	require.Len(t, out[0].Adapters, 2)
	assert.False(t, out[0].Adapters[0].Available)
	assert.Equal(t, "not installed", out[0].Adapters[0].Reason)
}

func TestPlaylist(t *testing.T) {
	e := newTestServer(t, Options{})

	w, env := e.do(t, http.MethodGet, "/api/playlist?url=https://www.youtube.com/playlist?list=PL1&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"id":"a"`)

	w, env = e.do(t, http.MethodGet, "/api/playlist?url=https://www.youtube.com/watch?v=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(errs.KindInvalidInput), env.Kind)

	w, _ = e.do(t, http.MethodGet, "/api/playlist", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodGet, "/api/playlist?url=https://www.youtube.com/playlist?list=PL1&limit=-2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeDownloads(t *testing.T) {
	e := newTestServer(t, Options{})
	require.NoError(t, os.WriteFile(filepath.Join(e.sink.Dir(), "done.mp4"), []byte("content"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(e.sink.Dir(), "busy.mp4.part"), []byte("partial"), 0644))

	w, _ := e.do(t, http.MethodGet, "/downloads/done.mp4", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "content", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "done.mp4")

	w, _ = e.do(t, http.MethodGet, "/downloads/busy.mp4.part", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = e.do(t, http.MethodGet, "/downloads/missing.mp4", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuth(t *testing.T) {
	e := newTestServer(t, Options{APIKey: "secret"})

	w, _ := e.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodGet, "/api/platforms", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := e.do(t, http.MethodPost, "/api/info", InfoRequest{URL: "https://youtu.be/x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)

	w, _ = e.do(t, http.MethodGet, "/api/jobs", nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/info", InfoRequest{URL: "https://youtu.be/x"}, "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	e := newTestServer(t, Options{RateLimit: 0.001, RateBurst: 2})

	for range 2 {
		w, _ := e.do(t, http.MethodGet, "/api/platforms", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w, env := e.do(t, http.MethodGet, "/api/platforms", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate limit exceeded", env.Message)

	// health stays reachable
	w, _ = e.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestServer(t, Options{})
	e.srv.Jobs().metrics.JobStarted()

	w, _ := e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vfetch_jobs_in_flight 1")
}

func TestNotFound(t *testing.T) {
	e := newTestServer(t, Options{})
	w, env := e.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}
