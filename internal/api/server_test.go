package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextconvert/fxengine/internal/api/handlers"
	"github.com/nextconvert/fxengine/internal/modules/jobs"
	"github.com/nextconvert/fxengine/internal/modules/media"
	"github.com/nextconvert/fxengine/internal/shared/config"
	"github.com/nextconvert/fxengine/internal/shared/metrics"
	"github.com/nextconvert/fxengine/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeJobs records created jobs in memory
type fakeJobs struct {
	mu        sync.Mutex
	transcode []jobs.TranscodePayload
	grid      []jobs.GridPayload
	dj        []jobs.DJPayload
	stored    map[string]*jobs.Job
}

func (f *fakeJobs) create(jobType string) *jobs.Job {
	job := &jobs.Job{ID: jobType + "-1", Type: jobType, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	if f.stored == nil {
		f.stored = map[string]*jobs.Job{}
	}
	f.stored[job.ID] = job
	return job
}

func (f *fakeJobs) CreateTranscode(ctx context.Context, p jobs.TranscodePayload, priority string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcode = append(f.transcode, p)
	return f.create(jobs.TypeTranscode), nil
}

func (f *fakeJobs) CreateGrid(ctx context.Context, p jobs.GridPayload, priority string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grid = append(f.grid, p)
	return f.create(jobs.TypeGrid), nil
}

func (f *fakeJobs) CreateDJ(ctx context.Context, p jobs.DJPayload, priority string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dj = append(f.dj, p)
	return f.create(jobs.TypeDJ), nil
}

func (f *fakeJobs) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.stored[id]; ok {
		return job, nil
	}
	return nil, jobs.ErrJobNotFound
}

var _ handlers.JobService = (*fakeJobs)(nil)

type testServer struct {
	handler http.Handler
	jobs    *fakeJobs
	uploads string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	workspace, err := storage.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	base := t.TempDir()
	store, err := storage.NewService(config.StorageConfig{Backend: "local", BasePath: base})
	require.NoError(t, err)

	missing := filepath.Join(t.TempDir(), "missing")
	mediaModule := media.NewModule(media.ModuleConfig{
		FFprobePath: missing,
		Processor:   media.ProcessorConfig{FFmpegPath: missing},
	}, workspace, logger)

	reg := prometheus.NewRegistry()
	fake := &fakeJobs{}
	srv := NewServer(ServerConfig{
		Config: &config.Config{
			AllowedOrigins:      []string{"*"},
			DefaultCeilingBytes: 25_000_000,
			MaxUploadSize:       1 << 20,
		},
		Logger:      logger,
		Storage:     store,
		Workspace:   workspace,
		MediaModule: mediaModule,
		Jobs:        fake,
		Metrics:     metrics.New(reg),
		Gatherer:    reg,
	})
	return &testServer{handler: srv.Router(), jobs: fake, uploads: filepath.Join(base, string(storage.ZoneUpload))}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	// ffmpeg is not on the configured path
	rec = s.do(t, http.MethodGet, "/api/v1/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ffmpeg")
}

func TestListEffects(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/effects", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var all struct {
		Effects []media.EffectInfo `json:"effects"`
		Count   int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, len(all.Effects), all.Count)

	names := make([]string, len(all.Effects))
	for i, e := range all.Effects {
		names[i] = e.Name
	}
	assert.Contains(t, names, "bass")
	assert.Contains(t, names, "vflip")
	assert.Contains(t, names, "boomerang")

	rec = s.do(t, http.MethodGet, "/api/v1/effects?kind=complex", "")
	var complexOnly struct {
		Effects []media.EffectInfo `json:"effects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &complexOnly))
	require.NotEmpty(t, complexOnly.Effects)
	for _, e := range complexOnly.Effects {
		assert.Equal(t, "complex", e.Kind)
	}
}

func TestParseFilter(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/filters/parse", `{"filter":"{bass=10,vflip,nope}"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result media.ParseResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, []string{"bass", "vflip"}, result.Effects)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "nope")

	rec = s.do(t, http.MethodPost, "/api/v1/filters/parse", `{"filter":"{bass=10"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, media.CodeInvalidFilter, decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/filters/parse", `{"filter":"{bass}","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTranscode(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/jobs/transcode", `{"inputPath":"/data/upload/a.mp4","filter":"{bass}"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, s.jobs.transcode, 1)
	assert.Equal(t, int64(25_000_000), s.jobs.transcode[0].CeilingBytes)
	assert.Equal(t, "{bass}", s.jobs.transcode[0].FilterSpec)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/transcode", `{"inputPath":"/data/upload/a.mp4","ceiling":"8MB","start":2,"duration":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, s.jobs.transcode, 2)
	assert.Equal(t, int64(8_000_000), s.jobs.transcode[1].CeilingBytes)
	require.NotNil(t, s.jobs.transcode[1].Start)
	assert.Equal(t, 2.0, *s.jobs.transcode[1].Start)

	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	rec = s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", rec.Header().Get("Cache-Control"))
}

func TestCreateTranscodeRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing input", `{"filter":"{bass}"}`, media.CodeInvalidRequest},
		{"bad syntax", `{"inputPath":"a.mp4","filter":"bass"}`, media.CodeInvalidFilter},
		{"strict unknown", `{"inputPath":"a.mp4","filter":"{nope}","strict":true}`, media.CodeUnknownEffect},
		{"negative clip", `{"inputPath":"a.mp4","start":-1}`, media.CodeInvalidFilter},
		{"negative ceiling", `{"inputPath":"a.mp4","ceiling":-5}`, media.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/v1/jobs/transcode", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			assert.Empty(t, s.jobs.transcode)
		})
	}
}

func TestCreateGridAndDJ(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/jobs/grid", `{"inputPaths":["a.mp4","b.mp4","c.mp3"],"sync":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, s.jobs.grid, 1)
	assert.True(t, s.jobs.grid[0].Sync)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/grid", `{"inputPaths":["a.mp4"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/grid", `{"inputPaths":["1","2","3","4","5","6","7","8","9","10"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/dj", `{"videoPath":"v.mp4","audioPath":"a.mp3","audioOffset":4.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, s.jobs.dj, 1)
	require.NotNil(t, s.jobs.dj[0].AudioOffset)
	assert.Equal(t, 4.5, *s.jobs.dj[0].AudioOffset)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/dj", `{"videoPath":"v.mp4"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/dj", `{"videoPath":"v.mp4","audioPath":"a.mp3","maxAttempts":50}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/jobs/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProbeMissingFile(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/media/probe", fmt.Sprintf(`{"path":%q}`, filepath.Join(s.uploads, "gone.mp4")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, media.CodeFileNotFound, decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/media/probe", `{"path":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProbeRejectsPathsOutsideUploads(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/etc/passwd",
		filepath.Join(s.uploads, "..", "output", "clip.mp4"),
		s.uploads,
	} {
		rec := s.do(t, http.MethodPost, "/api/v1/media/probe", fmt.Sprintf(`{"path":%q}`, path))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, media.CodeInvalidRequest, decodeError(t, rec).Code, path)
	}
}

func TestUpload(t *testing.T) {
	s := newTestServer(t)

	upload := func(name string, content []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := upload("clip.mp4", []byte{0x00, 0x01, 0x02, 0xff, 0xfe})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp handlers.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(5), resp.Size)
	assert.FileExists(t, resp.Path)
	assert.Equal(t, ".mp4", filepath.Ext(resp.Path))

	rec = upload("notes.txt", []byte{0x00, 0x01})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/effects", "")

	rec := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/api/v1/effects",status="2xx"} 1`)
}
