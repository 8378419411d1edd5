package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelfx/internal/domain"
	"github.com/dunamismax/pixelfx/internal/effect"
	"github.com/dunamismax/pixelfx/internal/logging"
	"github.com/dunamismax/pixelfx/internal/pipeline"
	"github.com/dunamismax/pixelfx/internal/pixel"
	"github.com/dunamismax/pixelfx/internal/queue"
	"github.com/dunamismax/pixelfx/internal/ratelimit"
	"github.com/dunamismax/pixelfx/internal/storage"
	"github.com/dunamismax/pixelfx/internal/store"
)

type testEnv struct {
	server  *Server
	handler http.Handler
	jobs    *store.MemoryJobStore
	queue   *fakeQueue
	storage *fakeStorage
}

func newTestEnv(t *testing.T, mutate func(*Options)) testEnv {
	t.Helper()
	env := testEnv{
		jobs:    store.NewMemoryJobStore(),
		queue:   &fakeQueue{},
		storage: &fakeStorage{objects: map[string]storage.ObjectInfo{}},
	}
	opts := Options{
		Logger:   logging.Discard(),
		Engine:   pipeline.NewEngine(pipeline.Options{}),
		Queue:    env.queue,
		JobStore: env.jobs,
		Storage:  env.storage,
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.server = NewServer(opts)
	env.server.now = func() time.Time { return time.UnixMilli(1700000000123) }
	env.handler = env.server.Handler()
	return env
}

func (e testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func twoPixelPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListEffects(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/effects", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body effectsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Effects, 6)
	assert.Equal(t, "enhance", body.Effects[0].ID)
	assert.Equal(t, "Hyper-Real", body.Effects[5].Name)
	assert.Equal(t, 50, body.DefaultStrength)
}

func TestProcessRawBody(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/process?effect=enhance&strength=50", bytes.NewReader(twoPixelPNG(t)))
	req.Header.Set("Content-Type", "image/png")

	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=ai-enhanced-enhance-1700000000123.png", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "enhance", rec.Header().Get(HeaderEffect))
	assert.Equal(t, "2", rec.Header().Get(HeaderWidth))
	assert.Equal(t, "1", rec.Header().Get(HeaderHeight))

	got, format, err := pixel.Decode(rec.Body.Bytes(), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, []uint8{115, 172, 230, 255, 11, 11, 11, 255}, got.Pix)
}

func TestProcessMultipart(t *testing.T) {
	env := newTestEnv(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="photo.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(twoPixelPNG(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/process?effect=identity", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "identity", rec.Header().Get(HeaderEffect))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment; filename=ai-enhanced-identity-"))
}

func TestProcessErrors(t *testing.T) {
	valid := twoPixelPNG(t)

	tests := []struct {
		name        string
		query       string
		contentType string
		body        []byte
		wantStatus  int
		wantCode    string
	}{
		{name: "strength above range", query: "effect=enhance&strength=101", contentType: "image/png", body: valid, wantStatus: http.StatusBadRequest, wantCode: codeInvalidStrength},
		{name: "negative strength", query: "effect=enhance&strength=-1", contentType: "image/png", body: valid, wantStatus: http.StatusBadRequest, wantCode: codeInvalidStrength},
		{name: "non numeric strength", query: "effect=enhance&strength=high", contentType: "image/png", body: valid, wantStatus: http.StatusBadRequest, wantCode: codeInvalidStrength},
		{name: "unknown effect", query: "effect=vintage&strength=10", contentType: "image/png", body: valid, wantStatus: http.StatusBadRequest, wantCode: codeUnknownEffect},
		{name: "missing effect", query: "strength=10", contentType: "image/png", body: valid, wantStatus: http.StatusBadRequest, wantCode: codeUnknownEffect},
		{name: "garbage bytes", query: "effect=cinematic", contentType: "image/png", body: []byte("not an image"), wantStatus: http.StatusBadRequest, wantCode: codeDecodeError},
		{name: "empty body", query: "effect=cinematic", contentType: "image/png", body: nil, wantStatus: http.StatusBadRequest, wantCode: codeDecodeError},
		{name: "non image media type", query: "effect=cinematic", contentType: "text/plain", body: valid, wantStatus: http.StatusBadRequest, wantCode: codeDecodeError},
		{name: "multipart without image field", query: "effect=cinematic", contentType: "multipart/form-data; boundary=x", body: []byte("--x--\r\n"), wantStatus: http.StatusBadRequest, wantCode: codeDecodeError},
	}

	env := newTestEnv(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/process?"+tt.query, bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)

			rec := env.do(req)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestProcessRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MaxInputBytes = 64 })
	req := httptest.NewRequest(http.MethodPost, "/v1/process?effect=enhance", bytes.NewReader(make([]byte, 65)))
	req.Header.Set("Content-Type", "image/png")

	rec := env.do(req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, codeTooLarge, decodeError(t, rec).Code)
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"source_type":"s3_presigned","effect":"dreamscape","strength":70,"webhook_url":"https://hooks.example.test/done"}`))
	req.Header.Set(UserIDHeader, "user-42")
	rec := env.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.JobID)
	assert.Equal(t, domain.JobStatusCreated, created.Status)
	assert.Equal(t, effect.Dreamscape, created.Effect)
	assert.Equal(t, 70, created.Strength)
	require.NotNil(t, created.Upload)
	assert.Equal(t, "uploads/"+created.JobID+"/source", created.Upload.ObjectKey)
	assert.Equal(t, "ready", created.Upload.State)
	assert.Equal(t, "https://minio.example.test/put/uploads/"+created.JobID+"/source", created.Upload.PresignedPutURL)

	startPath := "/v1/jobs/" + created.JobID + "/start"
	rec = env.do(httptest.NewRequest(http.MethodPost, startPath, nil))
	require.Equal(t, http.StatusConflict, rec.Code, "source not uploaded yet")

	env.storage.put(created.Upload.ObjectKey, 1<<20, "text/html")
	rec = env.do(httptest.NewRequest(http.MethodPost, startPath, nil))
	require.Equal(t, http.StatusConflict, rec.Code, "non-image upload")

	env.storage.put(created.Upload.ObjectKey, DefaultMaxInputBytes+1, "image/png")
	rec = env.do(httptest.NewRequest(http.MethodPost, startPath, nil))
	require.Equal(t, http.StatusConflict, rec.Code, "oversized upload")

	env.storage.put(created.Upload.ObjectKey, 2048, "")
	rec = env.do(httptest.NewRequest(http.MethodPost, startPath, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	payloads := env.queue.enqueued()
	require.Len(t, payloads, 1)
	assert.Equal(t, created.JobID, payloads[0].JobID)
	assert.Equal(t, "user-42", payloads[0].UserID)
	assert.Equal(t, effect.Dreamscape, payloads[0].Effect)
	assert.Equal(t, 70, payloads[0].Strength)
	assert.Equal(t, "https://hooks.example.test/done", payloads[0].WebhookURL)

	rec = env.do(httptest.NewRequest(http.MethodPost, startPath, nil))
	require.Equal(t, http.StatusConflict, rec.Code, "second start must not enqueue again")
	assert.Len(t, env.queue.enqueued(), 1)

	_, err := env.jobs.RecordOutput(context.Background(), created.JobID, "outputs/"+created.JobID+"/ai-enhanced-dreamscape-1.png")
	require.NoError(t, err)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, domain.JobStatusSucceeded, status.Status)
	assert.Equal(t, "uploads/"+created.JobID+"/source", status.Source.ObjectKey)
	require.NotNil(t, status.Output)
	assert.Equal(t, "ai-enhanced-dreamscape-1.png", status.Output.Name)
	assert.Equal(t, "https://minio.example.test/get/outputs/"+created.JobID+"/ai-enhanced-dreamscape-1.png", status.Output.DownloadURL)
}

func TestStartJobQueueConflict(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"source_type":"s3_presigned","effect":"enhance"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	env.storage.put(created.Upload.ObjectKey, 512, "image/jpeg")

	startPath := "/v1/jobs/" + created.JobID + "/start"
	env.queue.err = fmt.Errorf("enqueue %s: %w", created.JobID, queue.ErrAlreadyQueued)
	rec = env.do(httptest.NewRequest(http.MethodPost, startPath, nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeConflict, decodeError(t, rec).Code)

	env.queue.err = errors.New("redis: connection refused")
	rec = env.do(httptest.NewRequest(http.MethodPost, startPath, nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateJobDefaultsStrength(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"source_type":"s3_presigned","effect":"Hyper-Real"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, effect.HyperReal, created.Effect)
	assert.Equal(t, effect.DefaultStrength, created.Strength)
}

func TestCreateJobValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "unknown effect", body: `{"source_type":"s3_presigned","effect":"sepia"}`, wantCode: codeUnknownEffect},
		{name: "strength out of range", body: `{"source_type":"s3_presigned","effect":"enhance","strength":300}`, wantCode: codeInvalidStrength},
		{name: "missing source type", body: `{"effect":"enhance"}`, wantCode: codeBadRequest},
		{name: "local file without key", body: `{"source_type":"local_file","effect":"enhance"}`, wantCode: codeBadRequest},
		{name: "unknown field", body: `{"source_type":"s3_presigned","effect":"enhance","pipeline":[]}`, wantCode: codeBadRequest},
		{name: "relative webhook", body: `{"source_type":"s3_presigned","effect":"enhance","webhook_url":"/hook"}`, wantCode: codeBadRequest},
	}

	env := newTestEnv(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(tt.body)))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/v1/jobs/not-a-uuid", "/v1/jobs/6f1c1f5c-2b9e-4a43-9d55-2bb0c8f0c6a1"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	env := newTestEnv(t, func(o *Options) { o.RateLimiter = limiter })

	req := httptest.NewRequest(http.MethodPost, "/v1/process?effect=enhance", bytes.NewReader(twoPixelPNG(t)))
	req.Header.Set(UserIDHeader, "user-9")
	rec := env.do(req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, codeRateLimited, decodeError(t, rec).Code)
	assert.Equal(t, []string{"user-9:/v1/process"}, limiter.subjects)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/v1/effects", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
	assert.Len(t, limiter.subjects, 1)
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/jobs/abc/start": "/v1/jobs/{id}/start",
		"/v1/jobs/abc":       "/v1/jobs/{id}",
		"/v1/jobs":           "/v1/jobs",
		"/v1/jobs/":          "other",
		"/v1/process":        "/v1/process",
		"/admin":             "other",
	}
	for path, want := range tests {
		assert.Equal(t, want, routeLabel(path), path)
	}
}

func TestRequestCost(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/process", nil)
	req.ContentLength = 3<<20 + 5
	assert.Equal(t, 4, requestCost(req))

	req = httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.ContentLength = 3 << 20
	assert.Equal(t, 1, requestCost(req))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	env.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))
	env.do(httptest.NewRequest(http.MethodPost, "/v1/process?effect=enhance", bytes.NewReader(twoPixelPNG(t))))
	env.do(httptest.NewRequest(http.MethodPost, "/v1/process?effect=enhance&strength=900", bytes.NewReader(twoPixelPNG(t))))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pixelfx_api_requests_total{method="GET",route="/healthz",status="200"} 1`)
	assert.Contains(t, string(body), `route="/v1/jobs/{id}"`)
	assert.Contains(t, string(body), `pixelfx_api_effects_applied_total{code="ok",effect="enhance"} 1`)
	assert.Contains(t, string(body), `pixelfx_api_effects_applied_total{code="invalid_strength",effect="enhance"} 1`)
	assert.Contains(t, string(body), "pixelfx_api_input_bytes_count 1")
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.ApplyEffectPayload
	err      error
}

func (q *fakeQueue) EnqueueApplyEffect(_ context.Context, payload queue.ApplyEffectPayload) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{
		ID:            payload.JobID,
		Queue:         queue.DefaultQueue,
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now(),
	}, nil
}

func (q *fakeQueue) enqueued() []queue.ApplyEffectPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.ApplyEffectPayload(nil), q.payloads...)
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]storage.ObjectInfo
}

func (s *fakeStorage) put(key string, size int64, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = storage.ObjectInfo{Key: key, Size: size, ContentType: contentType}
}

func (s *fakeStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://minio.example.test/put/" + objectKey, nil
}

func (s *fakeStorage) PresignedGetURL(_ context.Context, objectKey, _ string, _ time.Duration) (string, error) {
	return "https://minio.example.test/get/" + objectKey, nil
}

func (s *fakeStorage) StatObject(_ context.Context, objectKey string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.objects[objectKey]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return info, nil
}

type fakeLimiter struct {
	decision ratelimit.Decision
	subjects []string
}

func (l *fakeLimiter) AllowN(_ context.Context, subject string, _ int) (ratelimit.Decision, error) {
	l.subjects = append(l.subjects, subject)
	return l.decision, nil
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 60, retryAfterSeconds(time.Minute))
}
