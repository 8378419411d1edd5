package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelfx/internal/pipeline"
	"github.com/dunamismax/pixelfx/internal/queue"
	"github.com/dunamismax/pixelfx/internal/ratelimit"
	"github.com/dunamismax/pixelfx/internal/storage"
	"github.com/dunamismax/pixelfx/internal/store"
)

const (
	DefaultMaxInputBytes = 10 << 20
	UserIDHeader         = "X-User-ID"
)

type Server struct {
	logger        *logrus.Entry
	engine        EffectEngine
	queueClient   Enqueuer
	jobStore      store.JobStore
	storage       ObjectStorage
	rateLimiter   ratelimit.Limiter
	userHeader    string
	presignTTL    time.Duration
	maxInputBytes int64
	exportPrefix  string
	metrics       *metrics
	tracer        trace.Tracer
	mux           *http.ServeMux
	handler       http.Handler
	now           func() time.Time
}

type EffectEngine interface {
	ProcessRequest(ctx context.Context, req pipeline.EffectRequest) (pipeline.Output, error)
}

type Enqueuer interface {
	EnqueueApplyEffect(ctx context.Context, payload queue.ApplyEffectPayload) (*asynq.TaskInfo, error)
}

type ObjectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey, name string, expiry time.Duration) (string, error)
	StatObject(ctx context.Context, objectKey string) (storage.ObjectInfo, error)
}

type Options struct {
	Logger        *logrus.Entry
	Engine        EffectEngine
	Queue         Enqueuer
	JobStore      store.JobStore
	Storage       ObjectStorage
	RateLimiter   ratelimit.Limiter
	PresignTTL    time.Duration
	MaxInputBytes int64
	ExportPrefix  string
}

func NewServer(opts Options) *Server {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.MaxInputBytes <= 0 {
		opts.MaxInputBytes = DefaultMaxInputBytes
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if opts.Engine == nil {
		opts.Engine = pipeline.NewEngine(pipeline.Options{})
	}
	if opts.JobStore == nil {
		opts.JobStore = store.NewMemoryJobStore()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Server{
		logger:        opts.Logger,
		engine:        opts.Engine,
		queueClient:   opts.Queue,
		jobStore:      opts.JobStore,
		storage:       opts.Storage,
		rateLimiter:   opts.RateLimiter,
		userHeader:    UserIDHeader,
		presignTTL:    opts.PresignTTL,
		maxInputBytes: opts.MaxInputBytes,
		exportPrefix:  opts.ExportPrefix,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelfx/api"),
		mux:           http.NewServeMux(),
		now:           time.Now,
	}
	s.routes()
	s.handler = s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
	return s
}

type unavailableObjectStorage struct{}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _, _ string, _ time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) StatObject(_ context.Context, _ string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, errStorageUnavailable
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.handler())
	s.mux.HandleFunc("GET /v1/effects", s.handleListEffects)
	s.mux.HandleFunc("POST /v1/process", s.handleProcess)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(r *http.Request) *logrus.Entry {
	fields := logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if user := s.callerID(r); user != "" {
		fields["user_id"] = user
	}
	return s.logger.WithFields(fields)
}

// callerID is the upstream-authenticated user, empty for anonymous calls.
func (s *Server) callerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(s.userHeader))
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
