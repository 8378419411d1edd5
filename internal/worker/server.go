package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelfx/internal/config"
	"github.com/dunamismax/pixelfx/internal/domain"
	"github.com/dunamismax/pixelfx/internal/pipeline"
	"github.com/dunamismax/pixelfx/internal/queue"
	"github.com/dunamismax/pixelfx/internal/store"
	"github.com/dunamismax/pixelfx/internal/webhook"
)

type jobProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Deliver(ctx context.Context, endpoint string, ev webhook.Event) error
}

type Server struct {
	logger          *logrus.Entry
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  jobProcessor
	objectProcessor jobProcessor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

// Deps are the collaborators a worker needs besides configuration.
type Deps struct {
	Storage    pipeline.ObjectStore
	Webhooks   *webhook.Client
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(logger *logrus.Entry, cfg config.Config, deps Deps) (*Server, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}

	engine := pipeline.NewEngine(cfg.Engine.EngineOptions())

	localProcessor, err := pipeline.NewLocalProcessor(engine, cfg.Worker.LocalOutputDir, cfg.Engine.ExportPrefix, cfg.Engine.MaxInputBytes)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	objectProcessor, err := pipeline.NewProcessor(
		pipeline.ObjectStoreFetcher{Storage: deps.Storage},
		engine,
		pipeline.ObjectStoreEmitter{Storage: deps.Storage, OutputPrefix: cfg.Storage.OutputPrefix},
		cfg.Engine.ExportPrefix,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	var sender webhookSender
	if deps.Webhooks != nil {
		sender = deps.Webhooks
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			cfg.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: cfg.Worker.Concurrency,
				Queues: map[string]int{
					cfg.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				Logger:   logger.WithField("subsystem", "asynq"),
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.WithError(err).WithFields(logrus.Fields{
						"task_type": task.Type(),
						"retry":     fmt.Sprintf("%d/%d", retried, maxRetry),
					}).Warn("task failed")
				}),
			},
		),
		sem:             make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   sender,
		jobStore:        deps.JobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("pixelfx/worker"),
	}
	return s, nil
}

// Run blocks until the process receives a termination signal.
func (s *Server) Run() error {
	return s.server.Run(s.Mux())
}

// Start begins consuming tasks without blocking. Pair it with Shutdown.
func (s *Server) Start() error {
	return s.server.Start(s.Mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeApplyEffect, s.handleApplyEffect)
	return mux
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleApplyEffect(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseApplyEffectPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	effectName := payload.Effect.String()

	ctx, span := s.tracer.Start(ctx, "worker.apply_effect", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("effect.kind", effectName),
		attribute.Int("effect.strength", payload.Strength),
	)
	defer span.End()
	defer func() {
		s.metrics.observeJob(effectName, outcome, time.Since(startedAt))
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.WithFields(logrus.Fields{
		"job_id":      payload.JobID,
		"source_type": payload.SourceType,
		"effect":      effectName,
		"strength":    payload.Strength,
	})
	log.WithField("object_key", payload.ObjectKey).Info("applying effect")

	s.updateJobStatus(ctx, log, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Effect:     payload.Effect,
		Strength:   payload.Strength,
	}

	processor := s.objectProcessor
	if strings.EqualFold(payload.SourceType, domain.SourceTypeLocalFile) {
		processor = s.localProcessor
	}

	result, err := processor.Process(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "effect failed")
		return s.fail(ctx, log, payload, err)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")

	artifact := result.Artifact
	log.WithFields(logrus.Fields{
		"output":     artifact.Path,
		"size":       fmt.Sprintf("%dx%d", artifact.Width, artifact.Height),
		"source":     humanize.Bytes(uint64(result.SourceBytes)),
		"output_len": humanize.Bytes(uint64(artifact.Bytes)),
		"elapsed":    time.Since(startedAt).Round(time.Millisecond),
	}).Info("effect applied")

	if s.jobStore != nil {
		if _, err := s.jobStore.RecordOutput(ctx, payload.JobID, artifact.Path); err != nil {
			log.WithError(err).Warn("record job output failed")
		}
	}
	s.recordUsage(ctx, log, payload, result, time.Since(startedAt))

	ev := jobEvent(payload, webhook.EventJobCompleted, domain.JobStatusSucceeded)
	ev.Output = &webhook.Output{
		Name:   artifact.Name,
		Path:   artifact.Path,
		Format: artifact.Format,
		Bytes:  artifact.Bytes,
		Width:  artifact.Width,
		Height: artifact.Height,
	}
	s.dispatchWebhook(ctx, log, payload.WebhookURL, ev)
	return nil
}

// fail decides whether err ends the job. Input errors and the last retry are
// final; anything else goes back to the queue.
func (s *Server) fail(ctx context.Context, log *logrus.Entry, payload queue.ApplyEffectPayload, err error) error {
	permanent := domain.Permanent(err)
	retried, okRetry := asynq.GetRetryCount(ctx)
	maxRetry, okMax := asynq.GetMaxRetry(ctx)
	final := permanent || !okRetry || !okMax || retried >= maxRetry

	if !final {
		s.metrics.retriesTotal.WithLabelValues(payload.Effect.String()).Inc()
		s.updateJobStatus(context.WithoutCancel(ctx), log, payload.JobID, domain.JobStatusQueued)
		log.WithError(err).WithField("retry", retried+1).Warn("effect failed, will retry")
		return fmt.Errorf("apply effect: %w", err)
	}

	// The task context may already be done; failure bookkeeping must still land.
	bookkeeping := context.WithoutCancel(ctx)
	if s.jobStore != nil {
		if _, storeErr := s.jobStore.RecordFailure(bookkeeping, payload.JobID, err.Error()); storeErr != nil {
			log.WithError(storeErr).Warn("record job failure failed")
		}
	}
	log.WithError(err).WithField("permanent", permanent).Error("effect failed")

	ev := jobEvent(payload, webhook.EventJobFailed, domain.JobStatusFailed)
	ev.Error = err.Error()
	s.dispatchWebhook(bookkeeping, log, payload.WebhookURL, ev)

	if permanent {
		return fmt.Errorf("apply effect: %v: %w", err, asynq.SkipRetry)
	}
	return fmt.Errorf("apply effect: %w", err)
}

func (s *Server) updateJobStatus(ctx context.Context, log *logrus.Entry, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil && !errors.Is(err, store.ErrJobNotFound) {
		log.WithError(err).WithField("status", status).Warn("job status update failed")
	}
}

// dispatchWebhook never fails the job: the image has already been produced
// and a retry would reprocess it.
func (s *Server) dispatchWebhook(ctx context.Context, log *logrus.Entry, endpoint string, ev webhook.Event) {
	if endpoint == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Deliver(ctx, endpoint, ev); err != nil {
		s.metrics.webhookFailuresTotal.WithLabelValues(ev.Type).Inc()
		log.WithError(err).WithField("event", ev.Type).Warn("webhook delivery failed")
	}
}

func jobEvent(payload queue.ApplyEffectPayload, eventType, status string) webhook.Event {
	return webhook.Event{
		Type:        eventType,
		JobID:       payload.JobID,
		Status:      status,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		Effect:      payload.Effect.String(),
		Strength:    payload.Strength,
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
	}
}

func (s *Server) recordUsage(ctx context.Context, log *logrus.Entry, payload queue.ApplyEffectPayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			log.WithError(err).Warn("usage lookup failed")
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}

	artifact := result.Artifact
	usage := domain.NewUsageLog(userID, payload.JobID, payload.Effect.String(),
		artifact.Width, artifact.Height, result.SourceBytes, artifact.Bytes, computeDuration, time.Now())
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		log.WithError(err).Warn("usage log write failed")
		return
	}

	s.metrics.observeUsage(usage)
}
