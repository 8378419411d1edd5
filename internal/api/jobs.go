package api

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dunamismax/pixelfx/internal/domain"
	"github.com/dunamismax/pixelfx/internal/effect"
	"github.com/dunamismax/pixelfx/internal/id"
	"github.com/dunamismax/pixelfx/internal/queue"
	"github.com/dunamismax/pixelfx/internal/storage"
)

type jobResponse struct {
	JobID      string       `json:"job_id"`
	Status     string       `json:"status"`
	SourceType string       `json:"source_type"`
	Effect     effect.Kind  `json:"effect"`
	Strength   int          `json:"strength"`
	Source     jobObject    `json:"source"`
	Output     *jobObject   `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	Upload     *uploadState `json:"upload,omitempty"`
	StartURL   string       `json:"start_url,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type jobObject struct {
	ObjectKey   string `json:"object_key"`
	Name        string `json:"name,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

type uploadState struct {
	ObjectKey       string `json:"object_key"`
	PresignedPutURL string `json:"presigned_put_url"`
	State           string `json:"presigned_url_state"`
	MaxBytes        int64  `json:"max_bytes"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r)

	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		status, code := classify(err)
		if code == codeInternal {
			status, code = http.StatusBadRequest, codeBadRequest
		}
		writeError(w, status, code, err.Error())
		return
	}

	// Validate has already accepted the name.
	kind, _ := effect.ParseKind(req.Effect)

	now := s.now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	upload := &uploadState{State: "not_required", MaxBytes: s.maxInputBytes}

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = storage.SourceKey(jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			log.WithError(err).WithField("job_id", jobID).Error("generate presigned url failed")
			writeError(w, http.StatusInternalServerError, codeInternal, "failed to generate upload URL")
			return
		}
		upload.PresignedPutURL = url
		upload.State = "ready"
	}
	upload.ObjectKey = objectKey

	job := domain.Job{
		ID:         jobID,
		UserID:     s.callerID(r),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		ObjectKey:  objectKey,
		Effect:     kind,
		Strength:   req.StrengthOrDefault(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		log.WithError(err).WithField("job_id", job.ID).Error("create job failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to create job")
		return
	}

	log.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"source_type": job.SourceType,
		"effect":      job.Effect.String(),
		"strength":    job.Strength,
	}).Info("job created")

	resp := s.describeJob(r.Context(), job)
	resp.Upload = upload
	resp.StartURL = fmt.Sprintf("/v1/jobs/%s/start", job.ID)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r)

	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	log = log.WithField("job_id", job.ID)

	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, codeConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}
	if s.queueClient == nil {
		writeError(w, http.StatusServiceUnavailable, codeInternal, "job queue is unavailable")
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, codeConflict, err.Error())
		return
	}

	payload := queue.ApplyEffectPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Effect:      job.Effect,
		Strength:    job.Strength,
		RequestedAt: s.now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueApplyEffect(r.Context(), payload)
	if errors.Is(err, queue.ErrAlreadyQueued) {
		writeError(w, http.StatusConflict, codeConflict, "job is already queued")
		return
	}
	if err != nil {
		log.WithError(err).Error("enqueue failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to enqueue job")
		return
	}
	s.metrics.jobsEnqueued.WithLabelValues(taskInfo.Queue, job.Effect.String()).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		log.WithError(err).Warn("update status failed")
	}

	log.WithField("task_id", taskInfo.ID).Info("job queued")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.describeJob(r.Context(), job))
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if !id.Valid(jobID) {
		writeError(w, http.StatusNotFound, codeNotFound, domain.ErrJobNotFound.Error())
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.requestLogger(r).WithError(err).WithField("job_id", jobID).Error("fetch job failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, domain.ErrJobNotFound.Error())
		return domain.Job{}, false
	}
	return job, true
}

// describeJob reports both object keys so clients can show the original next
// to the result.
func (s *Server) describeJob(ctx context.Context, job domain.Job) jobResponse {
	resp := jobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		SourceType: job.SourceType,
		Effect:     job.Effect,
		Strength:   job.Strength,
		Source:     jobObject{ObjectKey: job.ObjectKey},
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	if job.OutputKey == "" {
		return resp
	}

	out := &jobObject{ObjectKey: job.OutputKey, Name: path.Base(job.OutputKey)}
	if job.SourceType == domain.SourceTypeS3Presigned {
		url, err := s.storage.PresignedGetURL(ctx, job.OutputKey, out.Name, s.presignTTL)
		if err != nil {
			s.logger.WithError(err).WithField("job_id", job.ID).Warn("presign output failed")
		} else {
			out.DownloadURL = url
		}
	}
	resp.Output = out
	return resp
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		info, err := os.Stat(job.ObjectKey)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		if info.Size() > s.maxInputBytes {
			return fmt.Errorf("source object is larger than %d bytes", s.maxInputBytes)
		}
		return nil
	default:
		info, err := s.storage.StatObject(ctx, job.ObjectKey)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if info.Size > s.maxInputBytes {
			return fmt.Errorf("source object is larger than %d bytes", s.maxInputBytes)
		}
		if !uploadedImageType(info.ContentType) {
			return fmt.Errorf("source object has non-image content type %q", info.ContentType)
		}
		return nil
	}
}

// uploadedImageType accepts image/* and the generic types S3 assigns when a
// client uploads without a Content-Type.
func uploadedImageType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.TrimSpace(contentType) == ""
	}
	switch mediaType {
	case "application/octet-stream", "binary/octet-stream":
		return true
	default:
		return strings.HasPrefix(mediaType, "image/")
	}
}
