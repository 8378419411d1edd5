package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dunamismax/pixelfx/internal/effect"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateJobRequest struct {
	SourceType string `json:"source_type" validate:"required"`
	WebhookURL string `json:"webhook_url,omitempty" validate:"omitempty,url"`
	ObjectKey  string `json:"object_key,omitempty" validate:"required_if=SourceType local_file"`
	Effect     string `json:"effect" validate:"required"`
	Strength   *int   `json:"strength,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKey  string
	Effect     effect.Kind
	Strength   int
	OutputKey  string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the job has finished one way or the other.
func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// StrengthOrDefault returns the requested strength or the catalog default.
func (r CreateJobRequest) StrengthOrDefault() int {
	if r.Strength == nil {
		return effect.DefaultStrength
	}
	return *r.Strength
}

func (r CreateJobRequest) Validate() error {
	r.SourceType = strings.ToLower(strings.TrimSpace(r.SourceType))
	r.ObjectKey = strings.TrimSpace(r.ObjectKey)
	r.WebhookURL = strings.TrimSpace(r.WebhookURL)

	if err := validate.Struct(r); err != nil {
		return describeValidation(err)
	}
	if r.SourceType != SourceTypeLocalFile && r.SourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if _, err := effect.ParseKind(r.Effect); err != nil {
		return err
	}
	return effect.ValidateStrength(r.StrengthOrDefault())
}

func describeValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	field := jsonFieldName(fe.StructField())
	switch fe.Tag() {
	case "required", "required_if":
		if field == "object_key" {
			return errors.New("object_key is required for source_type=local_file")
		}
		return fmt.Errorf("%s is required", field)
	case "url":
		return fmt.Errorf("%s must be an absolute URL", field)
	default:
		return fmt.Errorf("%s failed %s validation", field, fe.Tag())
	}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "SourceType":
		return "source_type"
	case "WebhookURL":
		return "webhook_url"
	case "ObjectKey":
		return "object_key"
	default:
		return strings.ToLower(structField)
	}
}
