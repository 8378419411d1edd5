package queue

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelfx/internal/effect"
)

func TestApplyEffectTaskRoundTrip(t *testing.T) {
	payload := ApplyEffectPayload{
		JobID:       "job-123",
		UserID:      "user-7",
		SourceType:  "s3_presigned",
		ObjectKey:   "uploads/job-123/source",
		Effect:      effect.HyperReal,
		Strength:    75,
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewApplyEffectTask(payload)
	if err != nil {
		t.Fatalf("NewApplyEffectTask returned error: %v", err)
	}
	if task.Type() != TypeApplyEffect {
		t.Fatalf("expected task type %q, got %q", TypeApplyEffect, task.Type())
	}
	if !strings.Contains(string(task.Payload()), `"effect":"hyperreal"`) {
		t.Fatalf("expected effect wire name in payload, got %s", task.Payload())
	}

	parsed, err := ParseApplyEffectPayload(task)
	if err != nil {
		t.Fatalf("ParseApplyEffectPayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID || parsed.UserID != payload.UserID {
		t.Fatalf("expected ids %q/%q, got %q/%q", payload.JobID, payload.UserID, parsed.JobID, parsed.UserID)
	}
	if parsed.Effect != effect.HyperReal || parsed.Strength != 75 {
		t.Fatalf("expected hyperreal@75, got %s@%d", parsed.Effect, parsed.Strength)
	}
}

func TestParseApplyEffectPayloadUnknownEffect(t *testing.T) {
	task := asynq.NewTask(TypeApplyEffect, []byte(`{"job_id":"j","effect":"sepia","strength":10}`))

	_, err := ParseApplyEffectPayload(task)
	if !errors.Is(err, effect.ErrUnknownEffect) {
		t.Fatalf("expected unknown effect error, got %v", err)
	}
}

func TestNewApplyEffectTaskRejectsInvalidKind(t *testing.T) {
	if _, err := NewApplyEffectTask(ApplyEffectPayload{JobID: "j", Effect: effect.Kind(99)}); err == nil {
		t.Fatal("expected error for invalid kind")
	}
}
