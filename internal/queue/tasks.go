package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelfx/internal/effect"
)

const TypeApplyEffect = "image:effect"

type ApplyEffectPayload struct {
	JobID       string      `json:"job_id"`
	UserID      string      `json:"user_id,omitempty"`
	SourceType  string      `json:"source_type"`
	WebhookURL  string      `json:"webhook_url,omitempty"`
	ObjectKey   string      `json:"object_key"`
	Effect      effect.Kind `json:"effect"`
	Strength    int         `json:"strength"`
	RequestedAt time.Time   `json:"requested_at"`
}

func NewApplyEffectTask(payload ApplyEffectPayload) (*asynq.Task, error) {
	if err := effect.Lookup(payload.Effect); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal effect payload: %w", err)
	}
	return asynq.NewTask(TypeApplyEffect, body), nil
}

// ParseApplyEffectPayload rejects unknown effect names while unmarshalling,
// so a bad task fails with effect.ErrUnknownEffect in its chain.
func ParseApplyEffectPayload(task *asynq.Task) (ApplyEffectPayload, error) {
	var payload ApplyEffectPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ApplyEffectPayload{}, fmt.Errorf("unmarshal effect payload: %w", err)
	}
	return payload, nil
}
