// Package webhook notifies callers when an effect job reaches a final state.
// Deliveries are signed JSON POSTs; see Sign for the scheme.
package webhook

import "time"

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Event is the body of every delivery. Output is set on job.completed and
// Error on job.failed.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	SourceType  string    `json:"source_type"`
	ObjectKey   string    `json:"object_key,omitempty"`
	Effect      string    `json:"effect"`
	Strength    int       `json:"strength"`
	RequestedAt time.Time `json:"requested_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Output      *Output   `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type Output struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}
