package domain

import (
	"strings"
	"time"
)

// UsageLog is one billable effect application.
type UsageLog struct {
	UserID          string
	JobID           string
	Effect          string
	PixelsProcessed int64
	SourceBytes     int64
	OutputBytes     int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

// NewUsageLog meters a finished job. Pixels are counted on the output, which
// is what the resize policy lets through. Anonymous callers are billed to
// "anonymous" and compute time is rounded up to at least one millisecond.
func NewUsageLog(userID, jobID, effect string, width, height, sourceBytes, outputBytes int, compute time.Duration, at time.Time) UsageLog {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = "anonymous"
	}
	return UsageLog{
		UserID:          userID,
		JobID:           jobID,
		Effect:          effect,
		PixelsProcessed: int64(width) * int64(height),
		SourceBytes:     int64(sourceBytes),
		OutputBytes:     int64(outputBytes),
		ComputeTimeMS:   max(compute.Milliseconds(), 1),
		CreatedAt:       at.UTC(),
	}
}
