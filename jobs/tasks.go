// Package jobs carries the background task definitions and the Asynq
// worker that processes them.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/aegis-iam/aegis-iam/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditRecord is the task type for persisting audit events.
	TaskTypeAuditRecord = "audit:record"
)

// NewAuditRecordTask constructs an Asynq task carrying one audit event.
func NewAuditRecordTask(event audit.Event) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditRecord, data), nil
}

// AuditRecorder persists an audit event; see audit.Recorder.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event) error
}

// NewAuditRecordHandler returns the handler for TaskTypeAuditRecord
// tasks. Malformed payloads are dropped rather than retried.
func NewAuditRecordHandler(recorder AuditRecorder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event audit.Event
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			if logger != nil {
				logger.Warn("audit task payload", slog.Any("error", err))
			}
			return asynq.SkipRetry
		}
		return recorder.Record(ctx, event)
	}
}
