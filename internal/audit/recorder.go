package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder persists audit events into audit_logs. It runs inside the
// worker, not inside the mutating request path.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder returns a new Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record inserts the event.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if r == nil || r.pool == nil {
		return errors.New("audit recorder not initialised")
	}
	if event.Action == "" {
		return errors.New("audit event requires an action")
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	meta, err := json.Marshal(map[string]string{
		"user_id":         event.UserID,
		"role_code":       event.RoleCode,
		"permission_code": event.PermissionCode,
	})
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_logs (operation_id, action, meta, occurred_at) VALUES ($1, $2, $3, $4)`,
		event.OperationID, event.Action, meta, event.At)
	return err
}
