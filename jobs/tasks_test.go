package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis-iam/internal/audit"
)

type stubRecorder struct {
	events []audit.Event
	err    error
}

func (s *stubRecorder) Record(_ context.Context, event audit.Event) error {
	s.events = append(s.events, event)
	return s.err
}

func TestNewAuditRecordTask(t *testing.T) {
	event := audit.Event{
		OperationID: "op_abc",
		Action:      audit.ActionRoleAssigned,
		UserID:      "u1",
		RoleCode:    "ROLE_ADMIN",
		At:          time.Now().UTC(),
	}
	task, err := NewAuditRecordTask(event)
	require.NoError(t, err)
	require.Equal(t, TaskTypeAuditRecord, task.Type())

	var decoded audit.Event
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, event, decoded)
}

func TestAuditRecordHandler(t *testing.T) {
	recorder := &stubRecorder{}
	handler := NewAuditRecordHandler(recorder, nil)

	event := audit.Event{OperationID: "op_abc", Action: audit.ActionPermissionGranted, RoleCode: "ROLE_A", PermissionCode: "PERMISSION_X"}
	task, err := NewAuditRecordTask(event)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Len(t, recorder.events, 1)
	require.Equal(t, "op_abc", recorder.events[0].OperationID)
}

func TestAuditRecordHandlerSkipsMalformedPayload(t *testing.T) {
	recorder := &stubRecorder{}
	handler := NewAuditRecordHandler(recorder, nil)

	err := handler(context.Background(), asynq.NewTask(TaskTypeAuditRecord, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, recorder.events)
}

func TestAuditRecordHandlerPropagatesRecorderError(t *testing.T) {
	recorder := &stubRecorder{err: errors.New("db down")}
	handler := NewAuditRecordHandler(recorder, nil)

	task, err := NewAuditRecordTask(audit.Event{Action: audit.ActionRoleDeleted})
	require.NoError(t, err)
	require.ErrorIs(t, handler(context.Background(), task), recorder.err)
}
