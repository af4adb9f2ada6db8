// Package audit carries structured notifications for every state-changing
// RBAC operation. The transport is pluggable; the domain layer only sees
// the Notifier interface.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action labels for permission and role changes.
const (
	ActionRoleAssigned      = "role.assigned"
	ActionRoleRevoked       = "role.revoked"
	ActionRoleCreated       = "role.created"
	ActionRoleDeleted       = "role.deleted"
	ActionPermissionGranted = "permission.granted"
	ActionPermissionRevoked = "permission.revoked"
	ActionPermissionCreated = "permission.created"
	ActionPermissionDeleted = "permission.deleted"
)

// Event describes one state-changing operation.
type Event struct {
	OperationID    string    `json:"operation_id"`
	Action         string    `json:"action"`
	UserID         string    `json:"user_id,omitempty"`
	RoleCode       string    `json:"role_code,omitempty"`
	PermissionCode string    `json:"permission_code,omitempty"`
	At             time.Time `json:"at"`
}

// Notifier receives audit events. Implementations must not block the
// calling mutation longer than their own transport requires.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NewOperationID generates a unique identifier for one operation.
func NewOperationID() string {
	return "op_" + uuid.NewString()
}

// NopNotifier drops all events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// LogNotifier writes events to a slog.Logger. Destructive actions
// (deleted, revoked) are logged at warn level, everything else at info.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, event Event) error {
	if n.Logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("operation_id", event.OperationID),
		slog.String("action", event.Action),
		slog.String("user_id", event.UserID),
		slog.String("role_code", event.RoleCode),
		slog.String("permission_code", event.PermissionCode),
		slog.Time("at", event.At),
	}
	if Destructive(event.Action) {
		n.Logger.Warn("permission change: "+event.Action, attrs...)
	} else {
		n.Logger.Info("permission change: "+event.Action, attrs...)
	}
	return nil
}

// MultiNotifier fans one event out to several notifiers. The first
// failure is returned, after every notifier has been tried.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Destructive reports whether the action removes access or entities.
func Destructive(action string) bool {
	return strings.HasSuffix(action, ".deleted") || strings.HasSuffix(action, ".revoked")
}
