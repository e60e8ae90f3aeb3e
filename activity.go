package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignInSuccess    ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure    ActivityEventType = "auth.signin.failure"
	ActivityEventSignUpSuccess    ActivityEventType = "auth.signup.success"
	ActivityEventSignUpFailure    ActivityEventType = "auth.signup.failure"
	ActivityEventSignOut          ActivityEventType = "auth.signout"
	ActivityEventRoleChanged      ActivityEventType = "principal.role.changed"
	ActivityEventPrincipalDeleted ActivityEventType = "principal.deleted"
)

// ActorRef identifies who/what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures telemetry about an auth or admin action. This is
// the best-effort channel; the durable RoleAuditRecord trail is written
// transactionally by the audit log, not here.
type ActivityEvent struct {
	EventType   ActivityEventType
	Actor       ActorRef
	PrincipalID string
	FromRole    Role
	ToRole      Role
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	sink = normalizeActivitySink(sink)

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink record error: %v", err)
	}
}
