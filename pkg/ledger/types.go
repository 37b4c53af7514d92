// Package ledger implements a stateful entity ledger with transactional
// transitions, scope-level exclusivity constraints, and an idempotent,
// append-only audit trail. It is the persistence core shared by the
// workflow-automation console's data-access modules (issues, remediation
// runs, incidents, approvals, publications, lawbook versions).
package ledger

import "context"

// EntityKind identifies a class of stateful business objects. Each kind
// declares its own closed status set and transition graph.
type EntityKind string

// Built-in entity kinds served by the default registry.
const (
	KindIssue          EntityKind = "issue"
	KindRemediationRun EntityKind = "remediation_run"
	KindIncident       EntityKind = "incident"
	KindApproval       EntityKind = "approval"
	KindPublication    EntityKind = "publication"
	KindLawbookVersion EntityKind = "lawbook_version"
)

// Status is a value from an entity kind's declared status set. A status is
// only meaningful relative to its kind; the registry rejects statuses that
// are not declared for the kind at hand.
type Status string

// ScopeDimension names the dimension within which an exclusive status holds
// (e.g. one entity per repository, or one globally).
type ScopeDimension string

const (
	ScopeGlobal     ScopeDimension = "global"
	ScopeRepository ScopeDimension = "repository"
	ScopeTarget     ScopeDimension = "target"
	ScopeService    ScopeDimension = "service"
)

// DefaultScopeKey is the scope key assigned to entities created without an
// explicit scope.
const DefaultScopeKey = "global"

// ActorType classifies who performed an action.
type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorSystem ActorType = "system"
	ActorAPI    ActorType = "api"
)

// Actor identifies who requested a mutation. It is recorded verbatim on the
// audit event for the mutation.
type Actor struct {
	ID   string
	Type ActorType
}

// SystemActor is the actor recorded for mutations originating inside the
// platform rather than from a user request.
var SystemActor = Actor{ID: "system", Type: ActorSystem}

// Audit event types written by the ledger itself. Callers recording
// domain-specific actions through AppendAuditEvent use their own types.
const (
	EventEntityCreated      = "entity.created"
	EventEntityTransitioned = "entity.transitioned"
	EventEntityUpdated      = "entity.updated"
	EventEntityDeleted      = "entity.deleted"
	EventActionRecorded     = "action.recorded"
)

type contextKey string

const requestIDKey contextKey = "ledger.request_id"

// WithRequestID attaches a correlation identifier to the context. The ledger
// stamps it on audit events and log records for the operation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom returns the correlation identifier attached by WithRequestID,
// or "" if none is set.
func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
