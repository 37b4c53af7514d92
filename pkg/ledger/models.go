package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JSONAny is a custom GORM type for map[string]any stored as JSON text.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// EntityRecord is a stateful business object row. Status always belongs to
// the kind's declared status set; it is mutated only through the ledger's
// transition path. Entities are never physically deleted: DeletedAt marks the
// narrow guarded soft-delete, everything else archives through the graph.
type EntityRecord struct {
	ID          string         `gorm:"primaryKey;column:id;type:varchar(36)"`
	Kind        string         `gorm:"column:kind;index:idx_entities_kind_status,priority:1;uniqueIndex:idx_entities_natural_key,priority:1;not null"`
	NaturalKey  *string        `gorm:"column:natural_key;uniqueIndex:idx_entities_natural_key,priority:2"`
	Status      string         `gorm:"column:status;index:idx_entities_kind_status,priority:2;not null"`
	ScopeKey    string         `gorm:"column:scope_key;index;not null;default:global"`
	DisplayName string         `gorm:"column:display_name"`
	Payload     JSONAny        `gorm:"column:payload;type:text"`
	Annotations JSONAny        `gorm:"column:annotations;type:text"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt   gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName returns the GORM table name.
func (EntityRecord) TableName() string { return "entities" }

// ErrAuditImmutable is returned by the ORM-level guard when an update or
// delete targets the audit trail.
var ErrAuditImmutable = errors.New("audit_events is append-only: updates and deletes are not permitted")

// AuditEventRecord is an immutable audit log entry. One is written per
// accepted transition or recorded action, in the same transaction as the
// mutation it describes. Total ordering within an entity is (created_at, id)
// descending.
type AuditEventRecord struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	EntityID   string    `gorm:"column:entity_id;index:idx_audit_entity_time,priority:1;not null"`
	EntityKind string    `gorm:"column:entity_kind;index"`
	EventType  string    `gorm:"column:event_type;index:idx_audit_type_time,priority:1;not null"`
	FromStatus string    `gorm:"column:from_status"`
	ToStatus   string    `gorm:"column:to_status"`
	ActorID    string    `gorm:"column:actor_id;index;not null"`
	ActorType  string    `gorm:"column:actor_type;not null"`
	RequestID  string    `gorm:"column:request_id;index"`
	Payload    JSONAny   `gorm:"column:payload;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;index:idx_audit_entity_time,priority:2;index:idx_audit_type_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (AuditEventRecord) TableName() string { return "audit_events" }

// BeforeUpdate refuses ORM-level updates to audit events. Storage-level
// triggers installed at migration time back this up for raw SQL.
func (AuditEventRecord) BeforeUpdate(*gorm.DB) error { return ErrAuditImmutable }

// BeforeDelete refuses ORM-level deletes of audit events.
func (AuditEventRecord) BeforeDelete(*gorm.DB) error { return ErrAuditImmutable }

// IdempotencyRecord stores the outcome of a side-effecting operation keyed by
// its request fingerprint. At most one record exists per hash; replays return
// the stored outcome verbatim.
type IdempotencyRecord struct {
	ID              string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	FingerprintHash string    `gorm:"column:fingerprint_hash;uniqueIndex;not null"`
	Decision        string    `gorm:"column:decision;not null"`
	Outcome         JSONAny   `gorm:"column:outcome;type:text"`
	EntityID        string    `gorm:"column:entity_id;index"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// ExclusivityClaim marks the single holder of an exclusive status within a
// scope. The composite unique index is the storage-level backstop behind the
// lock-and-check enforcement path.
type ExclusivityClaim struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Kind      string    `gorm:"column:kind;uniqueIndex:idx_claims_scope,priority:1;not null"`
	Status    string    `gorm:"column:status;uniqueIndex:idx_claims_scope,priority:2;not null"`
	ScopeKey  string    `gorm:"column:scope_key;uniqueIndex:idx_claims_scope,priority:3;not null"`
	EntityID  string    `gorm:"column:entity_id;index;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (ExclusivityClaim) TableName() string { return "exclusivity_claims" }
