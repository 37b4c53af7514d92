package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditFilter narrows an audit trail query. Zero-valued fields are ignored.
type AuditFilter struct {
	EntityID   string
	EntityKind EntityKind
	EventType  string
	ActorID    string
	Since      *time.Time
	Until      *time.Time
}

// AuditPage is one page of audit events, newest first.
type AuditPage struct {
	Events     []AuditEventRecord
	NextCursor string
	TotalSize  int
}

// AppendAuditEvent records an action on the append-only trail and returns the
// event id. Transitions and creations write their own events; this path is
// for domain actions recorded by callers (policy evaluations, approvals,
// publishes), typically from inside a ResolveIdempotent operation.
func (s *Store) AppendAuditEvent(ctx context.Context, event *AuditEventRecord) (string, error) {
	prepareEvent(ctx, event)
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return "", s.storageErr(ctx, "append audit event", event.EntityID, err)
	}
	return event.ID, nil
}

// AppendAuditEventTx is AppendAuditEvent inside an existing transaction, for
// use from Operation bodies so the event commits with the idempotency record.
func (s *Store) AppendAuditEventTx(ctx context.Context, tx *gorm.DB, event *AuditEventRecord) (string, error) {
	prepareEvent(ctx, event)
	if err := tx.Create(event).Error; err != nil {
		return "", err
	}
	return event.ID, nil
}

func prepareEvent(ctx context.Context, event *AuditEventRecord) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.EventType == "" {
		event.EventType = EventActionRecorded
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFrom(ctx)
	}
}

// QueryAuditTrail returns a page of audit events matching the filter, ordered
// created_at DESC with id DESC as tiebreak. The deterministic compound order
// means cursor pagination never skips or duplicates rows under concurrent
// inserts. Pass cursor="" for the first page.
func (s *Store) QueryAuditTrail(ctx context.Context, filter AuditFilter, cursor string, limit int) (*AuditPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	buildQuery := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&AuditEventRecord{})
		if filter.EntityID != "" {
			q = q.Where("entity_id = ?", filter.EntityID)
		}
		if filter.EntityKind != "" {
			q = q.Where("entity_kind = ?", string(filter.EntityKind))
		}
		if filter.EventType != "" {
			q = q.Where("event_type = ?", filter.EventType)
		}
		if filter.ActorID != "" {
			q = q.Where("actor_id = ?", filter.ActorID)
		}
		if filter.Since != nil {
			q = q.Where("created_at >= ?", *filter.Since)
		}
		if filter.Until != nil {
			q = q.Where("created_at < ?", *filter.Until)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery().Count(&totalSize).Error; err != nil {
		return nil, s.storageErr(ctx, "count audit events", filter.EntityID, err)
	}

	query := buildQuery().Order("created_at DESC, id DESC").Limit(limit + 1)
	if cursor != "" {
		cursorTime, cursorID, err := decodeAuditCursor(cursor)
		if err != nil {
			return nil, err
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)",
			cursorTime, cursorTime, cursorID)
	}

	var records []AuditEventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, s.storageErr(ctx, "list audit events", filter.EntityID, err)
	}

	page := &AuditPage{TotalSize: int(totalSize)}
	if len(records) > limit {
		last := records[limit-1]
		page.NextCursor = encodeAuditCursor(last.CreatedAt, last.ID)
		records = records[:limit]
	}
	page.Events = records
	return page, nil
}

// Audit cursors encode the compound sort key of the last row on the page.
func encodeAuditCursor(createdAt time.Time, id string) string {
	return createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
}

func decodeAuditCursor(cursor string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(cursor, "|")
	if !ok {
		return time.Time{}, "", fmt.Errorf("invalid audit cursor: %q", cursor)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid audit cursor: %w", err)
	}
	return t, id, nil
}
