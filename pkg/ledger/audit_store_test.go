package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAuditEvent_Defaults(t *testing.T) {
	store := newTestStore(t)
	ctx := WithRequestID(context.Background(), "req-7")

	id, err := store.AppendAuditEvent(ctx, &AuditEventRecord{
		EntityID:  "ent-1",
		ActorID:   "user-1",
		ActorType: string(ActorHuman),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	page, err := store.QueryAuditTrail(ctx, AuditFilter{EntityID: "ent-1"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, id, page.Events[0].ID)
	assert.Equal(t, EventActionRecorded, page.Events[0].EventType)
	assert.Equal(t, "req-7", page.Events[0].RequestID)
}

func TestAuditTrail_ImmutableThroughORM(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendAuditEvent(ctx, &AuditEventRecord{
		EntityID: "ent-1", ActorID: "user-1", ActorType: string(ActorHuman),
	})
	require.NoError(t, err)

	var event AuditEventRecord
	require.NoError(t, store.db.First(&event).Error)

	err = store.db.Model(&event).Update("actor_id", "tampered").Error
	require.ErrorIs(t, err, ErrAuditImmutable)

	err = store.db.Delete(&event).Error
	require.ErrorIs(t, err, ErrAuditImmutable)

	// The row is untouched.
	var got AuditEventRecord
	require.NoError(t, store.db.First(&got, "id = ?", event.ID).Error)
	assert.Equal(t, "user-1", got.ActorID)
}

func TestAuditTrail_ImmutableAtStorageLayer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.AppendAuditEvent(ctx, &AuditEventRecord{
		EntityID: "ent-1", ActorID: "user-1", ActorType: string(ActorHuman),
	})
	require.NoError(t, err)

	// Raw SQL bypasses the ORM hooks; the trigger installed at migration
	// time still refuses the statement.
	err = store.db.Exec("UPDATE audit_events SET actor_id = 'tampered' WHERE id = ?", id).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	err = store.db.Exec("DELETE FROM audit_events WHERE id = ?", id).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	var count int64
	require.NoError(t, store.db.Model(&AuditEventRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestQueryAuditTrail_OrderingAndTiebreak(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Events sharing one timestamp exercise the id tiebreak; the ids are
	// chosen so insertion order and id order disagree.
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"b", "a", "c"} {
		_, err := store.AppendAuditEvent(ctx, &AuditEventRecord{
			ID:        id,
			EntityID:  "ent-1",
			EventType: "action.recorded",
			ActorID:   "system",
			ActorType: string(ActorSystem),
			CreatedAt: at,
		})
		require.NoError(t, err)
	}
	_, err := store.AppendAuditEvent(ctx, &AuditEventRecord{
		ID:       "later",
		EntityID: "ent-1", ActorID: "system", ActorType: string(ActorSystem),
		CreatedAt: at.Add(time.Minute),
	})
	require.NoError(t, err)

	page, err := store.QueryAuditTrail(ctx, AuditFilter{EntityID: "ent-1"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 4)

	ids := make([]string, len(page.Events))
	for i, e := range page.Events {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"later", "c", "b", "a"}, ids)
}

func TestQueryAuditTrail_CursorPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seen := map[string]int{}
	for i := 0; i < 7; i++ {
		// Pairs share timestamps so pages split inside a timestamp group.
		_, err := store.AppendAuditEvent(ctx, &AuditEventRecord{
			ID:       fmt.Sprintf("evt-%d", i),
			EntityID: "ent-1", ActorID: "system", ActorType: string(ActorSystem),
			CreatedAt: at.Add(time.Duration(i/2) * time.Second),
		})
		require.NoError(t, err)
	}

	var cursor string
	var pages int
	for {
		page, err := store.QueryAuditTrail(ctx, AuditFilter{EntityID: "ent-1"}, cursor, 2)
		require.NoError(t, err)
		assert.Equal(t, 7, page.TotalSize)
		for _, e := range page.Events {
			seen[e.ID]++
		}
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, 4, pages)
	assert.Len(t, seen, 7, "no event skipped")
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %s duplicated", id)
	}
}

func TestQueryAuditTrail_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events := []AuditEventRecord{
		{ID: "e1", EntityID: "ent-1", EntityKind: string(KindIssue), EventType: "a", ActorID: "alice", ActorType: "human", CreatedAt: base},
		{ID: "e2", EntityID: "ent-1", EntityKind: string(KindIssue), EventType: "b", ActorID: "bob", ActorType: "human", CreatedAt: base.Add(time.Hour)},
		{ID: "e3", EntityID: "ent-2", EntityKind: string(KindIncident), EventType: "a", ActorID: "alice", ActorType: "human", CreatedAt: base.Add(2 * time.Hour)},
	}
	for i := range events {
		_, err := store.AppendAuditEvent(ctx, &events[i])
		require.NoError(t, err)
	}

	page, err := store.QueryAuditTrail(ctx, AuditFilter{EntityID: "ent-1"}, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalSize)

	page, err = store.QueryAuditTrail(ctx, AuditFilter{ActorID: "alice"}, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalSize)

	page, err = store.QueryAuditTrail(ctx, AuditFilter{EntityKind: KindIncident}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "e3", page.Events[0].ID)

	since := base.Add(30 * time.Minute)
	until := base.Add(90 * time.Minute)
	page, err = store.QueryAuditTrail(ctx, AuditFilter{Since: &since, Until: &until}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "e2", page.Events[0].ID)

	page, err = store.QueryAuditTrail(ctx, AuditFilter{EntityID: "ent-1", EventType: "a"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "e1", page.Events[0].ID)
}

func TestQueryAuditTrail_InvalidCursor(t *testing.T) {
	store := newTestStore(t)

	_, err := store.QueryAuditTrail(context.Background(), AuditFilter{}, "not-a-cursor", 10)
	require.Error(t, err)
}
