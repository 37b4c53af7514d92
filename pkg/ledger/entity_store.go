package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateSpec carries the initial shape of a new entity. Status is assigned by
// the kind's definition, never by the caller.
type CreateSpec struct {
	ScopeKey    string
	DisplayName string
	Payload     JSONAny
	Annotations JSONAny
}

// EntityPatch is the closed set of mutable entity fields. Nil fields are left
// untouched. All field updates flow through Update; there is no other
// mutation path for these columns.
type EntityPatch struct {
	DisplayName *string
	Payload     JSONAny
	Annotations JSONAny
}

func (p *EntityPatch) columns() map[string]any {
	cols := make(map[string]any)
	if p.DisplayName != nil {
		cols["display_name"] = *p.DisplayName
	}
	if p.Payload != nil {
		cols["payload"] = p.Payload
	}
	if p.Annotations != nil {
		cols["annotations"] = p.Annotations
	}
	return cols
}

// Get retrieves an entity by id.
func (s *Store) Get(ctx context.Context, entityID string) (*EntityRecord, error) {
	var ent EntityRecord
	err := s.db.WithContext(ctx).First(&ent, "id = ?", entityID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{ID: entityID}
		}
		return nil, s.storageErr(ctx, "get entity", entityID, err)
	}
	return &ent, nil
}

// GetByNaturalKey retrieves an entity by its kind and natural key.
func (s *Store) GetByNaturalKey(ctx context.Context, kind EntityKind, naturalKey string) (*EntityRecord, error) {
	var ent EntityRecord
	err := s.db.WithContext(ctx).
		Where("kind = ? AND natural_key = ?", string(kind), naturalKey).
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Kind: kind, NaturalKey: naturalKey}
		}
		return nil, s.storageErr(ctx, "get entity by natural key", "", err)
	}
	return &ent, nil
}

// Create inserts a new entity in its kind's default initial status and
// appends the creation audit event in the same transaction.
func (s *Store) Create(ctx context.Context, kind EntityKind, spec CreateSpec, actor Actor) (*EntityRecord, error) {
	ent, err := s.newRecord(kind, nil, spec)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ent).Error; err != nil {
			return err
		}
		return tx.Create(s.creationEvent(ctx, ent, actor)).Error
	})
	if err != nil {
		return nil, s.storageErr(ctx, "create entity", ent.ID, err)
	}
	return ent, nil
}

// EnsureByNaturalKey creates an entity under the natural-key uniqueness
// constraint, or returns the existing one if a concurrent (or earlier)
// creator won. Exactly one caller ever observes isNew = true, and exactly one
// creation audit event exists per natural key; a losing caller's transaction
// rolls back completely before the existing row is re-fetched.
func (s *Store) EnsureByNaturalKey(ctx context.Context, kind EntityKind, naturalKey string, spec CreateSpec, actor Actor) (*EntityRecord, bool, error) {
	ent, err := s.newRecord(kind, &naturalKey, spec)
	if err != nil {
		return nil, false, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ent).Error; err != nil {
			return err
		}
		return tx.Create(s.creationEvent(ctx, ent, actor)).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetByNaturalKey(ctx, kind, naturalKey)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, s.storageErr(ctx, "ensure entity by natural key", ent.ID, err)
	}
	return ent, true, nil
}

// Transition moves an entity along a declared graph edge and appends exactly
// one audit event, atomically. The entity row is read under a row lock;
// transitions into an exclusive status additionally serialize on the scope
// lock before checking and taking the claim. Any failure rolls the whole
// unit back.
func (s *Store) Transition(ctx context.Context, entityID string, to Status, actor Actor, payload JSONAny) (*EntityRecord, error) {
	var updated EntityRecord

	// Scope lock releases must outlive the transaction: releasing between
	// the check and the commit would let a second holder in.
	var releases []func()
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ent EntityRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ent, "id = ?", entityID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{ID: entityID}
			}
			return err
		}

		kind := EntityKind(ent.Kind)
		from := Status(ent.Status)
		if err := s.registry.ValidateTransition(kind, from, to); err != nil {
			return err
		}

		if _, exclusive := s.registry.ExclusiveScope(kind, to); exclusive {
			release, err := s.claimExclusive(ctx, tx, kind, to, ent.ScopeKey, ent.ID)
			if release != nil {
				releases = append(releases, release)
			}
			if err != nil {
				return err
			}
		}
		if _, exclusive := s.registry.ExclusiveScope(kind, from); exclusive {
			if err := s.releaseExclusive(tx, kind, from, ent.ScopeKey, ent.ID); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&EntityRecord{}).Where("id = ?", ent.ID).
			Updates(map[string]any{"status": string(to), "updated_at": now}).Error; err != nil {
			return err
		}

		event := &AuditEventRecord{
			ID:         uuid.New().String(),
			EntityID:   ent.ID,
			EntityKind: ent.Kind,
			EventType:  EventEntityTransitioned,
			FromStatus: string(from),
			ToStatus:   string(to),
			ActorID:    actor.ID,
			ActorType:  string(actor.Type),
			RequestID:  RequestIDFrom(ctx),
			Payload:    payload,
		}
		if err := tx.Create(event).Error; err != nil {
			return err
		}

		ent.Status = string(to)
		ent.UpdatedAt = now
		updated = ent
		return nil
	})
	if err != nil {
		return nil, s.storageErr(ctx, "transition entity", entityID, err)
	}
	return &updated, nil
}

// Update applies a patch through the single reviewed mutation path and
// appends one entity.updated audit event in the same transaction. An empty
// patch is a no-op and writes nothing, including no event.
func (s *Store) Update(ctx context.Context, entityID string, patch EntityPatch, actor Actor) (*EntityRecord, error) {
	cols := patch.columns()
	if len(cols) == 0 {
		return s.Get(ctx, entityID)
	}

	var updated EntityRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ent EntityRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ent, "id = ?", entityID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{ID: entityID}
			}
			return err
		}

		cols["updated_at"] = time.Now().UTC()
		if err := tx.Model(&EntityRecord{}).Where("id = ?", ent.ID).Updates(cols).Error; err != nil {
			return err
		}

		event := &AuditEventRecord{
			ID:         uuid.New().String(),
			EntityID:   ent.ID,
			EntityKind: ent.Kind,
			EventType:  EventEntityUpdated,
			ActorID:    actor.ID,
			ActorType:  string(actor.Type),
			RequestID:  RequestIDFrom(ctx),
		}
		if err := tx.Create(event).Error; err != nil {
			return err
		}

		return tx.First(&updated, "id = ?", ent.ID).Error
	})
	if err != nil {
		return nil, s.storageErr(ctx, "update entity", entityID, err)
	}
	return &updated, nil
}

// SoftDelete marks an entity deleted. Permitted only from a status the kind
// declares deletable (an initial, side-effect-free status); everything else
// must archive through the graph. Appends one entity.deleted audit event and
// drops any exclusivity claims held by the entity, atomically.
func (s *Store) SoftDelete(ctx context.Context, entityID string, actor Actor) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ent EntityRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ent, "id = ?", entityID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{ID: entityID}
			}
			return err
		}

		kind := EntityKind(ent.Kind)
		status := Status(ent.Status)
		if !s.registry.IsDeletable(kind, status) {
			return &DeleteNotPermittedError{Kind: kind, ID: ent.ID, Status: status}
		}

		if err := tx.Delete(&EntityRecord{}, "id = ?", ent.ID).Error; err != nil {
			return err
		}
		if err := tx.Where("entity_id = ?", ent.ID).Delete(&ExclusivityClaim{}).Error; err != nil {
			return err
		}

		event := &AuditEventRecord{
			ID:         uuid.New().String(),
			EntityID:   ent.ID,
			EntityKind: ent.Kind,
			EventType:  EventEntityDeleted,
			FromStatus: ent.Status,
			ActorID:    actor.ID,
			ActorType:  string(actor.Type),
			RequestID:  RequestIDFrom(ctx),
		}
		return tx.Create(event).Error
	})
	if err != nil {
		return s.storageErr(ctx, "soft-delete entity", entityID, err)
	}
	return nil
}

func (s *Store) newRecord(kind EntityKind, naturalKey *string, spec CreateSpec) (*EntityRecord, error) {
	def, err := s.registry.Definition(kind)
	if err != nil {
		return nil, err
	}
	scopeKey := spec.ScopeKey
	if scopeKey == "" {
		scopeKey = DefaultScopeKey
	}
	return &EntityRecord{
		ID:          uuid.New().String(),
		Kind:        string(kind),
		NaturalKey:  naturalKey,
		Status:      string(def.DefaultInitialStatus()),
		ScopeKey:    scopeKey,
		DisplayName: spec.DisplayName,
		Payload:     spec.Payload,
		Annotations: spec.Annotations,
	}, nil
}

func (s *Store) creationEvent(ctx context.Context, ent *EntityRecord, actor Actor) *AuditEventRecord {
	return &AuditEventRecord{
		ID:         uuid.New().String(),
		EntityID:   ent.ID,
		EntityKind: ent.Kind,
		EventType:  EventEntityCreated,
		ToStatus:   ent.Status,
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		RequestID:  RequestIDFrom(ctx),
	}
}
