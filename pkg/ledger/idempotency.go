package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcome is the result of an idempotently resolved operation. Replayed is
// true when a prior record satisfied the call without re-executing the
// operation; that is a success path, not an error.
type Outcome struct {
	Fingerprint string
	Decision    string
	Result      JSONAny
	EntityID    string
	Replayed    bool
	RecordedAt  time.Time
}

// Operation is the side-effecting body of an idempotent call. It runs inside
// the transaction that also persists the idempotency record, so its writes
// and the record commit or roll back together. Writes against the ledger's
// tables should go through tx.
type Operation func(tx *gorm.DB) (decision string, result JSONAny, entityID string, err error)

// ResolveIdempotent executes op at most once per fingerprint. A prior record
// short-circuits the call and returns its stored outcome verbatim. On a fresh
// fingerprint, op runs and its outcome is persisted in the same transaction;
// if a concurrent first-caller wins the unique-index race, the loser's
// transaction rolls back and the winner's stored record is returned instead
// of an error.
func (s *Store) ResolveIdempotent(ctx context.Context, fingerprint string, op Operation) (*Outcome, error) {
	if prior, err := s.lookupIdempotency(ctx, fingerprint); err != nil {
		return nil, err
	} else if prior != nil {
		return outcomeFromRecord(prior, true), nil
	}

	rec := &IdempotencyRecord{
		ID:              uuid.New().String(),
		FingerprintHash: fingerprint,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decision, result, entityID, err := op(tx)
		if err != nil {
			return err
		}
		rec.Decision = decision
		rec.Outcome = result
		rec.EntityID = entityID
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			prior, lookupErr := s.lookupIdempotency(ctx, fingerprint)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if prior != nil {
				return outcomeFromRecord(prior, true), nil
			}
		}
		return nil, s.storageErr(ctx, "resolve idempotent operation", "", err)
	}
	return outcomeFromRecord(rec, false), nil
}

// LookupOutcome returns the stored outcome for a fingerprint, or nil if the
// operation has not run.
func (s *Store) LookupOutcome(ctx context.Context, fingerprint string) (*Outcome, error) {
	rec, err := s.lookupIdempotency(ctx, fingerprint)
	if err != nil || rec == nil {
		return nil, err
	}
	return outcomeFromRecord(rec, true), nil
}

func (s *Store) lookupIdempotency(ctx context.Context, fingerprint string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := s.db.WithContext(ctx).Where("fingerprint_hash = ?", fingerprint).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, s.storageErr(ctx, "look up idempotency record", "", err)
	}
	return &rec, nil
}

func outcomeFromRecord(rec *IdempotencyRecord, replayed bool) *Outcome {
	return &Outcome{
		Fingerprint: rec.FingerprintHash,
		Decision:    rec.Decision,
		Result:      rec.Outcome,
		EntityID:    rec.EntityID,
		Replayed:    replayed,
		RecordedAt:  rec.CreatedAt,
	}
}
