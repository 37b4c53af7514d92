package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/flowops/workflow-ledger/pkg/locking"
)

// Store is the entry point for all ledger mutations. The entities, audit
// events, idempotency records, and exclusivity claims tables are owned by the
// Store; nothing else writes to them.
type Store struct {
	db       *gorm.DB
	registry *Registry
	locker   locking.ScopeLocker
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithScopeLocker overrides the scope locker chosen for the dialect.
func WithScopeLocker(locker locking.ScopeLocker) Option {
	return func(s *Store) { s.locker = locker }
}

// New creates a Store over db with the given kind registry.
func New(db *gorm.DB, registry *Registry, opts ...Option) *Store {
	s := &Store{
		db:       db,
		registry: registry,
		locker:   locking.ForDialect(db),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the kind registry the store validates against.
func (s *Store) Registry() *Registry { return s.registry }

// AutoMigrate creates or updates the ledger tables and installs the
// storage-level append-only guards on the audit trail. Callers running
// multiple replicas should serialize this through a locking.MigrationLocker.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&EntityRecord{}); err != nil {
		return fmt.Errorf("auto-migrate entities: %w", err)
	}
	if err := s.db.AutoMigrate(&AuditEventRecord{}); err != nil {
		return fmt.Errorf("auto-migrate audit_events: %w", err)
	}
	if err := s.db.AutoMigrate(&IdempotencyRecord{}); err != nil {
		return fmt.Errorf("auto-migrate idempotency_records: %w", err)
	}
	if err := s.db.AutoMigrate(&ExclusivityClaim{}); err != nil {
		return fmt.Errorf("auto-migrate exclusivity_claims: %w", err)
	}
	if err := installAuditGuards(s.db); err != nil {
		return fmt.Errorf("install audit guards: %w", err)
	}
	return nil
}

// installAuditGuards creates the dialect-appropriate triggers that reject
// UPDATE and DELETE against audit_events at the storage layer, backing up the
// ORM-level hooks for raw SQL paths.
func installAuditGuards(db *gorm.DB) error {
	var stmts []string
	switch db.Dialector.Name() {
	case "sqlite":
		stmts = []string{
			`CREATE TRIGGER IF NOT EXISTS audit_events_no_update
			 BEFORE UPDATE ON audit_events
			 BEGIN SELECT RAISE(ABORT, 'audit_events is append-only'); END`,
			`CREATE TRIGGER IF NOT EXISTS audit_events_no_delete
			 BEFORE DELETE ON audit_events
			 BEGIN SELECT RAISE(ABORT, 'audit_events is append-only'); END`,
		}
	case "postgres":
		stmts = []string{
			`CREATE OR REPLACE FUNCTION audit_events_immutable() RETURNS trigger AS $$
			 BEGIN RAISE EXCEPTION 'audit_events is append-only'; END;
			 $$ LANGUAGE plpgsql`,
			`DROP TRIGGER IF EXISTS audit_events_no_update ON audit_events`,
			`CREATE TRIGGER audit_events_no_update BEFORE UPDATE ON audit_events
			 FOR EACH ROW EXECUTE FUNCTION audit_events_immutable()`,
			`DROP TRIGGER IF EXISTS audit_events_no_delete ON audit_events`,
			`CREATE TRIGGER audit_events_no_delete BEFORE DELETE ON audit_events
			 FOR EACH ROW EXECUTE FUNCTION audit_events_immutable()`,
		}
	case "mysql":
		stmts = []string{
			`DROP TRIGGER IF EXISTS audit_events_no_update`,
			`CREATE TRIGGER audit_events_no_update BEFORE UPDATE ON audit_events
			 FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'audit_events is append-only'`,
			`DROP TRIGGER IF EXISTS audit_events_no_delete`,
			`CREATE TRIGGER audit_events_no_delete BEFORE DELETE ON audit_events
			 FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'audit_events is append-only'`,
		}
	default:
		// Unknown dialect: the ORM hooks remain as the only guard.
		return nil
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// storageErr logs an unexpected storage fault with correlation identifiers
// (never payload contents) and wraps it for the caller. Structured ledger
// errors pass through unchanged.
func (s *Store) storageErr(ctx context.Context, op, entityID string, err error) error {
	if isLedgerError(err) {
		return err
	}
	s.logger.Error("ledger storage failure",
		"op", op,
		"entity_id", entityID,
		"request_id", RequestIDFrom(ctx),
		"error", err,
	)
	return &StorageError{Op: op, Err: err}
}
