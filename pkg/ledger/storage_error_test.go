package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/flowops/workflow-ledger/pkg/locking"
)

// newMockStore returns a Store backed by sqlmock, for injecting storage
// faults that an in-memory database cannot produce.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	store := New(db, DefaultRegistry(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithScopeLocker(locking.NoopScopeLocker{}))
	return store, mock
}

func TestTransition_StoreUnreachableMapsToStorageError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := store.Transition(context.Background(), "ent-1", IssueSpecReady, SystemActor, nil)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.True(t, IsRetryable(err), "infrastructure faults are retryable")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryAuditTrail_StorageFault(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT count").WillReturnError(errors.New("read timeout"))

	_, err := store.QueryAuditTrail(context.Background(), AuditFilter{EntityID: "ent-1"}, "", 10)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveIdempotent_StorageFault(t *testing.T) {
	store, mock := newMockStore(t)

	// The fast-path lookup fails outright; nothing may execute.
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err := store.ResolveIdempotent(context.Background(), "fp-1",
		func(tx *gorm.DB) (string, JSONAny, string, error) {
			t.Fatal("operation must not run when the lookup fails")
			return "", nil, "", nil
		})
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)

	require.NoError(t, mock.ExpectationsWereMet())
}
