package audit_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoserve/actionkernel/pkg/audit"
)

func newMockStore(t *testing.T, driver string) (*audit.SQLTaskStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS execution_tasks").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT entry_hash FROM execution_tasks").
		WillReturnError(sql.ErrNoRows)

	store, err := audit.NewSQLTaskStore(db, driver)
	require.NoError(t, err)
	return store, mock, db
}

func sampleTask(id string) *audit.ExecutionTask {
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	return &audit.ExecutionTask{
		ID:             id,
		EventID:        "ev1",
		ActionName:     "custom/lookup",
		ActionArgs:     map[string]any{"q": "hello"},
		ActionServerID: "srv1",
		StartedAt:      now,
		EndedAt:        now.Add(120 * time.Millisecond),
		Status:         audit.StatusCompleted,
		ResponseStatus: 200,
	}
}

func TestSQLTaskStore_RejectsUnknownDriver(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = audit.NewSQLTaskStore(db, "oracle")
	require.Error(t, err)
}

func TestSQLTaskStore_CreateTask(t *testing.T) {
	store, mock, db := newMockStore(t, audit.DriverSQLite)
	defer db.Close()

	mock.ExpectExec("INSERT INTO execution_tasks").
		WithArgs(
			"task-1", "ev1", "custom/lookup", sqlmock.AnyArg(), "srv1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "completed", "", 200,
			sqlmock.AnyArg(), "genesis", sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.CreateTask(context.Background(), sampleTask("task-1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTaskStore_ChainsEntries(t *testing.T) {
	store, mock, db := newMockStore(t, audit.DriverSQLite)
	defer db.Close()

	var firstEntryHash string
	mock.ExpectExec("INSERT INTO execution_tasks").
		WithArgs(
			"task-1", "ev1", "custom/lookup", sqlmock.AnyArg(), "srv1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "completed", "", 200,
			sqlmock.AnyArg(), "genesis", hashCapture{&firstEntryHash},
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.CreateTask(context.Background(), sampleTask("task-1")))
	require.NotEmpty(t, firstEntryHash)

	// The second row must link back to the first row's entry hash.
	mock.ExpectExec("INSERT INTO execution_tasks").
		WithArgs(
			"task-2", "ev1", "custom/lookup", sqlmock.AnyArg(), "srv1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "completed", "", 200,
			sqlmock.AnyArg(), firstEntryHash, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(2, 1))
	require.NoError(t, store.CreateTask(context.Background(), sampleTask("task-2")))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTaskStore_GeneratesMissingID(t *testing.T) {
	store, mock, db := newMockStore(t, audit.DriverSQLite)
	defer db.Close()

	mock.ExpectExec("INSERT INTO execution_tasks").
		WillReturnResult(sqlmock.NewResult(1, 1))

	task := sampleTask("")
	require.NoError(t, store.CreateTask(context.Background(), task))
	assert.NotEmpty(t, task.ID)
}

func TestSQLTaskStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Postgres rows get an explicit sequence column; the chain head is the
	// row with the highest sequence, not a physical-location order.
	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS execution_tasks.*seq BIGSERIAL`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT entry_hash FROM execution_tasks ORDER BY seq DESC").
		WillReturnError(sql.ErrNoRows)

	store, err := audit.NewSQLTaskStore(db, audit.DriverPostgres)
	require.NoError(t, err)

	mock.ExpectExec(`(?s)INSERT INTO execution_tasks.*VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10, \$11, \$12, \$13\)`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.CreateTask(context.Background(), sampleTask("task-1")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryTaskRepository_SnapshotsTasks(t *testing.T) {
	repo := audit.NewMemoryTaskRepository()
	task := sampleTask("task-1")
	require.NoError(t, repo.CreateTask(context.Background(), task))

	// Later mutation of the caller's task must not leak into the record.
	task.Status = audit.StatusFailed

	recorded := repo.Tasks()
	require.Len(t, recorded, 1)
	assert.Equal(t, audit.StatusCompleted, recorded[0].Status)
}

// hashCapture is a sqlmock argument matcher that accepts any string and keeps
// it for later expectations.
type hashCapture struct {
	dst *string
}

func (h hashCapture) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	*h.dst = s
	return true
}
