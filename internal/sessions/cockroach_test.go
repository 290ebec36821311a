package sessions

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/pkg/models"
)

// setupMockDB creates a CockroachStore backed by a sqlmock connection,
// expecting the four statements prepareStatements issues on construction.
func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *CockroachStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	mock.ExpectPrepare("INSERT INTO sessions")
	mock.ExpectPrepare("SELECT (.+) FROM sessions WHERE id")
	mock.ExpectPrepare("UPDATE sessions")
	mock.ExpectPrepare("DELETE FROM sessions")

	store := &CockroachStore{db: db}
	if err := store.prepareStatements(); err != nil {
		t.Fatalf("prepareStatements: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, store
}

func testSession() *models.Session {
	return &models.Session{
		ID:              "session-1",
		TaskDescription: "summarize the quarterly report",
		Status:          models.SessionPending,
		Version:         1,
	}
}

func TestCockroachStoreCreateSucceeds(t *testing.T) {
	mock, store := setupMockDB(t)
	session := testSession()
	session.Version = 0

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(
			session.ID, session.Owner, session.TaskDescription, session.Status, session.IterationCount,
			session.Context, session.Plan, session.Result, session.ErrorMessage, int64(1),
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if session.Version != 1 {
		t.Fatalf("Version = %d, want 1", session.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCockroachStoreCreateMissingIDFailsFast(t *testing.T) {
	_, store := setupMockDB(t)
	session := testSession()
	session.ID = ""

	err := store.Create(context.Background(), session)
	if err == nil {
		t.Fatal("expected error for missing session ID")
	}
	if kind, ok := relayerr.KindOf(err); !ok || kind != relayerr.ValidationError {
		t.Fatalf("kind = %v, want ValidationError", kind)
	}
}

func TestCockroachStoreCreateDuplicateIDSurfacesAsError(t *testing.T) {
	mock, store := setupMockDB(t)
	session := testSession()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(
			session.ID, session.Owner, session.TaskDescription, session.Status, session.IterationCount,
			session.Context, session.Plan, session.Result, session.ErrorMessage, int64(1),
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnError(&pqLikeError{})

	err := store.Create(context.Background(), session)
	if err == nil {
		t.Fatal("expected error")
	}
	if kind, ok := relayerr.KindOf(err); !ok || kind != relayerr.Internal {
		t.Fatalf("kind = %v, want Internal", kind)
	}
}

func TestCockroachStoreGetNotFound(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	if kind, ok := relayerr.KindOf(err); !ok || kind != relayerr.NotFound {
		t.Fatalf("kind = %v, want NotFound", kind)
	}
}

func TestCockroachStoreGetReturnsSession(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "owner", "task_description", "status", "iteration_count",
		"context", "plan", "result", "error_message", "version", "create_time", "update_time",
	}).AddRow("session-1", nil, "task", models.SessionRunning, 2, "{}", "", "", "", int64(3), now, now)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("session-1").
		WillReturnRows(rows)

	session, err := store.Get(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if session.Status != models.SessionRunning || session.Version != 3 {
		t.Fatalf("session = %+v, unexpected fields", session)
	}
}

func TestCockroachStoreUpdateVersionMatchSucceeds(t *testing.T) {
	mock, store := setupMockDB(t)
	session := testSession()
	session.Version = 5

	mock.ExpectExec("UPDATE sessions").
		WithArgs(
			session.TaskDescription, session.Status, session.IterationCount, session.Context, session.Plan,
			session.Result, session.ErrorMessage, int64(6), sqlmock.AnyArg(),
			session.ID, int64(5),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Update(context.Background(), session); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if session.Version != 6 {
		t.Fatalf("Version = %d, want 6", session.Version)
	}
}

func TestCockroachStoreUpdateVersionMismatchReturnsConflict(t *testing.T) {
	mock, store := setupMockDB(t)
	session := testSession()
	session.Version = 5

	mock.ExpectExec("UPDATE sessions").
		WithArgs(
			session.TaskDescription, session.Status, session.IterationCount, session.Context, session.Plan,
			session.Result, session.ErrorMessage, int64(6), sqlmock.AnyArg(),
			session.ID, int64(5),
		).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), session)
	if kind, ok := relayerr.KindOf(err); !ok || kind != relayerr.StoreConflict {
		t.Fatalf("kind = %v, want StoreConflict", kind)
	}
	if session.Version != 5 {
		t.Fatalf("Version should not advance on conflict, got %d", session.Version)
	}
}

func TestCockroachStoreDeleteNotFound(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "missing")
	if kind, ok := relayerr.KindOf(err); !ok || kind != relayerr.NotFound {
		t.Fatalf("kind = %v, want NotFound", kind)
	}
}

func TestCockroachStoreDeleteSucceeds(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("session-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(context.Background(), "session-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

// pqLikeError stands in for a driver-level unique-violation error without
// importing the postgres wire protocol details into the test.
type pqLikeError struct{}

func (*pqLikeError) Error() string { return "duplicate key value violates unique constraint" }
