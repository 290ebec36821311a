package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/pkg/models"
)

// CockroachStore implements Store against CockroachDB/Postgres.
type CockroachStore struct {
	db *sql.DB

	stmtCreate *sql.Stmt
	stmtGet    *sql.Stmt
	stmtUpdate *sql.Stmt
	stmtDelete *sql.Stmt
}

// NewCockroachStore opens a connection with cfg and prepares statements.
func NewCockroachStore(cfg *CockroachConfig) (*CockroachStore, error) {
	return NewCockroachStoreFromDSN(DSN(cfg), cfg)
}

// NewCockroachStoreFromDSN opens a connection using a raw DSN.
func NewCockroachStoreFromDSN(dsn string, cfg *CockroachConfig) (*CockroachStore, error) {
	db, err := openCockroachDB(dsn, cfg)
	if err != nil {
		return nil, err
	}
	store := &CockroachStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare session statements: %w", err)
	}
	return store, nil
}

func (s *CockroachStore) prepareStatements() error {
	var err error
	s.stmtCreate, err = s.db.Prepare(`
		INSERT INTO sessions (id, owner, task_description, status, iteration_count, context, plan, result, error_message, version, create_time, update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return fmt.Errorf("prepare create: %w", err)
	}
	s.stmtGet, err = s.db.Prepare(`
		SELECT id, owner, task_description, status, iteration_count, context, plan, result, error_message, version, create_time, update_time
		FROM sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get: %w", err)
	}
	s.stmtUpdate, err = s.db.Prepare(`
		UPDATE sessions
		SET task_description = $1, status = $2, iteration_count = $3, context = $4, plan = $5,
		    result = $6, error_message = $7, version = $8, update_time = $9
		WHERE id = $10 AND version = $11
	`)
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	s.stmtDelete, err = s.db.Prepare(`DELETE FROM sessions WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	return nil
}

// Close releases prepared statements and the underlying connection.
func (s *CockroachStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtCreate, s.stmtGet, s.stmtUpdate, s.stmtDelete} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// Create inserts session at version 1.
func (s *CockroachStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return relayerr.New(relayerr.ValidationError, "session id is required")
	}
	session.Version = 1
	now := time.Now()
	session.CreateTime = now
	session.UpdateTime = now

	_, err := s.stmtCreate.ExecContext(ctx,
		session.ID, session.Owner, session.TaskDescription, session.Status, session.IterationCount,
		session.Context, session.Plan, session.Result, session.ErrorMessage, session.Version,
		session.CreateTime, session.UpdateTime,
	)
	if err != nil {
		return relayerr.Wrap(relayerr.Internal, err, fmt.Sprintf("create session %s", session.ID))
	}
	return nil
}

// Get loads session by id.
func (s *CockroachStore) Get(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	err := s.stmtGet.QueryRowContext(ctx, id).Scan(
		&session.ID, &session.Owner, &session.TaskDescription, &session.Status, &session.IterationCount,
		&session.Context, &session.Plan, &session.Result, &session.ErrorMessage, &session.Version,
		&session.CreateTime, &session.UpdateTime,
	)
	if err == sql.ErrNoRows {
		return nil, relayerr.Wrap(relayerr.NotFound, err, fmt.Sprintf("session %s", id))
	}
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StoreUnavailable, err, "get session")
	}
	return session, nil
}

// Update saves session, requiring its Version to match the stored row;
// on success the row's version is incremented and session.Version is
// updated to match, per Store's optimistic-version contract.
func (s *CockroachStore) Update(ctx context.Context, session *models.Session) error {
	nextVersion := session.Version + 1
	session.UpdateTime = time.Now()

	result, err := s.stmtUpdate.ExecContext(ctx,
		session.TaskDescription, session.Status, session.IterationCount, session.Context, session.Plan,
		session.Result, session.ErrorMessage, nextVersion, session.UpdateTime,
		session.ID, session.Version,
	)
	if err != nil {
		return relayerr.Wrap(relayerr.Internal, err, "update session")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return relayerr.Wrap(relayerr.Internal, err, "rows affected")
	}
	if rows == 0 {
		return relayerr.New(relayerr.StoreConflict, fmt.Sprintf("session %s version mismatch (expected %d)", session.ID, session.Version))
	}
	session.Version = nextVersion
	return nil
}

// Delete removes session by id.
func (s *CockroachStore) Delete(ctx context.Context, id string) error {
	result, err := s.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return relayerr.Wrap(relayerr.Internal, err, "delete session")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return relayerr.Wrap(relayerr.Internal, err, "rows affected")
	}
	if rows == 0 {
		return relayerr.Wrap(relayerr.NotFound, sql.ErrNoRows, fmt.Sprintf("session %s", id))
	}
	return nil
}
