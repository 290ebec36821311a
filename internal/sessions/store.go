// Package sessions implements the Session Store: optimistic-versioned
// persistence for session rows.
package sessions

import (
	"context"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/pkg/models"
)

// Store persists Session rows with optimistic concurrency: Update only
// succeeds when the caller's Version matches the stored row's, and the
// stored row's Version is incremented on success. A version conflict is
// retried by refetch-then-save up to 3 times, then surfaced.
type Store interface {
	// Create inserts a new session. Returns a relayerr error wrapping a
	// unique-violation when session.ID already exists.
	Create(ctx context.Context, session *models.Session) error

	// Get loads a session by id. Returns a relayerr.NotFound-kind error
	// when absent.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Update saves session, requiring session.Version to match the
	// stored row. On success the stored row's Version is incremented and
	// session.Version is updated to match. Returns a
	// relayerr.StoreConflict-kind error on a version mismatch.
	Update(ctx context.Context, session *models.Session) error

	// Delete removes a session by id.
	Delete(ctx context.Context, id string) error
}

// MutateFn transforms a freshly loaded session in place before it is
// saved back.
type MutateFn func(session *models.Session) error

// UpdateWithRetry reloads the session by id, applies mutate, and calls
// Update, retrying up to 3 times total on an optimistic-version
// collision before surfacing the error. This "reload by primary id,
// mutate, save with retry" pattern is used throughout the loop and the
// Context Store.
func UpdateWithRetry(ctx context.Context, store Store, id string, mutate MutateFn) (*models.Session, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		session, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(session); err != nil {
			return nil, err
		}
		if err := store.Update(ctx, session); err != nil {
			lastErr = err
			if kind, ok := relayerr.KindOf(err); ok && kind == relayerr.StoreConflict {
				continue
			}
			return nil, err
		}
		return session, nil
	}
	return nil, lastErr
}
