// Package keyresolver implements the Key Resolver: given a user id and
// a key purpose, materializes the Provider Config from that user's
// stored keys.
package keyresolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/pkg/models"
)

// Resolver resolves per-user Provider Configs and EmbeddingModelConfigs
// from a stored-keys table, with prepared statements reused across
// calls (grounded on internal/sessions/cockroach_store.go's
// prepare-on-open pattern).
type Resolver struct {
	db *sql.DB

	stmtProviderKey  *sql.Stmt
	stmtEmbeddingKey *sql.Stmt
	stmtClearDefault *sql.Stmt
	stmtSetDefault   *sql.Stmt
}

// New prepares the resolver's statements on db, which the caller has
// already opened.
func New(db *sql.DB) (*Resolver, error) {
	r := &Resolver{db: db}
	if err := r.prepareStatements(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) prepareStatements() error {
	var err error

	// Prefer the default-flagged active key for the (owner, purpose);
	// fall back to the most recently created active key otherwise.
	r.stmtProviderKey, err = r.db.Prepare(`
		SELECT id, owner, provider, base_url, api_key, default_model, timeout_seconds, is_default, active
		FROM provider_keys
		WHERE owner = $1 AND purpose = 'llm' AND active = true
		ORDER BY is_default DESC, created_at DESC
		LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("prepare provider key query: %w", err)
	}

	r.stmtEmbeddingKey, err = r.db.Prepare(`
		SELECT id, owner, provider, model, base_url, api_key, dimension, collection_name, max_input_tokens, is_default, active
		FROM embedding_keys
		WHERE owner = $1 AND active = true
		ORDER BY is_default DESC, created_at DESC
		LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("prepare embedding key query: %w", err)
	}

	// At most one default key may exist per (owner, provider, purpose).
	// Setting a new default clears the prior one in the same slot within
	// a transaction.
	r.stmtClearDefault, err = r.db.Prepare(`
		UPDATE provider_keys SET is_default = false
		WHERE owner = $1 AND provider = $2 AND purpose = $3 AND is_default = true
	`)
	if err != nil {
		return fmt.Errorf("prepare clear default: %w", err)
	}

	r.stmtSetDefault, err = r.db.Prepare(`
		UPDATE provider_keys SET is_default = true WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare set default: %w", err)
	}

	return nil
}

// Close releases the resolver's prepared statements. It does not close
// the underlying *sql.DB, which callers may share with other stores.
func (r *Resolver) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{r.stmtProviderKey, r.stmtEmbeddingKey, r.stmtClearDefault, r.stmtSetDefault} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveLLM returns the Provider Config for ownerID. A nil ownerID
// yields an empty config, signalling the caller should fall back to
// the system Router.
func (r *Resolver) ResolveLLM(ctx context.Context, ownerID *string) (models.ProviderConfig, bool, error) {
	if ownerID == nil {
		return models.ProviderConfig{}, false, nil
	}
	var cfg models.ProviderConfig
	err := r.stmtProviderKey.QueryRowContext(ctx, *ownerID).Scan(
		&cfg.ID, &cfg.Owner, &cfg.Provider, &cfg.BaseURL, &cfg.APIKey,
		&cfg.DefaultModel, &cfg.TimeoutSeconds, &cfg.Default, &cfg.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProviderConfig{}, false, nil
	}
	if err != nil {
		return models.ProviderConfig{}, false, relayerr.Wrap(relayerr.StoreUnavailable, err, "resolve llm key")
	}
	return cfg, true, nil
}

// ResolveEmbedding returns the EmbeddingModelConfig for ownerID, used by
// the Memory Service for per-user embedding configuration.
func (r *Resolver) ResolveEmbedding(ctx context.Context, ownerID *string) (models.EmbeddingModelConfig, bool, error) {
	if ownerID == nil {
		return models.EmbeddingModelConfig{}, false, nil
	}
	var cfg models.EmbeddingModelConfig
	err := r.stmtEmbeddingKey.QueryRowContext(ctx, *ownerID).Scan(
		&cfg.ID, &cfg.Owner, &cfg.Provider, &cfg.Model, &cfg.BaseURL, &cfg.APIKey,
		&cfg.Dimension, &cfg.CollectionName, &cfg.MaxInputTokens, &cfg.Default, &cfg.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmbeddingModelConfig{}, false, nil
	}
	if err != nil {
		return models.EmbeddingModelConfig{}, false, relayerr.Wrap(relayerr.StoreUnavailable, err, "resolve embedding key")
	}
	return cfg, true, nil
}

// SetDefault marks keyID as the default for (owner, provider, purpose),
// clearing any prior default in the same slot. This is an idempotent
// transition.
func (r *Resolver) SetDefault(ctx context.Context, owner, provider string, purpose models.KeyPurpose, keyID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "begin set-default transaction")
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, r.stmtClearDefault).ExecContext(ctx, owner, provider, string(purpose)); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "clear prior default")
	}
	if _, err := tx.StmtContext(ctx, r.stmtSetDefault).ExecContext(ctx, keyID); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "set new default")
	}
	if err := tx.Commit(); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "commit set-default transaction")
	}
	return nil
}
