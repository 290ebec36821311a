package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relayhq/relay/internal/config"
	"github.com/relayhq/relay/internal/jobs"
	"github.com/relayhq/relay/internal/sessions"
	"github.com/relayhq/relay/pkg/models"
)

func runSessionsCreate(cmd *cobra.Command, configPath, task, owner string, enqueue bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := sessions.NewCockroachStore(cfg.Database.ToCockroachConfig())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	session := &models.Session{
		ID:              uuid.NewString(),
		TaskDescription: task,
		Status:          models.SessionPending,
		Version:         1,
	}
	if owner != "" {
		session.Owner = &owner
	}

	ctx := cmd.Context()
	if err := store.Create(ctx, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if enqueue {
		jobStore, err := jobs.NewCockroachStoreFromDSN(sessions.DSN(cfg.Database.ToCockroachConfig()), cfg.Jobs.ToCockroachConfig())
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		defer jobStore.Close()
		job := &jobs.Job{ID: uuid.NewString(), SessionID: session.ID, Status: jobs.StatusQueued, CreatedAt: time.Now()}
		if err := jobStore.Create(ctx, job); err != nil {
			return fmt.Errorf("enqueue session: %w", err)
		}
	}

	return printSession(cmd, session)
}

func runSessionsGet(cmd *cobra.Command, configPath, id string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := sessions.NewCockroachStore(cfg.Database.ToCockroachConfig())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	session, err := store.Get(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	return printSession(cmd, session)
}

func runSessionsPause(cmd *cobra.Command, configPath, id string) error {
	return transitionSession(cmd, configPath, id, func(session *models.Session) error {
		if session.Status.IsTerminal() {
			return fmt.Errorf("session %s is already %s", session.ID, session.Status)
		}
		session.Status = models.SessionPaused
		return nil
	})
}

func runSessionsResume(cmd *cobra.Command, configPath, id string) error {
	return transitionSession(cmd, configPath, id, func(session *models.Session) error {
		if session.Status != models.SessionPaused {
			return fmt.Errorf("session %s is not paused (status %s)", session.ID, session.Status)
		}
		session.Status = models.SessionRunning
		return nil
	})
}

func runSessionsAbort(cmd *cobra.Command, configPath, id, reason string) error {
	return transitionSession(cmd, configPath, id, func(session *models.Session) error {
		session.Status = models.SessionFailed
		session.ErrorMessage = reason
		return nil
	})
}

// transitionSession loads id, applies mutate and saves it back with
// retry-on-version-conflict (internal/sessions.UpdateWithRetry).
func transitionSession(cmd *cobra.Command, configPath, id string, mutate sessions.MutateFn) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := sessions.NewCockroachStore(cfg.Database.ToCockroachConfig())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	session, err := sessions.UpdateWithRetry(cmd.Context(), store, id, mutate)
	if err != nil {
		return err
	}
	return printSession(cmd, session)
}

func printSession(cmd *cobra.Command, session *models.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
