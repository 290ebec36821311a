// Package contextstore implements the Context Store: the ordered
// message list for a session, persisted as a JSON blob on the session
// row.
package contextstore

import (
	"context"
	"encoding/json"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/internal/sessions"
	"github.com/relayhq/relay/pkg/models"
)

// defaultMaxMessages is N in the trim rule: if the list exceeds this
// size, the first message is preserved only if it is role=system, then
// the most recent messages are kept so the list is ≤ N.
const defaultMaxMessages = 50

// Store loads, initializes, and appends to a session's message list.
type Store struct {
	sessions sessions.Store
	maxMsgs  int
}

// New returns a Store backed by sessionStore. maxMessages overrides the
// default trim threshold when positive.
func New(sessionStore sessions.Store, maxMessages int) *Store {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &Store{sessions: sessionStore, maxMsgs: maxMessages}
}

// Load deserializes session.Context. An empty or absent blob yields an
// empty slice, never an error.
func (s *Store) Load(session *models.Session) ([]models.Message, error) {
	if session.Context == "" {
		return nil, nil
	}
	var messages []models.Message
	if err := json.Unmarshal([]byte(session.Context), &messages); err != nil {
		return nil, relayerr.Wrap(relayerr.Internal, err, "decode session context")
	}
	return messages, nil
}

// Initialize replaces the session's message list with messages (trimmed)
// and persists it, reloading the row by id first to honor the
// optimistic-version contract.
func (s *Store) Initialize(ctx context.Context, sessionID string, messages []models.Message) error {
	_, err := sessions.UpdateWithRetry(ctx, s.sessions, sessionID, func(session *models.Session) error {
		return s.setContext(session, trim(messages, s.maxMsgs))
	})
	return err
}

// Append loads the session's current list, appends additions in order,
// trims, and persists — reloading the session row by primary id (not
// any stale reference the caller may be holding) before saving.
func (s *Store) Append(ctx context.Context, sessionID string, additions ...models.Message) error {
	if len(additions) == 0 {
		return nil
	}
	_, err := sessions.UpdateWithRetry(ctx, s.sessions, sessionID, func(session *models.Session) error {
		current, err := s.Load(session)
		if err != nil {
			return err
		}
		merged := append(append([]models.Message{}, current...), additions...)
		return s.setContext(session, trim(merged, s.maxMsgs))
	})
	return err
}

func (s *Store) setContext(session *models.Session, messages []models.Message) error {
	if messages == nil {
		messages = []models.Message{}
	}
	blob, err := json.Marshal(messages)
	if err != nil {
		return relayerr.Wrap(relayerr.Internal, err, "encode session context")
	}
	session.Context = string(blob)
	return nil
}

// trim applies the Context Store's count-based trim rule: if len(messages)
// is within max, it is returned unchanged; otherwise the first message is
// preserved only when it has role=system, and the most recent messages
// fill out the remainder so the result has exactly max entries.
func trim(messages []models.Message, max int) []models.Message {
	if len(messages) <= max {
		return messages
	}
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		tail := messages[len(messages)-(max-1):]
		out := make([]models.Message, 0, max)
		out = append(out, messages[0])
		out = append(out, tail...)
		return out
	}
	return messages[len(messages)-max:]
}
