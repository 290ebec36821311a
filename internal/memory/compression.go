package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/pkg/models"
)

const compressionListLimit = 200

var (
	openingFence = regexp.MustCompile("^```(?:json)?\\s*\\n?")
	closingFence = regexp.MustCompile("\\n?```\\s*$")
)

// stripCodeFence removes a surrounding markdown code fence, mirroring
// the default JSON-extraction transform pattern used elsewhere in the
// corpus for LLM responses that wrap JSON in ```json blocks.
func stripCodeFence(text string) string {
	text = openingFence.ReplaceAllString(text, "")
	text = closingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ProposedMemory is one compressed-memory candidate the LLM proposed.
type ProposedMemory struct {
	Content    string            `json:"content"`
	MemoryType models.MemoryType `json:"memory_type"`
	Importance float32           `json:"importance"`
}

// CompressionProposal pairs the current memory set with the LLM's
// proposed replacement for human confirmation.
type CompressionProposal struct {
	Current  []models.MemoryRecord
	Proposed []ProposedMemory
}

const compressionPrompt = `You are compressing a user's long-term memory store. Below are up to 200 stored memories. Merge redundant or overlapping entries, drop anything no longer useful, and return a compact replacement set.

Respond with ONLY a JSON array of objects, each shaped exactly as {"content": string, "memory_type": "EPISODIC"|"SEMANTIC"|"PROCEDURAL", "importance": number between 0 and 1}. No prose, no markdown fence.

Memories:
%s`

// PrepareCompression lists up to 200 of ownerID's memories and asks
// their default LLM for a merged replacement set. Returns an empty
// proposal if the user has no memories.
func (s *Service) PrepareCompression(ctx context.Context, ownerID *string, chat chatter, model string) (CompressionProposal, error) {
	current, err := s.List(ctx, nil, nil, nil, 0, compressionListLimit, ownerID)
	if err != nil {
		return CompressionProposal{}, err
	}
	if len(current) == 0 {
		return CompressionProposal{}, nil
	}

	var listing strings.Builder
	for i, m := range current {
		fmt.Fprintf(&listing, "%d. [%s] %s\n", i+1, m.Type, m.Content)
	}

	raw, err := chat.Chat(ctx, model, fmt.Sprintf(compressionPrompt, listing.String()))
	if err != nil {
		return CompressionProposal{}, err
	}
	cleaned := stripCodeFence(raw)

	var proposed []ProposedMemory
	if err := json.Unmarshal([]byte(cleaned), &proposed); err != nil {
		return CompressionProposal{}, relayerr.Wrap(relayerr.ProtocolError, err, "parse compression proposal")
	}

	return CompressionProposal{Current: current, Proposed: proposed}, nil
}

// ExecuteCompression deletes each id in deleteIDs and inserts each new
// memory under the synthetic session id "compressed". The operation is
// not atomic across the two steps; callers tolerate partial success.
func (s *Service) ExecuteCompression(ctx context.Context, ownerID *string, deleteIDs []string, newMemories []ProposedMemory) error {
	for _, id := range deleteIDs {
		if err := s.DeleteByID(ctx, id, ownerID); err != nil {
			return err
		}
	}
	for _, m := range newMemories {
		if err := s.Remember(ctx, models.SyntheticSessionCompressed, m.Content, m.MemoryType, m.Importance, ownerID); err != nil {
			return err
		}
	}
	return nil
}
