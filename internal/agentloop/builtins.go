package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/relayhq/relay/internal/memory"
	"github.com/relayhq/relay/pkg/models"
)

const (
	defaultRecallTopK = 10
	minRecallTopK      = 1
	maxRecallTopK      = 20
	dedupPrefixLen     = 15
)

// noRelevantMemories is the sentinel recall_memory returns when neither
// the scoped recall nor the broader search finds anything.
const noRelevantMemories = "No relevant memories found."

type recallArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// recallMemory implements the recall_memory built-in: a scoped recall
// that falls back to a broader search when empty.
func (l *Loop) recallMemory(ctx context.Context, session *models.Session, raw json.RawMessage) string {
	var args recallArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "[ToolError] recall_memory: invalid arguments"
	}
	topK := args.TopK
	if topK == 0 {
		topK = defaultRecallTopK
	}
	if topK < minRecallTopK {
		topK = minRecallTopK
	}
	if topK > maxRecallTopK {
		topK = maxRecallTopK
	}

	records, err := l.cfg.Memory.Recall(ctx, args.Query, topK, session.Owner)
	if err != nil {
		return "[ToolError] recall_memory: " + err.Error()
	}
	if len(records) == 0 {
		records, err = l.cfg.Memory.Search(ctx, args.Query, topK, session.Owner)
		if err != nil {
			return "[ToolError] recall_memory: " + err.Error()
		}
	}
	if len(records) == 0 {
		return noRelevantMemories
	}
	return memory.FormatForPrompt(records)
}

type storeArgs struct {
	Content     string  `json:"content"`
	MemoryType  string  `json:"memory_type"`
	Importance  float32 `json:"importance"`
}

const defaultStoreImportance = 0.8

// dedupSet tracks normalized store_memory contents for one run, so the
// same stable fact is never stored twice in a session (
// "Built-in tool semantics"). It is process-local and scoped to a
// single Loop.Run invocation — losing it on restart only risks a
// redundant store, never a missed one.
type dedupSet struct {
	mu        sync.Mutex
	contents  map[string]struct{}
	prefixes  map[string]struct{}
	prefixLen int
}

func newDedupSet(prefixLen int) *dedupSet {
	if prefixLen <= 0 {
		prefixLen = dedupPrefixLen
	}
	return &dedupSet{
		contents:  make(map[string]struct{}),
		prefixes:  make(map[string]struct{}),
		prefixLen: prefixLen,
	}
}

// check returns ("", true) when normalized is new, or an explanatory
// rejection message when it duplicates a prior store.
func (d *dedupSet) check(normalized string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, seen := d.contents[normalized]; seen {
		return "Memory already stored previously; skipping duplicate.", false
	}
	prefix := normalized
	if runes := []rune(normalized); len(runes) > d.prefixLen {
		prefix = string(runes[:d.prefixLen])
	}
	if _, seen := d.prefixes[prefix]; seen {
		return "Already stored similar content.", false
	}
	d.contents[normalized] = struct{}{}
	d.prefixes[prefix] = struct{}{}
	return "", true
}

func normalizeForDedup(content string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(content)))
	return strings.Join(fields, " ")
}

// storeMemory implements the store_memory built-in: dedup against
// everything already stored this run, then persist as a long-term
// memory ("Built-in tool semantics").
func (l *Loop) storeMemory(ctx context.Context, session *models.Session, raw json.RawMessage, dedup *dedupSet) string {
	var args storeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "[ToolError] store_memory: invalid arguments"
	}

	normalized := normalizeForDedup(args.Content)
	if rejection, ok := dedup.check(normalized); !ok {
		return rejection
	}

	memType := models.MemorySemantic
	if args.MemoryType != "" {
		memType = models.MemoryType(args.MemoryType)
	}
	importance := args.Importance
	if importance == 0 {
		importance = defaultStoreImportance
	}

	if err := l.cfg.Memory.Remember(ctx, session.ID, args.Content, memType, importance, session.Owner); err != nil {
		return "[ToolError] store_memory: " + err.Error()
	}
	return "Memory stored successfully."
}
