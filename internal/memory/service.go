// Package memory implements the Memory Service: Vector Store access
// wrapped with per-user embedding resolution.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relayhq/relay/internal/vectorstore"
	"github.com/relayhq/relay/pkg/models"
)

const (
	contentMaxChars   = 4000
	listFetchCap      = 1000
	listMaxLimit      = 100
	defaultRecallTopK = 10
)

var collectionSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// collectionName derives the memories collection name for an embedding
// model: memories_{sanitized_model}_{dim}. Sanitization lower-cases the
// model name, collapses runs of non
// alphanumeric characters to a single underscore, and trims leading and
// trailing underscores.
func collectionName(model string, dim int) string {
	sanitized := collectionSanitizer.ReplaceAllString(strings.ToLower(model), "_")
	sanitized = strings.Trim(sanitized, "_")
	return fmt.Sprintf("memories_%s_%d", sanitized, dim)
}

// store is the subset of *vectorstore.Store the Memory Service needs,
// narrowed to an interface so tests can substitute a fake.
type store interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Insert(ctx context.Context, collection string, row vectorstore.Row) error
	Search(ctx context.Context, collection string, vector []float32, k int, filter string, outputFields []string) ([]vectorstore.Hit, error)
	Query(ctx context.Context, collection, filter string, outputFields []string, offset, limit int) ([]map[string]any, error)
	DeleteByFilter(ctx context.Context, collection, filter string) error
}

// embedder is the subset of *embeddings.Client the service needs.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// chatter is the subset of a Provider Client / Router needed for
// compression's LLM call.
type chatter interface {
	Chat(ctx context.Context, model string, systemAndUserPrompt string) (string, error)
}

// embeddingResolver resolves a user's embedding config.
type embeddingResolver interface {
	ResolveEmbedding(ctx context.Context, ownerID *string) (models.EmbeddingModelConfig, bool, error)
}

// embedderFactory builds an embedder for a resolved config; overridable
// in tests.
type embedderFactory func(models.EmbeddingModelConfig) embedder

// Service implements the Memory Service.
type Service struct {
	store          store
	resolver       embeddingResolver
	newEmbedder    embedderFactory
	systemDefault  models.EmbeddingModelConfig
	recallMinScore float32
}

// Config configures a Service.
type Config struct {
	SystemDefaultEmbedding models.EmbeddingModelConfig
	// RecallMinScore suppresses recall hits scoring below this
	// threshold (default 0.0).
	RecallMinScore float32
}

// New constructs a Memory Service.
func New(st store, resolver embeddingResolver, newEmbedder embedderFactory, cfg Config) *Service {
	return &Service{
		store:          st,
		resolver:       resolver,
		newEmbedder:    newEmbedder,
		systemDefault:  cfg.SystemDefaultEmbedding,
		recallMinScore: cfg.RecallMinScore,
	}
}

// resolvedEmbedder returns the embedder and target collection for
// ownerID, falling back to the system default embedding config when
// the user has none.
func (s *Service) resolvedEmbedder(ctx context.Context, ownerID *string) (embedder, string, int, error) {
	cfg := s.systemDefault
	if ownerID != nil {
		userCfg, ok, err := s.resolver.ResolveEmbedding(ctx, ownerID)
		if err != nil {
			return nil, "", 0, err
		}
		if ok {
			cfg = userCfg
		}
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = collectionName(cfg.Model, cfg.Dimension)
	}
	emb := s.newEmbedder(cfg)
	return emb, collection, cfg.Dimension, nil
}

const recordOutputFields0 = "session_id,content,memory_type,importance,create_time_ms"

var recordOutputFields = strings.Split(recordOutputFields0, ",")

// Remember embeds content and inserts a row. content is truncated to
// 4000 chars before storage.
func (s *Service) Remember(ctx context.Context, sessionID, content string, memType models.MemoryType, importance float32, ownerID *string) error {
	emb, collection, dim, err := s.resolvedEmbedder(ctx, ownerID)
	if err != nil {
		return err
	}
	truncated := truncate(content, contentMaxChars)
	vector, err := emb.Embed(ctx, truncated)
	if err != nil {
		return err
	}
	if err := s.store.EnsureCollection(ctx, collection, dim); err != nil {
		return err
	}
	return s.store.Insert(ctx, collection, vectorstore.Row{
		SessionID:    sessionID,
		Content:      truncated,
		MemoryType:   string(memType),
		Importance:   importance,
		CreateTimeMs: time.Now().UnixMilli(),
		Embedding:    vector,
	})
}

// Recall embeds query, searches the resolved collection, and returns
// records sorted by descending score, suppressing hits below
// recallMinScore.
func (s *Service) Recall(ctx context.Context, query string, k int, ownerID *string) ([]models.MemoryRecord, error) {
	return s.searchFiltered(ctx, query, k, "", ownerID, s.recallMinScore)
}

// RecallFromSession is Recall scoped to one session via a session_id
// filter.
func (s *Service) RecallFromSession(ctx context.Context, query, sessionID string, k int, ownerID *string) ([]models.MemoryRecord, error) {
	filter := fmt.Sprintf("session_id == %q", sessionID)
	return s.searchFiltered(ctx, query, k, filter, ownerID, s.recallMinScore)
}

// Search is like Recall but applies no score threshold (browse-oriented
// shape).
func (s *Service) Search(ctx context.Context, query string, k int, ownerID *string) ([]models.MemoryRecord, error) {
	return s.searchFiltered(ctx, query, k, "", ownerID, 0)
}

func (s *Service) searchFiltered(ctx context.Context, query string, k int, filter string, ownerID *string, minScore float32) ([]models.MemoryRecord, error) {
	emb, collection, dim, err := s.resolvedEmbedder(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	vector, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := s.store.EnsureCollection(ctx, collection, dim); err != nil {
		return nil, err
	}
	hits, err := s.store.Search(ctx, collection, vector, k, filter, recordOutputFields)
	if err != nil {
		return nil, err
	}
	records := make([]models.MemoryRecord, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		records = append(records, recordFromHit(h))
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Score > records[j].Score })
	return records, nil
}

// List runs a scalar query with a filter built from non-null
// parameters; keyword uses substring match. Returns at most
// min(limit, 100) items, sorted by create_time_ms descending in memory.
func (s *Service) List(ctx context.Context, memType *models.MemoryType, session *string, keyword *string, offset, limit int, ownerID *string) ([]models.MemoryRecord, error) {
	_, collection, dim, err := s.resolvedEmbedder(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.store.EnsureCollection(ctx, collection, dim); err != nil {
		return nil, err
	}
	filter := buildFilter(memType, session, keyword)
	rows, err := s.store.Query(ctx, collection, filter, recordOutputFields, 0, listFetchCap)
	if err != nil {
		return nil, err
	}
	records := make([]models.MemoryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreateTimeMs > records[j].CreateTimeMs })

	if limit > listMaxLimit {
		limit = listMaxLimit
	}
	if limit <= 0 {
		limit = listMaxLimit
	}
	start := offset
	if start > len(records) {
		start = len(records)
	}
	end := start + limit
	if end > len(records) {
		end = len(records)
	}
	return records[start:end], nil
}

// Count returns the number of memories matching the same filter List
// uses.
func (s *Service) Count(ctx context.Context, memType *models.MemoryType, session *string, ownerID *string) (int64, error) {
	_, collection, dim, err := s.resolvedEmbedder(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if err := s.store.EnsureCollection(ctx, collection, dim); err != nil {
		return 0, err
	}
	filter := buildFilter(memType, session, nil)
	rows, err := s.store.Query(ctx, collection, filter, []string{"create_time_ms"}, 0, listFetchCap)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// DeleteByID removes a single memory.
func (s *Service) DeleteByID(ctx context.Context, id string, ownerID *string) error {
	_, collection, _, err := s.resolvedEmbedder(ctx, ownerID)
	if err != nil {
		return err
	}
	return s.store.DeleteByFilter(ctx, collection, fmt.Sprintf("id == %s", id))
}

// DeleteBySession removes every memory in sessionID.
func (s *Service) DeleteBySession(ctx context.Context, sessionID string, ownerID *string) error {
	_, collection, _, err := s.resolvedEmbedder(ctx, ownerID)
	if err != nil {
		return err
	}
	return s.store.DeleteByFilter(ctx, collection, fmt.Sprintf("session_id == %q", sessionID))
}

// DeleteByType removes every memory of memType.
func (s *Service) DeleteByType(ctx context.Context, memType models.MemoryType, ownerID *string) error {
	_, collection, _, err := s.resolvedEmbedder(ctx, ownerID)
	if err != nil {
		return err
	}
	return s.store.DeleteByFilter(ctx, collection, fmt.Sprintf("memory_type == %q", string(memType)))
}

// FormatForPrompt renders records as a bulleted block for prompt
// injection.
func FormatForPrompt(records []models.MemoryRecord) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memories from past experience:\n")
	for _, r := range records {
		b.WriteString("- ")
		b.WriteString(r.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func buildFilter(memType *models.MemoryType, session *string, keyword *string) string {
	var clauses []string
	if memType != nil {
		clauses = append(clauses, fmt.Sprintf("memory_type == %q", string(*memType)))
	}
	if session != nil {
		clauses = append(clauses, fmt.Sprintf("session_id == %q", *session))
	}
	if keyword != nil && *keyword != "" {
		clauses = append(clauses, fmt.Sprintf("content like %q", "%"+*keyword+"%"))
	}
	return strings.Join(clauses, " and ")
}

func recordFromHit(h vectorstore.Hit) models.MemoryRecord {
	r := recordFromRow(h.Fields)
	r.ID = strconv.FormatInt(h.ID, 10)
	r.Score = h.Score
	return r
}

func recordFromRow(row map[string]any) models.MemoryRecord {
	r := models.MemoryRecord{}
	if v, ok := row["session_id"].(string); ok {
		r.SessionID = v
	}
	if v, ok := row["content"].(string); ok {
		r.Content = v
	}
	if v, ok := row["memory_type"].(string); ok {
		r.Type = models.MemoryType(v)
	}
	if v, ok := row["importance"].(float32); ok {
		r.Importance = v
	}
	switch v := row["create_time_ms"].(type) {
	case int64:
		r.CreateTimeMs = v
	case int:
		r.CreateTimeMs = int64(v)
	}
	return r
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
