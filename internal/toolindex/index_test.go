package toolindex

import (
	"context"
	"testing"

	"github.com/relayhq/relay/internal/vectorstore"
	"github.com/relayhq/relay/pkg/models"
)

type fakeToolStore struct {
	rows      map[string][]vectorstore.ToolRow
	deleted   []string
	ensureDim int
}

func newFakeToolStore() *fakeToolStore {
	return &fakeToolStore{rows: make(map[string][]vectorstore.ToolRow)}
}

func (f *fakeToolStore) EnsureToolIndexCollection(ctx context.Context, name string, dim int) error {
	f.ensureDim = dim
	return nil
}

func (f *fakeToolStore) InsertToolRecord(ctx context.Context, collection string, row vectorstore.ToolRow) error {
	f.rows[collection] = append(f.rows[collection], row)
	return nil
}

func (f *fakeToolStore) DeleteByFilter(ctx context.Context, collection, filter string) error {
	f.deleted = append(f.deleted, filter)
	return nil
}

func (f *fakeToolStore) Search(ctx context.Context, collection string, vector []float32, k int, filter string, outputFields []string) ([]vectorstore.Hit, error) {
	hits := make([]vectorstore.Hit, 0, len(f.rows[collection]))
	for i, row := range f.rows[collection] {
		hits = append(hits, vectorstore.Hit{
			ID:     int64(i),
			Score:  1.0 - float32(i)*0.1,
			Fields: map[string]any{"tool_id": row.ToolID},
		})
	}
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

type fakeToolEmbedder struct{}

func (fakeToolEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeRegistry struct{ descriptors []models.ToolDescriptor }

func (f fakeRegistry) All() []models.ToolDescriptor { return f.descriptors }

func alwaysResolves(emb Embedder, dim int) resolver {
	return func(ctx context.Context, userID *string) (Embedder, int, bool, error) {
		return emb, dim, true, nil
	}
}

func TestSearchReturnsEmptyWhenResolverDeclines(t *testing.T) {
	st := newFakeToolStore()
	idx := New(st, fakeRegistry{}, func(ctx context.Context, userID *string) (Embedder, int, bool, error) {
		return nil, 0, false, nil
	})
	ids, err := idx.Search(context.Background(), "query", 12, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}
}

func TestSearchPopulatesOnceThenReusesCache(t *testing.T) {
	st := newFakeToolStore()
	registry := fakeRegistry{descriptors: []models.ToolDescriptor{{Name: "search_web", Description: "searches the web", Active: true}}}
	idx := New(st, registry, alwaysResolves(fakeToolEmbedder{}, 4))

	if _, err := idx.Search(context.Background(), "query", 12, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collection := CollectionName(4)
	firstCount := len(st.rows[collection])
	// built-ins (2) + 1 custom descriptor = 3 rows inserted.
	if firstCount != 3 {
		t.Fatalf("len(rows) = %d, want 3", firstCount)
	}

	if _, err := idx.Search(context.Background(), "query again", 12, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.rows[collection]) != firstCount {
		t.Fatalf("expected no additional inserts on second search, rows = %d", len(st.rows[collection]))
	}
}

func TestSearchReturnsToolIDsInScoreOrder(t *testing.T) {
	st := newFakeToolStore()
	idx := New(st, fakeRegistry{}, alwaysResolves(fakeToolEmbedder{}, 4))

	ids, err := idx.Search(context.Background(), "query", 12, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != models.RecallMemoryTool || ids[1] != models.StoreMemoryTool {
		t.Fatalf("ids = %v, want [%s %s]", ids, models.RecallMemoryTool, models.StoreMemoryTool)
	}
}

func TestCollectionNameFormatsDimension(t *testing.T) {
	if got := CollectionName(1536); got != "agent_tools_index_1536" {
		t.Fatalf("CollectionName(1536) = %q", got)
	}
}
