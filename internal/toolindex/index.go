// Package toolindex implements the Tool Index: a vector index over Tool
// Descriptors used to narrow the tool list offered to the model on each
// iteration.
package toolindex

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/relayhq/relay/internal/vectorstore"
	"github.com/relayhq/relay/pkg/models"
)

const (
	embedTextMaxChars = 3500
	collectionPrefix  = "agent_tools_index_"
)

// CollectionName derives the Tool Index collection name for a given
// embedding dimension: agent_tools_index_{dim}.
func CollectionName(dim int) string {
	return fmt.Sprintf("%s%d", collectionPrefix, dim)
}

// store is the subset of *vectorstore.Store the Tool Index needs.
type store interface {
	EnsureToolIndexCollection(ctx context.Context, name string, dim int) error
	InsertToolRecord(ctx context.Context, collection string, row vectorstore.ToolRow) error
	DeleteByFilter(ctx context.Context, collection, filter string) error
	Search(ctx context.Context, collection string, vector []float32, k int, filter string, outputFields []string) ([]vectorstore.Hit, error)
}

// Embedder is the subset of *embeddings.Client the Tool Index needs.
// Exported so callers wiring a resolver from outside this package can
// name the return type of their resolver function.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// descriptorSource supplies the registered descriptors; ensurePopulated
// keeps the active ones and adds the built-ins.
type descriptorSource interface {
	All() []models.ToolDescriptor
}

// resolver resolves a user's embedding client; returns ok=false when the
// user has no config and the system has no usable default, so the
// caller can skip the search entirely rather than risk an accidental
// system-key usage.
type resolver func(ctx context.Context, userID *string) (Embedder, int, bool, error)

// Index implements searchRelevantTools over a Vector Store, lazily
// populating each dimension's collection once per process lifetime.
type Index struct {
	store    store
	registry descriptorSource
	resolve  resolver

	mu        sync.Mutex
	populated map[int]bool
}

// New constructs an Index.
func New(st store, registry descriptorSource, resolve resolver) *Index {
	return &Index{store: st, registry: registry, resolve: resolve, populated: make(map[int]bool)}
}

var whitespace = regexp.MustCompile(`\s+`)

// Search returns up to k tool_id values in descending score order for
// query, embedded with userID's resolved embedding client. Returns an
// empty slice (not an error) when the user has no usable embedding
// config, or when the underlying search yields nothing — callers
// degrade to "all tools" on an empty result.
func (idx *Index) Search(ctx context.Context, query string, k int, userID *string) ([]string, error) {
	emb, dim, ok, err := idx.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	collection := CollectionName(dim)
	if err := idx.store.EnsureToolIndexCollection(ctx, collection, dim); err != nil {
		return nil, err
	}
	if err := idx.ensurePopulated(ctx, collection, dim, emb); err != nil {
		return nil, err
	}

	vector, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := idx.store.Search(ctx, collection, vector, k, "", []string{"tool_id"})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if v, ok := h.Fields["tool_id"].(string); ok {
			ids = append(ids, v)
		}
	}
	return ids, nil
}

// ensurePopulated embeds and upserts every built-in plus active
// descriptor into collection, exactly once per dimension per process
// lifetime.
func (idx *Index) ensurePopulated(ctx context.Context, collection string, dim int, emb Embedder) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.populated[dim] {
		return nil
	}

	descriptors := append([]models.ToolDescriptor{}, models.BuiltinToolDescriptors()...)
	for _, d := range idx.registry.All() {
		if d.Active {
			descriptors = append(descriptors, d)
		}
	}

	for _, d := range descriptors {
		text := embedText(d)
		vector, err := emb.Embed(ctx, text)
		if err != nil {
			return err
		}
		if err := idx.store.DeleteByFilter(ctx, collection, fmt.Sprintf("tool_id == %q", d.Name)); err != nil {
			return err
		}
		if err := idx.store.InsertToolRecord(ctx, collection, vectorstore.ToolRow{
			ToolID:      d.Name,
			ToolName:    d.Name,
			Description: d.Description,
			SchemaText:  string(d.ParameterSchema),
			Embedding:   vector,
		}); err != nil {
			return err
		}
	}

	idx.populated[dim] = true
	return nil
}

// embedText renders "{name}\n{description}\n{schema}" truncated to 3500
// chars.
func embedText(d models.ToolDescriptor) string {
	schema := whitespace.ReplaceAllString(string(d.ParameterSchema), " ")
	text := strings.Join([]string{d.Name, d.Description, schema}, "\n")
	runes := []rune(text)
	if len(runes) > embedTextMaxChars {
		return string(runes[:embedTextMaxChars])
	}
	return text
}
