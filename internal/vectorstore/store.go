// Package vectorstore implements the Vector Store: an ANN-capable
// vector database abstraction with scalar filtering, backed by Milvus.
package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/relayhq/relay/internal/relayerr"
)

// Row is one record to insert: scalar fields plus a dense vector.
type Row struct {
	SessionID    string
	Content      string
	MemoryType   string
	Importance   float32
	CreateTimeMs int64
	Embedding    []float32
}

// Hit is one search result: the Milvus-assigned primary id, its score,
// and whatever output fields were requested.
type Hit struct {
	ID     int64
	Score  float32
	Fields map[string]any
}

// Store wraps a Milvus client and tracks which collections have
// already been created, so ensureCollection stays idempotent without a
// round trip on every call ("Cache name → exists").
type Store struct {
	client *milvusclient.Client

	mu          sync.Mutex
	existsCache map[string]bool
}

// New connects to the Milvus instance at address.
func New(ctx context.Context, address string) (*Store, error) {
	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: address})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StoreUnavailable, err, "connect to milvus")
	}
	return &Store{client: client, existsCache: make(map[string]bool)}, nil
}

// Close releases the underlying Milvus connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// EnsureCollection creates the memory collection with the schema from
// — {id auto-PK, session_id, content, memory_type,
// importance, create_time_ms, embedding}, an HNSW/IP index on
// embedding, and a trie index on session_id — idempotently.
func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	if s.cached(name) {
		return nil
	}

	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "check collection existence")
	}
	if exists {
		s.setCached(name)
		return nil
	}

	schema := entity.NewSchema().WithName(name).WithDynamicFieldEnabled(false).
		WithField(entity.NewField().WithName("id").WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true)).
		WithField(entity.NewField().WithName("session_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName("content").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096)).
		WithField(entity.NewField().WithName("memory_type").WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
		WithField(entity.NewField().WithName("importance").WithDataType(entity.FieldTypeFloat)).
		WithField(entity.NewField().WithName("create_time_ms").WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName("embedding").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))

	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "create collection")
	}

	hnsw := index.NewHNSWIndex(entity.IP, 16, 64)
	if _, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, "embedding", hnsw)); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "create embedding index")
	}
	trie := index.NewTrieIndex()
	if _, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, "session_id", trie)); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "create session_id index")
	}
	if err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name)); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "load collection")
	}

	s.setCached(name)
	return nil
}

// toolIndexField{PK, name, description, schema_text, embedding}.
const (
	toolIDField          = "tool_id"
	toolNameField        = "tool_name"
	toolDescriptionField = "description"
	toolSchemaTextField  = "schema_text"
	toolEmbeddingField   = "embedding"
)

// EnsureToolIndexCollection creates the Tool Index's collection:
// {tool_id PK, tool_name, description, schema_text, embedding}.
func (s *Store) EnsureToolIndexCollection(ctx context.Context, name string, dim int) error {
	if s.cached(name) {
		return nil
	}
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "check tool-index collection existence")
	}
	if exists {
		s.setCached(name)
		return nil
	}

	schema := entity.NewSchema().WithName(name).WithDynamicFieldEnabled(false).
		WithField(entity.NewField().WithName(toolIDField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(toolNameField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(256)).
		WithField(entity.NewField().WithName(toolDescriptionField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(2048)).
		WithField(entity.NewField().WithName(toolSchemaTextField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192)).
		WithField(entity.NewField().WithName(toolEmbeddingField).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))

	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "create tool-index collection")
	}
	hnsw := index.NewHNSWIndex(entity.IP, 16, 64)
	if _, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, toolEmbeddingField, hnsw)); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "create tool-index embedding index")
	}
	if err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name)); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "load tool-index collection")
	}

	s.setCached(name)
	return nil
}

func (s *Store) cached(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsCache[name]
}

func (s *Store) setCached(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existsCache[name] = true
}

// Insert stores one row's scalar fields and dense vector.
func (s *Store) Insert(ctx context.Context, collection string, row Row) error {
	cols := []column{
		{"session_id", []string{row.SessionID}},
		{"content", []string{row.Content}},
		{"memory_type", []string{row.MemoryType}},
		{"importance", []float32{row.Importance}},
		{"create_time_ms", []int64{row.CreateTimeMs}},
		{"embedding", [][]float32{row.Embedding}},
	}
	opt := milvusclient.NewColumnBasedInsertOption(collection)
	for _, c := range cols {
		col, err := newColumnData(c.name, c.values)
		if err != nil {
			return relayerr.Wrap(relayerr.Internal, err, "build insert column")
		}
		opt = opt.WithColumns(col)
	}
	if _, err := s.client.Insert(ctx, opt); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "insert row")
	}
	return nil
}

type column struct {
	name   string
	values any
}

// ToolRow is one Tool Index record: a tool descriptor's identity plus
// its dense embedding.
type ToolRow struct {
	ToolID      string
	ToolName    string
	Description string
	SchemaText  string
	Embedding   []float32
}

// InsertToolRecord stores one Tool Index row. Callers implement the
// spec's upsert semantics (delete-then-insert) by calling DeleteByIDs
// or DeleteByFilter on tool_id before inserting.
func (s *Store) InsertToolRecord(ctx context.Context, collection string, row ToolRow) error {
	cols := []column{
		{toolIDField, []string{row.ToolID}},
		{toolNameField, []string{row.ToolName}},
		{toolDescriptionField, []string{row.Description}},
		{toolSchemaTextField, []string{row.SchemaText}},
		{toolEmbeddingField, [][]float32{row.Embedding}},
	}
	opt := milvusclient.NewColumnBasedInsertOption(collection)
	for _, c := range cols {
		col, err := newColumnData(c.name, c.values)
		if err != nil {
			return relayerr.Wrap(relayerr.Internal, err, "build tool-index insert column")
		}
		opt = opt.WithColumns(col)
	}
	if _, err := s.client.Insert(ctx, opt); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "insert tool-index row")
	}
	return nil
}

// Search returns up to k hits ordered by inner-product score,
// restricted by an optional filter expression (filter
// grammar).
func (s *Store) Search(ctx context.Context, collection string, vector []float32, k int, filter string, outputFields []string) ([]Hit, error) {
	opt := milvusclient.NewSearchOption(collection, k, []entity.Vector{entity.FloatVector(vector)}).
		WithOutputFields(outputFields...)
	if filter != "" {
		opt = opt.WithFilter(filter)
	}
	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StoreUnavailable, err, "search")
	}
	var hits []Hit
	for _, r := range results {
		for i := 0; i < r.ResultCount; i++ {
			id, _ := r.IDs.GetAsInt64(i)
			hits = append(hits, Hit{
				ID:     id,
				Score:  r.Scores[i],
				Fields: rowFromColumns(r.Fields, outputFields, i),
			})
		}
	}
	return hits, nil
}

// rowFromColumns extracts row i of the named fields from a column set
// returned by Search/Query into a plain map.
func rowFromColumns(cols []column.Column, names []string, row int) map[string]any {
	byName := make(map[string]column.Column, len(cols))
	for _, c := range cols {
		byName[c.Name()] = c
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		if c, ok := byName[name]; ok {
			v, err := c.Get(row)
			if err == nil {
				out[name] = v
			}
		}
	}
	return out
}

// Query performs a scalar-only filtered read, without a vector.
func (s *Store) Query(ctx context.Context, collection, filter string, outputFields []string, offset, limit int) ([]map[string]any, error) {
	opt := milvusclient.NewQueryOption(collection).
		WithFilter(filter).
		WithOutputFields(outputFields...).
		WithOffset(offset).
		WithLimit(limit)
	cols, err := s.client.Query(ctx, opt)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StoreUnavailable, err, "query")
	}
	rowCount := 0
	if len(cols) > 0 {
		rowCount = cols[0].Len()
	}
	rows := make([]map[string]any, 0, rowCount)
	for i := 0; i < rowCount; i++ {
		rows = append(rows, rowFromColumns(cols, outputFields, i))
	}
	return rows, nil
}

// DeleteByIDs removes rows by primary id.
func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []int64) error {
	expr := idsFilter(ids)
	return s.deleteByFilter(ctx, collection, expr)
}

// DeleteByFilter removes rows matching a scalar filter expression.
func (s *Store) DeleteByFilter(ctx context.Context, collection, filter string) error {
	return s.deleteByFilter(ctx, collection, filter)
}

func (s *Store) deleteByFilter(ctx context.Context, collection, filter string) error {
	opt := milvusclient.NewDeleteOption(collection).WithExpr(filter)
	if _, err := s.client.Delete(ctx, opt); err != nil {
		return relayerr.Wrap(relayerr.StoreUnavailable, err, "delete")
	}
	return nil
}

func idsFilter(ids []int64) string {
	expr := "id in ["
	for i, id := range ids {
		if i > 0 {
			expr += ","
		}
		expr += fmt.Sprintf("%d", id)
	}
	expr += "]"
	return expr
}

func newColumnData(name string, values any) (column.Column, error) {
	switch v := values.(type) {
	case []string:
		return column.NewColumnVarChar(name, v), nil
	case []float32:
		return column.NewColumnFloat(name, v), nil
	case []int64:
		return column.NewColumnInt64(name, v), nil
	case [][]float32:
		return column.NewColumnFloatVector(name, len(v[0]), v), nil
	default:
		return nil, fmt.Errorf("unsupported column type for %s: %T", name, values)
	}
}
