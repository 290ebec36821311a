package vectorstore

import (
	"testing"

	"github.com/milvus-io/milvus/client/v2/column"
)

func TestIDsFilterFormatsInClause(t *testing.T) {
	got := idsFilter([]int64{1, 2, 3})
	want := "id in [1,2,3]"
	if got != want {
		t.Fatalf("idsFilter = %q, want %q", got, want)
	}
}

func TestIDsFilterSingleID(t *testing.T) {
	got := idsFilter([]int64{42})
	want := "id in [42]"
	if got != want {
		t.Fatalf("idsFilter = %q, want %q", got, want)
	}
}

func TestRowFromColumnsExtractsNamedFields(t *testing.T) {
	cols := []column.Column{
		column.NewColumnVarChar("content", []string{"hello", "world"}),
		column.NewColumnInt64("create_time_ms", []int64{100, 200}),
	}
	row := rowFromColumns(cols, []string{"content", "create_time_ms"}, 1)
	if row["content"] != "world" {
		t.Fatalf("content = %v, want world", row["content"])
	}
	if row["create_time_ms"] != int64(200) {
		t.Fatalf("create_time_ms = %v, want 200", row["create_time_ms"])
	}
}

func TestNewColumnDataRejectsUnsupportedType(t *testing.T) {
	_, err := newColumnData("bad", 42)
	if err == nil {
		t.Fatal("expected error for unsupported column type")
	}
}

func TestNewColumnDataBuildsVarChar(t *testing.T) {
	col, err := newColumnData("session_id", []string{"s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if col.Name() != "session_id" {
		t.Fatalf("Name() = %q, want session_id", col.Name())
	}
}
