package providers

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func intPtr(i int) *int { return &i }

func TestToolCallAccumulatorsAssembleAcrossFrames(t *testing.T) {
	acc := newToolCallAccumulators()
	acc.apply(openai.ToolCall{Index: intPtr(0), ID: "c1", Type: "function", Function: openai.FunctionCall{Name: "store_memory"}})
	acc.apply(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `{"cont`}})
	acc.apply(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `ent":"x"}`}})

	calls := acc.toolCalls()
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	call := calls[0]
	if call.ID != "c1" || call.Type != "function" || call.Function.Name != "store_memory" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if call.Function.Arguments != `{"content":"x"}` {
		t.Fatalf("arguments = %q, want %q", call.Function.Arguments, `{"content":"x"}`)
	}
}

func TestToolCallAccumulatorsAscendingIndexOrder(t *testing.T) {
	acc := newToolCallAccumulators()
	acc.apply(openai.ToolCall{Index: intPtr(1), ID: "c2", Function: openai.FunctionCall{Name: "second"}})
	acc.apply(openai.ToolCall{Index: intPtr(0), ID: "c1", Function: openai.FunctionCall{Name: "first"}})

	calls := acc.toolCalls()
	if len(calls) != 2 || calls[0].Function.Name != "first" || calls[1].Function.Name != "second" {
		t.Fatalf("unexpected order: %+v", calls)
	}
}

func TestToolCallAccumulatorsEmptyWhenNoDeltas(t *testing.T) {
	acc := newToolCallAccumulators()
	if calls := acc.toolCalls(); calls != nil {
		t.Fatalf("expected nil, got %+v", calls)
	}
}
