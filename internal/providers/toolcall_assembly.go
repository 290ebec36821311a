package providers

import (
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relayhq/relay/pkg/models"
)

// toolCallAccumulators groups streamed tool-call deltas by their integer
// index, appending partial `arguments` JSON strings across frames
// (assembly rules).
type toolCallAccumulators struct {
	order []int
	byIdx map[int]*accumulator
}

type accumulator struct {
	id        string
	toolType  string
	name      string
	arguments string
}

func newToolCallAccumulators() *toolCallAccumulators {
	return &toolCallAccumulators{byIdx: make(map[int]*accumulator)}
}

func (a *toolCallAccumulators) apply(delta openai.ToolCall) {
	index := 0
	if delta.Index != nil {
		index = *delta.Index
	}
	acc, ok := a.byIdx[index]
	if !ok {
		acc = &accumulator{}
		a.byIdx[index] = acc
		a.order = append(a.order, index)
	}
	if acc.id == "" && delta.ID != "" {
		acc.id = delta.ID
	}
	if acc.toolType == "" && delta.Type != "" {
		acc.toolType = string(delta.Type)
	}
	if acc.name == "" && delta.Function.Name != "" {
		acc.name = delta.Function.Name
	}
	if delta.Function.Arguments != "" {
		acc.arguments += delta.Function.Arguments
	}
}

// toolCalls returns the assembled tool calls in ascending index order.
// Returns nil if no accumulator exists (content-only response).
func (a *toolCallAccumulators) toolCalls() []models.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	indices := append([]int(nil), a.order...)
	sort.Ints(indices)

	calls := make([]models.ToolCall, 0, len(indices))
	for _, idx := range indices {
		acc := a.byIdx[idx]
		toolType := acc.toolType
		if toolType == "" {
			toolType = "function"
		}
		calls = append(calls, models.ToolCall{
			ID:   acc.id,
			Type: toolType,
			Function: models.ToolCallFunction{
				Name:      acc.name,
				Arguments: acc.arguments,
			},
		})
	}
	return calls
}
