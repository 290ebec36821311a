package models

import "encoding/json"

// ToolKind tags how a ToolDescriptor is executed.
type ToolKind string

const (
	ToolKindNative ToolKind = "native"
	ToolKindPython ToolKind = "python"
	ToolKindNode   ToolKind = "node"
	ToolKindShell  ToolKind = "shell"
)

// ToolDescriptor is a catalog entry for a tool the model may call.
// The two built-in tools (recall_memory, store_memory) are never stored
// here — they are synthesized by the registry on every load.
type ToolDescriptor struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ParameterSchema json.RawMessage `json:"parameter_schema"`
	Kind            ToolKind        `json:"kind"`
	ScriptPayload   string          `json:"script_payload,omitempty"`
	EntryPoint      string          `json:"entry_point,omitempty"`
	Active          bool            `json:"active"`
}

// LLMTool is the wire shape a ToolDescriptor is rendered to when sent to
// the provider as part of a CompletionRequest's tool list.
type LLMTool struct {
	Type     string      `json:"type"` // always "function"
	Function LLMFunction `json:"function"`
}

// LLMFunction is the function half of an LLMTool.
type LLMFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// AsLLMTool renders the descriptor as the wire shape sent to the model.
func (d ToolDescriptor) AsLLMTool() LLMTool {
	return LLMTool{
		Type: "function",
		Function: LLMFunction{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.ParameterSchema,
		},
	}
}

const (
	// RecallMemoryTool and StoreMemoryTool are the stable names of the
	// two always-present built-in tools.
	RecallMemoryTool = "recall_memory"
	StoreMemoryTool  = "store_memory"
)

// RecallMemorySchema is the verbatim JSON Schema for recall_memory.
const RecallMemorySchema = `{"type":"object","properties":{
  "query":{"type":"string"},
  "top_k":{"type":"integer","minimum":1,"maximum":20}},
  "required":["query"]}`

// StoreMemorySchema is the verbatim JSON Schema for store_memory.
const StoreMemorySchema = `{"type":"object","properties":{
  "content":{"type":"string"},
  "memory_type":{"type":"string","enum":["EPISODIC","SEMANTIC","PROCEDURAL"]},
  "importance":{"type":"number","minimum":0,"maximum":1}},
  "required":["content"]}`

// BuiltinToolDescriptors returns the two always-present tool descriptors
// in the fixed order they are injected into every load.
func BuiltinToolDescriptors() []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:            RecallMemoryTool,
			Description:     "Search the user's long-term memory for relevant prior facts.",
			ParameterSchema: json.RawMessage(RecallMemorySchema),
			Kind:            ToolKindNative,
			Active:          true,
		},
		{
			Name:            StoreMemoryTool,
			Description:     "Persist a stable, long-term fact to the user's memory.",
			ParameterSchema: json.RawMessage(StoreMemorySchema),
			Kind:            ToolKindNative,
			Active:          true,
		},
	}
}
