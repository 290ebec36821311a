package models

// MemoryType classifies a MemoryRecord.
type MemoryType string

const (
	MemoryEpisodic   MemoryType = "EPISODIC"
	MemorySemantic   MemoryType = "SEMANTIC"
	MemoryProcedural MemoryType = "PROCEDURAL"
)

// MemoryRecord is a single long-term memory row. Collection routing is
// memories_{sanitized_model}_{dim}; a record's Vector length must equal
// that collection's declared dimension (Testable Property 3).
type MemoryRecord struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	SessionID   string     `json:"session_id"`
	Content     string     `json:"content"`
	Type        MemoryType `json:"type"`
	Importance  float32    `json:"importance"`
	CreateTimeMs int64     `json:"create_time_ms"`
	Vector      []float32  `json:"-"`
	Score       float32    `json:"score,omitempty"`
}

// SyntheticSessionManual marks memories inserted outside any session
// (e.g. through a direct management surface).
const SyntheticSessionManual = "manual"

// SyntheticSessionCompressed marks memories inserted by compression.
const SyntheticSessionCompressed = "compressed"

// EmbeddingModelConfig describes an embedding endpoint and the
// collection its vectors route to.
type EmbeddingModelConfig struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"-"`
	Dimension      int    `json:"dimension"`
	CollectionName string `json:"collection_name"`
	MaxInputTokens int    `json:"max_input_tokens"`
	Default        bool   `json:"default"`
	Active         bool   `json:"active"`
}

// ProviderConfig describes an LLM chat endpoint.
type ProviderConfig struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Provider       string `json:"provider"`
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"-"`
	DefaultModel   string `json:"default_model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Default        bool   `json:"default"`
	Active         bool   `json:"active"`
}

// KeyPurpose distinguishes which kind of provider config a credential
// slot holds.
type KeyPurpose string

const (
	PurposeLLM       KeyPurpose = "llm"
	PurposeEmbedding KeyPurpose = "embedding"
)
