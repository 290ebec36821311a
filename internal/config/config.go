// Package config implements Relay's layered configuration: defaults,
// then a YAML (or JSON5, via $include-resolved loader.go) file, then
// environment variables, decoded with strict unknown-field rejection.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relayhq/relay/internal/jobs"
	"github.com/relayhq/relay/internal/sessions"
	"github.com/relayhq/relay/pkg/models"
)

// Config is Relay's top-level configuration structure.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Milvus        MilvusConfig        `yaml:"milvus"`
	LLM           LLMConfig           `yaml:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the gRPC/HTTP daemon surface.
type ServerConfig struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig is the YAML-facing shape of the CockroachDB connection
// the Session Store runs against; ToCockroachConfig adapts it to
// internal/sessions.CockroachConfig.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// ToCockroachConfig adapts DatabaseConfig to the shape
// sessions.NewCockroachStore expects.
func (d DatabaseConfig) ToCockroachConfig() *sessions.CockroachConfig {
	return &sessions.CockroachConfig{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnectTimeout:  d.ConnectTimeout,
	}
}

// JobsConfig tunes the session-execution worker pool's own CockroachDB
// connection pool (the queue lives in the same cluster as Database, on
// its own pool settings, grounded on internal/jobs.CockroachConfig).
type JobsConfig struct {
	Workers         int           `yaml:"workers"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	// PruneSchedule is a cron expression for sweeping terminal sessions
	// out of the job queue (robfig/cron/v3 syntax).
	PruneSchedule string `yaml:"prune_schedule"`
}

// ToCockroachConfig converts the pool-tuning subset of JobsConfig to the
// shape internal/jobs.NewCockroachStoreFromDSN expects.
func (j JobsConfig) ToCockroachConfig() *jobs.CockroachConfig {
	return &jobs.CockroachConfig{
		MaxOpenConns:    j.MaxOpenConns,
		MaxIdleConns:    j.MaxIdleConns,
		ConnMaxLifetime: j.ConnMaxLifetime,
		ConnMaxIdleTime: j.ConnMaxIdleTime,
		ConnectTimeout:  j.ConnectTimeout,
	}
}

// MilvusConfig configures the Vector Store connection.
type MilvusConfig struct {
	Address string `yaml:"address"`
}

// LLMConfig names the primary and fallback system Router endpoints
// ("llm.primary.*"/"llm.fallback.*").
type LLMConfig struct {
	Primary  ProviderEndpointConfig `yaml:"primary"`
	Fallback ProviderEndpointConfig `yaml:"fallback"`
}

// ProviderEndpointConfig is the YAML-facing shape of an LLM chat
// endpoint; ToProviderConfig adapts it to the wire-level
// models.ProviderConfig the rest of the tree consumes.
type ProviderEndpointConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	DefaultModel   string `yaml:"default_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ToProviderConfig adapts a config-file provider endpoint to the
// system-owned models.ProviderConfig shape (Owner left empty: these are
// system, not per-user, credentials).
func (p ProviderEndpointConfig) ToProviderConfig(id string) models.ProviderConfig {
	return models.ProviderConfig{
		ID:             id,
		Provider:       p.Provider,
		BaseURL:        p.BaseURL,
		APIKey:         p.APIKey,
		DefaultModel:   p.DefaultModel,
		TimeoutSeconds: p.TimeoutSeconds,
		Default:        true,
		Active:         true,
	}
}

// EmbeddingConfig names the system default Embedding Client endpoint
// ("embedding.*").
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Dimension      int    `yaml:"dimension"`
	MaxInputTokens int    `yaml:"max_input_tokens"`
}

// ToEmbeddingModelConfig adapts the config-file shape to
// models.EmbeddingModelConfig.
func (e EmbeddingConfig) ToEmbeddingModelConfig(id string) models.EmbeddingModelConfig {
	return models.EmbeddingModelConfig{
		ID:             id,
		Provider:       e.Provider,
		BaseURL:        e.BaseURL,
		APIKey:         e.APIKey,
		Model:          e.Model,
		Dimension:      e.Dimension,
		MaxInputTokens: e.MaxInputTokens,
		Default:        true,
		Active:         true,
	}
}

// SessionConfig tunes the Agent Loop's per-session runtime knobs.
// MaxIterations, TopKTools, StoreMemoryPrefixLen and ResumePollMs feed
// agentloop.Config's four override fields; MaxContextMessages sets the
// context store's trim limit (contextstore.New).
type SessionConfig struct {
	MaxContextMessages   int `yaml:"max_context_messages"`
	MaxIterations        int `yaml:"max_iterations"`
	TopKTools            int `yaml:"top_k_tools"`
	StoreMemoryPrefixLen int `yaml:"store_memory_prefix_len"`
	ResumePollMs         int `yaml:"resume_poll_ms"`
}

// ResumePollInterval converts ResumePollMs to a time.Duration, zero
// when unset so agentloop.New falls back to its own default.
func (s SessionConfig) ResumePollInterval() time.Duration {
	if s.ResumePollMs <= 0 {
		return 0
	}
	return time.Duration(s.ResumePollMs) * time.Millisecond
}

// LoggingConfig configures the zerolog writer.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures Prometheus metrics and OpenTelemetry
// tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
}

// Load reads path (resolving $include directives via loader.go),
// decodes it with unknown-field rejection, applies environment
// overrides and defaults, then validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	// A config file that omits version entirely is new, not outdated —
	// only an explicit mismatch is a version error.
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyJobsDefaults(&cfg.Jobs)
	applySessionDefaults(&cfg.Session)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.GRPCPort == 0 {
		cfg.GRPCPort = 50051
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	def := sessions.DefaultCockroachConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.User == "" {
		cfg.User = def.User
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = def.SSLMode
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
}

func applyJobsDefaults(cfg *JobsConfig) {
	def := jobs.DefaultCockroachConfig()
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "0 */6 * * *"
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.MaxContextMessages == 0 {
		cfg.MaxContextMessages = 50
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 30
	}
	if cfg.TopKTools == 0 {
		cfg.TopKTools = 12
	}
	if cfg.StoreMemoryPrefixLen == 0 {
		cfg.StoreMemoryPrefixLen = 15
	}
	if cfg.ResumePollMs == 0 {
		cfg.ResumePollMs = 2000
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("RELAY_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("RELAY_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("RELAY_GRPC_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.GRPCPort = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("RELAY_DB_HOST")); value != "" {
		cfg.Database.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("RELAY_DB_PASSWORD")); value != "" {
		cfg.Database.Password = value
	}

	if value := strings.TrimSpace(os.Getenv("RELAY_MILVUS_ADDRESS")); value != "" {
		cfg.Milvus.Address = value
	}

	if value := strings.TrimSpace(os.Getenv("RELAY_LLM_PRIMARY_API_KEY")); value != "" {
		cfg.LLM.Primary.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("RELAY_LLM_FALLBACK_API_KEY")); value != "" {
		cfg.LLM.Fallback.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("RELAY_EMBEDDING_API_KEY")); value != "" {
		cfg.Embedding.APIKey = value
	}

	if value := strings.TrimSpace(os.Getenv("RELAY_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
}

// ConfigValidationError collects every validation issue found, rather
// than failing on the first.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Milvus.Address == "" {
		issues = append(issues, "milvus.address must not be empty")
	}
	if cfg.LLM.Primary.DefaultModel == "" {
		issues = append(issues, "llm.primary.default_model must not be empty")
	}
	if cfg.Embedding.Model == "" {
		issues = append(issues, "embedding.model must not be empty")
	}
	if cfg.Embedding.Dimension <= 0 {
		issues = append(issues, "embedding.dimension must be > 0")
	}
	if cfg.Session.MaxContextMessages <= 0 {
		issues = append(issues, "session.max_context_messages must be > 0")
	}
	if cfg.Session.MaxIterations <= 0 {
		issues = append(issues, "session.max_iterations must be > 0")
	}
	if cfg.Session.TopKTools <= 0 {
		issues = append(issues, "session.top_k_tools must be > 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
