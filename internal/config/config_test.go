package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const minimalValidYAML = `
version: 1
database:
  host: crdb.internal
milvus:
  address: milvus.internal:19530
llm:
  primary:
    provider: openai
    default_model: gpt-4o
embedding:
  provider: openai
  model: text-embedding-3-small
  dimension: 1536
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), minimalValidYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("Server.HTTPPort = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Session.MaxIterations != 30 {
		t.Fatalf("Session.MaxIterations = %d, want 30", cfg.Session.MaxIterations)
	}
	if cfg.Session.TopKTools != 12 {
		t.Fatalf("Session.TopKTools = %d, want 12", cfg.Session.TopKTools)
	}
	if cfg.Session.ResumePollInterval() == 0 {
		t.Fatal("ResumePollInterval() = 0, want non-zero default")
	}
	if cfg.Database.Port != 26257 {
		t.Fatalf("Database.Port = %d, want 26257 (sessions.DefaultCockroachConfig)", cfg.Database.Port)
	}
	if cfg.Jobs.PruneSchedule == "" {
		t.Fatal("Jobs.PruneSchedule should default to a cron expression")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), minimalValidYAML+"\nbogus_field: true\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadReportsAllValidationIssues(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "version: 1\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var ve *ConfigValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ConfigValidationError, got %T: %v", err, err)
	}
	if len(ve.Issues) < 3 {
		t.Fatalf("expected multiple issues collected, got %v", ve.Issues)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte("database:\n  host: from-base\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mainYAML := "$include: base.yaml\n" + minimalValidYAML
	path := writeConfigFile(t, dir, mainYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// The including file's own database.host overrides the included one.
	if cfg.Database.Host != "crdb.internal" {
		t.Fatalf("Database.Host = %q, want override to win over $include", cfg.Database.Host)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), minimalValidYAML)

	t.Setenv("RELAY_HTTP_PORT", "9999")
	t.Setenv("RELAY_LLM_PRIMARY_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 9999 {
		t.Fatalf("Server.HTTPPort = %d, want 9999 from env override", cfg.Server.HTTPPort)
	}
	if cfg.LLM.Primary.APIKey != "sk-test" {
		t.Fatalf("LLM.Primary.APIKey = %q, want env override", cfg.LLM.Primary.APIKey)
	}
}

const futureVersionYAML = `
version: 99
database:
  host: crdb.internal
milvus:
  address: milvus.internal:19530
llm:
  primary:
    provider: openai
    default_model: gpt-4o
embedding:
  provider: openai
  model: text-embedding-3-small
  dimension: 1536
`

func TestLoadRejectsVersionMismatch(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), futureVersionYAML)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected version error")
	}
	var ve *VersionError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VersionError, got %T: %v", err, err)
	}
}

func TestProviderEndpointConfigToProviderConfig(t *testing.T) {
	p := ProviderEndpointConfig{Provider: "openai", DefaultModel: "gpt-4o", APIKey: "sk-x"}
	out := p.ToProviderConfig("primary")
	if out.ID != "primary" || !out.Default || !out.Active {
		t.Fatalf("ToProviderConfig() = %+v", out)
	}
}

func TestEmbeddingConfigToEmbeddingModelConfig(t *testing.T) {
	e := EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 1536}
	out := e.ToEmbeddingModelConfig("system-default")
	if out.Dimension != 1536 || out.Model != "text-embedding-3-small" {
		t.Fatalf("ToEmbeddingModelConfig() = %+v", out)
	}
}
