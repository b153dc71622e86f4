package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yaml", "providers:\n  anthropic:\n    model: claude-sonnet-4-20250514\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Engine.MaxTurns != 12 {
		t.Errorf("MaxTurns = %d, want 12", cfg.Engine.MaxTurns)
	}
	if cfg.Engine.ToolTimeout.Std() != 60*time.Second {
		t.Errorf("ToolTimeout = %v", cfg.Engine.ToolTimeout.Std())
	}
	if cfg.Providers.Default != "anthropic" {
		t.Errorf("default provider = %q", cfg.Providers.Default)
	}
}

func TestLoad_Include(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
logging:
  level: debug
  format: json
engine:
  max_turns: 8
`)
	path := writeFile(t, dir, "engine.yaml", `
$include: base.yaml
engine:
  max_turns: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// The including file wins on conflicts; other keys merge through.
	if cfg.Engine.MaxTurns != 5 {
		t.Errorf("MaxTurns = %d, want 5", cfg.Engine.MaxTurns)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := filepath.Join(dir, "a.yaml")
	writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := Load(path); err == nil {
		t.Fatal("cyclic includes must fail")
	}
}

func TestLoad_JSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.json5", `{
  // comments are allowed
  engine: { max_turns: 7 },
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxTurns != 7 {
		t.Errorf("MaxTurns = %d, want 7", cfg.Engine.MaxTurns)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("DM_TEST_LEVEL", "warn")
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yaml", "logging:\n  level: ${DM_TEST_LEVEL}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_DurationForms(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yaml", "engine:\n  tool_timeout: 90s\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.ToolTimeout.Std() != 90*time.Second {
		t.Errorf("ToolTimeout = %v, want 90s", cfg.Engine.ToolTimeout.Std())
	}

	path = writeFile(t, dir, "engine2.yaml", "engine:\n  tool_timeout: 45\n")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.ToolTimeout.Std() != 45*time.Second {
		t.Errorf("ToolTimeout = %v, want 45s from bare seconds", cfg.Engine.ToolTimeout.Std())
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "bad_provider.yaml", "providers:\n  default: gemini\n")
	if _, err := Load(path); err == nil {
		t.Error("unknown provider must fail validation")
	}

	path = writeFile(t, dir, "bad_flow.yaml", `
flows:
  - id: f1
    steps:
      - id: s1
        type: teleport
`)
	if _, err := Load(path); err == nil {
		t.Error("unknown step type must fail validation")
	}

	path = writeFile(t, dir, "dup_flow.yaml", `
flows:
  - id: f1
    steps: []
  - id: f1
    steps: []
`)
	if _, err := Load(path); err == nil {
		t.Error("duplicate flow ids must fail validation")
	}
}

func TestLoad_FlowDecoding(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yaml", `
flows:
  - id: f1
    name: News to Twitter
    steps:
      - id: s1
        type: fetch
        handler_slug: rss
        handler_config:
          feed: https://example.com/rss
      - id: s2
        type: ai
        system_prompt: Summarize for Twitter.
        disabled_tools: [web_search]
      - id: s3
        type: publish
        handler_slug: twitter
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Flows) != 1 || len(cfg.Flows[0].Steps) != 3 {
		t.Fatalf("flows = %+v", cfg.Flows)
	}
	ai := cfg.Flows[0].Steps[1]
	if ai.SystemPrompt != "Summarize for Twitter." {
		t.Errorf("system prompt = %q", ai.SystemPrompt)
	}
	if len(ai.DisabledTools) != 1 || ai.DisabledTools[0] != "web_search" {
		t.Errorf("disabled tools = %v", ai.DisabledTools)
	}
	fetch := cfg.Flows[0].Steps[0]
	if fetch.HandlerConfig["feed"] != "https://example.com/rss" {
		t.Errorf("handler config = %v", fetch.HandlerConfig)
	}
}
