// Package config loads engine configuration from YAML or JSON5 files with
// $include composition and environment variable expansion.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/datamachine/engine/pkg/models"
)

// Config is the root engine configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Providers ProvidersConfig `yaml:"providers"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	Directive DirectiveConfig `yaml:"directives"`

	Pipelines []models.Pipeline `yaml:"pipelines"`
	Flows     []models.Flow     `yaml:"flows"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus scrape endpoint. The endpoint is
// off when Addr is empty.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TracingConfig configures OTLP trace export. Tracing is off when Endpoint
// is empty.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// ProvidersConfig configures AI providers. Default names the provider used
// when a flow does not choose one.
type ProvidersConfig struct {
	Default   string         `yaml:"default"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

// ProviderConfig is one provider's connection settings.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// EngineConfig bounds loop and tool execution.
type EngineConfig struct {
	MaxTurns    int      `yaml:"max_turns"`
	ToolTimeout Duration `yaml:"tool_timeout"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// Duration decodes YAML duration strings ("90s", "2m") and integer seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StorageConfig names the backing stores. Empty values fall back to
// in-memory stores. JobsDSN selects a shared Postgres job table and takes
// precedence over JobsDB.
type StorageConfig struct {
	JobsDB      string `yaml:"jobs_db"`
	JobsDSN     string `yaml:"jobs_dsn"`
	SelectionDB string `yaml:"selection_db"`
	DedupDB     string `yaml:"dedup_db"`
	ChatDB      string `yaml:"chat_db"`
}

// DirectiveConfig carries operator-authored prompt sections.
type DirectiveConfig struct {
	Global string `yaml:"global"`
	Site   string `yaml:"site"`
}

// Load reads, merges, and validates configuration from path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Engine.MaxTurns <= 0 {
		c.Engine.MaxTurns = 12
	}
	if c.Engine.ToolTimeout <= 0 {
		c.Engine.ToolTimeout = Duration(60 * time.Second)
	}
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
}

func (c *Config) validate() error {
	switch c.Providers.Default {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown default provider %q", c.Providers.Default)
	}

	flowIDs := make(map[string]bool)
	for _, flow := range c.Flows {
		if flow.ID == "" {
			return fmt.Errorf("flow %q has no id", flow.Name)
		}
		if flowIDs[flow.ID] {
			return fmt.Errorf("duplicate flow id %q", flow.ID)
		}
		flowIDs[flow.ID] = true

		for i, step := range flow.Steps {
			if step.ID == "" {
				return fmt.Errorf("flow %s step %d has no id", flow.ID, i)
			}
			switch step.Type {
			case models.StepFetch, models.StepAI, models.StepPublish, models.StepUpdate:
			default:
				return fmt.Errorf("flow %s step %s has unknown type %q", flow.ID, step.ID, step.Type)
			}
		}
	}
	return nil
}
