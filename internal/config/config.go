// Package config provides configuration management for mnemon. Settings
// come from three layers, each overriding the one below: environment
// variables with the MNEMON_ prefix, an optional YAML config file, and
// built-in defaults. Every invocation is a short-lived process, so
// loading is a pure read; nothing is persisted back.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for one mnemon invocation.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Engine  EngineConfig  `yaml:"engine"`
	Lock    LockConfig    `yaml:"lock"`
}

// StorageConfig selects and locates the backing stores.
type StorageConfig struct {
	// Engine is the storage backend: sqlite or postgres (default: sqlite).
	Engine string `yaml:"engine"`

	// ProjectDir is where the project-scoped store lives, relative to the
	// working directory unless absolute (default: .mnemon).
	ProjectDir string `yaml:"project_dir"`

	// GlobalDir is where the cross-project store lives
	// (default: ~/.mnemon).
	GlobalDir string `yaml:"global_dir"`

	// PostgresDSN is the connection string when Engine is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LLMConfig configures the text-generation and embedding providers.
type LLMConfig struct {
	Provider             string `yaml:"provider"`               // ollama, openai, anthropic (default: ollama)
	OllamaURL            string `yaml:"ollama_url"`             // default: http://localhost:11434
	OllamaModel          string `yaml:"ollama_model"`           // default: qwen2.5:7b
	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIModel          string `yaml:"openai_model"`           // default: gpt-4
	AnthropicAPIKey      string `yaml:"anthropic_api_key"`
	AnthropicModel       string `yaml:"anthropic_model"`        // default: claude-3-5-sonnet-20241022
	EmbeddingModel       string `yaml:"embedding_model"`        // remote embedding model (default: nomic-embed-text)
	LocalModelPath       string `yaml:"local_model_path"`       // ONNX embedding model for offline fallback
	LocalTokenizerPath   string `yaml:"local_tokenizer_path"`
	LocalLibraryPath     string `yaml:"local_library_path"`     // onnxruntime shared library
}

// EngineConfig tunes the memory engine.
type EngineConfig struct {
	// TokenBudget is the soft push-surface budget in tokens (default: 400).
	TokenBudget int `yaml:"token_budget"`

	// MaxTranscriptChars caps how much new transcript one extraction run
	// reads (default: 100000).
	MaxTranscriptChars int `yaml:"max_transcript_chars"`

	// ConsolidationExtractionTrigger is the extraction count that triggers
	// automatic consolidation (default: 10).
	ConsolidationExtractionTrigger int `yaml:"consolidation_extraction_trigger"`

	// ConsolidationActiveTrigger is the active-memory count that triggers
	// automatic consolidation (default: 80).
	ConsolidationActiveTrigger int `yaml:"consolidation_active_trigger"`

	// ArtifactPath is the file the push surface is rendered into at
	// session end (default: MEMORY.md in the working directory; empty
	// string in the file disables the artifact).
	ArtifactPath string `yaml:"artifact_path"`
}

// LockConfig tunes the cross-process store lock.
type LockConfig struct {
	// WaitSeconds is how long to wait for a held lock (default: 10).
	WaitSeconds int `yaml:"wait_seconds"`

	// StaleAfterSeconds is the age past which a lock from a dead process
	// is reclaimed (default: 120).
	StaleAfterSeconds int `yaml:"stale_after_seconds"`
}

// Load builds a Config: defaults, then the YAML file if one exists, then
// MNEMON_ environment variables. The file is looked up at MNEMON_CONFIG,
// falling back to <project_dir>/config.yaml; a missing file is not an
// error, a malformed one is.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("MNEMON_CONFIG")
	if path == "" {
		path = filepath.Join(cfg.Storage.ProjectDir, "config.yaml")
	}
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if cfg.Storage.Engine != "sqlite" && cfg.Storage.Engine != "postgres" {
		return nil, fmt.Errorf("config: unknown storage engine %q", cfg.Storage.Engine)
	}
	if cfg.Storage.Engine == "postgres" && cfg.Storage.PostgresDSN == "" {
		return nil, fmt.Errorf("config: postgres engine requires a DSN")
	}

	return cfg, nil
}

func defaults() *Config {
	globalDir := ".mnemon"
	if home, err := os.UserHomeDir(); err == nil {
		globalDir = filepath.Join(home, ".mnemon")
	}

	return &Config{
		Storage: StorageConfig{
			Engine:     "sqlite",
			ProjectDir: ".mnemon",
			GlobalDir:  globalDir,
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "qwen2.5:7b",
			OpenAIModel:    "gpt-4",
			AnthropicModel: "claude-3-5-sonnet-20241022",
			EmbeddingModel: "nomic-embed-text",
		},
		Engine: EngineConfig{
			TokenBudget:                    400,
			MaxTranscriptChars:             100_000,
			ConsolidationExtractionTrigger: 10,
			ConsolidationActiveTrigger:     80,
			ArtifactPath:                   "MEMORY.md",
		},
		Lock: LockConfig{
			WaitSeconds:       10,
			StaleAfterSeconds: 120,
		},
	}
}

// applyFile overlays the YAML file at path onto cfg. Absent keys leave
// the current values untouched.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays MNEMON_ environment variables onto cfg.
func (c *Config) applyEnv() {
	setString(&c.Storage.Engine, "MNEMON_STORAGE_ENGINE")
	setString(&c.Storage.ProjectDir, "MNEMON_PROJECT_DIR")
	setString(&c.Storage.GlobalDir, "MNEMON_GLOBAL_DIR")
	setString(&c.Storage.PostgresDSN, "MNEMON_POSTGRES_DSN")

	setString(&c.LLM.Provider, "MNEMON_LLM_PROVIDER")
	setString(&c.LLM.OllamaURL, "MNEMON_OLLAMA_URL")
	setString(&c.LLM.OllamaModel, "MNEMON_OLLAMA_MODEL")
	setString(&c.LLM.OpenAIAPIKey, "MNEMON_OPENAI_API_KEY")
	setString(&c.LLM.OpenAIModel, "MNEMON_OPENAI_MODEL")
	setString(&c.LLM.AnthropicAPIKey, "MNEMON_ANTHROPIC_API_KEY")
	setString(&c.LLM.AnthropicModel, "MNEMON_ANTHROPIC_MODEL")
	setString(&c.LLM.EmbeddingModel, "MNEMON_EMBEDDING_MODEL")
	setString(&c.LLM.LocalModelPath, "MNEMON_LOCAL_MODEL_PATH")
	setString(&c.LLM.LocalTokenizerPath, "MNEMON_LOCAL_TOKENIZER_PATH")
	setString(&c.LLM.LocalLibraryPath, "MNEMON_LOCAL_LIBRARY_PATH")

	setInt(&c.Engine.TokenBudget, "MNEMON_TOKEN_BUDGET")
	setInt(&c.Engine.MaxTranscriptChars, "MNEMON_MAX_TRANSCRIPT_CHARS")
	setInt(&c.Engine.ConsolidationExtractionTrigger, "MNEMON_CONSOLIDATION_EXTRACTION_TRIGGER")
	setInt(&c.Engine.ConsolidationActiveTrigger, "MNEMON_CONSOLIDATION_ACTIVE_TRIGGER")
	setString(&c.Engine.ArtifactPath, "MNEMON_ARTIFACT_PATH")

	setInt(&c.Lock.WaitSeconds, "MNEMON_LOCK_WAIT_SECONDS")
	setInt(&c.Lock.StaleAfterSeconds, "MNEMON_LOCK_STALE_AFTER_SECONDS")
}

// ProjectDBPath is the sqlite file path for the project store.
func (c *Config) ProjectDBPath() string {
	return filepath.Join(c.Storage.ProjectDir, "mnemon.db")
}

// GlobalDBPath is the sqlite file path for the global store.
func (c *Config) GlobalDBPath() string {
	return filepath.Join(c.Storage.GlobalDir, "mnemon.db")
}

// LockPath is the cross-process lock file for the project store.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.ProjectDir, "mnemon.lock")
}

// SnapshotDir is where consolidation snapshots are written.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.Storage.ProjectDir, "snapshots")
}

// ProposalsPath is where a pending consolidation proposal set is saved
// between `consolidate --propose` and `consolidate --commit`.
func (c *Config) ProposalsPath() string {
	return filepath.Join(c.Storage.ProjectDir, "proposals.json")
}

// TextAPIKey returns the API key for the configured text provider.
func (c *Config) TextAPIKey() string {
	switch c.LLM.Provider {
	case "openai":
		return c.LLM.OpenAIAPIKey
	case "anthropic":
		return c.LLM.AnthropicAPIKey
	}
	return ""
}

// TextModel returns the model name for the configured text provider.
func (c *Config) TextModel() string {
	switch c.LLM.Provider {
	case "openai":
		return c.LLM.OpenAIModel
	case "anthropic":
		return c.LLM.AnthropicModel
	}
	return c.LLM.OllamaModel
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*dst = parsed
		}
	}
}
