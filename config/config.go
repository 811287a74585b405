// Package config loads this core's tunables from environment variables
// into plain configuration records, validates them, and hands the result
// to the CLI's dependency-construction step. The core itself never reads
// an environment variable directly (spec §9 "Configuration") — only
// ConfigLoader.Load and the loaders it calls do.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig provides utilities for loading configuration from environment
// variables, optionally namespaced by a prefix.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a new environment configuration loader.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

// GetString retrieves a string value from environment with optional default.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value from environment or panics.
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value from environment with optional default.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetFloat retrieves a float value from environment with optional default.
func (ec *EnvConfig) GetFloat(key string, defaultValue float64) float64 {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value from environment with optional default.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// GraphStoreConfig is the GraphRepository connection record.
type GraphStoreConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// LoadGraphStoreConfig loads graph store connection settings.
func LoadGraphStoreConfig() GraphStoreConfig {
	env := NewEnvConfig("")
	return GraphStoreConfig{
		URI:      env.GetString("GRAPH_STORE_URI", "bolt://localhost:7687"),
		Username: env.GetString("GRAPH_STORE_USERNAME", "neo4j"),
		Password: env.GetString("GRAPH_STORE_PASSWORD", ""),
		Database: env.GetString("GRAPH_STORE_DATABASE", "neo4j"),
	}
}

// LLMConfig is the Recon/Critic language-model client's connection record.
type LLMConfig struct {
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

// LoadLLMConfig loads language-model client settings.
func LoadLLMConfig() LLMConfig {
	env := NewEnvConfig("")
	return LLMConfig{
		APIKey:         env.GetString("LLM_API_KEY", ""),
		Model:          env.GetString("LLM_MODEL", "claude-3-7-sonnet-latest"),
		RequestTimeout: env.GetDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
	}
}

// OrchestratorConfig is the Orchestrator's tunable record (spec §6).
type OrchestratorConfig struct {
	MaxCriticIterations       int
	MaxTokenBudget            int
	DefaultSimilarityThreshold float64
	CaptureMode               string
	TrafficFile               string
	TargetBaseURL             string
	TargetProfileName         string
	DebugLogging              bool
}

// LoadOrchestratorConfig loads Orchestrator tunables from the §6 environment
// variable table.
func LoadOrchestratorConfig() OrchestratorConfig {
	env := NewEnvConfig("")
	return OrchestratorConfig{
		MaxCriticIterations:        env.GetInt("MAX_CRITIC_ITERATIONS", 3),
		MaxTokenBudget:             env.GetInt("MAX_TOKEN_BUDGET", 50000),
		DefaultSimilarityThreshold: env.GetFloat("DEFAULT_SIMILARITY_THRESHOLD", 0.85),
		CaptureMode:                env.GetString("CAPTURE_MODE", "file"),
		TrafficFile:                env.GetString("TRAFFIC_FILE", ""),
		TargetBaseURL:              env.GetString("TARGET_BASE_URL", ""),
		TargetProfileName:          env.GetString("TARGET_PROFILE", "juice_shop"),
		DebugLogging:               env.GetBool("DEBUG_LOGGING", false),
	}
}

// EmbeddingConfig is the optional embedding.Provider's connection record
// (spec §3: observation_embedding is optional).
type EmbeddingConfig struct {
	APIKey string
}

// LoadEmbeddingConfig loads embedding provider settings. An empty APIKey
// means no embedding provider is wired for this run.
func LoadEmbeddingConfig() EmbeddingConfig {
	env := NewEnvConfig("")
	return EmbeddingConfig{
		APIKey: env.GetString("EMBEDDING_API_KEY", ""),
	}
}

// Validator accumulates configuration validation errors.
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

// RequireString validates that a string field is not empty.
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that an integer field is positive.
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireRange validates that a float field falls within [min, max].
func (v *Validator) RequireRange(field string, value, min, max float64) {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %v and %v", field, min, max))
	}
}

// RequireOneOf validates that a value is one of the allowed options.
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid returns true if there are no validation errors.
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []string {
	return v.errors
}

// Validate runs validation and returns an error if invalid.
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
	}
	return nil
}

// Config aggregates every configuration record the CLI's dependency
// construction step needs.
type Config struct {
	GraphStore   GraphStoreConfig
	LLM          LLMConfig
	Embedding    EmbeddingConfig
	Orchestrator OrchestratorConfig
}

// ConfigLoader loads and validates the full Config.
type ConfigLoader struct{}

// NewConfigLoader creates a new ConfigLoader.
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// Load reads every environment variable the §6 table names, validates the
// result, and returns the aggregate Config.
func (cl *ConfigLoader) Load() (*Config, error) {
	cfg := &Config{
		GraphStore:   LoadGraphStoreConfig(),
		LLM:          LoadLLMConfig(),
		Embedding:    LoadEmbeddingConfig(),
		Orchestrator: LoadOrchestratorConfig(),
	}
	if err := cl.validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cl *ConfigLoader) validate(cfg *Config) error {
	v := NewValidator()

	v.RequireString("GraphStore.URI", cfg.GraphStore.URI)
	v.RequireString("GraphStore.Database", cfg.GraphStore.Database)

	v.RequirePositiveInt("Orchestrator.MaxCriticIterations", cfg.Orchestrator.MaxCriticIterations)
	v.RequirePositiveInt("Orchestrator.MaxTokenBudget", cfg.Orchestrator.MaxTokenBudget)
	v.RequireRange("Orchestrator.DefaultSimilarityThreshold", cfg.Orchestrator.DefaultSimilarityThreshold, 0, 1)
	v.RequireOneOf("Orchestrator.CaptureMode", cfg.Orchestrator.CaptureMode, []string{"file", "live"})
	if cfg.Orchestrator.CaptureMode == "file" {
		v.RequireString("Orchestrator.TrafficFile", cfg.Orchestrator.TrafficFile)
	}
	if cfg.Orchestrator.CaptureMode == "live" {
		v.RequireString("Orchestrator.TargetBaseURL", cfg.Orchestrator.TargetBaseURL)
	}

	return v.Validate()
}
