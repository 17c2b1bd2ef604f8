package data

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Model represents a model definition.
type Model struct {
	Name     string // Name is the key in the models map, not stored in YAML
	Provider string // Provider name (e.g., "anthropic", "openai", "gemini")
	Endpoint string // Model endpoint (empty for provider default)
	Key      string // API key
	Model    string // Provider model name
	Temp     float32
	TopP     float32
}

// RetryConfig holds the stream-loop retry knobs.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// CompressConfig holds the history-compression knobs. ThresholdRatio and
// KeepRatio are deliberately exposed rather than hardcoded; the defaults are
// not load-bearing.
type CompressConfig struct {
	ContextLimit   int
	ThresholdRatio float64
	KeepRatio      float64
}

// ConfigStore provides typed access to gturn.yaml configuration.
// It wraps viper internally and exposes only typed interfaces.
type ConfigStore struct {
	v *viper.Viper
}

// NewConfigStore creates a ConfigStore using the existing viper configuration.
// This reuses whatever config file viper has already loaded.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{v: viper.GetViper()}
}

// SetConfigFile sets the configuration file path and loads it if present.
func (c *ConfigStore) SetConfigFile(path string) error {
	c.v.SetConfigFile(path)
	c.v.AutomaticEnv()

	// Defaults exist even if the key is missing from the file
	c.v.SetDefault("log.level", "info")
	c.v.SetDefault("retry.max_attempts", 3)
	c.v.SetDefault("retry.base_delay_ms", 1200)
	c.v.SetDefault("retry.max_delay_ms", 8000)
	c.v.SetDefault("compress.context_limit", 128000)
	c.v.SetDefault("compress.threshold_ratio", 0.75)
	c.v.SetDefault("compress.keep_ratio", 0.35)
	c.v.SetDefault("stream.debug", false)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := c.v.ReadInConfig(); err != nil {
		return err
	}
	return nil
}

// ConfigFileUsed returns the path to the config file being used.
func (c *ConfigStore) ConfigFileUsed() string {
	return c.v.ConfigFileUsed()
}

// Save persists the current configuration.
func (c *ConfigStore) Save() error {
	return c.v.WriteConfig()
}

// GetActiveModelName returns the name of the currently selected model.
func (c *ConfigStore) GetActiveModelName() string {
	return c.v.GetString("model")
}

// GetModel returns a model definition by name, or nil if absent.
func (c *ConfigStore) GetModel(name string) *Model {
	name = strings.ToLower(name)
	modelsMap := c.v.GetStringMap("models")
	if modelsMap == nil {
		return nil
	}
	raw, exists := modelsMap[name]
	if !exists {
		return nil
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	m := &Model{Name: name}
	if v, ok := fields["provider"].(string); ok {
		m.Provider = v
	}
	if v, ok := fields["endpoint"].(string); ok {
		m.Endpoint = v
	}
	if v, ok := fields["key"].(string); ok {
		m.Key = v
	}
	if v, ok := fields["model"].(string); ok {
		m.Model = v
	}
	m.Temp = floatField(fields, "temperature")
	m.TopP = floatField(fields, "top_p")
	return m
}

func floatField(fields map[string]any, key string) float32 {
	switch v := fields[key].(type) {
	case float64:
		return float32(v)
	case float32:
		return v
	case int:
		return float32(v)
	case int64:
		return float32(v)
	default:
		return 0
	}
}

// GetActiveModel resolves the selected model definition.
func (c *ConfigStore) GetActiveModel() (*Model, error) {
	name := c.GetActiveModelName()
	if name == "" {
		return nil, fmt.Errorf("no model selected: set the 'model' key in %s", c.ConfigFileUsed())
	}
	m := c.GetModel(name)
	if m == nil {
		return nil, fmt.Errorf("model %q is not defined under 'models'", name)
	}
	return m, nil
}

// GetRetryConfig returns the retry knobs.
func (c *ConfigStore) GetRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: c.v.GetInt("retry.max_attempts"),
		BaseDelay:   time.Duration(c.v.GetInt("retry.base_delay_ms")) * time.Millisecond,
		MaxDelay:    time.Duration(c.v.GetInt("retry.max_delay_ms")) * time.Millisecond,
	}
}

// GetCompressConfig returns the compression knobs.
func (c *ConfigStore) GetCompressConfig() CompressConfig {
	return CompressConfig{
		ContextLimit:   c.v.GetInt("compress.context_limit"),
		ThresholdRatio: c.v.GetFloat64("compress.threshold_ratio"),
		KeepRatio:      c.v.GetFloat64("compress.keep_ratio"),
	}
}

// StreamDebugEnabled reports whether per-event stream telemetry is on.
// The environment switch takes precedence over the config file.
func (c *ConfigStore) StreamDebugEnabled() bool {
	if v := os.Getenv("GTURN_STREAM_DEBUG"); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "on")
	}
	return c.v.GetBool("stream.debug")
}

// GetLogLevel returns the configured log level string.
func (c *ConfigStore) GetLogLevel() string {
	return c.v.GetString("log.level")
}

// DefaultConfigYaml is written on first run so the file documents its knobs.
const DefaultConfigYaml = `# gturn configuration
model: ""
models:
  # sonnet:
  #   provider: anthropic
  #   key: sk-ant-...
  #   model: claude-sonnet-4-5
retry:
  max_attempts: 3
  base_delay_ms: 1200
  max_delay_ms: 8000
compress:
  context_limit: 128000
  threshold_ratio: 0.75
  keep_ratio: 0.35
stream:
  debug: false
log:
  level: info
`
