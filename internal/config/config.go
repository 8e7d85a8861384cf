// Package config loads notemind settings from an optional YAML file, a .env
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/michaelbrown/notemind/internal/capability"
	"github.com/michaelbrown/notemind/internal/llm"
	"github.com/michaelbrown/notemind/internal/tools"
	"github.com/michaelbrown/notemind/internal/usage"
)

// ProviderConfig overrides or extends a built-in vendor preset. A provider
// with no matching preset must set Type and BaseURL.
type ProviderConfig struct {
	Type             string            `mapstructure:"type"`
	BaseURL          string            `mapstructure:"base_url"`
	APIKey           string            `mapstructure:"api_key"`
	Models           map[string]string `mapstructure:"models"`
	StructuredOutput *bool             `mapstructure:"structured_output"`
}

// PriceConfig is a cost in USD per million tokens.
type PriceConfig struct {
	Input  float64 `mapstructure:"input"`
	Output float64 `mapstructure:"output"`
}

type LLMConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type OrchestratorConfig struct {
	MaxDecisions  int `mapstructure:"max_decisions"`
	DebateTurns   int `mapstructure:"debate_turns"`
	PodcastTurns  int `mapstructure:"podcast_turns"`
	ContextTokens int `mapstructure:"context_tokens"`

	// WebSearch turns on vendor search grounding for agent turns.
	WebSearch bool `mapstructure:"web_search"`
}

type QueueConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type AgentsConfig struct {
	ProfilesDir string `mapstructure:"profiles_dir"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ImportConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type Config struct {
	// Scheme selects the active capability scheme: a provider id, "lite"
	// or "<provider>-lite".
	Scheme          string                            `mapstructure:"scheme"`
	DefaultProvider string                            `mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig         `mapstructure:"providers"`
	Capabilities    map[string]capability.Binding     `mapstructure:"capabilities"`
	Pricing         map[string]map[string]PriceConfig `mapstructure:"pricing"`
	LLM             LLMConfig                         `mapstructure:"llm"`
	Orchestrator    OrchestratorConfig                `mapstructure:"orchestrator"`
	Queue           QueueConfig                       `mapstructure:"queue"`
	Agents          AgentsConfig                      `mapstructure:"agents"`
	Server          ServerConfig                      `mapstructure:"server"`
	Storage         StorageConfig                     `mapstructure:"storage"`
	Log             LogConfig                         `mapstructure:"log"`
	Import          ImportConfig                      `mapstructure:"import"`
	Tools           map[string]tools.ServerConfig     `mapstructure:"tools"`
}

// Load reads configuration. With an empty path notemind.yaml is searched in
// the working directory and $HOME/.notemind; a missing file there is fine.
// An explicit path must exist.
func Load(path string) (*Config, error) {
	// Load environment variables from .env file
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("notemind")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".notemind"))
	}

	setDefaults(v, home)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in API keys
	for name, p := range cfg.Providers {
		p.APIKey = expand(p.APIKey)
		cfg.Providers[name] = p
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("default_provider", "gemini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_backoff", time.Second)
	v.SetDefault("orchestrator.max_decisions", 8)
	v.SetDefault("orchestrator.web_search", false)
	v.SetDefault("orchestrator.debate_turns", 6)
	v.SetDefault("orchestrator.podcast_turns", 8)
	v.SetDefault("orchestrator.context_tokens", 16000)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.timeout", 30*time.Second)
	v.SetDefault("agents.profiles_dir", filepath.Join(home, ".notemind", "agents"))
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.db_path", filepath.Join(home, ".notemind", "notemind.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("import.timeout", 20*time.Second)
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("scheme", "AI_SCHEME")
	_ = v.BindEnv("storage.db_path", "NOTEMIND_DB_PATH")
	_ = v.BindEnv("server.port", "NOTEMIND_PORT")
	_ = v.BindEnv("log.level", "NOTEMIND_LOG_LEVEL")
	_ = v.BindEnv("log.format", "NOTEMIND_LOG_FORMAT")
}

// expand resolves a "${VAR}" reference.
func expand(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// ProviderSettings merges the built-in preset for name with any configured
// overrides. Keys come from config first, then the preset's environment
// variable.
func (c *Config) ProviderSettings(name string, observer llm.UsageObserver) (llm.Settings, error) {
	preset, hasPreset := llm.Presets[name]
	pc, hasConfig := c.Providers[name]
	if !hasPreset && !hasConfig {
		return llm.Settings{}, &llm.ConfigError{Provider: name, Err: llm.ErrUnknownProvider}
	}

	s := llm.Settings{
		Name:             name,
		Type:             preset.Type,
		BaseURL:          preset.BaseURL,
		Models:           make(map[llm.Tier]string, len(llm.Tiers)),
		StructuredOutput: preset.StructuredOutput,
		Timeout:          c.LLM.Timeout,
		MaxRetries:       c.LLM.MaxRetries,
		RetryBackoff:     c.LLM.RetryBackoff,
		Observer:         observer,
	}
	for t, m := range preset.Models {
		s.Models[t] = m
	}
	if preset.KeyEnv != "" {
		s.APIKey = os.Getenv(preset.KeyEnv)
	}
	if name == "ollama" {
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			s.BaseURL = host
		}
	}

	if pc.Type != "" {
		s.Type = pc.Type
	}
	if pc.BaseURL != "" {
		s.BaseURL = pc.BaseURL
	}
	if pc.APIKey != "" {
		s.APIKey = pc.APIKey
	}
	if pc.StructuredOutput != nil {
		s.StructuredOutput = *pc.StructuredOutput
	}
	for tier, model := range pc.Models {
		t := llm.Tier(tier)
		if !t.Valid() {
			return llm.Settings{}, &llm.ConfigError{Provider: name, Err: fmt.Errorf("unknown tier %q", tier)}
		}
		s.Models[t] = model
	}
	if s.Type == "" {
		return llm.Settings{}, &llm.ConfigError{Provider: name, Err: errors.New("provider type is required")}
	}
	return s, nil
}

// ActiveScheme returns the selected scheme with capability overrides applied.
func (c *Config) ActiveScheme() (capability.Scheme, error) {
	overrides := make(map[capability.Name]capability.Binding, len(c.Capabilities))
	for name, b := range c.Capabilities {
		overrides[capability.Name(name)] = b
	}
	return capability.SchemeByName(c.Scheme, c.DefaultProvider).With(overrides)
}

// Router builds a provider for every provider the active scheme names and
// returns the resulting capability router. Providers check their API key
// lazily, so an unused provider without a key is harmless.
func (c *Config) Router(observer llm.UsageObserver) (*capability.Router, error) {
	scheme, err := c.ActiveScheme()
	if err != nil {
		return nil, err
	}
	providers := make(map[string]llm.Provider)
	for _, name := range scheme.Providers() {
		s, err := c.ProviderSettings(name, observer)
		if err != nil {
			return nil, err
		}
		p, err := llm.NewProvider(s)
		if err != nil {
			return nil, err
		}
		providers[name] = p
	}
	r := capability.NewRouter(scheme, providers)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Prices converts the pricing table for the usage ledger.
func (c *Config) Prices() map[usage.Key]usage.Price {
	out := make(map[usage.Key]usage.Price)
	for provider, tiers := range c.Pricing {
		for tier, p := range tiers {
			out[usage.Key{Provider: provider, Tier: llm.Tier(tier)}] = usage.PriceFromFloat(p.Input, p.Output)
		}
	}
	return out
}

// ProviderNames lists presets and configured providers.
func (c *Config) ProviderNames() []string {
	seen := make(map[string]struct{})
	for name := range llm.Presets {
		seen[name] = struct{}{}
	}
	for name := range c.Providers {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
