package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Adapter types. Several vendors share the OpenAI-compatible type.
const (
	TypeOpenAI    = "openai"
	TypeGemini    = "gemini"
	TypeAnthropic = "anthropic"
	TypeOllama    = "ollama"
)

// Settings configures one provider instance.
type Settings struct {
	Name    string // provider id used by schemes, e.g. "deepseek"
	Type    string // adapter type
	BaseURL string
	APIKey  string
	Models  map[Tier]string

	// StructuredOutput enables json_schema response formats on
	// OpenAI-compatible vendors that support them.
	StructuredOutput bool

	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Observer     UsageObserver
}

func (s Settings) model(t Tier) (string, error) {
	if m := s.Models[t]; m != "" {
		return m, nil
	}
	return "", &ConfigError{Provider: s.Name, Err: fmt.Errorf("no model configured for tier %q", t)}
}

func (s Settings) requiresKey() bool {
	return s.Type != TypeOllama
}

func (s Settings) observe(t Tier, u Usage) {
	if s.Observer != nil {
		s.Observer(s.Name, t, u)
	}
}

// NewProvider returns a provider for s. The API key is not checked until the
// first call, so providers that are configured but never used cost nothing.
func NewProvider(s Settings) (Provider, error) {
	switch s.Type {
	case TypeOpenAI, TypeGemini, TypeAnthropic, TypeOllama:
	default:
		return nil, &ConfigError{Provider: s.Name, Err: fmt.Errorf("%w: type %q", ErrUnknownProvider, s.Type)}
	}
	return &lazyProvider{settings: s}, nil
}

func build(s Settings) Provider {
	switch s.Type {
	case TypeGemini:
		return NewGemini(s)
	case TypeAnthropic:
		return NewAnthropic(s)
	case TypeOllama:
		return NewOllama(s)
	default:
		return NewOpenAICompat(s)
	}
}

type lazyProvider struct {
	settings Settings
	once     sync.Once
	provider Provider
}

// get builds the adapter on first use. Each failing call gets its own
// ConfigError so callers may annotate it.
func (l *lazyProvider) get() (Provider, error) {
	if l.settings.requiresKey() && l.settings.APIKey == "" {
		return nil, &ConfigError{Provider: l.settings.Name, Err: ErrMissingAPIKey}
	}
	l.once.Do(func() {
		l.provider = build(l.settings)
	})
	return l.provider, nil
}

func (l *lazyProvider) Name() string { return l.settings.Name }

func (l *lazyProvider) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	p, err := l.get()
	if err != nil {
		return "", err
	}
	return p.GenerateText(ctx, req)
}

func (l *lazyProvider) GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error) {
	p, err := l.get()
	if err != nil {
		return nil, err
	}
	return p.GenerateJSON(ctx, req)
}

func (l *lazyProvider) GenerateWithTools(ctx context.Context, req ToolRequest) (*Result, error) {
	p, err := l.get()
	if err != nil {
		return nil, err
	}
	return p.GenerateWithTools(ctx, req)
}

func (l *lazyProvider) GenerateTextStream(ctx context.Context, req StreamRequest) (Stream, error) {
	p, err := l.get()
	if err != nil {
		return nil, err
	}
	return p.GenerateTextStream(ctx, req)
}
