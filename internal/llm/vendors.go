package llm

// Preset describes a known vendor. Config values override any field.
type Preset struct {
	Type             string
	BaseURL          string
	KeyEnv           string
	Models           map[Tier]string
	StructuredOutput bool
}

// Presets are the built-in vendors. Gemini is the default scheme provider.
var Presets = map[string]Preset{
	"gemini": {
		Type:    TypeGemini,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		KeyEnv:  "GEMINI_API_KEY",
		Models: map[Tier]string{
			TierLite: "gemini-2.5-flash-lite",
			TierFast: "gemini-2.5-flash",
			TierPro:  "gemini-2.5-pro",
		},
	},
	"openai": {
		Type:    TypeOpenAI,
		BaseURL: "https://api.openai.com/v1",
		KeyEnv:  "OPENAI_API_KEY",
		Models: map[Tier]string{
			TierLite: "gpt-4.1-nano",
			TierFast: "gpt-4.1-mini",
			TierPro:  "gpt-4.1",
		},
		StructuredOutput: true,
	},
	"deepseek": {
		Type:    TypeOpenAI,
		BaseURL: "https://api.deepseek.com/v1",
		KeyEnv:  "DEEPSEEK_API_KEY",
		Models: map[Tier]string{
			TierLite: "deepseek-chat",
			TierFast: "deepseek-chat",
			TierPro:  "deepseek-reasoner",
		},
	},
	"openrouter": {
		Type:    TypeOpenAI,
		BaseURL: "https://openrouter.ai/api/v1",
		KeyEnv:  "OPENROUTER_API_KEY",
		Models: map[Tier]string{
			TierLite: "google/gemini-2.5-flash-lite",
			TierFast: "openai/gpt-4.1-mini",
			TierPro:  "anthropic/claude-sonnet-4.5",
		},
	},
	"groq": {
		Type:    TypeOpenAI,
		BaseURL: "https://api.groq.com/openai/v1",
		KeyEnv:  "GROQ_API_KEY",
		Models: map[Tier]string{
			TierLite: "llama-3.1-8b-instant",
			TierFast: "llama-3.3-70b-versatile",
			TierPro:  "openai/gpt-oss-120b",
		},
	},
	"anthropic": {
		Type:    TypeAnthropic,
		BaseURL: "https://api.anthropic.com",
		KeyEnv:  "ANTHROPIC_API_KEY",
		Models: map[Tier]string{
			TierLite: "claude-3-5-haiku-latest",
			TierFast: "claude-sonnet-4-5",
			TierPro:  "claude-opus-4-1",
		},
	},
	"ollama": {
		Type:    TypeOllama,
		BaseURL: "http://localhost:11434",
		Models: map[Tier]string{
			TierLite: "llama3.2",
			TierFast: "qwen3",
			TierPro:  "qwen3:14b",
		},
	},
}
