package domain

// Provider identifiers accepted by Settings.Provider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Settings is the tenant-wide assistant configuration. Pipelines read it as
// an immutable snapshot taken once per invocation; updates apply to
// subsequent requests only.
type Settings struct {
	Provider string `json:"provider"`

	OllamaURL   string `json:"ollama_url"`
	OllamaModel string `json:"ollama_model"`

	OpenAIAPIKey string `json:"-"`
	OpenAIModel  string `json:"openai_model"`

	SafeMode           bool `json:"safe_mode"`
	ConfirmDestructive bool `json:"confirm_destructive"`
	LogCommands        bool `json:"log_commands"`
}

// HasOpenAIKey reports whether a hosted-API key is configured without
// exposing the key itself.
func (s Settings) HasOpenAIKey() bool {
	return s.OpenAIAPIKey != ""
}
