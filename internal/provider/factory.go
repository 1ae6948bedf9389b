package provider

import (
	"fmt"

	"benchchat/internal/domain"
)

// New builds a provider from a settings snapshot. Each pipeline invocation
// constructs its provider from the snapshot it holds, so a settings change
// mid-flight never mixes backends within one request.
func New(s domain.Settings) (Provider, error) {
	switch s.Provider {
	case domain.ProviderOllama:
		return NewOllamaProvider(s.OllamaURL, s.OllamaModel), nil
	case domain.ProviderOpenAI:
		return NewOpenAIProvider(s.OpenAIAPIKey, s.OpenAIModel)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, s.Provider)
	}
}
