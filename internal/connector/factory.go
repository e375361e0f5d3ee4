package connector

import (
	"fmt"
	"os"
	"sort"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name under which provider API keys may be
// stored in the OS keyring.
const keyringService = "fairgame"

// modelEntry maps an abstract model alias to a provider constructor and the
// concrete provider model identifier.
type modelEntry struct {
	provider string
	model    string
	build    func(Config) Connector
}

var modelProviderMap = map[string]modelEntry{
	"OpenAIGPT4o":    {provider: "openai", model: "gpt-4o", build: func(c Config) Connector { return NewOpenAI(c) }},
	"Claude35Sonnet": {provider: "anthropic", model: "claude-3-5-sonnet-20241022", build: func(c Config) Connector { return NewAnthropic(c) }},
	"MistralLarge":   {provider: "mistral", model: "mistral-large-latest", build: func(c Config) Connector { return NewMistral(c) }},
}

// envKeyByProvider names the environment variable carrying each provider's
// API key.
var envKeyByProvider = map[string]string{
	"openai":    "API_KEY_OPENAI",
	"anthropic": "API_KEY_ANTHROPIC",
	"mistral":   "API_KEY_MISTRAL",
}

// ListModels returns the supported abstract model aliases, sorted.
func ListModels() []string {
	names := make([]string, 0, len(modelProviderMap))
	for n := range modelProviderMap {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveAPIKey finds the API key for a provider: environment variable
// first, then the OS keyring. Returns an error when neither is set.
func ResolveAPIKey(provider string) (string, error) {
	envKey, ok := envKeyByProvider[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	if v, err := keyring.Get(keyringService, envKey); err == nil && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no API key for provider %q: set %s or store it in the keyring", provider, envKey)
}

// StoreAPIKey saves a provider API key in the OS keyring.
func StoreAPIKey(provider, key string) error {
	envKey, ok := envKeyByProvider[provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	return keyring.Set(keyringService, envKey, key)
}

// Resolve builds a connector for an abstract model alias, resolving the API
// key through the environment/keyring chain.
func Resolve(alias string) (Connector, error) {
	entry, ok := modelProviderMap[alias]
	if !ok {
		return nil, fmt.Errorf("unsupported model %q (known: %v)", alias, ListModels())
	}
	key, err := ResolveAPIKey(entry.provider)
	if err != nil {
		return nil, err
	}
	return entry.build(Config{APIKey: key, Model: entry.model}), nil
}

// ResolveWith builds a connector for an abstract model alias with an
// explicit configuration, bypassing credential lookup. Useful for tests and
// for callers that manage keys themselves.
func ResolveWith(alias string, cfg Config) (Connector, error) {
	entry, ok := modelProviderMap[alias]
	if !ok {
		return nil, fmt.Errorf("unsupported model %q (known: %v)", alias, ListModels())
	}
	if cfg.Model == "" {
		cfg.Model = entry.model
	}
	return entry.build(cfg), nil
}
