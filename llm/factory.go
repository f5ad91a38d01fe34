// LLM Provider Factory - builder-first API for creating reasoning service clients.
//
//	claude, err := llm.ProviderAnthropic.FromEnv()
//	custom, err := llm.ProviderOpenAI.
//	    Model(llm.ModelOpenAIGPT4o).
//	    MaxTokens(8192).
//	    Temperature(0.3).
//	    FromEnv()

package llm

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
)

// ProviderType represents supported LLM providers.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI provider (GPT models).
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic provider (Claude models).
	ProviderAnthropic
	// ProviderDeepSeek is the DeepSeek provider.
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini provider.
	ProviderGemini
)

type constructor func(apiKey, model string, maxTokens uint32, temperature float32) Provider

// providerSpec is everything the factory knows about one provider.
type providerSpec struct {
	name         string
	aliases      []string
	keyEnv       string
	modelEnv     string
	defaultModel string
	build        constructor
}

var providerSpecs = map[ProviderType]providerSpec{
	ProviderOpenAI: {
		name: "openai", aliases: []string{"gpt"},
		keyEnv: "OPENAI_API_KEY", modelEnv: "OPENAI_MODEL",
		defaultModel: ModelOpenAIGPT4o,
		build: func(k, m string, t uint32, temp float32) Provider {
			return NewOpenAIProvider(k, m, t, temp)
		},
	},
	ProviderAnthropic: {
		name: "anthropic", aliases: []string{"claude"},
		keyEnv: "ANTHROPIC_API_KEY", modelEnv: "ANTHROPIC_MODEL",
		defaultModel: ModelAnthropicClaudeSonnet4,
		build: func(k, m string, t uint32, temp float32) Provider {
			return NewAnthropicProvider(k, m, t, temp)
		},
	},
	ProviderDeepSeek: {
		name:   "deepseek",
		keyEnv: "DEEPSEEK_API_KEY", modelEnv: "DEEPSEEK_MODEL",
		defaultModel: ModelDeepSeekChat,
		build: func(k, m string, t uint32, temp float32) Provider {
			return NewDeepSeekProvider(k, m, t, temp)
		},
	},
	ProviderGemini: {
		name: "gemini", aliases: []string{"google"},
		keyEnv: "GEMINI_API_KEY", modelEnv: "GEMINI_MODEL",
		defaultModel: ModelGeminiFlash25,
		build: func(k, m string, t uint32, temp float32) Provider {
			return NewGeminiProvider(k, m, t, temp)
		},
	},
}

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	if spec, ok := providerSpecs[p]; ok {
		return spec.name
	}
	return "unknown"
}

// EnvVar returns the environment variable holding this provider's API key.
func (p ProviderType) EnvVar() string {
	return providerSpecs[p].keyEnv
}

// ModelEnvVar returns the environment variable that overrides the model.
func (p ProviderType) ModelEnvVar() string {
	return providerSpecs[p].modelEnv
}

// DefaultModel returns the default model for this provider.
func (p ProviderType) DefaultModel() string {
	return providerSpecs[p].defaultModel
}

// ProviderNames returns the canonical provider names, sorted.
func ProviderNames() []string {
	names := make([]string, 0, len(providerSpecs))
	for _, spec := range providerSpecs {
		names = append(names, spec.name)
	}
	sort.Strings(names)
	return names
}

// ParseProviderType parses a provider name or alias (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for p, spec := range providerSpecs {
		if spec.name == want || slices.Contains(spec.aliases, want) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown provider: %s", s)
}

// FromEnv creates a provider with defaults, reading API key from environment.
func (p ProviderType) FromEnv() (Provider, error) {
	return NewProviderBuilder(p).FromEnv()
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// ProviderBuilder is a builder for configuring LLM providers.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	maxTokens    uint32
	temperature  *float32
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// Model sets the model to use. Empty keeps the provider default.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets temperature (0.0 = deterministic, 1.0 = creative).
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// FromEnv builds the provider, reading API key from environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	envVar := b.providerType.EnvVar()
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", b.providerType, envVar)
	}
	return b.APIKey(apiKey)
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(apiKey string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: empty API key", b.providerType)
	}

	model := b.model
	if model == "" {
		model = b.providerType.DefaultModel()
	}

	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	temperature := float32(0.7)
	if b.temperature != nil {
		temperature = *b.temperature
	}

	spec, ok := providerSpecs[b.providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
	return spec.build(apiKey, model, maxTokens, temperature), nil
}

// OpenAI model identifiers.
const (
	ModelOpenAIGPT4o     = "gpt-4o"
	ModelOpenAIGPT4oMini = "gpt-4o-mini"
	ModelOpenAIO3Mini    = "o3-mini"
)

// Anthropic model identifiers.
const (
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
	ModelAnthropicClaudeOpus4   = "claude-opus-4-20250514"
)

// DeepSeek model identifiers.
const (
	ModelDeepSeekChat     = "deepseek-chat"
	ModelDeepSeekReasoner = "deepseek-reasoner"
)

// Gemini model identifiers.
const (
	ModelGeminiFlash25 = "gemini-2.5-flash"
	ModelGeminiPro25   = "gemini-2.5-pro"
)
