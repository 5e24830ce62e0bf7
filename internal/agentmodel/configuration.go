package agentmodel

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// recognizedConversationConfig mirrors the keys spec.md §3 gives special
// meaning to inside AgentConfiguration.ConversationConfig. Unrecognized keys
// are preserved verbatim but not validated.
type recognizedConversationConfig struct {
	Temperature   *float64 `mapstructure:"temperature"`
	MaxTokens     *int     `mapstructure:"maxTokens"`
	HistoryLength *int     `mapstructure:"historyLength"`
}

// AgentConfiguration is an immutable value: once constructed via New, its
// fields are never mutated in place. Callers that need a modified copy build
// a new AgentConfiguration.
type AgentConfiguration struct {
	SystemPrompt       *string        `json:"system_prompt,omitempty"`
	LLMConfigID        *string        `json:"llm_config_id,omitempty"`
	ConversationConfig map[string]any `json:"conversation_config,omitempty"`
	Toolsets           []string       `json:"toolsets"`
	TemplateConfig     map[string]any `json:"template_config"`
}

// New validates and constructs an AgentConfiguration, enforcing spec.md §3's
// construction invariants: temperature in [0.0, 2.0] if present, maxTokens
// positive if present.
func New(systemPrompt, llmConfigID *string, conversationConfig map[string]any, toolsets []string, templateConfig map[string]any) (*AgentConfiguration, error) {
	cfg := &AgentConfiguration{
		SystemPrompt:       systemPrompt,
		LLMConfigID:        llmConfigID,
		ConversationConfig: conversationConfig,
		Toolsets:           toolsets,
		TemplateConfig:     templateConfig,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AgentConfiguration) validate() error {
	if c.ConversationConfig != nil {
		var parsed recognizedConversationConfig
		if err := mapstructure.Decode(c.ConversationConfig, &parsed); err != nil {
			return fmt.Errorf("conversationConfig: %w", err)
		}
		if parsed.Temperature != nil && (*parsed.Temperature < 0.0 || *parsed.Temperature > 2.0) {
			return fmt.Errorf("conversationConfig.temperature must be in [0.0, 2.0], got %v", *parsed.Temperature)
		}
		if parsed.MaxTokens != nil && *parsed.MaxTokens <= 0 {
			return fmt.Errorf("conversationConfig.maxTokens must be positive, got %d", *parsed.MaxTokens)
		}
	}
	if c.TemplateConfig == nil {
		c.TemplateConfig = map[string]any{}
	}
	return nil
}

// ResolveTemplateConfiguration produces the mapping the executor receives:
// templateConfig merged with {systemPrompt, llmConfigID, toolset_configs}
// and then conversationConfig, each source overriding keys from the one
// before it (spec.md §3).
func (c *AgentConfiguration) ResolveTemplateConfiguration() map[string]any {
	resolved := make(map[string]any, len(c.TemplateConfig)+4)
	for k, v := range c.TemplateConfig {
		resolved[k] = v
	}

	if c.SystemPrompt != nil {
		resolved["systemPrompt"] = *c.SystemPrompt
	}
	if c.LLMConfigID != nil {
		resolved["llmConfigID"] = *c.LLMConfigID
	}
	resolved["toolset_configs"] = append([]string(nil), c.Toolsets...)

	for k, v := range c.ConversationConfig {
		resolved[k] = v
	}

	return resolved
}
