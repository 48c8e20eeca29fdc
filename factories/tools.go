package factories

import (
	"fmt"

	"duplexkit/core"
	"duplexkit/handlers/tools"
	"duplexkit/services/openai/executor"
)

// ToolsFactoryConfig declares the tool manifest. Every definition is executed
// by a chat-completion executor built from OpenAI.
type ToolsFactoryConfig struct {
	OpenAI      executor.Config `json:"openai" yaml:"openai"`
	Definitions []core.ToolDef  `json:"definitions,omitempty" yaml:"definitions,omitempty"`
}

func DefaultToolsFactoryConfig() ToolsFactoryConfig {
	return ToolsFactoryConfig{OpenAI: executor.DefaultConfig()}
}

// BuildRegistry registers one executor per definition. An empty manifest
// yields an empty registry and needs no API key.
func (c ToolsFactoryConfig) BuildRegistry(logger *core.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	for i, def := range c.Definitions {
		if def.Name == "" {
			return nil, fmt.Errorf("tools: definition %d has no name", i)
		}
		exec, err := executor.NewExecutor(c.OpenAI, def, logger)
		if err != nil {
			return nil, fmt.Errorf("tools: %q: %w", def.Name, err)
		}
		registry.Register(def, exec)
	}
	return registry, nil
}
