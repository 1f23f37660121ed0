package tools

import (
	"context"

	"github.com/nextlevelbuilder/gobutler/internal/providers"
)

// Tool is one unit of capability exposed to the LLM.
// Execute returns a human/LLM-readable string; errors are serialized to
// strings at the dispatch boundary and never abort a turn.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON-schema parameters object.
	Schema() map[string]any
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// Closer is implemented by tools that own an outbound HTTP session or
// other resources released at shutdown.
type Closer interface {
	Close() error
}

// Definition wraps a tool into the registry's OpenAI-shaped schema.
func Definition(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		},
	}
}

// Definitions converts an authorized tool map into provider definitions.
func Definitions(tools map[string]Tool) []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, Definition(t))
	}
	return defs
}

// Helpers for reading loosely typed LLM inputs.

func StringArg(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func FloatArg(input map[string]any, key string, def float64) float64 {
	if v, ok := input[key].(float64); ok {
		return v
	}
	return def
}

func IntArg(input map[string]any, key string, def int) int {
	if v, ok := input[key].(float64); ok {
		return int(v)
	}
	return def
}

func BoolArg(input map[string]any, key string) bool {
	v, ok := input[key].(bool)
	return ok && v
}

func MapArg(input map[string]any, key string) map[string]any {
	if v, ok := input[key].(map[string]any); ok {
		return v
	}
	return nil
}
