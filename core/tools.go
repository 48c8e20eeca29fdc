package core

type ParameterType string

const (
	ParameterTypeString  ParameterType = "string"
	ParameterTypeNumber  ParameterType = "number"
	ParameterTypeInteger ParameterType = "integer"
	ParameterTypeBoolean ParameterType = "boolean"
	ParameterTypeObject  ParameterType = "object"
)

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Required    bool          `json:"required" yaml:"required"`
	Example     string        `json:"example,omitempty" yaml:"example,omitempty"`
	Type        ParameterType `json:"type" yaml:"type"`
}

// ToolDef is one entry of the tool manifest declared to the remote host when
// a session opens.
type ToolDef struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// JSONSchema renders the parameters as a JSON-schema object.
func (t ToolDef) JSONSchema() map[string]any {
	properties := make(map[string]any, len(t.Parameters))
	required := make([]string, 0)
	for _, p := range t.Parameters {
		prop := map[string]any{
			"type":        string(p.normalizedType()),
			"description": p.Description,
		}
		if p.Example != "" {
			prop["example"] = p.Example
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (p Parameter) normalizedType() ParameterType {
	switch p.Type {
	case ParameterTypeString, ParameterTypeNumber, ParameterTypeInteger, ParameterTypeBoolean, ParameterTypeObject:
		return p.Type
	default:
		return ParameterTypeString
	}
}

// FunctionCall is a single tool invocation requested by the remote host.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse is the answer to exactly one FunctionCall. Error is set when
// the invocation failed; Result is then nil.
type ToolResponse struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Result map[string]any `json:"response,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (r ToolResponse) IsError() bool {
	return r.Error != ""
}
