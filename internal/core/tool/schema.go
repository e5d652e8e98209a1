// Package tool declares model-callable tools with explicit JSON schemas and
// groups them into namespaced toolsets.
package tool

import "strings"

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// NormalizeType maps a declared type onto a JSON schema type; anything
// unrecognised becomes string.
func NormalizeType(t string) ParamType {
	switch ParamType(strings.ToLower(strings.TrimSpace(t))) {
	case TypeInteger:
		return TypeInteger
	case TypeNumber:
		return TypeNumber
	case TypeBoolean:
		return TypeBoolean
	case TypeArray:
		return TypeArray
	case TypeObject:
		return TypeObject
	default:
		return TypeString
	}
}

// Param declares one tool parameter. A parameter without a default is required.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Enum        []string
	Items       ParamType
	Default     any
	HasDefault  bool
	// Extra keys merged into the property schema, e.g. a nested items schema.
	Extra map[string]any
}

func String(name, description string) Param {
	return Param{Name: name, Type: TypeString, Description: description}
}

func Integer(name, description string) Param {
	return Param{Name: name, Type: TypeInteger, Description: description}
}

func Number(name, description string) Param {
	return Param{Name: name, Type: TypeNumber, Description: description}
}

func Boolean(name, description string) Param {
	return Param{Name: name, Type: TypeBoolean, Description: description}
}

func Array(name string, items ParamType, description string) Param {
	return Param{Name: name, Type: TypeArray, Items: items, Description: description}
}

func Object(name, description string) Param {
	return Param{Name: name, Type: TypeObject, Description: description}
}

func (p Param) WithEnum(values ...string) Param {
	p.Enum = append([]string(nil), values...)
	return p
}

func (p Param) WithDefault(v any) Param {
	p.Default = v
	p.HasDefault = true
	return p
}

func (p Param) WithSchema(extra map[string]any) Param {
	p.Extra = extra
	return p
}

func (p Param) property() map[string]any {
	typ := NormalizeType(string(p.Type))
	prop := map[string]any{
		"type":        string(typ),
		"description": p.Description,
	}
	if len(p.Enum) > 0 {
		prop["enum"] = p.Enum
	}
	if typ == TypeArray {
		items := p.Items
		if items == "" {
			items = TypeString
		}
		prop["items"] = map[string]any{"type": string(NormalizeType(string(items)))}
	}
	for k, v := range p.Extra {
		prop[k] = v
	}
	return prop
}

// Schema is the function-tool wire shape handed to the model.
type Schema struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

type FunctionSchema struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  ParametersSchema `json:"parameters"`
}

type ParametersSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]map[string]any `json:"properties"`
	Required             []string                  `json:"required"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

func buildSchema(name, description string, params []Param) Schema {
	props := make(map[string]map[string]any, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		props[p.Name] = p.property()
		if !p.HasDefault {
			required = append(required, p.Name)
		}
	}
	return Schema{
		Type: "function",
		Function: FunctionSchema{
			Name:        name,
			Description: description,
			Parameters: ParametersSchema{
				Type:       "object",
				Properties: props,
				Required:   required,
			},
		},
	}
}
