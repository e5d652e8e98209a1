package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

// Handler runs a tool. owner is a fresh instance from the tool's owner
// factory, or nil when the tool is unbound.
type Handler func(ctx context.Context, owner any, args map[string]any) (any, error)

type Tool struct {
	name        string
	description string
	params      []Param
	newOwner    func() any
	handler     Handler

	schema    Schema
	validator *jsonschema.Schema
}

type Builder struct {
	name        string
	description string
	params      []Param
	newOwner    func() any
}

func New(name, description string) *Builder {
	return &Builder{name: strings.TrimSpace(name), description: description}
}

func (b *Builder) Param(p Param) *Builder {
	b.params = append(b.params, p)
	return b
}

// Owner declares a factory whose product is passed to the handler on every call.
func (b *Builder) Owner(factory func() any) *Builder {
	b.newOwner = factory
	return b
}

// Build derives the schema once and compiles its argument validator.
func (b *Builder) Build(handler Handler) (*Tool, error) {
	if b.name == "" {
		return nil, errors.New("tool name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("tool %s: handler is nil", b.name)
	}
	seen := make(map[string]struct{}, len(b.params))
	for _, p := range b.params {
		if p.Name == "" {
			return nil, fmt.Errorf("tool %s: parameter without name", b.name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("tool %s: duplicate parameter %s", b.name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	schema := buildSchema(b.name, b.description, b.params)
	validator, err := compileParameters(b.name, schema.Function.Parameters)
	if err != nil {
		return nil, err
	}
	return &Tool{
		name:        b.name,
		description: b.description,
		params:      append([]Param(nil), b.params...),
		newOwner:    b.newOwner,
		handler:     handler,
		schema:      schema,
		validator:   validator,
	}, nil
}

func (b *Builder) MustBuild(handler Handler) *Tool {
	t, err := b.Build(handler)
	if err != nil {
		panic(err)
	}
	return t
}

func compileParameters(name string, params ParametersSchema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s parameters: %w", name, err)
	}
	url := name + "_parameters.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add %s schema resource: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return schema, nil
}

func (t *Tool) Name() string        { return t.name }
func (t *Tool) Description() string { return t.description }
func (t *Tool) Schema() Schema      { return t.schema }

// Execute validates args against the schema, fills defaults, and invokes the handler.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	normalized, err := normalizeJSON(args)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidArgument, "tool "+t.name, err)
	}
	if err := t.validator.Validate(normalized); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidArgument, "tool "+t.name, err)
	}

	bound := normalized.(map[string]any)
	for _, p := range t.params {
		if _, ok := bound[p.Name]; !ok && p.HasDefault {
			bound[p.Name] = p.Default
		}
	}

	var owner any
	if t.newOwner != nil {
		owner = t.newOwner()
	}
	return t.handler(ctx, owner, bound)
}

// normalizeJSON round-trips v so the validator only sees JSON-decoded types.
func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
