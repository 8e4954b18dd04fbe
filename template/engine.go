package template

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/orbitq/orbit/workflow"
)

// Store is the slice of persistence the engine needs.
type Store interface {
	CreateTemplate(ctx context.Context, t *workflow.Template) error
	GetTemplate(ctx context.Context, name string) (*workflow.Template, error)
	ListTemplates(ctx context.Context) ([]*workflow.Template, error)
	UpdateTemplate(ctx context.Context, t *workflow.Template) error
	DeleteTemplate(ctx context.Context, name string) error
}

// Engine validates template parameters and instantiates templates into
// workflow definitions.
type Engine struct {
	st  Store
	log *zap.Logger
}

// NewEngine creates a template engine. logger may be nil.
func NewEngine(st Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{st: st, log: log}
}

// Register stores a new template.
func (e *Engine) Register(ctx context.Context, t *workflow.Template) error {
	return e.st.CreateTemplate(ctx, t)
}

// List returns all stored templates.
func (e *Engine) List(ctx context.Context) ([]*workflow.Template, error) {
	return e.st.ListTemplates(ctx)
}

// Delete removes a template by name.
func (e *Engine) Delete(ctx context.Context, name string) error {
	return e.st.DeleteTemplate(ctx, name)
}

// Instantiate materializes a named template into a workflow definition.
//
// The given parameters are validated against the template's
// declarations, defaults are merged in, and the body is rendered with
// the resulting map. When the caller provides no workflow_name, one is
// derived from the template name and the current timestamp. Successful
// instantiation bumps the template's usage count.
func (e *Engine) Instantiate(ctx context.Context, name string, params map[string]any) (*workflow.Definition, error) {
	tpl, err := e.st.GetTemplate(ctx, name)
	if err != nil {
		return nil, err
	}

	merged, err := ValidateParams(tpl.Parameters, params)
	if err != nil {
		return nil, err
	}
	if _, ok := merged["workflow_name"]; !ok {
		merged["workflow_name"] = fmt.Sprintf("%s-%d", tpl.Name, time.Now().UTC().Unix())
	}

	rendered, err := Render(tpl.Body, merged)
	if err != nil {
		return nil, err
	}

	def, err := toDefinition(rendered)
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = merged["workflow_name"].(string)
	}

	now := time.Now().UTC()
	tpl.UsageCount++
	tpl.LastUsedAt = &now
	tpl.UpdatedAt = now
	if err := e.st.UpdateTemplate(ctx, tpl); err != nil {
		// Usage tracking is best effort; the instantiation stands.
		e.log.Warn("failed to bump template usage count",
			zap.String("template", tpl.Name), zap.Error(err))
	}
	return def, nil
}

func toDefinition(rendered any) (*workflow.Definition, error) {
	raw, err := json.Marshal(rendered)
	if err != nil {
		return nil, fmt.Errorf("encode rendered body: %w", err)
	}
	def := new(workflow.Definition)
	if err := json.Unmarshal(raw, def); err != nil {
		return nil, workflow.NewError("INVALID_TEMPLATE",
			"rendered template is not a workflow definition", err)
	}
	return def, nil
}

// ValidateParams checks the given parameter map against the
// declarations and returns it with defaults merged in. Required
// parameters must be present, values must match their declared type,
// and min/max/enum constraints must hold. Parameters not declared by
// the template are rejected.
func ValidateParams(defs map[string]workflow.ParamDef, given map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(defs))

	// Deterministic error ordering.
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs[name]
		value, present := given[name]
		if !present {
			if def.Required {
				return nil, workflow.NewError("MISSING_PARAMETER",
					fmt.Sprintf("required parameter %q not provided", name), nil)
			}
			if def.Default != nil {
				merged[name] = def.Default
			}
			continue
		}
		if err := checkType(name, def.Type, value); err != nil {
			return nil, err
		}
		if err := checkConstraints(name, def.Validation, value); err != nil {
			return nil, err
		}
		merged[name] = value
	}

	for name := range given {
		if _, ok := defs[name]; !ok && name != "workflow_name" {
			return nil, workflow.NewError("UNKNOWN_PARAMETER",
				fmt.Sprintf("parameter %q is not declared by the template", name), nil)
		}
	}
	if wn, ok := given["workflow_name"]; ok {
		merged["workflow_name"] = wn
	}
	return merged, nil
}

func checkType(name, typ string, value any) error {
	ok := false
	switch typ {
	case workflow.ParamString:
		_, ok = value.(string)
	case workflow.ParamInteger:
		switch v := value.(type) {
		case int, int64:
			ok = true
		case float64:
			ok = v == float64(int64(v))
		}
	case workflow.ParamFloat:
		switch value.(type) {
		case float64, int, int64:
			ok = true
		}
	case workflow.ParamBoolean:
		_, ok = value.(bool)
	case workflow.ParamArray:
		_, ok = value.([]any)
	case workflow.ParamObject:
		_, ok = value.(map[string]any)
	default:
		return workflow.NewError("INVALID_TEMPLATE",
			fmt.Sprintf("parameter %q declares unknown type %q", name, typ), nil)
	}
	if !ok {
		return workflow.NewError("INVALID_PARAMETER",
			fmt.Sprintf("parameter %q must be of type %s", name, typ), nil)
	}
	return nil
}

func checkConstraints(name string, v *workflow.ParamValidator, value any) error {
	if v == nil {
		return nil
	}
	if num, ok := asFloat(value); ok {
		if v.Min != nil && num < *v.Min {
			return workflow.NewError("INVALID_PARAMETER",
				fmt.Sprintf("parameter %q below minimum %v", name, *v.Min), nil)
		}
		if v.Max != nil && num > *v.Max {
			return workflow.NewError("INVALID_PARAMETER",
				fmt.Sprintf("parameter %q above maximum %v", name, *v.Max), nil)
		}
	}
	if s, ok := value.(string); ok && len(v.Enum) > 0 {
		for _, allowed := range v.Enum {
			if s == allowed {
				return nil
			}
		}
		return workflow.NewError("INVALID_PARAMETER",
			fmt.Sprintf("parameter %q must be one of %v", name, v.Enum), nil)
	}
	return nil
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
