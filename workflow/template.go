package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Template parameter types.
const (
	ParamString  = "string"
	ParamInteger = "integer"
	ParamFloat   = "float"
	ParamBoolean = "boolean"
	ParamArray   = "array"
	ParamObject  = "object"
)

// ParamDef declares one template parameter.
type ParamDef struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required"`
	Default     any             `json:"default,omitempty"`
	Validation  *ParamValidator `json:"validation,omitempty"`
}

// ParamValidator constrains a parameter value. Min and Max apply to
// numeric types; Enum applies to strings.
type ParamValidator struct {
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Enum []string `json:"enum,omitempty"`
}

// Template is a reusable, parameterized workflow definition. Body holds
// the definition with {{param}} placeholders; Parameters declares what
// may be substituted into it.
type Template struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`

	Parameters map[string]ParamDef `json:"parameters"`
	Body       map[string]any      `json:"body"`

	UsageCount int        `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTemplate creates a template with zero usage.
func NewTemplate(name, description string, params map[string]ParamDef, body map[string]any) *Template {
	now := time.Now().UTC()
	return &Template{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Parameters:  params,
		Body:        body,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
