// Package template renders {{placeholder}} structures and materializes
// parameterized workflow templates into concrete definitions.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	quotedPlaceholder = regexp.MustCompile(`"\{\{\s*([^}"\s]+)\s*\}\}"`)
	barePlaceholder   = regexp.MustCompile(`\{\{\s*([^}\s]+)\s*\}\}`)
)

// Render substitutes {{path}} placeholders in an arbitrary value tree.
//
// The tree is canonicalized to JSON and placeholders are resolved
// against the context by dotted traversal ("item.name", "items.0.id").
// A placeholder that is an entire JSON string ("{{item}}") is replaced
// by the JSON encoding of the value, preserving its type; a placeholder
// embedded in a larger string gets the value's string form. Unresolved
// paths stay in place.
func Render(tpl any, ctx map[string]any) (any, error) {
	raw, err := json.Marshal(tpl)
	if err != nil {
		return nil, fmt.Errorf("canonicalize template: %w", err)
	}

	rendered := quotedPlaceholder.ReplaceAllStringFunc(string(raw), func(m string) string {
		path := quotedPlaceholder.FindStringSubmatch(m)[1]
		value, ok := lookup(ctx, path)
		if !ok {
			return m
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return m
		}
		return string(encoded)
	})

	rendered = barePlaceholder.ReplaceAllStringFunc(rendered, func(m string) string {
		path := barePlaceholder.FindStringSubmatch(m)[1]
		value, ok := lookup(ctx, path)
		if !ok {
			return m
		}
		return jsonStringEscape(stringForm(value))
	})

	var out any
	if err := json.Unmarshal([]byte(rendered), &out); err != nil {
		return nil, fmt.Errorf("parse rendered template: %w", err)
	}
	return out, nil
}

// lookup walks a dotted path through nested maps and slices. Numeric
// segments index into slices.
func lookup(ctx map[string]any, path string) (any, bool) {
	var current any = ctx
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// stringForm renders a value for embedding inside a larger string.
// Strings pass through unquoted; everything else uses its compact JSON
// encoding.
func stringForm(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

// jsonStringEscape escapes a replacement so it stays valid inside the
// JSON string literal it is spliced into.
func jsonStringEscape(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return s
	}
	// Trim the surrounding quotes json.Marshal adds.
	return string(encoded[1 : len(encoded)-1])
}
