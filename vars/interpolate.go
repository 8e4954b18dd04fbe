package vars

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitq/orbit/workflow"
)

// Reference scopes.
const (
	ScopeVar          = "var"
	ScopeSecret       = "secret"
	ScopeGlobal       = "global"
	ScopeGlobalSecret = "global_secret"
)

var refPattern = regexp.MustCompile(`\$\{(var|secret|global|global_secret):([^}]+)\}`)

// Interpolate walks a value tree and substitutes ${scope:key}
// references in every string it finds, recursing through maps and
// slices. The input is not mutated.
//
// Missing references are left in place and logged as warnings. That is
// deliberate: a visible placeholder surfaces configuration drift where
// an empty string would hide it.
func (s *Service) Interpolate(ctx context.Context, workflowID uuid.UUID, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return s.interpolateString(ctx, workflowID, v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			res, err := s.Interpolate(ctx, workflowID, elem)
			if err != nil {
				return nil, err
			}
			out[key] = res
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			res, err := s.Interpolate(ctx, workflowID, elem)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	default:
		return value, nil
	}
}

func (s *Service) interpolateString(ctx context.Context, workflowID uuid.UUID, in string) (string, error) {
	matches := refPattern.FindAllStringSubmatchIndex(in, -1)
	if len(matches) == 0 {
		return in, nil
	}

	var out []byte
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		scope := in[m[2]:m[3]]
		key := in[m[4]:m[5]]

		out = append(out, in[last:start]...)
		resolved, err := s.resolve(ctx, workflowID, scope, key)
		if errors.Is(err, workflow.ErrNotFound) {
			s.log.Warn("unresolved reference left in place",
				zap.String("scope", scope),
				zap.String("key", key),
				zap.String("workflow_id", workflowID.String()))
			out = append(out, in[start:end]...)
		} else if err != nil {
			return "", err
		} else {
			out = append(out, resolved...)
		}
		last = end
	}
	out = append(out, in[last:]...)
	return string(out), nil
}

func (s *Service) resolve(ctx context.Context, workflowID uuid.UUID, scope, key string) (string, error) {
	switch scope {
	case ScopeVar:
		return s.GetVariable(ctx, workflowID, key)
	case ScopeSecret:
		return s.GetSecretValue(ctx, workflowID, key)
	case ScopeGlobal:
		return s.GetVariable(ctx, workflow.GlobalScope, key)
	case ScopeGlobalSecret:
		return s.GetSecretValue(ctx, workflow.GlobalScope, key)
	default:
		// Unreachable while the pattern and the scope list agree.
		return "", workflow.ErrNotFound
	}
}
