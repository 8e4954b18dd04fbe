package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Handler executes one task action. The payload has already been
// interpolated; the returned map becomes the task's stored result.
// Handlers must honor ctx cancellation, which is how task timeouts and
// workflow shutdown reach them.
type Handler func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Registry maps action types to handlers. Unknown action types fall
// through to the echo handler, so a workflow with a typo'd action still
// runs visibly instead of failing opaquely.
//
// The registry is an explicit dependency of the runner, not a global;
// embedders register their own actions next to the builtins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry creates a registry with the builtin actions installed:
// http_request, shell_command, python_script and sleep, with echo as
// the fallback.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		fallback: echoAction,
	}
	r.Register("echo", echoAction)
	r.Register("http_request", httpAction)
	r.Register("shell_command", shellAction)
	r.Register("python_script", pythonAction)
	r.Register("sleep", sleepAction)
	return r
}

// Register installs or replaces a handler for an action type.
func (r *Registry) Register(actionType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

// Resolve returns the handler for an action type, falling back to echo
// for unknown types.
func (r *Registry) Resolve(actionType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[actionType]; ok {
		return h
	}
	return r.fallback
}

// echoAction reflects the payload back as the result. It is both the
// builtin "echo" action and the fallback for unknown action types.
func echoAction(_ context.Context, payload map[string]any) (map[string]any, error) {
	return map[string]any{"echo": payload}, nil
}

const httpBodyLimit = 1 << 20 // 1 MiB of response body kept in the result

func httpAction(ctx context.Context, payload map[string]any) (map[string]any, error) {
	url, _ := payload["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_request: payload missing url")
	}
	method, _ := payload["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	if b, ok := payload["body"]; ok && b != nil {
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("http_request: encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("http_request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := payload["headers"].(map[string]any); ok {
		for name, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(name, s)
			}
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("http_request: read body: %w", err)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(data),
	}
	var parsed any
	if json.Unmarshal(data, &parsed) == nil {
		result["json"] = parsed
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("http_request: %s %s returned %d", method, url, resp.StatusCode)
	}
	return result, nil
}

func shellAction(ctx context.Context, payload map[string]any) (map[string]any, error) {
	command, _ := payload["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("shell_command: payload missing command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": cmd.ProcessState.ExitCode(),
	}
	if err != nil {
		return result, fmt.Errorf("shell_command: %w", err)
	}
	return result, nil
}

func pythonAction(ctx context.Context, payload map[string]any) (map[string]any, error) {
	script, _ := payload["script"].(string)
	if script == "" {
		return nil, fmt.Errorf("python_script: payload missing script")
	}

	cmd := exec.CommandContext(ctx, "python3", "-c", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": cmd.ProcessState.ExitCode(),
	}
	if err != nil {
		return result, fmt.Errorf("python_script: %w", err)
	}
	return result, nil
}

func sleepAction(ctx context.Context, payload map[string]any) (map[string]any, error) {
	seconds, ok := payload["seconds"].(float64)
	if !ok || seconds < 0 {
		return nil, fmt.Errorf("sleep: payload missing seconds")
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return map[string]any{"slept_seconds": seconds}, nil
}
