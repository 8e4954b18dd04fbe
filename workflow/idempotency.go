package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Idempotency key states.
const (
	IdemProcessing = "processing"
	IdemCompleted  = "completed"
	IdemFailed     = "failed"
)

// IdempotencyKey guards a task execution against duplicate side
// effects. The key string identifies the logical operation; see
// idempotency.Key for its construction.
type IdempotencyKey struct {
	ID  uuid.UUID `json:"id"`
	Key string    `json:"key"`

	WorkflowID uuid.UUID `json:"workflow_id"`
	TaskName   string    `json:"task_name"`

	// State is processing, completed or failed.
	State  string         `json:"state"`
	Result map[string]any `json:"result,omitempty"`

	// ErrorMessage holds the failure summary on failed records.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the key has passed its TTL. Expired keys are
// treated as absent.
func (k *IdempotencyKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.After(now)
}
