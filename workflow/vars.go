package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Variable is a named plaintext value. Workflow-scoped variables carry
// the owning workflow's id; global variables use uuid.Nil and are
// visible to every workflow.
type Variable struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Secret is a named value stored encrypted at rest. Value holds the
// ciphertext; decryption happens only at interpolation time and
// plaintext is never persisted or logged.
type Secret struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	Key         string `json:"key"`
	Value       string `json:"-"`
	Description string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GlobalScope is the workflow id under which global variables and
// secrets are stored.
var GlobalScope = uuid.Nil
