package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Version is an immutable snapshot of a workflow definition. Versions
// are numbered 1..N per workflow and at most one is active at a time.
// Draft versions are numbered like any other but never activate.
type Version struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	Number     int       `json:"version_number"`

	// Tag is an optional human label such as "v1.2.0".
	Tag string `json:"version_tag,omitempty"`

	Definition *Definition `json:"definition"`
	Checksum   string      `json:"checksum"`

	ChangeSummary string `json:"change_summary,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
	IsActive      bool   `json:"is_active"`
	IsDraft       bool   `json:"is_draft"`

	CreatedAt time.Time `json:"created_at"`
}

// ChangeLogEntry records one versioning action against a workflow. The
// log is append-only.
type ChangeLogEntry struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Action is one of "created", "updated", "rolled_back".
	Action      string `json:"action"`
	FromVersion int    `json:"from_version,omitempty"`
	ToVersion   int    `json:"to_version"`
	Summary     string `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Change log actions.
const (
	ChangeCreated    = "created"
	ChangeUpdated    = "updated"
	ChangeRolledBack = "rolled_back"
)
