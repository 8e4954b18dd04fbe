// Package version snapshots workflow definitions, diffs them, and
// rolls workflows back to earlier versions.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitq/orbit/workflow"
)

// Store is the slice of persistence the manager needs.
type Store interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *workflow.Workflow) error
	ReplaceTasks(ctx context.Context, workflowID uuid.UUID, tasks []*workflow.Task) error

	CreateVersion(ctx context.Context, v *workflow.Version) error
	GetVersion(ctx context.Context, workflowID uuid.UUID, number int) (*workflow.Version, error)
	GetActiveVersion(ctx context.Context, workflowID uuid.UUID) (*workflow.Version, error)
	ListVersions(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Version, error)
	SetActiveVersion(ctx context.Context, workflowID uuid.UUID, number int) error
	AppendChangeLog(ctx context.Context, e *workflow.ChangeLogEntry) error
	ListChangeLog(ctx context.Context, workflowID uuid.UUID) ([]*workflow.ChangeLogEntry, error)
}

// Manager creates and restores definition versions.
type Manager struct {
	st  Store
	log *zap.Logger
}

// NewManager creates a version manager. logger may be nil.
func NewManager(st Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{st: st, log: log}
}

// Checksum returns the SHA-256 hex digest of the definition's canonical
// JSON. Struct fields serialize in declaration order and Go writes map
// keys sorted, so equal definitions always hash equal.
func Checksum(def *workflow.Definition) (string, error) {
	canonical, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("canonicalize definition: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SnapshotOptions customizes a snapshot.
type SnapshotOptions struct {
	// Tag is an optional human label for the version, e.g. "v1.2.0".
	Tag string

	// Draft mints the version without activating it; the current
	// active version stays active until the draft is promoted by a
	// later non-draft snapshot or a rollback.
	Draft bool
}

// Snapshot captures the workflow's current definition as a new version
// and makes it active.
//
// Snapshot is idempotent: when the active version already carries the
// same checksum, it is returned unchanged and no version is minted. The
// first snapshot logs a "created" changelog entry, later ones log
// "updated".
func (m *Manager) Snapshot(ctx context.Context, workflowID uuid.UUID, summary, createdBy string) (*workflow.Version, error) {
	return m.SnapshotWith(ctx, workflowID, summary, createdBy, SnapshotOptions{})
}

// SnapshotWith is Snapshot with explicit options. Draft snapshots skip
// both activation and the unchanged-checksum shortcut, so a draft of
// the current definition can still be minted.
func (m *Manager) SnapshotWith(ctx context.Context, workflowID uuid.UUID, summary, createdBy string, opts SnapshotOptions) (*workflow.Version, error) {
	wf, err := m.st.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	def := wf.Definition()
	checksum, err := Checksum(&def)
	if err != nil {
		return nil, err
	}

	active, err := m.st.GetActiveVersion(ctx, workflowID)
	switch {
	case err == nil:
		if active.Checksum == checksum && !opts.Draft {
			m.log.Debug("definition unchanged, reusing active version",
				zap.String("workflow_id", workflowID.String()),
				zap.Int("version", active.Number))
			return active, nil
		}
	case !errors.Is(err, workflow.ErrNotFound):
		return nil, err
	}

	number := 1
	action := workflow.ChangeCreated
	fromVersion := 0
	if active != nil {
		number = active.Number + 1
		action = workflow.ChangeUpdated
		fromVersion = active.Number
	}
	// A deleted active version can leave numbering behind older rows;
	// walk the list to stay monotonic.
	if all, err := m.st.ListVersions(ctx, workflowID); err == nil && len(all) > 0 && all[0].Number >= number {
		number = all[0].Number + 1
		if action == workflow.ChangeCreated {
			action = workflow.ChangeUpdated
		}
	}

	v := &workflow.Version{
		ID:            uuid.New(),
		WorkflowID:    workflowID,
		Number:        number,
		Tag:           opts.Tag,
		Definition:    &def,
		Checksum:      checksum,
		ChangeSummary: summary,
		CreatedBy:     createdBy,
		IsActive:      !opts.Draft,
		IsDraft:       opts.Draft,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.st.CreateVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("create version %d: %w", number, err)
	}
	if !opts.Draft {
		if err := m.st.SetActiveVersion(ctx, workflowID, number); err != nil {
			return nil, fmt.Errorf("activate version %d: %w", number, err)
		}
	}
	if err := m.st.AppendChangeLog(ctx, &workflow.ChangeLogEntry{
		ID:          uuid.New(),
		WorkflowID:  workflowID,
		Action:      action,
		FromVersion: fromVersion,
		ToVersion:   number,
		Summary:     summary,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("append changelog: %w", err)
	}
	return v, nil
}

// List returns the workflow's versions, newest first. Drafts are
// filtered out unless includeDrafts is set.
func (m *Manager) List(ctx context.Context, workflowID uuid.UUID, includeDrafts bool) ([]*workflow.Version, error) {
	all, err := m.st.ListVersions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if includeDrafts {
		return all, nil
	}
	out := make([]*workflow.Version, 0, len(all))
	for _, v := range all {
		if !v.IsDraft {
			out = append(out, v)
		}
	}
	return out, nil
}

// Get returns one version by number.
func (m *Manager) Get(ctx context.Context, workflowID uuid.UUID, number int) (*workflow.Version, error) {
	return m.st.GetVersion(ctx, workflowID, number)
}

// ChangeLog returns the workflow's changelog in append order.
func (m *Manager) ChangeLog(ctx context.Context, workflowID uuid.UUID) ([]*workflow.ChangeLogEntry, error) {
	return m.st.ListChangeLog(ctx, workflowID)
}

// Compare diffs two versions of the same workflow.
func (m *Manager) Compare(ctx context.Context, workflowID uuid.UUID, from, to int) (*Diff, error) {
	a, err := m.st.GetVersion(ctx, workflowID, from)
	if err != nil {
		return nil, err
	}
	b, err := m.st.GetVersion(ctx, workflowID, to)
	if err != nil {
		return nil, err
	}
	return DiffDefinitions(a.Definition, b.Definition)
}

// Rollback restores the workflow's full definition, task list included,
// from the target version.
//
// The restored state is snapshotted as a new version, so history stays
// append-only: rolling back from 5 to 2 produces version 6 whose
// content matches version 2.
func (m *Manager) Rollback(ctx context.Context, workflowID uuid.UUID, target int) (*workflow.Version, error) {
	tv, err := m.st.GetVersion(ctx, workflowID, target)
	if err != nil {
		return nil, err
	}
	wf, err := m.st.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status == workflow.StatusRunning {
		return nil, workflow.NewError("INVALID_TRANSITION",
			"cannot roll back a running workflow", workflow.ErrInvalidTransition)
	}

	current := 0
	if active, err := m.st.GetActiveVersion(ctx, workflowID); err == nil {
		current = active.Number
	}

	wf.Name = tv.Definition.Name
	wf.Description = tv.Definition.Description
	wf.UpdatedAt = time.Now().UTC()
	if err := m.st.UpdateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("restore workflow row: %w", err)
	}
	if err := m.st.ReplaceTasks(ctx, workflowID, tv.Definition.Materialize(workflowID)); err != nil {
		return nil, fmt.Errorf("restore task list: %w", err)
	}

	summary := fmt.Sprintf("rolled back to version %d", target)
	v, err := m.Snapshot(ctx, workflowID, summary, "")
	if err != nil {
		return nil, err
	}
	if err := m.st.AppendChangeLog(ctx, &workflow.ChangeLogEntry{
		ID:          uuid.New(),
		WorkflowID:  workflowID,
		Action:      workflow.ChangeRolledBack,
		FromVersion: current,
		ToVersion:   target,
		Summary:     summary,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("append changelog: %w", err)
	}

	m.log.Info("workflow rolled back",
		zap.String("workflow_id", workflowID.String()),
		zap.Int("target", target),
		zap.Int("new_version", v.Number))
	return v, nil
}
