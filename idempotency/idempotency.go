// Package idempotency guards task executions against duplicate side
// effects. Every run of a task claims a deterministic key; the outcome
// of the claim tells the caller to proceed, to return a cached result,
// or to reject an in-flight duplicate.
package idempotency

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

	"github.com/orbitq/orbit/store"
	"github.com/orbitq/orbit/workflow"
)

// DefaultTTL is how long a record shields its key. Expired records are
// treated as absent.
const DefaultTTL = 24 * time.Hour

// Store is the slice of persistence the guard needs.
type Store interface {
	GetIdempotencyKey(ctx context.Context, key string) (*workflow.IdempotencyKey, error)
	PutIdempotencyKey(ctx context.Context, k *workflow.IdempotencyKey) error
	UpdateIdempotencyKey(ctx context.Context, k *workflow.IdempotencyKey) error
	DeleteExpiredKeys(ctx context.Context, now time.Time) (int, error)
}

// Key derives the deterministic claim string for one task execution:
// "workflowID:taskName" with, when a payload is present, a third
// segment holding the first 16 hex characters of the SHA-256 of the
// payload's canonical JSON. Go's encoding/json writes map keys sorted,
// which is exactly the canonical form the hash needs.
func Key(workflowID uuid.UUID, taskName string, payload map[string]any) (string, error) {
	key := workflowID.String() + ":" + taskName
	if len(payload) == 0 {
		return key, nil
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return key + ":" + hex.EncodeToString(sum[:])[:16], nil
}

// Outcome is the verdict of a claim.
type Outcome struct {
	// Duplicate is set when a completed record matched; Result holds
	// its cached payload and the caller must not re-run the task.
	Duplicate bool
	Result    map[string]any

	// InFlight is set when another execution currently holds the key.
	// Policy is reject, not wait.
	InFlight bool
}

// Guard issues and resolves idempotency claims against a Store.
type Guard struct {
	st  Store
	ttl time.Duration
	log *zap.Logger
}

// NewGuard creates a guard. A non-positive ttl falls back to
// DefaultTTL; logger may be nil.
func NewGuard(st Store, ttl time.Duration, log *zap.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{st: st, ttl: ttl, log: log}
}

// Begin claims the key for an execution about to run.
//
// Missing or expired records, and failed ones (retry eligible), yield
// a zero Outcome and a fresh processing record. A completed record
// yields Duplicate with the cached result. A processing record yields
// InFlight. Two racing claims are serialized by the store's uniqueness
// guarantee; the loser sees InFlight.
func (g *Guard) Begin(ctx context.Context, workflowID uuid.UUID, taskName string, payload map[string]any) (string, Outcome, error) {
	key, err := Key(workflowID, taskName, payload)
	if err != nil {
		return "", Outcome{}, err
	}
	now := time.Now().UTC()

	rec, err := g.st.GetIdempotencyKey(ctx, key)
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		// Fall through to claim.
	case err != nil:
		return "", Outcome{}, fmt.Errorf("lookup idempotency key: %w", err)
	case rec.Expired(now):
		// Treated as absent; the claim below replaces it.
	case rec.State == workflow.IdemCompleted:
		g.log.Debug("idempotency hit, returning cached result",
			zap.String("key", key))
		return key, Outcome{Duplicate: true, Result: rec.Result}, nil
	case rec.State == workflow.IdemProcessing:
		return key, Outcome{InFlight: true}, nil
	case rec.State == workflow.IdemFailed:
		// Retry eligible. Re-arm the existing record.
		rec.State = workflow.IdemProcessing
		rec.Result = nil
		rec.ErrorMessage = ""
		rec.ExpiresAt = now.Add(g.ttl)
		if err := g.st.UpdateIdempotencyKey(ctx, rec); err != nil {
			return "", Outcome{}, fmt.Errorf("rearm idempotency key: %w", err)
		}
		return key, Outcome{}, nil
	}

	claim := &workflow.IdempotencyKey{
		ID:         uuid.New(),
		Key:        key,
		WorkflowID: workflowID,
		TaskName:   taskName,
		State:      workflow.IdemProcessing,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.ttl),
	}
	err = g.st.PutIdempotencyKey(ctx, claim)
	if errors.Is(err, store.ErrConflict) {
		// Lost the race to a concurrent claim.
		return key, Outcome{InFlight: true}, nil
	}
	if err != nil {
		return "", Outcome{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	return key, Outcome{}, nil
}

// Complete marks the key's execution finished and caches its result for
// later duplicates.
func (g *Guard) Complete(ctx context.Context, key string, result map[string]any) error {
	rec, err := g.st.GetIdempotencyKey(ctx, key)
	if err != nil {
		return fmt.Errorf("load idempotency key: %w", err)
	}
	rec.State = workflow.IdemCompleted
	rec.Result = result
	rec.ErrorMessage = ""
	return g.st.UpdateIdempotencyKey(ctx, rec)
}

// Fail marks the key's execution failed, leaving it retry eligible. The
// failure summary is stored on the record so later inspection shows why
// the execution went down.
func (g *Guard) Fail(ctx context.Context, key, errMsg string) error {
	rec, err := g.st.GetIdempotencyKey(ctx, key)
	if err != nil {
		return fmt.Errorf("load idempotency key: %w", err)
	}
	rec.State = workflow.IdemFailed
	rec.Result = nil
	rec.ErrorMessage = errMsg
	return g.st.UpdateIdempotencyKey(ctx, rec)
}

// Sweep deletes expired records and reports how many went.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	return g.st.DeleteExpiredKeys(ctx, time.Now().UTC())
}

// RunSweeper sweeps on the given interval until the context is
// cancelled. Intended to run as a background goroutine.
func (g *Guard) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.Sweep(ctx)
			if err != nil {
				g.log.Warn("idempotency sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				g.log.Info("swept expired idempotency keys", zap.Int("count", n))
			}
		}
	}
}
