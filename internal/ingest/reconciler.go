package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/chatlog/internal/history"
	"github.com/matheus3301/chatlog/internal/store"
)

// Reconciler manages history sync checkpoints.
type Reconciler struct {
	db *store.DB
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB) *Reconciler {
	return &Reconciler{db: db}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(ctx context.Context, key, value string) error {
	return r.db.SetCheckpoint(ctx, key, value)
}

// GetCheckpoint retrieves a sync checkpoint value. ok is false when the key
// was never set.
func (r *Reconciler) GetCheckpoint(ctx context.Context, key string) (string, bool, error) {
	return r.db.Checkpoint(ctx, key)
}

// LastHistoryBatch returns when the last history batch was stored, or the
// zero time if none was.
func (r *Reconciler) LastHistoryBatch(ctx context.Context) (time.Time, error) {
	v, ok, err := r.db.Checkpoint(ctx, CheckpointLastHistoryBatch)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

func isNotFound(err error) bool {
	return errors.Is(err, history.ErrNotFound)
}
