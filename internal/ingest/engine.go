// Package ingest feeds classified protocol events from the bus into the
// history writer.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatlog/internal/bus"
	"github.com/matheus3301/chatlog/internal/directory"
	"github.com/matheus3301/chatlog/internal/history"
	"github.com/matheus3301/chatlog/internal/store"
	"go.uber.org/zap"
)

// CheckpointLastHistoryBatch records when the last history-sync batch was stored.
const CheckpointLastHistoryBatch = "last_history_batch"

// BatchStats is the payload of sync.history_batch events.
type BatchStats struct {
	Received int
	Stored   int
}

// Engine consumes "wa." events and writes them to history. Write failures
// are logged and ingestion continues.
type Engine struct {
	writer     *history.Writer
	dir        *directory.Directory
	reconciler *Reconciler
	bus        *bus.Bus
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewEngine creates a new ingestion engine.
func NewEngine(writer *history.Writer, dir *directory.Directory, reconciler *Reconciler, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		writer:     writer,
		dir:        dir,
		reconciler: reconciler,
		bus:        b,
		logger:     logger,
	}
}

// Start subscribes to inbound WhatsApp events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.SubscribeQueue("wa.")

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	var err error
	switch p := evt.Payload.(type) {
	case *history.MessageEvent:
		if evt.Kind == bus.KindWADeliveryFailed {
			err = e.writer.WriteDeliveryFailure(ctx, p)
		} else {
			err = e.writer.WriteMessage(ctx, p)
		}
	case *history.GroupMessageEvent:
		err = e.writer.WriteGroupMessage(ctx, p)
	case history.RoomStatus:
		err = e.writer.WriteRoomStatus(ctx, p)
	case []history.Ref:
		err = e.IngestReceipts(ctx, p)
	case []history.Event:
		err = e.IngestHistoryBatch(ctx, p)
	case []store.Contact:
		err = e.dir.Sync(ctx, p)
		if err == nil {
			e.logger.Info("contacts synced", zap.Int("count", len(p)))
		}
	default:
		e.logger.Debug("ignoring event", zap.String("kind", evt.Kind))
		return
	}
	if err != nil {
		e.logger.Error("failed to ingest event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// IngestReceipts marks every referenced record read. Receipts for messages
// that were never stored are skipped.
func (e *Engine) IngestReceipts(ctx context.Context, refs []history.Ref) error {
	var firstErr error
	marked := 0
	for _, ref := range refs {
		err := e.writer.MarkRead(ctx, ref, true)
		switch {
		case err == nil:
			marked++
		case isNotFound(err):
		case firstErr == nil:
			firstErr = err
		}
	}
	e.logger.Debug("receipts ingested", zap.Int("refs", len(refs)), zap.Int("marked", marked))
	return firstErr
}

// IngestHistoryBatch stores a history-sync batch in one transaction and
// advances the batch checkpoint.
func (e *Engine) IngestHistoryBatch(ctx context.Context, events []history.Event) error {
	n, err := e.writer.WriteBatch(ctx, events)
	if err != nil {
		return fmt.Errorf("history batch: %w", err)
	}
	if err := e.reconciler.UpdateCheckpoint(ctx, CheckpointLastHistoryBatch, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("history batch checkpoint: %w", err)
	}
	e.logger.Info("history batch ingested", zap.Int("received", len(events)), zap.Int("stored", n))
	e.bus.Publish(bus.NewEvent(bus.KindSyncHistoryBatch, BatchStats{Received: len(events), Stored: n}))
	return nil
}
