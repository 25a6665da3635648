package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"autolender/internal/storage"
)

// LogListener writes every event to the log.
func LogListener(logger zerolog.Logger) Listener {
	logger = logger.With().Str("component", "event_log").Logger()
	return ListenerFunc(func(_ context.Context, e Event) error {
		level := zerolog.DebugLevel
		switch e.Type {
		case TypeExecuted, TypeSuspended, TypeResumed:
			level = zerolog.InfoLevel
		case TypeRejected:
			level = zerolog.WarnLevel
		}
		evt := logger.WithLevel(level).Str("event", string(e.Type)).Str("kind", e.Kind)
		if e.ItemID != 0 {
			evt = evt.Int64("item_id", e.ItemID).Int64("loan_id", e.LoanID).Str("rating", e.Rating.String()).Str("amount", e.Amount.String())
		}
		if e.Reason != "" {
			evt = evt.Str("reason", e.Reason)
		}
		if e.Type == TypeStarted || e.Type == TypeCompleted {
			evt = evt.Int("items", e.Items).Str("balance", e.Balance.String())
		}
		evt.Bool("dry_run", e.DryRun).Msg("robot event")
		return nil
	})
}

// OperationRecorder persists audited operations.
type OperationRecorder interface {
	InsertOperation(ctx context.Context, op storage.Operation) error
}

// AuditListener stores executed and rejected operations.
func AuditListener(store OperationRecorder) Listener {
	return ListenerFunc(func(ctx context.Context, e Event) error {
		status := storage.OperationExecuted
		var reason *string
		switch e.Type {
		case TypeExecuted:
		case TypeRejected:
			status = storage.OperationRejected
			r := e.Reason
			reason = &r
		default:
			return nil
		}
		op := storage.Operation{
			Account:   e.Account,
			Kind:      e.Kind,
			ItemID:    e.ItemID,
			LoanID:    e.LoanID,
			Rating:    e.Rating.String(),
			Amount:    e.Amount,
			Status:    status,
			Reason:    reason,
			DryRun:    e.DryRun,
			CreatedAt: e.CreatedAt,
		}
		if err := store.InsertOperation(ctx, op); err != nil {
			return fmt.Errorf("audit operation: %w", err)
		}
		return nil
	})
}

// Recorder keeps every event it receives in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []Type {
	events := r.Events()
	out := make([]Type, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

var _ Listener = (*Recorder)(nil)
