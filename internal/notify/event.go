// Package notify delivers per-user events (balance changes, task outcomes)
// to connected clients. Delivery is best-effort and at most once.
package notify

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	CreditUpdate  EventType = "credit_update"
	TaskSubmitted EventType = "task_submitted"
	TaskComplete  EventType = "task_complete"
	TaskFailed    EventType = "task_failed"
)

type TransactionSummary struct {
	ID          int64     `json:"id"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Event struct {
	Type        EventType           `json:"type"`
	UserID      string              `json:"user_id"`
	RequestID   string              `json:"request_id,omitempty"`
	TaskType    string              `json:"task_type,omitempty"`
	NewBalance  *int64              `json:"new_balance,omitempty"`
	Transaction *TransactionSummary `json:"transaction_summary,omitempty"`
	Result      any                 `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
}

//go:generate mockgen -destination=mock/sink.go -package=mock . Sink

// Sink accepts events. Implementations must not block callers for long and
// never report delivery failures back.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// LogSink writes every event to a logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Publish(ctx context.Context, ev Event) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}

	log.DebugContext(ctx, "notification",
		"type", ev.Type,
		"user_id", ev.UserID,
		"request_id", ev.RequestID,
		"task_type", ev.TaskType,
		"error", ev.Error,
	)
}

// Fanout publishes every event to each sink in order.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f {
		s.Publish(ctx, ev)
	}
}
