package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventKind names a state change a party is told about.
type EventKind string

const (
	EventReservationCreated   EventKind = "reservation_created"
	EventApprovalSucceeded    EventKind = "approval_succeeded"
	EventReservationCancelled EventKind = "reservation_cancelled"
	EventFundsChanged         EventKind = "funds_changed"
)

// Payload carries the details of an event. Fields that do not apply are left zero.
type Payload struct {
	ListingID     *uuid.UUID `json:"listing_id,omitempty"`
	ListingStatus string     `json:"listing_status,omitempty"`
	Amount        int64      `json:"amount,omitempty"`
	Balance       *int64     `json:"balance,omitempty"`
	Counterparty  string     `json:"counterparty,omitempty"`
}

// Event is what a Sink receives.
type Event struct {
	ID          uuid.UUID `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Kind        EventKind `json:"kind"`
	Payload     Payload   `json:"payload"`
	Summary     string    `json:"summary"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier is fire-and-forget: implementations must not block the caller and
// have no way to report failure back.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, kind EventKind, payload Payload)
}

// Sink delivers a single event to the outside world.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, string, EventKind, Payload) {}

// LogSink writes events to a structured logger. It is the fallback when no
// external channel is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(ctx context.Context, e Event) error {
	s.Logger.InfoContext(ctx, "notification",
		"id", e.ID,
		"recipient", e.RecipientID,
		"kind", e.Kind,
		"summary", e.Summary,
	)

	return nil
}
