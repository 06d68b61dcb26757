// Package notify is the outbound notification contract. Delivery is
// fire-and-forget from the booking engine's point of view: a failed send is
// logged and swallowed, never rolled back into the booking transaction.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Event struct {
	BookingID  uuid.UUID
	ClientID   uuid.UUID
	StartAt    time.Time
	EndAt      time.Time
	OldStartAt *time.Time
	OldEndAt   *time.Time
	Reason     *string
}

type Notifier interface {
	BookingConfirmed(ctx context.Context, ev Event) error
	BookingRescheduled(ctx context.Context, ev Event) error
	BookingCancelled(ctx context.Context, ev Event) error
}

// LogNotifier just records each event. It stands in for the real email
// dispatcher, which lives outside this service.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) BookingConfirmed(ctx context.Context, ev Event) error {
	n.log("booking confirmed", ev)
	return nil
}

func (n *LogNotifier) BookingRescheduled(ctx context.Context, ev Event) error {
	n.log("booking rescheduled", ev)
	return nil
}

func (n *LogNotifier) BookingCancelled(ctx context.Context, ev Event) error {
	n.log("booking cancelled", ev)
	return nil
}

func (n *LogNotifier) log(msg string, ev Event) {
	n.logger.Info(msg,
		zap.String("booking_id", ev.BookingID.String()),
		zap.String("client_id", ev.ClientID.String()),
		zap.Time("start_at", ev.StartAt),
		zap.Time("end_at", ev.EndAt),
	)
}
