package services

import (
	"context"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/log"

	"github.com/google/uuid"
)

// DefaultStoreTimeout bounds a single service operation against the store.
const DefaultStoreTimeout = 5 * time.Second

// EventPublisher is satisfied by *amqp.Client.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event *amqp.LedgerEvent) error
}

// Invalidator is told synchronously that a user's ledger changed.
type Invalidator interface {
	Invalidate(userID string)
}

// Options configures the ledger-facing services. Zero values fall back to
// defaults.
type Options struct {
	Timeout     time.Duration
	Publisher   EventPublisher
	Invalidator Invalidator
	Logger      *log.Logger
	Now         func() time.Time
	NewID       func() string
}

func (o Options) withDefaults(component string) Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultStoreTimeout
	}
	if o.Logger == nil {
		o.Logger = log.New(log.DefaultConfig())
	}
	o.Logger = o.Logger.WithComponent(component)
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

func (o Options) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.Timeout)
}

// notify runs after a unit of work committed. Cache invalidation is
// synchronous so the caller reads its own writes; the broker publish is
// best effort.
func (o Options) notify(ctx context.Context, event amqp.EventType, userID, txID string, accountIDs ...string) {
	if o.Invalidator != nil {
		o.Invalidator.Invalidate(userID)
	}
	if o.Publisher == nil {
		return
	}
	msg := amqp.NewLedgerEvent(event, userID, txID, accountIDs...)
	if err := o.Publisher.PublishLedgerEvent(context.WithoutCancel(ctx), msg); err != nil {
		o.Logger.WarnContext(ctx, "Failed to publish ledger event",
			log.NewFields().
				WithUser(userID).
				WithError(err).
				WithOperation(log.OpPublish).
				WithErrorType(log.ErrorTypeNetwork).
				ToSlice()...)
	}
}
