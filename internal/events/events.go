package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	OrderCreated           Type = "order.created"
	OrderCollected         Type = "order.collected"
	MealWalkInIssued       Type = "meal.walk_in_issued"
	PurchaseRequestCreated Type = "purchase_request.created"
	PurchaseRequestDecided Type = "purchase_request.decided"
	SubscriptionGranted    Type = "subscription.granted"
	BalanceToppedUp        Type = "balance.topped_up"
	OrderPaid              Type = "order.paid"
	ReviewSubmitted        Type = "review.submitted"
)

// Event is the envelope published after a transaction commits.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func New(t Type, key string, payload any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
