package domain

import (
	"encoding/json"
	"time"
)

// Event tags as sent by the provider. The "BILLING." prefix is optional
// on input; see webhook.NormalizeEventType.
const (
	EventSubscriptionCreated       = "SUBSCRIPTION.CREATED"
	EventSubscriptionCancelled     = "SUBSCRIPTION.CANCELLED"
	EventSubscriptionSuspended     = "SUBSCRIPTION.SUSPENDED"
	EventSubscriptionPaymentFailed = "SUBSCRIPTION.PAYMENT.FAILED"
	EventSubscriptionUpdated       = "SUBSCRIPTION.UPDATED"
)

// Meta is the delivery envelope shared by every event variant.
type Meta struct {
	// ID is the provider's event id, stable across redeliveries.
	ID string
	// Type is the tag exactly as received.
	Type string
	// OccurredAt is the provider's create_time; zero when absent.
	OccurredAt time.Time
}

func (m Meta) Metadata() Meta { return m }

// Event is a closed union over the lifecycle notifications the reconciler
// understands plus Other for everything else.
type Event interface {
	Metadata() Meta
	isEvent()
}

// Created starts (or restarts) billing for a local user.
type Created struct {
	Meta
	ProviderSubscriptionID string
	PlanID                 string
	UserID                 string
	NextBillingTime        time.Time
}

type Cancelled struct {
	Meta
	ProviderSubscriptionID string
}

type Suspended struct {
	Meta
	ProviderSubscriptionID string
}

type PaymentFailed struct {
	Meta
	ProviderSubscriptionID string
}

// Updated carries a plan change or a new billing period.
type Updated struct {
	Meta
	ProviderSubscriptionID string
	PlanID                 string
	NextBillingTime        time.Time
}

// Other is any event the reconciler acknowledges without effect.
type Other struct {
	Meta
	Raw json.RawMessage
}

func (Created) isEvent()       {}
func (Cancelled) isEvent()     {}
func (Suspended) isEvent()     {}
func (PaymentFailed) isEvent() {}
func (Updated) isEvent()       {}
func (Other) isEvent()         {}

// Kind returns the normalized tag of ev, or the raw tag for Other.
func Kind(ev Event) string {
	switch ev.(type) {
	case Created:
		return EventSubscriptionCreated
	case Cancelled:
		return EventSubscriptionCancelled
	case Suspended:
		return EventSubscriptionSuspended
	case PaymentFailed:
		return EventSubscriptionPaymentFailed
	case Updated:
		return EventSubscriptionUpdated
	default:
		return ev.Metadata().Type
	}
}
