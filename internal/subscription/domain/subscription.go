package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status mirrors the provider's view of a subscription. The local record
// never originates a transition.
type Status string

const (
	StatusActive        Status = "ACTIVE"
	StatusCancelled     Status = "CANCELLED"
	StatusSuspended     Status = "SUSPENDED"
	StatusPaymentFailed Status = "PAYMENT_FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusSuspended, StatusPaymentFailed:
		return true
	}
	return false
}

// Subscription is the local record of one user's billing subscription.
// There is at most one per UserID.
type Subscription struct {
	ID                     uuid.UUID  `json:"id"`
	UserID                 string     `json:"user_id"`
	ProviderSubscriptionID string     `json:"provider_subscription_id"`
	PlanID                 string     `json:"plan_id"`
	Status                 Status     `json:"status"`
	ValidUntil             time.Time  `json:"valid_until"`
	LastEventAt            *time.Time `json:"last_event_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// IsNewerThan reports whether the record has already absorbed an event
// that occurred after t. A zero t is never considered stale.
func (s *Subscription) IsNewerThan(t time.Time) bool {
	if t.IsZero() || s.LastEventAt == nil {
		return false
	}
	return s.LastEventAt.After(t)
}

// Entitled reports whether the subscription grants access at now.
func (s *Subscription) Entitled(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.ValidUntil)
}

// Fields is a partial update. Nil members are left untouched.
type Fields struct {
	Status      *Status
	PlanID      *string
	ValidUntil  *time.Time
	LastEventAt *time.Time
}

// Empty reports whether the update would change nothing.
func (f Fields) Empty() bool {
	return f.Status == nil && f.PlanID == nil && f.ValidUntil == nil && f.LastEventAt == nil
}

// Apply copies the set members of f onto sub.
func (f Fields) Apply(sub *Subscription) {
	if f.Status != nil {
		sub.Status = *f.Status
	}
	if f.PlanID != nil {
		sub.PlanID = *f.PlanID
	}
	if f.ValidUntil != nil {
		sub.ValidUntil = *f.ValidUntil
	}
	if f.LastEventAt != nil {
		t := *f.LastEventAt
		sub.LastEventAt = &t
	}
}
