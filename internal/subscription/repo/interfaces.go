package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/jia-app/subscriptionservice/internal/subscription/domain"
)

// Store is the persistence capability the reconciler depends on. Each
// method is atomic on its own; callers get no cross-call transaction.
type Store interface {
	// FindByUserID returns the user's subscription or domain.ErrNotFound.
	FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error)

	// FindByProviderID looks a subscription up by the provider's id and
	// returns domain.ErrNotFound when none matches.
	FindByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.Subscription, error)

	// Upsert creates or overwrites the row keyed on sub.UserID. A stored
	// row whose LastEventAt is newer than sub.LastEventAt is kept as is.
	// The returned subscription is the row as stored after the call.
	Upsert(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)

	// Update applies fields to the row with the given id. Rows that have
	// absorbed a newer event than fields.LastEventAt are left untouched
	// and applied is false.
	Update(ctx context.Context, id uuid.UUID, fields domain.Fields) (applied bool, err error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
