package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jia-app/subscriptionservice/internal/subscription/domain"
	"github.com/jia-app/subscriptionservice/internal/subscription/repo"
)

var _ repo.Store = (*Store)(nil)

// Store is an in-memory implementation of repo.Store.
type Store struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*domain.Subscription
	byUser     map[string]uuid.UUID
	byProvider map[string]uuid.UUID
	now        func() time.Time
}

func NewStore() *Store {
	return &Store{
		byID:       make(map[uuid.UUID]*domain.Subscription),
		byUser:     make(map[string]uuid.UUID),
		byProvider: make(map[string]uuid.UUID),
		now:        time.Now,
	}
}

func (s *Store) FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUser[userID]
	if !ok {
		return nil, domain.NewNotFoundError("subscription", userID)
	}
	return clone(s.byID[id]), nil
}

func (s *Store) FindByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProvider[providerSubscriptionID]
	if !ok {
		return nil, domain.NewNotFoundError("subscription", providerSubscriptionID)
	}
	return clone(s.byID[id]), nil
}

func (s *Store) Upsert(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	id, exists := s.byUser[sub.UserID]
	if !exists {
		stored := sub
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.byID[stored.ID] = &stored
		s.byUser[stored.UserID] = stored.ID
		s.byProvider[stored.ProviderSubscriptionID] = stored.ID
		return clone(&stored), nil
	}

	current := s.byID[id]
	if sub.LastEventAt != nil && current.IsNewerThan(*sub.LastEventAt) {
		return clone(current), nil
	}

	// The provider id may change on a restart of billing. The old index
	// entry goes only if it still points here.
	if current.ProviderSubscriptionID != sub.ProviderSubscriptionID &&
		s.byProvider[current.ProviderSubscriptionID] == current.ID {
		delete(s.byProvider, current.ProviderSubscriptionID)
	}

	current.ProviderSubscriptionID = sub.ProviderSubscriptionID
	current.PlanID = sub.PlanID
	current.Status = sub.Status
	current.ValidUntil = sub.ValidUntil
	if sub.LastEventAt != nil {
		t := *sub.LastEventAt
		current.LastEventAt = &t
	}
	current.UpdatedAt = now
	s.byProvider[current.ProviderSubscriptionID] = current.ID

	return clone(current), nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, fields domain.Fields) (bool, error) {
	if fields.Empty() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	if fields.LastEventAt != nil && current.IsNewerThan(*fields.LastEventAt) {
		return false, nil
	}

	fields.Apply(current)
	current.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored subscriptions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func clone(sub *domain.Subscription) *domain.Subscription {
	out := *sub
	if sub.LastEventAt != nil {
		t := *sub.LastEventAt
		out.LastEventAt = &t
	}
	return &out
}
