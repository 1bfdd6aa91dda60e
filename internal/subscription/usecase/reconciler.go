package usecase

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jia-app/subscriptionservice/internal/events"
	"github.com/jia-app/subscriptionservice/internal/log"
	"github.com/jia-app/subscriptionservice/internal/metrics"
	"github.com/jia-app/subscriptionservice/internal/subscription/domain"
	"github.com/jia-app/subscriptionservice/internal/subscription/repo"
	"github.com/jia-app/subscriptionservice/internal/tracing"
)

// Outcome classifies what reconciling one event did.
type Outcome string

const (
	// OutcomeApplied means the event was written to the store.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored covers unknown tags and unknown subscriptions.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeStale means the stored row already reflects a newer event.
	OutcomeStale Outcome = "stale"
	// OutcomeFailed means the store could not be reached.
	OutcomeFailed Outcome = "failed"
)

// Reconciler applies provider lifecycle events to the local subscription
// record. It holds no state between calls; all state lives in the store.
type Reconciler struct {
	store    repo.Store
	notifier events.Notifier
	now      func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithNotifier sets the hook told about every applied change.
func WithNotifier(n events.Notifier) Option {
	return func(r *Reconciler) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithClock overrides the time source used for immediate revocation.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store repo.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		notifier: events.NoopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent applies ev. Unknown tags, unknown subscriptions and stale
// events succeed without effect; only store failures are returned.
func (r *Reconciler) HandleEvent(ctx context.Context, ev domain.Event) error {
	_, err := r.Reconcile(ctx, ev)
	return err
}

// Reconcile is HandleEvent that also reports the outcome.
func (r *Reconciler) Reconcile(ctx context.Context, ev domain.Event) (outcome Outcome, err error) {
	meta := ev.Metadata()
	kind := domain.Kind(ev)
	start := time.Now()

	ctx = log.WithEvent(ctx, meta.ID, kind)
	ctx, span := tracing.StartSpan(ctx, "subscription.reconcile",
		attribute.String("event.id", meta.ID),
		attribute.String("event.type", kind))
	defer func() {
		span.SetAttributes(attribute.String("reconcile.outcome", string(outcome)))
		tracing.EndSpan(span, err)
		metrics.RecordReconcile(metricLabel(ev), string(outcome), time.Since(start))
	}()

	switch e := ev.(type) {
	case domain.Created:
		return r.created(ctx, e)
	case domain.Cancelled:
		now := r.now().UTC()
		status := domain.StatusCancelled
		return r.update(ctx, meta, kind, e.ProviderSubscriptionID, domain.Fields{Status: &status, ValidUntil: &now})
	case domain.Suspended:
		status := domain.StatusSuspended
		return r.update(ctx, meta, kind, e.ProviderSubscriptionID, domain.Fields{Status: &status})
	case domain.PaymentFailed:
		status := domain.StatusPaymentFailed
		return r.update(ctx, meta, kind, e.ProviderSubscriptionID, domain.Fields{Status: &status})
	case domain.Updated:
		planID := e.PlanID
		validUntil := e.NextBillingTime
		return r.update(ctx, meta, kind, e.ProviderSubscriptionID, domain.Fields{PlanID: &planID, ValidUntil: &validUntil})
	default:
		log.Debug(ctx, "Ignoring unhandled event type")
		return OutcomeIgnored, nil
	}
}

func (r *Reconciler) created(ctx context.Context, e domain.Created) (Outcome, error) {
	sub := domain.Subscription{
		UserID:                 e.UserID,
		ProviderSubscriptionID: e.ProviderSubscriptionID,
		PlanID:                 e.PlanID,
		Status:                 domain.StatusActive,
		ValidUntil:             e.NextBillingTime,
		LastEventAt:            eventTime(e.Meta),
	}

	stored, err := r.store.Upsert(ctx, sub)
	if err != nil {
		log.Error(ctx, "Failed to upsert subscription", zap.Error(err), zap.String("user_id", e.UserID))
		return OutcomeFailed, domain.NewInternalError("failed to upsert subscription", err)
	}
	if stored.IsNewerThan(e.OccurredAt) {
		log.Info(ctx, "Skipping stale creation event",
			zap.String("user_id", e.UserID),
			zap.Timep("last_event_at", stored.LastEventAt))
		return OutcomeStale, nil
	}

	log.Info(ctx, "Subscription activated",
		zap.String("user_id", stored.UserID),
		zap.String("provider_subscription_id", stored.ProviderSubscriptionID),
		zap.String("plan_id", stored.PlanID))

	r.notify(ctx, *stored, e.Meta, domain.EventSubscriptionCreated)
	return OutcomeApplied, nil
}

func (r *Reconciler) update(ctx context.Context, meta domain.Meta, kind, providerSubscriptionID string, fields domain.Fields) (Outcome, error) {
	sub, err := r.store.FindByProviderID(ctx, providerSubscriptionID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info(ctx, "No subscription for provider id, ignoring event",
			zap.String("provider_subscription_id", providerSubscriptionID))
		return OutcomeIgnored, nil
	}
	if err != nil {
		log.Error(ctx, "Failed to look up subscription", zap.Error(err),
			zap.String("provider_subscription_id", providerSubscriptionID))
		return OutcomeFailed, domain.NewInternalError("failed to look up subscription", err)
	}

	if sub.IsNewerThan(meta.OccurredAt) {
		log.Info(ctx, "Skipping stale event",
			zap.String("provider_subscription_id", providerSubscriptionID),
			zap.Timep("last_event_at", sub.LastEventAt))
		return OutcomeStale, nil
	}

	fields.LastEventAt = eventTime(meta)
	applied, err := r.store.Update(ctx, sub.ID, fields)
	if err != nil {
		log.Error(ctx, "Failed to update subscription", zap.Error(err),
			zap.String("subscription_id", sub.ID.String()))
		return OutcomeFailed, domain.NewInternalError("failed to update subscription", err)
	}
	if !applied {
		// A newer event won the race between lookup and write.
		log.Info(ctx, "Subscription changed concurrently, event is stale",
			zap.String("subscription_id", sub.ID.String()))
		return OutcomeStale, nil
	}

	fields.Apply(sub)
	log.Info(ctx, "Subscription updated",
		zap.String("user_id", sub.UserID),
		zap.String("provider_subscription_id", providerSubscriptionID),
		zap.String("status", string(sub.Status)))

	r.notify(ctx, *sub, meta, kind)
	return OutcomeApplied, nil
}

func (r *Reconciler) notify(ctx context.Context, sub domain.Subscription, meta domain.Meta, kind string) {
	change := events.NewSubscriptionChange(sub, meta, kind, r.now().UTC())
	if err := r.notifier.SubscriptionChanged(ctx, change); err != nil {
		log.Warn(ctx, "Subscription change notification failed", zap.Error(err))
		metrics.RecordError("notify", "reconciler")
	}
}

// metricLabel bounds label cardinality: provider tags outside the dispatch
// table collapse to "other".
func metricLabel(ev domain.Event) string {
	if _, ok := ev.(domain.Other); ok {
		return "other"
	}
	return domain.Kind(ev)
}

func eventTime(meta domain.Meta) *time.Time {
	if meta.OccurredAt.IsZero() {
		return nil
	}
	t := meta.OccurredAt.UTC()
	return &t
}
