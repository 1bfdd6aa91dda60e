package webhook

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jia-app/subscriptionservice/internal/log"
	"github.com/jia-app/subscriptionservice/internal/metrics"
)

const dedupeKeyPrefix = "webhook:paypal:processed:"

// KeyStore is the subset of cache.Cache the deduplicator needs.
type KeyStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
}

// Deduplicator filters provider redeliveries of events that were already
// reconciled. It is best-effort: store failures are logged and the event
// is processed again, which the reconciler tolerates. A nil Deduplicator
// filters nothing.
type Deduplicator struct {
	store KeyStore
	ttl   time.Duration
}

func NewDeduplicator(store KeyStore, ttl time.Duration) *Deduplicator {
	return &Deduplicator{store: store, ttl: ttl}
}

// AlreadyProcessed reports whether eventID was marked processed.
func (d *Deduplicator) AlreadyProcessed(ctx context.Context, eventID string) bool {
	if d == nil || eventID == "" {
		return false
	}

	seen, err := d.store.Exists(ctx, dedupeKeyPrefix+eventID)
	if err != nil {
		log.Warn(ctx, "Dedupe lookup failed, processing event anyway", zap.Error(err))
		metrics.RecordError("dedupe_lookup", "webhook")
		return false
	}
	if seen {
		metrics.RecordWebhookDuplicate()
	}
	return seen
}

// MarkProcessed records eventID after a successful reconciliation.
func (d *Deduplicator) MarkProcessed(ctx context.Context, eventID string) {
	if d == nil || eventID == "" {
		return
	}

	if _, err := d.store.SetNX(ctx, dedupeKeyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), d.ttl); err != nil {
		log.Warn(ctx, "Failed to mark event processed", zap.Error(err))
		metrics.RecordError("dedupe_mark", "webhook")
	}
}
