package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jia-app/subscriptionservice/internal/audit"
	"github.com/jia-app/subscriptionservice/internal/log"
	"github.com/jia-app/subscriptionservice/internal/metrics"
	"github.com/jia-app/subscriptionservice/internal/retry"
	"github.com/jia-app/subscriptionservice/internal/subscription/domain"
)

// SubscriptionChange describes one applied reconciliation.
type SubscriptionChange struct {
	SubscriptionID         uuid.UUID     `json:"subscription_id"`
	UserID                 string        `json:"user_id"`
	ProviderSubscriptionID string        `json:"provider_subscription_id"`
	PlanID                 string        `json:"plan_id,omitempty"`
	Status                 domain.Status `json:"status"`
	ValidUntil             time.Time     `json:"valid_until"`
	EventID                string        `json:"event_id,omitempty"`
	EventType              string        `json:"event_type"`
	ChangedAt              time.Time     `json:"changed_at"`
}

// NewSubscriptionChange builds a change notification from the stored row.
func NewSubscriptionChange(sub domain.Subscription, meta domain.Meta, eventType string, at time.Time) SubscriptionChange {
	return SubscriptionChange{
		SubscriptionID:         sub.ID,
		UserID:                 sub.UserID,
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		PlanID:                 sub.PlanID,
		Status:                 sub.Status,
		ValidUntil:             sub.ValidUntil,
		EventID:                meta.ID,
		EventType:              eventType,
		ChangedAt:              at,
	}
}

// Notifier is told about every subscription change after it is persisted.
type Notifier interface {
	SubscriptionChanged(ctx context.Context, change SubscriptionChange) error
}

// NoopNotifier is a no-operation notifier for testing and development
type NoopNotifier struct{}

func (NoopNotifier) SubscriptionChanged(ctx context.Context, change SubscriptionChange) error {
	return nil
}

// KafkaNotifier publishes changes as JSON messages keyed by user id so a
// user's changes land on one partition in order.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaNotifier dials brokers, retrying while the cluster starts.
func NewKafkaNotifier(ctx context.Context, brokers []string, topic string) (*KafkaNotifier, error) {
	cfg := ProducerConfig()

	var producer sarama.SyncProducer
	err := retry.Do(ctx, retry.StartupConfig(), log.L(ctx), func() error {
		var err error
		producer, err = sarama.NewSyncProducer(brokers, cfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewKafkaNotifierWithProducer(producer, topic), nil
}

// ProducerConfig is the sarama configuration used for change notifications.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "subscription-service"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	return cfg
}

func NewKafkaNotifierWithProducer(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) SubscriptionChanged(ctx context.Context, change SubscriptionChange) error {
	value, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription change: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(change.UserID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(change.EventType)},
		},
	}

	partition, offset, err := n.producer.SendMessage(msg)
	if err != nil {
		metrics.RecordNotification("kafka", "error")
		return fmt.Errorf("failed to publish subscription change: %w", err)
	}
	metrics.RecordNotification("kafka", "ok")

	log.Debug(ctx, "Published subscription change",
		zap.String("topic", n.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the underlying producer
func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}

// AuditNotifier records every change in the audit log.
type AuditNotifier struct {
	logger audit.Logger
}

func NewAuditNotifier(logger audit.Logger) *AuditNotifier {
	return &AuditNotifier{logger: logger}
}

func (n *AuditNotifier) SubscriptionChanged(ctx context.Context, change SubscriptionChange) error {
	err := n.logger.Log(ctx, audit.Event{
		ID:         change.EventID,
		Type:       "subscription",
		UserID:     change.UserID,
		Action:     change.EventType,
		Resource:   "subscription",
		ResourceID: change.ProviderSubscriptionID,
		Details: map[string]any{
			"status":      string(change.Status),
			"plan_id":     change.PlanID,
			"valid_until": change.ValidUntil.Format(time.RFC3339),
		},
		Timestamp: change.ChangedAt,
		Result:    audit.ResultSuccess,
	})
	if err != nil {
		metrics.RecordNotification("audit", "error")
		return err
	}
	metrics.RecordNotification("audit", "ok")
	return nil
}
