package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func ExampleL() {
	_ = Init("info")

	ctx := WithRequestID(context.Background(), "req456")
	ctx = WithEvent(ctx, "WH-1", "BILLING.SUBSCRIPTION.CANCELLED")

	L(ctx).Info("Subscription cancelled",
		zap.String("provider_subscription_id", "I-BW452GLLEP1G"))
}

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	ctx = WithRequestID(ctx, "test_request")
	assert.Equal(t, "test_request", ctx.Value(RequestIDKey))

	ctx = WithEvent(ctx, "WH-123", "BILLING.SUBSCRIPTION.CREATED")
	assert.Equal(t, "WH-123", ctx.Value(EventIDKey))
	assert.Equal(t, "BILLING.SUBSCRIPTION.CREATED", ctx.Value(EventTypeKey))

	ctx = WithTraceID(ctx, "test_trace")
	assert.Equal(t, "test_trace", ctx.Value(TraceIDKey))
}

func TestL_AttachesContextFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetGlobal(zap.New(core))
	t.Cleanup(func() { SetGlobal(zap.NewNop()) })

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithEvent(ctx, "WH-9", "BILLING.SUBSCRIPTION.SUSPENDED")
	Info(ctx, "reconciled")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "WH-9", fields["event_id"])
	assert.Equal(t, "BILLING.SUBSCRIPTION.SUSPENDED", fields["event_type"])
	assert.NotContains(t, fields, "trace_id")
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger, err := New("shouting")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}
