package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_IsNewerThan(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	sub := &Subscription{}
	assert.False(t, sub.IsNewerThan(base), "no last event recorded")

	sub.LastEventAt = &base
	assert.False(t, sub.IsNewerThan(time.Time{}), "zero time is never stale")
	assert.False(t, sub.IsNewerThan(base), "equal time is a redelivery, not stale")
	assert.False(t, sub.IsNewerThan(base.Add(time.Minute)))
	assert.True(t, sub.IsNewerThan(base.Add(-time.Minute)))
}

func TestSubscription_Entitled(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	sub := &Subscription{Status: StatusActive, ValidUntil: now.Add(time.Hour)}
	assert.True(t, sub.Entitled(now))

	sub.ValidUntil = now
	assert.False(t, sub.Entitled(now))

	sub.ValidUntil = now.Add(time.Hour)
	sub.Status = StatusSuspended
	assert.False(t, sub.Entitled(now))
}

func TestFields_Apply(t *testing.T) {
	until := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	status := StatusCancelled
	plan := "enterprise"

	sub := &Subscription{Status: StatusActive, PlanID: "pro"}
	Fields{}.Apply(sub)
	assert.Equal(t, StatusActive, sub.Status)
	assert.True(t, Fields{}.Empty())

	f := Fields{Status: &status, PlanID: &plan, ValidUntil: &until, LastEventAt: &until}
	assert.False(t, f.Empty())
	f.Apply(sub)

	assert.Equal(t, StatusCancelled, sub.Status)
	assert.Equal(t, "enterprise", sub.PlanID)
	assert.Equal(t, until, sub.ValidUntil)
	require.NotNil(t, sub.LastEventAt)
	assert.Equal(t, until, *sub.LastEventAt)
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusCancelled, StatusSuspended, StatusPaymentFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("EXPIRED").Valid())
}

func TestDomainError_Unwrap(t *testing.T) {
	err := fmt.Errorf("parse: %w", NewMalformedPayloadError("resource.id is required"))
	assert.True(t, IsMalformed(err))
	assert.Contains(t, err.Error(), "resource.id is required")

	domainErr := GetDomainError(err)
	require.NotNil(t, domainErr)
	assert.Equal(t, ErrCodeInvalidInput, domainErr.Code)

	notFound := NewNotFoundError("subscription", "I-123")
	assert.True(t, errors.Is(notFound, ErrNotFound))

	cause := errors.New("connection refused")
	internal := NewInternalError("store unavailable", cause)
	assert.ErrorIs(t, internal, cause)
	assert.False(t, IsMalformed(internal))
}

func TestKind(t *testing.T) {
	assert.Equal(t, EventSubscriptionCreated, Kind(Created{}))
	assert.Equal(t, EventSubscriptionCancelled, Kind(Cancelled{}))
	assert.Equal(t, EventSubscriptionSuspended, Kind(Suspended{}))
	assert.Equal(t, EventSubscriptionPaymentFailed, Kind(PaymentFailed{}))
	assert.Equal(t, EventSubscriptionUpdated, Kind(Updated{}))
	assert.Equal(t, "PAYMENT.SALE.COMPLETED", Kind(Other{Meta: Meta{Type: "PAYMENT.SALE.COMPLETED"}}))
}
