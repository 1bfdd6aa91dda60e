package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jia-app/subscriptionservice/internal/events"
	"github.com/jia-app/subscriptionservice/internal/subscription/domain"
	"github.com/jia-app/subscriptionservice/internal/subscription/repo/memory"
	"github.com/jia-app/subscriptionservice/internal/subscription/usecase"
	"github.com/jia-app/subscriptionservice/internal/subscription/webhook"
)

const replayLog = `{"id":"WH-1","event_type":"BILLING.SUBSCRIPTION.CREATED","create_time":"2024-12-01T10:00:00Z","resource":{"id":"sub_1","plan_id":"pro","custom_id":"u1","billing_info":{"next_billing_time":"2025-01-01T00:00:00Z"}}}

{"id":"WH-2","event_type":"BILLING.SUBSCRIPTION.SUSPENDED","create_time":"2024-12-10T10:00:00Z","resource":{"id":"sub_1"}}
{"id":"WH-3","event_type":"BILLING.SUBSCRIPTION.PAYMENT.FAILED","create_time":"2024-12-05T10:00:00Z","resource":{"id":"sub_1"}}
{"id":"WH-4","event_type":"PAYMENT.SALE.COMPLETED","resource":{}}
{"id":"WH-5","event_type":"BILLING.SUBSCRIPTION.CANCELLED","resource":{"id":"sub_unknown"}}
not json
`

func TestRun_Summary(t *testing.T) {
	store := memory.NewStore()
	r := usecase.NewReconciler(store)

	summary, err := run(context.Background(), strings.NewReader(replayLog), webhook.NewParser(), r)
	require.NoError(t, err)

	assert.Equal(t, Summary{Applied: 2, Ignored: 2, Stale: 1, Malformed: 1}, summary)

	sub, err := store.FindByUserID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, sub.Status)
}

type brokenReconciler struct{}

func (brokenReconciler) Reconcile(ctx context.Context, ev domain.Event) (usecase.Outcome, error) {
	return usecase.OutcomeFailed, errors.New("connection refused")
}

func TestRun_CountsFailuresAndContinues(t *testing.T) {
	summary, err := run(context.Background(), strings.NewReader(replayLog), webhook.NewParser(), brokenReconciler{})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Failed)
	assert.Equal(t, 1, summary.Malformed)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := run(ctx, strings.NewReader(replayLog), webhook.NewParser(), brokenReconciler{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummaryString(t *testing.T) {
	s := Summary{Applied: 1, Ignored: 2, Stale: 3, Malformed: 4, Failed: 5}
	assert.Equal(t, "applied=1 ignored=2 stale=3 malformed=4 failed=5", s.String())
}

const replayConfig = `
storage:
  driver: memory
paypal:
  client_id: test-client
  client_secret: test-secret
events:
  driver: noop
log:
  level: error
`

func TestRealMain_ReplaysFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	eventsPath := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(configPath, []byte(replayConfig), 0o600))
	require.NoError(t, os.WriteFile(eventsPath, []byte(replayLog), 0o600))

	var out bytes.Buffer
	code := realMain([]string{"-config", configPath, eventsPath}, strings.NewReader(""), &out)

	assert.Equal(t, 0, code)
	assert.Equal(t, "applied=2 ignored=2 stale=1 malformed=1 failed=0\n", out.String())
}

func TestRealMain_ReadsStdin(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(replayConfig), 0o600))

	var out bytes.Buffer
	code := realMain([]string{"-config", configPath, "-"}, strings.NewReader(replayLog), &out)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "applied=2")
}

func TestRealMain_ExitCodes(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, realMain(nil, strings.NewReader(""), &out))
	assert.Equal(t, 1, realMain([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml"), "-"}, strings.NewReader(""), &out))
	assert.Empty(t, out.String())
}

type closingNotifier struct {
	events.NoopNotifier
	closed int
	err    error
}

func (c *closingNotifier) Close() error {
	c.closed++
	return c.err
}

func TestCloseNotifier(t *testing.T) {
	n := &closingNotifier{}
	closeNotifier(context.Background(), n)
	assert.Equal(t, 1, n.closed)

	failing := &closingNotifier{err: errors.New("producer already closed")}
	closeNotifier(context.Background(), failing)
	assert.Equal(t, 1, failing.closed)

	assert.NotPanics(t, func() { closeNotifier(context.Background(), events.NoopNotifier{}) })
}
