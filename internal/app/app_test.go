package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jia-app/subscriptionservice/internal/config"
	"github.com/jia-app/subscriptionservice/internal/subscription/transport"
)

func fakePayPal(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A21","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(paypalURL string) *config.Config {
	return &config.Config{
		AppName: "subscription-service",
		HTTP: config.HTTPConfig{
			Address:         "127.0.0.1:0",
			RequestTimeout:  5 * time.Second,
			ShutdownTimeout: time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Storage: config.StorageConfig{Driver: config.StorageMemory},
		PayPal: config.PayPalConfig{
			BaseURL:      paypalURL,
			ClientID:     "client",
			ClientSecret: "secret",
			Timeout:      time.Second,
		},
		Auth:   config.AuthConfig{JWTSecret: "test-secret", CookieName: "auth-token"},
		Events: config.EventsConfig{Driver: config.EventsAudit},
		Log:    config.LogConfig{Level: "error"},
	}
}

func TestNew_MemoryStoreEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(fakePayPal(t).URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	body := `{"id":"WH-1","event_type":"BILLING.SUBSCRIPTION.CREATED","create_time":"2024-12-01T10:00:00Z",
		"resource":{"id":"sub_1","plan_id":"pro","custom_id":"u1","billing_info":{"next_billing_time":"2099-01-01T00:00:00Z"}}}`
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, transport.WebhookPath, strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	sub, err := a.store.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ProviderSubscriptionID)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_WithRedisDedupe(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(fakePayPal(t).URL)
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), DedupTTL: time.Hour}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	require.NotNil(t, a.cache)

	body := `{"id":"WH-9","event_type":"SUBSCRIPTION.CANCELLED","resource":{"id":"sub_x"}}`
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, transport.WebhookPath, strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, mr.Exists("webhook:paypal:processed:WH-9"))
}

func TestNew_UnsupportedDrivers(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Storage.Driver = "sqlite"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig("http://127.0.0.1:1")
	cfg.Events.Driver = "carrier-pigeon"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(fakePayPal(t).URL)
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
