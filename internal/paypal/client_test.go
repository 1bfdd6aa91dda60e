package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jia-app/subscriptionservice/internal/config"
)

type fakePayPal struct {
	tokenCalls  atomic.Int32
	verifyCalls atomic.Int32
	tokenStatus int
	tokenHang   bool
	verdict     string
	lastVerify  map[string]json.RawMessage
}

func (f *fakePayPal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		id, secret, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client-id", id)
		assert.Equal(t, "client-secret", secret)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		if f.tokenHang {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A21AA","token_type":"Bearer","expires_in":32400}`))
	})
	mux.HandleFunc(verifyPath, func(w http.ResponseWriter, r *http.Request) {
		f.verifyCalls.Add(1)
		assert.Equal(t, "Bearer A21AA", r.Header.Get("Authorization"))
		f.lastVerify = map[string]json.RawMessage{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastVerify))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"verification_status":"` + f.verdict + `"}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakePayPal) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	return NewClient(config.PayPalConfig{
		BaseURL:      srv.URL + "/",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		WebhookID:    "WH-CONFIG-1",
		Timeout:      2 * time.Second,
	}, zap.NewNop())
}

func transmissionHeaders() http.Header {
	h := http.Header{}
	h.Set(HeaderAuthAlgo, "SHA256withRSA")
	h.Set(HeaderCertURL, "https://api.sandbox.paypal.com/v1/notifications/certs/CERT-1")
	h.Set(HeaderTransmissionID, "tx-1")
	h.Set(HeaderTransmissionSig, "c2lnbmF0dXJl")
	h.Set(HeaderTransmissionTime, "2024-12-01T10:00:00Z")
	return h
}

func TestClient_AccessTokenIsCached(t *testing.T) {
	f := &fakePayPal{}
	c := newTestClient(t, f)

	for i := 0; i < 3; i++ {
		tok, err := c.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "A21AA", tok)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestClient_AccessTokenFailure(t *testing.T) {
	f := &fakePayPal{tokenStatus: http.StatusUnauthorized}
	c := newTestClient(t, f)

	_, err := c.AccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredentials)
}

func TestClient_AccessTokenCancelledContext(t *testing.T) {
	c := newTestClient(t, &fakePayPal{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AccessToken(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_AccessTokenRefreshFollowsCallerContext(t *testing.T) {
	c := newTestClient(t, &fakePayPal{tokenHang: true})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.AccessToken(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredentials)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_VerifySignature(t *testing.T) {
	f := &fakePayPal{verdict: "SUCCESS"}
	c := newTestClient(t, f)
	body := []byte(`{"id":"WH-1","event_type":"BILLING.SUBSCRIPTION.CREATED"}`)

	require.NoError(t, c.VerifySignature(context.Background(), transmissionHeaders(), body))

	assert.Equal(t, int32(1), f.verifyCalls.Load())
	assert.JSONEq(t, string(body), string(f.lastVerify["webhook_event"]))
	assert.Equal(t, `"WH-CONFIG-1"`, string(f.lastVerify["webhook_id"]))
	assert.Equal(t, `"tx-1"`, string(f.lastVerify["transmission_id"]))
}

func TestClient_VerifySignatureRejected(t *testing.T) {
	f := &fakePayPal{verdict: "FAILURE"}
	c := newTestClient(t, f)

	err := c.VerifySignature(context.Background(), transmissionHeaders(), []byte(`{"id":"WH-1"}`))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestClient_VerifySignatureMissingHeaders(t *testing.T) {
	f := &fakePayPal{verdict: "SUCCESS"}
	c := newTestClient(t, f)

	h := transmissionHeaders()
	h.Del(HeaderTransmissionSig)

	err := c.VerifySignature(context.Background(), h, []byte(`{"id":"WH-1"}`))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Equal(t, int32(0), f.verifyCalls.Load())
}

func TestClient_VerifySignatureUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"A21AA","token_type":"Bearer","expires_in":32400}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(config.PayPalConfig{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"}, zap.NewNop())

	err := c.VerifySignature(context.Background(), transmissionHeaders(), []byte(`{"id":"WH-1"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSignatureInvalid)
}
