package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jia-app/subscriptionservice/internal/circuitbreaker"
	"github.com/jia-app/subscriptionservice/internal/config"
	"github.com/jia-app/subscriptionservice/internal/metrics"
)

const (
	tokenPath  = "/v1/oauth2/token"
	verifyPath = "/v1/notifications/verify-webhook-signature"

	verificationSuccess = "SUCCESS"
)

// Transmission headers PayPal attaches to every webhook delivery.
const (
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
)

var (
	// ErrSignatureInvalid means PayPal did not vouch for the delivery.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")
	// ErrCredentials means no access token could be obtained.
	ErrCredentials = errors.New("failed to obtain PayPal access token")
)

// Client talks to the PayPal REST API on behalf of the webhook handler.
type Client struct {
	baseURL     string
	webhookID   string
	credentials *clientcredentials.Config
	http        *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClient builds a client whose token and API calls share one circuit
// breaker.
func NewClient(cfg config.PayPalConfig, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	breaker := circuitbreaker.New("paypal", circuitbreaker.DefaultConfig(),
		circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		}))

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := &http.Client{
		Timeout:   timeout,
		Transport: circuitbreaker.NewTransport(nil, breaker),
	}

	return &Client{
		baseURL:   baseURL,
		webhookID: cfg.WebhookID,
		credentials: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     baseURL + tokenPath,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		http: base,
	}
}

// AccessToken returns a valid bearer token. The cached token is reused
// until shortly before it expires; a refresh runs under ctx, so a
// cancelled caller aborts it. Concurrent callers wait for one refresh.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid() {
		return c.token.AccessToken, nil
	}

	start := time.Now()
	tok, err := c.credentials.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		metrics.RecordProviderCall("access_token", "error", time.Since(start))
		return "", fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	metrics.RecordProviderCall("access_token", "ok", time.Since(start))
	c.token = tok
	return tok.AccessToken, nil
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifySignature asks PayPal whether body was sent by it for the
// configured webhook. A delivery PayPal rejects, or one missing the
// transmission headers, yields ErrSignatureInvalid; any other error means
// verification could not be performed.
func (c *Client) VerifySignature(ctx context.Context, headers http.Header, body []byte) (err error) {
	req := verifyRequest{
		AuthAlgo:         headers.Get(HeaderAuthAlgo),
		CertURL:          headers.Get(HeaderCertURL),
		TransmissionID:   headers.Get(HeaderTransmissionID),
		TransmissionSig:  headers.Get(HeaderTransmissionSig),
		TransmissionTime: headers.Get(HeaderTransmissionTime),
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(body),
	}
	if req.AuthAlgo == "" || req.CertURL == "" || req.TransmissionID == "" ||
		req.TransmissionSig == "" || req.TransmissionTime == "" {
		return fmt.Errorf("%w: missing transmission headers", ErrSignatureInvalid)
	}
	if !json.Valid(body) {
		return fmt.Errorf("%w: body is not JSON", ErrSignatureInvalid)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode verification request: %w", err)
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil && !errors.Is(err, ErrSignatureInvalid) {
			status = "error"
		}
		metrics.RecordProviderCall("verify_webhook_signature", status, time.Since(start))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build verification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read verification response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verification endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out verifyResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("failed to decode verification response: %w", err)
	}
	if out.VerificationStatus != verificationSuccess {
		return fmt.Errorf("%w: status %q", ErrSignatureInvalid, out.VerificationStatus)
	}
	return nil
}
