package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jia-app/subscriptionservice/internal/auth"
	"github.com/jia-app/subscriptionservice/internal/log"
	"github.com/jia-app/subscriptionservice/internal/metrics"
	"github.com/jia-app/subscriptionservice/internal/paypal"
	"github.com/jia-app/subscriptionservice/internal/subscription/domain"
	"github.com/jia-app/subscriptionservice/internal/subscription/webhook"
	"github.com/jia-app/subscriptionservice/internal/tracing"
)

const (
	WebhookPath      = "/api/webhooks/paypal"
	SubscriptionPath = "/api/subscription"

	defaultMaxBodyBytes = 1 << 20
	defaultCookieName   = "auth-token"
)

// CredentialProvider obtains a provider access token before dispatch.
type CredentialProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// SignatureVerifier checks that a delivery really came from the provider.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, headers http.Header, body []byte) error
}

// EventHandler applies one parsed event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.Event) error
}

// SubscriptionReader serves the subscription lookup endpoint.
type SubscriptionReader interface {
	FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
}

// Options wires the handler's collaborators. Verifier, Deduplicator,
// Tokens and Ready are optional.
type Options struct {
	Credentials   CredentialProvider
	Verifier      SignatureVerifier
	Parser        *webhook.Parser
	Deduplicator  *webhook.Deduplicator
	Reconciler    EventHandler
	Subscriptions SubscriptionReader
	Tokens        auth.Validator
	CookieName    string
	Ready         func(ctx context.Context) error
	MaxBodyBytes  int64
	Timeout       time.Duration
	Now           func() time.Time
}

// Handler is the HTTP boundary of the service.
type Handler struct {
	opts Options
}

func NewHandler(opts Options) *Handler {
	if opts.Parser == nil {
		opts.Parser = webhook.NewParser()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.CookieName == "" {
		opts.CookieName = defaultCookieName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{opts: opts}
}

// Routes returns the service router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Instrument)
	r.Use(middleware.Recoverer)
	if h.opts.Timeout > 0 {
		r.Use(Deadline(h.opts.Timeout))
	}

	r.Get("/health", h.health)
	r.Get("/health/ready", h.ready)
	r.Post(WebhookPath, h.paypalWebhook)
	if h.opts.Tokens != nil && h.opts.Subscriptions != nil {
		r.With(h.authenticate).Get(SubscriptionPath, h.getSubscription)
	}
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool `json:"received"`
}

func (h *Handler) paypalWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(tracing.Extract(r.Context(), r.Header), "webhook.paypal")
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordWebhookReceived("unknown", "too_large")
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Payload too large"})
			return
		}
		metrics.RecordWebhookReceived("unknown", "unreadable")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Failed to read request body"})
		return
	}

	if _, err := h.opts.Credentials.AccessToken(ctx); err != nil {
		spanErr = err
		log.Error(ctx, "Failed to obtain provider access token", zap.Error(err))
		metrics.RecordWebhookReceived("unknown", "credentials_error")
		writeError(w, domain.NewInternalError("failed to obtain access token", err), "Failed to process webhook")
		return
	}

	if h.opts.Verifier != nil {
		if err := h.opts.Verifier.VerifySignature(ctx, r.Header, body); err != nil {
			spanErr = err
			if errors.Is(err, paypal.ErrSignatureInvalid) {
				log.Warn(ctx, "Rejected webhook with invalid signature", zap.Error(err))
				metrics.RecordWebhookReceived("unknown", "invalid_signature")
				writeError(w, domain.NewInvalidInputError("invalid webhook signature", err), "Invalid webhook signature")
				return
			}
			log.Error(ctx, "Webhook signature verification failed", zap.Error(err))
			metrics.RecordWebhookReceived("unknown", "verification_error")
			writeError(w, domain.NewInternalError("signature verification unavailable", err), "Failed to process webhook")
			return
		}
	}

	ev, err := h.opts.Parser.Parse(body)
	if err != nil {
		spanErr = err
		log.Warn(ctx, "Rejected malformed webhook payload", zap.Error(err))
		metrics.RecordWebhookReceived("unknown", "malformed")
		writeError(w, err, "Invalid webhook payload")
		return
	}

	meta := ev.Metadata()
	label := eventLabel(ev)
	ctx = log.WithEvent(ctx, meta.ID, domain.Kind(ev))
	span.SetAttributes(attribute.String("event.id", meta.ID), attribute.String("event.type", meta.Type))

	if h.opts.Deduplicator.AlreadyProcessed(ctx, meta.ID) {
		log.Info(ctx, "Skipping already processed webhook")
		metrics.RecordWebhookReceived(label, "duplicate")
		writeJSON(w, http.StatusOK, receivedResponse{Received: true})
		return
	}

	if err := h.opts.Reconciler.HandleEvent(ctx, ev); err != nil {
		spanErr = err
		log.Error(ctx, "Failed to process webhook", zap.Error(err))
		metrics.RecordWebhookReceived(label, "failed")
		writeError(w, err, "Failed to process webhook")
		return
	}

	h.opts.Deduplicator.MarkProcessed(ctx, meta.ID)
	metrics.RecordWebhookReceived(label, "processed")
	writeJSON(w, http.StatusOK, receivedResponse{Received: true})
}

// SubscriptionResponse is the body of GET /api/subscription.
type SubscriptionResponse struct {
	PlanID                 string        `json:"plan_id"`
	Status                 domain.Status `json:"status"`
	ValidUntil             time.Time     `json:"valid_until"`
	ProviderSubscriptionID string        `json:"provider_subscription_id"`
	Active                 bool          `json:"active"`
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.UserIDFromContext(ctx)

	sub, err := h.opts.Subscriptions.FindByUserID(ctx, userID)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			writeError(w, err, "Subscription not found")
			return
		}
		log.Error(ctx, "Failed to load subscription", zap.Error(err))
		writeError(w, err, "Failed to load subscription")
		return
	}

	writeJSON(w, http.StatusOK, SubscriptionResponse{
		PlanID:                 sub.PlanID,
		Status:                 sub.Status,
		ValidUntil:             sub.ValidUntil,
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		Active:                 sub.Entitled(h.opts.Now()),
	})
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r, h.opts.CookieName)
		userID, err := h.opts.Tokens.Validate(r.Context(), token)
		if err != nil {
			log.Debug(r.Context(), "Rejected request token", zap.Error(err))
			writeError(w, domain.NewUnauthorizedError("invalid or missing token", err), "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(r.Context()); err != nil {
			log.Warn(r.Context(), "Readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func eventLabel(ev domain.Event) string {
	if _, ok := ev.(domain.Other); ok {
		return "other"
	}
	return domain.Kind(ev)
}

// statusFor maps an error to the response status through its domain
// code. Errors without a code are internal failures.
func statusFor(err error) int {
	if domain.IsMalformed(err) {
		return http.StatusBadRequest
	}
	de := domain.GetDomainError(err)
	if de == nil {
		if errors.Is(err, domain.ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
	switch de.Code {
	case domain.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, message string) {
	writeJSON(w, statusFor(err), errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
