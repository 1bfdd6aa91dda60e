package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jia-app/subscriptionservice/internal/subscription/domain"
)

const billingPrefix = "BILLING."

// payload is the provider's notification body. Only the fields the
// reconciler consumes are decoded.
type payload struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type" validate:"required"`
	CreateTime string          `json:"create_time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Resource   json.RawMessage `json:"resource"`
}

type resource struct {
	ID          string `json:"id"`
	PlanID      string `json:"plan_id"`
	CustomID    string `json:"custom_id"`
	BillingInfo struct {
		NextBillingTime string `json:"next_billing_time"`
	} `json:"billing_info"`
}

// The structs below state which resource fields each kind requires.

type subscriptionRef struct {
	ID string `json:"resource.id" validate:"required"`
}

type creation struct {
	ID              string `json:"resource.id" validate:"required"`
	PlanID          string `json:"resource.plan_id" validate:"required"`
	CustomID        string `json:"resource.custom_id" validate:"required"`
	NextBillingTime string `json:"resource.billing_info.next_billing_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

type planChange struct {
	ID              string `json:"resource.id" validate:"required"`
	PlanID          string `json:"resource.plan_id" validate:"required"`
	NextBillingTime string `json:"resource.billing_info.next_billing_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

// Parser turns raw webhook bodies into domain events.
type Parser struct {
	validate *validator.Validate
}

// NewParser creates a new webhook parser
func NewParser() *Parser {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Parser{validate: v}
}

// NormalizeEventType strips the provider's optional "BILLING." prefix so
// that BILLING.SUBSCRIPTION.CREATED and SUBSCRIPTION.CREATED dispatch the
// same way.
func NormalizeEventType(eventType string) string {
	return strings.TrimPrefix(strings.TrimSpace(eventType), billingPrefix)
}

// Parse decodes body into a domain event. Tags outside the dispatch table
// yield domain.Other; every error wraps domain.ErrMalformedPayload.
func (p *Parser) Parse(body []byte) (domain.Event, error) {
	var env payload
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.NewMalformedPayloadError(fmt.Sprintf("invalid JSON: %v", err))
	}
	if err := p.check(env); err != nil {
		return nil, err
	}

	meta := domain.Meta{ID: env.ID, Type: env.EventType}
	if env.CreateTime != "" {
		meta.OccurredAt, _ = time.Parse(time.RFC3339, env.CreateTime)
	}

	kind := NormalizeEventType(env.EventType)
	switch kind {
	case domain.EventSubscriptionCreated,
		domain.EventSubscriptionCancelled,
		domain.EventSubscriptionSuspended,
		domain.EventSubscriptionPaymentFailed,
		domain.EventSubscriptionUpdated:
	default:
		return domain.Other{Meta: meta, Raw: json.RawMessage(body)}, nil
	}

	var res resource
	if len(env.Resource) == 0 || string(env.Resource) == "null" {
		return nil, domain.NewMalformedPayloadError("resource is required")
	}
	if err := json.Unmarshal(env.Resource, &res); err != nil {
		return nil, domain.NewMalformedPayloadError(fmt.Sprintf("invalid resource: %v", err))
	}

	switch kind {
	case domain.EventSubscriptionCreated:
		if err := p.check(creation{
			ID:              res.ID,
			PlanID:          res.PlanID,
			CustomID:        res.CustomID,
			NextBillingTime: res.BillingInfo.NextBillingTime,
		}); err != nil {
			return nil, err
		}
		next, _ := time.Parse(time.RFC3339, res.BillingInfo.NextBillingTime)
		return domain.Created{
			Meta:                   meta,
			ProviderSubscriptionID: res.ID,
			PlanID:                 res.PlanID,
			UserID:                 res.CustomID,
			NextBillingTime:        next.UTC(),
		}, nil

	case domain.EventSubscriptionUpdated:
		if err := p.check(planChange{
			ID:              res.ID,
			PlanID:          res.PlanID,
			NextBillingTime: res.BillingInfo.NextBillingTime,
		}); err != nil {
			return nil, err
		}
		next, _ := time.Parse(time.RFC3339, res.BillingInfo.NextBillingTime)
		return domain.Updated{
			Meta:                   meta,
			ProviderSubscriptionID: res.ID,
			PlanID:                 res.PlanID,
			NextBillingTime:        next.UTC(),
		}, nil
	}

	if err := p.check(subscriptionRef{ID: res.ID}); err != nil {
		return nil, err
	}
	switch kind {
	case domain.EventSubscriptionCancelled:
		return domain.Cancelled{Meta: meta, ProviderSubscriptionID: res.ID}, nil
	case domain.EventSubscriptionSuspended:
		return domain.Suspended{Meta: meta, ProviderSubscriptionID: res.ID}, nil
	default:
		return domain.PaymentFailed{Meta: meta, ProviderSubscriptionID: res.ID}, nil
	}
}

func (p *Parser) check(v any) error {
	err := p.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewMalformedPayloadError(err.Error())
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fe.Field()+" is required")
		case "datetime":
			problems = append(problems, fe.Field()+" must be an RFC 3339 timestamp")
		default:
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return domain.NewMalformedPayloadError(strings.Join(problems, "; "))
}
