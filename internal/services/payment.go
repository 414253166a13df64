package services

import (
	"context"
	"errors"
	"time"

	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

// ErrMalformedPaymentEvent marks a webhook that passed signature verification
// but whose payload cannot be used. Redelivery will not fix it.
var ErrMalformedPaymentEvent = errors.New("malformed payment event")

// PaymentEventKind is the subset of provider webhook events the workflow acts on.
type PaymentEventKind string

const (
	PaymentEventSucceeded PaymentEventKind = "succeeded"
	PaymentEventFailed    PaymentEventKind = "failed"
	PaymentEventIgnored   PaymentEventKind = "ignored"
)

// PaymentIntent is the provider-side intent as the workflow sees it.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       models.Cents
	Currency     string
}

// Open reports whether the intent can still be completed by the payer.
func (pi *PaymentIntent) Open() bool {
	switch pi.Status {
	case "requires_payment_method", "requires_confirmation", "requires_action", "processing":
		return true
	}
	return false
}

type CreateIntentParams struct {
	GrantAccessRequestID utils.SixID
	AgentID              utils.SixID
	Amount               models.Cents
	Currency             string
	IdempotencyKey       string
}

// PaymentEvent is a verified provider webhook event.
type PaymentEvent struct {
	ID                   string
	Type                 string
	Kind                 PaymentEventKind
	IntentID             string
	GrantAccessRequestID *utils.SixID
	Amount               models.Cents
	Currency             string
	FailureMessage       string
	OccurredAt           time.Time
}

// PaymentGateway creates intents and verifies webhooks. Implementations bound
// every call with their own timeout and retry policy.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, p CreateIntentParams) (*PaymentIntent, error)
	GetIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	// ParseWebhook verifies the signature header against the raw payload.
	// Verified events that cannot be decoded return ErrMalformedPaymentEvent.
	ParseWebhook(payload []byte, signatureHeader string) (*PaymentEvent, error)
}
