package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"greendrake/referral/internal/config"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
	"greendrake/referral/internal/utils"
)

// MetadataGrantAccessRequestID is the intent metadata key pointing back to
// the grant-access request.
const MetadataGrantAccessRequestID = "grant_access_request_id"

const (
	eventIntentSucceeded = "payment_intent.succeeded"
	eventIntentFailed    = "payment_intent.payment_failed"
)

// ErrWebhookNotConfigured is returned by ParseWebhook when no signing secret is set.
var ErrWebhookNotConfigured = errors.New("stripe webhook secret not configured")

// StripeGateway implements services.PaymentGateway on Stripe PaymentIntents.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
}

// Options configures a StripeGateway. URL overrides the API endpoint.
type Options struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int
	URL           string
}

// NewStripeGateway builds a gateway from the payment settings in cfg.
func NewStripeGateway(cfg *config.Config) *StripeGateway {
	return New(Options{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.PaymentTimeout,
		MaxRetries:    cfg.PaymentMaxRetries,
	})
}

func New(opts Options) *StripeGateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	backendConfig := func() *stripe.BackendConfig {
		bc := &stripe.BackendConfig{
			HTTPClient:        &http.Client{Timeout: opts.Timeout},
			MaxNetworkRetries: stripe.Int64(int64(opts.MaxRetries)),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelWarn},
		}
		if opts.URL != "" {
			bc.URL = stripe.String(opts.URL)
		}
		return bc
	}

	api := &client.API{}
	api.Init(opts.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig()),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig()),
	})
	return &StripeGateway{api: api, webhookSecret: opts.WebhookSecret, timeout: opts.Timeout}
}

func toIntent(pi *stripe.PaymentIntent) *services.PaymentIntent {
	return &services.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       models.Cents(pi.Amount),
		Currency:     strings.ToLower(string(pi.Currency)),
	}
}

// CreateIntent creates an intent for the grant-access request. The
// idempotency key makes a retried call return the intent created first.
func (g *StripeGateway) CreateIntent(ctx context.Context, p services.CreateIntentParams) (*services.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(p.Amount)),
		Currency: stripe.String(strings.ToLower(p.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String("Grant access " + p.GrantAccessRequestID.String()),
	}
	params.Context = ctx
	params.AddMetadata(MetadataGrantAccessRequestID, p.GrantAccessRequestID.String())
	params.AddMetadata("agent_id", p.AgentID.String())
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent for %s: %w", p.GrantAccessRequestID, err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, intentID string) (*services.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get payment intent %s: %w", intentID, err)
	}
	return toIntent(pi), nil
}

// ParseWebhook verifies the Stripe-Signature header and maps payment intent
// events. Other event types come back with Kind PaymentEventIgnored.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*services.PaymentEvent, error) {
	if g.webhookSecret == "" {
		return nil, ErrWebhookNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("stripe: verify webhook: %w", err)
	}

	ev := &services.PaymentEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Kind:       services.PaymentEventIgnored,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	switch string(event.Type) {
	case eventIntentSucceeded:
		ev.Kind = services.PaymentEventSucceeded
	case eventIntentFailed:
		ev.Kind = services.PaymentEventFailed
	default:
		return ev, nil
	}

	if event.Data == nil {
		return nil, fmt.Errorf("stripe: event %s has no data: %w", event.ID, services.ErrMalformedPaymentEvent)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("stripe: decode payment intent of event %s: %w: %w", event.ID, services.ErrMalformedPaymentEvent, err)
	}
	if pi.ID == "" {
		return nil, fmt.Errorf("stripe: event %s has no payment intent id: %w", event.ID, services.ErrMalformedPaymentEvent)
	}
	ev.IntentID = pi.ID
	ev.Amount = models.Cents(pi.Amount)
	ev.Currency = strings.ToLower(string(pi.Currency))
	if raw, ok := pi.Metadata[MetadataGrantAccessRequestID]; ok {
		if id, err := utils.ParseSixID(raw); err == nil {
			ev.GrantAccessRequestID = &id
		}
	}
	if pi.LastPaymentError != nil {
		ev.FailureMessage = pi.LastPaymentError.Msg
	}
	return ev, nil
}
