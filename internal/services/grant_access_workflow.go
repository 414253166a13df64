package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"greendrake/referral/internal/events"
	"greendrake/referral/internal/metrics"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

// AdminDecisionInput is the body of an admin pricing decision.
type AdminDecisionInput struct {
	IsFree       bool             `json:"isFree"`
	ChargeAmount *decimal.Decimal `json:"chargeAmount,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// PaymentIntentResult is returned to the agent's client to complete payment.
type PaymentIntentResult struct {
	GrantAccessRequestID utils.SixID  `json:"grant_access_request_id"`
	IntentID             string       `json:"payment_intent_id"`
	ClientSecret         string       `json:"client_secret"`
	Amount               models.Cents `json:"amount"`
	Currency             string       `json:"currency"`
	Reused               bool         `json:"reused"`
}

// WebhookOutcome says what a verified webhook delivery did.
type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookUnmatched WebhookOutcome = "unmatched"
)

// IGrantAccessWorkflowService drives a grant-access request from creation to
// a terminal state and answers access questions for agents.
type IGrantAccessWorkflowService interface {
	RequestAccess(ctx context.Context, agentID, preMarketRequestID utils.SixID) (*models.GrantAccessRequest, error)
	AdminDecide(ctx context.Context, adminID, grantID utils.SixID, in AdminDecisionInput) (*models.GrantAccessRequest, error)
	AdminReject(ctx context.Context, adminID, grantID utils.SixID, notes string) (*models.GrantAccessRequest, error)
	CreatePaymentIntent(ctx context.Context, agentID, grantID utils.SixID) (*PaymentIntentResult, error)
	HandlePaymentWebhook(ctx context.Context, payload []byte, signatureHeader string) (WebhookOutcome, error)
	HandlePaymentSucceeded(ctx context.Context, ev *PaymentEvent) (WebhookOutcome, error)
	HandlePaymentFailed(ctx context.Context, ev *PaymentEvent) (WebhookOutcome, error)
	GetAccessStatus(ctx context.Context, agentID, preMarketRequestID utils.SixID) (models.AccessStatus, error)
	GetForAgent(ctx context.Context, agentID, preMarketRequestID utils.SixID) (*models.PreMarketRequest, models.AccessStatus, error)
	ListForAgent(ctx context.Context, agentID utils.SixID, filter PreMarketFilter, page Page) ([]models.PreMarketRequest, error)
	ListAgentGrants(ctx context.Context, agentID utils.SixID, status models.GrantAccessStatus, page Page) ([]models.GrantAccessRequest, error)
	ListGrants(ctx context.Context, status models.GrantAccessStatus, page Page) ([]models.GrantAccessRequest, error)
}

// WorkflowSettings supplies tunables that may change at runtime.
type WorkflowSettings interface {
	MaxPaymentFailures(ctx context.Context) int
	PaymentCurrency(ctx context.Context) string
}

// StaticWorkflowSettings returns fixed values.
type StaticWorkflowSettings struct {
	MaxFailures int
	Currency    string
}

func (s StaticWorkflowSettings) MaxPaymentFailures(context.Context) int { return s.MaxFailures }
func (s StaticWorkflowSettings) PaymentCurrency(context.Context) string { return s.Currency }

type dynamicWorkflowSettings struct {
	cfg      IConfigService
	fallback StaticWorkflowSettings
}

// NewDynamicWorkflowSettings reads MAX_PAYMENT_FAILURES and PAYMENT_CURRENCY
// from the config service, falling back to the static values.
func NewDynamicWorkflowSettings(cfg IConfigService, fallback StaticWorkflowSettings) WorkflowSettings {
	return &dynamicWorkflowSettings{cfg: cfg, fallback: fallback}
}

func (s *dynamicWorkflowSettings) MaxPaymentFailures(ctx context.Context) int {
	return s.cfg.GetInt(ctx, "MAX_PAYMENT_FAILURES", s.fallback.MaxFailures)
}

func (s *dynamicWorkflowSettings) PaymentCurrency(ctx context.Context) string {
	return s.cfg.GetString(ctx, "PAYMENT_CURRENCY", s.fallback.Currency)
}

type grantAccessWorkflowService struct {
	preMarket IPreMarketRequestService
	grants    IGrantAccessRequestService
	adminLog  IAdminActionLogService
	gateway   PaymentGateway
	emitter   events.Emitter
	settings  WorkflowSettings
	metrics   *metrics.Metrics
}

// NewGrantAccessWorkflowService wires the workflow. m may be nil.
func NewGrantAccessWorkflowService(
	preMarket IPreMarketRequestService,
	grants IGrantAccessRequestService,
	adminLog IAdminActionLogService,
	gateway PaymentGateway,
	emitter events.Emitter,
	settings WorkflowSettings,
	m *metrics.Metrics,
) IGrantAccessWorkflowService {
	return &grantAccessWorkflowService{
		preMarket: preMarket,
		grants:    grants,
		adminLog:  adminLog,
		gateway:   gateway,
		emitter:   emitter,
		settings:  settings,
		metrics:   m,
	}
}

// emit hands the event to the dispatcher. Delivery problems never affect the
// transition that produced the event.
func (s *grantAccessWorkflowService) emit(ctx context.Context, e events.Event) {
	if err := s.emitter.Emit(ctx, e); err != nil {
		log.Printf("ERROR emitting %s event %s for pre-market request %s: %v", e.Type, e.ID, e.PreMarketRequestID, err)
	}
}

func (s *grantAccessWorkflowService) audit(ctx context.Context, adminID utils.SixID, action models.AdminAction, g *models.GrantAccessRequest, notes string) {
	if err := s.adminLog.Record(ctx, adminID, action, g.ID.String(), notes); err != nil {
		log.Printf("ERROR %v", err)
	}
}

func (s *grantAccessWorkflowService) RequestAccess(ctx context.Context, agentID, preMarketRequestID utils.SixID) (*models.GrantAccessRequest, error) {
	pm, err := s.preMarket.FindByID(ctx, preMarketRequestID)
	if err != nil {
		return nil, err
	}
	if pm.Status == models.PreMarketStatusDeleted || !visibleTo(pm, agentID) {
		return nil, NewNotFoundError("pre-market request %s not found", preMarketRequestID)
	}
	if pm.Status != models.PreMarketStatusActive || !pm.IsActive {
		return nil, NewInvalidStateError("pre-market request %s is not accepting new agents", preMarketRequestID)
	}

	g, err := s.grants.Create(ctx, &models.GrantAccessRequest{
		PreMarketRequestID: pm.ID,
		AgentID:            agentID,
		RenterID:           pm.RenterID,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.Transition("pending", "conflict")
		}
		return nil, err
	}
	s.metrics.Transition("pending", "ok")

	if err := s.preMarket.IncMatchCount(ctx, pm.ID); err != nil {
		log.Printf("ERROR incrementing match count of %s for grant-access request %s: %v", pm.ID, g.ID, err)
	}
	s.emit(ctx, events.ForGrant(events.GrantAccessRequested, g))
	return g, nil
}

// decisionCents validates the admin payload and returns the charge, or nil
// for a free grant.
func decisionCents(in AdminDecisionInput) (*models.Cents, error) {
	if in.IsFree {
		return nil, nil
	}
	if in.ChargeAmount == nil {
		return nil, NewValidationError("chargeAmount is required when isFree is false")
	}
	if !in.ChargeAmount.IsPositive() {
		return nil, NewValidationError("chargeAmount must be a positive number")
	}
	cents, err := models.CentsFromDecimal(*in.ChargeAmount)
	if err != nil {
		return nil, NewValidationError("invalid chargeAmount: %v", err)
	}
	if cents > models.MaxChargeCents {
		return nil, NewValidationError("chargeAmount must not exceed %s", models.MaxChargeCents)
	}
	return &cents, nil
}

// lostRace re-reads a record whose conditional update did not apply and
// explains why.
func (s *grantAccessWorkflowService) lostRace(ctx context.Context, id utils.SixID, action string) error {
	current, err := s.grants.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Payment != nil && current.Payment.RequiresReapproval && current.Status == models.GrantAccessPending {
		return NewInvalidStateError("grant-access request %s requires admin re-approval before %s", id, action)
	}
	return NewInvalidStateError("cannot %s grant-access request %s in status %s", action, id, current.Status)
}

func (s *grantAccessWorkflowService) AdminDecide(ctx context.Context, adminID, grantID utils.SixID, in AdminDecisionInput) (*models.GrantAccessRequest, error) {
	charge, err := decisionCents(in)
	if err != nil {
		return nil, err
	}
	current, err := s.grants.FindByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.GrantAccessPending {
		return nil, NewInvalidStateError("grant-access request %s is already %s", grantID, current.Status)
	}

	decision := models.AdminDecision{AdminID: adminID, DecidedAt: time.Now().UTC(), Notes: in.Notes}
	var g *models.GrantAccessRequest
	if charge == nil {
		g, err = s.grants.ApplyFreeGrant(ctx, grantID, decision)
	} else {
		g, err = s.grants.ApplyPrice(ctx, grantID, decision, *charge, s.settings.PaymentCurrency(ctx))
	}
	if errors.Is(err, ErrConditionNotMet) {
		s.metrics.Transition("decide", "lost_race")
		return nil, s.lostRace(ctx, grantID, "decide")
	}
	if err != nil {
		return nil, err
	}

	if charge == nil {
		s.metrics.Transition("free", "ok")
		s.audit(ctx, adminID, models.AdminActionGrantFree, g, in.Notes)
		s.emit(ctx, events.ForGrant(events.GrantAccessApproved, g))
	} else {
		s.metrics.Transition("priced", "ok")
		s.audit(ctx, adminID, models.AdminActionGrantPriced, g, fmt.Sprintf("%s %s. %s", charge, g.Payment.Currency, in.Notes))
		s.emit(ctx, events.ForGrant(events.GrantAccessPriced, g))
	}
	return g, nil
}

func (s *grantAccessWorkflowService) AdminReject(ctx context.Context, adminID, grantID utils.SixID, notes string) (*models.GrantAccessRequest, error) {
	decision := models.AdminDecision{AdminID: adminID, DecidedAt: time.Now().UTC(), Notes: notes}
	g, err := s.grants.Reject(ctx, grantID, decision)
	if errors.Is(err, ErrConditionNotMet) {
		s.metrics.Transition("rejected", "lost_race")
		return nil, s.lostRace(ctx, grantID, "reject")
	}
	if err != nil {
		return nil, err
	}
	s.metrics.Transition("rejected", "ok")

	// Only a pending record can be rejected, so the slot it held is released here.
	if err := s.preMarket.DecMatchCount(ctx, g.PreMarketRequestID); err != nil {
		log.Printf("ERROR decrementing match count of %s for rejected grant-access request %s: %v", g.PreMarketRequestID, g.ID, err)
	}
	s.audit(ctx, adminID, models.AdminActionGrantReject, g, notes)
	s.emit(ctx, events.ForGrant(events.GrantAccessRejected, g))
	return g, nil
}

func intentIdempotencyKey(g *models.GrantAccessRequest) string {
	previous := g.Payment.IntentID
	if previous == "" {
		previous = "none"
	}
	return fmt.Sprintf("grant-access:%s:%d:%d:%s", g.ID, g.Payment.Amount, g.Payment.FailureCount, previous)
}

func (s *grantAccessWorkflowService) CreatePaymentIntent(ctx context.Context, agentID, grantID utils.SixID) (*PaymentIntentResult, error) {
	g, err := s.grants.FindByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if g.AgentID != agentID {
		return nil, NewForbiddenError("grant-access request %s belongs to another agent", grantID)
	}
	switch g.Status {
	case models.GrantAccessPending:
	case models.GrantAccessPaid:
		return nil, NewInvalidStateError("grant-access request %s is already paid", grantID)
	case models.GrantAccessFree:
		return nil, NewInvalidStateError("grant-access request %s was granted free of charge", grantID)
	default:
		return nil, NewInvalidStateError("grant-access request %s is %s", grantID, g.Status)
	}
	if g.Payment == nil || g.Payment.Amount <= 0 {
		return nil, NewInvalidStateError("no charge amount has been set for grant-access request %s", grantID)
	}
	if g.Payment.RequiresReapproval {
		return nil, NewInvalidStateError("grant-access request %s reached %d failed payments and requires admin re-approval", grantID, g.Payment.FailureCount)
	}

	if g.Payment.IntentID != "" {
		existing, err := s.gateway.GetIntent(ctx, g.Payment.IntentID)
		if err != nil {
			s.metrics.PaymentIntent("error")
			return nil, NewExternalServiceError(err, "failed to retrieve payment intent for grant-access request %s", grantID)
		}
		if existing.Status == "succeeded" {
			return nil, NewInvalidStateError("payment for grant-access request %s has completed and is awaiting confirmation", grantID)
		}
		if existing.Open() && existing.Amount == g.Payment.Amount && existing.Currency == g.Payment.Currency {
			s.metrics.PaymentIntent("reused")
			return &PaymentIntentResult{
				GrantAccessRequestID: g.ID,
				IntentID:             existing.ID,
				ClientSecret:         existing.ClientSecret,
				Amount:               existing.Amount,
				Currency:             existing.Currency,
				Reused:               true,
			}, nil
		}
	}

	intent, err := s.gateway.CreateIntent(ctx, CreateIntentParams{
		GrantAccessRequestID: g.ID,
		AgentID:              g.AgentID,
		Amount:               g.Payment.Amount,
		Currency:             g.Payment.Currency,
		IdempotencyKey:       intentIdempotencyKey(g),
	})
	if err != nil {
		s.metrics.PaymentIntent("error")
		return nil, NewExternalServiceError(err, "failed to create payment intent for grant-access request %s", grantID)
	}

	if _, err := s.grants.AttachPaymentIntent(ctx, g.ID, g.Payment.Amount, intent.ID); err != nil {
		if errors.Is(err, ErrConditionNotMet) {
			log.Printf("WARN: payment intent %s orphaned, grant-access request %s changed while it was created", intent.ID, g.ID)
			return nil, s.lostRace(ctx, g.ID, "pay")
		}
		return nil, err
	}
	s.metrics.PaymentIntent("created")
	return &PaymentIntentResult{
		GrantAccessRequestID: g.ID,
		IntentID:             intent.ID,
		ClientSecret:         intent.ClientSecret,
		Amount:               intent.Amount,
		Currency:             intent.Currency,
	}, nil
}

func (s *grantAccessWorkflowService) HandlePaymentWebhook(ctx context.Context, payload []byte, signatureHeader string) (WebhookOutcome, error) {
	ev, err := s.gateway.ParseWebhook(payload, signatureHeader)
	if errors.Is(err, ErrMalformedPaymentEvent) {
		log.Printf("ERROR verified payment webhook could not be decoded, acknowledging: %v", err)
		s.metrics.Webhook("unknown", "malformed")
		return WebhookIgnored, nil
	}
	if err != nil {
		s.metrics.Webhook("unknown", "unauthorized")
		return "", NewUnauthorizedError("invalid webhook signature: %v", err)
	}
	switch ev.Kind {
	case PaymentEventSucceeded:
		return s.HandlePaymentSucceeded(ctx, ev)
	case PaymentEventFailed:
		return s.HandlePaymentFailed(ctx, ev)
	default:
		s.metrics.Webhook(string(PaymentEventIgnored), string(WebhookIgnored))
		return WebhookIgnored, nil
	}
}

// resolve finds the record an event refers to, by intent first and then by
// the grant id the intent was created with.
func (s *grantAccessWorkflowService) resolve(ctx context.Context, ev *PaymentEvent) (*models.GrantAccessRequest, error) {
	g, err := s.grants.FindByPaymentIntent(ctx, ev.IntentID)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, ErrNotFound) || ev.GrantAccessRequestID == nil {
		return nil, err
	}
	return s.grants.FindByID(ctx, *ev.GrantAccessRequestID)
}

func (s *grantAccessWorkflowService) webhookDone(ev *PaymentEvent, outcome WebhookOutcome) (WebhookOutcome, error) {
	s.metrics.Webhook(string(ev.Kind), string(outcome))
	return outcome, nil
}

func (s *grantAccessWorkflowService) HandlePaymentSucceeded(ctx context.Context, ev *PaymentEvent) (WebhookOutcome, error) {
	g, err := s.resolve(ctx, ev)
	if errors.Is(err, ErrNotFound) {
		log.Printf("WARN: payment succeeded for intent %s (event %s) with no matching grant-access request", ev.IntentID, ev.ID)
		return s.webhookDone(ev, WebhookUnmatched)
	}
	if err != nil {
		return "", err
	}
	if g.Status == models.GrantAccessPaid {
		return s.webhookDone(ev, WebhookDuplicate)
	}
	if g.Status != models.GrantAccessPending || g.Payment == nil || g.Payment.IntentID != ev.IntentID {
		log.Printf("CRITICAL: payment intent %s succeeded for grant-access request %s in status %s; refund required", ev.IntentID, g.ID, g.Status)
		return s.webhookDone(ev, WebhookUnmatched)
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	paid, err := s.grants.MarkPaymentSucceeded(ctx, ev.IntentID, ev.ID, at)
	if errors.Is(err, ErrConditionNotMet) {
		current, findErr := s.grants.FindByID(ctx, g.ID)
		if findErr != nil {
			return "", findErr
		}
		if current.Status == models.GrantAccessPaid {
			return s.webhookDone(ev, WebhookDuplicate)
		}
		log.Printf("CRITICAL: payment intent %s succeeded but grant-access request %s moved to %s; refund required", ev.IntentID, g.ID, current.Status)
		return s.webhookDone(ev, WebhookUnmatched)
	}
	if err != nil {
		return "", err
	}

	s.metrics.Transition("paid", "ok")
	s.emit(ctx, events.ForGrant(events.PaymentSucceeded, paid))
	return s.webhookDone(ev, WebhookApplied)
}

func (s *grantAccessWorkflowService) HandlePaymentFailed(ctx context.Context, ev *PaymentEvent) (WebhookOutcome, error) {
	g, err := s.resolve(ctx, ev)
	if errors.Is(err, ErrNotFound) {
		log.Printf("WARN: payment failed for intent %s (event %s) with no matching grant-access request", ev.IntentID, ev.ID)
		return s.webhookDone(ev, WebhookUnmatched)
	}
	if err != nil {
		return "", err
	}
	if g.Status != models.GrantAccessPending || g.Payment == nil || g.Payment.IntentID != ev.IntentID {
		log.Printf("WARN: ignoring payment failure of intent %s for grant-access request %s in status %s", ev.IntentID, g.ID, g.Status)
		return s.webhookDone(ev, WebhookIgnored)
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	failed, err := s.grants.MarkPaymentFailed(ctx, ev.IntentID, ev.ID, at, s.settings.MaxPaymentFailures(ctx))
	if errors.Is(err, ErrConditionNotMet) {
		// Either this event was already counted or the record left pending.
		return s.webhookDone(ev, WebhookDuplicate)
	}
	if err != nil {
		return "", err
	}

	s.metrics.Transition("payment_failed", "ok")
	e := events.ForGrant(events.PaymentFailed, failed)
	e.Notes = ev.FailureMessage
	if failed.Payment.RequiresReapproval {
		log.Printf("WARN: grant-access request %s reached %d failed payments; admin re-approval required", failed.ID, failed.Payment.FailureCount)
	}
	s.emit(ctx, e)
	return s.webhookDone(ev, WebhookApplied)
}

func (s *grantAccessWorkflowService) GetAccessStatus(ctx context.Context, agentID, preMarketRequestID utils.SixID) (models.AccessStatus, error) {
	pm, err := s.preMarket.FindByID(ctx, preMarketRequestID)
	if err != nil {
		return models.AccessStatus{}, err
	}
	if pm.Status == models.PreMarketStatusDeleted {
		return models.AccessStatus{}, NewNotFoundError("pre-market request %s not found", preMarketRequestID)
	}
	g, err := s.grants.FindCurrentForPair(ctx, agentID, preMarketRequestID)
	if err != nil {
		return models.AccessStatus{}, err
	}
	return models.AccessStatusFor(g), nil
}

// visibleTo reports whether the agent may discover the request: shared
// requests are open to every agent, private ones only to the referrer.
func visibleTo(pm *models.PreMarketRequest, agentID utils.SixID) bool {
	if pm.Visibility == models.VisibilityShared {
		return true
	}
	return pm.ReferringAgentID != nil && *pm.ReferringAgentID == agentID
}

// GetForAgent returns the request as the agent may see it and records the view.
func (s *grantAccessWorkflowService) GetForAgent(ctx context.Context, agentID, preMarketRequestID utils.SixID) (*models.PreMarketRequest, models.AccessStatus, error) {
	pm, err := s.preMarket.FindByID(ctx, preMarketRequestID)
	if err != nil {
		return nil, models.AccessStatus{}, err
	}
	if pm.Status == models.PreMarketStatusDeleted {
		return nil, models.AccessStatus{}, NewNotFoundError("pre-market request %s not found", preMarketRequestID)
	}
	g, err := s.grants.FindCurrentForPair(ctx, agentID, preMarketRequestID)
	if err != nil {
		return nil, models.AccessStatus{}, err
	}
	status := models.AccessStatusFor(g)

	holds := g != nil && g.Status.Holds()
	listed := pm.Status == models.PreMarketStatusActive && pm.IsActive && visibleTo(pm, agentID)
	referred := pm.ReferringAgentID != nil && *pm.ReferringAgentID == agentID
	if !holds && !referred && !listed {
		return nil, models.AccessStatus{}, NewNotFoundError("pre-market request %s not found", preMarketRequestID)
	}

	if err := s.preMarket.MarkViewed(ctx, pm.ID, agentID, status.HasAccess); err != nil {
		log.Printf("WARN: %v", err)
	}
	view := pm.ForAgent(status.HasAccess)
	return &view, status, nil
}

func (s *grantAccessWorkflowService) ListForAgent(ctx context.Context, agentID utils.SixID, filter PreMarketFilter, page Page) ([]models.PreMarketRequest, error) {
	grants, err := s.grants.ListByAgent(ctx, agentID, "", Page{})
	if err != nil {
		return nil, err
	}
	var matched []utils.SixID
	unlocked := map[utils.SixID]bool{}
	for i := range grants {
		g := &grants[i]
		if !g.Status.Holds() {
			continue
		}
		matched = append(matched, g.PreMarketRequestID)
		if g.AccessState().Unlocked() {
			unlocked[g.PreMarketRequestID] = true
		}
	}

	requests, err := s.preMarket.ListForAgents(ctx, agentID, matched, filter, page)
	if err != nil {
		return nil, err
	}
	views := make([]models.PreMarketRequest, 0, len(requests))
	for _, r := range requests {
		views = append(views, r.ForAgent(unlocked[r.ID]))
	}
	return views, nil
}

func (s *grantAccessWorkflowService) ListAgentGrants(ctx context.Context, agentID utils.SixID, status models.GrantAccessStatus, page Page) ([]models.GrantAccessRequest, error) {
	if status != "" && !status.Valid() {
		return nil, NewValidationError("invalid status %q", status)
	}
	return s.grants.ListByAgent(ctx, agentID, status, page)
}

func (s *grantAccessWorkflowService) ListGrants(ctx context.Context, status models.GrantAccessStatus, page Page) ([]models.GrantAccessRequest, error) {
	if status != "" && !status.Valid() {
		return nil, NewValidationError("invalid status %q", status)
	}
	return s.grants.ListAll(ctx, status, page)
}
