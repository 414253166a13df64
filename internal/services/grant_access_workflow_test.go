package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"greendrake/referral/internal/events"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

type workflowFixture struct {
	svc       IGrantAccessWorkflowService
	preMarket *fakePreMarketStore
	grants    *fakeGrantStore
	adminLog  *fakeAdminLog
	gateway   *mockGateway
	emitter   *recordingEmitter

	agent  utils.SixID
	admin  utils.SixID
	listed *models.PreMarketRequest
}

func newWorkflowFixture(t *testing.T, maxFailures int) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		preMarket: newFakePreMarketStore(),
		grants:    newFakeGrantStore(),
		adminLog:  &fakeAdminLog{},
		gateway:   &mockGateway{},
		emitter:   &recordingEmitter{},
		agent:     utils.NewSixID(),
		admin:     utils.NewSixID(),
	}
	f.svc = NewGrantAccessWorkflowService(f.preMarket, f.grants, f.adminLog, f.gateway, f.emitter,
		StaticWorkflowSettings{MaxFailures: maxFailures, Currency: "usd"}, nil)
	f.listed = f.preMarket.add(&models.PreMarketRequest{
		RenterID:    utils.NewSixID(),
		Renter:      &models.RenterContact{Name: "Rita Renter", Email: "rita@example.com", Phone: "+1 555 0100"},
		MovingDates: models.DateRange{Earliest: time.Now().Add(24 * time.Hour), Latest: time.Now().Add(60 * 24 * time.Hour)},
		Status:      models.PreMarketStatusActive,
		IsActive:    true,
		Visibility:  models.VisibilityShared,
	})
	t.Cleanup(func() { f.gateway.AssertExpectations(t) })
	return f
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func (f *workflowFixture) requestAndPrice(t *testing.T, amount string) *models.GrantAccessRequest {
	t.Helper()
	g, err := f.svc.RequestAccess(context.Background(), f.agent, f.listed.ID)
	require.NoError(t, err)
	g, err = f.svc.AdminDecide(context.Background(), f.admin, g.ID, AdminDecisionInput{ChargeAmount: price(amount)})
	require.NoError(t, err)
	return g
}

func (f *workflowFixture) createIntent(t *testing.T, g *models.GrantAccessRequest, intentID string) *PaymentIntentResult {
	t.Helper()
	f.gateway.On("CreateIntent", mock.Anything, mock.MatchedBy(func(p CreateIntentParams) bool {
		return p.GrantAccessRequestID == g.ID
	})).Return(&PaymentIntent{
		ID: intentID, ClientSecret: intentID + "_secret", Status: "requires_payment_method",
		Amount: g.Payment.Amount, Currency: g.Payment.Currency,
	}, nil).Once()
	res, err := f.svc.CreatePaymentIntent(context.Background(), f.agent, g.ID)
	require.NoError(t, err)
	return res
}

func succeeded(eventID, intentID string) *PaymentEvent {
	return &PaymentEvent{ID: eventID, Kind: PaymentEventSucceeded, IntentID: intentID, OccurredAt: time.Now().UTC()}
}

func failed(eventID, intentID string) *PaymentEvent {
	return &PaymentEvent{ID: eventID, Kind: PaymentEventFailed, IntentID: intentID, FailureMessage: "card declined", OccurredAt: time.Now().UTC()}
}

func TestWorkflow_FreeGrantUnlocksImmediately(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g, err := f.svc.RequestAccess(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GrantAccessPending, g.Status)
	assert.Equal(t, 1, f.preMarket.get(f.listed.ID).MatchCount)

	g, err = f.svc.AdminDecide(ctx, f.admin, g.ID, AdminDecisionInput{IsFree: true, Notes: "trusted agent"})
	require.NoError(t, err)
	assert.Equal(t, models.GrantAccessFree, g.Status)
	assert.True(t, g.AdminDecision.IsFree)
	assert.Nil(t, g.AdminDecision.ChargeAmount)

	status, err := f.svc.GetAccessStatus(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.True(t, status.HasAccess)
	assert.Equal(t, models.AccessUnlockedFree, status.State.Kind())

	f.gateway.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.emitter.count(events.GrantAccessRequested))
	assert.Equal(t, 1, f.emitter.count(events.GrantAccessApproved))
	require.Len(t, f.adminLog.entries, 1)
	assert.Equal(t, models.AdminActionGrantFree, f.adminLog.entries[0].Action)
}

func TestWorkflow_PaidGrantUnlocksOnWebhook(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g := f.requestAndPrice(t, "99.99")
	assert.Equal(t, models.Cents(9999), g.Payment.Amount)
	assert.Equal(t, models.PaymentPending, g.Payment.Status)

	res := f.createIntent(t, g, "pi_1")
	assert.Equal(t, "pi_1", res.IntentID)
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	assert.False(t, res.Reused)

	status, err := f.svc.GetAccessStatus(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.False(t, status.HasAccess)

	payload := []byte(`{"id":"evt_1"}`)
	f.gateway.On("ParseWebhook", payload, "sig").Return(succeeded("evt_1", "pi_1"), nil).Once()
	outcome, err := f.svc.HandlePaymentWebhook(ctx, payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	status, err = f.svc.GetAccessStatus(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.True(t, status.HasAccess)
	assert.Equal(t, models.PaymentSucceeded, status.PaymentStatus)
	assert.Equal(t, models.GrantAccessPaid, status.Status)
	paid, ok := status.State.(models.UnlockedPaid)
	require.True(t, ok)
	assert.Equal(t, models.Cents(9999), paid.Amount)
}

func TestWorkflow_FailedPaymentCanBeRetried(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g := f.requestAndPrice(t, "99.99")
	f.createIntent(t, g, "pi_1")

	outcome, err := f.svc.HandlePaymentFailed(ctx, failed("evt_f1", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	status, err := f.svc.GetAccessStatus(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.False(t, status.HasAccess)
	assert.Equal(t, 1, status.FailureCount)
	assert.Equal(t, models.GrantAccessPending, status.Status)
	assert.Equal(t, models.PaymentFailed, status.PaymentStatus)

	f.gateway.On("GetIntent", mock.Anything, "pi_1").Return(&PaymentIntent{
		ID: "pi_1", ClientSecret: "pi_1_secret", Status: "requires_payment_method", Amount: 9999, Currency: "usd",
	}, nil).Once()
	res, err := f.svc.CreatePaymentIntent(ctx, f.agent, g.ID)
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, "pi_1", res.IntentID)
	assert.Equal(t, 1, f.emitter.count(events.PaymentFailed))
}

func TestWorkflow_SecondRequestConflicts(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	_, err := f.svc.RequestAccess(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestAccess(ctx, f.agent, f.listed.ID)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.preMarket.get(f.listed.ID).MatchCount)
}

func TestWorkflow_RequestAccessPreconditions(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	_, err := f.svc.RequestAccess(ctx, f.agent, utils.NewSixID())
	assert.ErrorIs(t, err, ErrNotFound)

	deleted := f.preMarket.add(&models.PreMarketRequest{Status: models.PreMarketStatusDeleted})
	_, err = f.svc.RequestAccess(ctx, f.agent, deleted.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	paused := f.preMarket.add(&models.PreMarketRequest{Status: models.PreMarketStatusActive, IsActive: false, Visibility: models.VisibilityShared})
	_, err = f.svc.RequestAccess(ctx, f.agent, paused.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestWorkflow_RequestAccessOnPrivateRequest(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()
	referrer := utils.NewSixID()
	private := f.preMarket.add(&models.PreMarketRequest{
		RenterID:         utils.NewSixID(),
		ReferringAgentID: &referrer,
		Renter:           &models.RenterContact{Email: "p@example.com"},
		Status:           models.PreMarketStatusActive,
		IsActive:         true,
		Visibility:       models.VisibilityPrivate,
	})

	_, err := f.svc.RequestAccess(ctx, f.agent, private.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, f.preMarket.get(private.ID).MatchCount)
	assert.Zero(t, f.emitter.count(events.GrantAccessRequested))

	g, err := f.svc.RequestAccess(ctx, referrer, private.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GrantAccessPending, g.Status)
	assert.Equal(t, 1, f.preMarket.get(private.ID).MatchCount)
}

func TestWorkflow_DuplicateSucceededEventIsNoop(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g := f.requestAndPrice(t, "50")
	f.createIntent(t, g, "pi_dup")

	first, err := f.svc.HandlePaymentSucceeded(ctx, succeeded("evt_s", "pi_dup"))
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, first)
	before, err := f.grants.FindByID(ctx, g.ID)
	require.NoError(t, err)

	second, err := f.svc.HandlePaymentSucceeded(ctx, succeeded("evt_s", "pi_dup"))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, second)

	after, err := f.grants.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, f.emitter.count(events.PaymentSucceeded))
}

func TestWorkflow_DuplicateFailedEventCountsOnce(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g := f.requestAndPrice(t, "50")
	f.createIntent(t, g, "pi_f")

	_, err := f.svc.HandlePaymentFailed(ctx, failed("evt_same", "pi_f"))
	require.NoError(t, err)
	outcome, err := f.svc.HandlePaymentFailed(ctx, failed("evt_same", "pi_f"))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, outcome)

	current, err := f.grants.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Payment.FailureCount)
	assert.Len(t, current.Payment.FailedAt, 1)
}

func TestWorkflow_FailureCapRequiresReapproval(t *testing.T) {
	f := newWorkflowFixture(t, 2)
	ctx := context.Background()

	g := f.requestAndPrice(t, "20.00")
	f.createIntent(t, g, "pi_cap")

	_, err := f.svc.HandlePaymentFailed(ctx, failed("evt_1", "pi_cap"))
	require.NoError(t, err)
	_, err = f.svc.HandlePaymentFailed(ctx, failed("evt_2", "pi_cap"))
	require.NoError(t, err)

	status, err := f.svc.GetAccessStatus(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.FailureCount)
	assert.True(t, status.RequiresReapproval)

	_, err = f.svc.CreatePaymentIntent(ctx, f.agent, g.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	g, err = f.svc.AdminDecide(ctx, f.admin, g.ID, AdminDecisionInput{ChargeAmount: price("15")})
	require.NoError(t, err)
	assert.Equal(t, 0, g.Payment.FailureCount)
	assert.False(t, g.Payment.RequiresReapproval)
	assert.Empty(t, g.Payment.IntentID)

	res := f.createIntent(t, g, "pi_after")
	assert.Equal(t, models.Cents(1500), res.Amount)
}

func TestWorkflow_RejectReleasesSlot(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g, err := f.svc.RequestAccess(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.preMarket.get(f.listed.ID).MatchCount)

	g, err = f.svc.AdminReject(ctx, f.admin, g.ID, "incomplete profile")
	require.NoError(t, err)
	assert.Equal(t, models.GrantAccessRejected, g.Status)
	assert.True(t, g.AdminDecision.Rejected)
	assert.Equal(t, 0, f.preMarket.get(f.listed.ID).MatchCount)
	assert.Equal(t, 1, f.emitter.count(events.GrantAccessRejected))

	_, err = f.svc.AdminReject(ctx, f.admin, g.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 0, f.preMarket.get(f.listed.ID).MatchCount)

	again, err := f.svc.RequestAccess(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.NotEqual(t, g.ID, again.ID)

	status, err := f.svc.GetAccessStatus(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GrantAccessPending, status.Status)
}

func TestWorkflow_AdminDecideValidation(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g, err := f.svc.RequestAccess(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)

	cases := map[string]AdminDecisionInput{
		"missing amount":    {},
		"zero amount":       {ChargeAmount: price("0")},
		"negative amount":   {ChargeAmount: price("-5")},
		"sub-cent amount":   {ChargeAmount: price("1.005")},
		"over provider max": {ChargeAmount: price("1000000.00")},
		"beyond int64":      {ChargeAmount: price("100000000000000000")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.AdminDecide(ctx, f.admin, g.ID, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	_, err = f.svc.AdminDecide(ctx, f.admin, utils.NewSixID(), AdminDecisionInput{IsFree: true})
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := f.grants.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GrantAccessPending, stored.Status)
	assert.Nil(t, stored.Payment)

	priced, err := f.svc.AdminDecide(ctx, f.admin, g.ID, AdminDecisionInput{ChargeAmount: price("999999.99")})
	require.NoError(t, err)
	assert.Equal(t, models.MaxChargeCents, priced.Payment.Amount)
}

func TestWorkflow_DecisionLosesRaceToReject(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g, err := f.svc.RequestAccess(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)

	f.grants.beforeTransition = func() {
		f.grants.beforeTransition = nil
		f.grants.set(g.ID, func(r *models.GrantAccessRequest) { r.Status = models.GrantAccessRejected })
	}
	_, err = f.svc.AdminDecide(ctx, f.admin, g.ID, AdminDecisionInput{IsFree: true})
	assert.ErrorIs(t, err, ErrInvalidState)

	current, err := f.grants.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GrantAccessRejected, current.Status)
	assert.Zero(t, f.emitter.count(events.GrantAccessApproved))
}

func TestWorkflow_PaymentAfterRejectIsAcknowledged(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g := f.requestAndPrice(t, "10")
	f.createIntent(t, g, "pi_late")
	_, err := f.svc.AdminReject(ctx, f.admin, g.ID, "")
	require.NoError(t, err)

	outcome, err := f.svc.HandlePaymentSucceeded(ctx, succeeded("evt_late", "pi_late"))
	require.NoError(t, err)
	assert.Equal(t, WebhookUnmatched, outcome)

	current, err := f.grants.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GrantAccessRejected, current.Status)
	assert.Equal(t, models.PaymentPending, current.Payment.Status)
}

func TestWorkflow_UnknownIntentIsAcknowledged(t *testing.T) {
	f := newWorkflowFixture(t, 5)

	outcome, err := f.svc.HandlePaymentSucceeded(context.Background(), succeeded("evt_x", "pi_unknown"))
	require.NoError(t, err)
	assert.Equal(t, WebhookUnmatched, outcome)
}

func TestWorkflow_WebhookSignatureAndUnknownTypes(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	f.gateway.On("ParseWebhook", []byte("tampered"), "bad").Return(nil, errors.New("signature mismatch")).Once()
	_, err := f.svc.HandlePaymentWebhook(ctx, []byte("tampered"), "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)

	f.gateway.On("ParseWebhook", []byte("garbled"), "ok").Return(nil, fmt.Errorf("decode: %w", ErrMalformedPaymentEvent)).Once()
	outcome, err := f.svc.HandlePaymentWebhook(ctx, []byte("garbled"), "ok")
	require.NoError(t, err, "a verified but undecodable event is acknowledged")
	assert.Equal(t, WebhookIgnored, outcome)

	f.gateway.On("ParseWebhook", []byte("other"), "ok").Return(&PaymentEvent{ID: "evt_o", Type: "charge.refunded", Kind: PaymentEventIgnored}, nil).Once()
	outcome, err = f.svc.HandlePaymentWebhook(ctx, []byte("other"), "ok")
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, outcome)
}

func TestWorkflow_CreatePaymentIntentPreconditions(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g, err := f.svc.RequestAccess(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)

	_, err = f.svc.CreatePaymentIntent(ctx, f.agent, g.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "unpriced request")

	_, err = f.svc.CreatePaymentIntent(ctx, utils.NewSixID(), g.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.AdminDecide(ctx, f.admin, g.ID, AdminDecisionInput{IsFree: true})
	require.NoError(t, err)
	_, err = f.svc.CreatePaymentIntent(ctx, f.agent, g.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestWorkflow_GatewayFailureIsExternalError(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	g := f.requestAndPrice(t, "10")

	f.gateway.On("CreateIntent", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()
	_, err := f.svc.CreatePaymentIntent(context.Background(), f.agent, g.ID)
	assert.ErrorIs(t, err, ErrExternalService)

	current, err := f.grants.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Empty(t, current.Payment.IntentID)
}

func TestWorkflow_ClosedIntentIsReplaced(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	g := f.requestAndPrice(t, "10")
	f.createIntent(t, g, "pi_old")

	f.gateway.On("GetIntent", mock.Anything, "pi_old").Return(&PaymentIntent{ID: "pi_old", Status: "canceled", Amount: 1000, Currency: "usd"}, nil).Once()
	g, err := f.grants.FindByID(ctx, g.ID)
	require.NoError(t, err)
	res := f.createIntent(t, g, "pi_new")
	assert.Equal(t, "pi_new", res.IntentID)

	current, err := f.grants.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_new", current.Payment.IntentID)
}

func TestWorkflow_AgentReadsAreRedacted(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	ctx := context.Background()

	view, status, err := f.svc.GetForAgent(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.False(t, status.HasAccess)
	assert.Nil(t, view.Renter)
	assert.True(t, view.ContactLocked)

	list, err := f.svc.ListForAgent(ctx, f.agent, PreMarketFilter{}, Page{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Renter)

	g, err := f.svc.RequestAccess(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	_, err = f.svc.AdminDecide(ctx, f.admin, g.ID, AdminDecisionInput{IsFree: true})
	require.NoError(t, err)

	view, status, err = f.svc.GetForAgent(ctx, f.agent, f.listed.ID)
	require.NoError(t, err)
	assert.True(t, status.HasAccess)
	require.NotNil(t, view.Renter)
	assert.Equal(t, "rita@example.com", view.Renter.Email)

	list, err = f.svc.ListForAgent(ctx, f.agent, PreMarketFilter{}, Page{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].Renter)

	other := utils.NewSixID()
	view, _, err = f.svc.GetForAgent(ctx, other, f.listed.ID)
	require.NoError(t, err)
	assert.Nil(t, view.Renter)
	assert.Len(t, f.preMarket.views[f.listed.ID], 3)
}

func TestWorkflow_PrivateRequestsHiddenFromOtherAgents(t *testing.T) {
	f := newWorkflowFixture(t, 5)
	referrer := utils.NewSixID()
	private := f.preMarket.add(&models.PreMarketRequest{
		RenterID:         utils.NewSixID(),
		ReferringAgentID: &referrer,
		Renter:           &models.RenterContact{Email: "p@example.com"},
		Status:           models.PreMarketStatusActive,
		IsActive:         true,
		Visibility:       models.VisibilityPrivate,
	})

	_, _, err := f.svc.GetForAgent(context.Background(), f.agent, private.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	view, _, err := f.svc.GetForAgent(context.Background(), referrer, private.ID)
	require.NoError(t, err)
	assert.Nil(t, view.Renter)
}

func TestDynamicWorkflowSettingsFallback(t *testing.T) {
	cfg := new(mockConfigService)
	cfg.On("GetInt", mock.Anything, "MAX_PAYMENT_FAILURES", 5).Return(3)
	cfg.On("GetString", mock.Anything, "PAYMENT_CURRENCY", "usd").Return("eur")

	s := NewDynamicWorkflowSettings(cfg, StaticWorkflowSettings{MaxFailures: 5, Currency: "usd"})
	assert.Equal(t, 3, s.MaxPaymentFailures(context.Background()))
	assert.Equal(t, "eur", s.PaymentCurrency(context.Background()))
	cfg.AssertExpectations(t)
}
