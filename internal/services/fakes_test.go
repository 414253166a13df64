package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"greendrake/referral/internal/events"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

// fakePreMarketStore keeps requests in memory. Methods the workflow does not
// call fall through to the nil embedded interface and panic.
type fakePreMarketStore struct {
	IPreMarketRequestService
	mu       sync.Mutex
	requests map[utils.SixID]*models.PreMarketRequest
	views    map[utils.SixID][]utils.SixID
}

func newFakePreMarketStore() *fakePreMarketStore {
	return &fakePreMarketStore{
		requests: map[utils.SixID]*models.PreMarketRequest{},
		views:    map[utils.SixID][]utils.SixID{},
	}
}

func (f *fakePreMarketStore) add(r *models.PreMarketRequest) *models.PreMarketRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID.IsZero() {
		r.GenID()
	}
	cp := *r
	f.requests[r.ID] = &cp
	return r
}

func (f *fakePreMarketStore) get(id utils.SixID) models.PreMarketRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.requests[id]
}

func (f *fakePreMarketStore) FindByID(_ context.Context, id utils.SixID) (*models.PreMarketRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return nil, NewNotFoundError("pre-market request %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakePreMarketStore) IncMatchCount(_ context.Context, id utils.SixID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return NewNotFoundError("pre-market request %s not found", id)
	}
	r.MatchCount++
	return nil
}

func (f *fakePreMarketStore) DecMatchCount(_ context.Context, id utils.SixID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.requests[id]; ok && r.MatchCount > 0 {
		r.MatchCount--
	}
	return nil
}

func (f *fakePreMarketStore) MarkViewed(_ context.Context, id, agentID utils.SixID, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views[id] = append(f.views[id], agentID)
	return nil
}

func (f *fakePreMarketStore) ListForAgents(_ context.Context, agentID utils.SixID, matched []utils.SixID, _ PreMarketFilter, _ Page) ([]models.PreMarketRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	isMatched := map[utils.SixID]bool{}
	for _, id := range matched {
		isMatched[id] = true
	}
	now := time.Now()
	out := []models.PreMarketRequest{}
	for _, r := range f.requests {
		if r.Status != models.PreMarketStatusActive || !r.IsActive || r.IsExpired(now) {
			continue
		}
		referred := r.ReferringAgentID != nil && *r.ReferringAgentID == agentID
		if r.Visibility == models.VisibilityShared || referred || isMatched[r.ID] {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// fakeGrantStore mirrors the conditional-update contract of the Mongo store.
type fakeGrantStore struct {
	mu      sync.Mutex
	records map[utils.SixID]*models.GrantAccessRequest
	clock   time.Time

	// beforeTransition runs before each conditional write, outside the lock.
	beforeTransition func()
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{
		records: map[utils.SixID]*models.GrantAccessRequest{},
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func cloneGrant(g *models.GrantAccessRequest) *models.GrantAccessRequest {
	cp := *g
	if g.Payment != nil {
		p := *g.Payment
		p.FailedAt = append([]time.Time(nil), g.Payment.FailedAt...)
		p.ProcessedEventIDs = append([]string(nil), g.Payment.ProcessedEventIDs...)
		cp.Payment = &p
	}
	if g.AdminDecision != nil {
		d := *g.AdminDecision
		cp.AdminDecision = &d
	}
	return &cp
}

func (f *fakeGrantStore) set(id utils.SixID, mutate func(g *models.GrantAccessRequest)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f.records[id])
}

func (f *fakeGrantStore) Create(_ context.Context, g *models.GrantAccessRequest) (*models.GrantAccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.ActiveKeyFor(g.AgentID, g.PreMarketRequestID)
	for _, r := range f.records {
		if r.ActiveKey == key {
			return nil, NewConflictError("agent already has an open grant-access request")
		}
	}
	f.clock = f.clock.Add(time.Second)
	g.GenID()
	g.Status = models.GrantAccessPending
	g.ActiveKey = key
	g.CreatedAt = f.clock
	g.UpdatedAt = f.clock
	f.records[g.ID] = cloneGrant(g)
	return g, nil
}

func (f *fakeGrantStore) FindByID(_ context.Context, id utils.SixID) (*models.GrantAccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.records[id]
	if !ok {
		return nil, NewNotFoundError("grant-access request %s not found", id)
	}
	return cloneGrant(g), nil
}

func (f *fakeGrantStore) FindByPaymentIntent(_ context.Context, intentID string) (*models.GrantAccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.records {
		if g.Payment != nil && g.Payment.IntentID == intentID {
			return cloneGrant(g), nil
		}
	}
	return nil, NewNotFoundError("no grant-access request for payment intent %s", intentID)
}

func (f *fakeGrantStore) FindCurrentForPair(_ context.Context, agentID, pmID utils.SixID) (*models.GrantAccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.GrantAccessRequest
	for _, g := range f.records {
		if g.AgentID == agentID && g.PreMarketRequestID == pmID && (latest == nil || g.CreatedAt.After(latest.CreatedAt)) {
			latest = g
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneGrant(latest), nil
}

func (f *fakeGrantStore) list(match func(g *models.GrantAccessRequest) bool) []models.GrantAccessRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.GrantAccessRequest{}
	for _, g := range f.records {
		if match(g) {
			out = append(out, *cloneGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeGrantStore) ListByAgent(_ context.Context, agentID utils.SixID, status models.GrantAccessStatus, _ Page) ([]models.GrantAccessRequest, error) {
	return f.list(func(g *models.GrantAccessRequest) bool {
		return g.AgentID == agentID && (status == "" || g.Status == status)
	}), nil
}

func (f *fakeGrantStore) ListAll(_ context.Context, status models.GrantAccessStatus, _ Page) ([]models.GrantAccessRequest, error) {
	return f.list(func(g *models.GrantAccessRequest) bool { return status == "" || g.Status == status }), nil
}

// transition applies mutate when cond holds for the record with id.
func (f *fakeGrantStore) transition(id utils.SixID, cond func(g *models.GrantAccessRequest) bool, mutate func(g *models.GrantAccessRequest)) (*models.GrantAccessRequest, error) {
	if f.beforeTransition != nil {
		f.beforeTransition()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.records[id]
	if !ok {
		return nil, NewNotFoundError("grant-access request %s not found", id)
	}
	if !cond(g) {
		return nil, ErrConditionNotMet
	}
	mutate(g)
	return cloneGrant(g), nil
}

func (f *fakeGrantStore) byIntent(intentID string) utils.SixID {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, g := range f.records {
		if g.Payment != nil && g.Payment.IntentID == intentID {
			return id
		}
	}
	return utils.SixID{}
}

func pending(g *models.GrantAccessRequest) bool { return g.Status == models.GrantAccessPending }

func (f *fakeGrantStore) ApplyFreeGrant(_ context.Context, id utils.SixID, d models.AdminDecision) (*models.GrantAccessRequest, error) {
	return f.transition(id, pending, func(g *models.GrantAccessRequest) {
		d.IsFree = true
		g.Status = models.GrantAccessFree
		g.AdminDecision = &d
		g.Payment = nil
	})
}

func (f *fakeGrantStore) ApplyPrice(_ context.Context, id utils.SixID, d models.AdminDecision, amount models.Cents, currency string) (*models.GrantAccessRequest, error) {
	return f.transition(id, pending, func(g *models.GrantAccessRequest) {
		d.ChargeAmount = &amount
		g.AdminDecision = &d
		if g.Payment == nil {
			g.Payment = &models.PaymentRecord{}
		}
		g.Payment.Amount = amount
		g.Payment.Currency = currency
		g.Payment.Status = models.PaymentPending
		g.Payment.FailureCount = 0
		g.Payment.RequiresReapproval = false
		g.Payment.IntentID = ""
	})
}

func (f *fakeGrantStore) Reject(_ context.Context, id utils.SixID, d models.AdminDecision) (*models.GrantAccessRequest, error) {
	return f.transition(id, pending, func(g *models.GrantAccessRequest) {
		d.Rejected = true
		g.Status = models.GrantAccessRejected
		g.AdminDecision = &d
		g.ActiveKey = ""
	})
}

func (f *fakeGrantStore) AttachPaymentIntent(_ context.Context, id utils.SixID, amount models.Cents, intentID string) (*models.GrantAccessRequest, error) {
	return f.transition(id, func(g *models.GrantAccessRequest) bool {
		return pending(g) && g.Payment != nil && g.Payment.Amount == amount && !g.Payment.RequiresReapproval
	}, func(g *models.GrantAccessRequest) {
		g.Payment.IntentID = intentID
	})
}

func (f *fakeGrantStore) MarkPaymentSucceeded(_ context.Context, intentID, eventID string, at time.Time) (*models.GrantAccessRequest, error) {
	id := f.byIntent(intentID)
	if id.IsZero() {
		return nil, ErrConditionNotMet
	}
	return f.transition(id, pending, func(g *models.GrantAccessRequest) {
		g.Status = models.GrantAccessPaid
		g.Payment.Status = models.PaymentSucceeded
		g.Payment.SucceededAt = &at
		g.Payment.ProcessedEventIDs = append(g.Payment.ProcessedEventIDs, eventID)
	})
}

func (f *fakeGrantStore) MarkPaymentFailed(_ context.Context, intentID, eventID string, at time.Time, maxFailures int) (*models.GrantAccessRequest, error) {
	id := f.byIntent(intentID)
	if id.IsZero() {
		return nil, ErrConditionNotMet
	}
	return f.transition(id, func(g *models.GrantAccessRequest) bool {
		if !pending(g) {
			return false
		}
		for _, seen := range g.Payment.ProcessedEventIDs {
			if seen == eventID {
				return false
			}
		}
		return true
	}, func(g *models.GrantAccessRequest) {
		g.Payment.Status = models.PaymentFailed
		g.Payment.FailureCount++
		g.Payment.FailedAt = append(g.Payment.FailedAt, at)
		g.Payment.ProcessedEventIDs = append(g.Payment.ProcessedEventIDs, eventID)
		if maxFailures > 0 && g.Payment.FailureCount >= maxFailures {
			g.Payment.RequiresReapproval = true
		}
	})
}

type fakeAdminLog struct {
	mu      sync.Mutex
	entries []models.AdminActionLog
}

func (f *fakeAdminLog) Record(_ context.Context, adminID utils.SixID, action models.AdminAction, targetID, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, models.AdminActionLog{AdminID: adminID, Action: action, TargetID: targetID, Notes: notes})
	return nil
}

func (f *fakeAdminLog) List(context.Context, string, Page) ([]models.AdminActionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AdminActionLog(nil), f.entries...), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEmitter) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateIntent(ctx context.Context, p CreateIntentParams) (*PaymentIntent, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentIntent), args.Error(1)
}

func (m *mockGateway) GetIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentIntent), args.Error(1)
}

func (m *mockGateway) ParseWebhook(payload []byte, signatureHeader string) (*PaymentEvent, error) {
	args := m.Called(payload, signatureHeader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentEvent), args.Error(1)
}
