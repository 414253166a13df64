package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

// Type names a domain event.
type Type string

const (
	GrantAccessRequested    Type = "GrantAccessRequested"
	GrantAccessApproved     Type = "GrantAccessApproved"
	GrantAccessPriced       Type = "GrantAccessPriced"
	GrantAccessRejected     Type = "GrantAccessRejected"
	PaymentSucceeded        Type = "PaymentSucceeded"
	PaymentFailed           Type = "PaymentFailed"
	PreMarketRequestExpired Type = "PreMarketRequestExpired"
	PreMarketRequestRetired Type = "PreMarketRequestRetired"
)

// Event is emitted after a state transition has been persisted. Consumers
// must treat it as a notification; it carries no authority over state.
type Event struct {
	ID                   string        `json:"id"`
	Type                 Type          `json:"type"`
	OccurredAt           time.Time     `json:"occurred_at"`
	GrantAccessRequestID *utils.SixID  `json:"grant_access_request_id,omitempty"`
	PreMarketRequestID   utils.SixID   `json:"pre_market_request_id"`
	AgentID              *utils.SixID  `json:"agent_id,omitempty"`
	RenterID             utils.SixID   `json:"renter_id"`
	Amount               *models.Cents `json:"amount,omitempty"`
	Currency             string        `json:"currency,omitempty"`
	Notes                string        `json:"notes,omitempty"`
	FailureCount         int           `json:"failure_count,omitempty"`
}

// New stamps a fresh id and time on an event of type t.
func New(t Type) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC()}
}

// ForGrant builds an event describing a grant-access record.
func ForGrant(t Type, g *models.GrantAccessRequest) Event {
	e := New(t)
	id := g.ID
	agent := g.AgentID
	e.GrantAccessRequestID = &id
	e.AgentID = &agent
	e.PreMarketRequestID = g.PreMarketRequestID
	e.RenterID = g.RenterID
	if g.Payment != nil {
		amount := g.Payment.Amount
		e.Amount = &amount
		e.Currency = g.Payment.Currency
		e.FailureCount = g.Payment.FailureCount
	}
	if g.AdminDecision != nil {
		e.Notes = g.AdminDecision.Notes
	}
	return e
}

// ForPreMarket builds an event describing a pre-market request.
func ForPreMarket(t Type, r *models.PreMarketRequest) Event {
	e := New(t)
	e.PreMarketRequestID = r.ID
	e.RenterID = r.RenterID
	return e
}

// Emitter hands events to whatever delivers them. Implementations must not
// block on delivery; callers log and ignore the returned error.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Publisher receives dispatched events, e.g. an event stream.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// MultiEmitter fans out to several emitters and reports the first error.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, e Event) error {
	var first error
	for _, em := range m {
		if err := em.Emit(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) error { return nil }
