package models

import (
	"time"

	"greendrake/referral/internal/utils"
)

// GrantAccessStatus is the state of an agent's request for renter contact details.
type GrantAccessStatus string

const (
	GrantAccessPending  GrantAccessStatus = "pending"
	GrantAccessFree     GrantAccessStatus = "free"
	GrantAccessRejected GrantAccessStatus = "rejected"
	GrantAccessPaid     GrantAccessStatus = "paid"
)

func (s GrantAccessStatus) Valid() bool {
	switch s {
	case GrantAccessPending, GrantAccessFree, GrantAccessRejected, GrantAccessPaid:
		return true
	}
	return false
}

// Holds reports whether the status occupies the single active slot for an
// (agent, request) pair.
func (s GrantAccessStatus) Holds() bool {
	return s == GrantAccessPending || s == GrantAccessFree || s == GrantAccessPaid
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentRecord exists once an admin has priced the request.
type PaymentRecord struct {
	Amount             Cents         `bson:"amount" json:"amount"`
	Currency           string        `bson:"currency" json:"currency"`
	Status             PaymentStatus `bson:"payment_status" json:"payment_status"`
	IntentID           string        `bson:"intent_id,omitempty" json:"intent_id,omitempty"`
	FailureCount       int           `bson:"failure_count" json:"failure_count"`
	FailedAt           []time.Time   `bson:"failed_at,omitempty" json:"failed_at,omitempty"`
	SucceededAt        *time.Time    `bson:"succeeded_at,omitempty" json:"succeeded_at,omitempty"`
	RequiresReapproval bool          `bson:"requires_reapproval" json:"requires_reapproval"`
	ProcessedEventIDs  []string      `bson:"processed_event_ids,omitempty" json:"-"`
}

type AdminDecision struct {
	AdminID      utils.SixID `bson:"admin_id" json:"admin_id"`
	DecidedAt    time.Time   `bson:"decided_at" json:"decided_at"`
	Notes        string      `bson:"notes,omitempty" json:"notes,omitempty"`
	ChargeAmount *Cents      `bson:"charge_amount,omitempty" json:"charge_amount,omitempty"`
	IsFree       bool        `bson:"is_free" json:"is_free"`
	Rejected     bool        `bson:"rejected,omitempty" json:"rejected,omitempty"`
}

// GrantAccessRequest is an agent's request to unlock one pre-market request.
type GrantAccessRequest struct {
	Base               `bson:",inline"`
	PreMarketRequestID utils.SixID       `bson:"pre_market_request_id" json:"pre_market_request_id"`
	AgentID            utils.SixID       `bson:"agent_id" json:"agent_id"`
	RenterID           utils.SixID       `bson:"renter_id" json:"renter_id"`
	Status             GrantAccessStatus `bson:"status" json:"status"`
	ActiveKey          string            `bson:"active_key,omitempty" json:"-"`
	Payment            *PaymentRecord    `bson:"payment,omitempty" json:"payment,omitempty"`
	AdminDecision      *AdminDecision    `bson:"admin_decision,omitempty" json:"admin_decision,omitempty"`
	CreatedAt          time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `bson:"updated_at" json:"updated_at"`
}

// ActiveKeyFor is the value of the unique active_key index for a pair. It is
// stored only while the record's status Holds().
func ActiveKeyFor(agentID, preMarketRequestID utils.SixID) string {
	return agentID.String() + ":" + preMarketRequestID.String()
}

// AccessState derives the agent's access from the record.
func (g *GrantAccessRequest) AccessState() AccessState {
	if g == nil {
		return Locked{}
	}
	switch g.Status {
	case GrantAccessFree:
		return UnlockedFree{}
	case GrantAccessPaid:
		if g.Payment != nil && g.Payment.Status == PaymentSucceeded {
			paid := UnlockedPaid{Amount: g.Payment.Amount, Currency: g.Payment.Currency}
			if g.Payment.SucceededAt != nil {
				paid.SucceededAt = *g.Payment.SucceededAt
			}
			return paid
		}
	}
	return Locked{}
}
