package models

import (
	"encoding/json"
	"time"

	"greendrake/referral/internal/utils"
)

type AccessKind string

const (
	AccessLocked       AccessKind = "locked"
	AccessUnlockedFree AccessKind = "unlocked_free"
	AccessUnlockedPaid AccessKind = "unlocked_paid"
)

// AccessState is one of Locked, UnlockedFree or UnlockedPaid.
type AccessState interface {
	Kind() AccessKind
	Unlocked() bool
	accessState()
}

type Locked struct{}

type UnlockedFree struct{}

type UnlockedPaid struct {
	Amount      Cents
	Currency    string
	SucceededAt time.Time
}

func (Locked) Kind() AccessKind       { return AccessLocked }
func (UnlockedFree) Kind() AccessKind { return AccessUnlockedFree }
func (UnlockedPaid) Kind() AccessKind { return AccessUnlockedPaid }

func (Locked) Unlocked() bool       { return false }
func (UnlockedFree) Unlocked() bool { return true }
func (UnlockedPaid) Unlocked() bool { return true }

func (Locked) accessState()       {}
func (UnlockedFree) accessState() {}
func (UnlockedPaid) accessState() {}

func (s Locked) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]AccessKind{"kind": s.Kind()})
}

func (s UnlockedFree) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]AccessKind{"kind": s.Kind()})
}

func (s UnlockedPaid) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind        AccessKind `json:"kind"`
		Amount      Cents      `json:"amount"`
		Currency    string     `json:"currency"`
		SucceededAt time.Time  `json:"succeeded_at"`
	}{s.Kind(), s.Amount, s.Currency, s.SucceededAt})
}

// AccessStatus is the read model returned to agents asking about one request.
type AccessStatus struct {
	HasAccess            bool              `json:"has_access"`
	GrantAccessRequestID *utils.SixID      `json:"grant_access_request_id,omitempty"`
	Status               GrantAccessStatus `json:"status,omitempty"`
	PaymentStatus        PaymentStatus     `json:"payment_status,omitempty"`
	ChargeAmount         *Cents            `json:"charge_amount,omitempty"`
	Currency             string            `json:"currency,omitempty"`
	FailureCount         int               `json:"failure_count"`
	RequiresReapproval   bool              `json:"requires_reapproval"`
	State                AccessState       `json:"state"`
}

// AccessStatusFor builds the status for the pair's current record; g may be nil.
func AccessStatusFor(g *GrantAccessRequest) AccessStatus {
	state := g.AccessState()
	status := AccessStatus{HasAccess: state.Unlocked(), State: state}
	if g == nil {
		return status
	}
	id := g.ID
	status.GrantAccessRequestID = &id
	status.Status = g.Status
	if g.Payment != nil {
		amount := g.Payment.Amount
		status.ChargeAmount = &amount
		status.Currency = g.Payment.Currency
		status.PaymentStatus = g.Payment.Status
		status.FailureCount = g.Payment.FailureCount
		status.RequiresReapproval = g.Payment.RequiresReapproval
	}
	return status
}
