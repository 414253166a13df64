package models

import (
	"time"

	"greendrake/referral/internal/utils"
)

type AdminAction string

const (
	AdminActionGrantFree   AdminAction = "grant_access.free"
	AdminActionGrantPriced AdminAction = "grant_access.priced"
	AdminActionGrantReject AdminAction = "grant_access.rejected"
	AdminActionSetStatus   AdminAction = "pre_market.status"
	AdminActionHardDelete  AdminAction = "pre_market.hard_delete"
	AdminActionConfigSet   AdminAction = "config.set"
	AdminActionSweepRun    AdminAction = "sweep.run"
	AdminActionSuspendUser AdminAction = "user.suspend"
	AdminActionUnsuspend   AdminAction = "user.unsuspend"
)

// AdminActionLog is an append-only audit record of an admin mutation.
type AdminActionLog struct {
	Base      `bson:",inline"`
	AdminID   utils.SixID `bson:"admin_id" json:"admin_id"`
	Action    AdminAction `bson:"action" json:"action"`
	TargetID  string      `bson:"target_id" json:"target_id"`
	Notes     string      `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}
