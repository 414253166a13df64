package models

import (
	"time"

	"greendrake/referral/internal/utils"
)

// Notice is an in-app notification shown to a single user.
type Notice struct {
	Base                 `bson:",inline"`
	UserID               utils.SixID  `bson:"user_id" json:"user_id"`
	EventType            string       `bson:"event_type" json:"event_type"`
	EventID              string       `bson:"event_id" json:"event_id"`
	Title                string       `bson:"title" json:"title"`
	Body                 string       `bson:"body" json:"body"`
	GrantAccessRequestID *utils.SixID `bson:"grant_access_request_id,omitempty" json:"grant_access_request_id,omitempty"`
	PreMarketRequestID   *utils.SixID `bson:"pre_market_request_id,omitempty" json:"pre_market_request_id,omitempty"`
	Read                 bool         `bson:"read" json:"read"`
	CreatedAt            time.Time    `bson:"created_at" json:"created_at"`
}
