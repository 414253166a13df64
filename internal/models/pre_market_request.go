package models

import (
	"time"

	"greendrake/referral/internal/utils"
)

// PreMarketStatus is the lifecycle status of a pre-market request.
type PreMarketStatus string

const (
	PreMarketStatusActive    PreMarketStatus = "active"
	PreMarketStatusCompleted PreMarketStatus = "completed"
	PreMarketStatusDeleted   PreMarketStatus = "deleted"
)

func (s PreMarketStatus) Valid() bool {
	switch s {
	case PreMarketStatusActive, PreMarketStatusCompleted, PreMarketStatusDeleted:
		return true
	}
	return false
}

// Visibility controls whether agents other than the referring agent can see a request.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityShared  Visibility = "SHARED"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityShared
}

type DateRange struct {
	Earliest time.Time `bson:"earliest" json:"earliest"`
	Latest   time.Time `bson:"latest" json:"latest"`
}

type PriceRange struct {
	Min Cents `bson:"min" json:"min"`
	Max Cents `bson:"max" json:"max"`
}

type LocationPreference struct {
	Borough       string   `bson:"borough" json:"borough"`
	Neighborhoods []string `bson:"neighborhoods,omitempty" json:"neighborhoods,omitempty"`
}

type RoomPreferences struct {
	MinBedrooms  int     `bson:"min_bedrooms" json:"min_bedrooms"`
	MaxBedrooms  int     `bson:"max_bedrooms,omitempty" json:"max_bedrooms,omitempty"`
	MinBathrooms float64 `bson:"min_bathrooms" json:"min_bathrooms"`
}

type Features struct {
	InUnitLaundry bool `bson:"in_unit_laundry" json:"in_unit_laundry"`
	Dishwasher    bool `bson:"dishwasher" json:"dishwasher"`
	OutdoorSpace  bool `bson:"outdoor_space" json:"outdoor_space"`
	Doorman       bool `bson:"doorman" json:"doorman"`
	Elevator      bool `bson:"elevator" json:"elevator"`
	Gym           bool `bson:"gym" json:"gym"`
}

type PetPolicy struct {
	Cats  bool   `bson:"cats" json:"cats"`
	Dogs  bool   `bson:"dogs" json:"dogs"`
	Notes string `bson:"notes,omitempty" json:"notes,omitempty"`
}

// RenterContact is the PII that agents only see once access is unlocked.
type RenterContact struct {
	Name  string `bson:"name" json:"name"`
	Email string `bson:"email" json:"email"`
	Phone string `bson:"phone,omitempty" json:"phone,omitempty"`
}

type ViewedBy struct {
	GrantAccessAgents []utils.SixID `bson:"grant_access_agents,omitempty" json:"grant_access_agents,omitempty"`
	NormalAgents      []utils.SixID `bson:"normal_agents,omitempty" json:"normal_agents,omitempty"`
}

// PreMarketRequest is a renter's rental criteria listing.
type PreMarketRequest struct {
	Base             `bson:",inline"`
	RenterID         utils.SixID          `bson:"renter_id" json:"renter_id"`
	ReferringAgentID *utils.SixID         `bson:"referring_agent_id,omitempty" json:"referring_agent_id,omitempty"`
	Renter           *RenterContact       `bson:"renter,omitempty" json:"renter,omitempty"`
	MovingDates      DateRange            `bson:"moving_date_range" json:"moving_date_range"`
	Price            PriceRange           `bson:"price_range" json:"price_range"`
	Locations        []LocationPreference `bson:"locations" json:"locations"`
	Rooms            RoomPreferences      `bson:"rooms" json:"rooms"`
	Features         Features             `bson:"features" json:"features"`
	Pets             PetPolicy            `bson:"pets" json:"pets"`
	NeedsGuarantor   bool                 `bson:"needs_guarantor" json:"needs_guarantor"`
	Preferences      string               `bson:"preferences,omitempty" json:"preferences,omitempty"`
	Status           PreMarketStatus      `bson:"status" json:"status"`
	IsActive         bool                 `bson:"is_active" json:"is_active"`
	Visibility       Visibility           `bson:"visibility" json:"visibility"`
	VisibleUntil     *time.Time           `bson:"visible_until,omitempty" json:"visible_until,omitempty"`
	ViewedBy         *ViewedBy            `bson:"viewed_by,omitempty" json:"viewed_by,omitempty"`
	MatchCount       int                  `bson:"match_count" json:"match_count"`
	ExpiredAt        *time.Time           `bson:"expired_at,omitempty" json:"expired_at,omitempty"`
	CreatedAt        time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at" json:"updated_at"`

	// ContactLocked is set on agent views where the renter contact was removed.
	ContactLocked bool `bson:"-" json:"contact_locked,omitempty"`
}

// IsExpired reports whether the moving window or the visibility deadline has passed.
func (r *PreMarketRequest) IsExpired(now time.Time) bool {
	if r.MovingDates.Latest.Before(now) {
		return true
	}
	return r.VisibleUntil != nil && r.VisibleUntil.Before(now)
}

// ForAgent returns the copy of r an agent may see. Renter contact is removed
// unless hasAccess, and the view tracking of other agents is never exposed.
func (r PreMarketRequest) ForAgent(hasAccess bool) PreMarketRequest {
	out := r
	out.ViewedBy = nil
	if !hasAccess {
		out.Renter = nil
		out.ContactLocked = true
	}
	return out
}
