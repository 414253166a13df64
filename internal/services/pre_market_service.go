package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/referral/internal/db"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

const preMarketRequestsCollection = "pre_market_requests"

// ErrConditionNotMet is returned by conditional updates whose filter matched
// nothing: the record is missing or no longer in the expected state. Callers
// re-read and decide.
var ErrConditionNotMet = errors.New("conditional update did not match")

// PreMarketInput carries renter-editable fields. Nil fields are left unchanged
// on update; Create requires dates, price and at least one location.
type PreMarketInput struct {
	MovingDates      *models.DateRange           `json:"moving_date_range"`
	Price            *models.PriceRange          `json:"price_range"`
	Locations        []models.LocationPreference `json:"locations"`
	Rooms            *models.RoomPreferences     `json:"rooms"`
	Features         *models.Features            `json:"features"`
	Pets             *models.PetPolicy           `json:"pets"`
	NeedsGuarantor   *bool                       `json:"needs_guarantor"`
	Preferences      *string                     `json:"preferences"`
	VisibleUntil     *time.Time                  `json:"visible_until"`
	ReferringAgentID *utils.SixID                `json:"referring_agent_id"`
}

// PreMarketFilter narrows agent-facing listings.
type PreMarketFilter struct {
	Borough     string
	MinBedrooms *int
	MaxPrice    *models.Cents
	MovingBy    *time.Time
}

// Page is a limit/offset window.
type Page struct {
	Limit  int
	Offset int
}

// IPreMarketRequestService is the store for renter pre-market requests.
type IPreMarketRequestService interface {
	Create(ctx context.Context, renter *models.User, in PreMarketInput) (*models.PreMarketRequest, error)
	FindByID(ctx context.Context, id utils.SixID) (*models.PreMarketRequest, error)
	ListByRenter(ctx context.Context, renterID utils.SixID, page Page) ([]models.PreMarketRequest, error)
	ListForAgents(ctx context.Context, agentID utils.SixID, matched []utils.SixID, filter PreMarketFilter, page Page) ([]models.PreMarketRequest, error)
	ListAll(ctx context.Context, status models.PreMarketStatus, page Page) ([]models.PreMarketRequest, error)
	UpdateByRenter(ctx context.Context, id, renterID utils.SixID, in PreMarketInput) (*models.PreMarketRequest, error)
	UpdateByAdmin(ctx context.Context, id utils.SixID, in PreMarketInput) (*models.PreMarketRequest, error)
	SetActive(ctx context.Context, id, renterID utils.SixID, active bool) (*models.PreMarketRequest, error)
	SetVisibility(ctx context.Context, id utils.SixID, actor *models.User, visibility models.Visibility) (*models.PreMarketRequest, error)
	SetStatus(ctx context.Context, id utils.SixID, status models.PreMarketStatus) (*models.PreMarketRequest, error)
	SoftDelete(ctx context.Context, id utils.SixID, renterID *utils.SixID) error
	HardDelete(ctx context.Context, id utils.SixID) error
	MarkViewed(ctx context.Context, id, agentID utils.SixID, viaGrantAccess bool) error
	IncMatchCount(ctx context.Context, id utils.SixID) error
	DecMatchCount(ctx context.Context, id utils.SixID) error
	FindExpirable(ctx context.Context, now time.Time) ([]models.PreMarketRequest, error)
	FindRetirable(ctx context.Context, cutoff time.Time) ([]models.PreMarketRequest, error)
	Expire(ctx context.Context, id utils.SixID, now time.Time) error
	Retire(ctx context.Context, id utils.SixID, now time.Time) error
}

type preMarketRequestService struct {
	db *mongo.Database
}

// NewPreMarketRequestService creates the Mongo-backed pre-market store.
func NewPreMarketRequestService(db *mongo.Database) IPreMarketRequestService {
	return &preMarketRequestService{db: db}
}

func (s *preMarketRequestService) collection() *mongo.Collection {
	return s.db.Collection(preMarketRequestsCollection)
}

func validatePreMarket(r *models.PreMarketRequest) error {
	if r.MovingDates.Earliest.IsZero() || r.MovingDates.Latest.IsZero() {
		return NewValidationError("moving_date_range requires earliest and latest")
	}
	if r.MovingDates.Latest.Before(r.MovingDates.Earliest) {
		return NewValidationError("moving_date_range.latest must not be before earliest")
	}
	if r.Price.Min < 0 || r.Price.Max < 0 {
		return NewValidationError("price_range must not be negative")
	}
	if r.Price.Max < r.Price.Min {
		return NewValidationError("price_range.max must not be below min")
	}
	if len(r.Locations) == 0 {
		return NewValidationError("at least one location is required")
	}
	for i, loc := range r.Locations {
		if strings.TrimSpace(loc.Borough) == "" {
			return NewValidationError("locations[%d].borough is required", i)
		}
	}
	if r.Rooms.MinBedrooms < 0 || r.Rooms.MinBathrooms < 0 {
		return NewValidationError("room preferences must not be negative")
	}
	if r.Rooms.MaxBedrooms != 0 && r.Rooms.MaxBedrooms < r.Rooms.MinBedrooms {
		return NewValidationError("rooms.max_bedrooms must not be below min_bedrooms")
	}
	if !r.Visibility.Valid() {
		return NewValidationError("invalid visibility %q", r.Visibility)
	}
	return nil
}

func applyInput(r *models.PreMarketRequest, in PreMarketInput) {
	if in.MovingDates != nil {
		r.MovingDates = models.DateRange{Earliest: in.MovingDates.Earliest.UTC(), Latest: in.MovingDates.Latest.UTC()}
	}
	if in.Price != nil {
		r.Price = *in.Price
	}
	if in.Locations != nil {
		r.Locations = in.Locations
	}
	if in.Rooms != nil {
		r.Rooms = *in.Rooms
	}
	if in.Features != nil {
		r.Features = *in.Features
	}
	if in.Pets != nil {
		r.Pets = *in.Pets
	}
	if in.NeedsGuarantor != nil {
		r.NeedsGuarantor = *in.NeedsGuarantor
	}
	if in.Preferences != nil {
		r.Preferences = strings.TrimSpace(*in.Preferences)
	}
	if in.VisibleUntil != nil {
		t := in.VisibleUntil.UTC()
		r.VisibleUntil = &t
	}
}

func (s *preMarketRequestService) Create(ctx context.Context, renter *models.User, in PreMarketInput) (*models.PreMarketRequest, error) {
	if renter == nil || renter.Role != models.RoleRenter {
		return nil, NewForbiddenError("only renters can create pre-market requests")
	}
	if in.MovingDates == nil || in.Price == nil {
		return nil, NewValidationError("moving_date_range and price_range are required")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	req := &models.PreMarketRequest{
		RenterID:         renter.ID,
		ReferringAgentID: in.ReferringAgentID,
		Renter:           &models.RenterContact{Name: renter.Name, Email: renter.Email, Phone: renter.Phone},
		Status:           models.PreMarketStatusActive,
		IsActive:         true,
		Visibility:       models.VisibilityShared,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.ReferringAgentID != nil {
		req.Visibility = models.VisibilityPrivate
	}
	applyInput(req, in)
	if err := validatePreMarket(req); err != nil {
		return nil, err
	}

	if _, err := db.InsertOne(ctx, s.collection(), req); err != nil {
		return nil, fmt.Errorf("failed to insert pre-market request: %w", err)
	}
	return req, nil
}

func (s *preMarketRequestService) FindByID(ctx context.Context, id utils.SixID) (*models.PreMarketRequest, error) {
	var req models.PreMarketRequest
	err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&req)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewNotFoundError("pre-market request %s not found", id)
		}
		return nil, fmt.Errorf("failed to find pre-market request %s: %w", id, err)
	}
	return &req, nil
}

func findOptions(page Page) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	if page.Offset > 0 {
		opts.SetSkip(int64(page.Offset))
	}
	return opts
}

func (s *preMarketRequestService) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.PreMarketRequest, error) {
	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query pre-market requests: %w", err)
	}
	defer cursor.Close(ctx)

	requests := []models.PreMarketRequest{}
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, fmt.Errorf("failed to decode pre-market requests: %w", err)
	}
	return requests, nil
}

func (s *preMarketRequestService) ListByRenter(ctx context.Context, renterID utils.SixID, page Page) ([]models.PreMarketRequest, error) {
	filter := bson.M{
		"renter_id": renterID,
		"status":    bson.M{"$ne": models.PreMarketStatusDeleted},
	}
	return s.find(ctx, filter, findOptions(page))
}

// ListForAgents returns active requests the agent may see: shared ones, ones
// the agent referred, and ones the agent already holds a grant for. Deleted
// requests and requests past their moving window or visibility deadline are
// never returned, even before the sweep marks them.
func (s *preMarketRequestService) ListForAgents(ctx context.Context, agentID utils.SixID, matched []utils.SixID, filter PreMarketFilter, page Page) ([]models.PreMarketRequest, error) {
	visible := []bson.M{
		{"visibility": models.VisibilityShared},
		{"referring_agent_id": agentID},
	}
	if len(matched) > 0 {
		visible = append(visible, bson.M{"_id": bson.M{"$in": matched}})
	}

	now := time.Now().UTC()
	q := bson.M{
		"status":                   models.PreMarketStatusActive,
		"is_active":                true,
		"moving_date_range.latest": bson.M{"$gte": now},
	}
	// Missing or null deadline, or one still ahead.
	q["$and"] = []bson.M{
		{"$or": visible},
		{"$or": []bson.M{{"visible_until": nil}, {"visible_until": bson.M{"$gte": now}}}},
	}
	if filter.Borough != "" {
		q["locations.borough"] = filter.Borough
	}
	if filter.MinBedrooms != nil {
		q["rooms.min_bedrooms"] = bson.M{"$gte": *filter.MinBedrooms}
	}
	if filter.MaxPrice != nil {
		q["price_range.min"] = bson.M{"$lte": *filter.MaxPrice}
	}
	if filter.MovingBy != nil {
		q["moving_date_range.earliest"] = bson.M{"$lte": filter.MovingBy.UTC()}
	}
	return s.find(ctx, q, findOptions(page))
}

func (s *preMarketRequestService) ListAll(ctx context.Context, status models.PreMarketStatus, page Page) ([]models.PreMarketRequest, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	return s.find(ctx, filter, findOptions(page))
}

// replaceIfUnchanged writes req back only if nobody updated it since it was
// read, using updated_at as the version.
func (s *preMarketRequestService) replaceIfUnchanged(ctx context.Context, req *models.PreMarketRequest, readAt time.Time) (*models.PreMarketRequest, error) {
	// Mongo keeps millisecond precision; the new version must differ from readAt.
	req.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if !req.UpdatedAt.After(readAt) {
		req.UpdatedAt = readAt.Add(time.Millisecond)
	}
	res, err := s.collection().ReplaceOne(ctx, bson.M{"_id": req.ID, "updated_at": readAt}, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update pre-market request %s: %w", req.ID, err)
	}
	if res.MatchedCount == 0 {
		return nil, NewConflictError("pre-market request %s was modified concurrently; reload and retry", req.ID)
	}
	return req, nil
}

func (s *preMarketRequestService) UpdateByRenter(ctx context.Context, id, renterID utils.SixID, in PreMarketInput) (*models.PreMarketRequest, error) {
	req, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RenterID != renterID {
		return nil, NewForbiddenError("pre-market request %s does not belong to this renter", id)
	}
	if req.Status == models.PreMarketStatusDeleted {
		return nil, NewNotFoundError("pre-market request %s not found", id)
	}
	in.ReferringAgentID = nil
	readAt := req.UpdatedAt
	applyInput(req, in)
	if err := validatePreMarket(req); err != nil {
		return nil, err
	}
	return s.replaceIfUnchanged(ctx, req, readAt)
}

func (s *preMarketRequestService) UpdateByAdmin(ctx context.Context, id utils.SixID, in PreMarketInput) (*models.PreMarketRequest, error) {
	req, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	readAt := req.UpdatedAt
	if in.ReferringAgentID != nil {
		req.ReferringAgentID = in.ReferringAgentID
	}
	applyInput(req, in)
	if err := validatePreMarket(req); err != nil {
		return nil, err
	}
	return s.replaceIfUnchanged(ctx, req, readAt)
}

// updateWhere applies update when filter matches and returns the new document.
// A miss is diagnosed by re-reading the record.
func (s *preMarketRequestService) updateWhere(ctx context.Context, id utils.SixID, filter bson.M, set bson.M) (*models.PreMarketRequest, error) {
	filter["_id"] = id
	set["updated_at"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.PreMarketRequest
	err := s.collection().FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update pre-market request %s: %w", id, err)
	}
	if _, findErr := s.FindByID(ctx, id); findErr != nil {
		return nil, findErr
	}
	return nil, ErrConditionNotMet
}

func (s *preMarketRequestService) SetActive(ctx context.Context, id, renterID utils.SixID, active bool) (*models.PreMarketRequest, error) {
	filter := bson.M{"renter_id": renterID, "status": models.PreMarketStatusActive}
	updated, err := s.updateWhere(ctx, id, filter, bson.M{"is_active": active})
	if errors.Is(err, ErrConditionNotMet) {
		return nil, NewForbiddenError("pre-market request %s is not an active request of this renter", id)
	}
	return updated, err
}

// SetVisibility is allowed for the owning renter, the referring agent and admins.
func (s *preMarketRequestService) SetVisibility(ctx context.Context, id utils.SixID, actor *models.User, visibility models.Visibility) (*models.PreMarketRequest, error) {
	if !visibility.Valid() {
		return nil, NewValidationError("invalid visibility %q", visibility)
	}
	filter := bson.M{"status": bson.M{"$ne": models.PreMarketStatusDeleted}}
	switch actor.Role {
	case models.RoleRenter:
		filter["renter_id"] = actor.ID
	case models.RoleAgent:
		filter["referring_agent_id"] = actor.ID
	case models.RoleAdmin:
	default:
		return nil, NewForbiddenError("role %q cannot change visibility", actor.Role)
	}
	updated, err := s.updateWhere(ctx, id, filter, bson.M{"visibility": visibility})
	if errors.Is(err, ErrConditionNotMet) {
		return nil, NewForbiddenError("not allowed to change visibility of pre-market request %s", id)
	}
	return updated, err
}

func (s *preMarketRequestService) SetStatus(ctx context.Context, id utils.SixID, status models.PreMarketStatus) (*models.PreMarketRequest, error) {
	if !status.Valid() {
		return nil, NewValidationError("invalid status %q", status)
	}
	set := bson.M{"status": status}
	if status != models.PreMarketStatusActive {
		set["is_active"] = false
	}
	updated, err := s.updateWhere(ctx, id, bson.M{}, set)
	if errors.Is(err, ErrConditionNotMet) {
		return nil, NewNotFoundError("pre-market request %s not found", id)
	}
	return updated, err
}

// SoftDelete marks the request deleted. A non-nil renterID restricts it to
// the owner; admins pass nil.
func (s *preMarketRequestService) SoftDelete(ctx context.Context, id utils.SixID, renterID *utils.SixID) error {
	filter := bson.M{"status": bson.M{"$ne": models.PreMarketStatusDeleted}}
	if renterID != nil {
		filter["renter_id"] = *renterID
	}
	_, err := s.updateWhere(ctx, id, filter, bson.M{"status": models.PreMarketStatusDeleted, "is_active": false})
	if errors.Is(err, ErrConditionNotMet) {
		req, findErr := s.FindByID(ctx, id)
		if findErr != nil {
			return findErr
		}
		if renterID != nil && req.RenterID != *renterID {
			return NewForbiddenError("pre-market request %s does not belong to this renter", id)
		}
		return nil
	}
	return err
}

func (s *preMarketRequestService) HardDelete(ctx context.Context, id utils.SixID) error {
	res, err := s.collection().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete pre-market request %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return NewNotFoundError("pre-market request %s not found", id)
	}
	return nil
}

func (s *preMarketRequestService) MarkViewed(ctx context.Context, id, agentID utils.SixID, viaGrantAccess bool) error {
	field := "viewed_by.normal_agents"
	if viaGrantAccess {
		field = "viewed_by.grant_access_agents"
	}
	_, err := s.collection().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$addToSet": bson.M{field: agentID}})
	if err != nil {
		return fmt.Errorf("failed to record view of %s by %s: %w", id, agentID, err)
	}
	return nil
}

func (s *preMarketRequestService) IncMatchCount(ctx context.Context, id utils.SixID) error {
	res, err := s.collection().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"match_count": 1}})
	if err != nil {
		return fmt.Errorf("failed to increment match count of %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return NewNotFoundError("pre-market request %s not found", id)
	}
	return nil
}

// DecMatchCount never takes the count below zero.
func (s *preMarketRequestService) DecMatchCount(ctx context.Context, id utils.SixID) error {
	_, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": id, "match_count": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"match_count": -1}})
	if err != nil {
		return fmt.Errorf("failed to decrement match count of %s: %w", id, err)
	}
	return nil
}

func (s *preMarketRequestService) FindExpirable(ctx context.Context, now time.Time) ([]models.PreMarketRequest, error) {
	filter := bson.M{
		"is_active": true,
		"status":    bson.M{"$ne": models.PreMarketStatusDeleted},
		"$or": []bson.M{
			{"moving_date_range.latest": bson.M{"$lt": now}},
			{"visible_until": bson.M{"$lt": now}},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "moving_date_range.latest", Value: 1}})
	return s.find(ctx, filter, opts)
}

// FindRetirable returns non-deleted requests whose moving window closed before
// cutoff, whether or not an earlier sweep already deactivated them.
func (s *preMarketRequestService) FindRetirable(ctx context.Context, cutoff time.Time) ([]models.PreMarketRequest, error) {
	filter := bson.M{
		"status":                   bson.M{"$ne": models.PreMarketStatusDeleted},
		"moving_date_range.latest": bson.M{"$lt": cutoff},
	}
	opts := options.Find().SetSort(bson.D{{Key: "moving_date_range.latest", Value: 1}})
	return s.find(ctx, filter, opts)
}

// Expire deactivates a request that is still active. ErrConditionNotMet means
// it was already deactivated or deleted.
func (s *preMarketRequestService) Expire(ctx context.Context, id utils.SixID, now time.Time) error {
	filter := bson.M{"is_active": true, "status": bson.M{"$ne": models.PreMarketStatusDeleted}}
	_, err := s.updateWhere(ctx, id, filter, bson.M{"is_active": false, "expired_at": now})
	return err
}

// Retire soft-deletes a long-expired request.
func (s *preMarketRequestService) Retire(ctx context.Context, id utils.SixID, now time.Time) error {
	filter := bson.M{"status": bson.M{"$ne": models.PreMarketStatusDeleted}}
	set := bson.M{"status": models.PreMarketStatusDeleted, "is_active": false, "expired_at": now}
	_, err := s.updateWhere(ctx, id, filter, set)
	return err
}
