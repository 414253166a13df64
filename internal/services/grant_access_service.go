package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/referral/internal/db"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

const (
	grantAccessRequestsCollection = "grant_access_requests"

	// processedEventsKept bounds the provider event ids remembered per record.
	processedEventsKept = 20
)

// IGrantAccessRequestService is the store for grant-access requests. Every
// transition is a single conditional write; ErrConditionNotMet means the
// record was not in the expected state when the write happened.
type IGrantAccessRequestService interface {
	Create(ctx context.Context, g *models.GrantAccessRequest) (*models.GrantAccessRequest, error)
	FindByID(ctx context.Context, id utils.SixID) (*models.GrantAccessRequest, error)
	FindByPaymentIntent(ctx context.Context, intentID string) (*models.GrantAccessRequest, error)
	FindCurrentForPair(ctx context.Context, agentID, preMarketRequestID utils.SixID) (*models.GrantAccessRequest, error)
	ListByAgent(ctx context.Context, agentID utils.SixID, status models.GrantAccessStatus, page Page) ([]models.GrantAccessRequest, error)
	ListAll(ctx context.Context, status models.GrantAccessStatus, page Page) ([]models.GrantAccessRequest, error)
	ApplyFreeGrant(ctx context.Context, id utils.SixID, decision models.AdminDecision) (*models.GrantAccessRequest, error)
	ApplyPrice(ctx context.Context, id utils.SixID, decision models.AdminDecision, amount models.Cents, currency string) (*models.GrantAccessRequest, error)
	Reject(ctx context.Context, id utils.SixID, decision models.AdminDecision) (*models.GrantAccessRequest, error)
	AttachPaymentIntent(ctx context.Context, id utils.SixID, amount models.Cents, intentID string) (*models.GrantAccessRequest, error)
	MarkPaymentSucceeded(ctx context.Context, intentID, eventID string, at time.Time) (*models.GrantAccessRequest, error)
	MarkPaymentFailed(ctx context.Context, intentID, eventID string, at time.Time, maxFailures int) (*models.GrantAccessRequest, error)
}

type grantAccessRequestService struct {
	db *mongo.Database
}

// NewGrantAccessRequestService creates the Mongo-backed grant-access store.
func NewGrantAccessRequestService(db *mongo.Database) IGrantAccessRequestService {
	return &grantAccessRequestService{db: db}
}

func (s *grantAccessRequestService) collection() *mongo.Collection {
	return s.db.Collection(grantAccessRequestsCollection)
}

// Create inserts a pending record. The unique index on active_key makes the
// one-live-request-per-pair rule hold even when two creates race.
func (s *grantAccessRequestService) Create(ctx context.Context, g *models.GrantAccessRequest) (*models.GrantAccessRequest, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	g.Status = models.GrantAccessPending
	g.ActiveKey = models.ActiveKeyFor(g.AgentID, g.PreMarketRequestID)
	g.CreatedAt = now
	g.UpdatedAt = now

	err := s.collection().FindOne(ctx, bson.M{"active_key": g.ActiveKey}).Err()
	if err == nil {
		return nil, NewConflictError("agent already has an open grant-access request for pre-market request %s", g.PreMarketRequestID)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to check existing grant-access requests: %w", err)
	}

	if _, err := db.InsertOne(ctx, s.collection(), g); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, NewConflictError("agent already has an open grant-access request for pre-market request %s", g.PreMarketRequestID)
		}
		return nil, fmt.Errorf("failed to insert grant-access request: %w", err)
	}
	return g, nil
}

func (s *grantAccessRequestService) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.GrantAccessRequest, error) {
	var g models.GrantAccessRequest
	if err := s.collection().FindOne(ctx, filter, opts...).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *grantAccessRequestService) FindByID(ctx context.Context, id utils.SixID) (*models.GrantAccessRequest, error) {
	g, err := s.findOne(ctx, bson.M{"_id": id})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewNotFoundError("grant-access request %s not found", id)
		}
		return nil, fmt.Errorf("failed to find grant-access request %s: %w", id, err)
	}
	return g, nil
}

func (s *grantAccessRequestService) FindByPaymentIntent(ctx context.Context, intentID string) (*models.GrantAccessRequest, error) {
	g, err := s.findOne(ctx, bson.M{"payment.intent_id": intentID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewNotFoundError("no grant-access request for payment intent %s", intentID)
		}
		return nil, fmt.Errorf("failed to find grant-access request by intent %s: %w", intentID, err)
	}
	return g, nil
}

// FindCurrentForPair returns the newest record for the pair, or nil. A new
// record can only exist after the previous one was rejected, so the newest
// record is the one that decides access.
func (s *grantAccessRequestService) FindCurrentForPair(ctx context.Context, agentID, preMarketRequestID utils.SixID) (*models.GrantAccessRequest, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	g, err := s.findOne(ctx, bson.M{"agent_id": agentID, "pre_market_request_id": preMarketRequestID}, opts)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find grant-access request for agent %s: %w", agentID, err)
	}
	return g, nil
}

func (s *grantAccessRequestService) list(ctx context.Context, filter bson.M, page Page) ([]models.GrantAccessRequest, error) {
	cursor, err := s.collection().Find(ctx, filter, findOptions(page))
	if err != nil {
		return nil, fmt.Errorf("failed to query grant-access requests: %w", err)
	}
	defer cursor.Close(ctx)

	out := []models.GrantAccessRequest{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode grant-access requests: %w", err)
	}
	return out, nil
}

func (s *grantAccessRequestService) ListByAgent(ctx context.Context, agentID utils.SixID, status models.GrantAccessStatus, page Page) ([]models.GrantAccessRequest, error) {
	filter := bson.M{"agent_id": agentID}
	if status != "" {
		filter["status"] = status
	}
	return s.list(ctx, filter, page)
}

func (s *grantAccessRequestService) ListAll(ctx context.Context, status models.GrantAccessStatus, page Page) ([]models.GrantAccessRequest, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	return s.list(ctx, filter, page)
}

// transition runs one conditional FindOneAndUpdate and returns the updated
// record, NotFound when the record is gone, or ErrConditionNotMet.
func (s *grantAccessRequestService) transition(ctx context.Context, filter, update bson.M, missing error) (*models.GrantAccessRequest, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var g models.GrantAccessRequest
	err := s.collection().FindOneAndUpdate(ctx, filter, update, opts).Decode(&g)
	if err == nil {
		return &g, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("grant-access transition failed: %w", err)
	}
	return nil, missing
}

func (s *grantAccessRequestService) byIDTransition(ctx context.Context, id utils.SixID, filter, update bson.M) (*models.GrantAccessRequest, error) {
	filter["_id"] = id
	g, err := s.transition(ctx, filter, update, ErrConditionNotMet)
	if errors.Is(err, ErrConditionNotMet) {
		if _, findErr := s.FindByID(ctx, id); findErr != nil {
			return nil, findErr
		}
	}
	return g, err
}

func (s *grantAccessRequestService) ApplyFreeGrant(ctx context.Context, id utils.SixID, decision models.AdminDecision) (*models.GrantAccessRequest, error) {
	decision.IsFree = true
	decision.ChargeAmount = nil
	update := bson.M{
		"$set": bson.M{
			"status":         models.GrantAccessFree,
			"admin_decision": decision,
			"updated_at":     time.Now().UTC(),
		},
		"$unset": bson.M{"payment": ""},
	}
	return s.byIDTransition(ctx, id, bson.M{"status": models.GrantAccessPending}, update)
}

// ApplyPrice (re)prices a pending request. Re-pricing drops any earlier
// intent and clears the failure counter and the re-approval flag.
func (s *grantAccessRequestService) ApplyPrice(ctx context.Context, id utils.SixID, decision models.AdminDecision, amount models.Cents, currency string) (*models.GrantAccessRequest, error) {
	decision.IsFree = false
	decision.ChargeAmount = &amount
	update := bson.M{
		"$set": bson.M{
			"admin_decision":              decision,
			"payment.amount":              amount,
			"payment.currency":            currency,
			"payment.payment_status":      models.PaymentPending,
			"payment.failure_count":       0,
			"payment.requires_reapproval": false,
			"updated_at":                  time.Now().UTC(),
		},
		"$unset": bson.M{"payment.intent_id": ""},
	}
	return s.byIDTransition(ctx, id, bson.M{"status": models.GrantAccessPending}, update)
}

// Reject releases the pair's active slot so the agent may ask again.
func (s *grantAccessRequestService) Reject(ctx context.Context, id utils.SixID, decision models.AdminDecision) (*models.GrantAccessRequest, error) {
	decision.Rejected = true
	update := bson.M{
		"$set": bson.M{
			"status":         models.GrantAccessRejected,
			"admin_decision": decision,
			"updated_at":     time.Now().UTC(),
		},
		"$unset": bson.M{"active_key": ""},
	}
	return s.byIDTransition(ctx, id, bson.M{"status": models.GrantAccessPending}, update)
}

// AttachPaymentIntent records the intent only if the price it was created for
// is still the current one.
func (s *grantAccessRequestService) AttachPaymentIntent(ctx context.Context, id utils.SixID, amount models.Cents, intentID string) (*models.GrantAccessRequest, error) {
	filter := bson.M{
		"status":                      models.GrantAccessPending,
		"payment.amount":              amount,
		"payment.requires_reapproval": false,
	}
	update := bson.M{"$set": bson.M{"payment.intent_id": intentID, "updated_at": time.Now().UTC()}}
	return s.byIDTransition(ctx, id, filter, update)
}

func rememberEvent(eventID string) bson.M {
	return bson.M{"payment.processed_event_ids": bson.M{"$each": []string{eventID}, "$slice": -processedEventsKept}}
}

func (s *grantAccessRequestService) MarkPaymentSucceeded(ctx context.Context, intentID, eventID string, at time.Time) (*models.GrantAccessRequest, error) {
	filter := bson.M{"payment.intent_id": intentID, "status": models.GrantAccessPending}
	update := bson.M{
		"$set": bson.M{
			"status":                 models.GrantAccessPaid,
			"payment.payment_status": models.PaymentSucceeded,
			"payment.succeeded_at":   at,
			"updated_at":             time.Now().UTC(),
		},
		"$push": rememberEvent(eventID),
	}
	return s.transition(ctx, filter, update, ErrConditionNotMet)
}

// MarkPaymentFailed counts a failure once per provider event. When the count
// reaches maxFailures the record is flagged for admin re-approval.
func (s *grantAccessRequestService) MarkPaymentFailed(ctx context.Context, intentID, eventID string, at time.Time, maxFailures int) (*models.GrantAccessRequest, error) {
	filter := bson.M{
		"payment.intent_id":           intentID,
		"status":                      models.GrantAccessPending,
		"payment.processed_event_ids": bson.M{"$ne": eventID},
	}
	push := rememberEvent(eventID)
	push["payment.failed_at"] = bson.M{"$each": []time.Time{at}, "$slice": -maxFailures}
	update := bson.M{
		"$set":  bson.M{"payment.payment_status": models.PaymentFailed, "updated_at": time.Now().UTC()},
		"$inc":  bson.M{"payment.failure_count": 1},
		"$push": push,
	}
	g, err := s.transition(ctx, filter, update, ErrConditionNotMet)
	if err != nil {
		return nil, err
	}
	if maxFailures > 0 && g.Payment != nil && g.Payment.FailureCount >= maxFailures && !g.Payment.RequiresReapproval {
		flagged, flagErr := s.transition(ctx,
			bson.M{"_id": g.ID, "status": models.GrantAccessPending, "payment.failure_count": bson.M{"$gte": maxFailures}},
			bson.M{"$set": bson.M{"payment.requires_reapproval": true}},
			ErrConditionNotMet)
		if flagErr == nil {
			return flagged, nil
		}
		if !errors.Is(flagErr, ErrConditionNotMet) {
			return nil, flagErr
		}
	}
	return g, nil
}
