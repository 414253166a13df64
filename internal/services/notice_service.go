package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"greendrake/referral/internal/db"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

const noticesCollection = "notices"

// INoticeService stores in-app notices.
type INoticeService interface {
	// Create stores n. A second notice for the same user and event is ignored,
	// so redelivered events do not duplicate notices.
	Create(ctx context.Context, n *models.Notice) error
	ListForUser(ctx context.Context, userID utils.SixID, unreadOnly bool, page Page) ([]models.Notice, error)
	MarkRead(ctx context.Context, userID, noticeID utils.SixID) error
}

type noticeService struct {
	db *mongo.Database
}

func NewNoticeService(db *mongo.Database) INoticeService {
	return &noticeService{db: db}
}

func (s *noticeService) collection() *mongo.Collection {
	return s.db.Collection(noticesCollection)
}

func (s *noticeService) Create(ctx context.Context, n *models.Notice) error {
	if n.UserID.IsZero() {
		return NewValidationError("notice needs a recipient")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	_, err := db.InsertOne(ctx, s.collection(), n)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) && !db.IsMongoDuplicateIDError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert notice for user %s: %w", n.UserID, err)
	}
	return nil
}

func (s *noticeService) ListForUser(ctx context.Context, userID utils.SixID, unreadOnly bool, page Page) ([]models.Notice, error) {
	filter := bson.M{"user_id": userID}
	if unreadOnly {
		filter["read"] = false
	}
	cursor, err := s.collection().Find(ctx, filter, findOptions(page))
	if err != nil {
		return nil, fmt.Errorf("failed to query notices: %w", err)
	}
	defer cursor.Close(ctx)

	notices := []models.Notice{}
	if err := cursor.All(ctx, &notices); err != nil {
		return nil, fmt.Errorf("failed to decode notices: %w", err)
	}
	return notices, nil
}

func (s *noticeService) MarkRead(ctx context.Context, userID, noticeID utils.SixID) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": noticeID, "user_id": userID},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark notice %s read: %w", noticeID, err)
	}
	if res.MatchedCount == 0 {
		return NewNotFoundError("notice %s not found", noticeID)
	}
	return nil
}
