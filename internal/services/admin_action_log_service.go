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

const adminActionLogsCollection = "admin_action_logs"

// IAdminActionLogService records admin mutations for audit.
type IAdminActionLogService interface {
	Record(ctx context.Context, adminID utils.SixID, action models.AdminAction, targetID, notes string) error
	List(ctx context.Context, targetID string, page Page) ([]models.AdminActionLog, error)
}

type adminActionLogService struct {
	db *mongo.Database
}

func NewAdminActionLogService(db *mongo.Database) IAdminActionLogService {
	return &adminActionLogService{db: db}
}

func (s *adminActionLogService) Record(ctx context.Context, adminID utils.SixID, action models.AdminAction, targetID, notes string) error {
	entry := &models.AdminActionLog{
		AdminID:   adminID,
		Action:    action,
		TargetID:  targetID,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(adminActionLogsCollection), entry); err != nil {
		return fmt.Errorf("failed to record admin action %s on %s: %w", action, targetID, err)
	}
	return nil
}

// List returns the newest entries first, optionally for one target.
func (s *adminActionLogService) List(ctx context.Context, targetID string, page Page) ([]models.AdminActionLog, error) {
	filter := bson.M{}
	if targetID != "" {
		filter["target_id"] = targetID
	}
	cursor, err := s.db.Collection(adminActionLogsCollection).Find(ctx, filter, findOptions(page))
	if err != nil {
		return nil, fmt.Errorf("failed to query admin action logs: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []models.AdminActionLog{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode admin action logs: %w", err)
	}
	return entries, nil
}
