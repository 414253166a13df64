package services

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/referral/internal/db"
)

// Indexes lists the indexes every store relies on. The unique partial index on
// active_key is what keeps one holding grant-access record per agent and
// pre-market request.
func Indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		grantAccessRequestsCollection: {
			{
				Keys: bson.D{{Key: "active_key", Value: 1}},
				Options: options.Index().
					SetName("active_key_unique").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"active_key": bson.M{"$exists": true}}),
			},
			{
				Keys:    bson.D{{Key: "payment.intent_id", Value: 1}},
				Options: options.Index().SetName("payment_intent").SetSparse(true),
			},
			{
				Keys: bson.D{
					{Key: "agent_id", Value: 1},
					{Key: "pre_market_request_id", Value: 1},
					{Key: "created_at", Value: -1},
				},
				Options: options.Index().SetName("agent_request_created"),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("status_created"),
			},
		},
		preMarketRequestsCollection: {
			{
				Keys: bson.D{
					{Key: "status", Value: 1},
					{Key: "is_active", Value: 1},
					{Key: "moving_date_range.latest", Value: 1},
				},
				Options: options.Index().SetName("sweep"),
			},
			{
				Keys:    bson.D{{Key: "renter_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("renter_created"),
			},
		},
		usersCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName("email_unique").SetUnique(true),
			},
		},
		noticesCollection: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "event_id", Value: 1}},
				Options: options.Index().SetName("user_event_unique").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("user_created"),
			},
		},
		configCollection: {
			{
				Keys:    bson.D{{Key: "key", Value: 1}},
				Options: options.Index().SetName("key_unique").SetUnique(true),
			},
		},
		emailTemplatesCollection: {
			{
				Keys:    bson.D{{Key: "template_id", Value: 1}, {Key: "locale", Value: 1}},
				Options: options.Index().SetName("template_locale_unique").SetUnique(true),
			},
		},
		adminActionLogsCollection: {
			{
				Keys:    bson.D{{Key: "target_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("target_created"),
			},
		},
	}
}

// EnsureIndexes creates all store indexes.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	return db.EnsureIndexes(ctx, database, Indexes())
}
