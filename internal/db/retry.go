package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// IsRetryable decides whether a failed Operation should be attempted again.
type IsRetryable func(err error) bool

const DefaultMaxRetries = 3

// Try executes an operation, retrying on any duplicate key error.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsMongoDuplicateKeyError)
}

// WithRetries runs op once plus up to maxRetries more times while retryable
// reports true, sleeping a little longer before each retry.
func WithRetries(op Operation, maxRetries int, retryable IsRetryable) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !retryable(err) {
			break
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// Identifiable is a document that can mint its own id before insert.
type Identifiable interface {
	GenID()
}

// InsertOne generates an id for doc and inserts it, regenerating the id when
// it collides with an existing _id. Duplicates on other unique indexes are
// returned to the caller unchanged.
func InsertOne[T Identifiable](ctx context.Context, coll *mongo.Collection, doc T) (T, error) {
	err := WithRetries(func() error {
		doc.GenID()
		_, err := coll.InsertOne(ctx, doc)
		return err
	}, DefaultMaxRetries, IsMongoDuplicateIDError)
	return doc, err
}

func duplicateKeyMessages(err error) []string {
	var msgs []string
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				msgs = append(msgs, e.Message)
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == 11000 {
				msgs = append(msgs, e.Message)
			}
		}
	}
	return msgs
}

// IsMongoDuplicateKeyError checks if an error from MongoDB is a duplicate key error (code 11000).
func IsMongoDuplicateKeyError(err error) bool {
	return len(duplicateKeyMessages(err)) > 0
}

// IsMongoDuplicateIDError reports a duplicate key error on the _id index only.
func IsMongoDuplicateIDError(err error) bool {
	for _, msg := range duplicateKeyMessages(err) {
		if strings.Contains(msg, "index: _id_ ") {
			return true
		}
	}
	return false
}
