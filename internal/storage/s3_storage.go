package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"greendrake/referral/internal/config"
)

// IArchive stores JSON snapshots of records before they are retired.
type IArchive interface {
	PutJSON(ctx context.Context, key string, v interface{}) error
}

// ObjectPutter is the part of *s3.Client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Archive implements IArchive.
type s3Archive struct {
	bucket string
	prefix string
	client ObjectPutter
}

// NewS3Archive creates an archive writing to cfg.AwsS3Bucket. It returns
// nil, nil when no bucket is configured.
func NewS3Archive(ctx context.Context, cfg *config.Config) (IArchive, error) {
	if cfg.AwsS3Bucket == "" {
		return nil, nil
	}
	opts := []func(*aws_config.LoadOptions) error{aws_config.WithRegion(cfg.AwsRegion)}
	if cfg.AwsAccessKeyID != "" {
		// Without static keys the default chain (env, shared config, IAM role) applies.
		opts = append(opts, aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)))
	}
	awsCfg, err := aws_config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewArchive(s3.NewFromConfig(awsCfg), cfg.AwsS3Bucket, "archive/"), nil
}

// NewArchive wraps any ObjectPutter; keys are written under prefix.
func NewArchive(client ObjectPutter, bucket, prefix string) IArchive {
	return &s3Archive{bucket: bucket, prefix: prefix, client: client}
}

// PutJSON writes v as an indented JSON object at prefix+key.
func (s *s3Archive) PutJSON(ctx context.Context, key string, v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive object %s: %w", key, err)
	}
	objectKey := s.prefix + key
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"archived-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put archive object %s: %w", objectKey, err)
	}
	return nil
}
