package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/referral/internal/config"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	return &s3.PutObjectOutput{}, f.err
}

func TestArchive_PutJSON(t *testing.T) {
	putter := &fakePutter{}
	archive := NewArchive(putter, "referral-archive", "archive/")

	err := archive.PutJSON(context.Background(), "pre-market/abc.json", map[string]string{"id": "abc"})
	require.NoError(t, err)

	require.NotNil(t, putter.input)
	assert.Equal(t, "referral-archive", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "archive/pre-market/abc.json", aws.ToString(putter.input.Key))
	assert.Equal(t, "application/json", aws.ToString(putter.input.ContentType))
	assert.Equal(t, int64(len(putter.body)), aws.ToInt64(putter.input.ContentLength))

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(putter.body, &decoded))
	assert.Equal(t, "abc", decoded["id"])
}

func TestArchive_PutJSONErrors(t *testing.T) {
	archive := NewArchive(&fakePutter{err: errors.New("access denied")}, "b", "")
	err := archive.PutJSON(context.Background(), "k.json", struct{}{})
	assert.ErrorContains(t, err, "access denied")

	err = archive.PutJSON(context.Background(), "bad.json", make(chan int))
	assert.ErrorContains(t, err, "marshal")
}

func TestNewS3Archive_DisabledWithoutBucket(t *testing.T) {
	archive, err := NewS3Archive(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, archive)
}
