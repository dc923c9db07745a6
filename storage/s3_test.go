package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo.evalgo.org/apperr"
)

func TestNewS3BlobStoreWithClientExistingBucket(t *testing.T) {
	client := NewMockS3Client()

	store, err := NewS3BlobStoreWithClient(context.Background(), client, "artifacts")
	require.NoError(t, err)
	require.NotNil(t, store)

	assert.True(t, client.HeadBucketCalled)
	assert.False(t, client.CreateBucketCalled, "existing bucket is not recreated")
}

func TestNewS3BlobStoreWithClientCreatesBucket(t *testing.T) {
	client := NewMockS3Client()
	client.HeadBucketErr = errors.New("NotFound")

	_, err := NewS3BlobStoreWithClient(context.Background(), client, "artifacts")
	require.NoError(t, err)
	assert.True(t, client.CreateBucketCalled)
}

func TestNewS3BlobStoreWithClientCreateFails(t *testing.T) {
	client := NewMockS3Client()
	client.HeadBucketErr = errors.New("NotFound")
	client.CreateBucketErr = errors.New("AccessDenied")

	_, err := NewS3BlobStoreWithClient(context.Background(), client, "artifacts")
	assert.Error(t, err)
}

func TestPutAndGetRoundTrip(t *testing.T) {
	client := NewMockS3Client()
	store, err := NewS3BlobStoreWithClient(context.Background(), client, "artifacts")
	require.NoError(t, err)

	payload := []byte("full tool result payload")
	require.NoError(t, store.Put(context.Background(), "t1/art_1", payload, "text/plain"))

	got, err := store.Get(context.Background(), "t1/art_1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	client := NewMockS3Client()
	store, err := NewS3BlobStoreWithClient(context.Background(), client, "artifacts")
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "t1/missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestPutFailureIsStorageError(t *testing.T) {
	client := NewMockS3Client()
	store, err := NewS3BlobStoreWithClient(context.Background(), client, "artifacts")
	require.NoError(t, err)

	client.PutObjectErr = errors.New("SlowDown")
	err = store.Put(context.Background(), "t1/art_1", []byte("x"), "")

	var se *apperr.StorageError
	assert.ErrorAs(t, err, &se)
}
