package storage

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MockS3Client is a mock implementation of S3Client for testing. Objects
// live in a map keyed by object key.
type MockS3Client struct {
	mu      sync.Mutex
	Objects map[string][]byte

	HeadBucketErr   error
	CreateBucketErr error
	PutObjectErr    error
	GetObjectErr    error

	HeadBucketCalled   bool
	CreateBucketCalled bool
	PutObjectCalled    bool
	GetObjectCalled    bool
}

// NewMockS3Client creates an empty mock client.
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{Objects: make(map[string][]byte)}
}

// HeadBucket mocks the bucket existence check.
func (m *MockS3Client) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	m.HeadBucketCalled = true
	if m.HeadBucketErr != nil {
		return nil, m.HeadBucketErr
	}
	return &s3.HeadBucketOutput{}, nil
}

// CreateBucket mocks bucket creation.
func (m *MockS3Client) CreateBucket(_ context.Context, _ *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	m.CreateBucketCalled = true
	if m.CreateBucketErr != nil {
		return nil, m.CreateBucketErr
	}
	return &s3.CreateBucketOutput{}, nil
}

// PutObject stores the body in the object map.
func (m *MockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.PutObjectCalled = true
	if m.PutObjectErr != nil {
		return nil, m.PutObjectErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.Objects[*params.Key] = data
	m.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

// GetObject returns the stored body or NoSuchKey.
func (m *MockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.GetObjectCalled = true
	if m.GetObjectErr != nil {
		return nil, m.GetObjectErr
	}
	m.mu.Lock()
	data, ok := m.Objects[*params.Key]
	m.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}
