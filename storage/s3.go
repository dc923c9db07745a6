package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"mnemo.evalgo.org/apperr"
)

// S3Config holds the connection parameters for any S3-compatible store.
type S3Config struct {
	URL       string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// S3BlobStore implements BlobStore on an S3-compatible object store.
type S3BlobStore struct {
	client S3Client
	bucket string
}

// NewS3BlobStore connects to the object store and ensures the bucket
// exists.
func NewS3BlobStore(ctx context.Context, cfg S3Config) (*S3BlobStore, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.URL,
					SigningRegion:     region,
					HostnameImmutable: true, // important for MinIO
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true // required for MinIO
		o.HTTPClient = &http.Client{}
	})

	return NewS3BlobStoreWithClient(ctx, client, cfg.Bucket)
}

// NewS3BlobStoreWithClient creates a blob store with an injected client
// for testing.
func NewS3BlobStoreWithClient(ctx context.Context, client S3Client, bucket string) (*S3BlobStore, error) {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(bucket),
		}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return &S3BlobStore{client: client, bucket: bucket}, nil
}

// Put stores the payload under key with an md5 tag for later sync checks.
func (s *S3BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"md5": fmt.Sprintf("%x", md5.Sum(data)), // becomes x-amz-meta-md5
		},
	})
	if err != nil {
		return apperr.Storage("blob put", err)
	}
	return nil
}

// Get returns the payload stored under key. A missing key surfaces as
// not-found so the caller can map it cleanly.
func (s *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &apperr.NotFoundError{Resource: "blob", ID: key}
		}
		return nil, apperr.Storage("blob get", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.Storage("blob read", err)
	}
	return data, nil
}
