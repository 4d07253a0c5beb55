package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3ObjectStore fetches and stores document files in an S3-compatible
// bucket. Documents reference their file by object key.
type S3ObjectStore struct {
	client *s3.S3
	bucket string
}

type S3ObjectStoreDependencies struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	ForcePathStyle  bool
}

func NewS3ObjectStore(deps S3ObjectStoreDependencies) (*S3ObjectStore, error) {
	config := &aws.Config{
		Region: aws.String(deps.Region),
	}

	if deps.Endpoint != "" {
		config.Endpoint = aws.String(deps.Endpoint)
		config.S3ForcePathStyle = aws.Bool(deps.ForcePathStyle)
	}

	if deps.AccessKeyID != "" {
		config.Credentials = credentials.NewStaticCredentials(deps.AccessKeyID, deps.SecretAccessKey, "")
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return &S3ObjectStore{
		client: s3.New(sess),
		bucket: deps.Bucket,
	}, nil
}

func (s *S3ObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return body, nil
}

func (s *S3ObjectStore) PutObject(ctx context.Context, key string, contentType string, body []byte) error {
	uploader := s3manager.NewUploaderWithClient(s.client)

	_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	return nil
}
