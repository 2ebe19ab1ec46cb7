package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 stores blobs in an S3 bucket, optionally rewriting URLs onto a CDN
// domain.
type S3 struct {
	client    *s3.Client
	bucket    string
	cdnDomain string
}

// S3Options configure the S3 store.
type S3Options struct {
	Bucket string

	// CDNDomain, when set, is used for returned URLs instead of the
	// virtual-hosted S3 URL.
	CDNDomain string

	// Client overrides the default client built from the ambient AWS
	// configuration. Mainly for tests.
	Client *s3.Client
}

// NewS3 creates an S3-backed blob store.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	client := opts.Client
	if client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		client = s3.NewFromConfig(cfg)
	}
	return &S3{client: client, bucket: opts.Bucket, cdnDomain: opts.CDNDomain}, nil
}

// Put uploads the blob and returns its public URL.
func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload blob %q: %w", key, err)
	}
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, key), nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key), nil
}

// Get downloads a blob by key.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %q: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
