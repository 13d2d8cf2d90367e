// Package storage persists acquired site bundles in S3.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/siteforge-ops/siteforge-backend/pkg/env"
)

// ObjectStore is what the bundle pipeline needs from durable storage.
// PresignGet hands out a time-limited download URL a freshly provisioned
// server can curl without credentials.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, url string) error
}

type Storage struct {
	client *s3.Client
	bucket string
	region string
}

var _ ObjectStore = (*Storage)(nil)

func NewStorage(config aws.Config) *Storage {
	return &Storage{
		client: s3.NewFromConfig(config, func(o *s3.Options) {
			o.UsePathStyle = true
		}),
		bucket: env.GetEnv("S3_BUCKET", "siteforge-bundles"),
		region: env.GetEnv("AWS_DEFAULT_REGION", "eu-north-1"),
	}
}

func (s *Storage) Put(ctx context.Context, key string, data []byte) (string, error) {
	ct := http.DetectContentType(data)
	if strings.HasSuffix(key, ".zip") {
		ct = "application/zip"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(ct),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("can't put object %v: %w", key, err)
	}
	return s.URL(key), nil
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("error downloading object %v: %w", key, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	buf := new(bytes.Buffer)
	if _, err = buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("error reading object contents, %v", err)
	}
	return buf.Bytes(), nil
}

func (s *Storage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("can't presign object %v: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes a stored bundle by its public URL. Best-effort callers log
// and continue when the object is already gone.
func (s *Storage) Delete(ctx context.Context, url string) error {
	key := s.KeyFromURL(url)
	if key == "" {
		return fmt.Errorf("url %v does not belong to bucket %v", url, s.bucket)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("can't delete object %v: %w", key, err)
	}
	return nil
}

func (s *Storage) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func (s *Storage) KeyFromURL(url string) string {
	prefix := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", s.bucket, s.region)
	if !strings.HasPrefix(url, prefix) {
		return ""
	}
	return strings.TrimPrefix(url, prefix)
}
