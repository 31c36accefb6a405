// Package storage publishes captured photos to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/LeonardoBeccarini/clever_harvest/internal/config"
)

const contentType = "image/jpeg"

// ObjectKey is "<title>/<RFC3339 timestamp>.jpg".
func ObjectKey(title string, ts time.Time) string {
	return fmt.Sprintf("%s/%s.jpg", strings.Trim(title, "/"), ts.UTC().Format(time.RFC3339))
}

// S3Uploader stores objects and hands back time-limited download links.
type S3Uploader struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

func NewS3Uploader(ctx context.Context, cfg config.StorageConfig) (*S3Uploader, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("storage config incomplete")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &S3Uploader{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		expiry:  expiry,
	}, nil
}

// Upload puts body under key and returns a presigned GET URL.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}

	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:              aws.String(u.bucket),
		Key:                 aws.String(key),
		ResponseContentType: aws.String(contentType),
	}, s3.WithPresignExpires(u.expiry))
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", u.bucket, key, err)
	}
	return req.URL, nil
}
