package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrDisabled is returned by a nil *Client
var ErrDisabled = errors.New("object storage is not configured")

const DefaultURLExpiry = 15 * time.Minute

// Config holds the configuration for the export storage client.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLExpiry time.Duration
}

// Client stores portfolio exports in S3-compatible object storage.
// Uploads go through aws-sdk-go-v2; download links are presigned with
// minio-go, which signs locally without a round trip.
type Client struct {
	minio  *minio.Client
	s3     *s3.Client
	bucket string
	expiry time.Duration
}

// New creates a storage client. Endpoint may carry an http:// or https://
// prefix; UseSSL decides the scheme when it does not.
func New(cfg *Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, ErrDisabled
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	host, secure := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	mc, err := minio.New(host, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	scheme := "http://"
	if secure {
		scheme = "https://"
	}
	sc := s3.New(s3.Options{
		Region:       region,
		Credentials:  awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		BaseEndpoint: aws.String(scheme + host),
		// Required for MinIO
		UsePathStyle: true,
	})

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}

	return &Client{minio: mc, s3: sc, bucket: cfg.Bucket, expiry: expiry}, nil
}

func splitEndpoint(endpoint string, useSSL bool) (host string, secure bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	default:
		return endpoint, useSSL
	}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// URLExpiry is how long presigned links stay valid.
func (c *Client) URLExpiry() time.Duration {
	return c.expiry
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	if c == nil {
		return ErrDisabled
	}
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
		}
	}
	return nil
}

// Ping checks if the storage is accessible by verifying bucket exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return ErrDisabled
	}
	_, err := c.minio.BucketExists(ctx, c.bucket)
	return err
}

// ExportKey returns the object key of a user's export taken at the given time
func ExportKey(userID uuid.UUID, at time.Time) string {
	return path.Join("exports", userID.String(), "portfolio-"+at.UTC().Format("20060102T150405Z")+".csv")
}

// Put uploads body under key.
func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if c == nil {
		return ErrDisabled
	}
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// PresignedURL returns a time-limited download link for key. The browser
// saves the object under filename.
func (c *Client) PresignedURL(ctx context.Context, key, filename string) (string, error) {
	if c == nil {
		return "", ErrDisabled
	}
	params := url.Values{}
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	u, err := c.minio.PresignedGetObject(ctx, c.bucket, key, c.expiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Delete removes an object from storage.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil {
		return ErrDisabled
	}
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
