package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/qasim313/Unbrandit/internal/config"
)

// ErrObjectNotFound is returned by Open when the key does not exist.
var ErrObjectNotFound = errors.New("storage object not found")

// Object is an open blob. The caller must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Length      int64
}

// StorageClient defines the interface for object storage operations.
// URLs it returns are raw storage locations and must not reach clients.
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Open(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	URLForKey(key string) string
	KeyFromURL(raw string) (string, bool)
}

// R2Client implements StorageClient for Cloudflare R2 or any S3-compatible endpoint
type R2Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string
	endpoint   string
}

// NewR2Client creates a new R2 storage client
func NewR2Client(cfg *config.StorageConfig) (*R2Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("storage configuration incomplete")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("storage configuration incomplete")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2Client{
		s3Client:   s3Client,
		bucketName: cfg.BucketName,
		publicURL:  cfg.PublicURL,
		endpoint:   endpoint,
	}, nil
}

// Upload stores a blob and returns its raw location
func (c *R2Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	_, err := c.s3Client.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to upload to storage: %w", err)
	}

	return c.URLForKey(key), nil
}

// Open streams an object from the bucket
func (c *R2Client) Open(ctx context.Context, key string) (*Object, error) {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read from storage: %w", err)
	}

	obj := &Object{
		Body:        out.Body,
		ContentType: aws.ToString(out.ContentType),
		Length:      aws.ToInt64(out.ContentLength),
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return obj, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// Delete removes a file from storage
func (c *R2Client) Delete(ctx context.Context, key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}

	_, err := c.s3Client.DeleteObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to delete from storage: %w", err)
	}

	return nil
}

// URLForKey returns the raw location of a key
func (c *R2Client) URLForKey(key string) string {
	if c.publicURL != "" {
		return fmt.Sprintf("%s/%s", c.publicURL, key)
	}
	return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucketName, key)
}

// KeyFromURL recognises locations in this bucket, through the public domain
// or the path-style API endpoint.
func (c *R2Client) KeyFromURL(raw string) (string, bool) {
	prefixes := []string{c.endpoint + "/" + c.bucketName + "/"}
	if c.publicURL != "" {
		prefixes = append(prefixes, c.publicURL+"/")
	}
	return keyFromPrefixes(raw, prefixes)
}

func keyFromPrefixes(raw string, prefixes []string) (string, bool) {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	for _, p := range prefixes {
		if strings.HasPrefix(raw, p) && len(raw) > len(p) {
			key, err := url.PathUnescape(raw[len(p):])
			if err != nil || key == "" {
				return "", false
			}
			return key, true
		}
	}
	return "", false
}
