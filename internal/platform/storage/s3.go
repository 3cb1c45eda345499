package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Upload is a presigned PUT the client performs directly against the bucket.
type Upload struct {
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	ObjectURL string    `json:"objectUrl"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Presigner issues upload URLs for payment proofs and expense receipts.
type Presigner interface {
	PresignPut(ctx context.Context, prefix, fileName, contentType string) (Upload, error)
}

// Config holds bucket settings.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string
	PresignTTL      time.Duration
}

// S3 presigns uploads against an S3 compatible bucket (AWS, MinIO, R2).
type S3 struct {
	presigner *s3.PresignClient
	cfg       Config
}

// NewS3 builds the presigning client.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{presigner: s3.NewPresignClient(client), cfg: cfg}, nil
}

var _ Presigner = (*S3)(nil)

// PresignPut returns a PUT URL for a fresh key under prefix.
func (c *S3) PresignPut(ctx context.Context, prefix, fileName, contentType string) (Upload, error) {
	key := ObjectKey(prefix, fileName)
	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(c.cfg.PresignTTL))
	if err != nil {
		return Upload{}, fmt.Errorf("storage: presign put: %w", err)
	}
	return Upload{
		Method:    req.Method,
		URL:       req.URL,
		ObjectURL: c.ObjectURL(key),
		Key:       key,
		ExpiresAt: time.Now().Add(c.cfg.PresignTTL).UTC(),
	}, nil
}

// ObjectURL is the stable address recorded on the aggregate.
func (c *S3) ObjectURL(key string) string {
	if c.cfg.PublicBaseURL != "" {
		return strings.TrimRight(c.cfg.PublicBaseURL, "/") + "/" + key
	}
	if c.cfg.Endpoint != "" {
		return strings.TrimRight(c.cfg.Endpoint, "/") + "/" + c.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.cfg.Bucket, c.cfg.Region, key)
}

// ObjectKey builds "<prefix>/<yyyy>/<mm>/<uuid><ext>" keeping only the
// extension of the client supplied name.
func ObjectKey(prefix, fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, "\\", "/"))))
	if len(ext) > 10 {
		ext = ""
	}
	now := time.Now().UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s%s", strings.Trim(prefix, "/"), now.Year(), int(now.Month()), uuid.NewString(), ext)
}
