package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	appconfig "gift-journal-backend/internal/config"
	"gift-journal-backend/internal/httperr"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const storagePrefix = "storage:"

// blobStore is the image lifecycle surface the services depend on; tests
// fake it to observe blob creation and cleanup.
type blobStore interface {
	Persist(ctx context.Context, userID, image string) (string, error)
	Resolve(ctx context.Context, image string) string
	Remove(ctx context.Context, image string) error
}

// ImageStore persists inline data-URL images to a bucket and resolves the
// opaque storage references back to delivery URLs at read time. When storage
// is disabled every operation degrades to inline pass-through.
type ImageStore struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	cfg           appconfig.AWSConfig
	maxImageBytes int
}

// NewImageStore creates a new image store
func NewImageStore(ctx context.Context, cfg appconfig.AWSConfig, maxImageBytes int) (*ImageStore, error) {
	store := &ImageStore{cfg: cfg, maxImageBytes: maxImageBytes}
	if !cfg.StorageEnabled {
		return store, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	store.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	store.presignClient = s3.NewPresignClient(store.client)
	return store, nil
}

// Enabled reports whether blob storage is active.
func (s *ImageStore) Enabled() bool {
	return s.cfg.StorageEnabled && s.client != nil
}

// IsStorageRef reports whether the image string is an opaque bucket
// reference rather than inline data.
func IsStorageRef(image string) bool {
	return strings.HasPrefix(image, storagePrefix)
}

// IsDataURL reports whether the image string carries inline base64 data.
func IsDataURL(image string) bool {
	return strings.HasPrefix(image, "data:image/")
}

// decodeDataURL splits a data URL into its content type and raw bytes.
func (s *ImageStore) decodeDataURL(image string) (string, []byte, error) {
	rest := strings.TrimPrefix(image, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", nil, httperr.New(http.StatusBadRequest, "image must be a base64 data URL")
	}
	contentType := rest[:semi]
	if !strings.HasPrefix(contentType, "image/") {
		return "", nil, httperr.New(http.StatusBadRequest, "image must be an image data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(rest[semi+len(";base64,"):])
	if err != nil {
		return "", nil, httperr.New(http.StatusBadRequest, "image payload is not valid base64")
	}
	if len(raw) > s.maxImageBytes {
		return "", nil, httperr.New(http.StatusRequestEntityTooLarge, "image is too large")
	}
	return contentType, raw, nil
}

// Persist uploads an inline data-URL image and returns its storage
// reference. Non-data-URL inputs pass through unchanged; when storage is
// disabled the inline form is kept.
func (s *ImageStore) Persist(ctx context.Context, userID, image string) (string, error) {
	if !IsDataURL(image) {
		return image, nil
	}
	contentType, raw, err := s.decodeDataURL(image)
	if err != nil {
		return "", err
	}
	if !s.Enabled() {
		return image, nil
	}

	ext := "bin"
	if idx := strings.Index(contentType, "/"); idx >= 0 && idx+1 < len(contentType) {
		ext = contentType[idx+1:]
	}
	key := fmt.Sprintf("%s/%s.%s", userID, uuid.New().String(), ext)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return storagePrefix + key, nil
}

// Resolve turns a storage reference into a delivery URL. Inline images and
// plain URLs pass through unchanged; a failed resolution returns the empty
// string rather than an error so one broken blob never breaks a list
// response.
func (s *ImageStore) Resolve(ctx context.Context, image string) string {
	if !IsStorageRef(image) {
		return image
	}
	key := strings.TrimPrefix(image, storagePrefix)
	if !s.Enabled() {
		return ""
	}
	if s.cfg.BucketPublic {
		if s.cfg.Endpoint != "" {
			return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.cfg.Endpoint, "/"), s.cfg.S3Bucket, key)
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.S3Bucket, s.cfg.Region, key)
	}

	request, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.S3Bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = time.Duration(s.cfg.SignedURLTTLSecond) * time.Second
	})
	if err != nil {
		return ""
	}
	return request.URL
}

// Remove deletes the blob behind a storage reference. Inline images are a
// no-op. Callers treat failures as best-effort cleanup debt.
func (s *ImageStore) Remove(ctx context.Context, image string) error {
	if !IsStorageRef(image) || !s.Enabled() {
		return nil
	}
	key := strings.TrimPrefix(image, storagePrefix)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete image blob: %w", err)
	}
	return nil
}
