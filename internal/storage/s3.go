// Package storage provides clients for interacting with external storage services, like S3.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mofekayode/videosift-backend/internal/models"

	awsv1 "github.com/aws/aws-sdk-go/aws"
	awserrv1 "github.com/aws/aws-sdk-go/aws/awserr"
	credsv1 "github.com/aws/aws-sdk-go/aws/credentials"
	sessionv1 "github.com/aws/aws-sdk-go/aws/session"
	s3v1 "github.com/aws/aws-sdk-go/service/s3"
)

// Transcript blobs are plain text and capped well below provider limits; the
// cap is enforced at write time since S3 has no per-object size policy.
const maxTranscriptBytes = 10 * 1024 * 1024

// BlobService stores transcript blobs in an S3-compatible private container.
type BlobService struct {
	client *s3v1.S3
	bucket string
}

// NewBlobService creates and configures a new BlobService instance.
// If the S3 configuration is incomplete, it returns a "null" service instance
// that will gracefully fail on operations, allowing the application to run
// without transcript persistence.
func NewBlobService(cfg models.S3Config) (*BlobService, error) {
	if cfg.Endpoint == "" || cfg.Region == "" || cfg.KeyID == "" || cfg.AppKey == "" || cfg.Bucket == "" {
		log.Println("[S3] S3 configuration is not fully provided. Transcript blob storage will be disabled.")
		return &BlobService{client: nil, bucket: ""}, nil
	}

	disableSSL := strings.HasPrefix(strings.ToLower(cfg.Endpoint), "http://")

	sess, err := sessionv1.NewSession(&awsv1.Config{
		Region:           awsv1.String(cfg.Region),
		Endpoint:         awsv1.String(cfg.Endpoint),
		S3ForcePathStyle: awsv1.Bool(true),
		Credentials:      credsv1.NewStaticCredentials(cfg.KeyID, cfg.AppKey, ""),
		DisableSSL:       awsv1.Bool(disableSSL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	log.Printf("[S3] Blob service initialized for bucket '%s' at endpoint '%s' (region '%s').", cfg.Bucket, cfg.Endpoint, cfg.Region)
	return &BlobService{client: s3v1.New(sess), bucket: cfg.Bucket}, nil
}

// BucketName returns the name of the container the service is configured for.
func (s *BlobService) BucketName() string {
	return s.bucket
}

// isConfigured checks if the S3 client is properly initialized.
func (s *BlobService) isConfigured() bool {
	return s.client != nil && s.bucket != ""
}

// UploadTranscript writes a transcript blob, overwriting any previous object
// at the key. If the container does not exist it is created private and the
// upload retried once.
func (s *BlobService) UploadTranscript(ctx context.Context, key string, data []byte) error {
	if !s.isConfigured() {
		return fmt.Errorf("blob service is not configured; transcript upload is disabled")
	}
	if len(data) > maxTranscriptBytes {
		return fmt.Errorf("transcript blob exceeds %d byte cap", maxTranscriptBytes)
	}

	err := s.putObject(ctx, key, data)
	if err == nil {
		log.Printf("[S3] Uploaded transcript '%s' to bucket '%s'.", key, s.bucket)
		return nil
	}

	var aerr awserrv1.Error
	if !asAWSError(err, &aerr) || aerr.Code() != s3v1.ErrCodeNoSuchBucket {
		return fmt.Errorf("failed to upload transcript '%s': %w", key, err)
	}

	log.Printf("[S3] Bucket '%s' does not exist. Creating it and retrying upload.", s.bucket)
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	if err := s.putObject(ctx, key, data); err != nil {
		return fmt.Errorf("failed to upload transcript '%s' after bucket creation: %w", key, err)
	}
	log.Printf("[S3] Uploaded transcript '%s' to bucket '%s'.", key, s.bucket)
	return nil
}

// DownloadTranscript reads a transcript blob and returns its content.
func (s *BlobService) DownloadTranscript(ctx context.Context, key string) ([]byte, error) {
	if !s.isConfigured() {
		return nil, fmt.Errorf("blob service is not configured; transcript download is disabled")
	}
	result, err := s.client.GetObjectWithContext(ctx, &s3v1.GetObjectInput{
		Bucket: awsv1.String(s.bucket),
		Key:    awsv1.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript '%s': %w", key, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript '%s': %w", key, err)
	}
	return body, nil
}

func (s *BlobService) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3v1.PutObjectInput{
		Bucket:      awsv1.String(s.bucket),
		Key:         awsv1.String(key),
		Body:        bytes.NewReader(data),
		ContentType: awsv1.String("text/plain; charset=utf-8"),
	})
	return err
}

// ensureBucket creates the private transcripts container. A bucket that
// already exists (raced creation) is not an error.
func (s *BlobService) ensureBucket(ctx context.Context) error {
	_, err := s.client.CreateBucketWithContext(ctx, &s3v1.CreateBucketInput{
		Bucket: awsv1.String(s.bucket),
		ACL:    awsv1.String(s3v1.BucketCannedACLPrivate),
	})
	if err != nil {
		var aerr awserrv1.Error
		if asAWSError(err, &aerr) {
			switch aerr.Code() {
			case s3v1.ErrCodeBucketAlreadyExists, s3v1.ErrCodeBucketAlreadyOwnedByYou:
				return nil
			}
		}
		return fmt.Errorf("failed to create bucket '%s': %w", s.bucket, err)
	}
	return nil
}

// asAWSError unwraps an error into the AWS SDK v1 error interface.
func asAWSError(err error, target *awserrv1.Error) bool {
	aerr, ok := err.(awserrv1.Error)
	if ok {
		*target = aerr
	}
	return ok
}
