package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// S3Config holds connection and layout settings for the S3-backed store.
type S3Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PendingPrefix   string
	PublicPrefix    string
	PublicBaseURL   string

	// Promote visibility poll. Copies in eventually consistent buckets may
	// lag; the poll is bounded so a stuck copy fails the request instead of
	// hanging it.
	PromoteAttempts uint64
	PromoteInterval time.Duration
}

// DefaultS3Config returns the default store configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:          "us-east-1",
		PendingPrefix:   "pending",
		PublicPrefix:    "public",
		PromoteAttempts: 30,
		PromoteInterval: time.Second,
	}
}

// S3Store implements ArtifactStore on an S3-compatible bucket. Pending and
// public artifacts live under separate key prefixes; an item's ID is its key
// basename, which embeds the upload timestamp so lexicographic listing order
// is intake order.
type S3Store struct {
	client *s3.S3
	config S3Config
	clock  clockwork.Clock
}

// NewS3Store creates a store backed by the configured bucket.
func NewS3Store(config S3Config, clock clockwork.Clock) (*S3Store, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	if config.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKeyID, config.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}

	return &S3Store{
		client: s3.New(sess),
		config: config,
		clock:  clock,
	}, nil
}

func (s *S3Store) PutPending(ctx context.Context, data []byte, contentType, caption string) (string, error) {
	ext := extensionFor(contentType)
	itemID := fmt.Sprintf("%d_%s%s", s.clock.Now().UnixNano(), uuid.New().String(), ext)

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.pendingKey(itemID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]*string{
			"caption": aws.String(caption),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put pending artifact: %w", err)
	}

	log.Info().Str("item_id", itemID).Int("bytes", len(data)).Msg("stored pending artifact")
	return itemID, nil
}

// Promote copies the pending artifact to the public prefix, waits for the
// copy to become visible, then deletes the pending original. On any failure
// the pending artifact is left in place so the resolution can be retried.
func (s *S3Store) Promote(ctx context.Context, itemID string) error {
	src := s.pendingKey(itemID)
	dst := s.publicKey(itemID)

	_, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.config.Bucket),
		CopySource: aws.String(s.config.Bucket + "/" + src),
		Key:        aws.String(dst),
	})
	if err != nil {
		return fmt.Errorf("copy artifact to public collection: %w", err)
	}

	err = pollVisible(ctx, s.config.PromoteInterval, s.config.PromoteAttempts, func(ctx context.Context) (bool, error) {
		return s.exists(ctx, dst)
	})
	if err != nil {
		return fmt.Errorf("wait for public copy of %s: %w", itemID, err)
	}

	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(src),
	}); err != nil {
		return fmt.Errorf("delete pending artifact after promote: %w", err)
	}

	log.Info().Str("item_id", itemID).Msg("promoted artifact to public collection")
	return nil
}

func (s *S3Store) Discard(ctx context.Context, itemID string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.pendingKey(itemID)),
	})
	if err != nil {
		return fmt.Errorf("discard pending artifact: %w", err)
	}
	log.Info().Str("item_id", itemID).Msg("discarded pending artifact")
	return nil
}

func (s *S3Store) RemovePublic(ctx context.Context, itemID string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.publicKey(itemID)),
	})
	if err != nil {
		return fmt.Errorf("remove public artifact: %w", err)
	}
	log.Info().Str("item_id", itemID).Msg("removed artifact from public collection")
	return nil
}

func (s *S3Store) ListPending(ctx context.Context) ([]string, error) {
	return s.list(ctx, s.config.PendingPrefix)
}

func (s *S3Store) ListPublic(ctx context.Context) ([]string, error) {
	return s.list(ctx, s.config.PublicPrefix)
}

func (s *S3Store) PendingURL(itemID string) string {
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(s.config.PublicBaseURL, "/"), s.pendingKey(itemID))
}

func (s *S3Store) PublicURL(itemID string) string {
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(s.config.PublicBaseURL, "/"), s.publicKey(itemID))
}

// list returns item IDs under a prefix. S3 lists keys lexicographically and
// IDs embed the upload timestamp, so the result is in intake order.
func (s *S3Store) list(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(prefix + "/"),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			ids = append(ids, strings.TrimPrefix(aws.StringValue(obj.Key), prefix+"/"))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list %s artifacts: %w", prefix, err)
	}
	return ids, nil
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return false, nil
			}
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) pendingKey(itemID string) string {
	return s.config.PendingPrefix + "/" + itemID
}

func (s *S3Store) publicKey(itemID string) string {
	return s.config.PublicPrefix + "/" + itemID
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
