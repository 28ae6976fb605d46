// Package media stores inbound photo payloads in S3 and serves them
// back as presigned GET URLs. It is used when the messaging platform
// hands the bot raw bytes or a platform-internal file handle instead of
// a publicly resolvable URL: the workflow webhook only accepts
// references it can fetch.
package media

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// presignExpiry must outlive a full processing attempt including
// retries and backoff.
const presignExpiry = 15 * time.Minute

// Store persists session media in one bucket under per-session prefixes.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewStore creates a media store for the given bucket.
func NewStore(client *s3.Client, presigner *s3.PresignClient, bucket string) *Store {
	return &Store{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
	}
}

// Put uploads one photo payload under the session's prefix and returns
// its object key.
func (s *Store) Put(ctx context.Context, sessionID, filename, contentType string, data []byte) (string, error) {
	key := fmt.Sprintf("sessions/%s/%s", sessionID, filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload media %s: %w", key, err)
	}
	log.Debug().
		Str("sessionId", sessionID).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("Media uploaded to S3")
	return key, nil
}

// PresignGet creates a presigned GET URL for a stored object so the
// workflow webhook can fetch it.
func (s *Store) PresignGet(ctx context.Context, key string) (string, error) {
	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = presignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s: %w", key, err)
	}
	return result.URL, nil
}
