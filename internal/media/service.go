// Package media stores user avatars in S3-compatible object storage.
package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Service struct {
	client *minio.Client
	bucket string
	base   string
}

var avatarExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// ErrUnsupportedType is returned for content types that are not avatar images.
var ErrUnsupportedType = fmt.Errorf("unsupported avatar content type")

func NewService(cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return &Service{
		client: client,
		bucket: cfg.Bucket,
		base:   fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket),
	}, nil
}

// EnsureBucket creates the avatar bucket if it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// UploadAvatar stores the avatar under a stable per-user key and returns
// its public URL. Re-uploading replaces the previous avatar.
func (s *Service) UploadAvatar(ctx context.Context, userID, contentType string, r io.Reader, size int64) (string, error) {
	ext, ok := avatarExtensions[normalizeContentType(contentType)]
	if !ok {
		return "", ErrUnsupportedType
	}

	object := fmt.Sprintf("avatars/%s.%s", userID, ext)
	_, err := s.client.PutObject(ctx, s.bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put avatar object: %w", err)
	}

	return s.base + "/" + object, nil
}

// RemoveAvatar deletes every stored variant for the user. Missing objects
// are not an error.
func (s *Service) RemoveAvatar(ctx context.Context, userID string) error {
	for _, ext := range avatarExtensions {
		object := fmt.Sprintf("avatars/%s.%s", userID, ext)
		if err := s.client.RemoveObject(ctx, s.bucket, object, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove avatar object: %w", err)
		}
	}
	return nil
}

func normalizeContentType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
