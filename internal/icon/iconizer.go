// Package icon rewrites content image keys to presigned object-store URLs.
package icon

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Iconizer resolves the image parameter of a content projection to a
// time-limited URL on the media bucket. Images that are already absolute URLs
// pass through untouched; a presign failure degrades to the original value
// rather than breaking the projection.
type Iconizer struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Expiry    time.Duration
}

func New(cfg Config) (*Iconizer, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Iconizer{
		client: client,
		bucket: cfg.Bucket,
		expiry: expiry,
	}, nil
}

// Rewrite maps a stored image path to a presigned URL.
func (i *Iconizer) Rewrite(ctx context.Context, image string) string {
	if image == "" || strings.Contains(image, "://") {
		return image
	}

	url, err := i.client.PresignedGetObject(ctx, i.bucket, strings.TrimPrefix(image, "/"), i.expiry, nil)
	if err != nil {
		log.Printf("icon: presign %s: %v", image, err)
		return image
	}
	return url.String()
}
