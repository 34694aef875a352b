// Package objectstore keeps launch archives in an S3-compatible bucket.
package objectstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/workflow-svc/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	// PresignTTL > 0 makes stored archives addressable by a presigned GET
	// URL instead of an s3:// URI.
	PresignTTL time.Duration
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ARCHIVE_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	presign, err := env.Duration("ARCHIVE_PRESIGN_TTL", 0)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Endpoint:   strings.TrimSpace(env.String("ARCHIVE_MINIO_ENDPOINT", "localhost:9000")),
		AccessKey:  env.String("ARCHIVE_MINIO_ACCESS_KEY", ""),
		SecretKey:  env.String("ARCHIVE_MINIO_SECRET_KEY", ""),
		Region:     env.String("ARCHIVE_MINIO_REGION", "us-east-1"),
		UseSSL:     useSSL,
		Bucket:     env.String("ARCHIVE_MINIO_BUCKET", "workflow-archives"),
		PresignTTL: presign,
	}, nil
}

// Validate is only called when archives go to object storage.
func (c Config) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"ARCHIVE_MINIO_ENDPOINT", c.Endpoint},
		{"ARCHIVE_MINIO_ACCESS_KEY", c.AccessKey},
		{"ARCHIVE_MINIO_SECRET_KEY", c.SecretKey},
		{"ARCHIVE_MINIO_REGION", c.Region},
		{"ARCHIVE_MINIO_BUCKET", c.Bucket},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("ARCHIVE_MINIO_ENDPOINT must not include a scheme: %q", c.Endpoint)
	}
	// S3 caps presigned URLs at seven days.
	if c.PresignTTL < 0 || c.PresignTTL > 7*24*time.Hour {
		return fmt.Errorf("ARCHIVE_PRESIGN_TTL must be between 0 and 168h (got %s)", c.PresignTTL)
	}
	return nil
}
