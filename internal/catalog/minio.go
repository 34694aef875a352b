package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
)

// objectPutter stores a blob and returns the URL it can be fetched from.
type objectPutter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// MinioDistributor stores archives in the archive bucket under org/proj/name.
type MinioDistributor struct {
	Store objectPutter
}

func (d MinioDistributor) Distribute(ctx context.Context, _ string, loc Location, archive Archive) (Distribution, error) {
	if d.Store == nil {
		return Distribution{}, errors.New("archive store not configured")
	}
	key := path.Join(orDefault(loc.Org, "_"), orDefault(loc.Proj, "_"), archive.Name)
	size := int64(len(archive.Body))
	contentURL, err := d.Store.Put(ctx, key, bytes.NewReader(archive.Body), size, archive.ContentType)
	if err != nil {
		return Distribution{}, fmt.Errorf("put %s: %w", key, err)
	}
	return newDistribution(archive.Name, contentURL, archive.ContentType, size), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
