package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finsync/internal/domain"
)

// GCS stores objects in a Google Cloud Storage bucket. It assumes
// Application Default Credentials are configured.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a storage client bound to bucket.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCS: bucket required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCS: create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Driver() Driver { return DriverGCS }

func (g *GCS) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GCS) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("open GCS object %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list GCS objects: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (g *GCS) URI(key string) string {
	return "gs://" + g.bucket + "/" + key
}
