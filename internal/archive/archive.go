// Package archive mirrors snapshot files to object storage.
package archive

import (
	"context"
	"fmt"
	"strings"
)

// Driver names an object storage backend.
type Driver string

const (
	DriverGCS Driver = "gcs"
	DriverS3  Driver = "s3"
)

// Store is the object storage surface snapshots need.
type Store interface {
	Driver() Driver
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the object bytes; domain.ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// URI returns the canonical location of key, e.g. gs://bucket/key.
	URI(key string) string
}

// Config selects and configures a Store.
type Config struct {
	Driver   Driver
	Bucket   string
	Region   string
	Endpoint string
	// PathStyle forces path-style S3 addressing (MinIO and similar).
	PathStyle bool
}

// Open builds the Store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(string(cfg.Driver))) {
	case DriverGCS:
		return NewGCS(ctx, cfg.Bucket)
	case DriverS3:
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", cfg.Driver)
	}
}

// ParseURI splits scheme://bucket/object into its parts.
func ParseURI(uri string) (scheme, bucket, object string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || (scheme != "gs" && scheme != "s3") {
		return "", "", "", fmt.Errorf("invalid object URI: %s", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", "", fmt.Errorf("invalid object URI (no object path): %s", uri)
	}
	return scheme, bucket, object, nil
}
