// Package config loads the engine configuration from an optional YAML file
// and FINSYNC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	DataDir    string        `yaml:"data_dir"`
	BackupsDir string        `yaml:"backups_dir"`
	RescueDirs []string      `yaml:"rescue_dirs,omitempty"`
	UserID     string        `yaml:"user_id,omitempty"`
	Remote     RemoteConfig  `yaml:"remote"`
	Archive    ArchiveConfig `yaml:"archive"`
	Log        LogConfig     `yaml:"log"`
	HTTP       HTTPConfig    `yaml:"http"`
}

// RemoteConfig selects the remote record store. An empty driver disables it.
type RemoteConfig struct {
	Driver string `yaml:"driver"` // "", postgres, sqlite, bigquery
	DSN    string `yaml:"dsn,omitempty"`
	// BigQuery
	Project string `yaml:"project,omitempty"`
	Dataset string `yaml:"dataset,omitempty"`
}

// ArchiveConfig selects the object store snapshots are mirrored to.
type ArchiveConfig struct {
	Driver    string `yaml:"driver"` // "", gcs, s3
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DataDir:    "data",
		BackupsDir: filepath.Join("data", "backups"),
		Log:        LogConfig{Level: "info", Format: "console"},
		HTTP:       HTTPConfig{Addr: ":8080"},
	}
}

// Load reads path (or $FINSYNC_CONFIG when path is empty) over the defaults,
// applies environment overrides and validates the result. A missing file is
// only an error when it was named explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("FINSYNC_CONFIG")
		explicit = path != ""
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		case err != nil:
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	dataDir := c.DataDir
	set(&c.DataDir, "FINSYNC_DATA_DIR")
	if c.DataDir != dataDir && c.BackupsDir == filepath.Join(dataDir, "backups") {
		c.BackupsDir = filepath.Join(c.DataDir, "backups")
	}
	set(&c.BackupsDir, "FINSYNC_BACKUPS_DIR")
	set(&c.UserID, "FINSYNC_USER_ID")
	set(&c.Remote.Driver, "FINSYNC_REMOTE_DRIVER")
	set(&c.Remote.DSN, "FINSYNC_REMOTE_DSN")
	set(&c.Remote.Project, "FINSYNC_BQ_PROJECT")
	set(&c.Remote.Dataset, "FINSYNC_BQ_DATASET")
	set(&c.Archive.Driver, "FINSYNC_ARCHIVE_DRIVER")
	set(&c.Archive.Bucket, "FINSYNC_ARCHIVE_BUCKET", "GCS_BUCKET")
	set(&c.Log.Level, "FINSYNC_LOG_LEVEL")
	set(&c.HTTP.Addr, "FINSYNC_HTTP_ADDR")
}

// Validate rejects unknown drivers and drivers missing their settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	switch strings.ToLower(c.Remote.Driver) {
	case "":
	case "postgres", "sqlite":
		if c.Remote.DSN == "" {
			errs = append(errs, fmt.Errorf("remote.dsn is required for driver %q", c.Remote.Driver))
		}
	case "bigquery":
		if c.Remote.Project == "" || c.Remote.Dataset == "" {
			errs = append(errs, errors.New("remote.project and remote.dataset are required for driver \"bigquery\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown remote driver %q", c.Remote.Driver))
	}

	switch strings.ToLower(c.Archive.Driver) {
	case "":
	case "gcs", "s3":
		if c.Archive.Bucket == "" {
			errs = append(errs, fmt.Errorf("archive.bucket is required for driver %q", c.Archive.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive driver %q", c.Archive.Driver))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
