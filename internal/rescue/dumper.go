// Package rescue writes last-resort copies of a collection when no durable
// backend accepts a save.
package rescue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/filestore"
	"github.com/dvloznov/finsync/internal/logger"
)

// TimestampFormat is the suffix layout of rescue file names.
const TimestampFormat = "20060102_150405"

// Dumper tries each candidate directory in order and stops at the first one
// that accepts the write.
type Dumper struct {
	dirs []string
	now  func() time.Time
}

// DefaultDirs returns the candidate directories: a rescue folder under the
// user's home, one under the working directory, then a bare relative one.
// Candidates that cannot be resolved are skipped.
func DefaultDirs() []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".finsync", "rescue"))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, filepath.Join(cwd, "data_rescue"))
	}
	return append(dirs, "rescue")
}

// New returns a Dumper over dirs; an empty list means DefaultDirs.
func New(dirs []string) *Dumper {
	if len(dirs) == 0 {
		dirs = DefaultDirs()
	}
	return &Dumper{dirs: dirs, now: time.Now}
}

// WithClock overrides the clock used for file name timestamps.
func (d *Dumper) WithClock(now func() time.Time) *Dumper {
	d.now = now
	return d
}

// Dirs returns the candidate directories in try order.
func (d *Dumper) Dirs() []string {
	out := make([]string, len(d.dirs))
	copy(out, d.dirs)
	return out
}

// FileName returns `{kind}_rescue_{YYYYMMDD_HHMMSS}.json` for t.
func FileName(kind domain.Kind, t time.Time) string {
	return fmt.Sprintf("%s_rescue_%s.json", kind, t.Format(TimestampFormat))
}

// Dump writes c to the first accepting directory and returns the file path.
func (d *Dumper) Dump(ctx context.Context, kind domain.Kind, c domain.Collection) (string, error) {
	log := logger.FromContext(ctx).With().Str("kind", string(kind)).Logger()

	data, err := filestore.Encode(c)
	if err != nil {
		return "", fmt.Errorf("Dump: %w", err)
	}
	name := FileName(kind, d.now())
	if p, ok := domain.PrincipalFrom(ctx); ok {
		// Principals rescued in the same second must not overwrite each other.
		name = strings.TrimSuffix(name, ".json") + "_" + filestore.EscapePrincipal(p) + ".json"
	}

	var errs []error
	for _, dir := range d.dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("rescue directory unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		path := filepath.Join(dir, name)
		if err := writeFile(path, data); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("rescue write failed")
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		log.Warn().Str("path", path).Int("records", len(c)).Msg("collection written to rescue location")
		return path, nil
	}

	log.Error().Bool("data_loss_risk", true).Strs("dirs", d.dirs).Msg("every rescue location rejected the dump")
	return "", fmt.Errorf("Dump: %w: %w", domain.ErrAllLocationsFailed, errors.Join(errs...))
}

// writeFile removes what it created when the write does not complete.
func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}
