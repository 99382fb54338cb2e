// Package filestore persists one collection per JSON file with crash-safe
// temp-file-then-rename writes and a rotating one-generation backup.
package filestore

import (
	"context"
	"encoding/json"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/logger"
)

// Store reads and writes collection files. It is not safe for concurrent
// writers to the same path; callers serialize per kind.
type Store struct {
	rename func(oldpath, newpath string) error
}

// New returns a Store using os.Rename for the final swap.
func New() *Store {
	return &Store{rename: os.Rename}
}

// Read loads the collection at path, falling back to the backup sibling when
// the primary is missing or unparseable. Returns domain.ErrNotFound when
// neither yields a collection.
func (s *Store) Read(ctx context.Context, path string) (domain.Collection, error) {
	c, err := s.ReadFile(path)
	if err == nil {
		return c, nil
	}
	log := logger.FromContext(ctx)
	if !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Str("path", path).Msg("primary file unreadable, trying backup")
	}
	bc, berr := s.ReadFile(BackupPath(path))
	if berr != nil {
		if !errors.Is(berr, domain.ErrNotFound) {
			log.Warn().Err(berr).Str("path", BackupPath(path)).Msg("backup file unreadable")
		}
		return nil, fmt.Errorf("Read: %s: %w", path, domain.ErrNotFound)
	}
	return bc, nil
}

// ReadFile loads exactly one file, without fallback.
func (s *Store) ReadFile(path string) (domain.Collection, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ReadFile: %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ReadFile: %s: %w: %v", path, domain.ErrBackendUnreachable, err)
	}
	return Decode(b)
}

// Decode parses a JSON array of objects. A JSON null decodes to an empty collection.
func Decode(b []byte) (domain.Collection, error) {
	var raw []map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("Decode: %w: %v", domain.ErrParse, err)
	}
	c := make(domain.Collection, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		c = append(c, domain.Record(r))
	}
	return c, nil
}

// Encode renders a collection in the on-disk format.
func Encode(c domain.Collection) ([]byte, error) {
	if c == nil {
		c = domain.Collection{}
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("Encode: %w", err)
	}
	return append(b, '\n'), nil
}

// Write replaces the file at path with c. An existing target is first copied
// to its backup sibling (best effort), then the new content is written to a
// temp sibling and renamed over the target. Parent directories are created
// on demand. A successful write stamps the generation it produced, see
// Owned and Superseded.
func (s *Store) Write(ctx context.Context, path string, c domain.Collection) error {
	log := logger.FromContext(ctx)
	data, err := Encode(c)
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("Write: creating %s: %w", dir, err)
	}

	var rotated []byte
	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(BackupPath(path), prev, 0o644); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("pre-write backup failed, continuing")
		} else {
			rotated = prev
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("Write: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("Write: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("Write: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("Write: closing temp file: %w", err)
	}
	if err := s.swap(ctx, tmpName, path); err != nil {
		return err
	}

	g := generation{Primary: digest(data)}
	if rotated != nil {
		g.Backup = digest(rotated)
	}
	if err := writeGeneration(path, g); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("generation stamp not written")
	}
	return nil
}

// swap renames tmp over path. Where an atomic replace is refused, the target
// is removed first and the rename retried, leaving a short window without a
// primary file; the backup sibling covers it.
func (s *Store) swap(ctx context.Context, tmp, path string) error {
	err := s.rename(tmp, path)
	if err == nil {
		return nil
	}
	log := logger.FromContext(ctx)
	log.Warn().Err(err).Str("path", path).Msg("atomic rename failed, replacing non-atomically")
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return fmt.Errorf("Write: removing target after failed rename: %w", rmErr)
	}
	if err := s.rename(tmp, path); err != nil {
		return fmt.Errorf("Write: renaming into place: %w", err)
	}
	return nil
}

// generation records the digests of the files a Write left behind.
type generation struct {
	Primary string `json:"primary"`
	Backup  string `json:"backup,omitempty"`
}

// Owned reports whether path still holds exactly what this store last wrote
// there.
func (s *Store) Owned(path string) bool {
	g, ok := readGeneration(path)
	return ok && fileDigest(path) == g.Primary
}

// Superseded reports whether the backup sibling of path is the generation
// rotated out by the last Write and neither file changed since. Such a
// backup is older than the primary by construction.
func (s *Store) Superseded(path string) bool {
	g, ok := readGeneration(path)
	if !ok || g.Backup == "" {
		return false
	}
	return fileDigest(path) == g.Primary && fileDigest(BackupPath(path)) == g.Backup
}

func readGeneration(path string) (generation, bool) {
	var g generation
	b, err := os.ReadFile(GenerationPath(path))
	if err != nil {
		return g, false
	}
	if err := json.Unmarshal(b, &g); err != nil || g.Primary == "" {
		return g, false
	}
	return g, true
}

func writeGeneration(path string, g generation) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return os.WriteFile(GenerationPath(path), b, 0o644)
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// fileDigest returns "" for unreadable files, which never matches a stamp.
func fileDigest(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return digest(b)
}
