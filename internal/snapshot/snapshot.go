// Package snapshot creates point-in-time copies of every primary collection
// under backups/{YYYYMMDD_HHMMSS}/{kind}.json, in the primary file format so
// the recovery scan can read them back.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsync/internal/archive"
	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/filestore"
	"github.com/dvloznov/finsync/internal/logger"
	"github.com/dvloznov/finsync/internal/metrics"
)

// TimestampFormat names snapshot directories.
const TimestampFormat = "20060102_150405"

// Entry is one kind's file inside a snapshot.
type Entry struct {
	Kind       domain.Kind `json:"kind"`
	Path       string      `json:"path"`
	Records    int         `json:"records"`
	ArchiveURI string      `json:"archive_uri,omitempty"`
}

// Manifest describes a snapshot.
type Manifest struct {
	Timestamp string  `json:"timestamp"`
	Dir       string  `json:"dir"`
	Entries   []Entry `json:"entries"`
}

// Service creates and lists snapshots. Archive is optional.
type Service struct {
	files   *filestore.Store
	layout  filestore.Layout
	dir     string
	archive archive.Store
	prefix  string
	now     func() time.Time
	log     zerolog.Logger
}

// Options configures a Service.
type Options struct {
	Files  *filestore.Store
	Layout filestore.Layout
	// Dir is the backups tree root.
	Dir     string
	Archive archive.Store
	// Prefix is the object key prefix used when mirroring; defaults to "backups".
	Prefix string
	Now    func() time.Time
	Logger zerolog.Logger
}

func New(opts Options) *Service {
	s := &Service{
		files:   opts.Files,
		layout:  opts.Layout,
		dir:     opts.Dir,
		archive: opts.Archive,
		prefix:  strings.Trim(opts.Prefix, "/"),
		now:     opts.Now,
		log:     opts.Logger,
	}
	if s.files == nil {
		s.files = filestore.New()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.prefix == "" {
		s.prefix = "backups"
	}
	return s
}

// Create copies every kind that has a primary (or backup) file into a new
// snapshot directory. Kinds without data are left out; archive failures
// are logged and do not fail the snapshot.
func (s *Service) Create(ctx context.Context) (Manifest, error) {
	ts := s.now().Format(TimestampFormat)
	m := Manifest{Timestamp: ts, Dir: filepath.Join(s.dir, ts), Entries: []Entry{}}
	log := s.log.With().Str("snapshot", ts).Logger()
	ctx = logger.WithContext(ctx, log)

	for _, kind := range domain.Kinds {
		c, err := s.files.Read(ctx, s.layout.PrimaryPath(kind))
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("kind left out of snapshot")
			continue
		}

		path := filepath.Join(m.Dir, string(kind)+".json")
		if err := s.files.Write(ctx, path, c); err != nil {
			return m, fmt.Errorf("Create: writing %s: %w", path, err)
		}
		entry := Entry{Kind: kind, Path: path, Records: len(c)}
		entry.ArchiveURI = s.mirror(ctx, log, ts, kind, c)
		m.Entries = append(m.Entries, entry)
	}

	log.Info().Int("kinds", len(m.Entries)).Str("dir", m.Dir).Msg("snapshot created")
	return m, nil
}

func (s *Service) mirror(ctx context.Context, log zerolog.Logger, ts string, kind domain.Kind, c domain.Collection) string {
	if s.archive == nil {
		return ""
	}
	key := s.prefix + "/" + ts + "/" + string(kind) + ".json"
	data, err := filestore.Encode(c)
	if err == nil {
		err = s.archive.Put(ctx, key, data)
	}
	metrics.ArchiveMirror(string(s.archive.Driver()), err)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Str("key", key).Msg("snapshot mirror failed")
		return ""
	}
	return s.archive.URI(key)
}

// Info summarizes an existing snapshot directory.
type Info struct {
	Timestamp string        `json:"timestamp"`
	Dir       string        `json:"dir"`
	Kinds     []domain.Kind `json:"kinds"`
}

// List returns the snapshots under the backups tree, newest first. A
// missing tree yields no snapshots.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("List: reading %s: %w", s.dir, err)
	}

	out := []Info{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(TimestampFormat, e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(s.dir, e.Name())
		out = append(out, Info{Timestamp: e.Name(), Dir: dir, Kinds: kindsIn(dir)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

func kindsIn(dir string) []domain.Kind {
	kinds := []domain.Kind{}
	for _, k := range domain.Kinds {
		if _, err := os.Stat(filepath.Join(dir, string(k)+".json")); err == nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
