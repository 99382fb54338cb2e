package syncer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/filestore"
	"github.com/dvloznov/finsync/internal/metrics"
)

// Recover runs the recovery scan for kind on demand. A hit is normalized and
// re-seeded into the primary file and the session cache; the remote store is
// left alone.
func (s *Synchronizer) Recover(ctx context.Context, kind domain.Kind) (domain.Collection, bool) {
	if s.checkKind(kind) != nil {
		return nil, false
	}
	ctx, sc := s.scope(ctx, kind)
	unlock := s.locks.Lock(sc.key)
	defer unlock()

	found, ok := s.scan(sc)
	if !ok {
		return nil, false
	}
	c, _ := dedupe(s.norm.NormalizeAll(kind, found))
	local := sc
	local.authed = false
	s.propagate(ctx, local, c, nil, true)

	s.setState(sc, domain.CollectionState{Phase: domain.PhaseReconciled, Source: domain.SourceRecovery, Count: len(c)})
	metrics.LoadSource(kind, domain.SourceRecovery)
	metrics.CollectionSize(kind, len(c))
	return c, true
}

// scan looks for the first non-empty, parseable collection of kind in files
// whose names contain the kind: first in the scope's data directory, then,
// for the default scope only, in the backups tree newest first. The
// canonical primary and backup files are not candidates; poll reads them.
func (s *Synchronizer) scan(sc scope) (domain.Collection, bool) {
	candidates := dataDirCandidates(sc.layout.Dir, sc.kind)
	if sc.owner == "" {
		candidates = append(candidates, backupCandidates(s.backupsDir, sc.kind)...)
	}
	for _, path := range candidates {
		c, err := s.files.ReadFile(path)
		if err != nil {
			sc.log.Debug().Err(err).Str("path", path).Msg("recovery candidate skipped")
			continue
		}
		if len(c) == 0 {
			continue
		}
		sc.log.Warn().Str("path", path).Int("records", len(c)).Msg("collection recovered from non-canonical file")
		return c, true
	}
	return nil, false
}

func matchesKind(name string, kind domain.Kind) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".json") && strings.Contains(lower, strings.ToLower(string(kind)))
}

// dataDirCandidates lists matching non-canonical files directly under dir in
// name order.
func dataDirCandidates(dir string, kind domain.Kind) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	canonical := filestore.Layout{Dir: dir}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !matchesKind(e.Name(), kind) {
			continue
		}
		if e.Name() == filepath.Base(canonical.PrimaryPath(kind)) || e.Name() == filepath.Base(canonical.BackupPathFor(kind)) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}

// backupCandidates walks root and returns matching files, newest first.
// Snapshot directories are timestamp-named, so reverse lexical order of
// the path is newest first.
func backupCandidates(root string, kind domain.Kind) []string {
	if root == "" {
		return nil
	}
	var out []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && matchesKind(d.Name(), kind) {
			out = append(out, path)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}
