package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/metrics"
)

// Select returns the copy with the strictly greatest record count. Equal
// counts are settled by domain.Source.Outranks, so the result does not
// depend on the order of copies. ok is false when copies is empty.
func Select(copies []domain.Copy) (best domain.Copy, ok bool) {
	for i, c := range copies {
		if i == 0 || c.Count > best.Count || (c.Count == best.Count && c.Source.Outranks(best.Source)) {
			best = c
			ok = true
		}
	}
	return best, ok
}

// poll reads kind from every reachable backend of sc. Failing backends are
// logged and left out. A backup file that this store rotated out on its last
// write is older than the primary and is not polled.
func (s *Synchronizer) poll(ctx context.Context, sc scope) []domain.Copy {
	kind, log := sc.kind, sc.log
	var copies []domain.Copy

	if c, ok := s.cache.Get(ctx, kind); ok {
		copies = append(copies, domain.NewCopy(kind, domain.SourceCache, c))
	}

	primary := sc.layout.PrimaryPath(kind)
	files := []struct {
		src  domain.Source
		path string
	}{
		{domain.SourcePrimaryFile, primary},
		{domain.SourceBackupFile, sc.layout.BackupPathFor(kind)},
	}
	for _, f := range files {
		if f.src == domain.SourceBackupFile && s.files.Superseded(primary) {
			log.Debug().Str("path", f.path).Msg("backup is the previous generation, not polled")
			continue
		}
		c, err := s.files.ReadFile(f.path)
		if err != nil {
			s.skip(log, f.src, "load", err)
			continue
		}
		copies = append(copies, domain.NewCopy(kind, f.src, c))
	}

	if s.remote != nil && sc.authed {
		c, err := s.remote.Load(ctx, kind, sc.principal)
		if err != nil {
			s.skip(log, domain.SourceRemote, "load", err)
		} else {
			copies = append(copies, domain.NewCopy(kind, domain.SourceRemote, c))
		}
	}
	return copies
}

// skip records a swallowed backend failure. A missing file is expected on
// first use and only logged at debug.
func (s *Synchronizer) skip(log zerolog.Logger, backend domain.Source, op string, err error) {
	metrics.BackendFailure(backend, op, err)
	ev := log.Warn()
	if errors.Is(err, domain.ErrNotFound) {
		ev = log.Debug()
	}
	ev.Str("backend", string(backend)).Str("op", op).Err(err).Msg("backend skipped")
}

// propagation reports whether the remote holds exactly the authoritative
// records after a load. Only a synced remote may take incremental writes.
type propagation struct {
	remoteSynced bool
}

// propagate writes the authoritative collection to the cache and to every
// writable backend whose polled count differs from it. force also rewrites
// backends whose count already matches, used when normalization assigned
// new ids that must be persisted.
func (s *Synchronizer) propagate(ctx context.Context, sc scope, c domain.Collection, copies []domain.Copy, force bool) propagation {
	kind, log := sc.kind, sc.log
	s.cache.Set(ctx, kind, c)

	polled := make(map[domain.Source]domain.Copy, len(copies))
	for _, cp := range copies {
		polled[cp.Source] = cp
	}
	behind := func(src domain.Source) bool {
		cp, ok := polled[src]
		return force || !ok || cp.Count != len(c)
	}

	var p propagation
	if behind(domain.SourcePrimaryFile) {
		err := s.files.Write(ctx, sc.layout.PrimaryPath(kind), c)
		metrics.Propagation(domain.SourcePrimaryFile, err)
		if err != nil {
			s.skip(log, domain.SourcePrimaryFile, "propagate", err)
		} else {
			log.Info().Str("backend", string(domain.SourcePrimaryFile)).Int("records", len(c)).Msg("backend caught up")
		}
	}

	if s.remote == nil || !sc.authed {
		return p
	}
	if behind(domain.SourceRemote) {
		err := s.remote.ReplaceAll(ctx, kind, sc.principal, c)
		metrics.Propagation(domain.SourceRemote, err)
		if err != nil {
			s.skip(log, domain.SourceRemote, "propagate", err)
		} else {
			p.remoteSynced = true
			log.Info().Str("backend", string(domain.SourceRemote)).Int("records", len(c)).Msg("backend caught up")
		}
	} else {
		p.remoteSynced = s.sameRecords(kind, polled[domain.SourceRemote].Collection, c)
		if !p.remoteSynced {
			log.Debug().Msg("remote holds different records with the same count")
		}
	}
	return p
}

// sameRecords reports whether stored, once normalized, renders exactly as
// want. Records without an id get a fresh one and never compare equal.
func (s *Synchronizer) sameRecords(kind domain.Kind, stored, want domain.Collection) bool {
	if len(stored) != len(want) {
		return false
	}
	a, err := json.Marshal(s.norm.NormalizeAll(kind, stored))
	if err != nil {
		return false
	}
	b, err := json.Marshal(want)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// unstableIDs reports whether normalizing c would assign or rewrite an id.
func unstableIDs(c domain.Collection) bool {
	for _, r := range c {
		id, ok := r[domain.IDField].(string)
		if !ok || strings.TrimSpace(id) == "" {
			return true
		}
	}
	return false
}
