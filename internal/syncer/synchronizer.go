// Package syncer reconciles one collection per kind across the session
// cache, the primary and backup files and the remote store.
//
// Every operation runs in the scope of one principal. The default principal
// (or no principal at all) owns the root file layout; any other principal
// gets its own directory, cache entries, locks and lifecycle state.
//
// Load polls every reachable backend, keeps the copy with the most records
// and writes it back to every writable backend that is behind. Save fans the
// collection out to every writable backend and, when no durable backend
// accepts it, dumps it to a rescue location. Backend failures never reach
// the caller; they are logged and counted.
package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/filestore"
	"github.com/dvloznov/finsync/internal/logger"
	"github.com/dvloznov/finsync/internal/metrics"
	"github.com/dvloznov/finsync/internal/normalize"
	"github.com/dvloznov/finsync/internal/remote"
	"github.com/dvloznov/finsync/internal/rescue"
	"github.com/dvloznov/finsync/internal/session"
)

// Options wires a Synchronizer. Zero fields get working defaults except
// Remote, which stays disabled when nil.
type Options struct {
	Normalizer *normalize.Normalizer
	Files      *filestore.Store
	Layout     filestore.Layout
	Cache      session.Cache
	Remote     remote.Adapter
	Rescue     *rescue.Dumper
	// BackupsDir is the snapshot tree walked by the recovery scan.
	BackupsDir string
	// DefaultPrincipal owns the root layout. Defaults to the remote's
	// fallback principal.
	DefaultPrincipal string
	Logger           zerolog.Logger
}

// Synchronizer is safe for concurrent use; operations on the same
// (kind, principal) pair are serialized.
type Synchronizer struct {
	norm       *normalize.Normalizer
	files      *filestore.Store
	layout     filestore.Layout
	cache      session.Cache
	remote     remote.Adapter
	rescue     *rescue.Dumper
	backupsDir string
	defaultP   string
	log        zerolog.Logger

	locks *keyedMutex

	mu     sync.Mutex
	states map[string]domain.CollectionState
}

// New creates a Synchronizer from opts.
func New(opts Options) *Synchronizer {
	s := &Synchronizer{
		norm:       opts.Normalizer,
		files:      opts.Files,
		layout:     opts.Layout,
		cache:      opts.Cache,
		remote:     opts.Remote,
		rescue:     opts.Rescue,
		backupsDir: opts.BackupsDir,
		defaultP:   opts.DefaultPrincipal,
		log:        opts.Logger,
		locks:      newKeyedMutex(),
		states:     make(map[string]domain.CollectionState),
	}
	if s.norm == nil {
		s.norm = normalize.New()
	}
	if s.files == nil {
		s.files = filestore.New()
	}
	if s.cache == nil {
		s.cache = session.NewMemory()
	}
	if s.rescue == nil {
		s.rescue = rescue.New(nil)
	}
	if s.layout.Dir == "" {
		s.layout = filestore.Layout{Dir: "data"}
	}
	if s.defaultP == "" && s.remote != nil {
		s.defaultP, _ = s.remote.Principal(context.Background())
	}
	return s
}

// Normalizer returns the normalizer records pass through.
func (s *Synchronizer) Normalizer() *normalize.Normalizer { return s.norm }

// Layout returns the file layout of the primary and backup files.
func (s *Synchronizer) Layout() filestore.Layout { return s.layout }

// Load returns the most complete copy of kind, normalized. It fails only for
// an unknown kind; when no backend holds data the result is empty.
func (s *Synchronizer) Load(ctx context.Context, kind domain.Kind) (domain.Collection, error) {
	if err := s.checkKind(kind); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	ctx, sc := s.scope(ctx, kind)
	unlock := s.locks.Lock(sc.key)
	defer unlock()

	c, _ := s.load(ctx, sc)
	return c, nil
}

// Save normalizes c, rejects it if any record misses required fields, and
// writes it to every writable backend. The error is non-nil only for
// rejected input; backend failures degrade the returned status instead.
func (s *Synchronizer) Save(ctx context.Context, kind domain.Kind, c domain.Collection) (domain.SaveResult, error) {
	if err := s.checkKind(kind); err != nil {
		return domain.SaveResult{}, fmt.Errorf("Save: %w", err)
	}
	normalized := s.norm.NormalizeAll(kind, c)
	seen := make(map[string]bool, len(normalized))
	for i, rec := range normalized {
		if err := s.norm.Validate(kind, rec, i); err != nil {
			return domain.SaveResult{}, fmt.Errorf("Save: %w", err)
		}
		if seen[rec.ID()] {
			return domain.SaveResult{}, fmt.Errorf("Save: %w", duplicateID(kind, rec, i))
		}
		seen[rec.ID()] = true
	}

	ctx, sc := s.scope(ctx, kind)
	unlock := s.locks.Lock(sc.key)
	defer unlock()
	return s.write(ctx, sc, normalized, nil), nil
}

// Add appends one record to the current collection of kind. A record
// missing required fields is rejected and nothing changes.
func (s *Synchronizer) Add(ctx context.Context, kind domain.Kind, rec domain.Record) (domain.SaveResult, error) {
	if err := s.checkKind(kind); err != nil {
		return domain.SaveResult{}, fmt.Errorf("Add: %w", err)
	}
	ctx, sc := s.scope(ctx, kind)
	unlock := s.locks.Lock(sc.key)
	defer unlock()

	current, p := s.load(ctx, sc)
	nr := s.norm.Normalize(kind, rec)
	if err := s.norm.Validate(kind, nr, len(current)); err != nil {
		return domain.SaveResult{}, fmt.Errorf("Add: %w", err)
	}
	if current.IndexOf(nr.ID()) >= 0 {
		return domain.SaveResult{}, fmt.Errorf("Add: %w", duplicateID(kind, nr, len(current)))
	}

	next := append(current.Clone(), nr)
	var incremental remoteOp
	if p.remoteSynced {
		incremental = func(ctx context.Context, principal string) error {
			return s.remote.Insert(ctx, kind, principal, nr)
		}
	}
	return s.write(ctx, sc, next, incremental), nil
}

// Delete removes the record with id from kind. domain.ErrRecordNotFound
// when the current collection has no such record.
func (s *Synchronizer) Delete(ctx context.Context, kind domain.Kind, id string) (domain.SaveResult, error) {
	if err := s.checkKind(kind); err != nil {
		return domain.SaveResult{}, fmt.Errorf("Delete: %w", err)
	}
	ctx, sc := s.scope(ctx, kind)
	unlock := s.locks.Lock(sc.key)
	defer unlock()

	current, p := s.load(ctx, sc)
	idx := current.IndexOf(id)
	if idx < 0 {
		return domain.SaveResult{}, fmt.Errorf("Delete: %s %s: %w", kind, id, domain.ErrRecordNotFound)
	}

	next := make(domain.Collection, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)

	var incremental remoteOp
	if p.remoteSynced {
		incremental = func(ctx context.Context, principal string) error {
			return s.remote.Delete(ctx, kind, principal, id)
		}
	}
	return s.write(ctx, sc, next, incremental), nil
}

// State returns the lifecycle position of kind's collection for the
// principal carried by ctx.
func (s *Synchronizer) State(ctx context.Context, kind domain.Kind) domain.CollectionState {
	_, sc := s.scope(ctx, kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sc.key]
	if !ok {
		return domain.CollectionState{Phase: domain.PhaseUnloaded}
	}
	return st
}

func (s *Synchronizer) setState(sc scope, st domain.CollectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[sc.key] = st
}

func duplicateID(kind domain.Kind, rec domain.Record, index int) error {
	return &domain.ValidationError{Kind: kind, Index: index, RecordID: rec.ID(), Duplicate: true}
}

func (s *Synchronizer) checkKind(kind domain.Kind) error {
	if _, ok := s.norm.Schema(kind); !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
	return nil
}

// scope is the partition one operation runs in.
type scope struct {
	kind domain.Kind
	// owner is the principal owning files, cache and state; "" is the
	// default scope.
	owner  string
	layout filestore.Layout
	// principal and authed describe the remote side.
	principal string
	authed    bool
	key       string
	log       zerolog.Logger
}

// scope resolves the principal of ctx. The returned context carries the
// owner, so the cache keys the default principal and anonymous use alike.
func (s *Synchronizer) scope(ctx context.Context, kind domain.Kind) (context.Context, scope) {
	sc := scope{kind: kind}
	if s.remote != nil {
		sc.principal, sc.authed = s.remote.Principal(ctx)
	}
	sc.owner, _ = domain.PrincipalFrom(ctx)
	if sc.owner == s.defaultP {
		sc.owner = ""
	}
	sc.layout = s.layout.ForPrincipal(sc.owner)
	sc.key = string(kind) + "\x00" + sc.owner

	l := s.log.With().Str("kind", string(kind))
	if sc.owner != "" {
		l = l.Str("principal", sc.owner)
	}
	sc.log = l.Logger()
	ctx = domain.WithPrincipal(ctx, sc.owner)
	return logger.WithContext(ctx, sc.log), sc
}

// load runs the poll, select, recover and propagate steps. Callers hold the lock.
func (s *Synchronizer) load(ctx context.Context, sc scope) (domain.Collection, propagation) {
	kind, log := sc.kind, sc.log

	copies := s.poll(ctx, sc)
	best, ok := Select(copies)
	if !ok || best.Count == 0 {
		var recovered domain.Collection
		found := false
		if s.files.Owned(sc.layout.PrimaryPath(kind)) {
			log.Debug().Msg("primary file emptied by a save, recovery skipped")
		} else {
			recovered, found = s.scan(sc)
		}
		if !found {
			empty := domain.Collection{}
			s.cache.Set(ctx, kind, empty)
			s.setState(sc, domain.CollectionState{Phase: domain.PhaseReconciled, Source: domain.SourceNone})
			metrics.LoadSource(kind, domain.SourceNone)
			metrics.CollectionSize(kind, 0)
			log.Debug().Msg("no backend holds data")
			return empty, propagation{remoteSynced: s.remote != nil && sc.authed && hasEmptyRemote(copies)}
		}
		best = domain.NewCopy(kind, domain.SourceRecovery, recovered)
	}

	s.setState(sc, domain.CollectionState{Phase: domain.PhaseLoaded, Source: best.Source, Count: best.Count})
	metrics.LoadSource(kind, best.Source)
	log.Debug().Str("source", string(best.Source)).Int("records", best.Count).Int("polled", len(copies)).Msg("authoritative copy selected")

	force := unstableIDs(best.Collection)
	c, dropped := dedupe(s.norm.NormalizeAll(kind, best.Collection))
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Str("source", string(best.Source)).Msg("duplicate record ids dropped")
		force = true
	}
	p := s.propagate(ctx, sc, c, copies, force)

	s.setState(sc, domain.CollectionState{Phase: domain.PhaseReconciled, Source: best.Source, Count: len(c)})
	metrics.CollectionSize(kind, len(c))
	return c, p
}

// dedupe keeps the first record of every id.
func dedupe(c domain.Collection) (domain.Collection, int) {
	seen := make(map[string]bool, len(c))
	out := make(domain.Collection, 0, len(c))
	for _, r := range c {
		if seen[r.ID()] {
			continue
		}
		seen[r.ID()] = true
		out = append(out, r)
	}
	return out, len(c) - len(out)
}

func hasEmptyRemote(copies []domain.Copy) bool {
	for _, c := range copies {
		if c.Source == domain.SourceRemote {
			return c.Count == 0
		}
	}
	return false
}

// remoteOp is an incremental remote write used instead of a full replace
// when the remote copy is known to match the loaded collection.
type remoteOp func(ctx context.Context, principal string) error

// write fans c out to the cache, the primary file and the remote store and
// falls back to a rescue dump. Callers hold the lock and pass normalized records.
func (s *Synchronizer) write(ctx context.Context, sc scope, c domain.Collection, incremental remoteOp) domain.SaveResult {
	kind, log := sc.kind, sc.log

	res := domain.SaveResult{Records: c}
	s.cache.Set(ctx, kind, c)

	if err := s.files.Write(ctx, sc.layout.PrimaryPath(kind), c); err != nil {
		s.skip(log, domain.SourcePrimaryFile, "save", err)
	} else {
		res.FileOK = true
	}

	if s.remote != nil && sc.authed {
		var err error
		if incremental != nil {
			err = incremental(ctx, sc.principal)
			if err != nil {
				s.skip(log, domain.SourceRemote, "save_incremental", err)
			}
		}
		if incremental == nil || err != nil {
			err = s.remote.ReplaceAll(ctx, kind, sc.principal, c)
		}
		if err != nil {
			s.skip(log, domain.SourceRemote, "save", err)
		} else {
			res.RemoteOK = true
		}
	}

	switch {
	case res.FileOK || res.RemoteOK:
		res.Status = domain.SaveDurable
	default:
		log.Error().Err(domain.ErrAllBackendsUnwritable).Int("records", len(c)).Msg("no durable backend accepted the save")
		path, err := s.rescue.Dump(ctx, kind, c)
		metrics.RescueDump(err)
		if err != nil {
			res.Status = domain.SaveSessionOnly
		} else {
			res.Status = domain.SaveRescuedOnly
			res.RescuePath = path
		}
	}

	s.setState(sc, domain.CollectionState{Phase: domain.PhaseSaved, Source: domain.SourceCache, Status: res.Status, Count: len(c)})
	metrics.SaveStatus(kind, res.Status)
	metrics.CollectionSize(kind, len(c))
	log.Info().
		Str("status", string(res.Status)).
		Bool("file_ok", res.FileOK).
		Bool("remote_ok", res.RemoteOK).
		Int("records", len(c)).
		Msg("collection saved")
	return res
}
