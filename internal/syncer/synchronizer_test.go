package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/filestore"
	"github.com/dvloznov/finsync/internal/remote"
	"github.com/dvloznov/finsync/internal/rescue"
	"github.com/dvloznov/finsync/internal/session"
)

// fakeRemote is an in-memory remote.Adapter with injectable failures.
type fakeRemote struct {
	mu         sync.Mutex
	principal  string
	data       map[string]domain.Collection
	loadErr    error
	replaceErr error
	insertErr  error

	replaceCalls int
	insertCalls  int
	deleteCalls  int
}

func newFakeRemote(principal string) *fakeRemote {
	return &fakeRemote{principal: principal, data: map[string]domain.Collection{}}
}

func remoteKey(kind domain.Kind, principal string) string { return principal + "/" + string(kind) }

func (f *fakeRemote) Principal(ctx context.Context) (string, bool) {
	return remote.ResolvePrincipal(ctx, f.principal)
}

func (f *fakeRemote) Load(_ context.Context, kind domain.Kind, principal string) (domain.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.data[remoteKey(kind, principal)].Clone(), nil
}

func (f *fakeRemote) ReplaceAll(_ context.Context, kind domain.Kind, principal string, c domain.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.data[remoteKey(kind, principal)] = c.Clone()
	return nil
}

func (f *fakeRemote) Insert(_ context.Context, kind domain.Kind, principal string, rec domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertErr != nil {
		return f.insertErr
	}
	k := remoteKey(kind, principal)
	f.data[k] = append(f.data[k], rec.Clone())
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, kind domain.Kind, principal, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	k := remoteKey(kind, principal)
	idx := f.data[k].IndexOf(id)
	if idx < 0 {
		return domain.ErrRecordNotFound
	}
	f.data[k] = append(f.data[k][:idx:idx], f.data[k][idx+1:]...)
	return nil
}

func (f *fakeRemote) stored(kind domain.Kind, principal string) domain.Collection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[remoteKey(kind, principal)].Clone()
}

type fixture struct {
	sync    *Synchronizer
	cache   *session.Memory
	layout  filestore.Layout
	backups string
	rescue  string
}

func newFixture(t *testing.T, rem remote.Adapter) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		cache:   session.NewMemory(),
		layout:  filestore.Layout{Dir: filepath.Join(root, "data")},
		backups: filepath.Join(root, "data", "backups"),
		rescue:  filepath.Join(root, "rescue"),
	}
	f.sync = newSync(f, rem)
	return f
}

func newSync(f *fixture, rem remote.Adapter) *Synchronizer {
	clock := func() time.Time { return time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC) }
	return New(Options{
		Layout:     f.layout,
		Cache:      f.cache,
		Remote:     rem,
		Rescue:     rescue.New([]string{f.rescue}).WithClock(clock),
		BackupsDir: f.backups,
		Logger:     zerolog.Nop(),
	})
}

// blockedDir returns a directory path that can never be created, even as root.
func blockedDir(t *testing.T) string {
	t.Helper()
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	return filepath.Join(blocker, "sub")
}

func expenses(n int, prefix string) domain.Collection {
	c := make(domain.Collection, n)
	for i := range c {
		c[i] = domain.Record{
			"id":          fmt.Sprintf("%s-%d", prefix, i),
			"description": fmt.Sprintf("expense %d", i),
			"amount":      float64(10 + i),
		}
	}
	return c
}

func writeJSON(t *testing.T, path string, c domain.Collection) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	b, err := filestore.Encode(c)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

func readJSON(t *testing.T, path string) domain.Collection {
	t.Helper()
	c, err := filestore.New().ReadFile(path)
	require.NoError(t, err)
	return c
}

func TestSelect(t *testing.T) {
	c := func(src domain.Source, n int) domain.Copy {
		return domain.Copy{Source: src, Count: n}
	}
	tests := []struct {
		name   string
		copies []domain.Copy
		want   domain.Source
	}{
		{"largest wins", []domain.Copy{c(domain.SourceCache, 1), c(domain.SourcePrimaryFile, 3), c(domain.SourceRemote, 2)}, domain.SourcePrimaryFile},
		{"remote largest", []domain.Copy{c(domain.SourceCache, 1), c(domain.SourceRemote, 5)}, domain.SourceRemote},
		{"cache wins tie", []domain.Copy{c(domain.SourceRemote, 4), c(domain.SourcePrimaryFile, 4), c(domain.SourceCache, 4)}, domain.SourceCache},
		{"file beats remote on tie", []domain.Copy{c(domain.SourceRemote, 2), c(domain.SourcePrimaryFile, 2)}, domain.SourcePrimaryFile},
		{"primary beats backup on tie", []domain.Copy{c(domain.SourceBackupFile, 2), c(domain.SourcePrimaryFile, 2)}, domain.SourcePrimaryFile},
		{"backup beats remote on tie", []domain.Copy{c(domain.SourceRemote, 2), c(domain.SourceBackupFile, 2)}, domain.SourceBackupFile},
		{"all empty", []domain.Copy{c(domain.SourceRemote, 0), c(domain.SourceCache, 0)}, domain.SourceCache},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.copies)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Source)

			reversed := make([]domain.Copy, len(tt.copies))
			for i := range tt.copies {
				reversed[len(tt.copies)-1-i] = tt.copies[i]
			}
			got, _ = Select(reversed)
			assert.Equal(t, tt.want, got.Source, "selection must not depend on poll order")
		})
	}

	_, ok := Select(nil)
	assert.False(t, ok)
}

func TestLoad_BackupWithMoreRecordsWins(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.loadErr = fmt.Errorf("dial: %w", domain.ErrBackendUnreachable)
	rem.replaceErr = domain.ErrBackendUnreachable
	f := newFixture(t, rem)

	writeJSON(t, f.layout.PrimaryPath(domain.KindExpense), expenses(10, "p"))
	writeJSON(t, f.layout.BackupPathFor(domain.KindExpense), expenses(12, "b"))

	got, err := f.sync.Load(context.Background(), domain.KindExpense)
	require.NoError(t, err)
	assert.Len(t, got, 12)
	assert.Equal(t, "b-0", got[0].ID())

	cached, ok := f.cache.Get(context.Background(), domain.KindExpense)
	require.True(t, ok)
	assert.Len(t, cached, 12)
	assert.Len(t, readJSON(t, f.layout.PrimaryPath(domain.KindExpense)), 12)

	st := f.sync.State(context.Background(), domain.KindExpense)
	assert.Equal(t, domain.PhaseReconciled, st.Phase)
	assert.Equal(t, domain.SourceBackupFile, st.Source)
}

func TestLoad_NothingAnywhereIsEmpty(t *testing.T) {
	f := newFixture(t, nil)

	got, err := f.sync.Load(context.Background(), domain.KindGoal)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, err = os.Stat(f.layout.PrimaryPath(domain.KindGoal))
	assert.True(t, os.IsNotExist(err), "an empty load must not create files")
	assert.Equal(t, domain.SourceNone, f.sync.State(context.Background(), domain.KindGoal).Source)
}

func TestLoad_CacheWinsTie(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.cache.Set(ctx, domain.KindExpense, expenses(2, "cache"))
	writeJSON(t, f.layout.PrimaryPath(domain.KindExpense), expenses(2, "file"))

	got, err := f.sync.Load(ctx, domain.KindExpense)
	require.NoError(t, err)
	assert.Equal(t, []string{"cache-0", "cache-1"}, got.IDs())

	// Counts already match, so the file is not rewritten.
	assert.Equal(t, []string{"file-0", "file-1"}, readJSON(t, f.layout.PrimaryPath(domain.KindExpense)).IDs())
}

func TestLoad_PropagatesToEveryLaggingBackend(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.data[remoteKey(domain.KindExpense, "user-1")] = expenses(5, "r")
	f := newFixture(t, rem)
	ctx := context.Background()

	f.cache.Set(ctx, domain.KindExpense, expenses(1, "c"))
	writeJSON(t, f.layout.PrimaryPath(domain.KindExpense), expenses(3, "p"))

	got, err := f.sync.Load(ctx, domain.KindExpense)
	require.NoError(t, err)
	require.Len(t, got, 5)

	cached, _ := f.cache.Get(ctx, domain.KindExpense)
	assert.Len(t, cached, 5)
	assert.Len(t, readJSON(t, f.layout.PrimaryPath(domain.KindExpense)), 5)
	assert.Len(t, rem.stored(domain.KindExpense, "user-1"), 5)
	assert.Equal(t, 0, rem.replaceCalls, "remote was already authoritative")
}

func TestLoad_CatchesUpRemote(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.data[remoteKey(domain.KindExpense, "user-1")] = expenses(1, "r")
	f := newFixture(t, rem)

	writeJSON(t, f.layout.PrimaryPath(domain.KindExpense), expenses(4, "p"))

	got, err := f.sync.Load(context.Background(), domain.KindExpense)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 1, rem.replaceCalls)
	assert.Equal(t, got.IDs(), rem.stored(domain.KindExpense, "user-1").IDs())
}

func TestLoad_UnauthenticatedSkipsRemote(t *testing.T) {
	rem := newFakeRemote("")
	f := newFixture(t, rem)
	writeJSON(t, f.layout.PrimaryPath(domain.KindExpense), expenses(2, "p"))

	got, err := f.sync.Load(context.Background(), domain.KindExpense)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 0, rem.replaceCalls)

	alice := domain.WithPrincipal(context.Background(), "alice")
	writeJSON(t, f.layout.ForPrincipal("alice").PrimaryPath(domain.KindExpense), expenses(3, "a"))
	got, err = f.sync.Load(alice, domain.KindExpense)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-0", "a-1", "a-2"}, got.IDs())
	assert.Equal(t, got.IDs(), rem.stored(domain.KindExpense, "alice").IDs())
}

func TestLoad_SkipsUnparseableFile(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.data[remoteKey(domain.KindExpense, "user-1")] = expenses(2, "r")
	f := newFixture(t, rem)

	path := f.layout.PrimaryPath(domain.KindExpense)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	got, err := f.sync.Load(context.Background(), domain.KindExpense)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-0", "r-1"}, got.IDs())
	assert.Equal(t, []string{"r-0", "r-1"}, readJSON(t, path).IDs())
}

func TestLoad_PersistsAssignedIDs(t *testing.T) {
	f := newFixture(t, nil)
	writeJSON(t, f.layout.PrimaryPath(domain.KindExpense), domain.Collection{
		{"description": "rent", "amount": 900.0},
		{"description": "food", "amount": 300.0},
	})

	first, err := f.sync.Load(context.Background(), domain.KindExpense)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.NotEmpty(t, first[0].ID())

	f.cache.Invalidate(context.Background(), domain.KindExpense)
	second, err := f.sync.Load(context.Background(), domain.KindExpense)
	require.NoError(t, err)
	assert.Equal(t, first.IDs(), second.IDs())
}

func TestLoad_NormalizesAliases(t *testing.T) {
	f := newFixture(t, nil)
	writeJSON(t, f.layout.PrimaryPath(domain.KindDebt), domain.Collection{
		{"id": "d1", "description": "car", "remaining_amount": 5000.0, "type": "loan"},
	})

	got, err := f.sync.Load(context.Background(), domain.KindDebt)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5000.0, got[0]["current_amount"])
	assert.Equal(t, 5000.0, got[0]["remaining_amount"])
}

func TestSaveThenLoadKeepsIDs(t *testing.T) {
	rem := newFakeRemote("user-1")
	f := newFixture(t, rem)
	ctx := context.Background()

	in := domain.Collection{
		{"description": "rent", "amount": 900.0},
		{"description": "food", "value": "300.50"},
	}
	res, err := f.sync.Save(ctx, domain.KindExpense, in)
	require.NoError(t, err)
	assert.Equal(t, domain.SaveDurable, res.Status)
	assert.True(t, res.FileOK)
	assert.True(t, res.RemoteOK)
	ids := res.Records.IDs()
	require.Len(t, ids, 2)

	loaded, err := f.sync.Load(ctx, domain.KindExpense)
	require.NoError(t, err)
	assert.Equal(t, ids, loaded.IDs())

	res, err = f.sync.Save(ctx, domain.KindExpense, loaded)
	require.NoError(t, err)
	assert.Equal(t, ids, res.Records.IDs())
	assert.Equal(t, ids, readJSON(t, f.layout.PrimaryPath(domain.KindExpense)).IDs())
	assert.Equal(t, ids, rem.stored(domain.KindExpense, "user-1").IDs())
	assert.Equal(t, domain.PhaseSaved, f.sync.State(context.Background(), domain.KindExpense).Phase)
}

func TestSave_RejectsInvalidRecord(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.sync.Save(context.Background(), domain.KindExpense, domain.Collection{
		{"description": "ok", "amount": 1.0},
		{"description": "no amount"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRecord))

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 1, verr.Index)
	assert.Equal(t, []string{"amount"}, verr.Missing)

	_, statErr := os.Stat(f.layout.PrimaryPath(domain.KindExpense))
	assert.True(t, os.IsNotExist(statErr))
	_, cached := f.cache.Get(context.Background(), domain.KindExpense)
	assert.False(t, cached)
}

func TestSave_RescuedOnlyWhenNothingDurable(t *testing.T) {
	rem := newFakeRemote("")
	f := newFixture(t, rem)
	f.layout = filestore.Layout{Dir: blockedDir(t)}
	s := newSync(f, rem)
	ctx := context.Background()

	debts := domain.Collection{{"description": "car", "current_amount": 100.0, "type": "loan"}}
	res, err := s.Save(ctx, domain.KindDebt, debts)
	require.NoError(t, err)
	assert.Equal(t, domain.SaveRescuedOnly, res.Status)
	assert.False(t, res.FileOK)
	assert.False(t, res.RemoteOK)

	matches, err := filepath.Glob(filepath.Join(f.rescue, "debt_rescue_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, matches[0], res.RescuePath)
	assert.Equal(t, "debt_rescue_20240309_140506.json", filepath.Base(res.RescuePath))
	assert.Equal(t, res.Records.IDs(), readJSON(t, res.RescuePath).IDs())

	cached, ok := f.cache.Get(ctx, domain.KindDebt)
	require.True(t, ok)
	assert.Len(t, cached, 1)
}

func TestSave_SessionOnlyWhenRescueFails(t *testing.T) {
	f := newFixture(t, nil)
	f.layout = filestore.Layout{Dir: blockedDir(t)}
	f.rescue = blockedDir(t)
	s := newSync(f, nil)

	res, err := s.Save(context.Background(), domain.KindGoal, domain.Collection{{"name": "house", "target_amount": 1000.0}})
	require.NoError(t, err)
	assert.Equal(t, domain.SaveSessionOnly, res.Status)
	assert.Empty(t, res.RescuePath)

	cached, ok := f.cache.Get(context.Background(), domain.KindGoal)
	require.True(t, ok)
	assert.Len(t, cached, 1)
	assert.Equal(t, domain.SaveSessionOnly, s.State(context.Background(), domain.KindGoal).Status)
}

func TestSave_RemoteAloneIsDurable(t *testing.T) {
	rem := newFakeRemote("user-1")
	f := newFixture(t, rem)
	f.layout = filestore.Layout{Dir: blockedDir(t)}
	s := newSync(f, rem)

	res, err := s.Save(context.Background(), domain.KindExpense, expenses(3, "e"))
	require.NoError(t, err)
	assert.Equal(t, domain.SaveDurable, res.Status)
	assert.False(t, res.FileOK)
	assert.True(t, res.RemoteOK)

	matches, _ := filepath.Glob(filepath.Join(f.rescue, "*.json"))
	assert.Empty(t, matches)
}

func TestAdd_RejectsDebtMissingCurrentAmount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	writeJSON(t, f.layout.PrimaryPath(domain.KindDebt), domain.Collection{
		{"id": "d1", "description": "car", "current_amount": 100.0, "type": "loan"},
		{"id": "d2", "description": "card", "current_amount": 50.0, "type": "credit"},
	})

	_, err := f.sync.Add(ctx, domain.KindDebt, domain.Record{"description": "mortgage", "type": "loan"})
	require.Error(t, err)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Missing, "current_amount")

	got, err := f.sync.Load(ctx, domain.KindDebt)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, readJSON(t, f.layout.PrimaryPath(domain.KindDebt)), 2)
}

func TestAdd_InsertsIncrementallyWhenRemoteInSync(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.data[remoteKey(domain.KindExpense, "user-1")] = expenses(2, "e")
	f := newFixture(t, rem)
	writeJSON(t, f.layout.PrimaryPath(domain.KindExpense), expenses(2, "e"))

	res, err := f.sync.Add(context.Background(), domain.KindExpense, domain.Record{"description": "gym", "amount": 40.0})
	require.NoError(t, err)
	assert.Equal(t, domain.SaveDurable, res.Status)
	require.Len(t, res.Records, 3)

	assert.Equal(t, 1, rem.insertCalls)
	assert.Equal(t, 0, rem.replaceCalls)
	assert.Equal(t, res.Records.IDs(), rem.stored(domain.KindExpense, "user-1").IDs())
	assert.Len(t, readJSON(t, f.layout.PrimaryPath(domain.KindExpense)), 3)
}

func TestAdd_FallsBackToReplaceWhenInsertFails(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.insertErr = errors.New("insert rejected")
	f := newFixture(t, rem)

	res, err := f.sync.Add(context.Background(), domain.KindExpense, domain.Record{"description": "gym", "amount": 40.0})
	require.NoError(t, err)
	assert.True(t, res.RemoteOK)
	assert.Equal(t, 1, rem.insertCalls)
	assert.Equal(t, 1, rem.replaceCalls)
	assert.Len(t, rem.stored(domain.KindExpense, "user-1"), 1)
}

func TestDelete(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.data[remoteKey(domain.KindExpense, "user-1")] = expenses(3, "e")
	f := newFixture(t, rem)
	ctx := context.Background()

	res, err := f.sync.Delete(ctx, domain.KindExpense, "e-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e-0", "e-2"}, res.Records.IDs())
	assert.Equal(t, 1, rem.deleteCalls)
	assert.Equal(t, []string{"e-0", "e-2"}, rem.stored(domain.KindExpense, "user-1").IDs())
	assert.Equal(t, []string{"e-0", "e-2"}, readJSON(t, f.layout.PrimaryPath(domain.KindExpense)).IDs())

	_, err = f.sync.Delete(ctx, domain.KindExpense, "e-1")
	assert.True(t, errors.Is(err, domain.ErrRecordNotFound))
}

func TestDelete_SurvivesRestart(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.data[remoteKey(domain.KindExpense, "user-1")] = expenses(3, "e")
	f := newFixture(t, rem)
	ctx := context.Background()

	_, err := f.sync.Delete(ctx, domain.KindExpense, "e-1")
	require.NoError(t, err)
	assert.Len(t, readJSON(t, f.layout.BackupPathFor(domain.KindExpense)), 3)

	f.cache = session.NewMemory()
	restarted := newSync(f, rem)
	got, err := restarted.Load(ctx, domain.KindExpense)
	require.NoError(t, err)
	assert.Equal(t, []string{"e-0", "e-2"}, got.IDs())
	assert.Equal(t, domain.SourcePrimaryFile, restarted.State(ctx, domain.KindExpense).Source)

	_, err = restarted.Delete(ctx, domain.KindExpense, "e-1")
	assert.True(t, errors.Is(err, domain.ErrRecordNotFound))
}

func TestDelete_LastRecordStaysDeleted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.sync.Save(ctx, domain.KindGoal, domain.Collection{
		{"id": "g1", "name": "car", "target_amount": 100.0},
		{"id": "g2", "name": "bike", "target_amount": 50.0},
	})
	require.NoError(t, err)
	writeJSON(t, filepath.Join(f.backups, "20240101_090000", "goal.json"), res.Records)

	_, err = f.sync.Delete(ctx, domain.KindGoal, "g1")
	require.NoError(t, err)
	_, err = f.sync.Delete(ctx, domain.KindGoal, "g2")
	require.NoError(t, err)

	f.cache = session.NewMemory()
	restarted := newSync(f, nil)
	got, err := restarted.Load(ctx, domain.KindGoal)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, readJSON(t, f.layout.PrimaryPath(domain.KindGoal)))
	assert.Equal(t, domain.SourceNone, restarted.State(ctx, domain.KindGoal).Source)
}

func TestLoad_BackupEditedOutsideStillCompetes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.sync.Save(ctx, domain.KindExpense, expenses(2, "a"))
	require.NoError(t, err)
	_, err = f.sync.Save(ctx, domain.KindExpense, expenses(1, "b"))
	require.NoError(t, err)

	writeJSON(t, f.layout.BackupPathFor(domain.KindExpense), expenses(4, "x"))
	f.cache.Invalidate(ctx, domain.KindExpense)

	got, err := f.sync.Load(ctx, domain.KindExpense)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, domain.SourceBackupFile, f.sync.State(ctx, domain.KindExpense).Source)
}

func TestPrincipalsAreIsolated(t *testing.T) {
	rem := newFakeRemote("user-1")
	f := newFixture(t, rem)
	alice := domain.WithPrincipal(context.Background(), "alice")
	bob := domain.WithPrincipal(context.Background(), "bob")

	_, err := f.sync.Save(alice, domain.KindExpense, expenses(3, "a"))
	require.NoError(t, err)

	got, err := f.sync.Load(bob, domain.KindExpense)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, rem.stored(domain.KindExpense, "bob"))

	got, err = f.sync.Load(context.Background(), domain.KindExpense)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Equal(t, []string{"a-0", "a-1", "a-2"}, readJSON(t, f.layout.ForPrincipal("alice").PrimaryPath(domain.KindExpense)).IDs())
	_, statErr := os.Stat(f.layout.PrimaryPath(domain.KindExpense))
	assert.True(t, os.IsNotExist(statErr))

	assert.Equal(t, domain.PhaseSaved, f.sync.State(alice, domain.KindExpense).Phase)
	assert.Equal(t, domain.PhaseReconciled, f.sync.State(bob, domain.KindExpense).Phase)
	assert.Equal(t, domain.PhaseUnloaded, f.sync.State(domain.WithPrincipal(context.Background(), "carol"), domain.KindExpense).Phase)
}

func TestDefaultPrincipalSharesRootScope(t *testing.T) {
	rem := newFakeRemote("user-1")
	f := newFixture(t, rem)
	ctx := context.Background()

	_, err := f.sync.Save(domain.WithPrincipal(ctx, "user-1"), domain.KindGoal, domain.Collection{{"id": "g1", "name": "car", "target_amount": 10.0}})
	require.NoError(t, err)

	assert.Equal(t, []string{"g1"}, readJSON(t, f.layout.PrimaryPath(domain.KindGoal)).IDs())
	got, err := f.sync.Load(ctx, domain.KindGoal)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, got.IDs())
	assert.Equal(t, domain.PhaseReconciled, f.sync.State(ctx, domain.KindGoal).Phase)
}

func TestAdd_ReplacesRemoteWithSameCountButDifferentRecords(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.data[remoteKey(domain.KindExpense, "user-1")] = expenses(2, "stale")
	f := newFixture(t, rem)
	ctx := context.Background()
	f.cache.Set(ctx, domain.KindExpense, expenses(2, "fresh"))

	res, err := f.sync.Add(ctx, domain.KindExpense, domain.Record{"id": "new", "description": "gym", "amount": 40.0})
	require.NoError(t, err)
	assert.True(t, res.RemoteOK)
	assert.Equal(t, 0, rem.insertCalls)
	assert.Equal(t, 1, rem.replaceCalls)
	assert.Equal(t, []string{"fresh-0", "fresh-1", "new"}, rem.stored(domain.KindExpense, "user-1").IDs())
}

func TestDelete_ReplacesRemoteWithSameCountButDifferentRecords(t *testing.T) {
	rem := newFakeRemote("user-1")
	rem.data[remoteKey(domain.KindExpense, "user-1")] = expenses(2, "stale")
	f := newFixture(t, rem)
	ctx := context.Background()
	f.cache.Set(ctx, domain.KindExpense, expenses(2, "fresh"))

	_, err := f.sync.Delete(ctx, domain.KindExpense, "fresh-0")
	require.NoError(t, err)
	assert.Equal(t, 0, rem.deleteCalls)
	assert.Equal(t, []string{"fresh-1"}, rem.stored(domain.KindExpense, "user-1").IDs())
}

func TestSave_RejectsDuplicateIDs(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.sync.Save(context.Background(), domain.KindExpense, domain.Collection{
		{"id": "a", "description": "rent", "amount": 900.0},
		{"id": "b", "description": "food", "amount": 12.0},
		{"id": "a", "description": "gym", "amount": 40.0},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRecord))
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Duplicate)
	assert.Equal(t, 2, verr.Index)
	assert.Equal(t, "a", verr.RecordID)

	_, statErr := os.Stat(f.layout.PrimaryPath(domain.KindExpense))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAdd_RejectsTakenID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	writeJSON(t, f.layout.PrimaryPath(domain.KindExpense), expenses(2, "e"))

	_, err := f.sync.Add(ctx, domain.KindExpense, domain.Record{"id": "e-1", "description": "gym", "amount": 40.0})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Duplicate)
	assert.Len(t, readJSON(t, f.layout.PrimaryPath(domain.KindExpense)), 2)
}

func TestLoad_DropsDuplicateIDs(t *testing.T) {
	f := newFixture(t, nil)
	writeJSON(t, f.layout.PrimaryPath(domain.KindExpense), domain.Collection{
		{"id": "a", "description": "rent", "amount": 900.0},
		{"id": "a", "description": "copy", "amount": 1.0},
		{"id": "b", "description": "food", "amount": 12.0},
	})

	got, err := f.sync.Load(context.Background(), domain.KindExpense)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.IDs())
	assert.Equal(t, "rent", got[0]["description"])
	assert.Equal(t, []string{"a", "b"}, readJSON(t, f.layout.PrimaryPath(domain.KindExpense)).IDs())
}

func TestLoad_RecoversFromNonCanonicalFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	writeJSON(t, filepath.Join(f.layout.Dir, "old_debts_v1.json"), domain.Collection{
		{"id": "legacy", "description": "car", "total_amount": 900.0, "remaining_amount": 400.0, "type": "loan"},
	})

	got, err := f.sync.Load(ctx, domain.KindDebt)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "legacy", got[0].ID())
	assert.Equal(t, 400.0, got[0]["current_amount"])
	assert.Equal(t, domain.SourceRecovery, f.sync.State(context.Background(), domain.KindDebt).Source)

	assert.Equal(t, []string{"legacy"}, readJSON(t, f.layout.PrimaryPath(domain.KindDebt)).IDs())
	cached, ok := f.cache.Get(ctx, domain.KindDebt)
	require.True(t, ok)
	assert.Len(t, cached, 1)
}

func TestRecover_BackupsNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	writeJSON(t, filepath.Join(f.backups, "20240101_090000", "goal.json"), domain.Collection{
		{"id": "old", "name": "bike", "target_amount": 100.0},
	})
	writeJSON(t, filepath.Join(f.backups, "20240301_090000", "goal.json"), domain.Collection{
		{"id": "new", "name": "car", "target_amount": 100.0},
	})
	writeJSON(t, filepath.Join(f.backups, "20240401_090000", "goal.json"), domain.Collection{})

	got, ok := f.sync.Recover(context.Background(), domain.KindGoal)
	require.True(t, ok)
	assert.Equal(t, []string{"new"}, got.IDs())
	assert.Equal(t, []string{"new"}, readJSON(t, f.layout.PrimaryPath(domain.KindGoal)).IDs())
}

func TestRecover_NothingFound(t *testing.T) {
	f := newFixture(t, nil)
	writeJSON(t, filepath.Join(f.layout.Dir, "expense.json"), domain.Collection{})

	_, ok := f.sync.Recover(context.Background(), domain.KindExpense)
	assert.False(t, ok)

	_, ok = f.sync.Recover(context.Background(), domain.Kind("pets"))
	assert.False(t, ok)
}

func TestState_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.Equal(t, domain.CollectionState{Phase: domain.PhaseUnloaded}, f.sync.State(context.Background(), domain.KindInsurance))

	_, err := f.sync.Load(ctx, domain.KindInsurance)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseReconciled, f.sync.State(context.Background(), domain.KindInsurance).Phase)

	_, err = f.sync.Save(ctx, domain.KindInsurance, domain.Collection{{"type": "life", "description": "term", "premium": 30.0}})
	require.NoError(t, err)
	st := f.sync.State(context.Background(), domain.KindInsurance)
	assert.Equal(t, domain.PhaseSaved, st.Phase)
	assert.Equal(t, domain.SaveDurable, st.Status)
	assert.Equal(t, 1, st.Count)
}

func TestUnknownKind(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.sync.Load(ctx, domain.Kind("pets"))
	assert.True(t, errors.Is(err, domain.ErrUnknownKind))
	_, err = f.sync.Save(ctx, domain.Kind("pets"), nil)
	assert.True(t, errors.Is(err, domain.ErrUnknownKind))
	_, err = f.sync.Add(ctx, domain.Kind("pets"), domain.Record{})
	assert.True(t, errors.Is(err, domain.ErrUnknownKind))
	_, err = f.sync.Delete(ctx, domain.Kind("pets"), "x")
	assert.True(t, errors.Is(err, domain.ErrUnknownKind))
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.sync.Add(ctx, domain.KindExpense, domain.Record{"description": fmt.Sprintf("e%d", i), "amount": float64(i + 1)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.sync.Load(ctx, domain.KindExpense)
	require.NoError(t, err)
	assert.Len(t, got, n)
	assert.Len(t, readJSON(t, f.layout.PrimaryPath(domain.KindExpense)), n)
	assert.Equal(t, 0, f.sync.locks.size())
}
