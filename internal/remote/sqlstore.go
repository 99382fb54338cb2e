package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dvloznov/finsync/internal/domain"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// SQLStore keeps records as JSON payload rows in a `records` table.
type SQLStore struct {
	db               *sql.DB
	dialect          Dialect
	defaultPrincipal string
	now              func() time.Time
}

// OpenSQL opens the database, applies pending migrations and returns a store.
// defaultPrincipal is used when a request context carries none.
func OpenSQL(ctx context.Context, d Dialect, dsn, defaultPrincipal string) (*SQLStore, error) {
	db, err := OpenDB(ctx, d, dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenSQL: %w", err)
	}
	if _, err := Migrate(ctx, db, d, "finsync"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLStore(db, d, defaultPrincipal), nil
}

// OpenDB opens and pings the database without migrating it. SQLite parent
// directories are created on demand.
func OpenDB(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("OpenDB: empty %s dsn", d.Name)
	}
	if d == SQLite {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("OpenDB: create dirs: %w", err)
			}
		}
	}

	openMu.Lock()
	db, err := sqlOpen(d.Driver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("OpenDB: open %s: %w", d.Name, err)
	}
	if d == SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenDB: ping %s: %w", d.Name, err)
	}
	return db, nil
}

// NewSQLStore wraps an already migrated database.
func NewSQLStore(db *sql.DB, d Dialect, defaultPrincipal string) *SQLStore {
	return &SQLStore{db: db, dialect: d, defaultPrincipal: defaultPrincipal, now: time.Now}
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying sql.DB for migrations and tests.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Principal implements Adapter.
func (s *SQLStore) Principal(ctx context.Context) (string, bool) {
	return ResolvePrincipal(ctx, s.defaultPrincipal)
}

// Load implements Adapter.
func (s *SQLStore) Load(ctx context.Context, kind domain.Kind, principal string) (domain.Collection, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT payload FROM records
		WHERE principal_id = ? AND kind = ?
		ORDER BY position, record_id`), principal, string(kind))
	if err != nil {
		return nil, fmt.Errorf("Load: query: %w: %v", domain.ErrBackendUnreachable, err)
	}
	defer func() { _ = rows.Close() }()

	c := domain.Collection{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("Load: scan: %w", err)
		}
		var rec domain.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("Load: decoding payload: %w: %v", domain.ErrParse, err)
		}
		c = append(c, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Load: iterate: %w", err)
	}
	return c, nil
}

// ReplaceAll implements Adapter as delete-all-for-principal followed by a
// bulk insert inside one transaction.
func (s *SQLStore) ReplaceAll(ctx context.Context, kind domain.Kind, principal string, c domain.Collection) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ReplaceAll: begin tx: %w: %v", domain.ErrBackendUnreachable, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(
		`DELETE FROM records WHERE principal_id = ? AND kind = ?`), principal, string(kind)); err != nil {
		return fmt.Errorf("ReplaceAll: delete: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.dialect.Rebind(`
		INSERT INTO records (principal_id, kind, record_id, position, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("ReplaceAll: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now().UTC()
	for i, rec := range c {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ReplaceAll: encoding record %s: %w", rec.ID(), err)
		}
		if _, err := stmt.ExecContext(ctx, principal, string(kind), rec.ID(), i, string(payload), now); err != nil {
			return fmt.Errorf("ReplaceAll: insert record %s: %w", rec.ID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ReplaceAll: commit: %w", err)
	}
	return nil
}

// Insert implements Adapter; the record is appended after the current last position.
func (s *SQLStore) Insert(ctx context.Context, kind domain.Kind, principal string, rec domain.Record) (retErr error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Insert: encoding record: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Insert: begin tx: %w: %v", domain.ErrBackendUnreachable, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	var next int
	if err := tx.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT COALESCE(MAX(position), -1) + 1 FROM records WHERE principal_id = ? AND kind = ?`),
		principal, string(kind)).Scan(&next); err != nil {
		return fmt.Errorf("Insert: next position: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO records (principal_id, kind, record_id, position, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		principal, string(kind), rec.ID(), next, string(payload), s.now().UTC()); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Insert: commit: %w", err)
	}
	return nil
}

// Delete implements Adapter. Deleting an absent id returns domain.ErrRecordNotFound.
func (s *SQLStore) Delete(ctx context.Context, kind domain.Kind, principal, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`DELETE FROM records WHERE principal_id = ? AND kind = ? AND record_id = ?`),
		principal, string(kind), id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("Delete: %s %s: %w", kind, id, domain.ErrRecordNotFound)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// Ensure SQLStore implements Adapter.
var _ Adapter = (*SQLStore)(nil)
