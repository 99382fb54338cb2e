package remote

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finsync/internal/logger"
)

//go:embed migrations
var migrationsFS embed.FS

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// ParseMigrationFilename extracts version and name from `NNNN_name.sql`.
func ParseMigrationFilename(filename string) (int, string, bool) {
	m := migrationPattern.FindStringSubmatch(filename)
	if m == nil {
		return 0, "", false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return v, m[2], true
}

// Migrations returns the embedded migrations of the dialect sorted by version.
func Migrations(d Dialect) ([]Migration, error) {
	dir := path.Join("migrations", d.Name)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("Migrations: reading %s: %w", dir, err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, ok := ParseMigrationFilename(e.Name())
		if !ok {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("Migrations: reading %s: %w", e.Name(), err)
		}
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			Filename: e.Name(),
			SQL:      string(content),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies pending embedded migrations and records them in
// schema_migrations. It returns the number of migrations applied.
func Migrate(ctx context.Context, db *sql.DB, d Dialect, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		checksum   TEXT,
		applied_at TIMESTAMP NOT NULL,
		applied_by TEXT
	)`); err != nil {
		return 0, fmt.Errorf("Migrate: ensuring schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}
	migrations, err := Migrations(d)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("migration already applied")
			continue
		}
		if err := apply(ctx, db, d, m, appliedBy); err != nil {
			return count, fmt.Errorf("Migrate: %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
		count++
	}
	return count, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("Migrate: reading applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("Migrate: scanning version: %w", err)
		}
		out[v] = true
	}
	return out, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, d Dialect, m Migration, appliedBy string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range SplitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, d.Rebind(`INSERT INTO schema_migrations
		(version, name, checksum, applied_at, applied_by) VALUES (?, ?, ?, ?, ?)`),
		m.Version, m.Name, m.Checksum, time.Now().UTC(), appliedBy); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// SplitStatements splits a migration script on statement terminators.
func SplitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
