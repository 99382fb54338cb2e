package remote

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Dialect captures the differences between supported SQL engines.
type Dialect struct {
	Name   string
	Driver string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", Driver: "pgx", Numbered: true}
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite"}
)

// DialectByName resolves a configured driver name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("DialectByName: unsupported SQL driver %q", name)
	}
}

// Rebind rewrites '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
