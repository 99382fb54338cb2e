// Package remote defines the contract of the remote relational record store
// and provides a database/sql implementation for Postgres and SQLite.
package remote

import (
	"context"

	"github.com/dvloznov/finsync/internal/domain"
)

// Adapter is the narrow capability the synchronizer consumes. All data
// operations are scoped by principal; callers only invoke them after
// Principal reports an authenticated identity.
type Adapter interface {
	// Principal returns the authenticated principal for ctx, or false.
	Principal(ctx context.Context) (string, bool)

	// Load returns the principal's collection of kind in stored order.
	Load(ctx context.Context, kind domain.Kind, principal string) (domain.Collection, error)

	// ReplaceAll deletes every record of kind for principal and inserts c.
	ReplaceAll(ctx context.Context, kind domain.Kind, principal string, c domain.Collection) error

	// Insert appends one record.
	Insert(ctx context.Context, kind domain.Kind, principal string, rec domain.Record) error

	// Delete removes one record by id.
	Delete(ctx context.Context, kind domain.Kind, principal, id string) error
}

// ResolvePrincipal returns the principal carried by ctx, or fallback when
// ctx carries none. An empty result means unauthenticated.
func ResolvePrincipal(ctx context.Context, fallback string) (string, bool) {
	if p, ok := domain.PrincipalFrom(ctx); ok {
		return p, true
	}
	return fallback, fallback != ""
}
