package domain

import (
	"context"
	"strings"
)

type principalKey struct{}

// WithPrincipal scopes ctx to an authenticated principal id.
func WithPrincipal(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, principalKey{}, strings.TrimSpace(id))
}

// PrincipalFrom returns the principal carried by ctx, if any.
func PrincipalFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey{}).(string)
	return id, ok && id != ""
}
