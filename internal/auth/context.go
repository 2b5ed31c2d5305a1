// ABOUTME: Tenant identity propagated through request handlers via context
// ABOUTME: Provides WithTenant/FromContext so handlers never trust client-sent ids

package auth

import (
	"context"
)

// TenantContext holds the authenticated identity extracted from a request.
// Handlers read the tenant from here, never from the request payload.
type TenantContext struct {
	TenantID string // tenant the connection belongs to
	UserID   string // authenticated end user within the tenant
}

// tenantContextKey is the key type for storing TenantContext in context.Context.
type tenantContextKey struct{}

// WithTenant returns a new context with the TenantContext attached.
func WithTenant(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// FromContext retrieves the TenantContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *TenantContext {
	val := ctx.Value(tenantContextKey{})
	if val == nil {
		return nil
	}
	tc, ok := val.(*TenantContext)
	if !ok {
		return nil
	}
	return tc
}
