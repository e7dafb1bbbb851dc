package shared

import (
	"context"
	"net/http"
	"strconv"
)

// Scope identifies the caller as resolved by the upstream gateway. The
// gateway authenticates and authorizes; this service trusts the headers.
type Scope struct {
	OrgID    int64
	BranchID int64
	ActorID  int64
}

type scopeContextKey struct{}

// ContextWithScope stores the caller scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the caller scope from context.
func ScopeFromContext(ctx context.Context) Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(Scope)
	return scope
}

// ScopeFromHeaders reads the gateway identity headers.
func ScopeFromHeaders(r *http.Request) Scope {
	return Scope{
		OrgID:    headerInt64(r, "X-Org-ID"),
		BranchID: headerInt64(r, "X-Branch-ID"),
		ActorID:  headerInt64(r, "X-Actor-ID"),
	}
}

func headerInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.Header.Get(name), 10, 64)
	return v
}
