package shared

import (
	"context"
	"errors"
)

// RequestContext carries the authenticated tenant identity through every core
// operation. It replaces ambient session lookups: company and user are always
// explicit arguments of the request.
type RequestContext struct {
	CompanyID int64
	UserID    int64
	Role      string
}

// Valid reports whether the context identifies a tenant.
func (rc RequestContext) Valid() bool {
	return rc.CompanyID > 0 && rc.UserID > 0
}

// ErrNoRequestContext indicates a request reached the core without identity.
var ErrNoRequestContext = errors.New("request context missing")

type requestContextKey struct{}

// ContextWithRequestContext stores the request context.
func ContextWithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom extracts the request context, if present.
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}
