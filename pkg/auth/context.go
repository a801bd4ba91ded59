package auth

import (
	"context"

	"github.com/fitstack/fitstack/pkg/contextkeys"
)

// FromContext retrieves the authenticated identity placed in the request
// context by the session middleware. The second return is false for
// unauthenticated requests.
func FromContext(ctx context.Context) (*Context, bool) {
	authCtx, ok := ctx.Value(contextkeys.AuthKey).(*Context)
	return authCtx, ok && authCtx != nil
}
