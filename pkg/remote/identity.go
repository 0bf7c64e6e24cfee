package remote

import (
	"context"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
)

// Identity supplies the opaque id of the signed-in user. The core never
// authenticates; it only tags reads, writes and filters with this id.
type Identity interface {
	CurrentUser(ctx context.Context) (string, error)
}

// StaticIdentity is a fixed user id. The zero value is signed out.
type StaticIdentity string

func (s StaticIdentity) CurrentUser(context.Context) (string, error) {
	if s == "" {
		return "", constants.ErrNotAuthenticated
	}
	return string(s), nil
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func(ctx context.Context) (string, error)

func (f IdentityFunc) CurrentUser(ctx context.Context) (string, error) {
	return f(ctx)
}
