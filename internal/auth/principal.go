package auth

import (
	"context"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

// Principal is the calling identity as verified by the hosting environment.
// The zero value is anonymous.
type Principal struct {
	Address domain.Address
}

// Anonymous is the principal of unauthenticated calls.
var Anonymous = Principal{}

// As returns a principal claim for addr.
func As(addr domain.Address) Principal { return Principal{Address: addr} }

func (p Principal) Authenticated() bool { return p.Address != "" }

// RequireCaller fails unless p is the required identity.
func RequireCaller(p Principal, required domain.Address) error {
	if !p.Authenticated() || required == "" || p.Address != required {
		return domain.ErrUnauthorized
	}
	return nil
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx, or Anonymous.
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Anonymous
}
