package gateway

import (
	"context"

	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/bridge"
)

// VerifierResolver resolves tokens over the pub/sub bridge instead of HTTP.
// It lets the gateway keep authenticating when the authority's HTTP surface
// is unreachable but redis is not.
type VerifierResolver struct {
	verifier *bridge.Verifier
}

func NewVerifierResolver(v *bridge.Verifier) *VerifierResolver {
	return &VerifierResolver{verifier: v}
}

func (r *VerifierResolver) Resolve(ctx context.Context, token string) (*structs.Identity, bool) {
	return r.verifier.Verify(ctx, token)
}
