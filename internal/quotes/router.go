package quotes

import (
	"context"

	"github.com/shopspring/decimal"
)

// Router sends codes with a configured on-chain feed to the feed gateway and
// everything else to the HTTP gateway.
type Router struct {
	onchain *Onchain
	rest    Gateway
}

// NewRouter builds a routing gateway. onchain may be nil.
func NewRouter(onchain *Onchain, rest Gateway) *Router {
	return &Router{onchain: onchain, rest: rest}
}

// GetPrice routes the lookup to the matching gateway.
func (r *Router) GetPrice(ctx context.Context, code string) (decimal.Decimal, error) {
	if r.onchain != nil && r.onchain.Supports(code) {
		return r.onchain.GetPrice(ctx, code)
	}
	return r.rest.GetPrice(ctx, code)
}

var _ Gateway = (*Router)(nil)
