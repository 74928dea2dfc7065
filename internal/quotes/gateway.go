package quotes

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound means the instrument code is unknown to the source.
	ErrNotFound = errors.New("quotes: instrument not found")
	// ErrUnavailable means the source could not serve the request.
	ErrUnavailable = errors.New("quotes: source unavailable")
	// ErrRateLimited means the source throttled us for this cycle.
	ErrRateLimited = errors.New("quotes: rate limited")
)

// Gateway retrieves a single current price for an instrument code.
// No caching guarantee; every call may hit the upstream source.
type Gateway interface {
	GetPrice(ctx context.Context, code string) (decimal.Decimal, error)
}
