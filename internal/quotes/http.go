package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const quotePath = "/quote"

// HTTPOptions parameterise the HTTP quote gateway.
type HTTPOptions struct {
	BaseURL        string
	APIToken       string
	Timeout        time.Duration
	UserAgent      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// HTTPGateway fetches spot prices from a JSON quote API.
type HTTPGateway struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewHTTPGateway constructs an HTTP quote gateway.
func NewHTTPGateway(opts HTTPOptions, logger zerolog.Logger) *HTTPGateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rps := opts.RateLimitRPS
	if rps <= 0 {
		rps = 2
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = int(rps) + 1
	}

	return &HTTPGateway{
		opts:    opts,
		logger:  logger.With().Str("component", "quote_gateway").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// GetPrice retrieves the latest price for the given instrument code.
func (g *HTTPGateway) GetPrice(ctx context.Context, code string) (decimal.Decimal, error) {
	if g.baseURL == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: quotes.base_url not configured", ErrUnavailable)
	}
	if code == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty instrument code", ErrNotFound)
	}

	// local token bucket so one scan cycle cannot hammer the upstream
	if err := g.limiter.Wait(ctx); err != nil {
		return decimal.Decimal{}, err
	}

	endpoint := g.baseURL + quotePath + "?" + url.Values{
		"code":  {code},
		"token": {g.opts.APIToken},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("create quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	case resp.StatusCode == http.StatusTooManyRequests:
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrRateLimited, code)
	case resp.StatusCode != http.StatusOK:
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var body quoteResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode quote: %v", ErrUnavailable, err)
	}
	if body.Price == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: %s has no price", ErrNotFound, code)
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: parse price %q: %v", ErrUnavailable, body.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: non-positive price for %s", ErrUnavailable, code)
	}

	g.logger.Debug().Str("code", code).Str("price", price.String()).Msg("quote fetched")
	return price, nil
}

type quoteResponse struct {
	Code      string `json:"code"`
	Price     string `json:"price"`
	PrevClose string `json:"prev_close"`
	Timestamp int64  `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("%w: quote api error (%d): %s", ErrUnavailable, status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%w: quote api error (%d): %s", ErrUnavailable, status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w: quote api error (%d): %s", ErrUnavailable, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: quote api error (%d)", ErrUnavailable, status)
}

var _ Gateway = (*HTTPGateway)(nil)
