package advisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"stockwatch/internal/detector"
)

var (
	// ErrTimeout means the provider did not answer within the deadline.
	ErrTimeout = errors.New("advisor: provider timed out")
	// ErrAuth means the provider rejected the credential.
	ErrAuth = errors.New("advisor: provider rejected credentials")
	// ErrMalformed means the provider answered with an unusable payload.
	ErrMalformed = errors.New("advisor: malformed provider payload")
	// ErrUnreachable means the provider could not be reached at all.
	ErrUnreachable = errors.New("advisor: provider unreachable")
)

// Request carries the price context handed to a provider. ProxyURL is the
// owner's configured network proxy, empty for a direct connection.
type Request struct {
	StockCode string
	StockName string
	Price     decimal.Decimal
	Direction detector.Direction
	ProxyURL  string
}

// priceContext phrases the crossing for the prompt.
func (r Request) priceContext() string {
	switch r.Direction {
	case detector.DirectionUp:
		return fmt.Sprintf("The price broke above its upper alert threshold and now trades at %s.", r.Price.String())
	case detector.DirectionDown:
		return fmt.Sprintf("The price broke below its lower alert threshold and now trades at %s.", r.Price.String())
	default:
		return fmt.Sprintf("The price currently trades at %s.", r.Price.String())
	}
}

// Gateway generates one structured opinion from one provider. Implementations
// normalise provider-specific payloads; callers never branch on provider
// identity past gateway construction.
type Gateway interface {
	Generate(ctx context.Context, cfg ProviderConfig, req Request) (Opinion, error)
}

const opinionPrompt = `You are a seasoned equity analyst. Analyse the instrument below and reply with a single JSON object, no surrounding prose.

Instrument: %s (%s)
Context: %s

Required JSON shape:
{
  "overall_score": <integer 0-100>,
  "recommendation": "<Buy|Sell|Hold|Monitor>",
  "technical_summary": "<one short paragraph>",
  "fundamental_summary": "<one short paragraph>",
  "sentiment_summary": "<one short paragraph>",
  "key_reasons": ["<reason 1>", "<reason 2>", "<reason 3>"],
  "confidence_level": "<High|Medium|Low>"
}

Output valid JSON only.`

func buildPrompt(req Request) string {
	return fmt.Sprintf(opinionPrompt, req.StockName, req.StockCode, req.priceContext())
}

// newHTTPClient builds a client honouring the owner's proxy, if configured.
func newHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if proxyURL == "" {
		return client, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	client.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	return client, nil
}

// classifyTransport maps a transport-level failure onto the gateway taxonomy.
func classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// classifyStatus maps a non-2xx response onto the gateway taxonomy.
func classifyStatus(status int, body string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (HTTP %d)", ErrAuth, status)
	default:
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("%w: HTTP %d: %s", ErrUnreachable, status, body)
	}
}
