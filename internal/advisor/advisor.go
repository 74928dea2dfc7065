package advisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Advisor orchestrates opinion generation: provider selection, timeout,
// circuit breaking. Its result is always an Opinion value; failures are
// tagged, never raised.
type Advisor struct {
	configs  ConfigStore
	gateways map[string]Gateway
	fallback Gateway
	logger   zerolog.Logger

	breakerMux sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// New constructs an Advisor. Providers with a dedicated gateway are routed to
// it by id; everything else goes through the OpenAI-compatible fallback.
func New(configs ConfigStore, timeout time.Duration, logger zerolog.Logger) *Advisor {
	openai := NewOpenAIGateway(timeout, logger)
	gemini := NewGeminiGateway(timeout, logger)

	return &Advisor{
		configs: configs,
		gateways: map[string]Gateway{
			"openai":   openai,
			"deepseek": openai,
			"gemini":   gemini,
			"google":   gemini,
		},
		fallback: openai,
		logger:   logger.With().Str("component", "advisor").Logger(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// GetOpinion generates an opinion for a firing alert. preferred may be empty;
// selection falls back to the owner's default, then the first enabled
// provider in stable order. With no enabled provider it returns an error
// value without any network call.
func (a *Advisor) GetOpinion(ctx context.Context, userEmail string, req Request, preferred string) Opinion {
	configs, err := a.configs.ForCall(ctx, userEmail)
	if err != nil {
		a.logger.Error().Err(err).Str("user", userEmail).Msg("failed to load provider configs")
		return ErrorOpinion("provider configuration unavailable")
	}

	settings, err := a.configs.GetSettings(ctx, userEmail)
	if err != nil {
		a.logger.Error().Err(err).Str("user", userEmail).Msg("failed to load user settings")
		settings = Settings{UserEmail: userEmail}
	}
	req.ProxyURL = settings.ProxyURL

	cfg, ok := selectProvider(configs, preferred, settings.DefaultProvider)
	if !ok {
		return ErrorOpinion("no provider configured")
	}

	gateway := a.gatewayFor(cfg.ProviderID)
	breaker := a.breakerFor(cfg.ProviderID)

	result, err := breaker.Execute(func() (interface{}, error) {
		return gateway.Generate(ctx, cfg, req)
	})
	if err != nil {
		a.logger.Warn().Err(err).
			Str("user", userEmail).
			Str("provider", cfg.ProviderID).
			Str("code", req.StockCode).
			Msg("opinion generation failed")
		return ErrorOpinion(fmt.Sprintf("%s: %v", cfg.ProviderID, err))
	}

	opinion := result.(Opinion)
	a.logger.Info().
		Str("user", userEmail).
		Str("provider", cfg.ProviderID).
		Str("code", req.StockCode).
		Int("score", opinion.OverallScore).
		Str("recommendation", opinion.Recommendation).
		Msg("opinion generated")
	return opinion
}

// selectProvider picks the provider to call. configs arrive in stable
// (provider id) order from the store.
func selectProvider(configs []ProviderConfig, preferred, ownerDefault string) (ProviderConfig, bool) {
	byID := func(id string) (ProviderConfig, bool) {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			return ProviderConfig{}, false
		}
		for _, cfg := range configs {
			if strings.ToLower(cfg.ProviderID) == id && cfg.Enabled {
				return cfg, true
			}
		}
		return ProviderConfig{}, false
	}

	if cfg, ok := byID(preferred); ok {
		return cfg, true
	}
	if cfg, ok := byID(ownerDefault); ok {
		return cfg, true
	}
	for _, cfg := range configs {
		if cfg.Enabled {
			return cfg, true
		}
	}
	return ProviderConfig{}, false
}

func (a *Advisor) gatewayFor(providerID string) Gateway {
	if gw, ok := a.gateways[strings.ToLower(providerID)]; ok {
		return gw
	}
	return a.fallback
}

func (a *Advisor) breakerFor(providerID string) *gobreaker.CircuitBreaker {
	a.breakerMux.Lock()
	defer a.breakerMux.Unlock()

	if breaker, ok := a.breakers[providerID]; ok {
		return breaker
	}

	settings := gobreaker.Settings{Name: "advisor-" + providerID}
	settings.Interval = 60 * time.Second
	settings.Timeout = 60 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	breaker := gobreaker.NewCircuitBreaker(settings)
	a.breakers[providerID] = breaker
	return breaker
}
