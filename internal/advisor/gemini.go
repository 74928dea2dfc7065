package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// GeminiGateway speaks the generateContent dialect.
type GeminiGateway struct {
	logger  zerolog.Logger
	timeout time.Duration
}

// NewGeminiGateway constructs a Gemini gateway.
func NewGeminiGateway(timeout time.Duration, logger zerolog.Logger) *GeminiGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiGateway{
		logger:  logger.With().Str("component", "ai_gemini").Logger(),
		timeout: timeout,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		FinishReason string        `json:"finishReason"`
		Content      geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate requests one structured opinion via generateContent.
func (g *GeminiGateway) Generate(ctx context.Context, cfg ProviderConfig, req Request) (Opinion, error) {
	if cfg.APIKey == "" {
		return Opinion{}, fmt.Errorf("%w: api key not configured", ErrAuth)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	model := normalizeModelName(cfg.ModelName)
	if model == "" {
		model = "gemini-1.5-flash"
	}

	payload := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: buildPrompt(req)}}},
		},
		GenerationConfig: geminiGenConfig{
			Temperature:     0.7,
			MaxOutputTokens: 3000,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Opinion{}, fmt.Errorf("marshal gemini payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", baseURL, model, cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Opinion{}, fmt.Errorf("create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client, err := newHTTPClient(req.ProxyURL, g.timeout)
	if err != nil {
		return Opinion{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Opinion{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Opinion{}, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return Opinion{}, classifyStatus(resp.StatusCode, string(payloadBytes))
	}

	var result geminiResponse
	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return Opinion{}, fmt.Errorf("%w: decode response: %v", ErrMalformed, err)
	}
	if len(result.Candidates) == 0 {
		return Opinion{}, fmt.Errorf("%w: no candidates in response", ErrMalformed)
	}

	candidate := result.Candidates[0]
	if candidate.FinishReason == "MAX_TOKENS" {
		g.logger.Warn().Str("model", model).Msg("gemini response truncated")
	}
	if len(candidate.Content.Parts) == 0 || candidate.Content.Parts[0].Text == "" {
		return Opinion{}, fmt.Errorf("%w: empty candidate content", ErrMalformed)
	}

	opinion, err := parseOpinion(candidate.Content.Parts[0].Text, cfg.ProviderID)
	if err != nil {
		return Opinion{}, err
	}

	g.logger.Debug().Str("code", req.StockCode).Str("model", model).Msg("opinion generated")
	return opinion, nil
}

// normalizeModelName lower-cases and hyphenates a configured model name.
func normalizeModelName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

var _ Gateway = (*GeminiGateway)(nil)
