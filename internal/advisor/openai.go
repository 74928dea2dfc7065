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

// OpenAIGateway speaks the chat-completions dialect. DeepSeek and other
// OpenAI-compatible providers go through it too, differing only in base URL
// and model name from their ProviderConfig.
type OpenAIGateway struct {
	logger  zerolog.Logger
	timeout time.Duration
}

// NewOpenAIGateway constructs a chat-completions gateway.
func NewOpenAIGateway(timeout time.Duration, logger zerolog.Logger) *OpenAIGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIGateway{
		logger:  logger.With().Str("component", "ai_openai").Logger(),
		timeout: timeout,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate requests one structured opinion via the chat-completions API.
func (g *OpenAIGateway) Generate(ctx context.Context, cfg ProviderConfig, req Request) (Opinion, error) {
	if cfg.APIKey == "" {
		return Opinion{}, fmt.Errorf("%w: api key not configured", ErrAuth)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.ModelName
	if model == "" {
		model = "gpt-4o-mini"
	}

	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a professional equity analyst. Reply strictly in the requested JSON format."},
			{Role: "user", Content: buildPrompt(req)},
		},
		Temperature: 0.7,
		MaxTokens:   1500,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Opinion{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Opinion{}, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

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

	var chat chatResponse
	if err := json.Unmarshal(payloadBytes, &chat); err != nil {
		return Opinion{}, fmt.Errorf("%w: decode response: %v", ErrMalformed, err)
	}
	if len(chat.Choices) == 0 {
		return Opinion{}, fmt.Errorf("%w: no choices in response", ErrMalformed)
	}

	opinion, err := parseOpinion(chat.Choices[0].Message.Content, cfg.ProviderID)
	if err != nil {
		return Opinion{}, err
	}

	g.logger.Debug().Str("code", req.StockCode).Str("model", model).Msg("opinion generated")
	return opinion, nil
}

var _ Gateway = (*OpenAIGateway)(nil)
