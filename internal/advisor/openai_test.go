package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatch/internal/detector"
)

func testRequest() Request {
	return Request{
		StockCode: "600036.SH",
		StockName: "招商银行",
		Price:     decimal.NewFromFloat(41.2),
		Direction: detector.DirectionUp,
	}
}

func chatBody(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestOpenAIGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("Authorization 头错误: %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		if req.Model != "deepseek-chat" {
			t.Fatalf("model 应为配置值: %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(chatBody("```json\n" + goodPayload + "\n```"))
	}))
	defer srv.Close()

	gw := NewOpenAIGateway(time.Second, zerolog.Nop())
	cfg := ProviderConfig{ProviderID: "deepseek", ModelName: "deepseek-chat", BaseURL: srv.URL, APIKey: "key", Enabled: true}

	opinion, err := gw.Generate(context.Background(), cfg, testRequest())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if opinion.Provider != "deepseek" || opinion.OverallScore != 72 {
		t.Fatalf("opinion 内容错误: %+v", opinion)
	}
}

func TestOpenAIGenerateMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatBody("sorry, I cannot answer in JSON"))
	}))
	defer srv.Close()

	gw := NewOpenAIGateway(time.Second, zerolog.Nop())
	cfg := ProviderConfig{ProviderID: "openai", BaseURL: srv.URL, APIKey: "key", Enabled: true}

	if _, err := gw.Generate(context.Background(), cfg, testRequest()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("非 JSON 输出应返回 ErrMalformed, 实际 %v", err)
	}
}

func TestOpenAIGenerateAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gw := NewOpenAIGateway(time.Second, zerolog.Nop())
	cfg := ProviderConfig{ProviderID: "openai", BaseURL: srv.URL, APIKey: "bad", Enabled: true}

	if _, err := gw.Generate(context.Background(), cfg, testRequest()); !errors.Is(err, ErrAuth) {
		t.Fatalf("401 应返回 ErrAuth, 实际 %v", err)
	}
}

func TestOpenAIGenerateMissingKey(t *testing.T) {
	gw := NewOpenAIGateway(time.Second, zerolog.Nop())
	cfg := ProviderConfig{ProviderID: "openai", Enabled: true}

	if _, err := gw.Generate(context.Background(), cfg, testRequest()); !errors.Is(err, ErrAuth) {
		t.Fatalf("缺少密钥应返回 ErrAuth, 实际 %v", err)
	}
}

func TestOpenAIGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(chatBody(goodPayload))
	}))
	defer srv.Close()

	gw := NewOpenAIGateway(50*time.Millisecond, zerolog.Nop())
	cfg := ProviderConfig{ProviderID: "openai", BaseURL: srv.URL, APIKey: "key", Enabled: true}

	if _, err := gw.Generate(context.Background(), cfg, testRequest()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("超时应返回 ErrTimeout, 实际 %v", err)
	}
}

func TestGeminiGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "key" {
			t.Fatalf("key 参数缺失: %s", r.URL.String())
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{
					"finishReason": "STOP",
					"content": map[string]any{
						"parts": []map[string]any{{"text": goodPayload}},
					},
				},
			},
		})
	}))
	defer srv.Close()

	gw := NewGeminiGateway(time.Second, zerolog.Nop())
	cfg := ProviderConfig{ProviderID: "gemini", ModelName: "Gemini 1.5 Flash", BaseURL: srv.URL, APIKey: "key", Enabled: true}

	opinion, err := gw.Generate(context.Background(), cfg, testRequest())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if opinion.Provider != "gemini" {
		t.Fatalf("provider 应为 gemini: %+v", opinion)
	}
}

func TestGeminiGenerateEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer srv.Close()

	gw := NewGeminiGateway(time.Second, zerolog.Nop())
	cfg := ProviderConfig{ProviderID: "gemini", BaseURL: srv.URL, APIKey: "key", Enabled: true}

	if _, err := gw.Generate(context.Background(), cfg, testRequest()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("空 candidates 应返回 ErrMalformed, 实际 %v", err)
	}
}

func TestNormalizeModelName(t *testing.T) {
	if got := normalizeModelName("Gemini 1.5 Pro"); got != "gemini-1.5-pro" {
		t.Fatalf("模型名标准化错误: %q", got)
	}
}
