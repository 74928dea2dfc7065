package quotes

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
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testGateway(baseURL string) *HTTPGateway {
	return NewHTTPGateway(HTTPOptions{
		BaseURL:      baseURL,
		APIToken:     "token",
		Timeout:      time.Second,
		UserAgent:    "test",
		RateLimitRPS: 100,
	}, noopLogger())
}

func TestGetPriceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("code"); got != "600036.SH" {
			t.Fatalf("code 参数错误: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":  "600036.SH",
			"price": "38.55",
		})
	}))
	defer srv.Close()

	price, err := testGateway(srv.URL).GetPrice(context.Background(), "600036.SH")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if price.Cmp(decimal.NewFromFloat(38.55)) != 0 {
		t.Fatalf("期望价格 38.55, 实际 %s", price.String())
	}
}

func TestGetPriceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testGateway(srv.URL).GetPrice(context.Background(), "000000.SZ")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("404 应映射为 ErrNotFound, 实际 %v", err)
	}
}

func TestGetPriceRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testGateway(srv.URL).GetPrice(context.Background(), "600036.SH")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("429 应映射为 ErrRateLimited, 实际 %v", err)
	}
}

func TestGetPriceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "upstream down"})
	}))
	defer srv.Close()

	_, err := testGateway(srv.URL).GetPrice(context.Background(), "600036.SH")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("500 应映射为 ErrUnavailable, 实际 %v", err)
	}
}

func TestGetPriceMissingPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "600036.SH"})
	}))
	defer srv.Close()

	_, err := testGateway(srv.URL).GetPrice(context.Background(), "600036.SH")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("缺少 price 字段应映射为 ErrNotFound, 实际 %v", err)
	}
}

func TestGetPriceUnconfigured(t *testing.T) {
	g := NewHTTPGateway(HTTPOptions{}, noopLogger())
	if _, err := g.GetPrice(context.Background(), "600036.SH"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("未配置 base_url 应返回 ErrUnavailable, 实际 %v", err)
	}
}

func TestRouterFallsThroughWithoutFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "600036.SH", "price": "10"})
	}))
	defer srv.Close()

	router := NewRouter(nil, testGateway(srv.URL))
	price, err := router.GetPrice(context.Background(), "600036.SH")
	if err != nil {
		t.Fatalf("路由到 HTTP 网关失败: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("期望 10, 实际 %s", price)
	}
}
