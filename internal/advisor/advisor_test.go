package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeConfigStore struct {
	configs  []ProviderConfig
	settings Settings
	loadErr  error
}

func (f *fakeConfigStore) ForCall(ctx context.Context, userEmail string) ([]ProviderConfig, error) {
	return f.configs, f.loadErr
}

func (f *fakeConfigStore) List(ctx context.Context, userEmail string) ([]ProviderConfig, error) {
	out := make([]ProviderConfig, 0, len(f.configs))
	for _, cfg := range f.configs {
		out = append(out, cfg.Masked())
	}
	return out, nil
}

func (f *fakeConfigStore) Upsert(ctx context.Context, cfg ProviderConfig) error {
	return nil
}

func (f *fakeConfigStore) GetSettings(ctx context.Context, userEmail string) (Settings, error) {
	return f.settings, nil
}

func (f *fakeConfigStore) UpsertSettings(ctx context.Context, settings Settings) error {
	return nil
}

var _ ConfigStore = (*fakeConfigStore)(nil)

type fakeGateway struct {
	opinion Opinion
	err     error
	calls   int
	lastCfg ProviderConfig
	lastReq Request
}

func (f *fakeGateway) Generate(ctx context.Context, cfg ProviderConfig, req Request) (Opinion, error) {
	f.calls++
	f.lastCfg = cfg
	f.lastReq = req
	return f.opinion, f.err
}

func newTestAdvisor(store ConfigStore, gw Gateway) *Advisor {
	a := New(store, time.Second, zerolog.Nop())
	a.gateways = map[string]Gateway{"openai": gw, "deepseek": gw, "gemini": gw}
	a.fallback = gw
	return a
}

func TestGetOpinionUsesSelectedProvider(t *testing.T) {
	store := &fakeConfigStore{
		configs: []ProviderConfig{
			{ProviderID: "deepseek", Enabled: true, APIKey: "k1"},
			{ProviderID: "openai", Enabled: true, APIKey: "k2"},
		},
		settings: Settings{UserEmail: "a@b.com", DefaultProvider: "openai", ProxyURL: "http://127.0.0.1:7890"},
	}
	gw := &fakeGateway{opinion: Opinion{OverallScore: 60, Recommendation: "Hold", ConfidenceLevel: "Medium", KeyReasons: []string{"x"}, Provider: "openai"}}
	a := newTestAdvisor(store, gw)

	opinion := a.GetOpinion(context.Background(), "a@b.com", testRequest(), "")
	if opinion.Err {
		t.Fatalf("不应返回 error opinion: %+v", opinion)
	}
	if gw.lastCfg.ProviderID != "openai" {
		t.Fatalf("应使用 owner 默认 provider: %q", gw.lastCfg.ProviderID)
	}
	// 代理配置必须随请求传递给网关
	if gw.lastReq.ProxyURL != "http://127.0.0.1:7890" {
		t.Fatalf("ProxyURL 未传递: %q", gw.lastReq.ProxyURL)
	}
}

func TestGetOpinionNoProviderConfigured(t *testing.T) {
	gw := &fakeGateway{}
	a := newTestAdvisor(&fakeConfigStore{}, gw)

	opinion := a.GetOpinion(context.Background(), "a@b.com", testRequest(), "")
	if !opinion.Err || opinion.Message != "no provider configured" {
		t.Fatalf("无 provider 时应返回 error opinion: %+v", opinion)
	}
	if gw.calls != 0 {
		t.Fatal("无 provider 时不应发起网关调用")
	}
}

func TestGetOpinionGatewayFailureBecomesErrorOpinion(t *testing.T) {
	store := &fakeConfigStore{configs: []ProviderConfig{{ProviderID: "openai", Enabled: true, APIKey: "k"}}}
	gw := &fakeGateway{err: ErrTimeout}
	a := newTestAdvisor(store, gw)

	opinion := a.GetOpinion(context.Background(), "a@b.com", testRequest(), "")
	if !opinion.Err {
		t.Fatalf("网关失败应折叠为 error opinion: %+v", opinion)
	}
	if opinion.Recommendation != "Monitor" || opinion.ConfidenceLevel != "Low" {
		t.Fatalf("error opinion 的兜底字段错误: %+v", opinion)
	}
}

func TestGetOpinionConfigStoreFailure(t *testing.T) {
	store := &fakeConfigStore{loadErr: errors.New("db down")}
	a := newTestAdvisor(store, &fakeGateway{})

	opinion := a.GetOpinion(context.Background(), "a@b.com", testRequest(), "")
	if !opinion.Err {
		t.Fatalf("配置加载失败应返回 error opinion: %+v", opinion)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	store := &fakeConfigStore{configs: []ProviderConfig{{ProviderID: "openai", Enabled: true, APIKey: "k"}}}
	gw := &fakeGateway{err: ErrUnreachable}
	a := newTestAdvisor(store, gw)

	for i := 0; i < 5; i++ {
		_ = a.GetOpinion(context.Background(), "a@b.com", testRequest(), "")
	}
	// 连续 3 次失败后熔断, 后续调用不再触达网关
	if gw.calls != 3 {
		t.Fatalf("熔断后应停止调用网关, 实际调用 %d 次", gw.calls)
	}
}
