package advisor

import (
	"errors"
	"testing"
)

const goodPayload = `{
  "overall_score": 72,
  "recommendation": "Hold",
  "technical_summary": "tech",
  "fundamental_summary": "fund",
  "sentiment_summary": "sent",
  "key_reasons": ["momentum cooling", "support nearby"],
  "confidence_level": "Medium"
}`

func TestParseOpinionPlain(t *testing.T) {
	opinion, err := parseOpinion(goodPayload, "openai")
	if err != nil {
		t.Fatalf("合法 JSON 不应报错: %v", err)
	}
	if opinion.OverallScore != 72 || opinion.Recommendation != "Hold" {
		t.Fatalf("字段解析错误: %+v", opinion)
	}
	if opinion.Provider != "openai" {
		t.Fatalf("provider 应为 openai: %+v", opinion)
	}
	if opinion.Err {
		t.Fatal("成功解析不应带 error 标记")
	}
}

func TestParseOpinionStripsMarkdownFence(t *testing.T) {
	fenced := "```json\n" + goodPayload + "\n```"
	opinion, err := parseOpinion(fenced, "deepseek")
	if err != nil {
		t.Fatalf("带 Markdown 代码块的 JSON 应可解析: %v", err)
	}
	if opinion.TopReason() != "momentum cooling" {
		t.Fatalf("TopReason 错误: %q", opinion.TopReason())
	}
}

func TestParseOpinionRejectsGarbage(t *testing.T) {
	if _, err := parseOpinion("the stock looks fine to me", "openai"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("非 JSON 内容应返回 ErrMalformed, 实际 %v", err)
	}
}

func TestParseOpinionRejectsPartialShape(t *testing.T) {
	cases := []string{
		`{"overall_score": 120, "recommendation": "Hold", "confidence_level": "Low", "key_reasons": ["x"]}`,
		`{"overall_score": 50, "recommendation": "YOLO", "confidence_level": "Low", "key_reasons": ["x"]}`,
		`{"overall_score": 50, "recommendation": "Hold", "confidence_level": "certain", "key_reasons": ["x"]}`,
		`{"overall_score": 50, "recommendation": "Hold", "confidence_level": "Low", "key_reasons": []}`,
	}
	for _, payload := range cases {
		if _, err := parseOpinion(payload, "openai"); !errors.Is(err, ErrMalformed) {
			t.Fatalf("残缺结构应返回 ErrMalformed: %s", payload)
		}
	}
}

func TestErrorOpinion(t *testing.T) {
	opinion := ErrorOpinion("no provider configured")
	if !opinion.Err || opinion.Message != "no provider configured" {
		t.Fatalf("error opinion 构造错误: %+v", opinion)
	}
}

func TestMaskedConfig(t *testing.T) {
	cfg := ProviderConfig{APIKey: "sk-verysecretkey"}
	masked := cfg.Masked()
	if masked.APIKey == cfg.APIKey {
		t.Fatal("Masked 不应返回明文密钥")
	}
	if masked.APIKey[:4] != "sk-v" {
		t.Fatalf("掩码应保留前 4 位: %q", masked.APIKey)
	}
}

func TestSelectProvider(t *testing.T) {
	configs := []ProviderConfig{
		{ProviderID: "deepseek", Enabled: true},
		{ProviderID: "gemini", Enabled: false},
		{ProviderID: "openai", Enabled: true},
	}

	if cfg, ok := selectProvider(configs, "openai", ""); !ok || cfg.ProviderID != "openai" {
		t.Fatalf("preferred 启用时应优先选中: %+v", cfg)
	}
	// preferred 未启用时回退到 owner 默认
	if cfg, ok := selectProvider(configs, "gemini", "openai"); !ok || cfg.ProviderID != "openai" {
		t.Fatalf("应回退到 owner 默认: %+v", cfg)
	}
	// 无 preferred、无默认时取稳定顺序的第一个启用项
	if cfg, ok := selectProvider(configs, "", ""); !ok || cfg.ProviderID != "deepseek" {
		t.Fatalf("应取第一个启用的 provider: %+v", cfg)
	}
	if _, ok := selectProvider(nil, "", ""); ok {
		t.Fatal("无任何配置时不应选中 provider")
	}
}
