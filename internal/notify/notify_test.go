package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatch/internal/advisor"
	"stockwatch/internal/config"
	"stockwatch/internal/detector"
)

func sampleNotification() Notification {
	return Notification{
		UserEmail: "trader@example.com",
		StockCode: "600036.SH",
		StockName: "招商银行",
		Price:     decimal.NewFromFloat(42.5),
		Threshold: decimal.NewFromFloat(42.0),
		Direction: detector.DirectionUp,
		FiredAt:   time.Date(2026, 3, 2, 10, 30, 0, 0, time.Local),
		Opinion: advisor.Opinion{
			OverallScore:    70,
			Recommendation:  "Hold",
			ConfidenceLevel: "Medium",
			KeyReasons:      []string{"上行动能减弱"},
			Provider:        "openai",
		},
	}
}

func TestRenderSubjectUp(t *testing.T) {
	subject := RenderSubject(sampleNotification())
	if !strings.Contains(subject, "突破上轨") || !strings.Contains(subject, "600036.SH") {
		t.Fatalf("主题渲染错误: %q", subject)
	}
}

func TestRenderBodyWithOpinion(t *testing.T) {
	body := RenderBody(sampleNotification())
	for _, want := range []string{"600036.SH", "42.5", "Recommendation: Hold", "上行动能减弱"} {
		if !strings.Contains(body, want) {
			t.Fatalf("正文缺少 %q:\n%s", want, body)
		}
	}
}

func TestRenderBodyErrorOpinion(t *testing.T) {
	note := sampleNotification()
	note.Opinion = advisor.ErrorOpinion("provider timed out")
	body := RenderBody(note)
	if !strings.Contains(body, "AI opinion unavailable: provider timed out") {
		t.Fatalf("error opinion 应降级为提示文案:\n%s", body)
	}
	if strings.Contains(body, "Score:") {
		t.Fatal("error opinion 不应渲染评分段")
	}
}

func TestSMTPMailerSendsRenderedMail(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	mailer := NewSMTPMailer(config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "bot@example.com",
		Password: "secret",
	}, zerolog.Nop())
	mailer.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := mailer.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("发送不应失败: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("SMTP 地址错误: %q", gotAddr)
	}
	if gotFrom != "bot@example.com" {
		t.Fatalf("未配置 sender 时应回退为用户名: %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "trader@example.com" {
		t.Fatalf("收件人错误: %v", gotTo)
	}
	if !strings.Contains(string(gotMsg), "Subject: ") || !strings.Contains(string(gotMsg), "600036.SH") {
		t.Fatalf("邮件内容不完整:\n%s", gotMsg)
	}
}

func TestSMTPMailerMissingHost(t *testing.T) {
	mailer := NewSMTPMailer(config.SMTPConfig{}, zerolog.Nop())
	if err := mailer.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("缺少 host 应报错")
	}
}
