package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatch/internal/advisor"
	"stockwatch/internal/detector"
)

// Notification 封装单条告警的完整上下文。
type Notification struct {
	UserEmail string
	StockCode string
	StockName string
	Price     decimal.Decimal
	Threshold decimal.Decimal
	Direction detector.Direction
	FiredAt   time.Time
	Opinion   advisor.Opinion
}

// Notifier 定义告警输送接口。投递失败不回滚告警记录。
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// RenderSubject builds the mail subject line.
func RenderSubject(note Notification) string {
	verb := "价格异动"
	switch note.Direction {
	case detector.DirectionUp:
		verb = "突破上轨"
	case detector.DirectionDown:
		verb = "跌破下轨"
	}
	return fmt.Sprintf("[StockWatch] %s(%s) %s %s", note.StockName, note.StockCode, verb, note.Price.String())
}

// RenderBody builds the plain-text mail body.
func RenderBody(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Instrument: %s (%s)\n", note.StockName, note.StockCode))
	builder.WriteString(fmt.Sprintf("Time: %s\n", note.FiredAt.Local().Format("2006-01-02 15:04:05")))
	builder.WriteString(fmt.Sprintf("Price: %s\n", note.Price.String()))
	builder.WriteString(fmt.Sprintf("Threshold: %s\n", note.Threshold.String()))
	builder.WriteString(fmt.Sprintf("Direction: %s\n", note.Direction))

	if note.Opinion.Err {
		builder.WriteString(fmt.Sprintf("\nAI opinion unavailable: %s\n", note.Opinion.Message))
		return builder.String()
	}
	if note.Opinion.Recommendation == "" {
		// 没有附带 AI 观点 (未启用或未生成)
		return builder.String()
	}

	builder.WriteString("\n--- AI Opinion ---\n")
	if note.Opinion.Provider != "" {
		builder.WriteString(fmt.Sprintf("Provider: %s\n", note.Opinion.Provider))
	}
	builder.WriteString(fmt.Sprintf("Score: %d/100\n", note.Opinion.OverallScore))
	builder.WriteString(fmt.Sprintf("Recommendation: %s (confidence %s)\n", note.Opinion.Recommendation, note.Opinion.ConfidenceLevel))
	if reason := note.Opinion.TopReason(); reason != "" {
		builder.WriteString(fmt.Sprintf("Key reason: %s\n", reason))
	}
	if note.Opinion.TechnicalSummary != "" {
		builder.WriteString(fmt.Sprintf("Technical: %s\n", note.Opinion.TechnicalSummary))
	}
	return builder.String()
}

// LogNotifier 仅写日志, 用于未启用邮件的部署与 simulate 命令。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify 把渲染后的告警写进结构化日志。
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Info().
		Str("user", note.UserEmail).
		Str("code", note.StockCode).
		Str("direction", string(note.Direction)).
		Str("price", note.Price.String()).
		Str("subject", RenderSubject(note)).
		Msg("告警已记录 (log)")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
