package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatch/internal/advisor"
	"stockwatch/internal/alertlog"
	"stockwatch/internal/detector"
	"stockwatch/internal/notify"
	"stockwatch/internal/quotes"
	"stockwatch/internal/watchlist"
)

// Trigger 标识一次扫描的来源。
type Trigger string

const (
	// TriggerTimer 表示定时器触发。
	TriggerTimer Trigger = "TIMER"
	// TriggerManual 表示手动触发。
	TriggerManual Trigger = "MANUAL"
)

// ErrScanInProgress 表示已有扫描在执行。手动触发方收到拒绝,
// 定时器触发方丢弃本次 tick。
var ErrScanInProgress = errors.New("scanner: scan already running")

// Summary 是一次扫描的执行结果。
type Summary struct {
	ScanID             string    `json:"scan_id"`
	Trigger            Trigger   `json:"trigger"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	InstrumentsChecked int       `json:"instruments_checked"`
	AlertsFired        int       `json:"alerts_fired"`
	Errors             []string  `json:"errors"`
}

// OpinionSource generates an opinion for a firing alert. Always returns a
// value; failed generations come back error-tagged.
type OpinionSource interface {
	GetOpinion(ctx context.Context, userEmail string, req advisor.Request, preferred string) advisor.Opinion
}

// Options 控制扫描内部并发度。
type Options struct {
	QuoteConcurrency   int
	OpinionConcurrency int
	AIEnabled          bool
}

func (o Options) normalized() Options {
	if o.QuoteConcurrency <= 0 {
		o.QuoteConcurrency = 4
	}
	if o.OpinionConcurrency <= 0 {
		o.OpinionConcurrency = 2
	}
	return o
}

// Engine runs scan cycles: load watchlist, fan out quotes, decide crossings,
// and for each firing alert persist the event, advance the stored direction,
// and notify. At most one cycle runs at a time process-wide.
type Engine struct {
	watchlist watchlist.Store
	alerts    alertlog.Store
	quotes    quotes.Gateway
	opinions  OpinionSource
	notifier  notify.Notifier
	opts      Options
	logger    zerolog.Logger

	mu          sync.Mutex
	running     bool
	lastSummary *Summary
}

// NewEngine 组装扫描引擎。opinions 可为 nil (AI 关闭时)。
func NewEngine(
	wl watchlist.Store,
	alerts alertlog.Store,
	gateway quotes.Gateway,
	opinions OpinionSource,
	notifier notify.Notifier,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		watchlist: wl,
		alerts:    alerts,
		quotes:    gateway,
		opinions:  opinions,
		notifier:  notifier,
		opts:      opts.normalized(),
		logger:    logger.With().Str("component", "scanner").Logger(),
	}
}

// Running reports whether a scan is in flight.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// LastSummary returns the most recent completed scan, if any.
func (e *Engine) LastSummary() (Summary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSummary == nil {
		return Summary{}, false
	}
	return *e.lastSummary, true
}

// Run executes one scan cycle. A second trigger while one is in flight gets
// ErrScanInProgress, never queued.
func (e *Engine) Run(ctx context.Context, trigger Trigger) (summary Summary, err error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Summary{}, ErrScanInProgress
	}
	e.running = true
	e.mu.Unlock()

	summary = Summary{
		ScanID:    uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
		Errors:    []string{},
	}

	// 即便 scan panic, 单飞门闩也必须释放。
	defer func() {
		if r := recover(); r != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("scan panic: %v", r))
		}
		summary.FinishedAt = time.Now()

		last := summary
		e.mu.Lock()
		e.running = false
		e.lastSummary = &last
		e.mu.Unlock()

		e.logger.Info().
			Str("scan_id", summary.ScanID).
			Int("instruments", summary.InstrumentsChecked).
			Int("alerts", summary.AlertsFired).
			Int("errors", len(summary.Errors)).
			Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
			Msg("扫描结束")
	}()

	e.logger.Info().Str("scan_id", summary.ScanID).Str("trigger", string(trigger)).Msg("扫描开始")
	e.scan(ctx, &summary)
	return summary, nil
}

type quoteResult struct {
	price decimal.Decimal
	err   error
}

func (e *Engine) scan(ctx context.Context, summary *Summary) {
	entries, err := e.watchlist.ListAll(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("watchlist: %v", err))
		return
	}
	if len(entries) == 0 {
		return
	}

	prices := e.fetchQuotes(ctx, entries)

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.opts.OpinionConcurrency)
		mu  sync.Mutex
	)
	report := func(fired bool, errs ...string) {
		mu.Lock()
		defer mu.Unlock()
		summary.InstrumentsChecked++
		if fired {
			summary.AlertsFired++
		}
		summary.Errors = append(summary.Errors, errs...)
	}

	for _, entry := range entries {
		// 单个标的 panic 只计入 errors, 不中断本轮扫描。
		func(entry watchlist.Entry) {
			defer func() {
				if r := recover(); r != nil {
					report(false, fmt.Sprintf("%s/%s panic: %v", entry.UserEmail, entry.StockCode, r))
				}
			}()

			quote, ok := prices[entry.StockCode]
			if !ok || quote.err != nil {
				reason := "quote missing"
				if ok {
					reason = quote.err.Error()
				}
				report(false, fmt.Sprintf("%s/%s quote: %s", entry.UserEmail, entry.StockCode, reason))
				return
			}

			decision := detector.Decide(entry.LastDirection, quote.price, entry.UpperThreshold, entry.LowerThreshold)
			if !decision.Fires {
				report(false, e.recordIdle(ctx, entry, decision, quote.price)...)
				return
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(price decimal.Decimal, next detector.Direction) {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					if r := recover(); r != nil {
						report(false, fmt.Sprintf("%s/%s panic: %v", entry.UserEmail, entry.StockCode, r))
					}
				}()
				fired, errs := e.fireAlert(ctx, entry, price, next)
				report(fired, errs...)
			}(quote.price, decision.Direction)
		}(entry)
	}
	wg.Wait()
}

// fetchQuotes pulls one price per distinct instrument code, fan-out bounded by
// QuoteConcurrency. Owners sharing a code share the sample.
func (e *Engine) fetchQuotes(ctx context.Context, entries []watchlist.Entry) map[string]quoteResult {
	codes := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.StockCode]; ok {
			continue
		}
		seen[entry.StockCode] = struct{}{}
		codes = append(codes, entry.StockCode)
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.opts.QuoteConcurrency)
		mu  sync.Mutex
	)
	results := make(map[string]quoteResult, len(codes))

	for _, code := range codes {
		wg.Add(1)
		sem <- struct{}{}
		go func(code string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					results[code] = quoteResult{err: fmt.Errorf("quote panic: %v", r)}
					mu.Unlock()
				}
			}()

			price, err := e.quotes.GetPrice(ctx, code)
			mu.Lock()
			results[code] = quoteResult{price: price, err: err}
			mu.Unlock()
			if err != nil {
				e.logger.Warn().Err(err).Str("code", code).Msg("行情获取失败")
			}
		}(code)
	}
	wg.Wait()
	return results
}

// recordIdle persists bookkeeping for a non-firing sample: the latest price,
// plus the direction reset when the price came back inside the band.
func (e *Engine) recordIdle(ctx context.Context, entry watchlist.Entry, decision detector.Decision, price decimal.Decimal) []string {
	if decision.Direction != entry.LastDirection {
		err := e.watchlist.UpdateDirection(ctx, entry.UserEmail, entry.StockCode, entry.LastDirection, decision.Direction, price)
		if err != nil && !errors.Is(err, watchlist.ErrDirectionConflict) {
			return []string{fmt.Sprintf("%s/%s direction reset: %v", entry.UserEmail, entry.StockCode, err)}
		}
		return nil
	}
	if err := e.watchlist.UpdateLastPrice(ctx, entry.UserEmail, entry.StockCode, price); err != nil && !errors.Is(err, watchlist.ErrNotFound) {
		return []string{fmt.Sprintf("%s/%s last price: %v", entry.UserEmail, entry.StockCode, err)}
	}
	return nil
}

// fireAlert runs the durable path for one crossing: opinion, event append,
// direction update, notification. The event is written before the direction
// advances, so a crash in between re-fires rather than losing the alert.
// Returns whether the alert was durably recorded.
func (e *Engine) fireAlert(ctx context.Context, entry watchlist.Entry, price decimal.Decimal, next detector.Direction) (bool, []string) {
	var errs []string

	threshold := entry.UpperThreshold
	if next == detector.DirectionDown {
		threshold = entry.LowerThreshold
	}

	var opinion advisor.Opinion
	var opinionRaw json.RawMessage
	if e.opts.AIEnabled && e.opinions != nil {
		opinion = e.opinions.GetOpinion(ctx, entry.UserEmail, advisor.Request{
			StockCode: entry.StockCode,
			StockName: entry.StockName,
			Price:     price,
			Direction: next,
		}, "")
		if raw, err := json.Marshal(opinion); err == nil {
			opinionRaw = raw
		}
	}

	firedAt := time.Now()
	event := alertlog.Event{
		UserEmail:      entry.UserEmail,
		StockCode:      entry.StockCode,
		StockName:      entry.StockName,
		TriggeredPrice: price,
		ThresholdPrice: threshold,
		Direction:      next,
		Opinion:        opinionRaw,
	}
	if _, err := e.alerts.Append(ctx, event); err != nil {
		// 告警未落盘, 不推进方向, 下一轮重试
		return false, append(errs, fmt.Sprintf("%s/%s append alert: %v", entry.UserEmail, entry.StockCode, err))
	}

	if err := e.watchlist.UpdateDirection(ctx, entry.UserEmail, entry.StockCode, entry.LastDirection, next, price); err != nil {
		errs = append(errs, fmt.Sprintf("%s/%s direction update: %v", entry.UserEmail, entry.StockCode, err))
	}

	note := notify.Notification{
		UserEmail: entry.UserEmail,
		StockCode: entry.StockCode,
		StockName: entry.StockName,
		Price:     price,
		Threshold: threshold,
		Direction: next,
		FiredAt:   firedAt,
		Opinion:   opinion,
	}
	if err := e.notifier.Notify(ctx, note); err != nil {
		e.logger.Warn().Err(err).Str("user", entry.UserEmail).Str("code", entry.StockCode).Msg("告警投递失败")
		errs = append(errs, fmt.Sprintf("%s/%s notify: %v", entry.UserEmail, entry.StockCode, err))
	}

	e.logger.Info().
		Str("user", entry.UserEmail).
		Str("code", entry.StockCode).
		Str("direction", string(next)).
		Str("price", price.String()).
		Msg("告警触发")
	return true, errs
}
