package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stockwatch/internal/alertlog"
	"stockwatch/internal/detector"
	"stockwatch/internal/quotes"
	"stockwatch/internal/scanner"
	"stockwatch/internal/watchlist"
)

// SimulateOptions describe the synthetic crossing to run.
type SimulateOptions struct {
	UserEmail string
	StockCode string
	StockName string
	Price     decimal.Decimal
	Upper     decimal.Decimal
	Lower     decimal.Decimal
}

// SimulateAlert 用静态行情走一遍完整的触发→通知链路, 不触碰数据库与
// 真实行情源, 用于验证通知通道配置。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	entry := watchlist.Entry{
		UserEmail:      opts.UserEmail,
		StockCode:      opts.StockCode,
		StockName:      opts.StockName,
		UpperThreshold: opts.Upper,
		LowerThreshold: opts.Lower,
		LastDirection:  detector.DirectionNone,
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	wl := &simWatchlist{entry: entry}
	log := &simAlertLog{}
	gateway := &staticQuoteGateway{price: opts.Price}

	engine := scanner.NewEngine(wl, log, gateway, nil, a.newNotifier(), scanner.Options{}, a.Logger)
	summary, err := engine.Run(ctx, scanner.TriggerManual)
	if err != nil {
		return err
	}
	if summary.AlertsFired == 0 {
		return fmt.Errorf("价格 %s 未越过区间 [%s, %s], 无告警产生",
			opts.Price, opts.Lower, opts.Upper)
	}
	for _, msg := range summary.Errors {
		a.Logger.Warn().Str("detail", msg).Msg("模拟过程中出现错误")
	}
	a.Logger.Info().Int("alerts", summary.AlertsFired).Msg("模拟告警完成")
	return nil
}

type staticQuoteGateway struct {
	price decimal.Decimal
}

func (s *staticQuoteGateway) GetPrice(ctx context.Context, code string) (decimal.Decimal, error) {
	return s.price, nil
}

var _ quotes.Gateway = (*staticQuoteGateway)(nil)

// simWatchlist holds the single synthetic entry for a simulation run.
type simWatchlist struct {
	mu    sync.Mutex
	entry watchlist.Entry
}

func (s *simWatchlist) Add(ctx context.Context, entry watchlist.Entry) (watchlist.Entry, error) {
	return watchlist.Entry{}, errors.New("not supported in simulation")
}

func (s *simWatchlist) ListAll(ctx context.Context) ([]watchlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []watchlist.Entry{s.entry}, nil
}

func (s *simWatchlist) ListByOwner(ctx context.Context, userEmail string) ([]watchlist.Entry, error) {
	return s.ListAll(ctx)
}

func (s *simWatchlist) Get(ctx context.Context, userEmail, stockCode string) (watchlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry, nil
}

func (s *simWatchlist) UpdateThresholds(ctx context.Context, userEmail, stockCode string, upper, lower decimal.Decimal) error {
	return errors.New("not supported in simulation")
}

func (s *simWatchlist) Remove(ctx context.Context, userEmail, stockCode string) error {
	return errors.New("not supported in simulation")
}

func (s *simWatchlist) UpdateDirection(ctx context.Context, userEmail, stockCode string, expected, next detector.Direction, lastPrice decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry.LastDirection != expected {
		return watchlist.ErrDirectionConflict
	}
	s.entry.LastDirection = next
	s.entry.LastPrice = &lastPrice
	return nil
}

func (s *simWatchlist) UpdateLastPrice(ctx context.Context, userEmail, stockCode string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry.LastPrice = &price
	return nil
}

var _ watchlist.Store = (*simWatchlist)(nil)

// simAlertLog captures the simulated event in memory.
type simAlertLog struct {
	mu     sync.Mutex
	events []alertlog.Event
}

func (s *simAlertLog) Append(ctx context.Context, event alertlog.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = int64(len(s.events) + 1)
	event.CreatedAt = time.Now()
	s.events = append(s.events, event)
	return event.ID, nil
}

func (s *simAlertLog) Query(ctx context.Context, filter alertlog.Filter, req alertlog.PageRequest) (alertlog.Page, error) {
	return alertlog.Page{}, nil
}

func (s *simAlertLog) RecentSince(ctx context.Context, userEmail string, since time.Time) ([]alertlog.Event, error) {
	return nil, nil
}

func (s *simAlertLog) ListRecent(ctx context.Context, limit int) ([]alertlog.Event, error) {
	return nil, nil
}

func (s *simAlertLog) DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

var _ alertlog.Store = (*simAlertLog)(nil)
