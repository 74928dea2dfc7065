package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"stockwatch/internal/advisor"
	"stockwatch/internal/alertlog"
	"stockwatch/internal/config"
	"stockwatch/internal/notify"
	"stockwatch/internal/quotes"
	"stockwatch/internal/scanner"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/server"
	"stockwatch/internal/storage"
	"stockwatch/internal/watchlist"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// stores bundles the Postgres-backed persistence layers.
type stores struct {
	pool      *pgxpool.Pool
	watchlist watchlist.Store
	alerts    alertlog.Store
	configs   advisor.ConfigStore
}

func (a *App) openStores(ctx context.Context) (*stores, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	s := &stores{
		pool:      pool,
		watchlist: watchlist.NewPGStore(pool),
		alerts:    alertlog.NewPGStore(pool),
		configs:   advisor.NewPGConfigStore(pool),
	}
	return s, pool.Close, nil
}

func (a *App) newQuoteGateway() quotes.Gateway {
	cfg := a.Config.Quotes
	rest := quotes.NewHTTPGateway(quotes.HTTPOptions{
		BaseURL:        cfg.BaseURL,
		APIToken:       cfg.APIToken,
		Timeout:        cfg.RequestTimeout,
		UserAgent:      cfg.UserAgent,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, a.Logger)

	if cfg.RPCURL != "" && len(cfg.OnchainFeeds) > 0 {
		onchain := quotes.NewOnchain(quotes.OnchainOptions{
			RPCURL:  cfg.RPCURL,
			Feeds:   cfg.OnchainFeeds,
			Timeout: cfg.RequestTimeout,
		}, a.Logger)
		return quotes.NewRouter(onchain, rest)
	}
	return rest
}

func (a *App) newNotifier() notify.Notifier {
	if a.Config.Alerting.EmailEnabled {
		return notify.NewSMTPMailer(a.Config.SMTP, a.Logger)
	}
	return notify.NewLogNotifier(a.Logger)
}

func (a *App) newAdvisor(configs advisor.ConfigStore) *advisor.Advisor {
	if !a.Config.AI.Enabled {
		return nil
	}
	return advisor.New(configs, a.Config.AI.RequestTimeout, a.Logger)
}

func (a *App) newEngine(s *stores, gateway quotes.Gateway, opinions scanner.OpinionSource, notifier notify.Notifier) *scanner.Engine {
	return scanner.NewEngine(s.watchlist, s.alerts, gateway, opinions, notifier, scanner.Options{
		QuoteConcurrency:   a.Config.Quotes.MaxConcurrent,
		OpinionConcurrency: a.Config.AI.MaxConcurrent,
		AIEnabled:          a.Config.AI.Enabled,
	}, a.Logger)
}

// Run executes the long-running monitoring service: the scan scheduler plus
// the HTTP API, sharing one cancellable context.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	gateway := a.newQuoteGateway()
	notifier := a.newNotifier()
	var opinions scanner.OpinionSource
	if adv := a.newAdvisor(s.configs); adv != nil {
		opinions = adv
	}
	engine := a.newEngine(s, gateway, opinions, notifier)

	var aiConfigs advisor.ConfigStore
	if a.Config.AI.Enabled {
		aiConfigs = s.configs
	}
	srv := server.New(server.Options{
		Listen:       a.Config.HTTP.Listen,
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
		StatusWindow: a.Config.Alerting.StatusWindow,
	}, s.watchlist, s.alerts, engine, opinions, aiConfigs, gateway, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			cancel()
		}
	}()

	var lastCleanup time.Time
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := sched.Run(ctx, func(ctx context.Context, tickAt time.Time) error {
			if _, err := engine.Run(ctx, scanner.TriggerTimer); err != nil {
				if errors.Is(err, scanner.ErrScanInProgress) {
					// 上一轮未结束, 丢弃本次 tick
					a.Logger.Debug().Time("tick", tickAt).Msg("扫描仍在进行, 跳过本次 tick")
					return nil
				}
				return err
			}
			if a.Config.Alerting.RetentionDays > 0 && time.Since(lastCleanup) >= 24*time.Hour {
				lastCleanup = time.Now()
				if _, err := a.cleanupOnce(ctx, s.alerts); err != nil {
					a.Logger.Error().Err(err).Msg("清理历史告警失败")
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
			cancel()
		}
	}()

	a.Logger.Info().Msg("monitoring service started")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP shutdown failed")
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Scan runs one manual scan cycle and returns its summary.
func (a *App) Scan(ctx context.Context) (scanner.Summary, error) {
	s, closeStores, err := a.openStores(ctx)
	if err != nil {
		return scanner.Summary{}, err
	}
	defer closeStores()

	var opinions scanner.OpinionSource
	if adv := a.newAdvisor(s.configs); adv != nil {
		opinions = adv
	}
	engine := a.newEngine(s, a.newQuoteGateway(), opinions, a.newNotifier())
	return engine.Run(ctx, scanner.TriggerManual)
}

// Cleanup removes alert history older than the configured retention window.
func (a *App) Cleanup(ctx context.Context) (int64, error) {
	if a.Config.Alerting.RetentionDays <= 0 {
		return 0, errors.New("alerting.retention_days 未配置")
	}

	s, closeStores, err := a.openStores(ctx)
	if err != nil {
		return 0, err
	}
	defer closeStores()

	return a.cleanupOnce(ctx, s.alerts)
}

func (a *App) cleanupOnce(ctx context.Context, alerts alertlog.Store) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -a.Config.Alerting.RetentionDays)
	removed, err := alerts.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		a.Logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("历史告警已清理")
	}
	return removed, nil
}

// ExportOptions hold parameters for exporting alert history.
type ExportOptions struct {
	UserEmail string
	StockCode string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
