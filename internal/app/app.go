package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"barwatch/internal/alerting"
	"barwatch/internal/analysis"
	"barwatch/internal/config"
	"barwatch/internal/counters"
	"barwatch/internal/domain"
	"barwatch/internal/escalation"
	"barwatch/internal/freshness"
	"barwatch/internal/ingest"
	"barwatch/internal/kpi"
	"barwatch/internal/metrics"
	"barwatch/internal/runs"
	"barwatch/internal/scheduler"
	"barwatch/internal/service"
	"barwatch/internal/storage"
	"barwatch/internal/storage/memory"
	"barwatch/internal/storage/postgres"
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

// stores groups the persistence interfaces the service needs, regardless of
// which backend provides them.
type stores struct {
	bars      storage.BarStore
	status    storage.StatusStore
	runs      storage.RunStore
	decisions storage.DecisionStore
	locker    storage.AdvisoryLocker
}

func (a *App) openStores(ctx context.Context) (*stores, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory persistence")
		return &stores{
			bars:      memory.NewBarStore(),
			status:    memory.NewStatusStore(),
			runs:      memory.NewRunStore(),
			decisions: memory.NewDecisionStore(),
		}, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.NewStore(pool)
	return &stores{
		bars:      store,
		status:    store,
		runs:      store,
		decisions: store,
		locker:    store,
	}, store.Close, nil
}

func (a *App) newCounters() counters.CycleCounters {
	ttl := counters.TTLFor(a.Config.Scheduler.EscalationInterval)
	if a.Config.Redis.Addr == "" {
		return counters.NewMemory(ttl)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	return counters.NewRedis(client, ttl)
}

func (a *App) newDispatcher(st *stores) *alerting.Dispatcher {
	cfg := a.Config.Notify
	var channels []alerting.Channel
	if cfg.Telegram.Enabled {
		channels = append(channels, alerting.Channel{
			Notifier:    alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger),
			MinSeverity: domain.Severity(cfg.Telegram.MinSeverity),
		})
	}
	if cfg.Webhook.Enabled {
		channels = append(channels, alerting.Channel{
			Notifier:    alerting.NewWebhookNotifier(cfg.Webhook.URL, 10*time.Second, a.Logger),
			MinSeverity: domain.Severity(cfg.Webhook.MinSeverity),
		})
	}
	if cfg.Slack.Enabled {
		channels = append(channels, alerting.Channel{
			Notifier:    alerting.NewSlackNotifier(cfg.Slack.WebhookURL, 10*time.Second, a.Logger),
			MinSeverity: domain.Severity(cfg.Slack.MinSeverity),
		})
	}

	return alerting.NewDispatcher(channels, st.status, alerting.DispatcherOptions{
		Enabled:            cfg.Enabled,
		DryRun:             cfg.DryRun,
		MaxEventsPerMinute: cfg.MaxEventsPerMinute,
	}, a.Logger)
}

func (a *App) pairs() []domain.Pair {
	var out []domain.Pair
	for _, sym := range a.Config.Watchlist.Symbols {
		for _, tf := range a.Config.Watchlist.Timeframes {
			out = append(out, domain.Pair{Symbol: sym, Timeframe: tf})
		}
	}
	return out
}

func (a *App) buildService(st *stores) *service.Service {
	logger := a.Logger

	provider := ingest.NewAllTick(ingest.AllTickOptions{
		BaseURL: a.Config.Provider.BaseURL,
		Token:   a.Config.Provider.Token,
		Timeout: a.Config.Provider.RequestTimeout,
	}, logger)

	ingestor := ingest.NewIngestor(provider, st.bars, ingest.Options{
		FailureCooldown: a.Config.Provider.FailureCooldown,
		MaxFailures:     a.Config.Provider.MaxFailures,
		KeyAgeDays:      a.Config.KeyAgeDays(time.Now().UTC()),
	}, logger)

	tracker := runs.NewTracker(st.runs, st.decisions, logger)
	pipeline := analysis.NewPipeline(st.bars, &analysis.StubRuleEngine{Bars: st.bars}, analysis.StubMLBridge{}, tracker, logger)
	pipeline.DryRun = a.Config.Analysis.DryRun

	dispatcher := a.newDispatcher(st)
	ctrs := a.newCounters()
	evaluator := escalation.NewEvaluator(st.status, st.runs, ctrs, dispatcher, logger)
	maintainer := escalation.NewMaintainer(st.status, ctrs, dispatcher, logger)

	tickSched := scheduler.New(scheduler.Options{
		Name:         "tick_scheduler",
		Interval:     a.Config.Scheduler.TickInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, logger)

	return service.New(service.Deps{
		Scheduler:  tickSched,
		Pairs:      a.pairs(),
		Cadences:   freshness.Cadences(a.Config.Freshness.Cadence),
		Ingestor:   ingestor,
		Pipeline:   pipeline,
		Tracker:    tracker,
		KPIs:       kpi.NewAggregator(st.runs),
		Bars:       st.bars,
		Status:     st.status,
		Dispatcher: dispatcher,
		Evaluator:  evaluator,
		Maintainer: maintainer,
		Locker:     st.locker,
		LockKey:    a.Config.Scheduler.AdvisoryLockKey,
	}, a.Config.Dispatch.Workers, a.Config.Dispatch.QueueSize, logger)
}

// Run executes the long-running orchestration service: the cycle scheduler,
// the escalation ladder, breaker maintenance, the worker pool, and the
// optional metrics endpoint.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	svc := a.buildService(st)
	svc.Pool().Start(ctx)
	defer svc.Pool().Close()

	escSched := scheduler.New(scheduler.Options{
		Name:         "escalation_scheduler",
		Interval:     a.Config.Scheduler.EscalationInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
	}, a.Logger)
	breakerSched := scheduler.New(scheduler.Options{
		Name:         "breaker_scheduler",
		Interval:     a.Config.Scheduler.BreakerInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return escSched.Run(gctx, svc.EscalationPass) })
	g.Go(func() error { return breakerSched.Run(gctx, svc.BreakerPass) })

	if addr := a.Config.Metrics.Addr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler()}
		g.Go(func() error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
		a.Logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	}

	a.Logger.Info().Int("pairs", len(a.pairs())).Msg("starting orchestration service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("orchestration service stopped")
	return nil
}
