package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"ox-market-maker/internal/alerts"
	"ox-market-maker/internal/config"
	"ox-market-maker/internal/exec"
	"ox-market-maker/internal/handoff"
	"ox-market-maker/internal/market"
	"ox-market-maker/internal/metrics"
	"ox-market-maker/internal/ox/auth"
	"ox-market-maker/internal/ox/exchange"
	"ox-market-maker/internal/ox/ws"
	"ox-market-maker/internal/position"
	"ox-market-maker/internal/state"
	"ox-market-maker/internal/state/sqlite"
	"ox-market-maker/internal/strategy"
	"ox-market-maker/internal/timescale"
	"ox-market-maker/internal/universe"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// OrderSource lists the resting orders on one instrument.
type OrderSource interface {
	WorkingOrders(ctx context.Context, instrument string) ([]exchange.WorkingOrder, error)
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	exchange  *exchange.Client
	orders    OrderSource
	feed      *market.Feed
	market    *market.Store
	positions *position.Tracker
	selection *universe.State
	executor  *exec.Executor
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	journal   *timescale.Writer
	handoff   *handoff.Writer
	strategy  strategy.Config
	now       func() time.Time

	countsMu sync.Mutex
	counts   map[string]strategy.OrderCounts
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	creds, err := config.CredentialsFromEnv()
	if err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	signer, err := auth.NewSigner(creds.APIKey, creds.APISecret)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	exClient, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, cfg.Trading.RecvWindow)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	exClient.SetLogger(log)

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	stream := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	stream.SetSigner(signer)
	stream.OnReconnect(func() { m.FeedReconnects.Inc() })
	marketStore := market.NewStore(cfg.Universe.Instruments)
	feed := market.NewFeed(stream, marketStore, log)
	tracker := position.NewTracker(exClient, cfg.Trading.CallTimeout, m, log)
	feed.EnablePositions(tracker)

	var notifier alerts.Notifier
	if telegram := alerts.NewTelegram(cfg.Telegram, log); telegram.Enabled() {
		notifier = telegram
	}
	escalator := alerts.NewEscalator(notifier, cfg.Telegram.FailureThreshold, m, log)
	executor := exec.New(exClient, exec.Options{
		CallTimeout: cfg.Trading.CallTimeout,
		SettleDelay: cfg.Schedule.CancelSettleDelay,
		TimeInForce: cfg.Trading.TimeInForce,
		DryRun:      cfg.Trading.DryRun,
	}, escalator, m, log)

	journal, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var handoffWriter *handoff.Writer
	if cfg.Handoff.Enabled() {
		handoffWriter = handoff.NewWriter(cfg.Handoff.Path, cfg.Handoff.Format)
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		exchange:  exClient,
		orders:    exClient,
		feed:      feed,
		market:    marketStore,
		positions: tracker,
		selection: universe.NewState(nil, nil),
		executor:  executor,
		metrics:   m,
		prom:      prom,
		journal:   journal,
		handoff:   handoffWriter,
		strategy:  strategy.NewConfig(cfg),
		now:       time.Now,
		counts:    make(map[string]strategy.OrderCounts),
	}, nil
}

// Run restores state, clears stale orders and then drives the feed and the
// three reconciliation loops until ctx is done. Resting orders on the
// selection are cancelled on the way out.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	a.initNonceStore(ctx)
	a.journal.Start(ctx)

	if err := a.positions.RefreshAll(ctx, a.market.Universe()); err != nil {
		a.log.Warn("initial position refresh failed", zap.Error(err))
	}
	a.restoreSelection(ctx)
	a.cleanupStartup(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if a.prom != nil {
		g.Go(func() error { return a.serveMetrics(gctx) })
	}
	g.Go(func() error { return a.feed.Start(gctx, a.selection.Selected()) })
	g.Go(func() error { return every(gctx, a.cfg.Schedule.UniverseInterval, a.refreshUniverse) })
	g.Go(func() error { return every(gctx, a.cfg.Schedule.PositionInterval, a.refreshPositions) })
	g.Go(func() error { return every(gctx, a.cfg.Schedule.OrderInterval, a.checkOrders) })
	g.Go(func() error { return every(gctx, a.cfg.Schedule.StatusInterval, a.reportStatus) })
	if a.handoff != nil {
		g.Go(func() error { return every(gctx, a.cfg.Handoff.ExportInterval, a.exportHandoff) })
	}
	err := g.Wait()
	a.cleanupShutdown()
	return err
}

func (a *App) initNonceStore(ctx context.Context) {
	if a.exchange == nil || a.store == nil {
		return
	}
	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if st, ok := a.exchange.NonceState(); ok {
		a.log.Info("client order id persistence enabled", zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
	}
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// Metrics are not worth stopping the trading loops for.
		a.log.Error("metrics server failed", zap.Error(err))
	}
	return nil
}

func (a *App) close() {
	if err := a.journal.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("state store close failed", zap.Error(err))
		}
	}
}

// every runs fn on each tick of interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
