package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ox-market-maker/internal/alerts"
	"ox-market-maker/internal/metrics"
	"ox-market-maker/internal/ox/exchange"
	"ox-market-maker/internal/strategy"

	"go.uber.org/zap"
)

// ErrInstrumentBusy is returned when another cancel/place sequence holds the instrument.
var ErrInstrumentBusy = errors.New("instrument busy")

type Connector interface {
	PlaceOrder(ctx context.Context, order exchange.OrderRequest) (exchange.PlacedOrder, error)
	CancelAll(ctx context.Context, instrument string) error
}

type Options struct {
	CallTimeout time.Duration
	SettleDelay time.Duration
	TimeInForce string
	DryRun      bool
}

// Executor turns decisions into connector calls. Each connector call gets a
// single attempt bounded by CallTimeout; failures surface to the caller and
// are retried on the next cycle.
type Executor struct {
	conn      Connector
	opts      Options
	escalator *alerts.Escalator
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu   sync.Mutex
	busy map[string]struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

func New(conn Connector, opts Options, escalator *alerts.Escalator, m *metrics.Metrics, log *zap.Logger) *Executor {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TimeInForce == "" {
		opts.TimeInForce = exchange.TifGTC
	}
	return &Executor{
		conn:      conn,
		opts:      opts,
		escalator: escalator,
		metrics:   m,
		log:       log,
		busy:      make(map[string]struct{}),
		sleep:     sleepCtx,
	}
}

// Execute carries out d. SKIP is a no-op. QUOTE and CLOSE always cancel the
// instrument's resting orders and wait out the settle delay before placing.
func (e *Executor) Execute(ctx context.Context, d strategy.Decision) error {
	if d.Action == strategy.ActionSkip {
		e.metrics.Decisions.Inc(string(d.Action))
		return nil
	}
	release, ok := e.acquire(d.Instrument)
	if !ok {
		return ErrInstrumentBusy
	}
	defer release()
	e.metrics.Decisions.Inc(string(d.Action))

	log := e.log.With(zap.String("instrument", d.Instrument), zap.String("action", string(d.Action)))
	if e.opts.DryRun {
		log.Info("dry run decision", zap.String("reason", d.Reason), zap.Any("orders", describe(d.Orders)))
		return nil
	}

	err := e.execute(ctx, d, log)
	if err != nil {
		e.escalator.RecordFailure(ctx, d.Instrument, err)
		return err
	}
	e.escalator.RecordSuccess(d.Instrument)
	return nil
}

// CancelAll pulls every resting order on instrument under the instrument lock.
func (e *Executor) CancelAll(ctx context.Context, instrument string) error {
	release, ok := e.acquire(instrument)
	if !ok {
		return ErrInstrumentBusy
	}
	defer release()
	if e.opts.DryRun {
		e.log.Info("dry run cancel all", zap.String("instrument", instrument))
		return nil
	}
	return e.cancelAll(ctx, instrument)
}

// RecordFailure feeds a failure that happened outside Execute, such as an
// open order fetch, into the alert escalation.
func (e *Executor) RecordFailure(ctx context.Context, instrument string, err error) {
	e.escalator.RecordFailure(ctx, instrument, err)
}

func (e *Executor) execute(ctx context.Context, d strategy.Decision, log *zap.Logger) error {
	switch d.Action {
	case strategy.ActionCancelAll:
		if err := e.cancelAll(ctx, d.Instrument); err != nil {
			return err
		}
		log.Info("cancelled all orders", zap.String("reason", d.Reason))
		return nil
	case strategy.ActionQuote, strategy.ActionClose:
	default:
		return fmt.Errorf("unsupported action %q", d.Action)
	}
	if len(d.Orders) == 0 {
		return fmt.Errorf("%s decision without orders", d.Action)
	}
	if err := e.cancelAll(ctx, d.Instrument); err != nil {
		return err
	}
	if err := e.sleep(ctx, e.opts.SettleDelay); err != nil {
		return err
	}
	var errs []error
	for _, order := range d.Orders {
		placed, err := e.place(ctx, d.Instrument, order)
		if err != nil {
			e.metrics.OrdersFailed.Inc()
			log.Warn("order placement failed",
				zap.String("side", string(order.Side)),
				zap.String("price", order.Price.String()),
				zap.String("quantity", order.Quantity.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		e.metrics.OrdersPlaced.Inc()
		log.Info("order placed",
			zap.String("side", string(order.Side)),
			zap.String("price", order.Price.String()),
			zap.String("quantity", order.Quantity.String()),
			zap.Uint64("client_order_id", placed.ClientOrderID),
			zap.String("order_id", placed.OrderID),
		)
	}
	return errors.Join(errs...)
}

func (e *Executor) cancelAll(ctx context.Context, instrument string) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	if err := e.conn.CancelAll(callCtx, instrument); err != nil {
		e.metrics.ConnectorFailures.Inc()
		return fmt.Errorf("cancel all %s: %w", instrument, err)
	}
	e.metrics.CancelAlls.Inc()
	return nil
}

func (e *Executor) place(ctx context.Context, instrument string, order strategy.Order) (exchange.PlacedOrder, error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	placed, err := e.conn.PlaceOrder(callCtx, exchange.OrderRequest{
		Instrument:  instrument,
		Side:        exchange.Side(order.Side),
		Price:       order.Price,
		Quantity:    order.Quantity,
		TimeInForce: e.opts.TimeInForce,
	})
	if err != nil {
		e.metrics.ConnectorFailures.Inc()
		return exchange.PlacedOrder{}, fmt.Errorf("place %s %s: %w", instrument, order.Side, err)
	}
	return placed, nil
}

func (e *Executor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.CallTimeout)
}

func (e *Executor) acquire(instrument string) (func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.busy[instrument]; held {
		return nil, false
	}
	e.busy[instrument] = struct{}{}
	return func() {
		e.mu.Lock()
		delete(e.busy, instrument)
		e.mu.Unlock()
	}, true
}

func describe(orders []strategy.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, fmt.Sprintf("%s %s @ %s", o.Side, o.Quantity, o.Price))
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
