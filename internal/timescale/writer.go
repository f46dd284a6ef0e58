package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ox-market-maker/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// DecisionRecord is one decision taken for one instrument in an order-check cycle.
type DecisionRecord struct {
	Time          time.Time
	CycleID       string
	Instrument    string
	Action        string
	Reason        string
	Orders        string
	Position      float64
	PositionKnown bool
	BestBid       float64
	BestAsk       float64
	IndexPrice    float64
	DryRun        bool
	Error         string
}

type SelectionRecord struct {
	Time     time.Time
	CycleID  string
	Selected []string
	Pinned   []string
	Added    []string
	Removed  []string
}

type MarketRecord struct {
	Time       time.Time
	Instrument string
	BestBid    float64
	BestAsk    float64
	MarkPrice  float64
	IndexPrice float64
	Volume24h  float64
	SpreadPct  float64
	HasSpread  bool
}

// Writer journals decisions, selections and market snapshots to TimescaleDB
// off the trading path. Enqueue never blocks; a full queue drops the record.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	decisions  chan DecisionRecord
	selections chan SelectionRecord
	markets    chan MarketRecord
	started    atomic.Bool
	dropDec    atomic.Uint64
	dropSel    atomic.Uint64
	dropMarket atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:         db,
		log:        log,
		schema:     schema,
		decisions:  make(chan DecisionRecord, queueSize),
		selections: make(chan SelectionRecord, queueSize),
		markets:    make(chan MarketRecord, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueDecision(rec DecisionRecord) {
	if w == nil {
		return
	}
	select {
	case w.decisions <- rec:
	default:
		if w.dropDec.Add(1) == 1 {
			w.log.Warn("timescale decision queue full")
		}
	}
}

func (w *Writer) EnqueueSelection(rec SelectionRecord) {
	if w == nil {
		return
	}
	select {
	case w.selections <- rec:
	default:
		if w.dropSel.Add(1) == 1 {
			w.log.Warn("timescale selection queue full")
		}
	}
}

func (w *Writer) EnqueueMarket(rec MarketRecord) {
	if w == nil {
		return
	}
	select {
	case w.markets <- rec:
	default:
		if w.dropMarket.Add(1) == 1 {
			w.log.Warn("timescale market queue full")
		}
	}
}

// Dropped returns how many records of each kind were discarded on a full queue.
func (w *Writer) Dropped() (decisions, selections, markets uint64) {
	if w == nil {
		return 0, 0, 0
	}
	return w.dropDec.Load(), w.dropSel.Load(), w.dropMarket.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-w.decisions:
			w.writeDecision(ctx, rec)
		case rec := <-w.selections:
			w.writeSelection(ctx, rec)
		case rec := <-w.markets:
			w.writeMarket(ctx, rec)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL,
		orders TEXT NOT NULL,
		position DOUBLE PRECISION NOT NULL,
		position_known BOOLEAN NOT NULL,
		best_bid DOUBLE PRECISION NOT NULL,
		best_ask DOUBLE PRECISION NOT NULL,
		index_price DOUBLE PRECISION NOT NULL,
		dry_run BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("decisions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		selected TEXT NOT NULL,
		pinned TEXT NOT NULL,
		added TEXT NOT NULL,
		removed TEXT NOT NULL
	)`, w.table("selections"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		best_bid DOUBLE PRECISION NOT NULL,
		best_ask DOUBLE PRECISION NOT NULL,
		mark_price DOUBLE PRECISION NOT NULL,
		index_price DOUBLE PRECISION NOT NULL,
		volume_24h DOUBLE PRECISION NOT NULL,
		spread_pct DOUBLE PRECISION,
		PRIMARY KEY (ts, instrument)
	)`, w.table("market_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"decisions", "selections", "market_snapshots"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeDecision(ctx context.Context, rec DecisionRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, instrument, action, reason, orders, position, position_known,
		best_bid, best_ask, index_price, dry_run, error
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	)`, w.table("decisions"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time,
		rec.CycleID,
		rec.Instrument,
		rec.Action,
		rec.Reason,
		rec.Orders,
		rec.Position,
		rec.PositionKnown,
		rec.BestBid,
		rec.BestAsk,
		rec.IndexPrice,
		rec.DryRun,
		rec.Error,
	); err != nil {
		w.log.Warn("timescale decision insert failed", zap.Error(err))
	}
}

func (w *Writer) writeSelection(ctx context.Context, rec SelectionRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, selected, pinned, added, removed
	) VALUES (
		$1,$2,$3,$4,$5,$6
	)`, w.table("selections"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time,
		rec.CycleID,
		joinList(rec.Selected),
		joinList(rec.Pinned),
		joinList(rec.Added),
		joinList(rec.Removed),
	); err != nil {
		w.log.Warn("timescale selection insert failed", zap.Error(err))
	}
}

func (w *Writer) writeMarket(ctx context.Context, rec MarketRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, best_bid, best_ask, mark_price, index_price, volume_24h, spread_pct
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)
	ON CONFLICT (ts, instrument) DO UPDATE SET
		best_bid = EXCLUDED.best_bid,
		best_ask = EXCLUDED.best_ask,
		mark_price = EXCLUDED.mark_price,
		index_price = EXCLUDED.index_price,
		volume_24h = EXCLUDED.volume_24h,
		spread_pct = EXCLUDED.spread_pct`, w.table("market_snapshots"))
	var spread sql.NullFloat64
	if rec.HasSpread {
		spread = sql.NullFloat64{Float64: rec.SpreadPct, Valid: true}
	}
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time,
		rec.Instrument,
		rec.BestBid,
		rec.BestAsk,
		rec.MarkPrice,
		rec.IndexPrice,
		rec.Volume24h,
		spread,
	); err != nil {
		w.log.Warn("timescale market upsert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}
