package position

import (
	"context"
	"sort"
	"sync"
	"time"

	"ox-market-maker/internal/market"
	"ox-market-maker/internal/metrics"
	"ox-market-maker/internal/ox/exchange"

	"go.uber.org/zap"
)

// Position is the operator's position in one instrument. When Known is false
// the last refresh failed (or none has happened yet) and Size must not be
// trusted; LastKnownSize carries the most recent confirmed size.
type Position struct {
	Instrument    string
	Size          float64
	EntryPrice    float64
	Known         bool
	LastKnownSize float64
	UpdatedAt     time.Time
}

func (p Position) Flat() bool {
	return p.Known && p.Size == 0
}

// Pinned reports whether the instrument must stay selected: a confirmed open
// position, or an unknown one whose last confirmed size was open.
func (p Position) Pinned() bool {
	if p.Known {
		return p.Size != 0
	}
	return p.LastKnownSize != 0
}

type Source interface {
	Positions(ctx context.Context, instrument string) ([]exchange.Position, error)
}

// Tracker owns the position map. Refresh and the position stream are its
// only writers.
type Tracker struct {
	source  Source
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu        sync.RWMutex
	positions map[string]Position
}

func NewTracker(source Source, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Tracker {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		source:    source,
		timeout:   timeout,
		metrics:   m,
		log:       log,
		now:       time.Now,
		positions: make(map[string]Position),
	}
}

// Get returns the cached position; instruments never refreshed are unknown.
func (t *Tracker) Get(instrument string) Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[instrument]
	if !ok {
		return Position{Instrument: instrument}
	}
	return pos
}

// Refresh fetches one instrument. A failed fetch marks it unknown for this
// cycle; the error is logged and counted, never returned.
func (t *Tracker) Refresh(ctx context.Context, instrument string) Position {
	callCtx, cancel := t.callContext(ctx)
	defer cancel()
	records, err := t.source.Positions(callCtx, instrument)
	if err != nil {
		t.metrics.PositionRefreshFailed.Inc()
		t.log.Warn("position refresh failed", zap.String("instrument", instrument), zap.Error(err))
		t.markUnknown([]string{instrument})
		return t.Get(instrument)
	}
	t.applyKnown([]string{instrument}, records, false)
	return t.Get(instrument)
}

// RefreshAll fetches every position in one call. Instruments absent from a
// successful response are flat.
func (t *Tracker) RefreshAll(ctx context.Context, instruments []string) error {
	callCtx, cancel := t.callContext(ctx)
	defer cancel()
	records, err := t.source.Positions(callCtx, "")
	if err != nil {
		t.metrics.PositionRefreshFailed.Inc()
		t.log.Warn("position refresh failed", zap.Int("instruments", len(instruments)), zap.Error(err))
		t.markUnknown(append(append([]string(nil), instruments...), t.cached()...))
		return err
	}
	t.applyKnown(instruments, records, true)
	return nil
}

// ApplyStream folds pushed position updates into the cache.
func (t *Tracker) ApplyStream(updates []market.PositionUpdate) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range updates {
		t.positions[u.Instrument] = Position{
			Instrument:    u.Instrument,
			Size:          u.Size,
			EntryPrice:    entryPrice(u.Size, u.EntryPrice),
			Known:         true,
			LastKnownSize: u.Size,
			UpdatedAt:     now,
		}
	}
}

// Pinned returns every instrument whose position pins it, sorted.
func (t *Tracker) Pinned() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for inst, pos := range t.positions {
		if pos.Pinned() {
			out = append(out, inst)
		}
	}
	sort.Strings(out)
	return out
}

// applyKnown records a successful fetch. When complete is set the records
// list every open position on the account, so any other cached position is
// now flat.
func (t *Tracker) applyKnown(instruments []string, records []exchange.Position, complete bool) {
	now := t.now()
	bySymbol := make(map[string]exchange.Position, len(records))
	for _, rec := range records {
		bySymbol[rec.Instrument] = rec
	}
	targets := append([]string(nil), instruments...)
	t.mu.Lock()
	defer t.mu.Unlock()
	if complete {
		for inst := range t.positions {
			targets = append(targets, inst)
		}
		for inst := range bySymbol {
			targets = append(targets, inst)
		}
	}
	for _, inst := range targets {
		rec := bySymbol[inst]
		t.positions[inst] = Position{
			Instrument:    inst,
			Size:          rec.Size,
			EntryPrice:    entryPrice(rec.Size, rec.EntryPrice),
			Known:         true,
			LastKnownSize: rec.Size,
			UpdatedAt:     now,
		}
	}
}

func (t *Tracker) markUnknown(instruments []string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, inst := range instruments {
		prev := t.positions[inst]
		last := prev.LastKnownSize
		if prev.Known {
			last = prev.Size
		}
		t.positions[inst] = Position{
			Instrument:    inst,
			Known:         false,
			LastKnownSize: last,
			UpdatedAt:     now,
		}
	}
}

func (t *Tracker) cached() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.positions))
	for inst := range t.positions {
		out = append(out, inst)
	}
	return out
}

func (t *Tracker) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

func entryPrice(size, price float64) float64 {
	if size == 0 {
		return 0
	}
	return price
}
