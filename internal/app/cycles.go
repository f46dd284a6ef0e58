package app

import (
	"context"
	"errors"
	"strconv"

	"ox-market-maker/internal/exec"
	"ox-market-maker/internal/handoff"
	"ox-market-maker/internal/state"
	"ox-market-maker/internal/strategy"
	"ox-market-maker/internal/universe"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// restoreSelection seeds the selection from the last persisted snapshot, or
// from the head of the universe when there is none. Instruments with an open
// position are always included.
func (a *App) restoreSelection(ctx context.Context) {
	pinned := a.positions.Pinned()
	var selected []string
	snap, ok, err := state.LoadSelectionSnapshot(ctx, a.store)
	if err != nil {
		a.log.Warn("selection snapshot load failed", zap.Error(err))
	}
	if ok && len(snap.Selected) > 0 {
		restored := make([]string, 0, len(snap.Selected))
		for _, inst := range snap.Selected {
			if a.market.Contains(inst) {
				restored = append(restored, inst)
			}
		}
		selected = universe.Initial(restored, pinned, a.cfg.Selection.MaxInstruments)
		a.log.Info("selection restored", zap.String("cycle_id", snap.CycleID), zap.Strings("selected", selected))
	} else {
		selected = universe.Initial(a.market.Universe(), pinned, a.cfg.Selection.MaxInstruments)
		a.log.Info("initial selection", zap.Strings("selected", selected))
	}
	a.selection.Set(selected, pinned, a.now())
	a.updateSelectionGauges()
}

func (a *App) refreshUniverse(ctx context.Context) {
	cycleID := uuid.NewString()
	log := a.log.With(zap.String("cycle_id", cycleID))
	pinned := a.positions.Pinned()
	previous := a.selection.Selected()
	res := universe.Select(a.market.All(), pinned, previous, a.cfg.Selection.MaxInstruments, a.cfg.Selection.MinSpreadPct)
	if err := a.feed.UpdateSelection(ctx, res.ToAdd, res.ToRemove); err != nil {
		log.Warn("feed subscription update failed", zap.Error(err))
	}
	now := a.now()
	a.selection.Set(res.Selection, pinned, now)
	a.updateSelectionGauges()

	// Dropped instruments lose their book feed, so their quotes would go stale.
	for _, inst := range res.ToRemove {
		if err := a.executor.CancelAll(ctx, inst); err != nil {
			log.Warn("cancel on deselect failed", zap.String("instrument", inst), zap.Error(err))
		}
	}

	if err := state.SaveSelectionSnapshot(ctx, a.store, state.SelectionSnapshot{
		CycleID:     cycleID,
		Selected:    res.Selection,
		Pinned:      a.selection.Pinned(),
		UpdatedAtMS: now.UnixMilli(),
	}); err != nil {
		log.Warn("selection snapshot save failed", zap.Error(err))
	}
	a.recordSelection(cycleID, res, pinned)
	a.recordMarkets()
	log.Info("selection refreshed",
		zap.Strings("selected", res.Selection),
		zap.Strings("added", res.ToAdd),
		zap.Strings("removed", res.ToRemove),
		zap.Strings("pinned", pinned),
	)
}

func (a *App) refreshPositions(ctx context.Context) {
	// Failures are logged and counted by the tracker; the next tick retries.
	_ = a.positions.RefreshAll(ctx, a.market.Universe())
	a.updateSelectionGauges()
}

// checkOrders runs one order-check cycle over the current selection. With a
// single worker instruments are handled strictly in order.
func (a *App) checkOrders(ctx context.Context) {
	cycleID := uuid.NewString()
	workers := a.cfg.Trading.Workers
	if workers <= 0 {
		workers = 1
	}
	p := pool.New().WithMaxGoroutines(workers)
	for i, inst := range a.selection.Selected() {
		if i > 0 && !sleepCtx(ctx, a.cfg.Schedule.InstrumentPause) {
			break
		}
		p.Go(func() { a.checkInstrument(ctx, cycleID, inst) })
	}
	p.Wait()
}

func (a *App) checkInstrument(ctx context.Context, cycleID, inst string) {
	log := a.log.With(zap.String("cycle_id", cycleID), zap.String("instrument", inst))
	counts, err := a.openOrderCounts(ctx, inst)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("open order fetch failed", zap.Error(err))
		a.executor.RecordFailure(ctx, inst, err)
		return
	}
	snap, _ := a.market.Get(inst)
	in := strategy.Input{
		Instrument: inst,
		Snapshot:   snap,
		Position:   a.positions.Get(inst),
		Orders:     counts,
		Now:        a.now(),
	}
	decision := strategy.Decide(a.strategy, in)
	err = a.executor.Execute(ctx, decision)
	switch {
	case errors.Is(err, exec.ErrInstrumentBusy):
		log.Debug("instrument busy, skipping cycle")
		return
	case err != nil:
		log.Warn("execution failed", zap.String("action", string(decision.Action)), zap.Error(err))
	case decision.Action != strategy.ActionSkip:
		log.Info("decision executed", zap.String("action", string(decision.Action)), zap.String("reason", decision.Reason))
	default:
		log.Debug("skip", zap.String("reason", decision.Reason))
	}
	a.recordDecision(cycleID, in, decision, err)
}

func (a *App) openOrderCounts(ctx context.Context, inst string) (strategy.OrderCounts, error) {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	working, err := a.orders.WorkingOrders(callCtx, inst)
	if err != nil {
		return strategy.OrderCounts{}, err
	}
	open := make([]strategy.OpenOrder, 0, len(working))
	for _, order := range working {
		open = append(open, strategy.OpenOrder{Instrument: order.Instrument, Side: strategy.Side(order.Side)})
	}
	counts := strategy.CountOrders(inst, open)
	a.countsMu.Lock()
	a.counts[inst] = counts
	a.countsMu.Unlock()
	return counts, nil
}

func (a *App) lastCounts(inst string) strategy.OrderCounts {
	a.countsMu.Lock()
	defer a.countsMu.Unlock()
	return a.counts[inst]
}

// reportStatus logs one line per selected instrument using the order counts
// seen by the last order-check cycle.
func (a *App) reportStatus(_ context.Context) {
	selected := a.selection.Selected()
	a.log.Info("market maker status",
		zap.Float64("order_notional_usd", a.cfg.Quoting.OrderNotionalUSD),
		zap.Float64("min_spread", a.cfg.Quoting.MinSpread),
		zap.Float64("min_distance_from_index", a.cfg.Quoting.MinDistanceFromIndex),
		zap.Int("instruments", len(selected)),
		zap.Bool("dry_run", a.cfg.Trading.DryRun),
	)
	now := a.now()
	for _, inst := range selected {
		snap, ok := a.market.Get(inst)
		if !ok || snap.BestAsk <= 0 || snap.BestBid <= 0 {
			continue
		}
		pos := a.positions.Get(inst)
		in := strategy.Input{Instrument: inst, Snapshot: snap, Position: pos, Orders: a.lastCounts(inst), Now: now}
		fields := []zap.Field{
			zap.String("instrument", inst),
			zap.String("spread", strategy.QuotingSpread(snap.BestAsk, snap.BestBid).Shift(2).StringFixed(2)+"%"),
			zap.String("status", string(strategy.Classify(a.strategy, in))),
		}
		if pos.Known && pos.Size != 0 {
			fields = append(fields, zap.String("position", strconv.FormatFloat(pos.Size, 'f', -1, 64)))
		}
		a.log.Info("instrument status", fields...)
	}
}

func (a *App) exportHandoff(_ context.Context) {
	exp := handoff.Build(a.market.All(), a.selection.Selected(), a.selection.Pinned(), a.now())
	if err := a.handoff.Write(exp); err != nil {
		a.log.Warn("handoff export failed", zap.String("path", a.handoff.Path()), zap.Error(err))
	}
}

// cleanupStartup cancels resting orders left over from a previous run on
// every selected instrument.
func (a *App) cleanupStartup(ctx context.Context) {
	for _, inst := range a.selection.Selected() {
		counts, err := a.openOrderCounts(ctx, inst)
		if err != nil {
			a.log.Warn("startup order check failed", zap.String("instrument", inst), zap.Error(err))
			continue
		}
		if counts.Total() == 0 {
			continue
		}
		a.log.Info("cancelling leftover orders", zap.String("instrument", inst), zap.Int("orders", counts.Total()))
		if err := a.executor.CancelAll(ctx, inst); err != nil {
			a.log.Warn("startup cancel failed", zap.String("instrument", inst), zap.Error(err))
			continue
		}
		if !sleepCtx(ctx, a.cfg.Schedule.CancelSettleDelay) {
			return
		}
	}
}

// cleanupShutdown pulls all orders on the selection with a fresh deadline,
// since the run context is already cancelled.
func (a *App) cleanupShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, inst := range a.selection.Selected() {
		if err := a.executor.CancelAll(ctx, inst); err != nil {
			a.log.Warn("shutdown cancel failed", zap.String("instrument", inst), zap.Error(err))
		}
	}
	a.log.Info("shutdown cleanup completed")
}

func (a *App) updateSelectionGauges() {
	a.metrics.InstrumentsSelected.Set(float64(len(a.selection.Selected())))
	a.metrics.InstrumentsPinned.Set(float64(len(a.positions.Pinned())))
}

func (a *App) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Trading.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.Trading.CallTimeout)
}
