package app

import (
	"strings"

	"ox-market-maker/internal/strategy"
	"ox-market-maker/internal/timescale"
	"ox-market-maker/internal/universe"
)

func (a *App) recordDecision(cycleID string, in strategy.Input, d strategy.Decision, execErr error) {
	if a.journal == nil {
		return
	}
	rec := timescale.DecisionRecord{
		Time:          in.Now.UTC(),
		CycleID:       cycleID,
		Instrument:    d.Instrument,
		Action:        string(d.Action),
		Reason:        d.Reason,
		Orders:        formatOrders(d.Orders),
		Position:      in.Position.Size,
		PositionKnown: in.Position.Known,
		BestBid:       in.Snapshot.BestBid,
		BestAsk:       in.Snapshot.BestAsk,
		IndexPrice:    in.Snapshot.IndexPrice,
		DryRun:        a.cfg.Trading.DryRun,
	}
	if execErr != nil {
		rec.Error = execErr.Error()
	}
	a.journal.EnqueueDecision(rec)
}

func (a *App) recordSelection(cycleID string, res universe.Result, pinned []string) {
	if a.journal == nil {
		return
	}
	a.journal.EnqueueSelection(timescale.SelectionRecord{
		Time:     a.now().UTC(),
		CycleID:  cycleID,
		Selected: res.Selection,
		Pinned:   pinned,
		Added:    res.ToAdd,
		Removed:  res.ToRemove,
	})
}

func (a *App) recordMarkets() {
	if a.journal == nil {
		return
	}
	now := a.now().UTC()
	for _, snap := range a.market.All() {
		if snap.UpdatedAt.IsZero() {
			continue
		}
		a.journal.EnqueueMarket(timescale.MarketRecord{
			Time:       now,
			Instrument: snap.Instrument,
			BestBid:    snap.BestBid,
			BestAsk:    snap.BestAsk,
			MarkPrice:  snap.MarkPrice,
			IndexPrice: snap.IndexPrice,
			Volume24h:  snap.Volume24h,
			SpreadPct:  snap.SpreadPct,
			HasSpread:  snap.HasSpread,
		})
	}
}

func formatOrders(orders []strategy.Order) string {
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		parts = append(parts, string(o.Side)+" "+o.Quantity.String()+"@"+o.Price.String())
	}
	return strings.Join(parts, ";")
}
