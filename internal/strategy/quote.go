package strategy

import (
	"ox-market-maker/internal/market"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// QuotingSpread is (ask-bid)/mid as a fraction. An incomplete book measures 0.
func QuotingSpread(ask, bid float64) decimal.Decimal {
	if ask <= 0 || bid <= 0 {
		return decimal.Zero
	}
	a := decimal.NewFromFloat(ask)
	b := decimal.NewFromFloat(bid)
	mid := a.Add(b).Div(two)
	if !mid.IsPositive() {
		return decimal.Zero
	}
	return a.Sub(b).Div(mid)
}

// DistanceFromIndex is |price-index|/index, 0 when there is no index.
func DistanceFromIndex(price, index float64) decimal.Decimal {
	if index <= 0 {
		return decimal.Zero
	}
	idx := decimal.NewFromFloat(index)
	return decimal.NewFromFloat(price).Sub(idx).Abs().Div(idx)
}

// Quotes holds the prices to join the book at. A side is set only when its
// touch sits far enough from the index.
type Quotes struct {
	Bid    decimal.Decimal
	HasBid bool
	Ask    decimal.Decimal
	HasAsk bool
}

// QuotePrices improves each eligible touch by one tick: the bid moves up by
// bid*tick and the ask moves down by ask*tick.
func QuotePrices(snap market.Snapshot, minDistance, tickFraction float64) Quotes {
	var q Quotes
	threshold := decimal.NewFromFloat(minDistance)
	tick := decimal.NewFromFloat(tickFraction)
	if snap.BestBid > 0 && DistanceFromIndex(snap.BestBid, snap.IndexPrice).GreaterThan(threshold) {
		bid := decimal.NewFromFloat(snap.BestBid)
		q.Bid = bid.Add(bid.Mul(tick))
		q.HasBid = true
	}
	if snap.BestAsk > 0 && DistanceFromIndex(snap.BestAsk, snap.IndexPrice).GreaterThan(threshold) {
		ask := decimal.NewFromFloat(snap.BestAsk)
		q.Ask = ask.Sub(ask.Mul(tick))
		q.HasAsk = true
	}
	return q
}

// OrderQuantity sizes an order worth at most notional at price, truncated
// toward zero to decimals places. The result is never negative and
// quantity*price never exceeds notional.
func OrderQuantity(price, notional decimal.Decimal, decimals int32) decimal.Decimal {
	if !price.IsPositive() || !notional.IsPositive() {
		return decimal.Zero
	}
	qty := notional.Div(price).Truncate(decimals)
	// Div rounds at DivisionPrecision, which can land one step above the true quotient.
	if qty.Mul(price).GreaterThan(notional) {
		qty = qty.Sub(decimal.New(1, -decimals))
	}
	if qty.IsNegative() {
		return decimal.Zero
	}
	return qty
}
