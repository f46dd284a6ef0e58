package strategy

import (
	"math"

	"ox-market-maker/internal/config"

	"github.com/shopspring/decimal"
)

// Config is the slice of configuration the decision engine reads.
type Config struct {
	Quoting config.QuotingConfig
	Risk    config.RiskConfig
}

func NewConfig(cfg *config.Config) Config {
	return Config{Quoting: cfg.Quoting, Risk: cfg.Risk}
}

// Decide picks the order action for one instrument. Rules are evaluated in
// order and the first match wins. Decide is pure: the same input always
// yields the same decision.
func Decide(cfg Config, in Input) Decision {
	inst := in.Instrument
	if inst == "" {
		inst = in.Snapshot.Instrument
	}
	snap := in.Snapshot

	if in.Orders.Buy > 1 || in.Orders.Sell > 1 {
		return Decision{Instrument: inst, Action: ActionCancelAll, Reason: "multiple orders on one side"}
	}

	narrow := QuotingSpread(snap.BestAsk, snap.BestBid).LessThan(decimal.NewFromFloat(cfg.Quoting.MinSpread))
	if in.Position.Flat() && narrow {
		if in.Orders.Total() > 0 {
			return Decision{Instrument: inst, Action: ActionCancelAll, Reason: "spread below threshold"}
		}
		return skip(inst, "spread below threshold")
	}

	// An unknown position may hide a closing order on the book; leave it alone.
	if !in.Position.Known {
		return skip(inst, "position unknown")
	}
	if err := CheckSnapshot(cfg.Risk, snap, in.Now); err != nil {
		return skip(inst, err.Error())
	}
	if narrow {
		return skip(inst, "spread below threshold")
	}
	quotes := QuotePrices(snap, cfg.Quoting.MinDistanceFromIndex, cfg.Quoting.TickFraction)
	if !quotes.HasBid && !quotes.HasAsk {
		return skip(inst, "touch too close to index")
	}

	if size := in.Position.Size; size != 0 {
		return closePosition(inst, snap.BestBid, snap.BestAsk, size)
	}
	return quote(cfg.Quoting, inst, quotes)
}

// closePosition crosses the spread: a long sells at the bid, a short buys at the ask.
func closePosition(inst string, bid, ask, size float64) Decision {
	order := Order{Side: SideSell, Price: decimal.NewFromFloat(bid)}
	if size < 0 {
		order = Order{Side: SideBuy, Price: decimal.NewFromFloat(ask)}
	}
	order.Quantity = decimal.NewFromFloat(math.Abs(size))
	return Decision{Instrument: inst, Action: ActionClose, Orders: []Order{order}, Reason: "close open position"}
}

func quote(cfg config.QuotingConfig, inst string, quotes Quotes) Decision {
	notional := decimal.NewFromFloat(cfg.OrderNotionalUSD)
	decimals := int32(cfg.QuantityDecimals)
	var orders []Order
	if quotes.HasBid {
		if qty := OrderQuantity(quotes.Bid, notional, decimals); qty.IsPositive() {
			orders = append(orders, Order{Side: SideBuy, Price: quotes.Bid, Quantity: qty})
		}
	}
	if quotes.HasAsk {
		if qty := OrderQuantity(quotes.Ask, notional, decimals); qty.IsPositive() {
			orders = append(orders, Order{Side: SideSell, Price: quotes.Ask, Quantity: qty})
		}
	}
	if len(orders) == 0 {
		return skip(inst, "order quantity rounds to zero")
	}
	return Decision{Instrument: inst, Action: ActionQuote, Orders: orders, Reason: "quote both touches"}
}

type Status string

const (
	StatusMultipleOrders Status = "multiple orders (cancelling)"
	StatusEligible       Status = "eligible"
	StatusClosingOnly    Status = "position (closing only)"
	StatusCancel         Status = "cancel orders"
	StatusSkip           Status = "skip"
	StatusUnknown        Status = "position unknown"
)

// Classify summarises an instrument for the status report.
func Classify(cfg Config, in Input) Status {
	if in.Orders.Buy > 1 || in.Orders.Sell > 1 {
		return StatusMultipleOrders
	}
	snap := in.Snapshot
	narrow := QuotingSpread(snap.BestAsk, snap.BestBid).LessThan(decimal.NewFromFloat(cfg.Quoting.MinSpread))
	if !narrow && CheckSnapshot(cfg.Risk, snap, in.Now) == nil {
		quotes := QuotePrices(snap, cfg.Quoting.MinDistanceFromIndex, cfg.Quoting.TickFraction)
		if quotes.HasBid || quotes.HasAsk {
			if !in.Position.Known {
				return StatusUnknown
			}
			return StatusEligible
		}
	}
	if narrow {
		switch {
		case in.Position.Flat():
			return StatusCancel
		case !in.Position.Known:
			return StatusUnknown
		default:
			return StatusClosingOnly
		}
	}
	return StatusSkip
}
