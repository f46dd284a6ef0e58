package strategy

import (
	"time"

	"ox-market-maker/internal/market"
	"ox-market-maker/internal/position"

	"github.com/shopspring/decimal"
)

type Action string

type Side string

const (
	ActionSkip      Action = "SKIP"
	ActionCancelAll Action = "CANCEL_ALL"
	ActionQuote     Action = "QUOTE"
	ActionClose     Action = "CLOSE"
)

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OpenOrder is a resting order as far as the decision engine cares.
type OpenOrder struct {
	Instrument string
	Side       Side
}

type OrderCounts struct {
	Buy  int
	Sell int
}

func (c OrderCounts) Total() int {
	return c.Buy + c.Sell
}

// CountOrders tallies the orders resting on instrument by side. Orders for
// other instruments and unknown sides are ignored.
func CountOrders(instrument string, orders []OpenOrder) OrderCounts {
	var counts OrderCounts
	for _, order := range orders {
		if order.Instrument != instrument {
			continue
		}
		switch order.Side {
		case SideBuy:
			counts.Buy++
		case SideSell:
			counts.Sell++
		}
	}
	return counts
}

type Input struct {
	Instrument string
	Snapshot   market.Snapshot
	Position   position.Position
	Orders     OrderCounts
	Now        time.Time
}

type Order struct {
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

type Decision struct {
	Instrument string
	Action     Action
	Orders     []Order
	Reason     string
}

func skip(instrument, reason string) Decision {
	return Decision{Instrument: instrument, Action: ActionSkip, Reason: reason}
}
