package exchange

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrAPI marks a request the exchange rejected with success=false.
var ErrAPI = errors.New("ox api error")

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeLimit = "LIMIT"
	TifGTC         = "GTC"
)

type OrderRequest struct {
	Instrument  string
	Side        Side
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	TimeInForce string
}

type PlacedOrder struct {
	ClientOrderID uint64
	OrderID       string
}

type WorkingOrder struct {
	OrderID       string
	ClientOrderID string
	Instrument    string
	Side          Side
	Price         float64
	Quantity      float64
}

type Position struct {
	Instrument string
	Size       float64
	EntryPrice float64
}

type orderWire struct {
	ClientOrderID uint64 `json:"clientOrderId"`
	MarketCode    string `json:"marketCode"`
	Side          Side   `json:"side"`
	Quantity      string `json:"quantity"`
	TimeInForce   string `json:"timeInForce"`
	OrderType     string `json:"orderType"`
	Price         string `json:"price"`
}

type placeOrdersRequest struct {
	RecvWindow   int         `json:"recvWindow"`
	ResponseType string      `json:"responseType"`
	Timestamp    int64       `json:"timestamp"`
	Orders       []orderWire `json:"orders"`
}

type cancelAllRequest struct {
	MarketCode string `json:"marketCode"`
}
