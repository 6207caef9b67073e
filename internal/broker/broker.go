// Package broker defines the brokerage client contract consumed by the
// trading engine, along with the shared market data and order types.
// Implementations live in subpackages (kis) or in MockClient for tests.
package broker

import (
	"context"
	"time"
)

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the broker-reported state of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusFilled          OrderStatus = "FILLED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFailed          OrderStatus = "FAILED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// StockPrice is a real-time quote for one stock.
type StockPrice struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	CurrentPrice float64 `json:"current_price"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	ChangeRate   float64 `json:"change_rate"`
	Volume       int64   `json:"volume"`
}

// DailyPrice is one daily OHLCV bar.
type DailyPrice struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// OrderResult is the broker's response to an order placement.
type OrderResult struct {
	Success bool        `json:"success"`
	OrderID string      `json:"order_id,omitempty"`
	Message string      `json:"message"`
	Status  OrderStatus `json:"status"`
}

// Position is a holding at the broker. The engine reads positions but never
// mutates them; they change only as a consequence of filled orders.
type Position struct {
	StockCode      string  `json:"stock_code"`
	StockName      string  `json:"stock_name"`
	Quantity       int     `json:"quantity"`
	AvgPrice       float64 `json:"avg_price"`
	CurrentPrice   float64 `json:"current_price"`
	ProfitLoss     float64 `json:"profit_loss"`
	ProfitLossRate float64 `json:"profit_loss_rate"`
}

// Balance is the account's cash and evaluation summary.
type Balance struct {
	AvailableAmount float64 `json:"available_amount"`
	TotalEvaluation float64 `json:"total_evaluation"`
	TotalPurchase   float64 `json:"total_purchase"`
}

// DefaultDailyPriceCount is the bar count requested when the caller does not
// care about depth.
const DefaultDailyPriceCount = 100

// Client is the brokerage operation set the engine depends on. Daily prices
// are always returned oldest first; implementations normalize provider
// ordering before returning.
type Client interface {
	// Authenticate acquires a session token. Called lazily on first use and
	// again after a token-expired response.
	Authenticate(ctx context.Context) error

	// GetStockPrices returns current quotes for the given codes in one
	// logical batch.
	GetStockPrices(ctx context.Context, codes []string) ([]StockPrice, error)

	// GetDailyPrices returns up to count daily bars for one stock,
	// oldest first.
	GetDailyPrices(ctx context.Context, code string, count int) ([]DailyPrice, error)

	// PlaceOrder submits an order. A nil price denotes a market order.
	PlaceOrder(ctx context.Context, code string, side Side, quantity int, price *float64) (*OrderResult, error)

	// GetPositions returns the account's open positions.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetBalance returns the account's cash balance.
	GetBalance(ctx context.Context) (*Balance, error)
}
