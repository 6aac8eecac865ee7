// Package exchange abstracts the market data and order entry venue. The
// production implementation is a REST client; paper trading and backtests use
// the same interface against recorded data.
package exchange

import (
	"context"
	"os"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/market"
)

// OrderState is the venue-side lifecycle of a placed order.
type OrderState string

const (
	OrderOpen     OrderState = "open"
	OrderFilled   OrderState = "filled"
	OrderCanceled OrderState = "canceled"
	OrderRejected OrderState = "rejected"
)

// Order is the venue's view of a placed order.
type Order struct {
	OrderID      string
	Symbol       string
	Side         string
	Size         float64
	Price        float64
	State        OrderState
	FilledSize   float64
	AvgFillPrice float64
}

// Filled reports whether the order filled completely.
func (o Order) Filled() bool { return o.State == OrderFilled }

// Client is the venue surface the agent needs. Implementations must be safe
// for sequential use from one goroutine; the runner never calls concurrently.
type Client interface {
	// FetchCandles returns up to limit most recent candles, oldest first.
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error)
	// FetchOrderbook returns the current top of book.
	FetchOrderbook(ctx context.Context, symbol string) (market.Orderbook, error)
	// CreateLimitOrder places a limit order and returns its venue id.
	CreateLimitOrder(ctx context.Context, symbol, side string, size, price float64, postOnly bool) (Order, error)
	// FetchOrder polls the current state of a placed order.
	FetchOrder(ctx context.Context, symbol, orderID string) (Order, error)
	// CancelOrder cancels a resting order. Canceling an already closed order
	// is not an error.
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// PriceTick returns the venue's price increment for a symbol, or 0 when
	// unknown.
	PriceTick(symbol string) float64
}

// HasCredentials reports whether both credential env vars named by the
// exchange config resolve to non-empty values.
func HasCredentials(cfg config.ExchangeConfig) bool {
	return os.Getenv(cfg.APIKeyEnv) != "" && os.Getenv(cfg.APISecretEnv) != ""
}
