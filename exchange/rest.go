package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/market"
)

// RESTClient talks to a bitFlyer-style JSON API. Private endpoints are signed
// with HMAC-SHA256 over timestamp+method+path+body.
type RESTClient struct {
	http      *resty.Client
	apiKey    string
	apiSecret string
	name      string
}

// NewREST builds a REST client from the exchange config. Credentials are read
// from the env vars the config names; public endpoints work without them.
func NewREST(cfg config.ExchangeConfig) *RESTClient {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.bitflyer.com"
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &RESTClient{
		http:      client,
		apiKey:    os.Getenv(cfg.APIKeyEnv),
		apiSecret: os.Getenv(cfg.APISecretEnv),
		name:      cfg.Name,
	}
}

// productCode maps BASE/QUOTE to the venue's BASE_QUOTE form.
func productCode(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

func (c *RESTClient) sign(req *resty.Request, method, path, body string) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(ts + method + path + body))
	req.SetHeader("ACCESS-KEY", c.apiKey)
	req.SetHeader("ACCESS-TIMESTAMP", ts)
	req.SetHeader("ACCESS-SIGN", hex.EncodeToString(mac.Sum(nil)))
}

func restErr(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: http %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}

type candleRow [6]float64 // ts(ms), open, high, low, close, volume

// FetchCandles pulls OHLCV rows, oldest first.
func (c *RESTClient) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	var rows []candleRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"product_code": productCode(symbol),
			"timeframe":    timeframe,
			"limit":        strconv.Itoa(limit),
		}).
		SetResult(&rows).
		Get("/v1/ohlcv")
	if err := restErr("fetch candles", resp, err); err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(rows))
	for _, r := range rows {
		candles = append(candles, market.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			TS:        int64(r[0]),
			Open:      r[1],
			High:      r[2],
			Low:       r[3],
			Close:     r[4],
			Volume:    r[5],
			Source:    c.name,
		})
	}
	return candles, nil
}

type boardResponse struct {
	Bids []struct {
		Price float64 `json:"price"`
		Size  float64 `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price float64 `json:"price"`
		Size  float64 `json:"size"`
	} `json:"asks"`
}

// FetchOrderbook returns the current top of book.
func (c *RESTClient) FetchOrderbook(ctx context.Context, symbol string) (market.Orderbook, error) {
	var board boardResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("product_code", productCode(symbol)).
		SetResult(&board).
		Get("/v1/board")
	if err := restErr("fetch orderbook", resp, err); err != nil {
		return market.Orderbook{}, err
	}
	if len(board.Bids) == 0 || len(board.Asks) == 0 {
		return market.Orderbook{}, fmt.Errorf("fetch orderbook: empty book for %s", symbol)
	}
	return market.Orderbook{
		Symbol:  symbol,
		Bid:     board.Bids[0].Price,
		Ask:     board.Asks[0].Price,
		BidSize: board.Bids[0].Size,
		AskSize: board.Asks[0].Size,
		TS:      time.Now().UTC(),
	}, nil
}

type sendOrderRequest struct {
	ProductCode    string  `json:"product_code"`
	ChildOrderType string  `json:"child_order_type"`
	Side           string  `json:"side"`
	Price          float64 `json:"price"`
	Size           float64 `json:"size"`
	TimeInForce    string  `json:"time_in_force"`
}

type sendOrderResponse struct {
	ChildOrderAcceptanceID string `json:"child_order_acceptance_id"`
}

// CreateLimitOrder places a GTC limit order. postOnly requests the venue's
// post-only flavor when it has one; callers emulate it otherwise.
func (c *RESTClient) CreateLimitOrder(ctx context.Context, symbol, side string, size, price float64, postOnly bool) (Order, error) {
	body := sendOrderRequest{
		ProductCode:    productCode(symbol),
		ChildOrderType: "LIMIT",
		Side:           strings.ToUpper(side),
		Price:          price,
		Size:           size,
		TimeInForce:    "GTC",
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Order{}, fmt.Errorf("encode order: %w", err)
	}

	var result sendOrderResponse
	req := c.http.R().
		SetContext(ctx).
		SetBody(raw).
		SetResult(&result)
	c.sign(req, "POST", "/v1/me/sendchildorder", string(raw))

	resp, err := req.Post("/v1/me/sendchildorder")
	if err := restErr("create order", resp, err); err != nil {
		return Order{}, err
	}
	if result.ChildOrderAcceptanceID == "" {
		return Order{}, fmt.Errorf("create order: no order id in response")
	}
	return Order{
		OrderID: result.ChildOrderAcceptanceID,
		Symbol:  symbol,
		Side:    side,
		Size:    size,
		Price:   price,
		State:   OrderOpen,
	}, nil
}

type childOrderRow struct {
	ChildOrderState        string  `json:"child_order_state"`
	ExecutedSize           float64 `json:"executed_size"`
	AveragePrice           float64 `json:"average_price"`
	Side                   string  `json:"side"`
	Size                   float64 `json:"size"`
	Price                  float64 `json:"price"`
	ChildOrderAcceptanceID string  `json:"child_order_acceptance_id"`
}

// FetchOrder polls a placed order's state.
func (c *RESTClient) FetchOrder(ctx context.Context, symbol, orderID string) (Order, error) {
	path := "/v1/me/getchildorders?product_code=" + productCode(symbol) +
		"&child_order_acceptance_id=" + orderID

	var rows []childOrderRow
	req := c.http.R().SetContext(ctx).SetResult(&rows)
	c.sign(req, "GET", path, "")

	resp, err := req.Get(path)
	if err := restErr("fetch order", resp, err); err != nil {
		return Order{}, err
	}
	if len(rows) == 0 {
		// Placed but not yet visible in the order list.
		return Order{OrderID: orderID, Symbol: symbol, State: OrderOpen}, nil
	}

	r := rows[0]
	state := OrderOpen
	switch r.ChildOrderState {
	case "COMPLETED":
		state = OrderFilled
	case "CANCELED", "EXPIRED":
		state = OrderCanceled
	case "REJECTED":
		state = OrderRejected
	}
	return Order{
		OrderID:      orderID,
		Symbol:       symbol,
		Side:         strings.ToLower(r.Side),
		Size:         r.Size,
		Price:        r.Price,
		State:        state,
		FilledSize:   r.ExecutedSize,
		AvgFillPrice: r.AveragePrice,
	}, nil
}

// CancelOrder cancels a resting order.
func (c *RESTClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{
		"product_code":              productCode(symbol),
		"child_order_acceptance_id": orderID,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode cancel: %w", err)
	}

	req := c.http.R().SetContext(ctx).SetBody(raw)
	c.sign(req, "POST", "/v1/me/cancelchildorder", string(raw))

	resp, err := req.Post("/v1/me/cancelchildorder")
	return restErr("cancel order", resp, err)
}

// PriceTick returns the quote increment. JPY-quoted books tick at 1, most
// others at 0.01.
func (c *RESTClient) PriceTick(symbol string) float64 {
	if strings.HasSuffix(symbol, "/JPY") {
		return 1
	}
	return 0.01
}
