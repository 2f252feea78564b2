package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	appconfig "signalflow/config"
	"signalflow/logger"
	"signalflow/models"
)

// leverage-not-modified: the account already carries the requested value.
const retCodeLeverageUnchanged = 110043

// Bybit implements Exchange against the Bybit v5 unified trading API.
// Every REST call passes through a shared rate limiter sized from
// configuration. When a ticker stream is attached, BestBidAsk serves fresh
// quotes from it and only falls back to REST.
type Bybit struct {
	client   *bybit.Client
	category string
	limiter  *rate.Limiter
	stream   *TickerStream
	log      *logger.Log
}

// NewBybit creates a REST client for the configured endpoint.
func NewBybit(cfg *appconfig.Config) *Bybit {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.Exchange.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Exchange.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.Exchange.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Exchange.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}
	httpClient := &http.Client{Transport: transport, Timeout: cfg.Exchange.Timeout}

	client := bybit.NewBybitHttpClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret, bybit.WithBaseURL(cfg.Exchange.BaseURL))
	client.HTTPClient = httpClient

	rps := cfg.Exchange.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Exchange.RateLimit.BurstSize
	if burst <= 0 {
		burst = rps
	}

	b := &Bybit{
		client:   client,
		category: cfg.Exchange.Category,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		log:      log,
	}

	log.WithComponent("exchange").WithFields(logger.Fields{
		"base_url": cfg.Exchange.BaseURL,
		"category": cfg.Exchange.Category,
		"timeout":  cfg.Exchange.Timeout,
	}).Info("bybit client initialized")

	return b
}

// AttachTickerStream makes the websocket quote cache the preferred price
// source for BestBidAsk.
func (b *Bybit) AttachTickerStream(s *TickerStream) {
	b.stream = s
}

// call runs one rate-limited REST request and classifies the outcome.
func (b *Bybit) call(ctx context.Context, endpoint string, params map[string]interface{},
	invoke func(ctx context.Context, params map[string]interface{}) (*bybit.ServerResponse, error)) (*bybit.ServerResponse, error) {

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, newTransportError(endpoint, err)
	}

	log := b.log.WithComponent("exchange").WithFields(logger.Fields{"endpoint": endpoint})

	start := time.Now()
	resp, err := invoke(ctx, params)
	duration := time.Since(start)
	if err != nil {
		logger.RecordAPICall(endpoint, true)
		log.WithError(err).Warn("exchange request failed")
		return nil, newTransportError(endpoint, err)
	}
	logger.LogPerformanceEntry(log, "exchange", endpoint, duration, nil)

	if resp.RetCode != 0 {
		logger.RecordAPICall(endpoint, true)
		apiErr := newRetCodeError(endpoint, resp.RetCode, resp.RetMsg)
		log.WithFields(logger.Fields{"ret_code": resp.RetCode, "ret_msg": resp.RetMsg}).Warn("exchange request rejected")
		return resp, apiErr
	}

	logger.RecordAPICall(endpoint, false)
	return resp, nil
}

// decodeResult re-marshals the untyped Result payload into out.
func decodeResult(resp *bybit.ServerResponse, endpoint string, out interface{}) error {
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return &APIError{Endpoint: endpoint, Msg: fmt.Sprintf("marshal result: %v", err)}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &APIError{Endpoint: endpoint, Msg: fmt.Sprintf("decode result: %v", err)}
	}
	return nil
}

type orderbookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

// BestBidAsk returns the top of book for symbol. Streamed quotes win when
// fresh; otherwise the order book endpoint is queried, with the tickers
// endpoint as a fallback for thin books.
func (b *Bybit) BestBidAsk(ctx context.Context, symbol string) (models.BestPrice, error) {
	if b.stream != nil {
		if price, ok := b.stream.Get(symbol); ok {
			return price, nil
		}
	}

	params := map[string]interface{}{"category": b.category, "symbol": symbol, "limit": 1}
	resp, err := b.call(ctx, "orderbook", params, func(ctx context.Context, p map[string]interface{}) (*bybit.ServerResponse, error) {
		return b.client.NewUtaBybitServiceWithParams(p).GetOrderBookInfo(ctx)
	})
	if err == nil {
		var book orderbookResult
		if derr := decodeResult(resp, "orderbook", &book); derr == nil {
			price := models.BestPrice{Symbol: symbol}
			if len(book.Bids) > 0 && len(book.Bids[0]) > 0 {
				price.Bid, _ = decimal.NewFromString(book.Bids[0][0])
			}
			if len(book.Asks) > 0 && len(book.Asks[0]) > 0 {
				price.Ask, _ = decimal.NewFromString(book.Asks[0][0])
			}
			if price.Bid.IsPositive() || price.Ask.IsPositive() {
				return price, nil
			}
		}
	} else if !IsTransient(err) {
		return models.BestPrice{}, err
	}

	return b.bestPriceFromTickers(ctx, symbol)
}

func (b *Bybit) bestPriceFromTickers(ctx context.Context, symbol string) (models.BestPrice, error) {
	params := map[string]interface{}{"category": b.category, "symbol": symbol}
	resp, err := b.call(ctx, "tickers", params, func(ctx context.Context, p map[string]interface{}) (*bybit.ServerResponse, error) {
		return b.client.NewUtaBybitServiceWithParams(p).GetMarketTickers(ctx)
	})
	if err != nil {
		return models.BestPrice{}, err
	}

	var tickers tickersResult
	if err := decodeResult(resp, "tickers", &tickers); err != nil {
		return models.BestPrice{}, err
	}
	if len(tickers.List) == 0 {
		return models.BestPrice{}, &APIError{Endpoint: "tickers", Msg: fmt.Sprintf("no ticker for %s", symbol)}
	}

	item := tickers.List[0]
	price := models.BestPrice{Symbol: symbol}
	price.Bid, _ = decimal.NewFromString(item.Bid1Price)
	price.Ask, _ = decimal.NewFromString(item.Ask1Price)
	if !price.Bid.IsPositive() && !price.Ask.IsPositive() && item.LastPrice != "" {
		last, _ := decimal.NewFromString(item.LastPrice)
		price.Bid, price.Ask = last, last
	}
	if !price.Bid.IsPositive() && !price.Ask.IsPositive() {
		return models.BestPrice{}, &APIError{Endpoint: "tickers", Msg: fmt.Sprintf("empty quote for %s", symbol)}
	}
	return price, nil
}

type instrumentsResult struct {
	List []struct {
		Symbol      string `json:"symbol"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			QtyStep          string `json:"qtyStep"`
			MinOrderQty      string `json:"minOrderQty"`
			MinNotionalValue string `json:"minNotionalValue"`
			MinOrderAmt      string `json:"minOrderAmt"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

// InstrumentRules fetches the trading filters for symbol.
func (b *Bybit) InstrumentRules(ctx context.Context, symbol string) (models.InstrumentRules, error) {
	params := map[string]interface{}{"category": b.category, "symbol": symbol}
	resp, err := b.call(ctx, "instruments-info", params, func(ctx context.Context, p map[string]interface{}) (*bybit.ServerResponse, error) {
		return b.client.NewUtaBybitServiceWithParams(p).GetInstrumentInfo(ctx)
	})
	if err != nil {
		return models.InstrumentRules{}, err
	}

	var result instrumentsResult
	if err := decodeResult(resp, "instruments-info", &result); err != nil {
		return models.InstrumentRules{}, err
	}
	if len(result.List) == 0 {
		return models.InstrumentRules{}, &APIError{
			Endpoint: "instruments-info",
			Msg:      fmt.Sprintf("symbol %s not found in category %s", symbol, b.category),
		}
	}

	info := result.List[0]
	rules := models.InstrumentRules{Symbol: symbol, FetchedAt: time.Now()}
	rules.TickSize, _ = decimal.NewFromString(info.PriceFilter.TickSize)
	rules.LotSize, _ = decimal.NewFromString(info.LotSizeFilter.QtyStep)
	rules.MinQty, _ = decimal.NewFromString(info.LotSizeFilter.MinOrderQty)
	// Linear contracts express the floor as minNotionalValue, spot as
	// minOrderAmt.
	if info.LotSizeFilter.MinNotionalValue != "" {
		rules.MinNotional, _ = decimal.NewFromString(info.LotSizeFilter.MinNotionalValue)
	} else if info.LotSizeFilter.MinOrderAmt != "" {
		rules.MinNotional, _ = decimal.NewFromString(info.LotSizeFilter.MinOrderAmt)
	}

	if !rules.LotSize.IsPositive() || !rules.TickSize.IsPositive() {
		return models.InstrumentRules{}, &APIError{
			Endpoint: "instruments-info",
			Msg:      fmt.Sprintf("incomplete filters for %s", symbol),
		}
	}
	return rules, nil
}

type positionsResult struct {
	List []struct {
		Symbol string `json:"symbol"`
		Side   string `json:"side"`
		Size   string `json:"size"`
	} `json:"list"`
}

// OpenPosition returns the current position for symbol; a zero Size means
// the symbol is flat.
func (b *Bybit) OpenPosition(ctx context.Context, symbol string) (models.Position, error) {
	params := map[string]interface{}{"category": b.category, "symbol": symbol}
	resp, err := b.call(ctx, "position-list", params, func(ctx context.Context, p map[string]interface{}) (*bybit.ServerResponse, error) {
		return b.client.NewUtaBybitServiceWithParams(p).GetPositionList(ctx)
	})
	if err != nil {
		return models.Position{}, err
	}

	var result positionsResult
	if err := decodeResult(resp, "position-list", &result); err != nil {
		return models.Position{}, err
	}

	pos := models.Position{Symbol: symbol}
	for _, item := range result.List {
		if item.Symbol != symbol {
			continue
		}
		size, err := decimal.NewFromString(item.Size)
		if err != nil || !size.IsPositive() {
			continue
		}
		pos.Size = size
		if item.Side == "Sell" {
			pos.Side = models.SideSell
		} else {
			pos.Side = models.SideBuy
		}
		break
	}
	return pos, nil
}

// SetLeverage applies the same leverage to both sides of the symbol. An
// already-matching value is reported by the API as an error code and is
// treated as success.
func (b *Bybit) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	params := map[string]interface{}{
		"category":     b.category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	_, err := b.call(ctx, "set-leverage", params, func(ctx context.Context, p map[string]interface{}) (*bybit.ServerResponse, error) {
		return b.client.NewUtaBybitServiceWithParams(p).SetPositionLeverage(ctx)
	})
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.Code == retCodeLeverageUnchanged {
		return nil
	}
	return err
}

type placeOrderResult struct {
	OrderID string `json:"orderId"`
}

// PlaceOrder submits one order and returns the exchange order id.
func (b *Bybit) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	tif := req.TimeInForce
	if tif == "" {
		if req.OrderType == models.OrderTypeMarket {
			tif = "IOC"
		} else {
			tif = "GTC"
		}
	}
	params := map[string]interface{}{
		"category":    b.category,
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"orderType":   orderTypeParam(req.OrderType),
		"qty":         req.Quantity.String(),
		"timeInForce": tif,
	}
	if req.OrderType == models.OrderTypeLimit {
		params["price"] = req.Price.String()
	}
	if req.ReduceOnly {
		params["reduceOnly"] = true
	}

	resp, err := b.call(ctx, "order-create", params, func(ctx context.Context, p map[string]interface{}) (*bybit.ServerResponse, error) {
		return b.client.NewUtaBybitServiceWithParams(p).PlaceOrder(ctx)
	})
	if err != nil {
		return "", err
	}

	var result placeOrderResult
	if err := decodeResult(resp, "order-create", &result); err != nil {
		return "", err
	}
	return result.OrderID, nil
}

func orderTypeParam(t models.OrderType) string {
	if t == models.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}
