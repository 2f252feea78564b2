package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	appconfig "signalflow/config"
	"signalflow/logger"
	"signalflow/models"
)

// TickerStream keeps a live top-of-book quote per symbol from the Bybit
// public websocket. Quotes older than maxAge are ignored so a stalled
// stream degrades to REST lookups instead of serving dead prices. The
// stream reconnects until its context is cancelled.
type TickerStream struct {
	wsURL   string
	symbols []string
	maxAge  time.Duration

	mu     sync.RWMutex
	quotes map[string]streamQuote

	ctx     context.Context
	wg      sync.WaitGroup
	running bool
	log     *logger.Log
}

type streamQuote struct {
	price models.BestPrice
	at    time.Time
}

// NewTickerStream creates a stream for the configured symbols.
func NewTickerStream(cfg *appconfig.Config) *TickerStream {
	maxAge := cfg.Exchange.TickerStream.MaxAge
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &TickerStream{
		wsURL:   cfg.Exchange.WSURL,
		symbols: cfg.Exchange.TickerStream.Symbols,
		maxAge:  maxAge,
		quotes:  make(map[string]streamQuote),
		log:     logger.GetLogger(),
	}
}

// Get returns the latest quote for symbol when both fresh and two-sided
// enough to be usable.
func (t *TickerStream) Get(symbol string) (models.BestPrice, bool) {
	t.mu.RLock()
	q, ok := t.quotes[symbol]
	t.mu.RUnlock()
	if !ok || time.Since(q.at) > t.maxAge {
		return models.BestPrice{}, false
	}
	if !q.price.Bid.IsPositive() && !q.price.Ask.IsPositive() {
		return models.BestPrice{}, false
	}
	return q.price, true
}

// Start launches the websocket worker. It returns immediately; the stream
// keeps reconnecting in the background until ctx is cancelled.
func (t *TickerStream) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("ticker stream already running")
	}
	t.running = true
	t.ctx = ctx
	t.mu.Unlock()

	log := t.log.WithComponent("ticker_stream")
	log.WithFields(logger.Fields{"symbols": t.symbols, "url": t.wsURL}).Info("starting ticker stream")

	t.wg.Add(1)
	go t.stream()
	return nil
}

// Stop waits for the worker to finish after context cancellation.
func (t *TickerStream) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	t.wg.Wait()
	t.log.WithComponent("ticker_stream").Info("ticker stream stopped")
}

// stream handles websocket lifecycle, reconnection and quote updates.
func (t *TickerStream) stream() {
	defer t.wg.Done()
	log := t.log.WithComponent("ticker_stream").WithFields(logger.Fields{"worker": "quote_stream"})

	for {
		if t.ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{}
		conn, _, err := dialer.Dial(t.wsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, retrying")
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-t.ctx.Done():
				return
			}
		}

		args := make([]string, 0, len(t.symbols))
		for _, sym := range t.symbols {
			args = append(args, fmt.Sprintf("orderbook.1.%s", sym))
		}
		sub := map[string]interface{}{"op": "subscribe", "args": args}
		if err := conn.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("failed to subscribe")
			conn.Close()
			continue
		}

		pingTicker := time.NewTicker(20 * time.Second)
		done := make(chan struct{})
		go func() {
			defer pingTicker.Stop()
			for {
				select {
				case <-done:
					return
				case <-t.ctx.Done():
					conn.Close()
					return
				case <-pingTicker.C:
					conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ping"}`))
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(done)
				conn.Close()
				if t.ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("websocket read error, reconnecting")
				break
			}
			t.processMessage(msg)
		}

		time.Sleep(time.Second)
	}
}

type tickerEvent struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	} `json:"data"`
}

// processMessage applies one orderbook.1 event to the quote cache.
// Delta frames may carry only one side; the other side is kept.
func (t *TickerStream) processMessage(msg []byte) {
	var evt tickerEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		return
	}
	if evt.Topic == "" || evt.Data.Symbol == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	q := t.quotes[evt.Data.Symbol]
	q.price.Symbol = evt.Data.Symbol
	if len(evt.Data.Bids) > 0 && len(evt.Data.Bids[0]) > 0 {
		if bid, err := decimal.NewFromString(evt.Data.Bids[0][0]); err == nil && bid.IsPositive() {
			q.price.Bid = bid
		}
	}
	if len(evt.Data.Asks) > 0 && len(evt.Data.Asks[0]) > 0 {
		if ask, err := decimal.NewFromString(evt.Data.Asks[0][0]); err == nil && ask.IsPositive() {
			q.price.Ask = ask
		}
	}
	q.at = time.Now()
	t.quotes[evt.Data.Symbol] = q

	logger.IncrementTickerUpdate()
}
