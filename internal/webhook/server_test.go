package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signalflow/config"
	"signalflow/internal/auth"
	"signalflow/internal/engine"
	"signalflow/internal/metadata"
	"signalflow/internal/replay"
	"signalflow/internal/validate"
	"signalflow/models"
)

const testSecret = "test-secret"

type fakeVenue struct {
	bestErr error
}

func (f *fakeVenue) BestBidAsk(ctx context.Context, symbol string) (models.BestPrice, error) {
	if f.bestErr != nil {
		return models.BestPrice{}, f.bestErr
	}
	return models.BestPrice{
		Symbol: symbol,
		Bid:    decimal.RequireFromString("49999.9"),
		Ask:    decimal.RequireFromString("50000"),
	}, nil
}

func (f *fakeVenue) OpenPosition(ctx context.Context, symbol string) (models.Position, error) {
	return models.Position{Symbol: symbol}, nil
}

func (f *fakeVenue) InstrumentRules(ctx context.Context, symbol string) (models.InstrumentRules, error) {
	return models.InstrumentRules{
		Symbol:    symbol,
		TickSize:  decimal.RequireFromString("0.1"),
		LotSize:   decimal.RequireFromString("0.001"),
		MinQty:    decimal.RequireFromString("0.001"),
		FetchedAt: time.Now(),
	}, nil
}

type recordingNotifier struct {
	received []*models.Signal
	rejected []string
	results  []models.ExecutionResult
}

func (n *recordingNotifier) SignalReceived(sig *models.Signal) {
	n.received = append(n.received, sig)
}

func (n *recordingNotifier) RequestRejected(stage, detail string) {
	n.rejected = append(n.rejected, stage+": "+detail)
}

func (n *recordingNotifier) OrderResult(sig *models.Signal, res models.ExecutionResult) {
	n.results = append(n.results, res)
}

func (n *recordingNotifier) SystemEvent(text string) {}

func newTestServer(t *testing.T, venue *fakeVenue) (*Server, *recordingNotifier) {
	t.Helper()

	trading := config.TradingConfig{
		DefaultAmountQuote: 50,
		MinOrderQuote:      10,
		MaxOrderQuote:      1000,
		DefaultOrderType:   "market",
		TestMode:           true,
	}
	window := replay.NewWindow(128, time.Minute)
	meta := metadata.NewCache(venue, time.Minute, time.Hour)
	backend := engine.NewBackend(nil, true)
	eng := engine.New(venue, backend, meta, engine.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 2})
	notifier := &recordingNotifier{}

	srv, err := NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 0, ProcessTimeout: 5 * time.Second},
		auth.New(testSecret, time.Minute, false, false),
		validate.New(trading, window),
		eng,
		notifier,
	)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, notifier
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func post(srv *Server, body, signature string, ts int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	if ts != 0 {
		req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(ts, 10))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookSimulatedOpen(t *testing.T) {
	srv, notifier := newTestServer(t, &fakeVenue{})

	body := `{"action":"open","symbol":"BTCUSDT","amount_usdt":100,"order_type":"market"}`
	rec := post(srv, body, sign(body), 0)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res models.ExecutionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Status != models.StatusSimulated {
		t.Fatalf("result status = %s", res.Status)
	}
	if !strings.HasPrefix(res.ExchangeOrderID, "SIM-") {
		t.Fatalf("order id = %q", res.ExchangeOrderID)
	}
	if len(notifier.results) != 1 || notifier.results[0].Status != models.StatusSimulated {
		t.Fatalf("notifier results = %+v", notifier.results)
	}
	if len(notifier.received) != 1 || notifier.received[0].Symbol != "BTCUSDT" {
		t.Fatalf("notifier received = %+v", notifier.received)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, notifier := newTestServer(t, &fakeVenue{})

	body := `{"action":"open","symbol":"BTCUSDT"}`
	rec := post(srv, body, sign(body+"tampered"), 0)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unauthorized") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if len(notifier.results) != 0 || len(notifier.received) != 0 {
		t.Fatal("rejected request must not reach signal notifications")
	}
	if len(notifier.rejected) != 1 || notifier.rejected[0] != "authentication: unauthorized" {
		t.Fatalf("notifier rejected = %+v", notifier.rejected)
	}
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	srv, _ := newTestServer(t, &fakeVenue{})

	body := `{"action":"open","symbol":"BTCUSDT"}`
	stale := time.Now().Add(-10 * time.Minute).UnixMilli()
	rec := post(srv, body, sign(body), stale)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "skew") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWebhookRejectsMissingCredential(t *testing.T) {
	srv, _ := newTestServer(t, &fakeVenue{})

	rec := post(srv, `{"action":"open","symbol":"BTCUSDT"}`, "", 0)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	srv, notifier := newTestServer(t, &fakeVenue{})

	body := `{"action":`
	rec := post(srv, body, sign(body), 0)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(notifier.rejected) != 1 || !strings.HasPrefix(notifier.rejected[0], "validation: ") {
		t.Fatalf("notifier rejected = %+v", notifier.rejected)
	}
}

func TestWebhookRejectsMalformedTimestampHeader(t *testing.T) {
	srv, _ := newTestServer(t, &fakeVenue{})

	body := `{"action":"open","symbol":"BTCUSDT"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign(body))
	req.Header.Set("X-Webhook-Timestamp", "not-a-number")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookReplayedSignalConflicts(t *testing.T) {
	srv, _ := newTestServer(t, &fakeVenue{})

	body := `{"action":"open","symbol":"BTCUSDT","id":"sig-42"}`
	if rec := post(srv, body, sign(body), 0); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec := post(srv, body, sign(body), 0)
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay status = %d", rec.Code)
	}
}

func TestWebhookEngineFailureIsServerError(t *testing.T) {
	srv, _ := newTestServer(t, &fakeVenue{bestErr: errors.New("venue unreachable")})

	body := `{"action":"open","symbol":"BTCUSDT"}`
	rec := post(srv, body, sign(body), 0)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res models.ExecutionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Status != models.StatusFailed {
		t.Fatalf("result status = %s", res.Status)
	}
}

func TestWebhookHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeVenue{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
