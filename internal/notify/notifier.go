// Package notify pushes human-readable pipeline outcomes to an operator
// channel. Delivery is best effort: a notification failure is counted and
// logged but never affects the signal's result.
package notify

import (
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signalflow/logger"
	"signalflow/models"
)

// Notifier receives pipeline events: a signal clearing the boundary, a
// request turned away at it, the terminal order result, and process-level
// announcements.
type Notifier interface {
	SignalReceived(sig *models.Signal)
	RequestRejected(stage, detail string)
	OrderResult(sig *models.Signal, res models.ExecutionResult)
	SystemEvent(text string)
}

// Telegram delivers notifications to a single chat.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    *logger.Log
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, log: logger.GetLogger()}, nil
}

func (t *Telegram) SignalReceived(sig *models.Signal) {
	t.send(formatSignalReceived(sig))
}

func (t *Telegram) RequestRejected(stage, detail string) {
	t.send(formatRequestRejected(stage, detail))
}

func (t *Telegram) OrderResult(sig *models.Signal, res models.ExecutionResult) {
	t.send(formatOrderResult(sig, res))
}

func (t *Telegram) SystemEvent(text string) {
	t.send(text)
}

func (t *Telegram) send(text string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
		logger.IncrementNotifyFailure()
		t.log.WithComponent("notify").WithError(err).Warn("telegram delivery failed")
	}
}

// LogNotifier is the fallback when no external channel is configured.
type LogNotifier struct {
	log *logger.Log
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.GetLogger()}
}

func (n *LogNotifier) SignalReceived(sig *models.Signal) {
	n.log.WithComponent("notify").Info(formatSignalReceived(sig))
}

func (n *LogNotifier) RequestRejected(stage, detail string) {
	n.log.WithComponent("notify").Warn(formatRequestRejected(stage, detail))
}

func (n *LogNotifier) OrderResult(sig *models.Signal, res models.ExecutionResult) {
	n.log.WithComponent("notify").Info(formatOrderResult(sig, res))
}

func (n *LogNotifier) SystemEvent(text string) {
	n.log.WithComponent("notify").Info(text)
}

// formatSignal renders the one-line description of a signal shared by the
// received and result messages.
func formatSignal(sig *models.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", sig.Action, sig.Symbol)
	if sig.Action == models.ActionOpen {
		fmt.Fprintf(&b, " %s %s %s", sig.Direction, sig.AmountQuote.String(), "USDT")
		if sig.OrderType == models.OrderTypeLimit {
			fmt.Fprintf(&b, " @ %s", sig.LimitPrice.String())
		}
		if sig.Leverage > 0 {
			fmt.Fprintf(&b, " x%d", sig.Leverage)
		}
	}
	return b.String()
}

func formatSignalReceived(sig *models.Signal) string {
	msg := "📨 signal received: " + formatSignal(sig)
	if sig.Note != "" {
		msg += "\nnote: " + sig.Note
	}
	return msg
}

func formatRequestRejected(stage, detail string) string {
	return fmt.Sprintf("⚠️ request rejected at %s: %s", stage, detail)
}

func formatOrderResult(sig *models.Signal, res models.ExecutionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", statusMark(res.Status), formatSignal(sig))
	fmt.Fprintf(&b, "\nstatus: %s", res.Status)
	if res.ExchangeOrderID != "" {
		fmt.Fprintf(&b, "\norder: %s", res.ExchangeOrderID)
	}
	if res.Detail != "" {
		fmt.Fprintf(&b, "\ndetail: %s", res.Detail)
	}
	if sig.Note != "" {
		fmt.Fprintf(&b, "\nnote: %s", sig.Note)
	}
	return b.String()
}

func statusMark(s models.Status) string {
	switch s {
	case models.StatusFilled:
		return "✅"
	case models.StatusSimulated:
		return "🧪"
	case models.StatusRejected:
		return "🚫"
	default:
		return "❌"
	}
}
