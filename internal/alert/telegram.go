// Package alert sends one Telegram message per detected LargeOrder,
// adapted from notification_service.go's NotificationService.Notify
// fire-and-forget send, generalized with per-(coin,side) cooldown
// debouncing and a global pause on HTTP 429.
package alert

import (
	"fmt"
	"log"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"densityradar/internal/model"
)

// Sink sends density-anchor alerts to a single Telegram chat.
type Sink struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	cooldown time.Duration
	logger   *log.Logger

	mu          sync.Mutex
	lastSent    map[string]time.Time
	pausedUntil time.Time
}

// New initializes the Telegram bot. A blank token disables the sink:
// Notify becomes a safe no-op, mirroring NewNotificationService's
// "missing token" path.
func New(token string, chatID int64, cooldown time.Duration, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	if token == "" {
		logger.Println("⚠️ telegram bot token not set, alerts disabled")
		return &Sink{logger: logger, lastSent: make(map[string]time.Time)}
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Printf("⚠️ failed to init telegram bot: %v", err)
		return &Sink{logger: logger, lastSent: make(map[string]time.Time)}
	}
	logger.Printf("✅ telegram authorized on account %s", bot.Self.UserName)
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Sink{
		bot:      bot,
		chatID:   chatID,
		cooldown: cooldown,
		logger:   logger,
		lastSent: make(map[string]time.Time),
	}
}

func debounceKey(coin string, side model.Side) string {
	return coin + "|" + string(side)
}

// allow reports whether a send for key is currently permitted, recording
// the attempt if so: false during a global pause window or within an
// in-flight cooldown for the same key.
func (s *Sink) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Now().Before(s.pausedUntil) {
		return false
	}
	if last, ok := s.lastSent[key]; ok && time.Since(last) < s.cooldown {
		return false
	}
	s.lastSent[key] = time.Now()
	return true
}

// Notify sends one message for order, debounced by (coin,side) cooldown
// and dropped outright during a global 429 pause window.
func (s *Sink) Notify(order model.LargeOrder) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	if !s.allow(debounceKey(order.Coin, order.Side)) {
		return
	}
	s.send(formatLargeOrder(order))
}

// NotifyListing sends a new-listing alert, used by the listing watcher.
func (s *Sink) NotifyListing(coin string) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	s.send(fmt.Sprintf("🆕 **NEW LISTING**\n%s is now tracked.", coin))
}

func formatLargeOrder(order model.LargeOrder) string {
	icon := "🟢"
	label := "BID"
	if order.Side == model.SideAsk {
		icon = "🔴"
		label = "ASK"
	}
	return fmt.Sprintf("%s **DENSITY ANCHOR DETECTED**\n\n**Pair:** %s | **Side:** %s\n**Price:** %.6f\n**Size:** %.4f (**$%.0f**)\n**Distance:** %.3f%%",
		icon, order.Coin, label, order.Price, order.Size, order.ValueUsd, order.DistancePercent)
}

// send fires the message asynchronously, mirroring Notify's fire-and-forget
// goroutine, and installs a global pause if Telegram returns a 429 with a
// retry_after.
func (s *Sink) send(text string) {
	go func() {
		msg := tgbotapi.NewMessage(s.chatID, text)
		msg.ParseMode = "Markdown"
		_, err := s.bot.Send(msg)
		if err == nil {
			return
		}
		s.logger.Printf("⚠️ failed to send telegram alert: %v", err)
		if retryAfter, ok := retryAfterSeconds(err); ok {
			s.mu.Lock()
			s.pausedUntil = time.Now().Add(time.Duration(retryAfter) * time.Second)
			s.mu.Unlock()
			s.logger.Printf("🔇 telegram rate-limited, pausing alerts for %ds", retryAfter)
		}
	}()
}

func retryAfterSeconds(err error) (int, bool) {
	apiErr, ok := err.(*tgbotapi.Error)
	if !ok || apiErr.ResponseParameters.RetryAfter == 0 {
		return 0, false
	}
	return apiErr.ResponseParameters.RetryAfter, true
}
