package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
)

const (
	defaultAttempts = 3
	defaultDelay    = time.Second
)

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token         string
	ChatID        int64
	RatePerSecond int
	ServerURL     string // overrides the Bot API endpoint
	Attempts      int
	RetryDelay    time.Duration
}

// Telegram sends alerts through a Telegram bot.
type Telegram struct {
	bot      *bot.Bot
	chatID   int64
	limiter  *rate.Limiter
	attempts int
	delay    time.Duration
}

// NewTelegram creates the bot client.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("missing telegram bot token")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("missing telegram chat_id")
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultDelay
	}

	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.ServerURL))
	}
	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	return &Telegram{
		bot:      b,
		chatID:   cfg.ChatID,
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RatePerSecond)), cfg.RatePerSecond),
		attempts: cfg.Attempts,
		delay:    cfg.RetryDelay,
	}, nil
}

// Notify sends a as a Markdown message.
func (t *Telegram) Notify(ctx context.Context, a Alert) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}

	params := &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      a.Text(),
		ParseMode: "Markdown",
	}
	return Retry(ctx, t.attempts, t.delay, func() error {
		if _, err := t.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", t.chatID, err)
		}
		return nil
	})
}

// Retry calls fn up to maxAttempts times, sleeping delay between failures.
func Retry(ctx context.Context, maxAttempts int, delay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("Notify", "attempt %d/%d failed: %v", attempt, maxAttempts, err)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
