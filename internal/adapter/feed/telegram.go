// Package feed posts messages to the outbound feed channel.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"
)

// Telegram posts messages to a Telegram chat. It implements domain.Poster.
type Telegram struct {
	bot    *tele.Bot
	chatID int64
}

// NewTelegram creates the bot client. Token validation happens on the
// first API call, not here.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token: token,
		// The bot only sends; skip the initial getMe round trip so a
		// network blip at startup does not kill the process.
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Post sends one message to the configured chat.
func (t *Telegram) Post(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tele.ChatID(t.chatID), message); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// DryRun logs messages instead of sending them. It stands in for the
// real poster when no credentials are configured.
type DryRun struct {
	log  zerolog.Logger
	sent []string
}

// NewDryRun creates a logging-only poster.
func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{log: logger}
}

// Post records the message and logs it at info level.
func (d *DryRun) Post(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.sent = append(d.sent, message)
	d.log.Info().
		Int("length", len([]rune(message))).
		Time("at", time.Now()).
		Str("message", message).
		Msg("dry-run post")
	return nil
}

// Sent returns the messages posted so far.
func (d *DryRun) Sent() []string { return d.sent }
