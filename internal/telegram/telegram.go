// Package telegram wraps the bot API behind the two operations the bridge
// needs: a long-poll update stream filtered to the one authorized chat,
// and a send path that enforces the message ceiling.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	// MessageLimit is the chat-side ceiling in code points.
	MessageLimit = 4096

	// TrimMarker replaces the middle of over-ceiling messages.
	TrimMarker = "\n[...]\n"

	pollTimeoutSec = 30
)

// Inbound is one message from the authorized peer.
type Inbound struct {
	SenderID int64
	Text     string
}

// Client is a Telegram transport bound to a single authorized chat id.
type Client struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *logrus.Logger
}

// New authenticates against the bot API. chatID 0 means "no authorized
// peer yet" (register mode); Send is then a no-op and Updates yields
// every sender.
func New(token string, chatID int64, log *logrus.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with Telegram: %w", err)
	}
	log.WithField("bot", bot.Self.UserName).Debug("Telegram authenticated")
	return &Client{bot: bot, chatID: chatID, log: log}, nil
}

// ChatID returns the authorized chat id (0 in register mode).
func (c *Client) ChatID() int64 { return c.chatID }

// Send delivers one message to the authorized chat. Messages are
// mid-trimmed to the ceiling; whitespace-only messages are dropped.
// Transport failures are logged at debug and returned; the message is
// dropped, nothing is retried beyond the plain-text fallback.
func (c *Client) Send(text string) error {
	if c.chatID == 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	text = TrimMiddle(text)

	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := c.bot.Send(msg); err != nil {
		// Program output is rarely valid markup; retry plain before
		// giving up on this message.
		msg.ParseMode = ""
		if _, err2 := c.bot.Send(msg); err2 != nil {
			c.log.WithError(err2).Debug("Telegram send failed, dropping message")
			return err2
		}
	}
	return nil
}

// Updates long-polls for inbound messages and delivers those from the
// authorized chat on the returned channel. Messages from anyone else are
// dropped without a reply. The channel closes when ctx is cancelled.
func (c *Client) Updates(ctx context.Context) <-chan Inbound {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSec
	raw := c.bot.GetUpdatesChan(u)

	out := make(chan Inbound)
	go func() {
		defer c.bot.StopReceivingUpdates()
		c.filterUpdates(ctx, raw, out)
	}()
	return out
}

// authorized is the peer gate: only the one configured chat may drive the
// bridge. chatID 0 is register mode, where every sender passes.
func authorized(chatID, msgChatID int64) bool {
	return chatID == 0 || msgChatID == chatID
}

// filterUpdates forwards text messages that pass the authorization gate
// and closes out when ctx is cancelled or raw is exhausted.
func (c *Client) filterUpdates(ctx context.Context, raw <-chan tgbotapi.Update, out chan<- Inbound) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-raw:
			if !ok {
				return
			}
			m := upd.Message
			if m == nil || m.Text == "" {
				continue
			}
			if !authorized(c.chatID, m.Chat.ID) {
				c.log.WithField("chat", m.Chat.ID).Debug("dropping message from unauthorized chat")
				continue
			}
			in := Inbound{SenderID: m.Chat.ID, Text: m.Text}
			select {
			case out <- in:
			case <-ctx.Done():
				return
			}
		}
	}
}

// TrimMiddle bounds s to the message ceiling, replacing the middle with
// the trim marker so both the beginning and the end survive.
func TrimMiddle(s string) string {
	r := []rune(s)
	if len(r) <= MessageLimit {
		return s
	}
	marker := []rune(TrimMarker)
	keep := MessageLimit - len(marker)
	head := keep / 2
	tail := keep - head
	out := make([]rune, 0, MessageLimit)
	out = append(out, r[:head]...)
	out = append(out, marker...)
	out = append(out, r[len(r)-tail:]...)
	return string(out)
}
