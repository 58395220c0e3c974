// Package notifier pushes run outcomes to an operator chat.
//
// It is a pure observer: it subscribes to the event bus and never feeds
// anything back into the send loop.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"outreach/internal/campaign"
	"outreach/internal/eventbus"
	logx "outreach/pkg/logx"
)

// maxErrorLines bounds the per-run failure list in a chat message.
const maxErrorLines = 20

type Config struct {
	Token  string
	ChatID int64
}

// chatSender is the slice of the bot API the notifier uses.
type chatSender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

type Telegram struct {
	bot  chatSender
	chat tele.ChatID
	log  logx.Logger

	wg sync.WaitGroup
}

func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Send-only: no poller, the bot never consumes updates.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chat: tele.ChatID(cfg.ChatID), log: log}, nil
}

// Start subscribes to the bus and forwards run summaries until ctx is
// done. Event drops on a slow chat are acceptable; the log keeps the
// full record.
func (t *Telegram) Start(ctx context.Context, bus *eventbus.Bus) {
	sub := bus.Subscribe(32)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				// A one-shot run cancels right after publishing its
				// summary; forward what is already buffered before
				// exiting so that report is not lost.
				t.flush(sub)
				return
			case e, ok := <-sub.C:
				if !ok {
					return
				}
				t.handle(e)
			}
		}
	}()
}

// Wait blocks until the forwarding goroutine exited (after ctx cancel).
func (t *Telegram) Wait() { t.wg.Wait() }

func (t *Telegram) handle(e eventbus.Event) {
	if e.Type != eventbus.TypeRunFinished {
		return
	}
	if sum, ok := e.Data.(campaign.Summary); ok {
		t.send(formatSummary(sum))
	}
}

func (t *Telegram) flush(sub *eventbus.Subscription) {
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			t.handle(e)
		default:
			return
		}
	}
}

func (t *Telegram) send(text string) {
	if _, err := t.bot.Send(t.chat, text); err != nil {
		t.log.Warn("run summary notification failed", logx.Err(err))
	}
}

func formatSummary(sum campaign.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outreach run finished: %d sent, %d failed, %d skipped of %d (reason: %s, took %s)",
		sum.Sent, len(sum.Errors), sum.Skipped, sum.Total,
		sum.StopReason, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Second))
	if sum.StopReason == campaign.StopHourlyLimit && sum.ResumeAfter > 0 {
		fmt.Fprintf(&b, "\nResume in ~%s.", sum.ResumeAfter.Round(time.Minute))
	}
	if len(sum.Errors) > 0 {
		b.WriteString("\n\nFailures:")
		for i, e := range sum.Errors {
			if i == maxErrorLines {
				fmt.Fprintf(&b, "\n... (%d more)", len(sum.Errors)-maxErrorLines)
				break
			}
			fmt.Fprintf(&b, "\n%s: %s", e.Email, e.Reason)
		}
	}
	if len(sum.Warnings) > 0 {
		fmt.Fprintf(&b, "\n\n%d status bookkeeping warnings (see log).", len(sum.Warnings))
	}
	return b.String()
}
