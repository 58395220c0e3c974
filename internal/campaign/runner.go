// Package campaign drives one sequential send run: limiter check,
// transport call, status bookkeeping, progress reporting.
//
// The loop is deliberately serial. The limiter's daily and rolling-hour
// guarantees only hold when every send funnels through it one at a
// time; the whole point of this component is to slow throughput down,
// not to speed it up.
package campaign

import (
	"context"
	"fmt"
	"time"

	"outreach/internal/delivery"
	"outreach/internal/directory"
	"outreach/internal/eventbus"
	"outreach/internal/mail"
	"outreach/internal/warmup"
	logx "outreach/pkg/logx"
)

type Config struct {
	// WarmupEnabled gates the limiter and the inter-send delays. Sends
	// are still recorded against the warm-up counters either way, so
	// re-enabling warm-up later starts from truthful numbers.
	WarmupEnabled bool
}

type Runner struct {
	cfg       Config
	sched     *warmup.Scheduler
	transport mail.Transport
	renderer  *mail.Renderer
	dir       delivery.Directory
	bus       *eventbus.Bus
	log       logx.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewRunner(cfg Config, sched *warmup.Scheduler, transport mail.Transport, renderer *mail.Renderer, dir delivery.Directory, bus *eventbus.Bus, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		cfg:       cfg,
		sched:     sched,
		transport: transport,
		renderer:  renderer,
		dir:       dir,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// Run processes the batch in order and returns the aggregate outcome.
// The batch must already be deduplicated by normalized address
// (directory.Dedupe); the run treats it as immutable input.
//
// A single recipient's transport failure never aborts the batch. Only
// the limiter (controlled stop) or context cancellation ends a run
// before the last recipient.
func (r *Runner) Run(ctx context.Context, recipients []directory.Recipient) Summary {
	sum := Summary{
		StartedAt:  r.now(),
		Total:      len(recipients),
		StopReason: StopCompleted,
	}
	tracker := delivery.NewTracker(r.dir, r.log)

	limits := r.sched.Limits(r.now())
	if r.cfg.WarmupEnabled {
		r.say("warm-up: day %d, daily limit %d, sent today %d, remaining %d, hourly limit %d",
			limits.DaysSinceStart, limits.DailyLimit, limits.SentToday, limits.RemainingToday, limits.HourlyLimit)
	} else {
		r.say("warm-up disabled for this run")
	}

	for i, rec := range recipients {
		if ctx.Err() != nil {
			sum.StopReason = StopCancelled
			sum.Skipped = len(recipients) - i
			r.say("run cancelled; %d recipients left", sum.Skipped)
			break
		}

		if r.cfg.WarmupEnabled {
			limits = r.sched.Limits(r.now())
			if limits.RemainingToday <= 0 {
				sum.StopReason = StopDailyLimit
				sum.Skipped = len(recipients) - i
				r.say("warm-up: daily limit %d reached, stopping to protect reputation (%d left)",
					limits.DailyLimit, sum.Skipped)
				break
			}
			ok, wait, lastHour := r.sched.CanSendNow(r.now())
			if !ok {
				sum.StopReason = StopHourlyLimit
				sum.ResumeAfter = wait
				sum.Skipped = len(recipients) - i
				r.say("warm-up: hourly limit reached (%d/%d), stopping; resume in ~%s (%d left)",
					lastHour, limits.HourlyLimit, wait.Round(time.Second), sum.Skipped)
				break
			}
		}

		// Best-effort: a failed pending write must not cost us the send.
		tracker.MarkPending(ctx, rec.Email)

		subject, body := r.renderer.Render(rec)
		err := r.transport.Send(ctx, mail.Message{To: rec.Email, Subject: subject, HTMLBody: body})
		if err != nil {
			tracker.MarkError(ctx, rec.Email)
			sum.Errors = append(sum.Errors, SendError{Email: rec.Email, Reason: err.Error()})
			r.say("send failed: %s: %v", rec.Email, err)
		} else {
			sum.Sent++
			tracker.MarkSent(ctx, rec.Email)
			if perr := r.sched.RecordSend(r.now()); perr != nil {
				sum.Warnings = append(sum.Warnings, fmt.Sprintf("warm-up state not persisted: %v", perr))
			}
			r.say("sent: %s", rec.Email)
		}

		// Human-like pacing between recipients, also after failures;
		// a bounce followed by an instant retry elsewhere looks
		// exactly like the automation it is.
		if r.cfg.WarmupEnabled && i < len(recipients)-1 {
			d := r.sched.NextDelay(sum.Sent)
			r.say("pausing %s", d.Round(time.Second))
			if !sleepCtx(ctx, d) {
				continue // cancellation lands at the top of the next iteration
			}
		}
	}

	sum.Warnings = append(sum.Warnings, tracker.Warnings()...)
	sum.FinishedAt = r.now()
	r.finish(sum)
	return sum
}

func (r *Runner) say(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.log.Info(line)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeRunLog, Data: line})
	}
}

func (r *Runner) finish(sum Summary) {
	fields := []logx.Field{
		logx.Int("total", sum.Total),
		logx.Int("sent", sum.Sent),
		logx.Int("skipped", sum.Skipped),
		logx.Int("errors", len(sum.Errors)),
		logx.Int("warnings", len(sum.Warnings)),
		logx.String("stop_reason", string(sum.StopReason)),
		logx.Duration("dur", sum.FinishedAt.Sub(sum.StartedAt)),
	}
	if len(sum.Errors) > 0 {
		r.log.Warn("run finished with failures", fields...)
	} else {
		r.log.Info("run finished", fields...)
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: sum})
	}
}

// sleepCtx waits d or until ctx is done; reports whether the full delay
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
