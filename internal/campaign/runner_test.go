package campaign

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"outreach/internal/delivery"
	"outreach/internal/directory"
	"outreach/internal/eventbus"
	"outreach/internal/mail"
	"outreach/internal/statefile"
	"outreach/internal/warmup"
	logx "outreach/pkg/logx"
)

type fakeTransport struct {
	sent []string
	fail map[string]bool
}

func (f *fakeTransport) Send(_ context.Context, msg mail.Message) error {
	if f.fail[msg.To] {
		return errors.New("smtp: connection refused")
	}
	f.sent = append(f.sent, msg.To)
	return nil
}

type fakeDirectory struct {
	statuses map[string]delivery.Status
}

func (d *fakeDirectory) UpdateStatus(_ context.Context, email string, st delivery.Status) error {
	d.statuses[email] = st
	return nil
}

func (d *fakeDirectory) BulkResetStatus(_ context.Context, from, to delivery.Status) (int64, error) {
	var n int64
	for e, st := range d.statuses {
		if st == from {
			d.statuses[e] = to
			n++
		}
	}
	return n, nil
}

func (d *fakeDirectory) ReadStatuses(_ context.Context) (map[string]delivery.Status, error) {
	return d.statuses, nil
}

func batch(n int) []directory.Recipient {
	out := make([]directory.Recipient, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, directory.Recipient{
			Email:  fmt.Sprintf("r%02d@example.es", i),
			Name:   fmt.Sprintf("Empresa %d", i),
			Status: delivery.StatusPending,
		})
	}
	return out
}

type fixture struct {
	runner    *Runner
	transport *fakeTransport
	dir       *fakeDirectory
	sched     *warmup.Scheduler
}

// fastWarmup keeps inter-send delays in the low milliseconds so tests
// exercise the pacing path without actually pacing.
func fastWarmup(t *testing.T, schedule []int, hourly int) *warmup.Scheduler {
	t.Helper()
	store, err := statefile.New(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("statefile.New: %v", err)
	}
	return warmup.New(warmup.Config{
		DailySchedule:  schedule,
		HourlyLimit:    hourly,
		ShortDelayMin:  time.Millisecond,
		ShortDelayMax:  2 * time.Millisecond,
		LongPauseEvery: 5,
		LongPauseMin:   time.Millisecond,
		LongPauseMax:   2 * time.Millisecond,
	}, store, logx.Nop())
}

func newFixture(t *testing.T, schedule []int, hourly int, recipients []directory.Recipient) *fixture {
	t.Helper()
	tr := &fakeTransport{fail: map[string]bool{}}
	dir := &fakeDirectory{statuses: map[string]delivery.Status{}}
	for _, r := range recipients {
		dir.statuses[r.Email] = r.Status
	}
	sched := fastWarmup(t, schedule, hourly)
	r := NewRunner(
		Config{WarmupEnabled: true},
		sched,
		tr,
		mail.NewRenderer("Hello {company}", "{greeting} We work with {company_type} in {locality}."),
		dir,
		eventbus.New(),
		logx.Nop(),
	)
	r.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return &fixture{runner: r, transport: tr, dir: dir, sched: sched}
}

func TestRunSendsWholeBatchWithinLimits(t *testing.T) {
	t.Parallel()
	recipients := batch(10)
	f := newFixture(t, []int{10, 20}, 15, recipients)

	sum := f.runner.Run(context.Background(), recipients)

	if sum.StopReason != StopCompleted || sum.StoppedEarly() {
		t.Fatalf("StopReason = %s, want completed", sum.StopReason)
	}
	if sum.Sent != 10 || sum.Skipped != 0 || len(sum.Errors) != 0 {
		t.Fatalf("summary: %+v", sum)
	}
	for _, r := range recipients {
		if f.dir.statuses[r.Email] != delivery.StatusSent {
			t.Fatalf("%s = %v, want sent", r.Email, f.dir.statuses[r.Email])
		}
	}

	limits := f.sched.Limits(f.runner.now())
	if limits.SentToday != 10 || limits.RemainingToday != 0 {
		t.Fatalf("after run: SentToday=%d RemainingToday=%d", limits.SentToday, limits.RemainingToday)
	}
}

func TestRunStopsImmediatelyAtDailyLimit(t *testing.T) {
	t.Parallel()
	recipients := batch(5)
	f := newFixture(t, []int{2}, 15, recipients)

	// Exhaust today's quota before the run.
	now := f.runner.now()
	for i := 0; i < 2; i++ {
		if err := f.sched.RecordSend(now); err != nil {
			t.Fatalf("RecordSend: %v", err)
		}
	}

	sum := f.runner.Run(context.Background(), recipients)
	if sum.StopReason != StopDailyLimit {
		t.Fatalf("StopReason = %s, want daily-limit", sum.StopReason)
	}
	if sum.Sent != 0 || sum.Skipped != 5 {
		t.Fatalf("summary: %+v", sum)
	}
	if len(f.transport.sent) != 0 {
		t.Fatalf("transport called despite exhausted quota: %v", f.transport.sent)
	}
}

func TestRunStopsAtHourlyLimitWithWait(t *testing.T) {
	t.Parallel()
	recipients := batch(16)
	f := newFixture(t, []int{100}, 15, recipients)

	sum := f.runner.Run(context.Background(), recipients)

	if sum.StopReason != StopHourlyLimit {
		t.Fatalf("StopReason = %s, want hourly-limit", sum.StopReason)
	}
	if sum.Sent != 15 || sum.Skipped != 1 {
		t.Fatalf("summary: sent=%d skipped=%d", sum.Sent, sum.Skipped)
	}
	if sum.ResumeAfter <= 0 {
		t.Fatalf("ResumeAfter = %v, want > 0", sum.ResumeAfter)
	}
	if f.dir.statuses["r15@example.es"] != delivery.StatusPending {
		t.Fatalf("16th recipient should remain pending, got %v", f.dir.statuses["r15@example.es"])
	}
}

func TestRunContinuesPastTransportFailure(t *testing.T) {
	t.Parallel()
	recipients := batch(5)
	f := newFixture(t, []int{10}, 15, recipients)
	f.transport.fail["r02@example.es"] = true

	sum := f.runner.Run(context.Background(), recipients)

	if sum.StopReason != StopCompleted {
		t.Fatalf("StopReason = %s, want completed", sum.StopReason)
	}
	if sum.Sent != 4 {
		t.Fatalf("Sent = %d, want 4", sum.Sent)
	}
	if len(sum.Errors) != 1 || sum.Errors[0].Email != "r02@example.es" {
		t.Fatalf("Errors = %+v, want exactly one for r02", sum.Errors)
	}
	if f.dir.statuses["r02@example.es"] != delivery.StatusError {
		t.Fatalf("failed recipient = %v, want error", f.dir.statuses["r02@example.es"])
	}
	if f.dir.statuses["r03@example.es"] != delivery.StatusSent {
		t.Fatalf("run did not continue past the failure")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()
	recipients := batch(5)
	f := newFixture(t, []int{100}, 15, recipients)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := f.runner.Run(ctx, recipients)
	if sum.StopReason != StopCancelled {
		t.Fatalf("StopReason = %s, want cancelled", sum.StopReason)
	}
	if sum.Sent != 0 || sum.Skipped != 5 {
		t.Fatalf("summary: %+v", sum)
	}
}

func TestRunPublishesFinishedEvent(t *testing.T) {
	t.Parallel()
	recipients := batch(2)
	f := newFixture(t, []int{10}, 15, recipients)

	bus := eventbus.New()
	f.runner.bus = bus
	sub := bus.Subscribe(64)
	defer sub.Close()

	sum := f.runner.Run(context.Background(), recipients)

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-sub.C:
			if e.Type != eventbus.TypeRunFinished {
				continue
			}
			got, ok := e.Data.(Summary)
			if !ok {
				t.Fatalf("finished event Data = %T", e.Data)
			}
			if got.Sent != sum.Sent || got.StopReason != sum.StopReason {
				t.Fatalf("event summary %+v != returned %+v", got, sum)
			}
			return
		case <-deadline:
			t.Fatal("no run.finished event observed")
		}
	}
}

func TestRunWithWarmupDisabledIgnoresLimits(t *testing.T) {
	t.Parallel()
	recipients := batch(4)
	f := newFixture(t, []int{1}, 1, recipients)
	f.runner.cfg.WarmupEnabled = false

	sum := f.runner.Run(context.Background(), recipients)
	if sum.Sent != 4 || sum.StopReason != StopCompleted {
		t.Fatalf("summary: %+v", sum)
	}
	// Sends are still recorded so the counters stay truthful.
	if got := f.sched.Limits(f.runner.now()); got.SentToday != 4 {
		t.Fatalf("SentToday = %d, want 4", got.SentToday)
	}
}
