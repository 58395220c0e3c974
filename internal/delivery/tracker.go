package delivery

import (
	"context"
	"fmt"

	logx "outreach/pkg/logx"
)

// Directory is the slice of the recipient directory this package needs.
// The directory owns schema and storage; the engine only flips one
// status field per recipient.
type Directory interface {
	UpdateStatus(ctx context.Context, email string, st Status) error
	BulkResetStatus(ctx context.Context, from, to Status) (int64, error)
	ReadStatuses(ctx context.Context) (map[string]Status, error)
}

// Tracker applies status transitions for one run and accumulates the
// writes that failed. Construct one per run; it is not safe for
// concurrent use (the send loop is strictly sequential anyway).
type Tracker struct {
	dir Directory
	log logx.Logger

	warnings []string
}

func NewTracker(dir Directory, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{dir: dir, log: log}
}

// MarkPending flags the attempt start. Best-effort: a failure is
// recorded as a warning and the send proceeds.
func (t *Tracker) MarkPending(ctx context.Context, email string) {
	t.mark(ctx, email, StatusPending)
}

// MarkSent records a transport success.
func (t *Tracker) MarkSent(ctx context.Context, email string) {
	t.mark(ctx, email, StatusSent)
}

// MarkError records a transport failure.
func (t *Tracker) MarkError(ctx context.Context, email string) {
	t.mark(ctx, email, StatusError)
}

func (t *Tracker) mark(ctx context.Context, email string, st Status) {
	if err := t.dir.UpdateStatus(ctx, email, st); err != nil {
		t.warnings = append(t.warnings, fmt.Sprintf("%s: could not mark %s: %v", email, st.Label(), err))
		t.log.Warn("status write failed", logx.String("email", email), logx.String("status", st.Label()), logx.Err(err))
	}
}

// Warnings returns the accumulated status-write failures, in order.
func (t *Tracker) Warnings() []string {
	return append([]string(nil), t.warnings...)
}
