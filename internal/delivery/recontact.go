package delivery

import (
	"context"
	"time"

	"outreach/internal/statefile"
	logx "outreach/pkg/logx"
)

// RecontactStateFile is the record name under the state directory.
const RecontactStateFile = "recontact_state.json"

const monthLayout = "2006-01"

// RecontactState remembers which calendar month the bulk reopen already
// ran for, so the reopen is idempotent per month.
type RecontactState struct {
	LastResetMonth string `json:"last_reset_month,omitempty"` // YYYY-MM
}

// RecontactResult reports one reopen attempt.
type RecontactResult struct {
	Performed bool
	Month     string
	Reopened  int64
}

// Recontact reopens previously contacted recipients once per calendar
// month: every recipient marked sent goes back to pending, making them
// eligible for the next campaign cycle without manual list curation.
type Recontact struct {
	dir   Directory
	store *statefile.Store
	log   logx.Logger
}

func NewRecontact(dir Directory, store *statefile.Store, log logx.Logger) *Recontact {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recontact{dir: dir, store: store, log: log}
}

// Run performs the monthly reopen if it has not run for now's month yet.
// Calling it again within the same month is a no-op. The gate is written
// only after the bulk reset succeeded, so a failed reset retries on the
// next trigger.
func (r *Recontact) Run(ctx context.Context, now time.Time) (RecontactResult, error) {
	month := now.Format(monthLayout)

	var st RecontactState
	if r.store != nil {
		r.store.Load(RecontactStateFile, &st)
	}
	if st.LastResetMonth == month {
		r.log.Debug("recontact already ran this month", logx.String("month", month))
		return RecontactResult{Performed: false, Month: month}, nil
	}

	n, err := r.dir.BulkResetStatus(ctx, StatusSent, StatusPending)
	if err != nil {
		return RecontactResult{Performed: false, Month: month}, err
	}

	st.LastResetMonth = month
	if r.store != nil {
		if err := r.store.Save(RecontactStateFile, &st); err != nil {
			// The reopen itself happened. A stale gate means the next
			// trigger reruns the reset, which only touches rows that
			// were marked sent in between; acceptable.
			r.log.Warn("recontact state save failed", logx.String("month", month), logx.Err(err))
		}
	}
	r.log.Info("recontact reopened recipients", logx.String("month", month), logx.Int64("reopened", n))
	return RecontactResult{Performed: true, Month: month, Reopened: n}, nil
}
