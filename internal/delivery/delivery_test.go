package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"outreach/internal/statefile"
	logx "outreach/pkg/logx"
)

// fakeDirectory implements Directory in memory.
type fakeDirectory struct {
	statuses   map[string]Status
	failEmails map[string]bool
	resetCalls int
	failReset  bool
}

func newFakeDirectory(emails ...string) *fakeDirectory {
	d := &fakeDirectory{statuses: map[string]Status{}, failEmails: map[string]bool{}}
	for _, e := range emails {
		d.statuses[e] = StatusPending
	}
	return d
}

func (d *fakeDirectory) UpdateStatus(_ context.Context, email string, st Status) error {
	if d.failEmails[email] {
		return errors.New("column gone")
	}
	d.statuses[email] = st
	return nil
}

func (d *fakeDirectory) BulkResetStatus(_ context.Context, from, to Status) (int64, error) {
	d.resetCalls++
	if d.failReset {
		return 0, errors.New("directory unavailable")
	}
	var n int64
	for e, st := range d.statuses {
		if st == from {
			d.statuses[e] = to
			n++
		}
	}
	return n, nil
}

func (d *fakeDirectory) ReadStatuses(_ context.Context) (map[string]Status, error) {
	out := make(map[string]Status, len(d.statuses))
	for k, v := range d.statuses {
		out[k] = v
	}
	return out, nil
}

func TestStatusParse(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		raw   string
		want  Status
		label string
	}{
		{raw: "PE", want: StatusPending, label: "pending"},
		{raw: "EN", want: StatusSent, label: "sent"},
		{raw: "ER", want: StatusError, label: "error"},
	} {
		got, err := ParseStatus(tt.raw)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", tt.raw, err)
		}
		if got != tt.want || got.Label() != tt.label {
			t.Fatalf("ParseStatus(%q) = %v (%s)", tt.raw, got, got.Label())
		}
	}
	if _, err := ParseStatus("XX"); err == nil {
		t.Fatal("expected error for unknown status code")
	}
}

func TestTrackerAccumulatesWarnings(t *testing.T) {
	t.Parallel()
	dir := newFakeDirectory("a@x.es", "b@x.es")
	dir.failEmails["b@x.es"] = true

	tr := NewTracker(dir, logx.Nop())
	ctx := context.Background()

	tr.MarkPending(ctx, "a@x.es")
	tr.MarkSent(ctx, "a@x.es")
	tr.MarkPending(ctx, "b@x.es")
	tr.MarkError(ctx, "b@x.es")

	if dir.statuses["a@x.es"] != StatusSent {
		t.Fatalf("a@x.es = %v, want sent", dir.statuses["a@x.es"])
	}
	warns := tr.Warnings()
	if len(warns) != 2 {
		t.Fatalf("warnings = %d, want 2 (pending + error writes for b)", len(warns))
	}
	for _, w := range warns {
		if !strings.Contains(w, "b@x.es") {
			t.Fatalf("warning does not name the recipient: %q", w)
		}
	}
}

func TestRecontactRunsOncePerMonth(t *testing.T) {
	t.Parallel()
	store, err := statefile.New(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("statefile.New: %v", err)
	}
	dir := newFakeDirectory("a@x.es", "b@x.es", "c@x.es")
	dir.statuses["a@x.es"] = StatusSent
	dir.statuses["b@x.es"] = StatusSent

	rc := NewRecontact(dir, store, logx.Nop())
	now := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)

	res, err := rc.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Performed || res.Reopened != 2 {
		t.Fatalf("first run: %+v", res)
	}
	if dir.statuses["a@x.es"] != StatusPending || dir.statuses["b@x.es"] != StatusPending {
		t.Fatalf("sent recipients not reopened: %v", dir.statuses)
	}

	// Second call in the same month must not touch the directory.
	res, err = rc.Run(context.Background(), now.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Performed || dir.resetCalls != 1 {
		t.Fatalf("reopen ran twice in one month: %+v calls=%d", res, dir.resetCalls)
	}

	// A new month reopens again.
	res, err = rc.Run(context.Background(), now.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("next month Run: %v", err)
	}
	if !res.Performed || dir.resetCalls != 2 {
		t.Fatalf("new month did not reopen: %+v calls=%d", res, dir.resetCalls)
	}
}

func TestRecontactFailedResetRetries(t *testing.T) {
	t.Parallel()
	store, err := statefile.New(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("statefile.New: %v", err)
	}
	dir := newFakeDirectory("a@x.es")
	dir.statuses["a@x.es"] = StatusSent
	dir.failReset = true

	rc := NewRecontact(dir, store, logx.Nop())
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	if _, err := rc.Run(context.Background(), now); err == nil {
		t.Fatal("expected error when the bulk reset fails")
	}

	// The month gate must not have been written: the next trigger
	// within the month retries.
	dir.failReset = false
	res, err := rc.Run(context.Background(), now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if !res.Performed || res.Reopened != 1 {
		t.Fatalf("retry did not reopen: %+v", res)
	}
}

func TestRecontactSurvivesRestart(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	store, err := statefile.New(tmp, logx.Nop())
	if err != nil {
		t.Fatalf("statefile.New: %v", err)
	}
	dir := newFakeDirectory("a@x.es")
	dir.statuses["a@x.es"] = StatusSent
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	if _, err := NewRecontact(dir, store, logx.Nop()).Run(context.Background(), now); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// New process, same state dir: the gate holds.
	store2, err := statefile.New(tmp, logx.Nop())
	if err != nil {
		t.Fatalf("statefile.New: %v", err)
	}
	res, err := NewRecontact(dir, store2, logx.Nop()).Run(context.Background(), now.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("Run after restart: %v", err)
	}
	if res.Performed {
		t.Fatal("reopen ran twice in one month across restarts")
	}
}
