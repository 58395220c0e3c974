// Package delivery tracks per-recipient outcomes and the monthly
// recontact cycle.
//
// Status writes are best-effort bookkeeping layered on top of an already
// final send outcome: by the time a status flips to sent or error, the
// message has left (or definitively failed). A failed status write
// therefore becomes a warning, never a reason to stop a run.
package delivery

import "fmt"

// Status is a recipient's delivery state. The two-letter codes are the
// stored representation; the directory data predates this engine and
// keeps them.
type Status string

const (
	StatusPending Status = "PE"
	StatusSent    Status = "EN"
	StatusError   Status = "ER"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusError:
		return true
	}
	return false
}

// Label is the human-readable form used in logs and summaries.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusError:
		return "error"
	default:
		return string(s)
	}
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown delivery status %q", raw)
	}
	return s, nil
}
