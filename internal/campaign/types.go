package campaign

import "time"

// StopReason says why a run ended. Limiter stops are controlled early
// terminations, not errors.
type StopReason string

const (
	StopCompleted   StopReason = "completed"
	StopDailyLimit  StopReason = "daily-limit"
	StopHourlyLimit StopReason = "hourly-limit"
	StopCancelled   StopReason = "cancelled"
)

// SendError is one recipient's transport failure.
type SendError struct {
	Email  string
	Reason string
}

// Summary aggregates a whole run. Errors and warnings are surfaced here
// once, at the end, never as the run's first reaction to a failure.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time

	Total   int // recipients handed to the run (after dedup)
	Sent    int
	Skipped int // not attempted because the run stopped early

	Errors   []SendError
	Warnings []string // best-effort status writes and state persistence

	StopReason StopReason
	// ResumeAfter suggests when to retry, for hourly-limit stops.
	ResumeAfter time.Duration
}

func (s Summary) StoppedEarly() bool {
	return s.StopReason != StopCompleted
}
