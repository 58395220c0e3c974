// Package warmup implements the progressive send limiter that protects
// sender reputation on a young address.
//
// Two caps apply to every send: a daily quota that grows with calendar
// days elapsed since the first recorded send (the warm-up curve), and a
// rolling trailing-hour cap. The curve is a function of elapsed days,
// not of sends performed: pausing a run does not reset it, and skipping
// days does not accelerate it. Past the last schedule entry the daily
// cap stays flat at that entry.
package warmup

import (
	"sync"
	"time"

	"outreach/internal/statefile"
	logx "outreach/pkg/logx"
)

const (
	// StateFile is the record name under the state directory.
	StateFile = "warmup_state.json"

	dateLayout = "2006-01-02"

	hourWindow = time.Hour
	minWait    = 5 * time.Second

	// Timestamp history is bounded: once it exceeds pruneHigh entries,
	// only the newest pruneKeep survive. pruneKeep must comfortably
	// exceed any sane hourly limit so the rolling-hour count stays exact.
	pruneHigh = 5000
	pruneKeep = 2000
)

// State is the durable limiter record.
//
// SentByDate and SentTimestamps are updated together on every recorded
// send; the map feeds the daily quota, the timestamps feed the
// trailing-hour window.
type State struct {
	StartDate      string         `json:"start_date,omitempty"` // YYYY-MM-DD, set on first use, never reset
	SentByDate     map[string]int `json:"sent_by_date"`
	SentTimestamps []int64        `json:"sent_timestamps"` // unix seconds
}

type Config struct {
	DailySchedule []int
	HourlyLimit   int

	ShortDelayMin time.Duration
	ShortDelayMax time.Duration

	LongPauseEvery int
	LongPauseMin   time.Duration
	LongPauseMax   time.Duration
}

// Limits is a snapshot of today's quota.
type Limits struct {
	Date           string
	DaysSinceStart int
	DailyLimit     int
	SentToday      int
	RemainingToday int
	HourlyLimit    int
}

// Scheduler answers "may another message go out right now" and keeps the
// durable counters behind that answer. Safe for concurrent use, though
// the send loop is expected to be the only caller during a run.
type Scheduler struct {
	cfg   Config
	store *statefile.Store
	log   logx.Logger

	mu    sync.Mutex
	state State
}

func New(cfg Config, store *statefile.Store, log logx.Logger) *Scheduler {
	if cfg.HourlyLimit <= 0 {
		cfg.HourlyLimit = 15
	}
	if len(cfg.DailySchedule) == 0 {
		cfg.DailySchedule = []int{10, 20, 30, 40, 60, 80, 100, 120, 150}
	}
	if cfg.LongPauseEvery <= 0 {
		cfg.LongPauseEvery = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{cfg: cfg, store: store, log: log}
	s.state.SentByDate = map[string]int{}
	if store != nil {
		store.Load(StateFile, &s.state)
		if s.state.SentByDate == nil {
			s.state.SentByDate = map[string]int{}
		}
	}
	return s
}

// Limits computes today's quota. The first call ever defines the
// campaign epoch: start_date is set to now's date and persisted.
func (s *Scheduler) Limits(now time.Time) Limits {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := now.Format(dateLayout)
	if s.state.StartDate == "" {
		s.state.StartDate = today
		if err := s.persistLocked(); err != nil {
			s.log.Warn("warm-up start date not persisted", logx.Err(err))
		}
	}
	start, err := time.ParseInLocation(dateLayout, s.state.StartDate, now.Location())
	if err != nil {
		// Unparsable epoch: re-anchor to today rather than refusing to run.
		s.log.Warn("warmup start date unparsable; re-anchoring", logx.String("start_date", s.state.StartDate))
		s.state.StartDate = today
		start = dateOnly(now)
		if perr := s.persistLocked(); perr != nil {
			s.log.Warn("warm-up start date not persisted", logx.Err(perr))
		}
	}

	days := calendarDays(start, now)
	if days < 0 {
		days = 0
	}
	idx := days
	if idx > len(s.cfg.DailySchedule)-1 {
		idx = len(s.cfg.DailySchedule) - 1
	}
	daily := s.cfg.DailySchedule[idx]
	sent := s.state.SentByDate[today]
	remaining := daily - sent
	if remaining < 0 {
		remaining = 0
	}
	return Limits{
		Date:           today,
		DaysSinceStart: days,
		DailyLimit:     daily,
		SentToday:      sent,
		RemainingToday: remaining,
		HourlyLimit:    s.cfg.HourlyLimit,
	}
}

// CanSendNow prunes the timestamp history to the trailing hour and
// checks it against the hourly cap. When the cap is hit it returns the
// time to wait until the oldest in-window send ages out (at least
// minWait, so callers never busy-poll).
func (s *Scheduler) CanSendNow(now time.Time) (ok bool, wait time.Duration, sentLastHour int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-hourWindow).Unix()
	kept := s.state.SentTimestamps[:0]
	for _, ts := range s.state.SentTimestamps {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	s.state.SentTimestamps = kept

	n := len(kept)
	if n < s.cfg.HourlyLimit {
		return true, 0, n
	}

	oldest := kept[0]
	for _, ts := range kept {
		if ts < oldest {
			oldest = ts
		}
	}
	wait = time.Unix(oldest, 0).Add(hourWindow).Sub(now)
	if wait < minWait {
		wait = minWait
	}
	return false, wait, n
}

// RecordSend books one successful send at now and persists the record.
// A persistence failure is returned so the caller can surface it as a
// warning; the in-memory counters are updated regardless.
func (s *Scheduler) RecordSend(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := now.Format(dateLayout)
	if s.state.SentByDate == nil {
		s.state.SentByDate = map[string]int{}
	}
	s.state.SentByDate[today]++
	s.state.SentTimestamps = append(s.state.SentTimestamps, now.Unix())
	if len(s.state.SentTimestamps) > pruneHigh {
		s.state.SentTimestamps = append([]int64(nil), s.state.SentTimestamps[len(s.state.SentTimestamps)-pruneKeep:]...)
	}
	return s.persistLocked()
}

// Snapshot returns a copy of the durable record, for status output.
func (s *Scheduler) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := State{
		StartDate:      s.state.StartDate,
		SentByDate:     make(map[string]int, len(s.state.SentByDate)),
		SentTimestamps: append([]int64(nil), s.state.SentTimestamps...),
	}
	for k, v := range s.state.SentByDate {
		cp.SentByDate[k] = v
	}
	return cp
}

func (s *Scheduler) persistLocked() error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(StateFile, &s.state)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// calendarDays counts whole calendar days from a's date to b's date.
// The dates are compared in UTC so DST transitions (23h or 25h days in
// the local zone) cannot shift the count.
func calendarDays(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au) / (24 * time.Hour))
}
