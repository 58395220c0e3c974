package warmup

import (
	"math/rand"
	"sync"
	"time"
)

// delay jitter defaults, matching the curve the engine warmed up with
// historically. Overridable via Config.
const (
	defaultShortMin = 25 * time.Second
	defaultShortMax = 75 * time.Second
	defaultLongMin  = 2 * time.Minute
	defaultLongMax  = 5 * time.Minute
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NextDelay returns the pause to take after the sentInRun-th successful
// send of the current run. Most gaps are short jitter; every Nth send
// takes a distinctly longer pause. The irregular cadence imitates a
// human operator instead of a metronome.
func (s *Scheduler) NextDelay(sentInRun int) time.Duration {
	shortMin, shortMax := s.cfg.ShortDelayMin, s.cfg.ShortDelayMax
	if shortMin <= 0 || shortMax < shortMin {
		shortMin, shortMax = defaultShortMin, defaultShortMax
	}
	longMin, longMax := s.cfg.LongPauseMin, s.cfg.LongPauseMax
	if longMin <= 0 || longMax < longMin {
		longMin, longMax = defaultLongMin, defaultLongMax
	}

	if sentInRun > 0 && sentInRun%s.cfg.LongPauseEvery == 0 {
		return uniformDelay(longMin, longMax)
	}
	return uniformDelay(shortMin, shortMax)
}

func uniformDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	rngMu.Lock()
	d := min + time.Duration(rng.Int63n(int64(max-min)+1))
	rngMu.Unlock()
	return d
}
