package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// MustDuration is for knobs that already passed Validate; a parse failure
// here is a programming error, so fall back to def silently. An empty
// field means unset and takes the default; an explicit "0s" stays zero,
// which is how knobs like smtp.min_interval are disabled.
func MustDuration(raw string, def time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	d, err := ParseDurationField("", raw)
	if err != nil {
		return def
	}
	return d
}
