package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the whole engine configuration.
//
// It can be written as JSON or YAML; YAML is coerced to JSON and decoded
// strictly (unknown fields are rejected so typos fail loudly at startup).
// All durations are Go duration strings (e.g. "30s", "2m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	State     StateConfig     `json:"state"`
	SMTP      SMTPConfig      `json:"smtp"`
	Directory DirectoryConfig `json:"directory"`
	Warmup    WarmupConfig    `json:"warmup"`
	Recontact RecontactConfig `json:"recontact"`
	Campaign  CampaignConfig  `json:"campaign"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"` // default: true
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// StateConfig locates the durable limiter/recontact records.
//
// Exactly one process may write the state directory at a time; the engine
// does not lock it. Running two instances against the same directory is
// an operator error.
type StateConfig struct {
	Dir string `json:"dir,omitempty"` // default: "./state"
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"` // default: 587; 465 means implicit TLS
	User     string `json:"user"`
	Password string `json:"password"`
	From     string `json:"from,omitempty"` // default: User

	// Timeout bounds the whole dial+handshake+submit of one message.
	Timeout string `json:"timeout,omitempty"` // default: "25s"

	// MinInterval is a hard floor between submissions, enforced below the
	// warm-up limiter as a last line of defense. "0s" disables it.
	MinInterval string `json:"min_interval,omitempty"` // default: "1s"
}

type DirectoryConfig struct {
	Driver      string `json:"driver,omitempty"` // default: "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// WarmupConfig tunes the reputation limiter.
//
// DailySchedule is indexed by calendar days elapsed since the first
// recorded send; past the last entry the cap stays at the last entry.
type WarmupConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"` // default: true
	DailySchedule  []int  `json:"daily_schedule,omitempty"`
	HourlyLimit    int    `json:"hourly_limit,omitempty"`
	ShortDelayMin  string `json:"short_delay_min,omitempty"`  // default: "25s"
	ShortDelayMax  string `json:"short_delay_max,omitempty"`  // default: "75s"
	LongPauseEvery int    `json:"long_pause_every,omitempty"` // default: 5
	LongPauseMin   string `json:"long_pause_min,omitempty"`   // default: "2m"
	LongPauseMax   string `json:"long_pause_max,omitempty"`   // default: "5m"
}

type RecontactConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default: "0 8 * * *" (daily check; the reopen is month-gated)
}

type CampaignConfig struct {
	Subject   string `json:"subject"`
	BodyFile  string `json:"body_file,omitempty"` // HTML template path; Body wins when both set
	Body      string `json:"body,omitempty"`
	Schedule  string `json:"schedule,omitempty"`   // cron spec for daemon mode, e.g. "0 10 * * 1-5"
	BatchSize int    `json:"batch_size,omitempty"` // 0 = all pending recipients
}

type NotifierConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
}

// DefaultDailySchedule is the progressive warm-up curve used when the
// config omits one.
var DefaultDailySchedule = []int{10, 20, 30, 40, 60, 80, 100, 120, 150}

const DefaultHourlyLimit = 15

// ApplyDefaults fills zero-valued knobs in place. Call once after decode.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Console == nil {
		t := true
		c.Logging.Console = &t
	}
	if strings.TrimSpace(c.State.Dir) == "" {
		c.State.Dir = "./state"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if strings.TrimSpace(c.SMTP.From) == "" {
		c.SMTP.From = c.SMTP.User
	}
	if strings.TrimSpace(c.SMTP.Timeout) == "" {
		c.SMTP.Timeout = "25s"
	}
	if strings.TrimSpace(c.SMTP.MinInterval) == "" {
		c.SMTP.MinInterval = "1s"
	}
	if strings.TrimSpace(c.Directory.Driver) == "" {
		c.Directory.Driver = "sqlite"
	}
	if c.Warmup.Enabled == nil {
		t := true
		c.Warmup.Enabled = &t
	}
	if len(c.Warmup.DailySchedule) == 0 {
		c.Warmup.DailySchedule = append([]int(nil), DefaultDailySchedule...)
	}
	if c.Warmup.HourlyLimit <= 0 {
		c.Warmup.HourlyLimit = DefaultHourlyLimit
	}
	if strings.TrimSpace(c.Warmup.ShortDelayMin) == "" {
		c.Warmup.ShortDelayMin = "25s"
	}
	if strings.TrimSpace(c.Warmup.ShortDelayMax) == "" {
		c.Warmup.ShortDelayMax = "75s"
	}
	if c.Warmup.LongPauseEvery <= 0 {
		c.Warmup.LongPauseEvery = 5
	}
	if strings.TrimSpace(c.Warmup.LongPauseMin) == "" {
		c.Warmup.LongPauseMin = "2m"
	}
	if strings.TrimSpace(c.Warmup.LongPauseMax) == "" {
		c.Warmup.LongPauseMax = "5m"
	}
	if strings.TrimSpace(c.Recontact.Schedule) == "" {
		c.Recontact.Schedule = "0 8 * * *"
	}
}

// Validate rejects configs that cannot possibly run. It assumes
// ApplyDefaults already ran.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SMTP.Host) == "" {
		return errors.New("smtp.host is required")
	}
	if strings.TrimSpace(c.SMTP.User) == "" || c.SMTP.Password == "" {
		return errors.New("smtp.user and smtp.password are required")
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port out of range: %d", c.SMTP.Port)
	}
	if strings.TrimSpace(c.Directory.Path) == "" {
		return errors.New("directory.path is required")
	}
	for i, n := range c.Warmup.DailySchedule {
		if n <= 0 {
			return fmt.Errorf("warmup.daily_schedule[%d] must be > 0", i)
		}
	}
	for _, d := range []struct{ path, raw string }{
		{"smtp.timeout", c.SMTP.Timeout},
		{"smtp.min_interval", c.SMTP.MinInterval},
		{"directory.busy_timeout", c.Directory.BusyTimeout},
		{"warmup.short_delay_min", c.Warmup.ShortDelayMin},
		{"warmup.short_delay_max", c.Warmup.ShortDelayMax},
		{"warmup.long_pause_min", c.Warmup.LongPauseMin},
		{"warmup.long_pause_max", c.Warmup.LongPauseMax},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if c.Notifier != nil && c.Notifier.Enabled {
		if strings.TrimSpace(c.Notifier.Token) == "" || c.Notifier.ChatID == 0 {
			return errors.New("notifier.token and notifier.chat_id are required when notifier is enabled")
		}
	}
	return nil
}
