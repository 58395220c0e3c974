package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
logging:
  level: debug
smtp:
  host: smtp.example.es
  user: outreach@example.es
  password: secret
directory:
  path: ./companies.db
campaign:
  subject: "Hello {company}"
  body: "<p>{greeting}</p>"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "outreach.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Fatalf("Level = %q", cfg.Logging.Level)
	}
	if cfg.SMTP.Port != 587 {
		t.Fatalf("SMTP.Port = %d, want default 587", cfg.SMTP.Port)
	}
	if cfg.SMTP.From != "outreach@example.es" {
		t.Fatalf("SMTP.From = %q, want user fallback", cfg.SMTP.From)
	}
	if cfg.State.Dir != "./state" {
		t.Fatalf("State.Dir = %q", cfg.State.Dir)
	}
	if cfg.Warmup.Enabled == nil || !*cfg.Warmup.Enabled {
		t.Fatal("warm-up should default to enabled")
	}
	if len(cfg.Warmup.DailySchedule) != len(DefaultDailySchedule) {
		t.Fatalf("DailySchedule = %v", cfg.Warmup.DailySchedule)
	}
	if cfg.Warmup.HourlyLimit != DefaultHourlyLimit {
		t.Fatalf("HourlyLimit = %d", cfg.Warmup.HourlyLimit)
	}
	if cfg.Recontact.Schedule != "0 8 * * *" {
		t.Fatalf("Recontact.Schedule = %q", cfg.Recontact.Schedule)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "outreach.yaml", validYAML+"\nsmpt_typo:\n  host: x\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown top-level field should be rejected")
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(s string) string
		wantErr string
	}{
		{
			name:    "missing smtp host",
			mutate:  func(s string) string { return strings.Replace(s, "host: smtp.example.es", "host: \"\"", 1) },
			wantErr: "smtp.host",
		},
		{
			name:    "missing directory path",
			mutate:  func(s string) string { return strings.Replace(s, "path: ./companies.db", "path: \"\"", 1) },
			wantErr: "directory.path",
		},
		{
			name:    "missing credentials",
			mutate:  func(s string) string { return strings.Replace(s, "password: secret", "password: \"\"", 1) },
			wantErr: "smtp.user and smtp.password",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, "outreach.yaml", tc.mutate(validYAML)))
			_, err := m.Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != "" && !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadJSONConfig(t *testing.T) {
	t.Parallel()
	js := `{
  "smtp": {"host": "smtp.example.es", "port": 465, "user": "u@example.es", "password": "s"},
  "directory": {"path": "./c.db"},
  "campaign": {"subject": "s", "body": "b"}
}`
	m := NewManager(writeConfig(t, "outreach.json", js))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SMTP.Port != 465 {
		t.Fatalf("SMTP.Port = %d", cfg.SMTP.Port)
	}
}

func TestBadDurationRejected(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(validYAML, "smtp:", "smtp:\n  min_interval: nope", 1)
	m := NewManager(writeConfig(t, "outreach.yaml", bad))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "smtp.min_interval") {
		t.Fatalf("err = %v, want smtp.min_interval parse failure", err)
	}
}

func TestMustDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		def  time.Duration
		want time.Duration
	}{
		{raw: "", def: time.Second, want: time.Second},
		{raw: "   ", def: time.Second, want: time.Second},
		{raw: "2s", def: time.Second, want: 2 * time.Second},
		// An explicit zero disables the knob; it must not fall back.
		{raw: "0s", def: time.Second, want: 0},
		{raw: "0", def: 5 * time.Second, want: 0},
		{raw: "bogus", def: time.Second, want: time.Second},
	}
	for _, tc := range cases {
		if got := MustDuration(tc.raw, tc.def); got != tc.want {
			t.Errorf("MustDuration(%q, %v) = %v, want %v", tc.raw, tc.def, got, tc.want)
		}
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "outreach.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("subscriber received a different config")
		}
	default:
		t.Fatal("no config delivered to subscriber")
	}

	// A slow subscriber keeps only the newest config.
	m.publish(cfg)
	m.publish(cfg)
	if got := <-ch; got != cfg {
		t.Fatal("stale config survived drop-oldest delivery")
	}
}
