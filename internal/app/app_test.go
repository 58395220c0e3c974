package app

import (
	"context"
	"sync"
	"testing"

	"outreach/internal/config"
	"outreach/internal/eventbus"
	"outreach/internal/notifier"
	logx "outreach/pkg/logx"
)

type fakeNotifier struct {
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func (f *fakeNotifier) Start(ctx context.Context, _ *eventbus.Bus) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		<-ctx.Done()
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
	}()
}

func (f *fakeNotifier) Wait() { f.wg.Wait() }

func (f *fakeNotifier) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func notifierApp(t *testing.T) (*App, *[]*fakeNotifier, *[]notifier.Config) {
	t.Helper()
	var (
		created []*fakeNotifier
		configs []notifier.Config
	)
	a := &App{
		bus: eventbus.New(),
		log: logx.Nop(),
		newNotifier: func(cfg notifier.Config, _ logx.Logger) (summaryNotifier, error) {
			n := &fakeNotifier{}
			created = append(created, n)
			configs = append(configs, cfg)
			return n, nil
		},
	}
	return a, &created, &configs
}

func withNotifier(token string, chat int64) *config.Config {
	return &config.Config{Notifier: &config.NotifierConfig{Enabled: true, Token: token, ChatID: chat}}
}

func TestNotifierFollowsConfigReload(t *testing.T) {
	t.Parallel()
	a, created, configs := notifierApp(t)
	ctx := context.Background()

	a.applyNotifier(ctx, withNotifier("t1", 7))
	if len(*created) != 1 {
		t.Fatalf("notifiers created = %d, want 1", len(*created))
	}
	if (*configs)[0].Token != "t1" || (*configs)[0].ChatID != 7 {
		t.Fatalf("notifier config = %+v", (*configs)[0])
	}

	// Reload with the identical section: nothing restarts.
	a.applyNotifier(ctx, withNotifier("t1", 7))
	if len(*created) != 1 || (*created)[0].isStopped() {
		t.Fatalf("unchanged config restarted the notifier (created=%d)", len(*created))
	}

	// Token rotated: the old instance stops, a new one starts.
	a.applyNotifier(ctx, withNotifier("t2", 7))
	if len(*created) != 2 {
		t.Fatalf("notifiers created = %d, want 2 after token rotation", len(*created))
	}
	if !(*created)[0].isStopped() {
		t.Fatal("old notifier kept running after token rotation")
	}
	if (*configs)[1].Token != "t2" {
		t.Fatalf("new notifier config = %+v", (*configs)[1])
	}

	// Section removed: the notifier stops without a replacement.
	a.applyNotifier(ctx, &config.Config{})
	if !(*created)[1].isStopped() {
		t.Fatal("notifier kept running after being disabled")
	}
	if len(*created) != 2 {
		t.Fatalf("disabling created a notifier (created=%d)", len(*created))
	}
}

func TestNotifierDisabledSectionStartsNothing(t *testing.T) {
	t.Parallel()
	a, created, _ := notifierApp(t)
	a.applyNotifier(context.Background(), &config.Config{
		Notifier: &config.NotifierConfig{Enabled: false, Token: "t", ChatID: 1},
	})
	if len(*created) != 0 {
		t.Fatalf("disabled section started a notifier (created=%d)", len(*created))
	}
}
