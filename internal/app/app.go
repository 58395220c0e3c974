// Package app wires configuration, storage, limiter, transport and
// schedules into the running engine.
//
// Dependencies are constructed explicitly here and handed down; nothing
// below this package reaches for globals. Limiter and transport knobs
// are re-read from the committed config at the start of every run, so a
// config reload takes effect between runs without touching one in
// flight.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"outreach/internal/campaign"
	"outreach/internal/config"
	"outreach/internal/delivery"
	"outreach/internal/directory"
	"outreach/internal/eventbus"
	"outreach/internal/mail"
	"outreach/internal/notifier"
	"outreach/internal/statefile"
	"outreach/internal/warmup"
	logx "outreach/pkg/logx"
)

var ErrRunActive = errors.New("a send run is already active")

// summaryNotifier is what App needs from the operator notifier.
type summaryNotifier interface {
	Start(ctx context.Context, bus *eventbus.Bus)
	Wait()
}

type App struct {
	mgr    *config.Manager
	logsvc *logx.Service
	log    logx.Logger

	store *statefile.Store
	dir   *directory.Store
	bus   *eventbus.Bus

	cron *cron.Cron

	// newNotifier is swappable for tests.
	newNotifier func(cfg notifier.Config, log logx.Logger) (summaryNotifier, error)

	notifMu   sync.Mutex
	notif     summaryNotifier
	notifStop context.CancelFunc
	notifCfg  config.NotifierConfig

	runActive atomic.Bool
	runCtx    context.Context
	bg        sync.WaitGroup
}

func New(mgr *config.Manager, logsvc *logx.Service, log logx.Logger) (*App, error) {
	cfg := mgr.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	store, err := statefile.New(cfg.State.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	dir, err := directory.Open(directory.Config{
		Path:        cfg.Directory.Path,
		BusyTimeout: config.MustDuration(cfg.Directory.BusyTimeout, 5*time.Second),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}

	return &App{
		mgr:    mgr,
		logsvc: logsvc,
		log:    log,
		store:  store,
		dir:    dir,
		bus:    eventbus.New(),
		cron:   cron.New(),
		newNotifier: func(cfg notifier.Config, log logx.Logger) (summaryNotifier, error) {
			return notifier.NewTelegram(cfg, log)
		},
	}, nil
}

// Bus exposes the progress event stream to observers (notifier, UI).
func (a *App) Bus() *eventbus.Bus { return a.bus }

// Start launches the config watcher and the cron entries. It does not
// block; runs fire on their schedules until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.runCtx = ctx
	cfg := a.mgr.Get()

	// Config hot reload: logging and the notifier are re-applied
	// immediately; limiter and transport knobs are picked up at the
	// next run.
	sub := a.mgr.Subscribe(1)
	a.bg.Add(2)
	go func() {
		defer a.bg.Done()
		_ = a.mgr.Watch(ctx)
	}()
	go func() {
		defer a.bg.Done()
		defer a.mgr.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyLogging(next)
				a.applyNotifier(ctx, next)
			}
		}
	}()

	a.applyNotifier(ctx, cfg)

	if strings.TrimSpace(cfg.Campaign.Schedule) != "" {
		if _, err := a.cron.AddFunc(cfg.Campaign.Schedule, a.scheduledRun); err != nil {
			return fmt.Errorf("campaign schedule %q: %w", cfg.Campaign.Schedule, err)
		}
		a.log.Info("campaign schedule registered", logx.String("spec", cfg.Campaign.Schedule))
	}
	if cfg.Recontact.Enabled {
		if _, err := a.cron.AddFunc(cfg.Recontact.Schedule, a.scheduledRecontact); err != nil {
			return fmt.Errorf("recontact schedule %q: %w", cfg.Recontact.Schedule, err)
		}
		a.log.Info("recontact schedule registered", logx.String("spec", cfg.Recontact.Schedule))
	}
	a.cron.Start()
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	stopped := a.cron.Stop() // waits for running jobs via its context
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	a.notifMu.Lock()
	a.stopNotifierLocked()
	a.notifMu.Unlock()
	a.bg.Wait()
	return a.dir.Close()
}

// StartNotifier wires the operator notifier outside of daemon mode,
// where Start and its config subscription never run.
func (a *App) StartNotifier(ctx context.Context) {
	a.applyNotifier(ctx, a.mgr.Get())
}

func (a *App) applyLogging(cfg *config.Config) {
	if cfg == nil || a.logsvc == nil {
		return
	}
	lc := logx.Config{Level: cfg.Logging.Level}
	lc.Console = cfg.Logging.Console == nil || *cfg.Logging.Console
	lc.File.Enabled = cfg.Logging.File.Enabled
	lc.File.Path = cfg.Logging.File.Path
	a.logsvc.Apply(lc)
}

// applyNotifier brings the running notifier in line with cfg: an
// unchanged section is left alone, anything else tears the old one down
// and, when enabled, starts a replacement against the same bus.
func (a *App) applyNotifier(ctx context.Context, cfg *config.Config) {
	var want config.NotifierConfig
	if cfg != nil && cfg.Notifier != nil {
		want = *cfg.Notifier
	}

	a.notifMu.Lock()
	defer a.notifMu.Unlock()
	if want == a.notifCfg {
		return
	}
	if a.notifStop != nil {
		a.stopNotifierLocked()
		a.log.Info("telegram notifier stopped")
	}
	a.notifCfg = want
	if !want.Enabled {
		return
	}

	tg, err := a.newNotifier(notifier.Config{Token: want.Token, ChatID: want.ChatID}, a.log)
	if err != nil {
		// The notifier is an observer; losing it must not keep the
		// engine from sending.
		a.log.Warn("telegram notifier disabled", logx.Err(err))
		return
	}
	nctx, cancel := context.WithCancel(ctx)
	tg.Start(nctx, a.bus)
	a.notif = tg
	a.notifStop = cancel
	a.log.Info("telegram notifier started")
}

func (a *App) stopNotifierLocked() {
	if a.notifStop == nil {
		return
	}
	a.notifStop()
	a.notif.Wait()
	a.notifStop = nil
	a.notif = nil
}

func (a *App) scheduledRun() {
	if err := a.TriggerRun(a.runCtx); err != nil {
		if errors.Is(err, ErrRunActive) {
			a.log.Warn("scheduled run skipped; previous run still active")
			return
		}
		a.log.Error("scheduled run failed", logx.Err(err))
	}
}

func (a *App) scheduledRecontact() {
	if _, err := a.RunRecontact(a.runCtx); err != nil {
		a.log.Error("recontact failed", logx.Err(err))
	}
}

// TriggerRun executes one campaign run over the pending recipients,
// synchronously in the caller's goroutine. At most one run may be
// active; a second trigger returns ErrRunActive instead of queueing, so
// limiter stops stay meaningful.
func (a *App) TriggerRun(ctx context.Context) error {
	if !a.runActive.CompareAndSwap(false, true) {
		return ErrRunActive
	}
	defer a.runActive.Store(false)

	cfg := a.mgr.Get()
	runner, err := a.buildRunner(cfg)
	if err != nil {
		return err
	}

	batch, err := a.dir.ListByStatus(ctx, delivery.StatusPending, cfg.Campaign.BatchSize)
	if err != nil {
		return fmt.Errorf("list pending recipients: %w", err)
	}
	batch = directory.Dedupe(batch)
	if len(batch) == 0 {
		a.log.Info("no pending recipients; nothing to send")
		return nil
	}

	a.log.Info("starting run", logx.Int("recipients", len(batch)), a.censusField(ctx))
	runner.Run(ctx, batch)
	return nil
}

// censusField summarizes the whole directory by status for the run-start
// log line.
func (a *App) censusField(ctx context.Context) logx.Field {
	statuses, err := a.dir.ReadStatuses(ctx)
	if err != nil {
		return logx.Err(err)
	}
	counts := map[string]int{}
	for _, st := range statuses {
		counts[st.Label()]++
	}
	return logx.Any("directory", counts)
}

// RunRecontact applies the month-gated bulk reopen.
func (a *App) RunRecontact(ctx context.Context) (delivery.RecontactResult, error) {
	rc := delivery.NewRecontact(a.dir, a.store, a.log)
	return rc.Run(ctx, time.Now())
}

func (a *App) buildRunner(cfg *config.Config) (*campaign.Runner, error) {
	subject := strings.TrimSpace(cfg.Campaign.Subject)
	if subject == "" {
		return nil, errors.New("campaign.subject is required")
	}
	body, err := resolveBody(cfg.Campaign)
	if err != nil {
		return nil, err
	}

	sched := warmup.New(warmup.Config{
		DailySchedule:  cfg.Warmup.DailySchedule,
		HourlyLimit:    cfg.Warmup.HourlyLimit,
		ShortDelayMin:  config.MustDuration(cfg.Warmup.ShortDelayMin, 25*time.Second),
		ShortDelayMax:  config.MustDuration(cfg.Warmup.ShortDelayMax, 75*time.Second),
		LongPauseEvery: cfg.Warmup.LongPauseEvery,
		LongPauseMin:   config.MustDuration(cfg.Warmup.LongPauseMin, 2*time.Minute),
		LongPauseMax:   config.MustDuration(cfg.Warmup.LongPauseMax, 5*time.Minute),
	}, a.store, a.log)

	transport, err := mail.NewSMTP(mail.SMTPConfig{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		User:        cfg.SMTP.User,
		Password:    cfg.SMTP.Password,
		From:        cfg.SMTP.From,
		Timeout:     config.MustDuration(cfg.SMTP.Timeout, 25*time.Second),
		MinInterval: config.MustDuration(cfg.SMTP.MinInterval, time.Second),
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("smtp transport: %w", err)
	}

	return campaign.NewRunner(
		campaign.Config{WarmupEnabled: cfg.Warmup.Enabled == nil || *cfg.Warmup.Enabled},
		sched,
		transport,
		mail.NewRenderer(subject, body),
		a.dir,
		a.bus,
		a.log,
	), nil
}

func resolveBody(c config.CampaignConfig) (string, error) {
	if strings.TrimSpace(c.Body) != "" {
		return c.Body, nil
	}
	if strings.TrimSpace(c.BodyFile) == "" {
		return "", errors.New("campaign.body or campaign.body_file is required")
	}
	b, err := os.ReadFile(c.BodyFile)
	if err != nil {
		return "", fmt.Errorf("campaign.body_file: %w", err)
	}
	return string(b), nil
}
