package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"outreach/internal/app"
	"outreach/internal/config"
	logx "outreach/pkg/logx"
)

func main() {
	var (
		cfgPath string
		once    bool
	)
	flag.StringVar(&cfgPath, "config", "./outreach.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&once, "once", false, "run recontact check and one campaign run, then exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: config:", err)
		os.Exit(1)
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logsvc.Close()
	mgr.SetLogger(log)

	a, err := app.New(mgr, logsvc, log)
	if err != nil {
		log.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}

	if once {
		a.StartNotifier(ctx)
		if res, err := a.RunRecontact(ctx); err != nil {
			log.Error("recontact failed", logx.Err(err))
		} else if res.Performed {
			log.Info("recontact performed", logx.String("month", res.Month), logx.Int64("reopened", res.Reopened))
		}
		if err := a.TriggerRun(ctx); err != nil {
			log.Error("run failed", logx.Err(err))
			os.Exit(1)
		}
		_ = a.Stop(context.Background())
		return
	}

	if err := a.Start(ctx); err != nil {
		log.Error("start failed", logx.Err(err))
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err := a.Stop(context.Background()); err != nil {
		log.Warn("shutdown incomplete", logx.Err(err))
	}
}
