// Package app wires configuration, logging, the Telegram adapter, and the
// reminder core into one lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/dialog"
	"remindbot/internal/dispatch"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter
	store   *reminder.Store
	machine *dialog.Machine
	disp    *dispatch.Dispatcher
	router  *bot.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	store := reminder.NewStore()

	dialogCfg, dispatchCfg, err := mapReminderConfig(cfg)
	if err != nil {
		return nil, err
	}
	machine := dialog.NewMachine(dialogCfg)

	router := bot.NewRouter(ad, machine, store, logSvc.Logger().With(logx.String("comp", "router")))
	disp := dispatch.New(dispatchCfg, store, router, logSvc.Logger().With(logx.String("comp", "dispatch")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   store,
		machine: machine,
		disp:    disp,
		router:  router,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	// Config watcher is best-effort: it self-heals under the restart loop and
	// a broken watcher must not take the bot down.
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
	)

	sub := a.cfgm.Subscribe(1)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("router.updates", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go("dispatcher", func(c context.Context) error {
		return a.disp.Run(c)
	})

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_ = a.adapter.Stop(ctx)
	err := a.sup.Stop(ctx)
	_ = a.logs.Close()
	return err
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	dialogCfg, dispatchCfg, err := mapReminderConfig(cfg)
	if err != nil {
		// Already validated before publish; keep the previous settings.
		a.log.Warn("config apply failed", logx.Err(err))
		return
	}
	a.machine.Apply(dialogCfg)
	a.disp.Apply(dispatchCfg)
	a.log.Info("config applied",
		logx.Int("max_sends", dialogCfg.MaxSends),
		logx.Duration("resend_interval", dialogCfg.ResendInterval))
}

func mapReminderConfig(cfg *config.Config) (dialog.Config, dispatch.Config, error) {
	resend, err := config.ParseDurationOrDefault("reminders.resend_interval", cfg.Reminders.ResendInterval, 30*time.Second)
	if err != nil {
		return dialog.Config{}, dispatch.Config{}, err
	}
	poll, err := config.ParseDurationOrDefault("reminders.poll_interval", cfg.Reminders.PollInterval, 15*time.Second)
	if err != nil {
		return dialog.Config{}, dispatch.Config{}, err
	}
	maxSends := cfg.Reminders.MaxSends
	if maxSends <= 0 {
		maxSends = 3
	}
	return dialog.Config{MaxSends: maxSends, ResendInterval: resend},
		dispatch.Config{PollInterval: poll}, nil
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Reminders.MaxSends < 0 {
		return fmt.Errorf("reminders.max_sends must be >= 0")
	}
	if _, err := config.ParseDurationField("reminders.resend_interval", cfg.Reminders.ResendInterval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("reminders.poll_interval", cfg.Reminders.PollInterval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	return nil
}
