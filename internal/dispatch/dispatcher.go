// Package dispatch runs the periodic due-reminder scan: it delivers due
// reminders through an injected sender, counts attempts, and lets the store
// retire reminders whose budget is spent.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Sender delivers one reminder to its chat. index is the reminder's position
// within the chat at scan time; implementations render it into the message's
// cancel control so the chat can stop the reminder later.
type Sender interface {
	Send(ctx context.Context, r reminder.Reminder, index int) error
}

type Config struct {
	// PollInterval is the tick period. Changing it via Apply() takes effect
	// only after a restart; the cron entry is registered once in Run().
	PollInterval time.Duration
	// RatePerSec caps outbound sends across all chats (Telegram API limits).
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	return c
}

type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	store  *reminder.Store
	sender Sender
	log    logx.Logger
	now    func() time.Time
}

func New(cfg Config, store *reminder.Store, sender Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		store:  store,
		sender: sender,
		log:    log,
		now:    time.Now,
	}
	d.Apply(cfg)
	return d
}

// Apply updates dispatcher knobs at runtime. Safe to call concurrently with
// a running tick; the tick reads a snapshot.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.mu.Unlock()
}

// SetClock overrides the time source. Tests only.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Run blocks until ctx is cancelled. The tick is a cron @every job so that
// a slow pass (many chats, slow transport) never overlaps the next one.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	every := d.cfg.PollInterval
	d.mu.Unlock()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc("@every "+every.String(), func() { d.Tick(ctx) })
	if err != nil {
		return err
	}

	d.log.Info("dispatcher started", logx.Duration("poll_interval", every))
	c.Start()
	<-ctx.Done()

	// Stop scheduling and wait for an in-flight tick to drain.
	stopped := c.Stop()
	<-stopped.Done()
	d.log.Info("dispatcher stopped")
	return nil
}

// Tick runs one due-reminder pass. now is captured once so every chat is
// evaluated against the same instant. Exported for tests and for a manual
// flush on shutdown.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.mu.Lock()
	lim := d.limiter
	d.mu.Unlock()

	now := d.now()
	sent, dropped := 0, 0
	d.store.ForEachDue(now, func(chatID int64, index int, r reminder.Reminder) reminder.DueResult {
		if r.Exhausted() {
			dropped++
			d.log.Debug("reminder budget spent, dropping",
				logx.Int64("chat_id", chatID), logx.Int("send_count", r.SendCount))
			return reminder.Exhausted
		}

		if err := lim.Wait(ctx); err != nil {
			// Shutdown mid-tick: leave the rest for the next run.
			return reminder.Stop
		}

		if err := d.sender.Send(ctx, r, index); err != nil {
			// A failed attempt still consumes budget and advances the due
			// time; one bad chat must not stall the whole pass.
			d.log.Warn("reminder send failed",
				logx.Int64("chat_id", chatID),
				logx.Int("attempt", r.SendCount+1),
				logx.Int("max_sends", r.MaxSends),
				logx.Err(err))
		} else {
			sent++
			d.log.Debug("reminder sent",
				logx.Int64("chat_id", chatID),
				logx.Int("attempt", r.SendCount+1),
				logx.Int("max_sends", r.MaxSends))
		}
		return reminder.Delivered
	})

	if sent > 0 || dropped > 0 {
		d.log.Info("tick complete",
			logx.Int("sent", sent),
			logx.Int("dropped", dropped),
			logx.Int("remaining", d.store.Total()))
	}
}
