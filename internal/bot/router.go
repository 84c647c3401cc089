// Package bot routes inbound chat updates to the dialog machine and the
// reminder store, and renders outbound messages. It also implements the
// dispatcher's Sender port so deliveries carry a working stop button.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/dialog"
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	callbackApp    = "remind"
	actionCreate   = "create"
	actionStop     = "stop"
	dueTimeDisplay = "02.01 15:04"
)

const (
	msgGreeting   = "Hi! I can nag you about things until you tell me to stop."
	msgAskText    = "What should I remind you about?"
	msgAskTime    = "When? Send the time as DD.MM HH:MM (for example 25.12 18:30)."
	msgBadTime    = "That doesn't look like DD.MM HH:MM. Try again, for example 25.12 18:30."
	msgListEmpty  = "No active reminders in this chat."
	msgStopOK     = "Reminder cancelled"
	msgStopStale  = "Already removed"
	btnNew        = "➕ New reminder"
	btnStop       = "✖ Stop"
	deliveryLimit = 200 // runes of reminder text shown per delivery line
)

type Router struct {
	adapter kit.Adapter
	machine *dialog.Machine
	store   *reminder.Store
	log     logx.Logger
}

func NewRouter(adapter kit.Adapter, machine *dialog.Machine, store *reminder.Store, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{adapter: adapter, machine: machine, store: store, log: log}
}

// Run consumes updates until ctx is cancelled. A single consumer goroutine
// keeps each user's dialog events in arrival order.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.handle(ctx, up)
		}
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	switch command(text) {
	case "/start":
		r.sendStart(ctx, m.ChatID)
		return
	case "/list":
		r.sendList(ctx, m.ChatID)
		return
	}

	res := r.machine.Input(m.FromID, m.ChatID, m.FromName, m.Text)
	switch res.Outcome {
	case dialog.TextStaged:
		r.reply(ctx, m.ChatID, msgAskTime, nil)
	case dialog.BadTime:
		r.reply(ctx, m.ChatID, msgBadTime, nil)
	case dialog.Committed:
		r.store.Append(res.Reminder)
		r.log.Info("reminder created",
			logx.Int64("chat_id", m.ChatID),
			logx.Int64("user_id", m.FromID),
			logx.Time("due_at", res.Reminder.DueAt))
		confirm := fmt.Sprintf("Got it. I'll remind you about %q starting %s.",
			res.Reminder.Text, res.Reminder.DueAt.Format(dueTimeDisplay))
		r.reply(ctx, m.ChatID, confirm, nil)
	case dialog.Ignored:
		// Free text outside a dialog is deliberately a no-op.
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	app, action, payload := tgui.ParseData(cb.Data)
	if app != callbackApp {
		return
	}

	switch action {
	case actionCreate:
		r.machine.Begin(cb.FromID)
		r.answer(ctx, cb.ID, "")
		r.reply(ctx, cb.ChatID, msgAskText, nil)

	case actionStop:
		index, err := strconv.Atoi(payload)
		if err != nil {
			r.answer(ctx, cb.ID, msgStopStale)
			return
		}
		removed, ok := r.store.RemoveAt(cb.ChatID, index)
		if !ok {
			// Stale index: the reminder was already retired or cancelled.
			r.answer(ctx, cb.ID, msgStopStale)
			return
		}
		r.log.Info("reminder cancelled",
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("user_id", cb.FromID),
			logx.Int("index", index))
		r.answer(ctx, cb.ID, msgStopOK)
		r.reply(ctx, cb.ChatID, fmt.Sprintf("Cancelled: %q.", removed.Text), nil)
	}
}

func (r *Router) sendStart(ctx context.Context, chatID int64) {
	kb := tgui.NewInline().Row(tgui.Btn(btnNew, tgui.Data(callbackApp, actionCreate, "")))
	r.reply(ctx, chatID, msgGreeting, kb)
}

func (r *Router) sendList(ctx context.Context, chatID int64) {
	snap := r.store.Snapshot(chatID)
	if len(snap) == 0 {
		r.reply(ctx, chatID, msgListEmpty, nil)
		return
	}

	var b strings.Builder
	kb := tgui.NewInline()
	for i, rem := range snap {
		fmt.Fprintf(&b, "%d. %s — next %s (%d/%d sent)\n",
			i+1,
			tgui.TruncRunes(rem.Text, 64),
			rem.DueAt.Format(dueTimeDisplay),
			rem.SendCount, rem.MaxSends)
		kb.Row(tgui.Btn(
			fmt.Sprintf("%s %d", btnStop, i+1),
			tgui.Data(callbackApp, actionStop, strconv.Itoa(i)),
		))
	}
	r.reply(ctx, chatID, strings.TrimRight(b.String(), "\n"), kb)
}

// Send implements dispatch.Sender: one delivery message with a stop button
// addressing the reminder by its position at scan time.
func (r *Router) Send(ctx context.Context, rem reminder.Reminder, index int) error {
	text := "⏰ " + tgui.TruncRunes(rem.Text, deliveryLimit)
	if rem.Author != "" {
		text += "\n(set by " + rem.Author + ")"
	}
	kb := tgui.NewInline().Row(tgui.Btn(btnStop, tgui.Data(callbackApp, actionStop, strconv.Itoa(index))))

	opt := &kit.SendOptions{DisablePreview: true, ReplyMarkupAdapter: kb.Markup()}
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: rem.ChatID}, text, opt)
	return err
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, kb *tgui.Inline) {
	opt := &kit.SendOptions{DisablePreview: true}
	if kb != nil {
		opt.ReplyMarkupAdapter = kb.Markup()
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := r.adapter.SendText(sctx, kit.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (r *Router) answer(ctx context.Context, callbackID, text string) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.adapter.AnswerCallback(sctx, callbackID, text); err != nil {
		r.log.Debug("callback answer failed", logx.Err(err))
	}
}

// command extracts the leading slash-command, tolerating @botname suffixes.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := text
	if i := strings.IndexAny(cmd, " \t"); i >= 0 {
		cmd = cmd[:i]
	}
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd
}
