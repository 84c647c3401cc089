package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

type sentItem struct {
	chatID int64
	text   string
	index  int
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentItem
	fail error
}

func (f *fakeSender) Send(_ context.Context, r reminder.Reminder, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, sentItem{chatID: r.ChatID, text: r.Text, index: index})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestDispatcher(store *reminder.Store, sender Sender, at time.Time) *Dispatcher {
	d := New(Config{PollInterval: time.Second, RatePerSec: 1000}, store, sender, logx.Nop())
	d.SetClock(func() time.Time { return at })
	return d
}

func due(chatID int64, text string, at time.Time, maxSends int, interval time.Duration) reminder.Reminder {
	return reminder.Reminder{
		Text:           text,
		Author:         "tester",
		DueAt:          at,
		ChatID:         chatID,
		MaxSends:       maxSends,
		ResendInterval: interval,
	}
}

func TestTickSendsDueAndAdvances(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	store := reminder.NewStore()
	store.Append(due(1, "due now", now, 3, 30*time.Second))
	store.Append(due(1, "later", now.Add(time.Hour), 3, 30*time.Second))

	s := &fakeSender{}
	d := newTestDispatcher(store, s, now)
	d.Tick(context.Background())

	if s.count() != 1 {
		t.Fatalf("sent %d, want 1", s.count())
	}
	if s.sent[0].chatID != 1 || s.sent[0].text != "due now" || s.sent[0].index != 0 {
		t.Fatalf("unexpected send: %+v", s.sent[0])
	}

	snap := store.Snapshot(1)
	if snap[0].SendCount != 1 {
		t.Fatalf("SendCount = %d, want 1", snap[0].SendCount)
	}
	if !snap[0].DueAt.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("DueAt = %v, want %v", snap[0].DueAt, now.Add(30*time.Second))
	}
}

// Scenario: maxSends=3, resend every 30s. A re-tick before the interval
// elapses must not resend; after the third send the reminder is gone.
func TestRetryBudgetLifecycle(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	store := reminder.NewStore()
	store.Append(due(1, "persistent", start, 3, 30*time.Second))

	s := &fakeSender{}
	now := start
	d := newTestDispatcher(store, s, start)
	d.SetClock(func() time.Time { return now })

	d.Tick(context.Background()) // #1
	if s.count() != 1 {
		t.Fatalf("after tick 1: sent %d, want 1", s.count())
	}

	now = start.Add(10 * time.Second) // before the resend interval
	d.Tick(context.Background())
	if s.count() != 1 {
		t.Fatalf("early tick must not resend, sent %d", s.count())
	}

	now = start.Add(31 * time.Second)
	d.Tick(context.Background()) // #2
	if s.count() != 2 {
		t.Fatalf("after tick 3: sent %d, want 2", s.count())
	}

	now = start.Add(62 * time.Second)
	d.Tick(context.Background()) // #3, budget spent, removed in the same step
	if s.count() != 3 {
		t.Fatalf("after tick 4: sent %d, want 3", s.count())
	}
	if n := store.Len(1); n != 0 {
		t.Fatalf("reminder must be removed after final send, len = %d", n)
	}

	now = start.Add(120 * time.Second)
	d.Tick(context.Background())
	if s.count() != 3 {
		t.Fatalf("removed reminder must never send again, sent %d", s.count())
	}
}

func TestSendFailureStillConsumesBudget(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	store := reminder.NewStore()
	store.Append(due(1, "flaky", now, 3, 30*time.Second))

	s := &fakeSender{fail: errors.New("telegram: 502")}
	d := newTestDispatcher(store, s, now)
	d.Tick(context.Background())

	snap := store.Snapshot(1)
	if len(snap) != 1 {
		t.Fatalf("reminder must be retained after a failed attempt")
	}
	if snap[0].SendCount != 1 {
		t.Fatalf("failed attempt must count, SendCount = %d", snap[0].SendCount)
	}
	if !snap[0].DueAt.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("DueAt must advance on failure, got %v", snap[0].DueAt)
	}
}

func TestFailureIsolationAcrossChats(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	store := reminder.NewStore()
	store.Append(due(1, "one", now, 3, 30*time.Second))
	store.Append(due(2, "two", now, 3, 30*time.Second))
	store.Append(due(3, "three", now, 3, 30*time.Second))

	var calls int
	flaky := senderFunc(func(_ context.Context, r reminder.Reminder, _ int) error {
		calls++
		if r.ChatID == 2 {
			return errors.New("chat unreachable")
		}
		return nil
	})

	d := newTestDispatcher(store, flaky, now)
	d.Tick(context.Background())

	if calls != 3 {
		t.Fatalf("one failing chat must not abort the tick, calls = %d", calls)
	}
	for _, chat := range []int64{1, 2, 3} {
		snap := store.Snapshot(chat)
		if len(snap) != 1 || snap[0].SendCount != 1 {
			t.Fatalf("chat %d: %+v", chat, snap)
		}
	}
}

func TestExhaustedRemovedWithoutSend(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	store := reminder.NewStore()
	r := due(1, "spent", now, 3, 30*time.Second)
	r.SendCount = 3
	store.Append(r)

	s := &fakeSender{}
	d := newTestDispatcher(store, s, now)
	d.Tick(context.Background())

	if s.count() != 0 {
		t.Fatalf("exhausted reminder must not be sent, sent %d", s.count())
	}
	if n := store.Len(1); n != 0 {
		t.Fatalf("exhausted reminder must be removed, len = %d", n)
	}
}

func TestCancelledContextAbortsTick(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	store := reminder.NewStore()
	store.Append(due(1, "a", now, 3, 30*time.Second))
	store.Append(due(1, "b", now, 3, 30*time.Second))

	s := &fakeSender{}
	d := newTestDispatcher(store, s, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Tick(ctx)

	if s.count() != 0 {
		t.Fatalf("cancelled tick must not send, sent %d", s.count())
	}
	snap := store.Snapshot(1)
	if len(snap) != 2 || snap[0].SendCount != 0 || snap[1].SendCount != 0 {
		t.Fatalf("aborted tick must leave reminders untouched: %+v", snap)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	store := reminder.NewStore()
	s := &fakeSender{}
	d := New(Config{PollInterval: time.Hour, RatePerSec: 10}, store, s, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type senderFunc func(ctx context.Context, r reminder.Reminder, index int) error

func (f senderFunc) Send(ctx context.Context, r reminder.Reminder, index int) error {
	return f(ctx, r, index)
}
