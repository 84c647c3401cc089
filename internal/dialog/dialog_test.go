package dialog

import (
	"testing"
	"time"
)

func testMachine(t *testing.T, now time.Time) *Machine {
	t.Helper()
	m := NewMachine(Config{MaxSends: 3, ResendInterval: 30 * time.Second})
	m.SetClock(func() time.Time { return now }, time.UTC)
	return m
}

func TestIdleInputIgnored(t *testing.T) {
	t.Parallel()
	m := testMachine(t, time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	res := m.Input(7, 100, "alice", "hello")
	if res.Outcome != Ignored {
		t.Fatalf("Outcome = %v, want Ignored", res.Outcome)
	}
	if m.Phase(7) != Idle {
		t.Fatalf("phase = %v, want Idle", m.Phase(7))
	}
}

func TestCreateFlowCommits(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	m := testMachine(t, now)

	m.Begin(7)
	if m.Phase(7) != AwaitingText {
		t.Fatalf("phase after Begin = %v", m.Phase(7))
	}

	res := m.Input(7, 100, "alice", "Buy milk")
	if res.Outcome != TextStaged {
		t.Fatalf("Outcome = %v, want TextStaged", res.Outcome)
	}
	if m.Phase(7) != AwaitingTime || m.PendingText(7) != "Buy milk" {
		t.Fatalf("phase=%v pending=%q", m.Phase(7), m.PendingText(7))
	}

	res = m.Input(7, 100, "alice", "25.12 18:30")
	if res.Outcome != Committed {
		t.Fatalf("Outcome = %v, want Committed", res.Outcome)
	}
	r := res.Reminder
	if r.Text != "Buy milk" || r.Author != "alice" || r.ChatID != 100 {
		t.Fatalf("unexpected reminder: %+v", r)
	}
	want := time.Date(2026, 12, 25, 18, 30, 0, 0, time.UTC)
	if !r.DueAt.Equal(want) {
		t.Fatalf("DueAt = %v, want %v", r.DueAt, want)
	}
	if r.MaxSends != 3 || r.ResendInterval != 30*time.Second {
		t.Fatalf("budget not stamped: %+v", r)
	}
	if m.Phase(7) != Idle {
		t.Fatalf("phase after commit = %v, want Idle", m.Phase(7))
	}
}

func TestBadTimeKeepsState(t *testing.T) {
	t.Parallel()
	m := testMachine(t, time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	m.Begin(7)
	m.Input(7, 100, "alice", "Water plants")

	for _, in := range []string{"2512 1830", "tomorrow", "25.12", "5.1 9:3"} {
		res := m.Input(7, 100, "alice", in)
		if res.Outcome != BadTime {
			t.Fatalf("Input(%q) = %v, want BadTime", in, res.Outcome)
		}
		if m.Phase(7) != AwaitingTime || m.PendingText(7) != "Water plants" {
			t.Fatalf("state changed on bad input %q: phase=%v pending=%q", in, m.Phase(7), m.PendingText(7))
		}
	}

	// The dialog still completes after any number of bad inputs.
	if res := m.Input(7, 100, "alice", "25.12 18:30"); res.Outcome != Committed {
		t.Fatalf("Outcome = %v, want Committed", res.Outcome)
	}
}

func TestRollToTomorrow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{name: "past today rolls", in: "10.06 08:00", want: time.Date(2026, 6, 11, 8, 0, 0, 0, time.UTC)},
		{name: "exactly now rolls", in: "10.06 12:00", want: time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC)},
		{name: "later today stays", in: "10.06 18:00", want: time.Date(2026, 6, 10, 18, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := testMachine(t, now)
			m.Begin(7)
			m.Input(7, 100, "alice", "task")
			res := m.Input(7, 100, "alice", tt.in)
			if res.Outcome != Committed {
				t.Fatalf("Outcome = %v, want Committed", res.Outcome)
			}
			if !res.Reminder.DueAt.Equal(tt.want) {
				t.Fatalf("DueAt = %v, want %v", res.Reminder.DueAt, tt.want)
			}
			if !res.Reminder.DueAt.After(now) {
				t.Fatalf("DueAt %v not strictly after now %v", res.Reminder.DueAt, now)
			}
		})
	}
}

func TestTrailingTextTolerated(t *testing.T) {
	t.Parallel()
	m := testMachine(t, time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	m.Begin(7)
	m.Input(7, 100, "alice", "task")
	res := m.Input(7, 100, "alice", "25.12 18:30 please")
	if res.Outcome != Committed {
		t.Fatalf("Outcome = %v, want Committed", res.Outcome)
	}
}

func TestOutOfRangeComponentsRejected(t *testing.T) {
	t.Parallel()
	m := testMachine(t, time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	m.Begin(7)
	m.Input(7, 100, "alice", "task")

	for _, in := range []string{"32.01 10:00", "10.13 10:00", "10.06 25:00", "10.06 10:60", "31.02 10:00"} {
		if res := m.Input(7, 100, "alice", in); res.Outcome != BadTime {
			t.Fatalf("Input(%q) = %v, want BadTime", in, res.Outcome)
		}
	}
}

func TestBeginRestartsDialog(t *testing.T) {
	t.Parallel()
	m := testMachine(t, time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	m.Begin(7)
	m.Input(7, 100, "alice", "old text")

	m.Begin(7)
	if m.Phase(7) != AwaitingText || m.PendingText(7) != "" {
		t.Fatalf("restart must discard staged text: phase=%v pending=%q", m.Phase(7), m.PendingText(7))
	}
}

func TestUsersAreIndependent(t *testing.T) {
	t.Parallel()
	m := testMachine(t, time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	m.Begin(1)
	m.Begin(2)
	m.Input(1, 100, "alice", "alice's task")

	if m.Phase(1) != AwaitingTime || m.Phase(2) != AwaitingText {
		t.Fatalf("phases = %v, %v", m.Phase(1), m.Phase(2))
	}
	if m.PendingText(2) != "" {
		t.Fatalf("user 2 pending = %q, want empty", m.PendingText(2))
	}
}
