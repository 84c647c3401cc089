// Package dialog implements the per-user conversation that collects a
// reminder's text and due time.
//
// Each user walks Idle -> AwaitingText -> AwaitingTime -> Idle. A user with
// no entry is Idle. The dialog never auto-aborts: bad time input re-prompts,
// and an abandoned dialog stays where it is until the user restarts it.
package dialog

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
)

type Phase int

const (
	Idle Phase = iota
	AwaitingText
	AwaitingTime
)

func (p Phase) String() string {
	switch p {
	case AwaitingText:
		return "awaiting_text"
	case AwaitingTime:
		return "awaiting_time"
	default:
		return "idle"
	}
}

type Outcome int

const (
	// Ignored: the user is not in a dialog; the input is a no-op.
	Ignored Outcome = iota
	// TextStaged: reminder text accepted, now waiting for the due time.
	TextStaged
	// Committed: due time parsed; Result.Reminder is ready for the store.
	Committed
	// BadTime: input did not match DD.MM HH:MM; state unchanged.
	BadTime
)

type Result struct {
	Outcome  Outcome
	Reminder reminder.Reminder // set only when Outcome == Committed
}

// timePattern matches "DD.MM HH:MM" at the start of the input; trailing
// characters are tolerated.
var timePattern = regexp.MustCompile(`^(\d{2})\.(\d{2})\s+(\d{2}):(\d{2})`)

type state struct {
	phase       Phase
	pendingText string
}

// Config carries the reminder parameters stamped onto a committed reminder.
type Config struct {
	MaxSends       int
	ResendInterval time.Duration
}

// Machine tracks every user's dialog state. Safe for concurrent use across
// users; events for one user are expected to arrive in order (the router
// consumes updates on a single goroutine).
type Machine struct {
	mu     sync.Mutex
	states map[int64]*state
	cfg    Config
	loc    *time.Location
	now    func() time.Time
}

func NewMachine(cfg Config) *Machine {
	return &Machine{
		states: make(map[int64]*state),
		cfg:    cfg,
		loc:    time.Local,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (m *Machine) SetClock(now func() time.Time, loc *time.Location) {
	m.mu.Lock()
	m.now = now
	if loc != nil {
		m.loc = loc
	}
	m.mu.Unlock()
}

// Apply updates the parameters stamped onto future commits.
func (m *Machine) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Begin (re)starts the create-reminder dialog for a user. Restarting from
// any phase discards staged text.
func (m *Machine) Begin(userID int64) {
	m.mu.Lock()
	m.states[userID] = &state{phase: AwaitingText}
	m.mu.Unlock()
}

// Phase returns the user's current phase.
func (m *Machine) Phase(userID int64) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[userID]; ok {
		return st.phase
	}
	return Idle
}

// PendingText returns the staged reminder text, if any.
func (m *Machine) PendingText(userID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[userID]; ok {
		return st.pendingText
	}
	return ""
}

// Input advances the user's dialog with a text message. chatID and author
// are stamped onto the reminder on commit.
func (m *Machine) Input(userID, chatID int64, author, text string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[userID]
	if !ok || st.phase == Idle {
		return Result{Outcome: Ignored}
	}

	switch st.phase {
	case AwaitingText:
		st.pendingText = text
		st.phase = AwaitingTime
		return Result{Outcome: TextStaged}

	case AwaitingTime:
		dueAt, ok := m.resolveDue(text)
		if !ok {
			return Result{Outcome: BadTime}
		}
		r := reminder.Reminder{
			Text:           st.pendingText,
			Author:         author,
			DueAt:          dueAt,
			ChatID:         chatID,
			MaxSends:       m.cfg.MaxSends,
			ResendInterval: m.cfg.ResendInterval,
		}
		delete(m.states, userID)
		return Result{Outcome: Committed, Reminder: r}
	}

	return Result{Outcome: Ignored}
}

// resolveDue parses "DD.MM HH:MM" against the current year and rolls the
// candidate forward by 24h when it is not strictly in the future. Components
// outside their calendar range are rejected rather than normalized.
func (m *Machine) resolveDue(text string) (time.Time, bool) {
	match := timePattern.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	hour, _ := strconv.Atoi(match[3])
	minute, _ := strconv.Atoi(match[4])

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	now := m.now().In(m.loc)
	candidate := time.Date(now.Year(), time.Month(month), day, hour, minute, 0, 0, m.loc)
	// time.Date normalizes impossible dates (e.g. 31.02 -> 03.03); treat
	// those as parse failures instead of silently shifting the date.
	if candidate.Day() != day || candidate.Month() != time.Month(month) {
		return time.Time{}, false
	}
	if !candidate.After(now) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate, true
}
