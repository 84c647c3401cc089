// Package reminder holds the reminder model and the in-memory store that
// owns every live reminder, grouped by chat.
package reminder

import "time"

// Reminder is a scheduled, repeatable notification bound to a chat with a
// bounded retry budget. Text, Author and ChatID are immutable after
// creation; SendCount and DueAt are mutated only by the store under its lock.
type Reminder struct {
	Text           string
	Author         string
	DueAt          time.Time
	ChatID         int64
	SendCount      int
	MaxSends       int
	ResendInterval time.Duration
}

// Exhausted reports whether the retry budget is spent.
func (r Reminder) Exhausted() bool { return r.SendCount >= r.MaxSends }
