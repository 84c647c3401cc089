package reminder

import (
	"sync"
	"time"
)

// DueResult is the outcome reported by a ForEachDue callback.
type DueResult int

const (
	// Delivered means a send attempt was made. The store counts the attempt
	// and advances the due time, then drops the reminder if the budget is
	// now spent. Transport failures still count as Delivered (the attempt
	// counter deliberately conflates attempted and delivered).
	Delivered DueResult = iota
	// Exhausted means the budget was already spent; the reminder is removed
	// without a send.
	Exhausted
	// Stop aborts the scan. Remaining due reminders stay untouched until the
	// next tick. Used on shutdown.
	Stop
)

// DueFunc is invoked for each due reminder, outside the store lock. index is
// the reminder's position within its chat at the start of the scan; it is the
// payload for the cancel control rendered into the delivery message.
type DueFunc func(chatID int64, index int, r Reminder) DueResult

// Store owns all reminders, keyed by chat. A single mutex serializes every
// mutation so "increment and remove if exhausted" is one atomic step
// relative to append and index-based removal.
type Store struct {
	mu    sync.Mutex
	chats map[int64][]*Reminder
}

func NewStore() *Store {
	return &Store{chats: make(map[int64][]*Reminder)}
}

// Append inserts r at the end of its chat's sequence.
func (s *Store) Append(r Reminder) {
	cp := r
	s.mu.Lock()
	s.chats[r.ChatID] = append(s.chats[r.ChatID], &cp)
	s.mu.Unlock()
}

// RemoveAt removes and returns the reminder at index within the chat's
// sequence. The second return is false when the index no longer refers to a
// reminder; callers report "already removed" rather than treating it as fatal.
func (s *Store) RemoveAt(chatID int64, index int) (Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.chats[chatID]
	if index < 0 || index >= len(list) {
		return Reminder{}, false
	}
	removed := *list[index]
	s.chats[chatID] = append(list[:index], list[index+1:]...)
	if len(s.chats[chatID]) == 0 {
		delete(s.chats, chatID)
	}
	return removed, true
}

// Snapshot returns value copies of the chat's reminders in insertion order.
func (s *Store) Snapshot(chatID int64) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.chats[chatID]
	if len(list) == 0 {
		return nil
	}
	out := make([]Reminder, len(list))
	for i, r := range list {
		out[i] = *r
	}
	return out
}

// Len returns the number of reminders currently stored for a chat.
func (s *Store) Len(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats[chatID])
}

// Total returns the number of reminders across all chats.
func (s *Store) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range s.chats {
		n += len(list)
	}
	return n
}

type dueEntry struct {
	chatID int64
	index  int
	ptr    *Reminder
	val    Reminder
}

// ForEachDue invokes fn for every reminder whose DueAt is at or before now,
// in insertion order within each chat (no order across chats). fn runs
// WITHOUT the store lock held, so a send may block on network I/O without
// stalling appends or cancellations. Results are applied under the lock with
// a pointer identity check, so a reminder cancelled mid-send is not mutated
// or double-removed.
func (s *Store) ForEachDue(now time.Time, fn DueFunc) {
	s.mu.Lock()
	due := make([]dueEntry, 0, 8)
	for chatID, list := range s.chats {
		for i, r := range list {
			if !r.DueAt.After(now) {
				due = append(due, dueEntry{chatID: chatID, index: i, ptr: r, val: *r})
			}
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		switch fn(e.chatID, e.index, e.val) {
		case Delivered:
			s.applyDelivered(e.chatID, e.ptr)
		case Exhausted:
			s.removePtr(e.chatID, e.ptr)
		case Stop:
			return
		}
	}
}

// applyDelivered counts the attempt, advances the due time, and removes the
// reminder if its budget is now spent. A no-op when the reminder was removed
// while the send was in flight.
func (s *Store) applyDelivered(chatID int64, ptr *Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.chats[chatID]
	for i, r := range list {
		if r != ptr {
			continue
		}
		r.SendCount++
		r.DueAt = r.DueAt.Add(r.ResendInterval)
		if r.SendCount >= r.MaxSends {
			s.chats[chatID] = append(list[:i], list[i+1:]...)
			if len(s.chats[chatID]) == 0 {
				delete(s.chats, chatID)
			}
		}
		return
	}
}

func (s *Store) removePtr(chatID int64, ptr *Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.chats[chatID]
	for i, r := range list {
		if r != ptr {
			continue
		}
		s.chats[chatID] = append(list[:i], list[i+1:]...)
		if len(s.chats[chatID]) == 0 {
			delete(s.chats, chatID)
		}
		return
	}
}
