// Package forum tracks open forum threads and when they last saw activity.
//
// The tracker is Persistable so reminders already posted survive restarts.
package forum

import (
	"sort"
	"sync"
	"time"

	"cartobot/internal/persist"
	"cartobot/internal/platform"
	"cartobot/internal/timekeeper"
)

// Entry is one tracked thread.
type Entry struct {
	ForumID      string    `json:"forum_id"`
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	RemindedAt   time.Time `json:"reminded_at,omitempty"`
}

// Handle returns the handle used to post into the thread.
func (e Entry) Handle() platform.Handle {
	return platform.Handle{Kind: platform.KindThread, ID: e.ID, ParentID: e.ForumID, Title: e.Title}
}

// Reminded reports whether a reminder was posted after the last activity.
func (e Entry) Reminded() bool {
	return !e.RemindedAt.IsZero() && !e.RemindedAt.Before(e.LastActivity)
}

type State struct {
	Threads map[string]Entry `json:"threads"`
}

type Tracker struct {
	clock timekeeper.Clock
	state *persist.JSON[State]

	mu     sync.RWMutex
	forums map[string]struct{}
}

func NewTracker(clock timekeeper.Clock) *Tracker {
	if clock == nil {
		clock = timekeeper.SystemClock{}
	}
	return &Tracker{
		clock:  clock,
		state:  persist.NewJSON(State{Threads: map[string]Entry{}}),
		forums: map[string]struct{}{},
	}
}

func key(forumID, id string) string { return forumID + "/" + id }

// Watch makes Observe track threads of forumID.
func (t *Tracker) Watch(forumID string) {
	t.mu.Lock()
	t.forums[forumID] = struct{}{}
	t.mu.Unlock()
}

func (t *Tracker) watching(forumID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.forums[forumID]
	return ok
}

// Observe records activity from an inbound message. Messages outside watched
// forums, outside a thread, or from bots are ignored. It reports whether the
// message was recorded.
func (t *Tracker) Observe(m platform.Message) bool {
	if m.AuthorBot || m.ThreadID == "" || !t.watching(m.ChatID) {
		return false
	}
	at := m.Time
	if at.IsZero() {
		at = t.clock.Now()
	}
	t.state.Update(func(s *State) {
		if s.Threads == nil {
			s.Threads = map[string]Entry{}
		}
		k := key(m.ChatID, m.ThreadID)
		e, ok := s.Threads[k]
		if !ok {
			e = Entry{ForumID: m.ChatID, ID: m.ThreadID}
		}
		if at.After(e.LastActivity) {
			e.LastActivity = at
		}
		s.Threads[k] = e
	})
	return true
}

// Merge folds a thread listing into the tracked set. Archived threads are
// forgotten; threads missing from the listing are kept.
func (t *Tracker) Merge(threads []platform.Thread) {
	t.state.Update(func(s *State) {
		if s.Threads == nil {
			s.Threads = map[string]Entry{}
		}
		for _, th := range threads {
			k := key(th.ForumID, th.ID)
			if th.Archived {
				delete(s.Threads, k)
				continue
			}
			e, ok := s.Threads[k]
			if !ok {
				e = Entry{ForumID: th.ForumID, ID: th.ID}
			}
			if th.Title != "" {
				e.Title = th.Title
			}
			if th.LastActivity.After(e.LastActivity) {
				e.LastActivity = th.LastActivity
			}
			s.Threads[k] = e
		}
	})
}

// Forget stops tracking a thread.
func (t *Tracker) Forget(forumID, id string) {
	t.state.Update(func(s *State) { delete(s.Threads, key(forumID, id)) })
}

// Idle returns threads of forumID with no activity for at least after that
// have not been reminded since, oldest first.
func (t *Tracker) Idle(forumID string, after time.Duration) []Entry {
	cutoff := t.clock.Now().Add(-after)
	var out []Entry
	t.state.View(func(s State) {
		for _, e := range s.Threads {
			if e.ForumID != forumID || e.Reminded() {
				continue
			}
			if !e.LastActivity.After(cutoff) {
				out = append(out, e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.Before(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkReminded records that a reminder was posted to the thread.
func (t *Tracker) MarkReminded(forumID, id string) {
	now := t.clock.Now()
	t.state.Update(func(s *State) {
		k := key(forumID, id)
		if e, ok := s.Threads[k]; ok {
			e.RemindedAt = now
			s.Threads[k] = e
		}
	})
}

// Entries returns every tracked thread sorted by forum and id.
func (t *Tracker) Entries() []Entry {
	var out []Entry
	t.state.View(func(s State) {
		out = make([]Entry, 0, len(s.Threads))
		for _, e := range s.Threads {
			out = append(out, e)
		}
	})
	sort.Slice(out, func(i, j int) bool { return key(out[i].ForumID, out[i].ID) < key(out[j].ForumID, out[j].ID) })
	return out
}

func (t *Tracker) Len() int {
	n := 0
	t.state.View(func(s State) { n = len(s.Threads) })
	return n
}

func (t *Tracker) Encode() ([]byte, error)  { return t.state.Encode() }
func (t *Tracker) Decode(data []byte) error { return t.state.Decode(data) }
