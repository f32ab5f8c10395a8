package forum

import (
	"testing"
	"time"

	"cartobot/internal/platform"
	"cartobot/internal/timekeeper"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestTracker() (*Tracker, *clock) {
	c := &clock{now: epoch}
	tr := NewTracker(c)
	tr.Watch("forum")
	return tr, c
}

func msg(thread string, at time.Time) platform.Message {
	return platform.Message{ChatID: "forum", ThreadID: thread, AuthorID: "7", Text: "hi", Time: at}
}

func TestObserveFilters(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	cases := []struct {
		name string
		m    platform.Message
		want bool
	}{
		{"thread message", msg("1", epoch), true},
		{"no thread", platform.Message{ChatID: "forum", Time: epoch}, false},
		{"other chat", platform.Message{ChatID: "lobby", ThreadID: "1", Time: epoch}, false},
		{"bot", platform.Message{ChatID: "forum", ThreadID: "2", AuthorBot: true, Time: epoch}, false},
	}
	for _, tc := range cases {
		if got := tr.Observe(tc.m); got != tc.want {
			t.Errorf("%s: Observe = %v, want %v", tc.name, got, tc.want)
		}
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
}

func TestIdleRemindsOnce(t *testing.T) {
	t.Parallel()
	tr, c := newTestTracker()
	tr.Observe(msg("old", epoch.Add(-72*time.Hour)))
	tr.Observe(msg("fresh", epoch.Add(-time.Hour)))

	idle := tr.Idle("forum", 48*time.Hour)
	if len(idle) != 1 || idle[0].ID != "old" {
		t.Fatalf("Idle = %+v, want only old", idle)
	}
	tr.MarkReminded("forum", "old")
	if idle := tr.Idle("forum", 48*time.Hour); len(idle) != 0 {
		t.Fatalf("Idle after reminder = %+v", idle)
	}

	// New activity re-arms the reminder.
	tr.Observe(msg("old", c.now.Add(time.Minute)))
	c.now = c.now.Add(49 * time.Hour)
	idle = tr.Idle("forum", 48*time.Hour)
	if len(idle) != 2 || idle[0].ID != "fresh" || idle[1].ID != "old" {
		t.Fatalf("Idle later = %+v, want fresh then old", idle)
	}
}

func TestMergeDropsArchived(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	tr.Observe(msg("1", epoch))
	tr.Merge([]platform.Thread{
		{ForumID: "forum", ID: "1", Archived: true},
		{ForumID: "forum", ID: "2", Title: "help", LastActivity: epoch.Add(-time.Hour)},
	})
	got := tr.Entries()
	if len(got) != 1 || got[0].ID != "2" || got[0].Title != "help" {
		t.Fatalf("Entries = %+v", got)
	}
	if h := got[0].Handle(); h.Kind != platform.KindThread || h.ParentID != "forum" {
		t.Fatalf("Handle = %+v", h)
	}
}

func TestEncodeDecodeKeepsReminders(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	tr.Observe(msg("1", epoch.Add(-72*time.Hour)))
	tr.MarkReminded("forum", "1")
	data, err := tr.Encode()
	if err != nil {
		t.Fatal(err)
	}

	restored := NewTracker(timekeeper.ClockFunc(func() time.Time { return epoch }))
	if err := restored.Decode(data); err != nil {
		t.Fatal(err)
	}
	if idle := restored.Idle("forum", time.Hour); len(idle) != 0 {
		t.Fatalf("restored tracker would remind again: %+v", idle)
	}
	if err := restored.Decode([]byte("{broken")); err == nil {
		t.Fatal("Decode accepted corrupt data")
	}
	if restored.Len() != 1 {
		t.Fatalf("corrupt Decode clobbered state: Len = %d", restored.Len())
	}
}
