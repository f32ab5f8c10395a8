package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"cartobot/internal/forum"
	"cartobot/internal/platform"
	"cartobot/internal/platform/platformtest"
	"cartobot/internal/timekeeper"
	logx "cartobot/pkg/logx"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func drain(t *testing.T, d *platform.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestDailyPostSendsAllMessages(t *testing.T) {
	t.Parallel()
	fake := platformtest.New()
	d := platform.NewDispatcher(1, logx.Nop(), nil, nil)
	ch := platform.Handle{Kind: platform.KindChannel, ID: "9"}
	job := &DailyPost{Client: fake, Dispatcher: d, Channel: ch, Messages: []string{"a", "b"}}

	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	drain(t, d)

	sent := fake.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	for _, s := range sent {
		if s.To.ID != "9" {
			t.Fatalf("sent to %+v", s.To)
		}
	}
	if err := job.Run(context.Background()); !errors.Is(err, platform.ErrDispatcherClosed) {
		t.Fatalf("Run after close = %v", err)
	}
}

func newSweep(fake *platformtest.Client, d *platform.Dispatcher) (*IdleSweep, *forum.Tracker) {
	tr := forum.NewTracker(timekeeper.ClockFunc(func() time.Time { return now }))
	tr.Watch("f")
	return &IdleSweep{
		Client:     fake,
		Dispatcher: d,
		Tracker:    tr,
		Source:     fake,
		Forum:      platform.Handle{Kind: platform.KindForum, ID: "f"},
		IdleAfter:  48 * time.Hour,
		Reminder:   "still stuck?",
		Limiter:    NewLimiter(1000),
	}, tr
}

func TestIdleSweepRemindsOnce(t *testing.T) {
	t.Parallel()
	fake := platformtest.New()
	fake.AddThread(platform.Thread{ForumID: "f", ID: "1", LastActivity: now.Add(-72 * time.Hour)})
	fake.AddThread(platform.Thread{ForumID: "f", ID: "2", LastActivity: now.Add(-time.Hour)})
	fake.AddThread(platform.Thread{ForumID: "f", ID: "3", LastActivity: now.Add(-72 * time.Hour), Archived: true})

	d := platform.NewDispatcher(2, logx.Nop(), nil, nil)
	sweep, tr := newSweep(fake, d)

	if err := sweep.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Wait for the first reminder to land before sweeping again.
	deadline := time.Now().Add(5 * time.Second)
	for len(tr.Idle("f", 48*time.Hour)) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("reminder never marked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	drain(t, d)

	sent := fake.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d reminders, want 1: %+v", len(sent), sent)
	}
	if sent[0].To.Kind != platform.KindThread || sent[0].To.ID != "1" || sent[0].To.ParentID != "f" {
		t.Fatalf("reminder went to %+v", sent[0].To)
	}
}

func TestIdleSweepFailedSendRetriesNextRun(t *testing.T) {
	t.Parallel()
	fake := platformtest.New()
	fake.AddThread(platform.Thread{ForumID: "f", ID: "1", LastActivity: now.Add(-72 * time.Hour)})
	fake.FailSends(errors.New("flood wait"))

	d := platform.NewDispatcher(1, logx.Nop(), nil, nil)
	sweep, tr := newSweep(fake, d)
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	drain(t, d)
	if got := d.Stats().Failed; got != 1 {
		t.Fatalf("failed = %d, want 1", got)
	}
	if idle := tr.Idle("f", 48*time.Hour); len(idle) != 1 {
		t.Fatalf("thread marked after failed send: idle = %+v", idle)
	}
}

func TestIdleSweepStopsOnCancel(t *testing.T) {
	t.Parallel()
	fake := platformtest.New()
	d := platform.NewDispatcher(1, logx.Nop(), nil, nil)
	sweep, tr := newSweep(fake, d)
	sweep.Source = nil
	tr.Merge([]platform.Thread{{ForumID: "f", ID: "1", LastActivity: now.Add(-72 * time.Hour)}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sweep.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	drain(t, d)
	if len(fake.Sent()) != 0 {
		t.Fatal("sent after cancel")
	}
}
