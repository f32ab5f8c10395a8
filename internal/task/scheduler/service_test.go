package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"cartobot/internal/task/engine"
	logx "cartobot/pkg/logx"
)

// tickSchedule fires every period; it stands in for the daily trigger.
type tickSchedule struct{ every time.Duration }

func (t tickSchedule) Next(now time.Time) time.Time { return now.Add(t.every) }

func newTestService(t *testing.T, every time.Duration) *Service {
	t.Helper()
	eng := engine.New(engine.Config{Workers: 2}, logx.Nop(), nil)
	s := New(Config{Timezone: "UTC"}, eng, logx.Nop(), nil)
	if every > 0 {
		s.newSchedule = func(int) cron.Schedule { return tickSchedule{every: every} }
	}
	t.Cleanup(func() { _ = s.CancelAll(context.Background()) })
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduleDailyValidates(t *testing.T) {
	t.Parallel()
	s := newTestService(t, 0)
	noop := func(context.Context) error { return nil }

	if _, err := s.ScheduleDaily("bad", 24, noop); !errors.Is(err, ErrBadHour) {
		t.Fatalf("hour 24 err = %v", err)
	}
	if _, err := s.ScheduleDaily("bad", -1, noop); !errors.Is(err, ErrBadHour) {
		t.Fatalf("hour -1 err = %v", err)
	}
	if _, err := s.ScheduleDaily("", 3, noop); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := s.ScheduleDaily("nil", 3, nil); err == nil {
		t.Fatal("nil action accepted")
	}
	j, err := s.ScheduleDaily("post", 3, noop)
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	if j.ID() == "" || j.Name() != "post" || j.Hour() != 3 {
		t.Fatalf("job = %+v", j)
	}
	if _, err := s.ScheduleDaily("post", 4, noop); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate err = %v", err)
	}
}

func TestFailingJobKeepsFiring(t *testing.T) {
	t.Parallel()
	s := newTestService(t, 20*time.Millisecond)

	var calls atomic.Int32
	j, err := s.ScheduleDaily("flaky", 12, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("first run fails")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return j.Runs() >= 2 })
	if j.Failures() != 1 {
		t.Fatalf("failures = %d, want 1", j.Failures())
	}
}

func TestPanickingJobKeepsFiring(t *testing.T) {
	t.Parallel()
	s := newTestService(t, 20*time.Millisecond)

	var calls atomic.Int32
	j, err := s.ScheduleDaily("panics", 12, func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Start(context.Background())
	waitFor(t, func() bool { return j.Runs() >= 2 })
	if j.Failures() != 1 {
		t.Fatalf("failures = %d, want 1", j.Failures())
	}
}

func TestOverlappingFireIsSkipped(t *testing.T) {
	t.Parallel()
	s := newTestService(t, 10*time.Millisecond)

	release := make(chan struct{})
	j, err := s.ScheduleDaily("slow", 12, func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Start(context.Background())

	waitFor(t, func() bool { return j.skips.Load() >= 2 })
	close(release)
	waitFor(t, func() bool { return j.Runs() >= 1 })
}

func TestCancelAllTwiceIsSafe(t *testing.T) {
	t.Parallel()
	s := newTestService(t, 10*time.Millisecond)

	var observed atomic.Bool
	started := make(chan struct{})
	j, err := s.ScheduleDaily("long", 12, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		observed.Store(true)
		return ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.CancelAll(ctx); err != nil {
		t.Fatalf("first CancelAll: %v", err)
	}
	if err := s.CancelAll(ctx); err != nil {
		t.Fatalf("second CancelAll: %v", err)
	}
	if !j.Cancelled() {
		t.Fatal("job context not cancelled")
	}
	waitFor(t, observed.Load)

	runs := j.Runs()
	time.Sleep(50 * time.Millisecond)
	if j.Runs() != runs {
		t.Fatal("job fired after CancelAll")
	}
	if _, err := s.ScheduleDaily("late", 1, func(context.Context) error { return nil }); !errors.Is(err, ErrCancelled) {
		t.Fatalf("ScheduleDaily after cancel err = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Start after cancel err = %v", err)
	}
}

func TestJobsSnapshot(t *testing.T) {
	t.Parallel()
	s := newTestService(t, 0)
	if _, err := s.ScheduleDaily("post", 3, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	_ = s.Start(context.Background())

	waitFor(t, func() bool {
		jobs := s.Jobs()
		return len(jobs) == 1 && !jobs[0].Next.IsZero()
	})
	info := s.Jobs()[0]
	if info.Name != "post" || info.Hour != 3 {
		t.Fatalf("info = %+v", info)
	}
	if info.Next.Hour() != 3 || info.Next.Minute() != 0 {
		t.Fatalf("next = %v", info.Next)
	}
	if d := time.Until(info.Next); d < 0 || d > 24*time.Hour {
		t.Fatalf("next out of range: %v", info.Next)
	}
}
