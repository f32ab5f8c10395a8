package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cartobot/internal/eventbus"
	logx "cartobot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{})
	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "hello", Run: func(context.Context) error { close(done); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	waitFor(t, func() bool { return s.Snapshot().Completed == 1 })
}

func TestFailuresAndPanicsAreIsolated(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Workers: 1}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Enqueue(Task{Name: "err", Run: func(context.Context) error { return errors.New("bad") }})
	_ = s.Enqueue(Task{Name: "panic", Run: func(context.Context) error { panic("worse") }})
	ran := make(chan struct{})
	_ = s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { close(ran); return nil }})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after a failing task")
	}
	waitFor(t, func() bool { return s.Snapshot().Completed == 1 })
	snap := s.Snapshot()
	if snap.Failed != 2 || snap.Panics != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	failed := 0
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.TypeTaskFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Fatalf("task.failed events = %d, want 2", failed)
	}
}

func TestOverlapSkipped(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	state := &RunState{}
	release := make(chan struct{})
	started := make(chan struct{})

	err := s.Enqueue(Task{Name: "slow", State: state, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if err := s.Enqueue(Task{Name: "slow", State: state, Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err = %v, want ErrOverlapSkip", err)
	}
	close(release)
	waitFor(t, func() bool { return !state.Busy() })
	if err := s.Enqueue(Task{Name: "slow", State: state, Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("enqueue after completion: %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	busy := func(context.Context) error {
		once.Do(func() { close(started) })
		<-block
		return nil
	}
	defer close(block)

	_ = s.Enqueue(Task{Name: "a", Run: busy})
	<-started
	if err := s.Enqueue(Task{Name: "b", Run: busy}); err != nil {
		t.Fatalf("queued enqueue: %v", err)
	}
	if err := s.Enqueue(Task{Name: "c", Run: busy}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestStopRefusesWorkAndIsIdempotent(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "early", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("enqueue before start err = %v", err)
	}
	s.Start(context.Background())

	running := make(chan struct{})
	finished := make(chan struct{})
	_ = s.Enqueue(Task{Name: "inflight", Run: func(ctx context.Context) error {
		close(running)
		<-ctx.Done()
		close(finished)
		return ctx.Err()
	}})
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
	select {
	case <-finished:
	default:
		t.Fatal("in-flight task did not observe cancellation before Stop returned")
	}
	if err := s.Enqueue(Task{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("enqueue after stop err = %v", err)
	}
	s.Start(context.Background())
	if s.Snapshot().Running {
		t.Fatal("stopped engine restarted")
	}
}
