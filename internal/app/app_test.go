package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cartobot/internal/lifecycle"
	"cartobot/internal/logsink"
	"cartobot/internal/platform"
	"cartobot/internal/platform/platformtest"
	logx "cartobot/pkg/logx"
)

func writeConfig(t *testing.T, dir string, extraResource string) string {
	t.Helper()
	resources := `
    {"name": "server", "kind": "server", "id": "1"},
    {"name": "questions", "kind": "forum", "id": "2", "parent": "server"},
    {"name": "bot", "kind": "channel", "id": "3", "parent": "server"},
    {"name": "underground", "kind": "channel", "id": "4", "parent": "server"}`
	if extraResource != "" {
		resources += ",\n    " + extraResource
	}
	cfg := fmt.Sprintf(`{
  "platform": {"driver": "fake"},
  "logging": {"level": "info"},
  "log_sink": {"main_dir": %q, "dm_dir": %q},
  "persistence": {"driver": "file", "path": %q},
  "scheduler": {"timezone": "UTC"},
  "lifecycle": {"announce_channel": "bot", "drain_timeout": "5s"},
  "resources": [%s
  ],
  "jobs": {
    "daily_post": {"enabled": true, "hour": 3, "channel": "underground", "messages": ["https://i.imgur.com/c0HCirP.jpg"]},
    "idle_forum": {"enabled": true, "hour": 12, "forum": "questions", "idle_after": "48h"}
  },
  "dm_relay": {"enabled": true, "channel": "underground"}
}`, filepath.Join(dir, "logs"), filepath.Join(dir, "dms"), filepath.Join(dir, "data"), resources)
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newFake() *platformtest.Client {
	fake := platformtest.New()
	fake.Add(platform.KindServer, "1", "Cartoland")
	fake.Add(platform.KindForum, "2", "questions")
	fake.Add(platform.KindChannel, "3", "bot")
	fake.Add(platform.KindChannel, "4", "underground")
	return fake
}

func noNotify(string) (bool, error) { return false, nil }

func readDir(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		b.Write(data)
	}
	return b.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sentTo(fake *platformtest.Client, id, text string) bool {
	for _, s := range fake.Sent() {
		if s.To.ID == id && s.Text == text {
			return true
		}
	}
	return false
}

func TestRunLifecycle(t *testing.T) {
	dir := t.TempDir()
	fake := newFake()
	a, err := New(writeConfig(t, dir, ""), Options{Client: fake, Notify: noNotify})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "running", func() bool { return a.State() == lifecycle.Running })
	waitFor(t, "online announcement", func() bool { return sentTo(fake, "3", a.cfg.Lifecycle.OnlineMessage) })
	if jobs := a.sched.Jobs(); len(jobs) != 2 {
		t.Fatalf("scheduled %d jobs, want 2", len(jobs))
	}

	fake.Deliver(platform.Message{ChatID: "99", AuthorID: "5", AuthorName: "alice", Private: true, Text: "hello"})
	fake.Deliver(platform.Message{ChatID: "99", AuthorID: "6", AuthorName: "spam", AuthorBot: true, Private: true, Text: "bot dm"})
	fake.Deliver(platform.Message{ChatID: "2", ThreadID: "77", AuthorID: "5", Text: "how do I", Time: time.Now()})

	waitFor(t, "dm relay", func() bool { return sentTo(fake, "4", "hello") })
	waitFor(t, "forum observation", func() bool { return a.tracker.Len() == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if a.State() != lifecycle.Stopped {
		t.Fatalf("state = %v, want stopped", a.State())
	}
	if sentTo(fake, "4", "bot dm") {
		t.Fatal("relayed a bot's direct message")
	}
	if fake.Terminated() != 0 {
		t.Fatal("clean shutdown terminated the connection")
	}

	mainLog := readDir(t, filepath.Join(dir, "logs"))
	for _, want := range []string{"\tonline\n", "\toffline\n"} {
		if !strings.Contains(mainLog, want) {
			t.Errorf("main log missing %q", want)
		}
	}
	dmLog := readDir(t, filepath.Join(dir, "dms"))
	if !strings.Contains(dmLog, `alice(5) typed "hello" in direct message.`) {
		t.Errorf("dm log = %q", dmLog)
	}
	if strings.Contains(dmLog, "bot dm") {
		t.Error("dm log contains a bot message")
	}

	state, err := os.ReadFile(filepath.Join(dir, "data", forumStateName))
	if err != nil {
		t.Fatalf("forum state not persisted: %v", err)
	}
	if !strings.Contains(string(state), `"77"`) {
		t.Fatalf("forum state = %s", state)
	}

	// A restart picks the tracked thread back up.
	b, err := New(writeConfig(t, dir, ""), Options{Client: newFake(), Notify: noNotify})
	if err != nil {
		t.Fatal(err)
	}
	if b.tracker.Len() != 1 {
		t.Fatalf("restored %d threads, want 1", b.tracker.Len())
	}
	_ = b.abort(nil)
}

func TestRunMissingResourceIsFatal(t *testing.T) {
	dir := t.TempDir()
	fake := newFake()
	cfgPath := writeConfig(t, dir, `{"name": "lobby", "kind": "channel", "id": "404", "parent": "server"}`)
	a, err := New(cfgPath, Options{Client: fake, Notify: noNotify})
	if err != nil {
		t.Fatal(err)
	}

	err = a.Run(context.Background())
	var rerr *lifecycle.ResolutionError
	if !errors.As(err, &rerr) || rerr.Resource.Name != "lobby" {
		t.Fatalf("Run = %v, want ResolutionError for lobby", err)
	}
	if a.State() != lifecycle.Fatal {
		t.Fatalf("state = %v, want fatal", a.State())
	}
	if fake.Terminated() != 1 {
		t.Fatalf("terminated %d times, want 1", fake.Terminated())
	}
	if len(a.sched.Jobs()) != 0 {
		t.Fatal("jobs registered despite a missing resource")
	}
	if mainLog := readDir(t, filepath.Join(dir, "logs")); !strings.Contains(mainLog, "Can't find channel lobby") {
		t.Fatalf("main log = %q", mainLog)
	}
}

type failCounter struct {
	w      io.Writer
	failed atomic.Int32
}

func (f *failCounter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		f.failed.Add(1)
	}
	return n, err
}

func TestSinkCloseDetachesMirror(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	sink := logsink.New(logsink.Config{
		MainDir: filepath.Join(dir, "logs"),
		DMDir:   filepath.Join(dir, "dms"),
		Now:     func() time.Time { return now },
	})
	mirror := &failCounter{w: sink.Writer(logsink.Main)}
	logs, log := logx.New(logx.Config{Level: "info", Mirror: mirror})
	defer logs.Close()

	log.Info("draining")
	if err := (mirroredSink{Sink: sink, logs: logs}).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	log.Info("stopped")

	if n := mirror.failed.Load(); n != 0 {
		t.Fatalf("mirror written %d times after the sink closed", n)
	}
	got, err := os.ReadFile(filepath.Join(dir, "logs", "2024-06-01"))
	if err != nil {
		t.Fatalf("read main log: %v", err)
	}
	if !strings.Contains(string(got), "draining") {
		t.Fatalf("main log = %q", got)
	}
}
