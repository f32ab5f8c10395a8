package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cartobot/internal/storage"
	logx "cartobot/pkg/logx"
)

func newFileRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewRegistry(st, logx.Nop()), dir
}

type failing struct{}

func (failing) Encode() ([]byte, error) { return nil, errors.New("cannot encode") }
func (failing) Decode([]byte) error     { return nil }

type panicking struct{}

func (panicking) Encode() ([]byte, error) { panic("boom") }
func (panicking) Decode([]byte) error     { return nil }

func TestFlushReflectsStateAtFlushTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, dir := newFileRegistry(t)

	users := NewJSON(map[string]int{"alice": 1})
	reg.Register("users", users)
	users.Update(func(m *map[string]int) { (*m)["bob"] = 2 })

	if err := reg.FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	st, err := storage.Open(storage.Config{Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	reloaded := NewJSON(map[string]int{})
	if !NewRegistry(st, logx.Nop()).Load(ctx, "users", reloaded) {
		t.Fatal("Load reported no prior state")
	}
	got := reloaded.Get()
	if len(got) != 2 || got["alice"] != 1 || got["bob"] != 2 {
		t.Fatalf("reloaded = %v", got)
	}
}

func TestFlushContinuesPastFailures(t *testing.T) {
	t.Parallel()
	reg, dir := newFileRegistry(t)

	reg.Register("first", NewJSON("one"))
	reg.Register("second", failing{})
	reg.Register("third", NewJSON("three"))
	reg.Register("fourth", panicking{})

	err := reg.FlushAll(context.Background())
	if err == nil {
		t.Fatal("expected flush error")
	}
	var fe *FlushError
	if !errors.As(err, &fe) || fe.Name != "second" {
		t.Fatalf("first joined error = %v, want FlushError for second", err)
	}
	for _, name := range []string{"first", "third"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not saved: %v", name, err)
		}
	}
	for _, name := range []string{"second", "fourth"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s should not exist, stat err = %v", name, err)
		}
	}
	if s := reg.Stats(); s.Flushed != 2 || s.Failed != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestLoadCorruptSnapshot(t *testing.T) {
	t.Parallel()
	reg, dir := newFileRegistry(t)
	if err := os.WriteFile(filepath.Join(dir, "idle"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	v := NewJSON(map[string]int{"default": 7})
	if reg.Load(context.Background(), "idle", v) {
		t.Fatal("Load on corrupt file should report false")
	}
	if v.Get()["default"] != 7 {
		t.Fatalf("default state was clobbered: %v", v.Get())
	}
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	reg, _ := newFileRegistry(t)
	if reg.Load(context.Background(), "nothing", NewJSON(0)) {
		t.Fatal("Load of missing snapshot should report false")
	}
}

func TestRegisterNonPersistableIsNoop(t *testing.T) {
	t.Parallel()
	reg, dir := newFileRegistry(t)
	reg.Register("plain", map[string]int{"x": 1})
	reg.Register("", NewJSON(1))

	if names := reg.Names(); len(names) != 0 {
		t.Fatalf("names = %v, want none", names)
	}
	if err := reg.FlushAll(context.Background()); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("unexpected files: %v", entries)
	}
}

func TestReRegisterReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, dir := newFileRegistry(t)

	reg.Register("counter", NewJSON(1))
	reg.Register("counter", NewJSON(2))

	if names := reg.Names(); len(names) != 1 {
		t.Fatalf("names = %v", names)
	}
	if err := reg.FlushAll(ctx); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "counter"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "2" {
		t.Fatalf("saved %q, want 2", b)
	}
}

func TestNilStoreSkipsFlush(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(nil, logx.Nop())
	reg.Register("x", NewJSON(1))
	if err := reg.FlushAll(context.Background()); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if reg.Load(context.Background(), "x", NewJSON(0)) {
		t.Fatal("Load without store should report false")
	}
}
