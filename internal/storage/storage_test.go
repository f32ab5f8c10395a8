package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "cartobot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for driver, path := range map[string]string{
		"file":   filepath.Join(dir, "state"),
		"sqlite": filepath.Join(dir, "state.db"),
	} {
		st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			if _, err := st.GetSnapshot(ctx, "users"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing snapshot err = %v, want ErrNotFound", err)
			}
			if err := st.PutSnapshot(ctx, "users", []byte("v1")); err != nil {
				t.Fatalf("put v1: %v", err)
			}
			if err := st.PutSnapshot(ctx, "users", []byte("v2")); err != nil {
				t.Fatalf("put v2: %v", err)
			}
			got, err := st.GetSnapshot(ctx, "users")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !bytes.Equal(got, []byte("v2")) {
				t.Fatalf("got %q, want v2", got)
			}
		})
	}
}

func TestFileStoreRejectsEscapingNames(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"", "..", "a/b", `a\b`, "users.tmp"} {
		if err := st.PutSnapshot(context.Background(), name, []byte("x")); !errors.Is(err, ErrBadName) {
			t.Fatalf("PutSnapshot(%q) err = %v, want ErrBadName", name, err)
		}
	}
}

func TestFileStoreLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.PutSnapshot(context.Background(), "idle", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "idle" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(Config{Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()
	if err := st.PutSnapshot(context.Background(), "x", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestOpenNoneAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("none driver = (%v, %v)", st, err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
