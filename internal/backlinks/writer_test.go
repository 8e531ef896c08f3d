package backlinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/notefile"
	"github.com/starford/othala/internal/vault"
)

func testStore(t *testing.T) *vault.FS {
	t.Helper()
	store, err := vault.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func writeNote(t *testing.T, store vault.Store, id, body string) {
	t.Helper()
	content := fmt.Sprintf("---\ntype: note\ndate: 2026-03-01\ntags: []\ncreated: 2026-03-01\n---\n%s", body)
	if err := store.Write(vault.NotePath(id), []byte(content)); err != nil {
		t.Fatal(err)
	}
}

func readNote(t *testing.T, store vault.Store, id string) (*notefile.File, string) {
	t.Helper()
	data, err := store.Read(vault.NotePath(id))
	if err != nil {
		t.Fatal(err)
	}
	f, err := notefile.Parse(data)
	if err != nil {
		t.Fatalf("parse %s: %v", id, err)
	}
	return f, string(data)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestUpdateBacklinks_AddAndMirror(t *testing.T) {
	store := testStore(t)
	writeNote(t, store, "b", "no links here\n")
	w := NewWriter(store, time.Second, quietLogger())

	if err := w.UpdateBacklinks(context.Background(), "b", []string{"a"}, nil); err != nil {
		t.Fatalf("UpdateBacklinks: %v", err)
	}

	f, _ := readNote(t, store, "b")
	if got := SectionTargets(f.Body); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("section = %v, want [a]", got)
	}
	if got := f.ReferencedBy(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("mirror = %v, want [a]", got)
	}
}

func TestUpdateBacklinks_RemoveLastClearsEverything(t *testing.T) {
	store := testStore(t)
	writeNote(t, store, "b", "body\n")
	w := NewWriter(store, time.Second, quietLogger())

	_ = w.UpdateBacklinks(context.Background(), "b", []string{"a"}, nil)
	if err := w.UpdateBacklinks(context.Background(), "b", nil, []string{"a"}); err != nil {
		t.Fatalf("UpdateBacklinks remove: %v", err)
	}

	f, raw := readNote(t, store, "b")
	if strings.Contains(raw, StartMarker) {
		t.Errorf("empty backlinks must remove section:\n%s", raw)
	}
	if strings.Contains(raw, notefile.ReferencedByKey) {
		t.Errorf("empty backlinks must remove the mirror field:\n%s", raw)
	}
	if !strings.Contains(f.Body, "body") {
		t.Errorf("body lost:\n%s", f.Body)
	}
}

func TestUpdateBacklinks_Idempotent(t *testing.T) {
	store := testStore(t)
	writeNote(t, store, "b", "body\n")
	w := NewWriter(store, time.Second, quietLogger())

	_ = w.UpdateBacklinks(context.Background(), "b", []string{"a"}, nil)
	_, first := readNote(t, store, "b")
	_ = w.UpdateBacklinks(context.Background(), "b", []string{"a"}, nil)
	_, second := readNote(t, store, "b")
	if first != second {
		t.Errorf("second apply changed bytes:\n%q\nvs\n%q", first, second)
	}
}

func TestUpdateBacklinks_DanglingTargetIsNoop(t *testing.T) {
	store := testStore(t)
	w := NewWriter(store, time.Second, quietLogger())

	if err := w.UpdateBacklinks(context.Background(), "ghost", []string{"x"}, nil); err != nil {
		t.Fatalf("dangling target must succeed, got %v", err)
	}
	if ok, _ := store.Exists(vault.NotePath("ghost")); ok {
		t.Error("no file must be created for a dangling target")
	}
}

func TestUpdateBacklinks_CorruptFrontmatterFails(t *testing.T) {
	store := testStore(t)
	_ = store.Write("bad.md", []byte("---\n: broken: {{{\n---\nbody\n"))
	w := NewWriter(store, time.Second, quietLogger())

	err := w.UpdateBacklinks(context.Background(), "bad", []string{"a"}, nil)
	if !errors.Is(err, apperr.ErrCorruptFrontmatter) {
		t.Errorf("err = %v, want ErrCorruptFrontmatter", err)
	}
}

func TestSetBacklinks_OverwritesPersistedState(t *testing.T) {
	store := testStore(t)
	writeNote(t, store, "b", "body\n")
	w := NewWriter(store, time.Second, quietLogger())

	_ = w.UpdateBacklinks(context.Background(), "b", []string{"stale1", "stale2"}, nil)
	if err := w.SetBacklinks(context.Background(), "b", []string{"fresh"}); err != nil {
		t.Fatalf("SetBacklinks: %v", err)
	}

	f, _ := readNote(t, store, "b")
	if got := SectionTargets(f.Body); !reflect.DeepEqual(got, []string{"fresh"}) {
		t.Errorf("section = %v, want [fresh]", got)
	}
	if got := f.ReferencedBy(); !reflect.DeepEqual(got, []string{"fresh"}) {
		t.Errorf("mirror = %v, want [fresh]", got)
	}
}

func TestLockTable_Timeout(t *testing.T) {
	lt := newLockTable()
	release, err := lt.acquire(context.Background(), "n", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, err = lt.acquire(context.Background(), "n", 20*time.Millisecond)
	if !errors.Is(err, apperr.ErrLockTimeout) {
		t.Errorf("err = %v, want ErrLockTimeout", err)
	}
}

func TestLockTable_Exclusive(t *testing.T) {
	lt := newLockTable()
	var mu sync.Mutex
	held := false

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lt.acquire(context.Background(), "n", time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			if held {
				t.Error("lock held by two goroutines at once")
			}
			held = true
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			held = false
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
}
