package noteservice

import (
	"context"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/backlinks"
	"github.com/starford/othala/internal/graph"
	"github.com/starford/othala/internal/testutil"
	"github.com/starford/othala/internal/vault"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testService wires a real vault, SQLite index, graph, and queue, and
// starts the queue loop for the duration of the test.
func testService(t *testing.T) (*Service, vault.Store) {
	t.Helper()
	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)

	logger := quietLogger()
	writer := backlinks.NewWriter(store, backlinks.DefaultLockTimeout, logger)
	queue := backlinks.NewQueue(writer, backlinks.QueueConfig{RetryDelay: 10 * time.Millisecond}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go queue.Run(ctx)

	return NewService(store, db, graph.New(), queue), store
}

func eventually(t *testing.T, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

const plain = "---\ntype: note\n---\n\nNothing to see.\n"

func noteBody(t *testing.T, store vault.Store, id string) string {
	t.Helper()
	data, err := store.Read(vault.NotePath(id))
	if err != nil {
		t.Fatalf("read %s: %v", id, err)
	}
	return string(data)
}

func TestCreateNote_PropagatesBacklinks(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	for _, id := range []string{"b", "c"} {
		if _, err := svc.CreateNote(ctx, id, []byte(plain)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := svc.CreateNote(ctx, "a", []byte("---\ntype: note\n---\n\nSee [[b]] and [[c|See C]].\n")); err != nil {
		t.Fatalf("create a: %v", err)
	}

	if got := svc.Backlinks(ctx, "b"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("incoming(b) = %v, want [a]", got)
	}
	if got := svc.Backlinks(ctx, "c"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("incoming(c) = %v, want [a]", got)
	}

	for _, id := range []string{"b", "c"} {
		eventually(t, func() bool {
			body := noteBody(t, store, id)
			return strings.Contains(body, backlinks.StartMarker) && strings.Contains(body, "- [[a]]")
		}, id+" never received its backlinks section")
	}
}

func TestUpdateNote_RemovedLinkClearsSection(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	_, _ = svc.CreateNote(ctx, "b", []byte(plain))
	_, _ = svc.CreateNote(ctx, "c", []byte(plain))
	_, _ = svc.CreateNote(ctx, "a", []byte("---\ntype: note\n---\n\n[[b]] [[c]]\n"))

	eventually(t, func() bool {
		return strings.Contains(noteBody(t, store, "b"), "- [[a]]")
	}, "b never gained a backlink")

	if _, err := svc.UpdateNote(ctx, "a", []byte("---\ntype: note\n---\n\n[[c]]\n"), ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := svc.Backlinks(ctx, "b"); len(got) != 0 {
		t.Errorf("incoming(b) = %v, want empty", got)
	}
	if got := svc.Backlinks(ctx, "c"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("incoming(c) = %v, want [a]", got)
	}

	eventually(t, func() bool {
		return !strings.Contains(noteBody(t, store, "b"), backlinks.StartMarker)
	}, "b's backlinks section never removed")
	if !strings.Contains(noteBody(t, store, "c"), "- [[a]]") {
		t.Error("c lost its backlink")
	}
}

func TestDeleteNote_PropagatesRemovals(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	_, _ = svc.CreateNote(ctx, "b", []byte(plain))
	_, _ = svc.CreateNote(ctx, "a", []byte("---\ntype: note\n---\n\n[[b]]\n"))

	eventually(t, func() bool {
		return strings.Contains(noteBody(t, store, "b"), "- [[a]]")
	}, "b never gained a backlink")

	if err := svc.DeleteNote(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got := svc.Backlinks(ctx, "b"); len(got) != 0 {
		t.Errorf("incoming(b) = %v, want empty", got)
	}
	eventually(t, func() bool {
		return !strings.Contains(noteBody(t, store, "b"), backlinks.StartMarker)
	}, "b's backlinks section never removed after source deletion")

	if _, err := svc.GetNote(ctx, "a"); err != apperr.ErrNotFound {
		t.Errorf("get deleted = %v, want ErrNotFound", err)
	}
}

func TestCreateNote_AlreadyExists(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.CreateNote(ctx, "dup", []byte(plain)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateNote(ctx, "dup", []byte(plain)); err != apperr.ErrAlreadyExists {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestUpdateNote_ChecksumConflict(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	n, err := svc.CreateNote(ctx, "n", []byte(plain))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.UpdateNote(ctx, "n", []byte("changed"), "bogus"); err != apperr.ErrConflict {
		t.Errorf("stale checksum: err = %v, want ErrConflict", err)
	}
	if _, err := svc.UpdateNote(ctx, "n", []byte("---\ntype: note\n---\n\nchanged\n"), n.Checksum); err != nil {
		t.Errorf("matching checksum rejected: %v", err)
	}
}

func TestGetNote_IncludesGraphNeighborhood(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, _ = svc.CreateNote(ctx, "b", []byte(plain))
	_, _ = svc.CreateNote(ctx, "a", []byte("---\ntype: note\n---\n\n[[b]]\n"))

	n, err := svc.GetNote(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(n.Outgoing, []string{"b"}) {
		t.Errorf("outgoing = %v, want [b]", n.Outgoing)
	}

	n, err = svc.GetNote(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(n.Backlinks, []string{"a"}) {
		t.Errorf("backlinks = %v, want [a]", n.Backlinks)
	}
}

func TestIndexFile_NoDeltaNoPropagation(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, _ = svc.CreateNote(ctx, "b", []byte(plain))
	_, _ = svc.CreateNote(ctx, "a", []byte("---\ntype: note\n---\n\n[[b]]\n"))

	eventually(t, func() bool { return svc.QueueStatus().Pending == 0 }, "queue never drained")

	// Re-indexing identical content must not enqueue anything.
	data := []byte("---\ntype: note\n---\n\n[[b]]\n")
	if err := svc.IndexFile("a.md", data); err != nil {
		t.Fatal(err)
	}
	if st := svc.QueueStatus(); st.Pending != 0 {
		t.Errorf("pending = %d after no-op reindex, want 0", st.Pending)
	}
}
