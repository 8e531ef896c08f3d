package backlinks

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/starford/othala/internal/vault"
)

func testQueue(t *testing.T, store vault.Store, cfg QueueConfig) *Queue {
	t.Helper()
	w := NewWriter(store, time.Second, quietLogger())
	return NewQueue(w, cfg, quietLogger())
}

// drainAll drains until the queue is empty or maxPasses is reached.
func drainAll(t *testing.T, q *Queue, maxPasses int) {
	t.Helper()
	ctx := context.Background()
	for range maxPasses {
		if processed, _ := q.drainBatch(ctx); processed == 0 {
			return
		}
	}
	if st := q.Status(); st.Pending > 0 {
		t.Fatalf("queue not drained after %d passes: %+v", maxPasses, st)
	}
}

func TestQueue_PropagateAppliesAdds(t *testing.T) {
	store := testStore(t)
	writeNote(t, store, "b", "note b\n")
	writeNote(t, store, "c", "note c\n")
	q := testQueue(t, store, QueueConfig{})

	q.Propagate("a", []string{"b", "c"}, nil)
	drainAll(t, q, 10)

	for _, id := range []string{"b", "c"} {
		f, _ := readNote(t, store, id)
		if got := SectionTargets(f.Body); !reflect.DeepEqual(got, []string{"a"}) {
			t.Errorf("SectionTargets(%s) = %v, want [a]", id, got)
		}
	}
	if st := q.Status(); st.Pending != 0 || st.PermanentlyFailed != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestQueue_RemoveAction(t *testing.T) {
	store := testStore(t)
	writeNote(t, store, "b", "note b\n")
	q := testQueue(t, store, QueueConfig{})

	q.Propagate("a", []string{"b"}, nil)
	drainAll(t, q, 10)
	q.Propagate("a", nil, []string{"b"})
	drainAll(t, q, 10)

	f, _ := readNote(t, store, "b")
	if got := SectionTargets(f.Body); got != nil {
		t.Errorf("SectionTargets = %v, want none", got)
	}
}

func TestQueue_EvictsOldestWhenFull(t *testing.T) {
	store := testStore(t)
	q := testQueue(t, store, QueueConfig{Capacity: 3})

	for i := 1; i <= 4; i++ {
		q.Enqueue(Task{Target: fmt.Sprintf("t%d", i), Source: "s"})
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) != 3 {
		t.Fatalf("len(tasks) = %d, want 3", len(q.tasks))
	}
	if q.tasks[0].Target != "t2" || q.tasks[2].Target != "t4" {
		t.Errorf("tasks = %+v, want oldest (t1) evicted and t4 present", q.tasks)
	}
}

func TestQueue_MutualLinksComplete(t *testing.T) {
	// Two notes that link to each other: propagation for a→b and b→a
	// must complete regardless of enqueue order, because each drained
	// batch is sorted by target before locking.
	for _, order := range [][2]string{{"a", "b"}, {"b", "a"}} {
		store := testStore(t)
		writeNote(t, store, "a", "see [[b]]\n")
		writeNote(t, store, "b", "see [[a]]\n")
		q := testQueue(t, store, QueueConfig{Concurrency: 2})

		q.Enqueue(Task{Target: order[0], Source: order[1], Action: ActionAdd})
		q.Enqueue(Task{Target: order[1], Source: order[0], Action: ActionAdd})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 10 {
				if processed, _ := q.drainBatch(context.Background()); processed == 0 {
					return
				}
			}
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("propagation deadlocked for enqueue order %v", order)
		}

		fa, _ := readNote(t, store, "a")
		fb, _ := readNote(t, store, "b")
		if got := SectionTargets(fa.Body); !reflect.DeepEqual(got, []string{"b"}) {
			t.Errorf("a backlinks = %v, want [b]", got)
		}
		if got := SectionTargets(fb.Body); !reflect.DeepEqual(got, []string{"a"}) {
			t.Errorf("b backlinks = %v, want [a]", got)
		}
	}
}

// failingStore wraps a real store and fails the first n writes.
type failingStore struct {
	vault.Store
	mu       sync.Mutex
	failures int
}

func (s *failingStore) Write(path string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("injected write failure")
	}
	return s.Store.Write(path, content)
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	base := testStore(t)
	writeNote(t, base, "b", "note b\n")
	store := &failingStore{Store: base, failures: 2}
	q := testQueue(t, store, QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond})

	q.Enqueue(Task{Target: "b", Source: "a", Action: ActionAdd})
	drainAll(t, q, 10)

	f, _ := readNote(t, base, "b")
	if got := SectionTargets(f.Body); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("SectionTargets = %v, want [a] after retries", got)
	}
	if st := q.Status(); st.PermanentlyFailed != 0 {
		t.Errorf("status = %+v, want no permanent failures", st)
	}
}

func TestQueue_PermanentFailureAfterCeiling(t *testing.T) {
	base := testStore(t)
	writeNote(t, base, "b", "note b\n")
	store := &failingStore{Store: base, failures: 100}
	q := testQueue(t, store, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond})

	q.Enqueue(Task{Target: "b", Source: "a", Action: ActionAdd})
	drainAll(t, q, 20)

	st := q.Status()
	if st.Pending != 0 {
		t.Errorf("pending = %d, want 0 (task dropped)", st.Pending)
	}
	if st.PermanentlyFailed != 1 {
		t.Errorf("permanently failed = %d, want 1", st.PermanentlyFailed)
	}
}

func TestQueue_RunDrainsInBackground(t *testing.T) {
	store := testStore(t)
	writeNote(t, store, "b", "note b\n")
	q := testQueue(t, store, QueueConfig{RetryDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	q.Propagate("a", []string{"b"}, nil)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f, _ := readNote(t, store, "b")
		if reflect.DeepEqual(SectionTargets(f.Body), []string{"a"}) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background drain did not apply the task")
}
