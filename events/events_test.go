package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/justapithecus/ferret/types"
)

// memStore is an in-memory event log with per-run monotonic seq.
type memStore struct {
	mu     sync.Mutex
	events map[uuid.UUID][]types.RunEvent
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{events: make(map[uuid.UUID][]types.RunEvent)}
}

func (m *memStore) AppendEvent(ctx context.Context, ev *types.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return context.DeadlineExceeded
	}
	ev.ID = uuid.New()
	ev.Seq = int64(len(m.events[ev.RunID]) + 1)
	ev.Ts = time.Now().UTC()
	m.events[ev.RunID] = append(m.events[ev.RunID], *ev)
	return nil
}

func (m *memStore) ListEvents(ctx context.Context, runID uuid.UUID, after int64) ([]types.RunEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.RunEvent
	for _, ev := range m.events[runID] {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out, nil
}

func newTestEmitter(t *testing.T) (*Emitter, *memStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := newMemStore()
	return New(store, client, nil), store
}

func TestEmitPersistsBeforePublishing(t *testing.T) {
	em, store := newTestEmitter(t)
	runID := uuid.New()

	em.Emit(context.Background(), runID, types.EventLevelInfo, "run started", map[string]any{"engine": "http"})
	em.Emit(context.Background(), runID, types.EventLevelWarn, "escalating", nil)

	got, _ := store.ListEvents(context.Background(), runID, 0)
	if len(got) != 2 {
		t.Fatalf("stored events: %d", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Fatalf("seqs: %d, %d", got[0].Seq, got[1].Seq)
	}
	if got[0].Message != "run started" {
		t.Fatalf("message: %q", got[0].Message)
	}
}

func TestEmitFailedAppendDoesNotPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := newMemStore()
	store.fail = true
	em := New(store, client, nil)

	runID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := client.Subscribe(ctx, Channel(runID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	em.Emit(ctx, runID, types.EventLevelInfo, "should not fan out", nil)

	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected publish: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFollowReplaysHistoryThenLive(t *testing.T) {
	em, _ := newTestEmitter(t)
	runID := uuid.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	em.Emit(ctx, runID, types.EventLevelInfo, "first", nil)
	em.Emit(ctx, runID, types.EventLevelInfo, "second", nil)

	stream, err := em.Follow(ctx, runID, 0)
	if err != nil {
		t.Fatalf("follow: %v", err)
	}

	ev1 := <-stream
	ev2 := <-stream
	if ev1.Message != "first" || ev2.Message != "second" {
		t.Fatalf("history: %q, %q", ev1.Message, ev2.Message)
	}

	em.Emit(ctx, runID, types.EventLevelError, "live event", nil)
	select {
	case ev := <-stream:
		if ev.Message != "live event" || ev.Seq != 3 {
			t.Fatalf("live: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live event never arrived")
	}
}

func TestFollowAfterSkipsOldEvents(t *testing.T) {
	em, _ := newTestEmitter(t)
	runID := uuid.New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	em.Emit(ctx, runID, types.EventLevelInfo, "first", nil)
	em.Emit(ctx, runID, types.EventLevelInfo, "second", nil)

	stream, err := em.Follow(ctx, runID, 1)
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	ev := <-stream
	if ev.Seq != 2 || ev.Message != "second" {
		t.Fatalf("got %+v, want only events after seq 1", ev)
	}
}

func TestFollowClosesOnCancel(t *testing.T) {
	em, _ := newTestEmitter(t)
	runID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := em.Follow(ctx, runID, 0)
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	cancel()

	select {
	case _, open := <-stream:
		if open {
			t.Fatal("stream should close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream never closed")
	}
}

func TestEmitterWithoutRedisStillPersists(t *testing.T) {
	store := newMemStore()
	em := New(store, nil, nil)
	runID := uuid.New()

	em.Emit(context.Background(), runID, types.EventLevelInfo, "durable only", nil)
	got, _ := store.ListEvents(context.Background(), runID, 0)
	if len(got) != 1 {
		t.Fatalf("stored events: %d", len(got))
	}
}
