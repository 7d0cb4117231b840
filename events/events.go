// Package events is the run timeline: every event is committed to the
// store first, then fanned out over redis pub/sub for live followers.
package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/justapithecus/ferret/log"
	"github.com/justapithecus/ferret/types"
)

// channelPrefix namespaces the per-run pub/sub channels.
const channelPrefix = "ferret:run_events:"

// Store is the durable side of the timeline.
type Store interface {
	AppendEvent(ctx context.Context, ev *types.RunEvent) error
	ListEvents(ctx context.Context, runID uuid.UUID, after int64) ([]types.RunEvent, error)
}

// Emitter appends events durably and publishes them for live followers.
// The publish happens only after the append commits, so a follower never
// sees an event the database does not have.
type Emitter struct {
	store  Store
	client redis.UniversalClient
	logger *log.Logger
}

// New builds an emitter. client may be nil, which disables live fan-out
// but keeps the durable timeline.
func New(store Store, client redis.UniversalClient, logger *log.Logger) *Emitter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Emitter{store: store, client: client, logger: logger}
}

// Channel returns the pub/sub channel name for a run.
func Channel(runID uuid.UUID) string {
	return channelPrefix + runID.String()
}

// Emit records one event. Emission is best effort by design: a failed
// append is logged, never propagated, so the timeline can't sink a run.
func (e *Emitter) Emit(ctx context.Context, runID uuid.UUID, level types.EventLevel, message string, meta map[string]any) {
	ev := &types.RunEvent{
		RunID:   runID,
		Level:   level,
		Message: message,
		Meta:    meta,
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		e.logger.Error("append run event", map[string]any{
			"run_id": runID.String(), "message": message, "error": err.Error(),
		})
		return
	}

	if e.client == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.client.Publish(ctx, Channel(runID), payload).Err(); err != nil {
		e.logger.Warn("publish run event", map[string]any{
			"run_id": runID.String(), "error": err.Error(),
		})
	}
}

// Follow streams a run's events: stored history after the given seq
// first, then live events from pub/sub, deduplicated by seq. The stream
// closes when ctx is cancelled.
func (e *Emitter) Follow(ctx context.Context, runID uuid.UUID, after int64) (<-chan types.RunEvent, error) {
	var sub *redis.PubSub
	if e.client != nil {
		// Subscribe before the history read so nothing emitted in
		// between is missed.
		sub = e.client.Subscribe(ctx, Channel(runID))
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			return nil, err
		}
	}

	history, err := e.store.ListEvents(ctx, runID, after)
	if err != nil {
		if sub != nil {
			sub.Close()
		}
		return nil, err
	}

	out := make(chan types.RunEvent, 64)
	go func() {
		defer close(out)
		if sub != nil {
			defer sub.Close()
		}

		lastSeq := after
		for _, ev := range history {
			select {
			case out <- ev:
				lastSeq = ev.Seq
			case <-ctx.Done():
				return
			}
		}
		if sub == nil {
			return
		}

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev types.RunEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if ev.Seq <= lastSeq {
					continue
				}
				lastSeq = ev.Seq
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
