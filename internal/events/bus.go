// Package events provides the in-process event bus: synchronous fan-out
// to subscribers, a small replay ring, and batched durable persistence of
// everything that isn't marked ephemeral.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event type taxonomy exposed to collaborators.
const (
	TypeAgentJoin         = "agent_join"
	TypeAgentLeave        = "agent_leave"
	TypeAgentMove         = "agent_move"
	TypeAgentStateChange  = "agent_state_change"
	TypeChatMessage       = "chat_message"
	TypeConversationStart = "conversation_start"
	TypeConversationEnd   = "conversation_end"
	TypeRelationshipChange = "relationship_change"
	TypeTreeChopped       = "tree_chopped"
	TypeTreeRegrown       = "tree_regrown"
	TypeTreeSpawned       = "tree_spawned"
	TypeActivityStart     = "activity_start"
	TypeWeatherChange     = "weather_change"
	TypeTimeChange        = "time_change"
	TypeBuildingStarted   = "building_started"
	TypeBuildingProgress  = "building_progress"
	TypeBuildingCompleted = "building_completed"
	TypeWorldTick         = "world_tick"
	TypeHeartbeat         = "heartbeat"
)

// ephemeralTypes are broadcast-only: high-frequency, no persistence value.
var ephemeralTypes = map[string]struct{}{
	TypeAgentMove: {},
	TypeWorldTick: {},
	TypeHeartbeat: {},
}

// Event is a timestamped state-change notification with a flat payload.
type Event struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscriber receives events synchronously. A subscriber that returns an
// error is dropped so one failure can't block the rest.
type Subscriber func(Event) error

// Sink receives batched durable events, typically a database.
type Sink interface {
	WriteEvents(ctx context.Context, batch []Event) error
}

// Bus fans events out to subscribers and batches durable ones to the sink.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]Subscriber
	nextSubID   int

	ring     []Event
	ringSize int

	queue   []Event
	flushAt int

	sink          Sink
	flushInterval time.Duration

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewBus creates a bus. sink may be nil for broadcast-only use in tests.
func NewBus(sink Sink, ringSize, flushAt int, flushInterval time.Duration) *Bus {
	if ringSize <= 0 {
		ringSize = 100
	}
	if flushAt <= 0 {
		flushAt = 50
	}
	return &Bus{
		subscribers:   make(map[int]Subscriber),
		ringSize:      ringSize,
		flushAt:       flushAt,
		sink:          sink,
		flushInterval: flushInterval,
		kick:          make(chan struct{}, 1),
	}
}

// Subscribe registers a subscriber and replays the recent ring so late
// attachers see a little history. Returns an unsubscribe func.
func (b *Bus) Subscribe(sub Subscriber) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = sub
	replay := make([]Event, len(b.ring))
	copy(replay, b.ring)
	b.mu.Unlock()

	for _, e := range replay {
		if err := sub(e); err != nil {
			break
		}
	}

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Emit delivers an event to every subscriber and queues it for storage
// unless its type is ephemeral. Fan-out is synchronous; a subscriber that
// fails or panics is removed and the rest still run. Sink writes always
// happen on the flusher goroutine, so emitters never wait on storage.
func (b *Bus) Emit(eventType string, payload map[string]any) {
	e := Event{Type: eventType, Payload: payload, Timestamp: time.Now()}

	b.mu.Lock()
	b.ring = append(b.ring, e)
	if len(b.ring) > b.ringSize {
		b.ring = b.ring[len(b.ring)-b.ringSize:]
	}

	kickFlush := false
	if _, ephemeral := ephemeralTypes[eventType]; !ephemeral && b.sink != nil {
		b.queue = append(b.queue, e)
		kickFlush = len(b.queue) >= b.flushAt
	}

	subs := make(map[int]Subscriber, len(b.subscribers))
	for id, s := range b.subscribers {
		subs[id] = s
	}
	b.mu.Unlock()

	var dead []int
	for id, sub := range subs {
		if err := b.deliver(sub, e); err != nil {
			dead = append(dead, id)
		}
	}
	if len(dead) > 0 {
		b.mu.Lock()
		for _, id := range dead {
			delete(b.subscribers, id)
		}
		b.mu.Unlock()
		slog.Warn("dropped dead subscribers", "count", len(dead), "event", eventType)
	}

	if kickFlush {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// deliver invokes one subscriber, converting a panic into an error so a
// bad subscriber can't take down the tick.
func (b *Bus) deliver(sub Subscriber, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &subscriberPanic{value: r}
		}
	}()
	return sub(e)
}

type subscriberPanic struct{ value any }

func (p *subscriberPanic) Error() string { return "subscriber panicked" }

// Recent returns a copy of the replay ring.
func (b *Bus) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.ring))
	copy(out, b.ring)
	return out
}

// Start launches the flusher goroutine, which owns every sink write. It
// flushes on the interval timer and whenever an Emit crosses the queue
// threshold. Without it, queued events only reach the sink on Close.
func (b *Bus) Start() {
	if b.sink == nil {
		return
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		var tick <-chan time.Time
		if b.flushInterval > 0 {
			ticker := time.NewTicker(b.flushInterval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-tick:
				b.Flush()
			case <-b.kick:
				b.Flush()
			case <-b.stop:
				return
			}
		}
	}()
}

// Flush writes any queued durable events immediately.
func (b *Bus) Flush() {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()
	if len(pending) > 0 {
		b.writeBatch(pending)
	}
}

// Close stops the flusher and drains the queue so shutdown never loses a
// durable event.
func (b *Bus) Close() {
	if b.stop != nil {
		close(b.stop)
		<-b.done
		b.stop = nil
	}
	b.Flush()
}

func (b *Bus) writeBatch(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.sink.WriteEvents(ctx, batch); err != nil {
		slog.Error("event batch write failed", "count", len(batch), "error", err)
	}
}
