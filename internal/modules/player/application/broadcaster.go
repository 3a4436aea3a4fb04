package application

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cadenza-bot/cadenza/internal/modules/player/application/ports"
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// Broadcaster tuning.
const (
	// DefaultObserverBuffer bounds each observer's delivery queue.
	DefaultObserverBuffer = 32

	// maxConsecutiveFailures drops an observer whose sink keeps failing.
	maxConsecutiveFailures = 3
)

// broadcastItem is one element of an observer's delivery queue.
// Either snapshot or session is set.
type broadcastItem struct {
	snapshot *domain.PlayerState
	session  *ports.SyncMessage
}

// Observer is one subscribed consumer of a guild's state sync stream.
// Delivery runs on a dedicated goroutine so a slow or dead sink never
// stalls the engine.
type Observer struct {
	ID      uuid.UUID
	GuildID snowflake.ID

	sink  ports.Sink
	queue chan broadcastItem
	done  chan struct{}
	once  sync.Once

	// Delivery-goroutine-owned.
	lastState domain.PlayerState
	hasState  bool
	failures  int
}

// Broadcaster fans per-guild state snapshots out to subscribed observers
// as minimal diffs, falling back to full-snapshot resync whenever an
// observer's last known revision is not adjacent to the new one.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[uuid.UUID]*Observer
	buffer    int
	log       zerolog.Logger
}

// NewBroadcaster creates a Broadcaster with the given per-observer buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultObserverBuffer
	}
	return &Broadcaster{
		observers: make(map[uuid.UUID]*Observer),
		buffer:    buffer,
		log:       log.With().Str("component", "broadcaster").Logger(),
	}
}

// Subscribe registers a sink for one guild's sync stream and starts its
// delivery goroutine. The first delivered message is a full snapshot.
func (b *Broadcaster) Subscribe(guildID snowflake.ID, sink ports.Sink) *Observer {
	obs := &Observer{
		ID:      uuid.New(),
		GuildID: guildID,
		sink:    sink,
		queue:   make(chan broadcastItem, b.buffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.observers[obs.ID] = obs
	b.mu.Unlock()

	go b.deliver(obs)

	b.log.Debug().
		Stringer("observer", obs.ID).
		Stringer("guild", guildID).
		Msg("observer subscribed")

	return obs
}

// Unsubscribe removes an observer and stops its delivery goroutine.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	obs, ok := b.observers[id]
	if ok {
		delete(b.observers, id)
	}
	b.mu.Unlock()

	if ok {
		obs.close()
		b.log.Debug().Stringer("observer", id).Msg("observer unsubscribed")
	}
}

// ObserverCount returns the number of observers subscribed to a guild.
func (b *Broadcaster) ObserverCount(guildID snowflake.ID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, obs := range b.observers {
		if obs.GuildID == guildID {
			n++
		}
	}
	return n
}

// Publish hands a new snapshot to every observer of its guild. It never
// blocks: an observer whose queue is full misses the revision and is
// resynced with a full snapshot on its next delivery.
func (b *Broadcaster) Publish(state domain.PlayerState) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, obs := range b.observers {
		if obs.GuildID != state.GuildID {
			continue
		}
		snapshot := state.Clone()
		select {
		case obs.queue <- broadcastItem{snapshot: &snapshot}:
		default:
			b.log.Debug().
				Stringer("observer", obs.ID).
				Uint64("revision", state.Revision).
				Msg("observer queue full, revision skipped")
		}
	}
}

// PublishSessionStarted delivers a session start notice to the guild's observers.
func (b *Broadcaster) PublishSessionStarted(event domain.SessionStartedEvent) {
	b.publishSession(event.GuildID, ports.SyncMessage{
		Kind:    ports.SyncSessionStarted,
		Started: &event,
	})
}

// PublishSessionEnded delivers a session end notice to the guild's observers.
func (b *Broadcaster) PublishSessionEnded(event domain.SessionEndedEvent) {
	b.publishSession(event.GuildID, ports.SyncMessage{
		Kind:  ports.SyncSessionEnded,
		Ended: &event,
	})
}

func (b *Broadcaster) publishSession(guildID snowflake.ID, msg ports.SyncMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, obs := range b.observers {
		if obs.GuildID != guildID {
			continue
		}
		m := msg
		select {
		case obs.queue <- broadcastItem{session: &m}:
		default:
		}
	}
}

// Close stops all observers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	observers := b.observers
	b.observers = make(map[uuid.UUID]*Observer)
	b.mu.Unlock()

	for _, obs := range observers {
		obs.close()
	}
}

// deliver is the per-observer delivery loop. Diffs are sent when the new
// revision directly follows the last delivered one; anything else gets a
// full snapshot. Per-observer delivery order equals revision order.
func (b *Broadcaster) deliver(obs *Observer) {
	for {
		select {
		case <-obs.done:
			return
		case item := <-obs.queue:
			var msg ports.SyncMessage
			switch {
			case item.session != nil:
				msg = *item.session
			case item.snapshot != nil:
				next := *item.snapshot
				if next.Revision <= obs.lastState.Revision && obs.hasState {
					// Stale by queue semantics; cannot happen with a FIFO
					// queue, but never deliver a revision regression.
					continue
				}
				if obs.hasState && next.Revision == obs.lastState.Revision+1 {
					diff := domain.Diff(obs.lastState, next)
					msg = ports.SyncMessage{Kind: ports.SyncDiff, Diff: &diff}
				} else {
					snapshot := next.Clone()
					msg = ports.SyncMessage{Kind: ports.SyncSnapshot, Snapshot: &snapshot}
				}
				obs.lastState = next
				obs.hasState = true
			default:
				continue
			}

			if err := obs.sink.Send(msg); err != nil {
				obs.failures++
				b.log.Warn().
					Stringer("observer", obs.ID).
					Int("failures", obs.failures).
					Err(err).
					Msg("observer delivery failed")
				if obs.failures >= maxConsecutiveFailures {
					b.log.Info().Stringer("observer", obs.ID).Msg("dropping failing observer")
					b.Unsubscribe(obs.ID)
					return
				}
				// Force a resync once the sink recovers.
				obs.hasState = false
				continue
			}
			obs.failures = 0
		}
	}
}

func (o *Observer) close() {
	o.once.Do(func() { close(o.done) })
}
