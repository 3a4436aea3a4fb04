package application

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cadenza-bot/cadenza/internal/modules/player/application/ports"
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// Registry defaults.
const (
	DefaultIdleTimeout  = 10 * time.Minute
	DefaultReapInterval = time.Minute
)

// Registry is the process-wide mapping from guild to its player engine.
// Lookups are frequent and concurrent; inserts and removals are rare.
// It guarantees at most one engine per guild and reaps idle sessions.
type Registry struct {
	mu      sync.RWMutex
	engines map[snowflake.ID]*Engine

	backend     ports.Backend
	broadcaster *Broadcaster
	engineCfg   EngineConfig
	idleTimeout time.Duration
	log         zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRegistry creates a Registry. Engines are created lazily on first use.
func NewRegistry(
	backend ports.Backend,
	broadcaster *Broadcaster,
	engineCfg EngineConfig,
	idleTimeout time.Duration,
) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Registry{
		engines:     make(map[snowflake.ID]*Engine),
		backend:     backend,
		broadcaster: broadcaster,
		engineCfg:   engineCfg,
		idleTimeout: idleTimeout,
		log:         log.With().Str("component", "registry").Logger(),
	}
}

// GetOrCreate returns the guild's engine, creating it if absent.
func (r *Registry) GetOrCreate(guildID snowflake.ID) *Engine {
	r.mu.RLock()
	engine, ok := r.engines[guildID]
	r.mu.RUnlock()
	if ok {
		return engine
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; another caller may have won.
	if engine, ok := r.engines[guildID]; ok {
		return engine
	}

	engine = NewEngine(guildID, r.backend, r.broadcaster, r.engineCfg, r.remove)
	r.engines[guildID] = engine
	r.log.Debug().Stringer("guild", guildID).Msg("engine created")
	return engine
}

// Get returns the guild's engine, or nil if it has no active session.
func (r *Registry) Get(guildID snowflake.ID) *Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines[guildID]
}

// Count returns the number of live engines.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// remove drops the registry entry. Called by engines on teardown.
func (r *Registry) remove(guildID snowflake.ID) {
	r.mu.Lock()
	delete(r.engines, guildID)
	r.mu.Unlock()
	r.log.Debug().Stringer("guild", guildID).Msg("engine removed")
}

// Start launches the backend event router and the idle reaper.
func (r *Registry) Start() {
	r.done = make(chan struct{})

	r.wg.Add(2)
	go r.routeBackendEvents()
	go r.reapIdle(DefaultReapInterval)
}

// Close stops background goroutines and all engines.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		if r.done != nil {
			close(r.done)
		}
	})
	r.wg.Wait()

	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.engines = make(map[snowflake.ID]*Engine)
	r.mu.Unlock()

	for _, e := range engines {
		e.Stop()
	}
}

// routeBackendEvents forwards backend notifications to their guild's
// engine. Events for guilds without an engine are dropped.
func (r *Registry) routeBackendEvents() {
	defer r.wg.Done()

	events := r.backend.Events()
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if engine := r.Get(event.GuildID); engine != nil {
				engine.Notify(event)
			}
		}
	}
}

// reapIdle tears down sessions that have been inactive past the idle
// timeout with nothing playing.
func (r *Registry) reapIdle(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	r.mu.RLock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.RUnlock()

	for _, engine := range engines {
		if time.Since(engine.IdleSince()) < r.idleTimeout {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		state, err := engine.State(ctx)
		cancel()
		if err != nil {
			continue
		}
		if state.Current != nil && state.Phase == domain.PhasePlaying {
			continue
		}

		r.log.Info().Stringer("guild", engine.GuildID()).Msg("reaping idle session")
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		if err := engine.RequestTeardown(ctx, domain.EndReasonIdle); err != nil {
			r.log.Warn().Err(err).Stringer("guild", engine.GuildID()).Msg("idle teardown failed")
		}
		cancel()
	}
}
