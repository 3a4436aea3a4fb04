package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-bot/cadenza/internal/modules/player/application/ports"
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	broadcaster := NewBroadcaster(8)
	defer broadcaster.Close()
	registry := NewRegistry(newFakeBackend(), broadcaster, EngineConfig{}, time.Minute)
	defer registry.Close()

	var wg sync.WaitGroup
	engines := make([]*Engine, 8)
	for i := range engines {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			engines[i] = registry.GetOrCreate(testGuild)
		}()
	}
	wg.Wait()

	for _, e := range engines[1:] {
		assert.Same(t, engines[0], e, "one engine per guild")
	}
	assert.Equal(t, 1, registry.Count())

	other := registry.GetOrCreate(snowflake.ID(5678))
	assert.NotSame(t, engines[0], other)
	assert.Equal(t, 2, registry.Count())
}

func TestRegistry_GetReturnsNilForUnknownGuild(t *testing.T) {
	broadcaster := NewBroadcaster(8)
	defer broadcaster.Close()
	registry := NewRegistry(newFakeBackend(), broadcaster, EngineConfig{}, time.Minute)
	defer registry.Close()

	assert.Nil(t, registry.Get(testGuild))
}

func TestRegistry_ReapsIdleSessions(t *testing.T) {
	broadcaster := NewBroadcaster(8)
	defer broadcaster.Close()

	recorder := &sessionRecorder{}
	broadcaster.Subscribe(testGuild, recorder.sink())

	registry := NewRegistry(newFakeBackend(), broadcaster, EngineConfig{}, time.Millisecond)
	defer registry.Close()

	engine := registry.GetOrCreate(testGuild)
	require.NoError(t, engine.Do(context.Background(), domain.Command{
		Kind:      domain.CommandJoin,
		GuildID:   testGuild,
		ChannelID: snowflake.ID(7),
	}))

	time.Sleep(5 * time.Millisecond)
	registry.reapOnce()

	assert.Equal(t, 0, registry.Count())
	require.Eventually(t, func() bool {
		reasons := recorder.endedReasons()
		return len(reasons) == 1 && reasons[0] == domain.EndReasonIdle
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_ReaperSkipsActivePlayback(t *testing.T) {
	broadcaster := NewBroadcaster(8)
	defer broadcaster.Close()
	registry := NewRegistry(newFakeBackend(), broadcaster, EngineConfig{}, time.Millisecond)
	defer registry.Close()

	engine := registry.GetOrCreate(testGuild)
	ctx := context.Background()
	require.NoError(t, engine.Do(ctx, domain.Command{
		Kind:      domain.CommandJoin,
		GuildID:   testGuild,
		ChannelID: snowflake.ID(7),
	}))
	track := domain.Track{ID: "t", Title: "t", Duration: time.Minute}
	require.NoError(t, engine.Do(ctx, domain.Command{
		Kind:    domain.CommandEnqueue,
		GuildID: testGuild,
		Track:   &track,
	}))
	require.NoError(t, engine.Do(ctx, domain.Command{
		Kind:    domain.CommandResume,
		GuildID: testGuild,
	}))

	time.Sleep(5 * time.Millisecond)
	registry.reapOnce()

	assert.Equal(t, 1, registry.Count(), "sessions with a playing track are not reaped")
}

func TestRegistry_RoutesBackendEvents(t *testing.T) {
	broadcaster := NewBroadcaster(8)
	defer broadcaster.Close()
	backend := newFakeBackend()
	registry := NewRegistry(backend, broadcaster, EngineConfig{}, time.Minute)
	registry.Start()
	defer registry.Close()

	engine := registry.GetOrCreate(testGuild)
	ctx := context.Background()
	require.NoError(t, engine.Do(ctx, domain.Command{
		Kind:      domain.CommandJoin,
		GuildID:   testGuild,
		ChannelID: snowflake.ID(7),
	}))
	track := domain.Track{ID: "t", Title: "t", Duration: time.Minute}
	require.NoError(t, engine.Do(ctx, domain.Command{
		Kind:    domain.CommandEnqueue,
		GuildID: testGuild,
		Track:   &track,
	}))
	require.NoError(t, engine.Do(ctx, domain.Command{
		Kind:    domain.CommandResume,
		GuildID: testGuild,
	}))

	backend.events <- ports.BackendEvent{
		GuildID: testGuild,
		Kind:    ports.BackendPositionTick,
		Offset:  30 * time.Second,
	}

	require.Eventually(t, func() bool {
		state, err := engine.State(context.Background())
		return err == nil && state.Position == 30*time.Second
	}, time.Second, 5*time.Millisecond)
}
