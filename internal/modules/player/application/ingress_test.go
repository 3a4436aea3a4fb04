package application

import (
	"context"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

func TestValidateCommand(t *testing.T) {
	track := domain.Track{ID: "t", Encoded: "enc-t", Title: "t"}
	unplayable := domain.Track{ID: "t", Title: "t"}

	tests := []struct {
		name    string
		cmd     domain.Command
		wantErr bool
	}{
		{
			name:    "missing guild",
			cmd:     domain.Command{Kind: domain.CommandSkip},
			wantErr: true,
		},
		{
			name:    "join without channel",
			cmd:     domain.Command{Kind: domain.CommandJoin, GuildID: 1},
			wantErr: true,
		},
		{
			name: "join with channel",
			cmd:  domain.Command{Kind: domain.CommandJoin, GuildID: 1, ChannelID: 2},
		},
		{
			name:    "enqueue without track",
			cmd:     domain.Command{Kind: domain.CommandEnqueue, GuildID: 1},
			wantErr: true,
		},
		{
			name: "enqueue with track",
			cmd:  domain.Command{Kind: domain.CommandEnqueue, GuildID: 1, Track: &track},
		},
		{
			name:    "enqueue without encoded data",
			cmd:     domain.Command{Kind: domain.CommandEnqueue, GuildID: 1, Track: &unplayable},
			wantErr: true,
		},
		{
			name:    "volume above range",
			cmd:     domain.Command{Kind: domain.CommandSetVolume, GuildID: 1, Volume: 101},
			wantErr: true,
		},
		{
			name: "volume at bound",
			cmd:  domain.Command{Kind: domain.CommandSetVolume, GuildID: 1, Volume: 100},
		},
		{
			name:    "negative seek",
			cmd:     domain.Command{Kind: domain.CommandSeek, GuildID: 1, Offset: -time.Second},
			wantErr: true,
		},
		{
			name:    "negative remove position",
			cmd:     domain.Command{Kind: domain.CommandRemove, GuildID: 1, Position: -1},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			cmd:     domain.Command{Kind: "dance", GuildID: 1},
			wantErr: true,
		},
		{
			name: "bare skip",
			cmd:  domain.Command{Kind: domain.CommandSkip, GuildID: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.cmd)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidCommand)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestIngress_NonJoinRequiresSession(t *testing.T) {
	broadcaster := NewBroadcaster(8)
	defer broadcaster.Close()
	registry := NewRegistry(newFakeBackend(), broadcaster, EngineConfig{}, time.Minute)
	defer registry.Close()
	ingress := NewIngress(registry)

	err := ingress.Dispatch(context.Background(), domain.Command{
		Kind:    domain.CommandSkip,
		GuildID: testGuild,
	})
	require.ErrorIs(t, err, domain.ErrNoActiveSession)
	assert.Equal(t, 0, registry.Count(), "no engine is created for a session-less command")
}

func TestIngress_JoinCreatesEngine(t *testing.T) {
	broadcaster := NewBroadcaster(8)
	defer broadcaster.Close()
	registry := NewRegistry(newFakeBackend(), broadcaster, EngineConfig{}, time.Minute)
	defer registry.Close()
	ingress := NewIngress(registry)

	err := ingress.Dispatch(context.Background(), domain.Command{
		Kind:      domain.CommandJoin,
		GuildID:   testGuild,
		ChannelID: snowflake.ID(7),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Count())

	// Subsequent commands reach the same engine.
	track := domain.Track{ID: "t", Encoded: "enc-t", Title: "t"}
	require.NoError(t, ingress.Dispatch(context.Background(), domain.Command{
		Kind:    domain.CommandEnqueue,
		GuildID: testGuild,
		Track:   &track,
	}))

	state, err := registry.Get(testGuild).State(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Tracks, 1)
}

func TestIngress_DisconnectRemovesEngine(t *testing.T) {
	broadcaster := NewBroadcaster(8)
	defer broadcaster.Close()
	registry := NewRegistry(newFakeBackend(), broadcaster, EngineConfig{}, time.Minute)
	defer registry.Close()
	ingress := NewIngress(registry)

	require.NoError(t, ingress.Dispatch(context.Background(), domain.Command{
		Kind:      domain.CommandJoin,
		GuildID:   testGuild,
		ChannelID: snowflake.ID(7),
	}))

	require.NoError(t, ingress.Dispatch(context.Background(), domain.Command{
		Kind:    domain.CommandDisconnect,
		GuildID: testGuild,
	}))

	assert.Equal(t, 0, registry.Count())

	err := ingress.Dispatch(context.Background(), domain.Command{
		Kind:    domain.CommandPause,
		GuildID: testGuild,
	})
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}
