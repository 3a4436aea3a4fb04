package ports

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// BackendEventKind identifies an asynchronous backend notification.
type BackendEventKind int

const (
	// BackendTrackStarted means the backend confirmed playback start.
	BackendTrackStarted BackendEventKind = iota
	// BackendTrackFinished means the current track ended.
	BackendTrackFinished
	// BackendPositionTick is a periodic playback position report (~1s cadence).
	BackendPositionTick
	// BackendDisconnected means the voice link to the backend dropped.
	BackendDisconnected
)

// String returns a human-readable representation of the event kind.
func (k BackendEventKind) String() string {
	switch k {
	case BackendTrackStarted:
		return "track_started"
	case BackendTrackFinished:
		return "track_finished"
	case BackendPositionTick:
		return "position_tick"
	case BackendDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// BackendEvent is an asynchronous notification from the playback backend.
// The engine treats these as commands for serialization purposes.
type BackendEvent struct {
	GuildID snowflake.ID
	Kind    BackendEventKind

	// Natural is set on BackendTrackFinished: true for natural completion,
	// false for a forced stop or replacement.
	Natural bool

	// Offset is set on BackendPositionTick.
	Offset time.Duration
}

// Backend is the playback backend boundary. It executes commands against
// the voice-streaming node and reports outcomes; it never decides what to
// play next.
//
// All calls honor context cancellation. A cancelled Start leaves the
// backend either confirmed started or confirmed not started; on ambiguity
// the caller assumes not started and re-issues Stop.
type Backend interface {
	// Join connects the bot to a voice channel.
	Join(ctx context.Context, guildID, channelID snowflake.ID) error

	// Leave disconnects from the voice channel and destroys the player.
	Leave(ctx context.Context, guildID snowflake.ID) error

	// Start begins playback of the given track.
	Start(ctx context.Context, guildID snowflake.ID, track *domain.Track) error

	// Pause pauses the current playback.
	Pause(ctx context.Context, guildID snowflake.ID) error

	// Resume resumes paused playback.
	Resume(ctx context.Context, guildID snowflake.ID) error

	// Seek moves playback to the given offset of the current track.
	Seek(ctx context.Context, guildID snowflake.ID, offset time.Duration) error

	// SetVolume sets the playback volume (0-100).
	SetVolume(ctx context.Context, guildID snowflake.ID, volume int) error

	// Stop stops the current playback without leaving the channel.
	Stop(ctx context.Context, guildID snowflake.ID) error

	// Events returns the stream of asynchronous backend notifications.
	Events() <-chan BackendEvent
}

// TrackResolver loads tracks from a query (URL or search term).
type TrackResolver interface {
	// ResolveTrack resolves a query to a single playable track.
	ResolveTrack(ctx context.Context, query string) (*domain.Track, error)
}
