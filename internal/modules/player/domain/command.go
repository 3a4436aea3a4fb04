package domain

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// CommandKind identifies a player command.
type CommandKind string

const (
	CommandJoin       CommandKind = "join"
	CommandEnqueue    CommandKind = "enqueue"
	CommandSkip       CommandKind = "skip"
	CommandPrevious   CommandKind = "previous"
	CommandPause      CommandKind = "pause"
	CommandResume     CommandKind = "resume"
	CommandStop       CommandKind = "stop"
	CommandSetVolume  CommandKind = "set_volume"
	CommandSetMode    CommandKind = "set_mode"
	CommandSeek       CommandKind = "seek"
	CommandReorder    CommandKind = "reorder"
	CommandRemove     CommandKind = "remove"
	CommandClear      CommandKind = "clear"
	CommandDisconnect CommandKind = "disconnect"
)

// OriginSource tags where a command came from.
type OriginSource string

const (
	OriginDiscord OriginSource = "discord"
	OriginRemote  OriginSource = "remote"
)

// Origin identifies the originator of a command. Used for logging and
// for policy decisions outside the engine.
type Origin struct {
	Source   OriginSource
	ActorID  snowflake.ID // Discord user, zero for anonymous remote clients
	ClientID string       // remote connection ID, empty for Discord
}

// Command is the unified command type consumed by the guild engine.
// Both Discord interactions and remote socket messages normalize into it.
// Only the fields relevant to Kind are set.
type Command struct {
	Kind    CommandKind  `json:"kind"`
	GuildID snowflake.ID `json:"guild_id"`
	Origin  Origin       `json:"-"`

	ChannelID snowflake.ID `json:"channel_id,omitempty"` // Join

	// Enqueue carries either a resolved Track (Discord path) or a Query
	// (remote path: a URL or search term the host resolves to a Track
	// before dispatch). Validation requires a playable Track.
	Track *Track `json:"track,omitempty"`
	Query string `json:"query,omitempty"`

	Volume   int           `json:"volume,omitempty"`   // SetVolume
	Mode     PlaybackMode  `json:"mode,omitempty"`     // SetMode
	Offset   time.Duration `json:"offset,omitempty"`   // Seek
	From     int           `json:"from,omitempty"`     // Reorder
	To       int           `json:"to,omitempty"`       // Reorder
	Position int           `json:"position,omitempty"` // Remove
}
