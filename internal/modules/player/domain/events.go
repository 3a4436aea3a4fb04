package domain

import "github.com/disgoorg/snowflake/v2"

// SessionEndReason explains why a guild session was torn down.
type SessionEndReason string

const (
	// EndReasonRequested means a user or remote client asked to disconnect.
	EndReasonRequested SessionEndReason = "requested"
	// EndReasonIdle means the session was reaped after the idle timeout.
	EndReasonIdle SessionEndReason = "idle"
	// EndReasonBackendUnavailable means reconnect attempts were exhausted.
	EndReasonBackendUnavailable SessionEndReason = "backend_unavailable"
)

// SessionStartedEvent is emitted when a guild session becomes active.
type SessionStartedEvent struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
}

// SessionEndedEvent is emitted when a guild session is torn down.
type SessionEndedEvent struct {
	GuildID snowflake.ID
	Reason  SessionEndReason
}
