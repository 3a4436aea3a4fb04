package ports

import (
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// SyncKind identifies a state sync message.
type SyncKind string

const (
	// SyncSnapshot carries a full player state snapshot.
	SyncSnapshot SyncKind = "snapshot"
	// SyncDiff carries a minimal field diff between two revisions.
	SyncDiff SyncKind = "diff"
	// SyncSessionStarted announces a new guild session.
	SyncSessionStarted SyncKind = "session_started"
	// SyncSessionEnded announces session teardown.
	SyncSessionEnded SyncKind = "session_ended"
)

// SyncMessage is one element of the per-observer state sync stream.
// Exactly one payload field is set, matching Kind.
type SyncMessage struct {
	Kind     SyncKind                    `json:"kind"`
	Snapshot *domain.PlayerState         `json:"snapshot,omitempty"`
	Diff     *domain.StateDiff           `json:"diff,omitempty"`
	Started  *domain.SessionStartedEvent `json:"started,omitempty"`
	Ended    *domain.SessionEndedEvent   `json:"ended,omitempty"`
}

// Sink receives state sync messages for one observer. Implementations
// may block or fail; the broadcaster isolates the engine from both.
type Sink interface {
	Send(msg SyncMessage) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(msg SyncMessage) error

// Send calls the underlying function.
func (f SinkFunc) Send(msg SyncMessage) error {
	return f(msg)
}
