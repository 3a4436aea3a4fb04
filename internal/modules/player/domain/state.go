package domain

import (
	"encoding/json"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Phase is the lifecycle phase of a guild player session.
type Phase int

const (
	PhaseIdle         Phase = iota // no active session
	PhaseConnecting                // voice join requested, backend not ready
	PhasePlaying                   // active, track playing
	PhasePaused                    // active, paused (possibly with no current track)
	PhaseDisconnected              // voice link lost, reconnect pending
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

// ParsePhase converts a string to a Phase. Unknown values map to PhaseIdle.
func ParsePhase(s string) Phase {
	switch s {
	case "connecting":
		return PhaseConnecting
	case "playing":
		return PhasePlaying
	case "paused":
		return PhasePaused
	case "disconnected":
		return PhaseDisconnected
	default:
		return PhaseIdle
	}
}

// MarshalJSON encodes the phase as its string form.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes the phase from its string form.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParsePhase(s)
	return nil
}

// IsActive returns true for the two active sub-phases.
func (p Phase) IsActive() bool {
	return p == PhasePlaying || p == PhasePaused
}

// MarshalJSON encodes the mode as its string form.
func (m PlaybackMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes the mode from its string form.
func (m *PlaybackMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, err := ParsePlaybackMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// PlayerState is a complete snapshot of one guild's player at a given
// revision. Snapshots are values; the engine owns the only mutable copy.
//
// Invariants:
//   - Current is nil iff nothing is playing.
//   - Revision is strictly increasing and bumped on every observable
//     mutation; it is the ordering key for diff delivery.
type PlayerState struct {
	GuildID   snowflake.ID  `json:"guild_id"`
	Phase     Phase         `json:"phase"`
	Tracks    []Track       `json:"tracks"`
	History   []Track       `json:"history,omitempty"`
	Current   *Track        `json:"current,omitempty"`
	Mode      PlaybackMode  `json:"mode"`
	Volume    int           `json:"volume"`
	Position  time.Duration `json:"position"`
	Connected bool          `json:"connected"`
	Revision  uint64        `json:"revision"`
}

// Clone returns a deep copy of the snapshot.
func (s PlayerState) Clone() PlayerState {
	out := s
	if len(s.Tracks) > 0 {
		out.Tracks = make([]Track, len(s.Tracks))
		copy(out.Tracks, s.Tracks)
	}
	if len(s.History) > 0 {
		out.History = make([]Track, len(s.History))
		copy(out.History, s.History)
	}
	if s.Current != nil {
		current := *s.Current
		out.Current = &current
	}
	return out
}
