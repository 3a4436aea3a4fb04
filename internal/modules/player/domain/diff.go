package domain

import (
	"slices"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// CurrentChange carries a change to the nullable current track.
// The wrapper distinguishes "current became nil" from "current unchanged".
type CurrentChange struct {
	Track *Track `json:"track"`
}

// StateDiff is a minimal description of the fields that changed between
// two revisions of a guild's state. Nil fields are unchanged. Applying a
// diff to a snapshot at FromRevision yields the snapshot at ToRevision.
type StateDiff struct {
	GuildID      snowflake.ID `json:"guild_id"`
	FromRevision uint64       `json:"from_revision"`
	ToRevision   uint64       `json:"to_revision"`

	Phase     *Phase         `json:"phase,omitempty"`
	Tracks    *[]Track       `json:"tracks,omitempty"`
	History   *[]Track       `json:"history,omitempty"`
	Current   *CurrentChange `json:"current,omitempty"`
	Mode      *PlaybackMode  `json:"mode,omitempty"`
	Volume    *int           `json:"volume,omitempty"`
	Position  *time.Duration `json:"position,omitempty"`
	Connected *bool          `json:"connected,omitempty"`
}

// Diff computes the structural diff between two snapshots of the same guild.
func Diff(old, new PlayerState) StateDiff {
	d := StateDiff{
		GuildID:      new.GuildID,
		FromRevision: old.Revision,
		ToRevision:   new.Revision,
	}

	if old.Phase != new.Phase {
		phase := new.Phase
		d.Phase = &phase
	}
	if !slices.Equal(old.Tracks, new.Tracks) {
		tracks := slices.Clone(new.Tracks)
		d.Tracks = &tracks
	}
	if !slices.Equal(old.History, new.History) {
		history := slices.Clone(new.History)
		d.History = &history
	}
	if !trackPtrEqual(old.Current, new.Current) {
		change := CurrentChange{}
		if new.Current != nil {
			current := *new.Current
			change.Track = &current
		}
		d.Current = &change
	}
	if old.Mode != new.Mode {
		mode := new.Mode
		d.Mode = &mode
	}
	if old.Volume != new.Volume {
		volume := new.Volume
		d.Volume = &volume
	}
	if old.Position != new.Position {
		position := new.Position
		d.Position = &position
	}
	if old.Connected != new.Connected {
		connected := new.Connected
		d.Connected = &connected
	}

	return d
}

// Apply applies the diff to a snapshot at FromRevision and returns the
// snapshot at ToRevision. The input is not modified.
func (d StateDiff) Apply(state PlayerState) PlayerState {
	out := state.Clone()
	out.Revision = d.ToRevision

	if d.Phase != nil {
		out.Phase = *d.Phase
	}
	if d.Tracks != nil {
		out.Tracks = slices.Clone(*d.Tracks)
	}
	if d.History != nil {
		out.History = slices.Clone(*d.History)
	}
	if d.Current != nil {
		if d.Current.Track != nil {
			current := *d.Current.Track
			out.Current = &current
		} else {
			out.Current = nil
		}
	}
	if d.Mode != nil {
		out.Mode = *d.Mode
	}
	if d.Volume != nil {
		out.Volume = *d.Volume
	}
	if d.Position != nil {
		out.Position = *d.Position
	}
	if d.Connected != nil {
		out.Connected = *d.Connected
	}

	return out
}

// Empty returns true if no fields changed.
func (d StateDiff) Empty() bool {
	return d.Phase == nil && d.Tracks == nil && d.History == nil &&
		d.Current == nil && d.Mode == nil && d.Volume == nil &&
		d.Position == nil && d.Connected == nil
}

func trackPtrEqual(a, b *Track) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
