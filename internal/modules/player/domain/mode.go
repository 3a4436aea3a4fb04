package domain

import "github.com/cockroachdb/errors"

// PlaybackMode controls how the queue advances when a track ends.
// Exactly one mode is active per guild at any time.
type PlaybackMode int

const (
	ModeNormal      PlaybackMode = iota // play in arrival order, drop finished tracks
	ModeRepeatTrack                     // replay the current track indefinitely
	ModeRepeatQueue                     // re-append finished tracks to the back
	ModeShuffle                         // random pick without immediate repeat
)

// String returns a human-readable representation of the mode.
func (m PlaybackMode) String() string {
	switch m {
	case ModeRepeatTrack:
		return "track"
	case ModeRepeatQueue:
		return "queue"
	case ModeShuffle:
		return "shuffle"
	default:
		return "normal"
	}
}

// ParsePlaybackMode converts a string to a PlaybackMode.
func ParsePlaybackMode(s string) (PlaybackMode, error) {
	switch s {
	case "normal":
		return ModeNormal, nil
	case "track":
		return ModeRepeatTrack, nil
	case "queue":
		return ModeRepeatQueue, nil
	case "shuffle":
		return ModeShuffle, nil
	default:
		return ModeNormal, errors.Wrapf(ErrInvalidCommand, "unknown playback mode %q", s)
	}
}
