package domain

import (
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// TrackID is a unique identifier for a track.
type TrackID string

// Track represents a playable audio track. Tracks are immutable once
// enqueued; snapshots reference them, they are never mutated in place.
type Track struct {
	ID          TrackID       `json:"id"`
	Encoded     string        `json:"-"` // Lavalink encoded track data, not part of the sync protocol
	SourceURI   string        `json:"source_uri"`
	Title       string        `json:"title"`
	Artist      string        `json:"artist,omitempty"`
	Duration    time.Duration `json:"duration"`
	IsStream    bool          `json:"is_stream,omitempty"`
	RequestedBy snowflake.ID  `json:"requested_by"`
	AddedAt     uint64        `json:"added_at"` // per-guild monotonic enqueue sequence
}

// IsValid returns true if the track has the minimum required fields.
func (t *Track) IsValid() bool {
	return t.Encoded != "" && t.Title != ""
}

// FormattedDuration returns the duration as a human-readable string (mm:ss or hh:mm:ss).
func (t *Track) FormattedDuration() string {
	if t.IsStream {
		return "LIVE"
	}

	totalSeconds := int(t.Duration.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return pad(hours) + ":" + pad(minutes) + ":" + pad(seconds)
	}
	return pad(minutes) + ":" + pad(seconds)
}

func pad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
