package domain

import "github.com/cockroachdb/errors"

// User errors. These are reported back to the command originator and
// never tear down a guild session.
var (
	// ErrQueueFull is returned when an enqueue would exceed the queue capacity.
	ErrQueueFull = errors.New("queue is full")

	// ErrInvalidPosition is returned when a queue position is out of bounds.
	ErrInvalidPosition = errors.New("invalid queue position")

	// ErrSeekOutOfRange is returned when a seek offset exceeds the track duration.
	ErrSeekOutOfRange = errors.New("seek offset out of range")

	// ErrNotPlaying is returned when an operation requires a current track.
	ErrNotPlaying = errors.New("nothing is currently playing")

	// ErrNoActiveSession is returned when a guild has no active voice session.
	ErrNoActiveSession = errors.New("no active session for this guild")

	// ErrInvalidCommand is returned by ingress for malformed input.
	// It never reaches the engine.
	ErrInvalidCommand = errors.New("invalid command")
)
