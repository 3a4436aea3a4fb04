package domain

import (
	"math/rand"
)

// DefaultQueueCapacity bounds the pending queue and the history.
const DefaultQueueCapacity = 100

// Queue is a bounded, ordered list of pending tracks plus a bounded
// history of already-played tracks. Arrival order is preserved; shuffle
// is a logical pick at dequeue time, never a physical reorder.
//
// Queue mutations are pure data operations. They never touch playback;
// the guild engine decides when to call them.
type Queue struct {
	pending  []Track
	history  []Track
	capacity int

	// last dequeued track, used by shuffle to avoid an immediate repeat
	lastID TrackID
}

// NewQueue creates an empty queue with the given capacity.
// Non-positive capacities fall back to DefaultQueueCapacity.
func NewQueue(capacity int) Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return Queue{
		pending:  make([]Track, 0, capacity),
		capacity: capacity,
	}
}

// Len returns the number of pending tracks.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Capacity returns the queue capacity.
func (q *Queue) Capacity() int {
	return q.capacity
}

// IsEmpty returns true if there are no pending tracks.
func (q *Queue) IsEmpty() bool {
	return len(q.pending) == 0
}

// Tracks returns a copy of the pending tracks in arrival order.
func (q *Queue) Tracks() []Track {
	out := make([]Track, len(q.pending))
	copy(out, q.pending)
	return out
}

// History returns a copy of the played-track history, most recent first.
func (q *Queue) History() []Track {
	out := make([]Track, len(q.history))
	copy(out, q.history)
	return out
}

// Enqueue appends a track and returns its position (0-indexed).
// Returns ErrQueueFull without mutating the queue when at capacity.
func (q *Queue) Enqueue(track Track) (int, error) {
	if len(q.pending) >= q.capacity {
		return 0, ErrQueueFull
	}
	q.pending = append(q.pending, track)
	return len(q.pending) - 1, nil
}

// DequeueNext removes and returns the next track per the playback mode.
// Normal and RepeatQueue dequeue in arrival order (the engine re-appends
// finished tracks for RepeatQueue). Shuffle picks a random pending track,
// avoiding the track dequeued last when an alternative exists. Returns
// nil if the queue is empty. ModeRepeatTrack never reaches the queue;
// the engine replays its current track instead.
func (q *Queue) DequeueNext(mode PlaybackMode) *Track {
	if len(q.pending) == 0 {
		return nil
	}

	idx := 0
	if mode == ModeShuffle {
		idx = rand.Intn(len(q.pending))
		if len(q.pending) > 1 && q.pending[idx].ID == q.lastID {
			idx = (idx + 1 + rand.Intn(len(q.pending)-1)) % len(q.pending)
		}
	}

	track := q.pending[idx]
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	q.lastID = track.ID
	return &track
}

// RemoveAt removes and returns the pending track at the given position.
func (q *Queue) RemoveAt(pos int) (Track, error) {
	if pos < 0 || pos >= len(q.pending) {
		return Track{}, ErrInvalidPosition
	}
	track := q.pending[pos]
	q.pending = append(q.pending[:pos], q.pending[pos+1:]...)
	return track, nil
}

// Move reorders the pending track at from to position to.
func (q *Queue) Move(from, to int) error {
	if from < 0 || from >= len(q.pending) || to < 0 || to >= len(q.pending) {
		return ErrInvalidPosition
	}
	if from == to {
		return nil
	}
	track := q.pending[from]
	q.pending = append(q.pending[:from], q.pending[from+1:]...)
	q.pending = append(q.pending[:to], append([]Track{track}, q.pending[to:]...)...)
	return nil
}

// Clear removes all pending tracks. History is kept.
func (q *Queue) Clear() {
	q.pending = q.pending[:0]
}

// PushHistory records a finished track, most recent first.
// The oldest entry is dropped when the history is at capacity.
func (q *Queue) PushHistory(track Track) {
	if len(q.history) >= q.capacity {
		q.history = q.history[:q.capacity-1]
	}
	q.history = append([]Track{track}, q.history...)
}

// PopHistory removes and returns the most recently played track,
// or nil if the history is empty.
func (q *Queue) PopHistory() *Track {
	if len(q.history) == 0 {
		return nil
	}
	track := q.history[0]
	q.history = q.history[1:]
	return &track
}

// Requeue puts a track back at the front of the pending queue, dropping
// the last pending track if the queue is full. Used when skipping back.
func (q *Queue) Requeue(track Track) {
	if len(q.pending) >= q.capacity {
		q.pending = q.pending[:q.capacity-1]
	}
	q.pending = append([]Track{track}, q.pending...)
}

// Reappend puts a finished track at the back of the pending queue,
// dropping the last entry if full. Used by repeat-queue mode.
func (q *Queue) Reappend(track Track) {
	if len(q.pending) >= q.capacity {
		q.pending = q.pending[:q.capacity-1]
	}
	q.pending = append(q.pending, track)
}
