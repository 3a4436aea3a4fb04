package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrack(id string) Track {
	return Track{
		ID:    TrackID(id),
		Title: "track " + id,
	}
}

func TestQueue_Enqueue(t *testing.T) {
	q := NewQueue(3)

	for i := 0; i < 3; i++ {
		pos, err := q.Enqueue(testTrack(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
		assert.Equal(t, i, pos)
	}

	_, err := q.Enqueue(testTrack("overflow"))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 3, q.Len(), "a rejected enqueue must not mutate the queue")
	assert.Equal(t, TrackID("t0"), q.Tracks()[0].ID)
}

func TestQueue_DequeueNext_ArrivalOrder(t *testing.T) {
	q := NewQueue(10)
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(testTrack(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		next := q.DequeueNext(ModeNormal)
		require.NotNil(t, next)
		assert.Equal(t, TrackID(fmt.Sprintf("t%d", i)), next.ID)
	}

	assert.Nil(t, q.DequeueNext(ModeNormal))
}

func TestQueue_DequeueNext_ShuffleAvoidsImmediateRepeat(t *testing.T) {
	q := NewQueue(10)
	_, err := q.Enqueue(testTrack("a"))
	require.NoError(t, err)
	_, err = q.Enqueue(testTrack("b"))
	require.NoError(t, err)

	first := q.DequeueNext(ModeShuffle)
	require.NotNil(t, first)

	// Put the just-played track back; with an alternative available the
	// next pick must not repeat it.
	q.Reappend(*first)

	for i := 0; i < 20; i++ {
		second := q.DequeueNext(ModeShuffle)
		require.NotNil(t, second)
		assert.NotEqual(t, first.ID, second.ID)

		q.Requeue(*second)
		q.lastID = first.ID
	}
}

func TestQueue_DequeueNext_ShuffleSingleTrack(t *testing.T) {
	q := NewQueue(10)
	_, err := q.Enqueue(testTrack("only"))
	require.NoError(t, err)

	next := q.DequeueNext(ModeShuffle)
	require.NotNil(t, next)
	assert.Equal(t, TrackID("only"), next.ID)
}

func TestQueue_RemoveAt(t *testing.T) {
	tests := []struct {
		name    string
		pos     int
		wantID  TrackID
		wantErr error
	}{
		{name: "first", pos: 0, wantID: "t0"},
		{name: "middle", pos: 1, wantID: "t1"},
		{name: "last", pos: 2, wantID: "t2"},
		{name: "negative", pos: -1, wantErr: ErrInvalidPosition},
		{name: "past end", pos: 3, wantErr: ErrInvalidPosition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(10)
			for i := 0; i < 3; i++ {
				_, err := q.Enqueue(testTrack(fmt.Sprintf("t%d", i)))
				require.NoError(t, err)
			}

			track, err := q.RemoveAt(tt.pos)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 3, q.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, track.ID)
			assert.Equal(t, 2, q.Len())
		})
	}
}

func TestQueue_Move(t *testing.T) {
	tests := []struct {
		name      string
		from, to  int
		wantOrder []TrackID
		wantErr   error
	}{
		{name: "forward", from: 0, to: 2, wantOrder: []TrackID{"t1", "t2", "t0"}},
		{name: "backward", from: 2, to: 0, wantOrder: []TrackID{"t2", "t0", "t1"}},
		{name: "same position", from: 1, to: 1, wantOrder: []TrackID{"t0", "t1", "t2"}},
		{name: "from out of range", from: 5, to: 0, wantErr: ErrInvalidPosition},
		{name: "to out of range", from: 0, to: 5, wantErr: ErrInvalidPosition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(10)
			for i := 0; i < 3; i++ {
				_, err := q.Enqueue(testTrack(fmt.Sprintf("t%d", i)))
				require.NoError(t, err)
			}

			err := q.Move(tt.from, tt.to)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			got := make([]TrackID, 0, q.Len())
			for _, track := range q.Tracks() {
				got = append(got, track.ID)
			}
			assert.Equal(t, tt.wantOrder, got)
		})
	}
}

func TestQueue_ClearKeepsHistory(t *testing.T) {
	q := NewQueue(10)
	_, err := q.Enqueue(testTrack("pending"))
	require.NoError(t, err)
	q.PushHistory(testTrack("played"))

	q.Clear()

	assert.True(t, q.IsEmpty())
	require.Len(t, q.History(), 1)
	assert.Equal(t, TrackID("played"), q.History()[0].ID)
}

func TestQueue_History(t *testing.T) {
	q := NewQueue(3)

	for i := 0; i < 5; i++ {
		q.PushHistory(testTrack(fmt.Sprintf("t%d", i)))
	}

	history := q.History()
	require.Len(t, history, 3, "history is bounded by capacity")
	assert.Equal(t, TrackID("t4"), history[0].ID, "most recent first")

	popped := q.PopHistory()
	require.NotNil(t, popped)
	assert.Equal(t, TrackID("t4"), popped.ID)
	assert.Len(t, q.History(), 2)
}

func TestQueue_PopHistoryEmpty(t *testing.T) {
	q := NewQueue(10)
	assert.Nil(t, q.PopHistory())
}

func TestQueue_Requeue(t *testing.T) {
	q := NewQueue(10)
	_, err := q.Enqueue(testTrack("next"))
	require.NoError(t, err)

	q.Requeue(testTrack("back"))

	tracks := q.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, TrackID("back"), tracks[0].ID)
	assert.Equal(t, TrackID("next"), tracks[1].ID)
}

func TestQueue_ReappendWhenFull(t *testing.T) {
	q := NewQueue(2)
	_, err := q.Enqueue(testTrack("a"))
	require.NoError(t, err)
	_, err = q.Enqueue(testTrack("b"))
	require.NoError(t, err)

	q.Reappend(testTrack("c"))

	tracks := q.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, TrackID("a"), tracks[0].ID)
	assert.Equal(t, TrackID("c"), tracks[1].ID)
}
