package domain

import (
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseState() PlayerState {
	current := testTrack("current")
	return PlayerState{
		GuildID:   snowflake.ID(42),
		Phase:     PhasePlaying,
		Tracks:    []Track{testTrack("a"), testTrack("b")},
		History:   []Track{testTrack("old")},
		Current:   &current,
		Mode:      ModeNormal,
		Volume:    100,
		Position:  5 * time.Second,
		Connected: true,
		Revision:  7,
	}
}

func TestDiff_Empty(t *testing.T) {
	state := baseState()
	d := Diff(state, state.Clone())
	assert.True(t, d.Empty())
}

func TestDiff_OnlyChangedFieldsSet(t *testing.T) {
	old := baseState()
	updated := old.Clone()
	updated.Revision = 8
	updated.Volume = 50
	updated.Position = 9 * time.Second

	d := Diff(old, updated)

	require.NotNil(t, d.Volume)
	assert.Equal(t, 50, *d.Volume)
	require.NotNil(t, d.Position)
	assert.Equal(t, 9*time.Second, *d.Position)

	assert.Nil(t, d.Phase)
	assert.Nil(t, d.Tracks)
	assert.Nil(t, d.History)
	assert.Nil(t, d.Current)
	assert.Nil(t, d.Mode)
	assert.Nil(t, d.Connected)

	assert.Equal(t, uint64(7), d.FromRevision)
	assert.Equal(t, uint64(8), d.ToRevision)
}

func TestDiff_CurrentBecameNil(t *testing.T) {
	old := baseState()
	updated := old.Clone()
	updated.Revision = 8
	updated.Current = nil

	d := Diff(old, updated)

	require.NotNil(t, d.Current, "clearing the current track is a change")
	assert.Nil(t, d.Current.Track)
}

func TestDiff_ApplyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PlayerState)
	}{
		{
			name: "track advance",
			mutate: func(s *PlayerState) {
				next := s.Tracks[0]
				s.History = append([]Track{*s.Current}, s.History...)
				s.Current = &next
				s.Tracks = s.Tracks[1:]
				s.Position = 0
			},
		},
		{
			name: "playback finished",
			mutate: func(s *PlayerState) {
				s.Current = nil
				s.Position = 0
				s.Phase = PhasePaused
			},
		},
		{
			name: "mode and volume",
			mutate: func(s *PlayerState) {
				s.Mode = ModeRepeatQueue
				s.Volume = 30
			},
		},
		{
			name: "voice link lost",
			mutate: func(s *PlayerState) {
				s.Phase = PhaseDisconnected
				s.Connected = false
			},
		},
		{
			name: "queue cleared",
			mutate: func(s *PlayerState) {
				s.Tracks = nil
				s.History = nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := baseState()
			updated := old.Clone()
			updated.Revision = old.Revision + 1
			tt.mutate(&updated)

			d := Diff(old, updated)
			applied := d.Apply(old)

			assert.Equal(t, updated, applied)
		})
	}
}

func TestDiff_ApplyDoesNotMutateInput(t *testing.T) {
	old := baseState()
	updated := old.Clone()
	updated.Revision = 8
	updated.Tracks = []Track{testTrack("z")}
	updated.Current = nil

	snapshot := old.Clone()
	_ = Diff(old, updated).Apply(old)

	assert.Equal(t, snapshot, old)
}
