package application

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-bot/cadenza/internal/modules/player/application/ports"
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// collectingSink records delivered sync messages and can be made to fail.
type collectingSink struct {
	mu       sync.Mutex
	messages []ports.SyncMessage
	failNext int
}

func (s *collectingSink) Send(msg ports.SyncMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("sink unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *collectingSink) setFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *collectingSink) snapshot() []ports.SyncMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.SyncMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *collectingSink) waitFor(t *testing.T, n int) []ports.SyncMessage {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.snapshot()) >= n
	}, time.Second, 5*time.Millisecond)
	return s.snapshot()
}

func stateAt(revision uint64, volume int) domain.PlayerState {
	return domain.PlayerState{
		GuildID:  testGuild,
		Phase:    domain.PhasePaused,
		Volume:   volume,
		Revision: revision,
	}
}

func TestBroadcaster_FirstDeliveryIsSnapshot(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	sink := &collectingSink{}
	b.Subscribe(testGuild, sink)

	b.Publish(stateAt(1, 100))

	messages := sink.waitFor(t, 1)
	require.Equal(t, ports.SyncSnapshot, messages[0].Kind)
	assert.Equal(t, uint64(1), messages[0].Snapshot.Revision)
}

func TestBroadcaster_AdjacentRevisionsDeliverDiffs(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	sink := &collectingSink{}
	b.Subscribe(testGuild, sink)

	b.Publish(stateAt(1, 100))
	b.Publish(stateAt(2, 80))
	b.Publish(stateAt(3, 60))

	messages := sink.waitFor(t, 3)
	require.Equal(t, ports.SyncSnapshot, messages[0].Kind)

	require.Equal(t, ports.SyncDiff, messages[1].Kind)
	assert.Equal(t, uint64(1), messages[1].Diff.FromRevision)
	assert.Equal(t, uint64(2), messages[1].Diff.ToRevision)
	require.NotNil(t, messages[1].Diff.Volume)
	assert.Equal(t, 80, *messages[1].Diff.Volume)
	assert.Nil(t, messages[1].Diff.Phase, "unchanged fields stay out of the diff")

	require.Equal(t, ports.SyncDiff, messages[2].Kind)
	assert.Equal(t, uint64(2), messages[2].Diff.FromRevision)
}

func TestBroadcaster_RevisionGapForcesResync(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	sink := &collectingSink{}
	b.Subscribe(testGuild, sink)

	b.Publish(stateAt(1, 100))
	// Revision 2 never reaches this observer.
	b.Publish(stateAt(3, 60))

	messages := sink.waitFor(t, 2)
	assert.Equal(t, ports.SyncSnapshot, messages[0].Kind)
	require.Equal(t, ports.SyncSnapshot, messages[1].Kind,
		"a non-adjacent revision must resync with a full snapshot")
	assert.Equal(t, uint64(3), messages[1].Snapshot.Revision)
}

func TestBroadcaster_FailedDeliveryResyncs(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	sink := &collectingSink{}
	b.Subscribe(testGuild, sink)

	b.Publish(stateAt(1, 100))
	sink.waitFor(t, 1)

	sink.setFailures(1)
	b.Publish(stateAt(2, 80)) // delivery fails
	b.Publish(stateAt(3, 60))

	messages := sink.waitFor(t, 2)
	require.Equal(t, ports.SyncSnapshot, messages[1].Kind,
		"after a failed send the observer cannot be assumed in sync")
	assert.Equal(t, uint64(3), messages[1].Snapshot.Revision)
}

func TestBroadcaster_PersistentlyFailingObserverDropped(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	sink := &collectingSink{}
	sink.setFailures(maxConsecutiveFailures)
	obs := b.Subscribe(testGuild, sink)

	for i := 0; i < maxConsecutiveFailures; i++ {
		b.Publish(stateAt(uint64(i+1), 100-i))
	}

	require.Eventually(t, func() bool {
		return b.ObserverCount(testGuild) == 0
	}, time.Second, 5*time.Millisecond)

	// Unsubscribing again is a no-op.
	b.Unsubscribe(obs.ID)
}

func TestBroadcaster_ObserversAreGuildScoped(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	sink := &collectingSink{}
	otherSink := &collectingSink{}
	b.Subscribe(testGuild, sink)
	b.Subscribe(snowflake.ID(9999), otherSink)

	b.Publish(stateAt(1, 100))

	sink.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, otherSink.snapshot(), "observers only see their own guild")
}

func TestBroadcaster_SessionEventsDelivered(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	sink := &collectingSink{}
	b.Subscribe(testGuild, sink)

	b.PublishSessionStarted(domain.SessionStartedEvent{
		GuildID:   testGuild,
		ChannelID: snowflake.ID(5),
	})
	b.PublishSessionEnded(domain.SessionEndedEvent{
		GuildID: testGuild,
		Reason:  domain.EndReasonIdle,
	})

	messages := sink.waitFor(t, 2)
	require.Equal(t, ports.SyncSessionStarted, messages[0].Kind)
	assert.Equal(t, snowflake.ID(5), messages[0].Started.ChannelID)
	require.Equal(t, ports.SyncSessionEnded, messages[1].Kind)
	assert.Equal(t, domain.EndReasonIdle, messages[1].Ended.Reason)
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	sink := &collectingSink{}
	obs := b.Subscribe(testGuild, sink)

	b.Publish(stateAt(1, 100))
	sink.waitFor(t, 1)

	b.Unsubscribe(obs.ID)
	b.Publish(stateAt(2, 80))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.snapshot(), 1)
}
