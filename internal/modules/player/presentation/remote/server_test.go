package remote

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

type stubResolver struct {
	err     error
	queries []string
}

func (r *stubResolver) ResolveTrack(_ context.Context, query string) (*domain.Track, error) {
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	return &domain.Track{
		ID:      domain.TrackID(query),
		Encoded: "enc-" + query,
		Title:   query,
	}, nil
}

func testHost(resolver *stubResolver) *Host {
	return NewHost("127.0.0.1:0", nil, nil, nil, resolver)
}

func TestResolveEnqueue_ResolvesQuery(t *testing.T) {
	resolver := &stubResolver{}
	host := testHost(resolver)

	cmd := domain.Command{
		Kind:    domain.CommandEnqueue,
		GuildID: 1,
		Query:   "https://example.com/song",
	}

	require.NoError(t, host.resolveEnqueue(context.Background(), &cmd))

	require.NotNil(t, cmd.Track)
	assert.True(t, cmd.Track.IsValid())
	assert.Equal(t, []string{"https://example.com/song"}, resolver.queries)
}

func TestResolveEnqueue_RequiresQuery(t *testing.T) {
	resolver := &stubResolver{}
	host := testHost(resolver)

	cmd := domain.Command{Kind: domain.CommandEnqueue, GuildID: 1}

	err := host.resolveEnqueue(context.Background(), &cmd)
	require.ErrorIs(t, err, domain.ErrInvalidCommand)
	assert.Empty(t, resolver.queries)
}

func TestResolveEnqueue_ResolverErrorPropagates(t *testing.T) {
	lookupErr := errors.New("no results")
	host := testHost(&stubResolver{err: lookupErr})

	cmd := domain.Command{Kind: domain.CommandEnqueue, GuildID: 1, Query: "nothing"}

	err := host.resolveEnqueue(context.Background(), &cmd)
	require.ErrorIs(t, err, lookupErr)
	assert.Nil(t, cmd.Track)
}

func TestResolveEnqueue_IgnoresOtherKinds(t *testing.T) {
	resolver := &stubResolver{}
	host := testHost(resolver)

	cmd := domain.Command{Kind: domain.CommandSkip, GuildID: 1}

	require.NoError(t, host.resolveEnqueue(context.Background(), &cmd))
	assert.Empty(t, resolver.queries)
}

// Encoded track data never crosses the wire: a client-supplied track is
// unplayable on its own, and the query is what makes an enqueue work.
func TestResolveEnqueue_ClientTrackDataIsNotTrusted(t *testing.T) {
	raw := `{
		"type": "command",
		"id": "7f9c24e5-2f33-4c27-aab1-8a5c58b2c001",
		"command": {
			"kind": "enqueue",
			"guild_id": "1",
			"query": "cool song",
			"track": {"id": "x", "encoded": "QAAAfake", "title": "x"}
		}
	}`

	var msg InboundMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.NotNil(t, msg.Command)
	require.NotNil(t, msg.Command.Track)
	assert.Empty(t, msg.Command.Track.Encoded, "encoded data is not accepted from clients")

	resolver := &stubResolver{}
	host := testHost(resolver)

	cmd := *msg.Command
	require.NoError(t, host.resolveEnqueue(context.Background(), &cmd))
	assert.True(t, cmd.Track.IsValid())
	assert.Equal(t, []string{"cool song"}, resolver.queries)
}
