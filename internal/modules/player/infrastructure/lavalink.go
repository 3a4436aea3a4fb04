package infrastructure

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cadenza-bot/cadenza/internal/modules/player/application/ports"
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

const (
	// voiceConnectionTimeout caps the wait for both voice events after a join.
	voiceConnectionTimeout = 10 * time.Second

	// positionTickInterval is the cadence of position reports to engines.
	positionTickInterval = time.Second

	// eventBufferSize bounds the backend event channel.
	eventBufferSize = 256
)

// ErrNoResults is returned when a track query resolves to nothing.
var ErrNoResults = errors.New("no results found")

// pendingVoiceConnection tracks the state of a pending voice connection.
type pendingVoiceConnection struct {
	mu             sync.Mutex
	hasVoiceState  bool
	hasVoiceServer bool
	ready          chan struct{}
}

// onEvent marks an event as received and signals ready once both are present.
func (p *pendingVoiceConnection) onEvent(isVoiceState bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if isVoiceState {
		p.hasVoiceState = true
	} else {
		p.hasVoiceServer = true
	}

	if p.hasVoiceState && p.hasVoiceServer {
		select {
		case <-p.ready:
		default:
			close(p.ready)
		}
	}
}

// voiceEventBuffer pairs VoiceStateUpdate with VoiceServerUpdate before
// forwarding to Lavalink, since Discord delivers them in either order.
type voiceEventBuffer struct {
	mu sync.Mutex

	hasVoiceState bool
	channelID     *snowflake.ID
	sessionID     string

	hasVoiceServer bool
	token          string
	endpoint       string
}

func (b *voiceEventBuffer) setVoiceState(channelID *snowflake.ID, sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hasVoiceState = true
	b.channelID = channelID
	b.sessionID = sessionID

	return b.hasVoiceState && b.hasVoiceServer
}

func (b *voiceEventBuffer) setVoiceServer(token, endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hasVoiceServer = true
	b.token = token
	b.endpoint = endpoint

	return b.hasVoiceState && b.hasVoiceServer
}

func (b *voiceEventBuffer) getData() (channelID *snowflake.ID, sessionID, token, endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channelID = b.channelID
	sessionID = b.sessionID
	token = b.token
	endpoint = b.endpoint

	b.hasVoiceState = false
	b.hasVoiceServer = false
	b.channelID = nil
	b.sessionID = ""
	b.token = ""
	b.endpoint = ""

	return
}

// LavalinkBackend implements the playback backend boundary on a Lavalink
// node via DisGoLink. It executes commands and reports outcomes; queue
// decisions stay with the engines.
type LavalinkBackend struct {
	link    disgolink.Client
	session *discordgo.Session
	botID   snowflake.ID
	log     zerolog.Logger

	events chan ports.BackendEvent

	pendingMu sync.Mutex
	pending   map[snowflake.ID]*pendingVoiceConnection

	voiceBufferMu sync.Mutex
	voiceBuffers  map[snowflake.ID]*voiceEventBuffer

	// playing holds guilds with an active track, for position ticks.
	playingMu sync.Mutex
	playing   map[snowflake.ID]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// LavalinkConfig contains Lavalink node connection configuration.
type LavalinkConfig struct {
	Address  string
	Password string
}

// NewLavalinkBackend creates a LavalinkBackend and connects the node.
func NewLavalinkBackend(
	session *discordgo.Session,
	config LavalinkConfig,
) (*LavalinkBackend, error) {
	botID, err := snowflake.Parse(session.State.User.ID)
	if err != nil {
		return nil, errors.Wrap(err, "parse bot ID")
	}

	backend := &LavalinkBackend{
		session:      session,
		botID:        botID,
		log:          log.With().Str("component", "lavalink").Logger(),
		events:       make(chan ports.BackendEvent, eventBufferSize),
		pending:      make(map[snowflake.ID]*pendingVoiceConnection),
		voiceBuffers: make(map[snowflake.ID]*voiceEventBuffer),
		playing:      make(map[snowflake.ID]struct{}),
		done:         make(chan struct{}),
	}

	link := disgolink.New(botID,
		disgolink.WithListenerFunc(backend.onTrackStart),
		disgolink.WithListenerFunc(backend.onTrackEnd),
		disgolink.WithListenerFunc(backend.onTrackException),
		disgolink.WithListenerFunc(backend.onTrackStuck),
		disgolink.WithListenerFunc(backend.onWebSocketClosed),
	)
	backend.link = link

	node, err := link.AddNode(context.Background(), disgolink.NodeConfig{
		Name:     "main",
		Address:  config.Address,
		Password: config.Password,
		Secure:   false,
	})
	if err != nil {
		return nil, errors.Wrap(err, "add Lavalink node")
	}

	go backend.tickPositions()

	backend.log.Info().
		Str("node", node.Config().Name).
		Str("address", config.Address).
		Msg("connected to Lavalink")

	return backend, nil
}

// Compile-time interface checks.
var (
	_ ports.Backend       = (*LavalinkBackend)(nil)
	_ ports.TrackResolver = (*LavalinkBackend)(nil)
)

// Events returns the backend notification stream.
func (c *LavalinkBackend) Events() <-chan ports.BackendEvent {
	return c.events
}

// Close stops the position ticker and closes the event stream.
func (c *LavalinkBackend) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.link.Close()
		close(c.events)
	})
}

// Join connects to a voice channel. It waits for both VoiceStateUpdate
// and VoiceServerUpdate before returning.
func (c *LavalinkBackend) Join(ctx context.Context, guildID, channelID snowflake.ID) error {
	pending := &pendingVoiceConnection{
		ready: make(chan struct{}),
	}

	c.pendingMu.Lock()
	c.pending[guildID] = pending
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, guildID)
		c.pendingMu.Unlock()
	}()

	err := c.session.ChannelVoiceJoinManual(guildID.String(), channelID.String(), false, false)
	if err != nil {
		return errors.Wrap(err, "join voice channel")
	}

	select {
	case <-pending.ready:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for voice connection")
	case <-time.After(voiceConnectionTimeout):
		return errors.New("timeout waiting for voice connection")
	}
}

// Leave disconnects from the voice channel and destroys the player.
func (c *LavalinkBackend) Leave(ctx context.Context, guildID snowflake.ID) error {
	c.setPlaying(guildID, false)

	if player := c.link.ExistingPlayer(guildID); player != nil {
		if err := player.Destroy(ctx); err != nil {
			c.log.Warn().Stringer("guild", guildID).Err(err).Msg("failed to destroy player")
		}
	}

	if err := c.session.ChannelVoiceJoinManual(guildID.String(), "", false, false); err != nil {
		return errors.Wrap(err, "leave voice channel")
	}
	return nil
}

// Start begins playback of a track.
func (c *LavalinkBackend) Start(ctx context.Context, guildID snowflake.ID, track *domain.Track) error {
	player := c.link.Player(guildID)

	if err := player.Update(ctx, lavalink.WithEncodedTrack(track.Encoded)); err != nil {
		return errors.Wrap(err, "start track")
	}

	c.setPlaying(guildID, true)
	return nil
}

// Stop stops the current playback.
func (c *LavalinkBackend) Stop(ctx context.Context, guildID snowflake.ID) error {
	player := c.link.Player(guildID)

	if err := player.Update(ctx, lavalink.WithNullTrack()); err != nil {
		return errors.Wrap(err, "stop playback")
	}

	c.setPlaying(guildID, false)
	return nil
}

// Pause pauses the current playback.
func (c *LavalinkBackend) Pause(ctx context.Context, guildID snowflake.ID) error {
	player := c.link.Player(guildID)

	if err := player.Update(ctx, lavalink.WithPaused(true)); err != nil {
		return errors.Wrap(err, "pause playback")
	}

	return nil
}

// Resume resumes the paused playback.
func (c *LavalinkBackend) Resume(ctx context.Context, guildID snowflake.ID) error {
	player := c.link.Player(guildID)

	if err := player.Update(ctx, lavalink.WithPaused(false)); err != nil {
		return errors.Wrap(err, "resume playback")
	}

	return nil
}

// Seek moves playback to the given offset.
func (c *LavalinkBackend) Seek(ctx context.Context, guildID snowflake.ID, offset time.Duration) error {
	player := c.link.Player(guildID)

	if err := player.Update(ctx, lavalink.WithPosition(lavalink.Duration(offset.Milliseconds()))); err != nil {
		return errors.Wrap(err, "seek")
	}

	return nil
}

// SetVolume sets the playback volume.
func (c *LavalinkBackend) SetVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	player := c.link.Player(guildID)

	if err := player.Update(ctx, lavalink.WithVolume(volume)); err != nil {
		return errors.Wrap(err, "set volume")
	}

	return nil
}

// ResolveTrack resolves a query (URL or search term) to a single track.
func (c *LavalinkBackend) ResolveTrack(ctx context.Context, query string) (*domain.Track, error) {
	node := c.link.BestNode()
	if node == nil {
		return nil, errors.New("no available Lavalink node")
	}

	result, err := node.LoadTracks(ctx, lavalinkQuery(query))
	if err != nil {
		return nil, errors.Wrap(err, "load tracks")
	}

	switch data := result.Data.(type) {
	case lavalink.Track:
		return convertTrack(data), nil
	case lavalink.Playlist:
		if len(data.Tracks) == 0 {
			return nil, ErrNoResults
		}
		return convertTrack(data.Tracks[0]), nil
	case lavalink.Search:
		if len(data) == 0 {
			return nil, ErrNoResults
		}
		return convertTrack(data[0]), nil
	default:
		return nil, ErrNoResults
	}
}

// lavalinkQuery prefixes search terms; URLs are passed through.
func lavalinkQuery(query string) string {
	if len(query) >= 7 && (query[:7] == "http://" || (len(query) >= 8 && query[:8] == "https://")) {
		return query
	}
	return "ytsearch:" + query
}

func convertTrack(track lavalink.Track) *domain.Track {
	info := track.Info

	uri := ""
	if info.URI != nil {
		uri = *info.URI
	}

	return &domain.Track{
		ID:        domain.TrackID(info.Identifier),
		Encoded:   track.Encoded,
		SourceURI: uri,
		Title:     info.Title,
		Artist:    info.Author,
		Duration:  time.Duration(info.Length) * time.Millisecond,
		IsStream:  info.IsStream,
	}
}

func (c *LavalinkBackend) setPlaying(guildID snowflake.ID, playing bool) {
	c.playingMu.Lock()
	defer c.playingMu.Unlock()
	if playing {
		c.playing[guildID] = struct{}{}
	} else {
		delete(c.playing, guildID)
	}
}

// tickPositions reports playback positions for active guilds at a fixed
// cadence so engines can keep Position current without per-frame updates.
func (c *LavalinkBackend) tickPositions() {
	ticker := time.NewTicker(positionTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.playingMu.Lock()
			guilds := make([]snowflake.ID, 0, len(c.playing))
			for guildID := range c.playing {
				guilds = append(guilds, guildID)
			}
			c.playingMu.Unlock()

			for _, guildID := range guilds {
				player := c.link.ExistingPlayer(guildID)
				if player == nil || player.Track() == nil {
					continue
				}
				c.emit(ports.BackendEvent{
					GuildID: guildID,
					Kind:    ports.BackendPositionTick,
					Offset:  time.Duration(player.Position()) * time.Millisecond,
				})
			}
		}
	}
}

// emit publishes a backend event without blocking the caller.
func (c *LavalinkBackend) emit(event ports.BackendEvent) {
	select {
	case c.events <- event:
	case <-c.done:
	default:
		c.log.Warn().
			Stringer("guild", event.GuildID).
			Str("event", event.Kind.String()).
			Msg("event buffer full, dropping backend event")
	}
}

func (c *LavalinkBackend) onTrackStart(player disgolink.Player, event lavalink.TrackStartEvent) {
	c.log.Debug().
		Stringer("guild", player.GuildID()).
		Str("track", event.Track.Info.Title).
		Msg("track started")

	c.emit(ports.BackendEvent{
		GuildID: player.GuildID(),
		Kind:    ports.BackendTrackStarted,
	})
}

func (c *LavalinkBackend) onTrackEnd(player disgolink.Player, event lavalink.TrackEndEvent) {
	c.log.Debug().
		Stringer("guild", player.GuildID()).
		Str("reason", string(event.Reason)).
		Msg("track ended")

	natural := event.Reason == lavalink.TrackEndReasonFinished ||
		event.Reason == lavalink.TrackEndReasonLoadFailed

	if natural {
		c.setPlaying(player.GuildID(), false)
	}

	c.emit(ports.BackendEvent{
		GuildID: player.GuildID(),
		Kind:    ports.BackendTrackFinished,
		Natural: natural,
	})
}

func (c *LavalinkBackend) onTrackException(player disgolink.Player, event lavalink.TrackExceptionEvent) {
	c.log.Warn().
		Stringer("guild", player.GuildID()).
		Str("error", event.Exception.Message).
		Msg("track exception")
}

func (c *LavalinkBackend) onTrackStuck(player disgolink.Player, event lavalink.TrackStuckEvent) {
	c.log.Warn().
		Stringer("guild", player.GuildID()).
		Msg("track stuck")
}

func (c *LavalinkBackend) onWebSocketClosed(player disgolink.Player, event lavalink.WebSocketClosedEvent) {
	c.log.Warn().
		Stringer("guild", player.GuildID()).
		Int("code", event.Code).
		Str("reason", event.Reason).
		Msg("voice websocket closed")

	c.setPlaying(player.GuildID(), false)
	c.emit(ports.BackendEvent{
		GuildID: player.GuildID(),
		Kind:    ports.BackendDisconnected,
	})
}

// OnVoiceServerUpdate handles Discord voice server updates.
// Must be wired into the Discord event handlers.
func (c *LavalinkBackend) OnVoiceServerUpdate(event *discordgo.VoiceServerUpdate) {
	guildID, err := snowflake.Parse(event.GuildID)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to parse guild ID in voice server update")
		return
	}

	buffer := c.getOrCreateVoiceBuffer(guildID)
	if buffer.setVoiceServer(event.Token, event.Endpoint) {
		c.forwardBufferedVoiceEvents(guildID, buffer)
	}

	c.pendingMu.Lock()
	pending := c.pending[guildID]
	c.pendingMu.Unlock()

	if pending != nil {
		pending.onEvent(false)
	}
}

// OnVoiceStateUpdate handles Discord voice state updates for the bot itself.
// Must be wired into the Discord event handlers.
func (c *LavalinkBackend) OnVoiceStateUpdate(event *discordgo.VoiceStateUpdate) {
	if event.UserID != c.botID.String() {
		return
	}

	guildID, err := snowflake.Parse(event.GuildID)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to parse guild ID in voice state update")
		return
	}

	var channelID *snowflake.ID
	if event.ChannelID != "" {
		id, err := snowflake.Parse(event.ChannelID)
		if err != nil {
			c.log.Error().Err(err).Msg("failed to parse channel ID in voice state update")
			return
		}
		channelID = &id
	}

	// A nil channel means the bot is disconnecting; no server update follows.
	if channelID == nil {
		c.link.OnVoiceStateUpdate(context.Background(), guildID, nil, event.SessionID)
		c.clearVoiceBuffer(guildID)
		return
	}

	buffer := c.getOrCreateVoiceBuffer(guildID)
	if buffer.setVoiceState(channelID, event.SessionID) {
		c.forwardBufferedVoiceEvents(guildID, buffer)
	}

	c.pendingMu.Lock()
	pending := c.pending[guildID]
	c.pendingMu.Unlock()

	if pending != nil {
		pending.onEvent(true)
	}
}

func (c *LavalinkBackend) getOrCreateVoiceBuffer(guildID snowflake.ID) *voiceEventBuffer {
	c.voiceBufferMu.Lock()
	defer c.voiceBufferMu.Unlock()

	buffer, exists := c.voiceBuffers[guildID]
	if !exists {
		buffer = &voiceEventBuffer{}
		c.voiceBuffers[guildID] = buffer
	}
	return buffer
}

func (c *LavalinkBackend) clearVoiceBuffer(guildID snowflake.ID) {
	c.voiceBufferMu.Lock()
	defer c.voiceBufferMu.Unlock()
	delete(c.voiceBuffers, guildID)
}

func (c *LavalinkBackend) forwardBufferedVoiceEvents(
	guildID snowflake.ID,
	buffer *voiceEventBuffer,
) {
	channelID, sessionID, token, endpoint := buffer.getData()

	c.log.Debug().
		Stringer("guild", guildID).
		Msg("forwarding buffered voice events to Lavalink")

	c.link.OnVoiceStateUpdate(context.Background(), guildID, channelID, sessionID)
	c.link.OnVoiceServerUpdate(context.Background(), guildID, token, endpoint)
}
