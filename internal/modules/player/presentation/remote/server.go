package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cadenza-bot/cadenza/internal/modules/player/application"
	"github.com/cadenza-bot/cadenza/internal/modules/player/application/ports"
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

const (
	// writeWait is the deadline for a single outbound frame.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// considered dead. pingPeriod must be shorter.
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 4096

	// sendBufferSize bounds the per-client outbound queue.
	sendBufferSize = 64

	// commandRate caps inbound frames per client.
	commandRate  = 10 // per second
	commandBurst = 20

	// resolveTimeout caps the backend lookup for a queried track.
	resolveTimeout = 15 * time.Second
)

// Host serves the remote control WebSocket endpoint.
type Host struct {
	ingress  *application.Ingress
	registry *application.Registry
	broker   *application.Broadcaster
	resolver ports.TrackResolver
	log      zerolog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// NewHost creates a Host listening on addr once Start is called.
func NewHost(
	addr string,
	ingress *application.Ingress,
	registry *application.Registry,
	broker *application.Broadcaster,
	resolver ports.TrackResolver,
) *Host {
	h := &Host{
		ingress:  ingress,
		registry: registry,
		broker:   broker,
		resolver: resolver,
		log:      log.With().Str("component", "remote").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The host binds to an operator-controlled address; origin
			// enforcement is left to the deployment.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	h.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return h
}

// resolveEnqueue fills in the track for an enqueue command that carries a
// query. Remote clients cannot produce encoded track data, so like the
// Discord path they send a URL or search term and the host resolves it
// before dispatch. Commands of any other kind pass through untouched.
func (h *Host) resolveEnqueue(ctx context.Context, cmd *domain.Command) error {
	if cmd.Kind != domain.CommandEnqueue {
		return nil
	}
	if cmd.Track != nil && cmd.Track.IsValid() {
		return nil
	}
	if cmd.Query == "" {
		return errors.Wrap(domain.ErrInvalidCommand, "enqueue requires a query")
	}

	track, err := h.resolver.ResolveTrack(ctx, cmd.Query)
	if err != nil {
		return errors.Wrap(err, "resolve track")
	}
	cmd.Track = track
	return nil
}

// Start begins serving in a background goroutine.
func (h *Host) Start() {
	go func() {
		h.log.Info().Str("address", h.server.Addr).Msg("remote control host listening")
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error().Err(err).Msg("remote control host failed")
		}
	}()
}

// Close shuts the listener down and disconnects all clients.
func (h *Host) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

func (h *Host) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:      uuid.NewString(),
		host:    h,
		conn:    conn,
		send:    make(chan OutboundMessage, sendBufferSize),
		subs:    make(map[snowflake.ID]*application.Observer),
		limiter: rate.NewLimiter(rate.Limit(commandRate), commandBurst),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	h.log.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("client connected")

	c.send <- helloMessage(c.id)

	go c.writePump()
	go c.readPump()
}

func (h *Host) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

// client is one WebSocket connection. The read pump owns subs; the write
// pump owns the connection's write side.
type client struct {
	id   string
	host *Host
	conn *websocket.Conn

	send    chan OutboundMessage
	limiter *rate.Limiter

	subsMu sync.Mutex
	subs   map[snowflake.ID]*application.Observer

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.subsMu.Lock()
		for _, obs := range c.subs {
			c.host.broker.Unsubscribe(obs.ID)
		}
		c.subs = nil
		c.subsMu.Unlock()
		close(c.done)
		c.conn.Close()
		c.host.removeClient(c)
		c.host.log.Info().Str("client", c.id).Msg("client disconnected")
	})
}

// enqueue offers a message to the write pump without blocking. A full
// queue is reported as an error so the broadcaster can resync later.
func (c *client) enqueue(msg OutboundMessage) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errors.New("client closed")
	default:
		return errors.New("client send queue full")
	}
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg InboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.host.log.Warn().Str("client", c.id).Err(err).Msg("read failed")
			}
			return
		}

		if !c.limiter.Allow() {
			_ = c.enqueue(errorMessage("rate limit exceeded"))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *client) handleMessage(msg InboundMessage) {
	switch msg.Type {
	case TypeCommand:
		c.handleCommand(msg)
	case TypeSubscribe:
		c.handleSubscribe(msg)
	case TypeUnsubscribe:
		c.handleUnsubscribe(msg)
	default:
		_ = c.enqueue(errorMessage("unknown message type"))
	}
}

func (c *client) handleCommand(msg InboundMessage) {
	if msg.Command == nil {
		_ = c.enqueue(resultMessage(msg.ID, domain.ErrInvalidCommand))
		return
	}

	cmd := *msg.Command
	if cmd.GuildID == 0 {
		cmd.GuildID = msg.GuildID
	}
	cmd.Origin = domain.Origin{
		Source:   domain.OriginRemote,
		ClientID: c.id,
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	err := c.host.resolveEnqueue(ctx, &cmd)
	cancel()
	if err != nil {
		_ = c.enqueue(resultMessage(msg.ID, err))
		return
	}

	ctx, cancel = context.WithTimeout(context.Background(), writeWait)
	err = c.host.ingress.Dispatch(ctx, cmd)
	cancel()

	if err != nil {
		c.host.log.Debug().
			Str("client", c.id).
			Str("command", string(cmd.Kind)).
			Err(err).
			Msg("command rejected")
	}

	_ = c.enqueue(resultMessage(msg.ID, err))
}

// handleSubscribe attaches the client to a guild's state stream. The
// current state is sent inline; a nil state means no active session.
func (c *client) handleSubscribe(msg InboundMessage) {
	if msg.GuildID == 0 {
		_ = c.enqueue(resultMessage(msg.ID, domain.ErrInvalidCommand))
		return
	}

	c.subsMu.Lock()
	_, exists := c.subs[msg.GuildID]
	closed := c.subs == nil
	c.subsMu.Unlock()
	if closed {
		return
	}
	if exists {
		_ = c.enqueue(resultMessage(msg.ID, nil))
		return
	}

	var snapshot *domain.PlayerState
	if engine := c.host.registry.Get(msg.GuildID); engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		state, err := engine.State(ctx)
		cancel()
		if err == nil {
			snapshot = &state
		}
	}

	obs := c.host.broker.Subscribe(msg.GuildID, c.sink())
	c.subsMu.Lock()
	if c.subs == nil {
		c.subsMu.Unlock()
		c.host.broker.Unsubscribe(obs.ID)
		return
	}
	c.subs[msg.GuildID] = obs
	c.subsMu.Unlock()

	_ = c.enqueue(resultMessage(msg.ID, nil))
	_ = c.enqueue(OutboundMessage{
		Type:    TypeState,
		GuildID: msg.GuildID,
		State:   snapshot,
	})
}

func (c *client) handleUnsubscribe(msg InboundMessage) {
	c.subsMu.Lock()
	obs, exists := c.subs[msg.GuildID]
	if exists {
		delete(c.subs, msg.GuildID)
	}
	c.subsMu.Unlock()
	if exists {
		c.host.broker.Unsubscribe(obs.ID)
	}
	_ = c.enqueue(resultMessage(msg.ID, nil))
}

// sink adapts the state stream to outbound frames. Errors propagate to
// the broadcaster, which downgrades the observer to a full resync.
func (c *client) sink() ports.Sink {
	return ports.SinkFunc(func(msg ports.SyncMessage) error {
		switch msg.Kind {
		case ports.SyncSnapshot:
			return c.enqueue(OutboundMessage{
				Type:    TypeState,
				GuildID: msg.Snapshot.GuildID,
				State:   msg.Snapshot,
			})
		case ports.SyncDiff:
			return c.enqueue(OutboundMessage{
				Type:    TypeDiff,
				GuildID: msg.Diff.GuildID,
				Diff:    msg.Diff,
			})
		case ports.SyncSessionStarted:
			return c.enqueue(OutboundMessage{
				Type:    TypeSession,
				GuildID: msg.Started.GuildID,
				Event:   "started",
			})
		case ports.SyncSessionEnded:
			return c.enqueue(OutboundMessage{
				Type:    TypeSession,
				GuildID: msg.Ended.GuildID,
				Event:   "ended",
				Reason:  msg.Ended.Reason,
			})
		default:
			return nil
		}
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
