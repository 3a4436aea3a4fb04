package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cadenza-bot/cadenza/internal/modules/player/application/ports"
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// EngineConfig tunes a guild engine.
type EngineConfig struct {
	QueueCapacity     int
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	CommandBuffer     int
}

// Defaults for EngineConfig.
const (
	DefaultReconnectAttempts = 3
	DefaultReconnectBackoff  = 2 * time.Second
	DefaultCommandBuffer     = 64

	backendCallTimeout = 10 * time.Second
)

func (c EngineConfig) withDefaults() EngineConfig {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = domain.DefaultQueueCapacity
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = DefaultCommandBuffer
	}
	return c
}

// ErrEngineStopped is returned when submitting to a torn-down engine.
var ErrEngineStopped = errors.New("engine stopped")

// submission is one unit of work for the engine loop. Exactly one of
// cmd, event, reconnect, query, teardown is set.
type submission struct {
	cmd       *domain.Command
	event     *ports.BackendEvent
	reconnect *reconnectResult
	query     chan domain.PlayerState
	teardown  domain.SessionEndReason

	reply chan error
}

type reconnectResult struct {
	attempt int
	err     error
}

// Engine is the authoritative player state machine for one guild.
//
// All mutations flow through a single buffered channel consumed by one
// goroutine: commands for the same guild are processed in arrival order
// with mutual exclusion, and backend notifications interleave with user
// commands on the same channel. Different guilds run fully independently.
type Engine struct {
	guildID     snowflake.ID
	backend     ports.Backend
	broadcaster *Broadcaster
	cfg         EngineConfig
	log         zerolog.Logger

	// onTeardown removes the engine from the registry. Set once at creation.
	onTeardown func(guildID snowflake.ID)

	submissions chan submission
	done        chan struct{}
	stopOnce    sync.Once

	// inflightCancel aborts the backend call currently executing in the
	// loop. Written by the loop, triggered by Do for Stop/Disconnect.
	inflightMu     sync.Mutex
	inflightCancel context.CancelFunc

	lastActivity atomic.Int64 // unix nano of the last user command

	// Loop-owned; never touched outside the run goroutine.
	state       domain.PlayerState
	queue       domain.Queue
	seq         uint64
	channelID   snowflake.ID
	resumePhase domain.Phase
}

// NewEngine creates and starts an engine for the given guild.
func NewEngine(
	guildID snowflake.ID,
	backend ports.Backend,
	broadcaster *Broadcaster,
	cfg EngineConfig,
	onTeardown func(guildID snowflake.ID),
) *Engine {
	cfg = cfg.withDefaults()

	e := &Engine{
		guildID:     guildID,
		backend:     backend,
		broadcaster: broadcaster,
		cfg:         cfg,
		log:         log.With().Str("component", "engine").Stringer("guild", guildID).Logger(),
		onTeardown:  onTeardown,
		submissions: make(chan submission, cfg.CommandBuffer),
		done:        make(chan struct{}),
		state: domain.PlayerState{
			GuildID: guildID,
			Phase:   domain.PhaseIdle,
			Volume:  100,
		},
		queue: domain.NewQueue(cfg.QueueCapacity),
	}
	e.lastActivity.Store(time.Now().UnixNano())

	go e.run()

	return e
}

// GuildID returns the guild this engine serves.
func (e *Engine) GuildID() snowflake.ID {
	return e.guildID
}

// Do submits a command and waits for its result. Commands are applied in
// submission order; a Stop or Disconnect additionally aborts any backend
// call in flight so it cannot wait behind a hung network round-trip.
func (e *Engine) Do(ctx context.Context, cmd domain.Command) error {
	if cmd.Kind == domain.CommandStop || cmd.Kind == domain.CommandDisconnect {
		e.cancelInflight()
	}
	e.lastActivity.Store(time.Now().UnixNano())

	sub := submission{cmd: &cmd, reply: make(chan error, 1)}
	return e.submit(ctx, sub)
}

// Notify injects a backend notification. Position ticks are dropped when
// the buffer is full: they are periodic and the next tick corrects the
// position anyway. Every other event changes playback state (a dropped
// TrackFinished would leave the engine stuck on a finished track), so
// those wait for buffer space instead.
func (e *Engine) Notify(event ports.BackendEvent) {
	sub := submission{event: &event, reply: make(chan error, 1)}

	if event.Kind == ports.BackendPositionTick {
		select {
		case e.submissions <- sub:
		case <-e.done:
		default:
		}
		return
	}

	select {
	case e.submissions <- sub:
	case <-e.done:
	}
}

// State returns a snapshot of the current player state.
func (e *Engine) State(ctx context.Context) (domain.PlayerState, error) {
	sub := submission{query: make(chan domain.PlayerState, 1), reply: make(chan error, 1)}
	if err := e.submit(ctx, sub); err != nil {
		return domain.PlayerState{}, err
	}
	return <-sub.query, nil
}

// RequestTeardown asks the engine to end its session with the given
// reason. Used by the registry's idle reaper and module shutdown.
func (e *Engine) RequestTeardown(ctx context.Context, reason domain.SessionEndReason) error {
	e.cancelInflight()
	sub := submission{teardown: reason, reply: make(chan error, 1)}
	return e.submit(ctx, sub)
}

// IdleSince returns the time of the last user command.
func (e *Engine) IdleSince() time.Time {
	return time.Unix(0, e.lastActivity.Load())
}

func (e *Engine) submit(ctx context.Context, sub submission) error {
	select {
	case e.submissions <- sub:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-sub.reply:
		return err
	case <-e.done:
		// The final command before shutdown replies before done closes;
		// prefer that reply over the stop signal.
		select {
		case err := <-sub.reply:
			return err
		default:
			return ErrEngineStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the engine loop without emitting session events. Teardown
// paths that should notify observers go through RequestTeardown instead.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

func (e *Engine) cancelInflight() {
	e.inflightMu.Lock()
	cancel := e.inflightCancel
	e.inflightMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) run() {
	for {
		select {
		case <-e.done:
			return
		case sub := <-e.submissions:
			stopped := e.handle(sub)
			if stopped {
				e.stopOnce.Do(func() { close(e.done) })
				return
			}
		}
	}
}

// handle processes one submission and replies. Returns true when the
// engine tore its session down and must stop.
func (e *Engine) handle(sub submission) bool {
	switch {
	case sub.query != nil:
		snapshot := e.snapshot()
		sub.query <- snapshot
		sub.reply <- nil
		return false

	case sub.teardown != "":
		e.teardown(sub.teardown)
		sub.reply <- nil
		return true

	case sub.event != nil:
		stopped := e.handleBackendEvent(*sub.event)
		sub.reply <- nil
		return stopped

	case sub.reconnect != nil:
		stopped := e.handleReconnect(*sub.reconnect)
		sub.reply <- nil
		return stopped

	case sub.cmd != nil:
		stopped, err := e.handleCommand(*sub.cmd)
		sub.reply <- err
		return stopped
	}

	sub.reply <- nil
	return false
}

func (e *Engine) handleCommand(cmd domain.Command) (bool, error) {
	e.log.Debug().
		Str("kind", string(cmd.Kind)).
		Str("source", string(cmd.Origin.Source)).
		Msg("applying command")

	switch cmd.Kind {
	case domain.CommandJoin:
		return false, e.handleJoin(cmd.ChannelID)
	case domain.CommandEnqueue:
		return false, e.handleEnqueue(cmd.Track)
	case domain.CommandSkip:
		return false, e.handleSkip()
	case domain.CommandPrevious:
		return false, e.handlePrevious()
	case domain.CommandPause:
		return false, e.handlePause()
	case domain.CommandResume:
		return false, e.handleResume()
	case domain.CommandStop:
		return false, e.handleStop()
	case domain.CommandSetVolume:
		return false, e.handleSetVolume(cmd.Volume)
	case domain.CommandSetMode:
		return false, e.handleSetMode(cmd.Mode)
	case domain.CommandSeek:
		return false, e.handleSeek(cmd.Offset)
	case domain.CommandReorder:
		return false, e.handleReorder(cmd.From, cmd.To)
	case domain.CommandRemove:
		return false, e.handleRemove(cmd.Position)
	case domain.CommandClear:
		return false, e.handleClear()
	case domain.CommandDisconnect:
		if e.state.Phase == domain.PhaseIdle {
			return false, domain.ErrNoActiveSession
		}
		if err := e.backendCall(func(ctx context.Context) error {
			return e.backend.Leave(ctx, e.guildID)
		}); err != nil {
			e.log.Warn().Err(err).Msg("backend leave failed during disconnect")
		}
		e.teardown(domain.EndReasonRequested)
		return true, nil
	default:
		return false, domain.ErrInvalidCommand
	}
}

func (e *Engine) handleJoin(channelID snowflake.ID) error {
	if e.state.Phase.IsActive() || e.state.Phase == domain.PhaseConnecting {
		// Already in a session; treat as a channel move request.
		if channelID != 0 && channelID != e.channelID {
			if err := e.backendCall(func(ctx context.Context) error {
				return e.backend.Join(ctx, e.guildID, channelID)
			}); err != nil {
				return errors.Wrap(err, "voice join")
			}
			e.channelID = channelID
		}
		return nil
	}

	e.channelID = channelID
	e.state.Phase = domain.PhaseConnecting
	e.publish()

	if err := e.backendCall(func(ctx context.Context) error {
		return e.backend.Join(ctx, e.guildID, channelID)
	}); err != nil {
		e.state.Phase = domain.PhaseIdle
		e.publish()
		return errors.Wrap(err, "voice join")
	}

	e.state.Phase = domain.PhasePaused
	e.state.Connected = true
	e.publish()

	e.broadcaster.PublishSessionStarted(domain.SessionStartedEvent{
		GuildID:   e.guildID,
		ChannelID: channelID,
	})
	e.log.Info().Stringer("channel", channelID).Msg("session started")

	return nil
}

func (e *Engine) handleEnqueue(track *domain.Track) error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if track == nil {
		return domain.ErrInvalidCommand
	}

	e.seq++
	t := *track
	t.AddedAt = e.seq

	if _, err := e.queue.Enqueue(t); err != nil {
		return err
	}

	// Keep playing through an idle-playing phase; a paused player stays
	// paused until an explicit resume.
	if e.state.Phase == domain.PhasePlaying && e.state.Current == nil {
		if err := e.startNext(); err != nil {
			e.publish()
			return err
		}
	}

	e.publish()
	return nil
}

func (e *Engine) handleResume() error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if e.state.Phase == domain.PhasePlaying {
		return nil
	}

	if e.state.Current != nil {
		if err := e.backendCall(func(ctx context.Context) error {
			return e.backend.Resume(ctx, e.guildID)
		}); err != nil {
			return errors.Wrap(err, "resume")
		}
		e.state.Phase = domain.PhasePlaying
		e.publish()
		return nil
	}

	if e.queue.IsEmpty() {
		// Nothing to play; stay paused with no observable change.
		return nil
	}

	if err := e.startNext(); err != nil {
		return err
	}
	e.publish()
	return nil
}

func (e *Engine) handlePause() error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if e.state.Phase != domain.PhasePlaying || e.state.Current == nil {
		return domain.ErrNotPlaying
	}

	if err := e.backendCall(func(ctx context.Context) error {
		return e.backend.Pause(ctx, e.guildID)
	}); err != nil {
		return errors.Wrap(err, "pause")
	}

	e.state.Phase = domain.PhasePaused
	e.publish()
	return nil
}

func (e *Engine) handleSkip() error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if e.state.Current == nil {
		return domain.ErrNotPlaying
	}

	finished := *e.state.Current
	if e.state.Mode == domain.ModeRepeatQueue {
		e.queue.Reappend(finished)
	} else {
		e.queue.PushHistory(finished)
	}
	e.state.Current = nil
	e.state.Position = 0

	// A skip always moves forward, even in repeat-track mode.
	mode := e.state.Mode
	if mode == domain.ModeRepeatTrack {
		mode = domain.ModeNormal
	}

	if next := e.queue.DequeueNext(mode); next != nil {
		if err := e.startTrack(next); err != nil {
			e.queue.Requeue(*next)
			e.publish()
			return err
		}
	} else {
		if err := e.backendCall(func(ctx context.Context) error {
			return e.backend.Stop(ctx, e.guildID)
		}); err != nil {
			e.log.Warn().Err(err).Msg("backend stop failed during skip")
		}
	}

	e.publish()
	return nil
}

func (e *Engine) handlePrevious() error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}

	prev := e.queue.PopHistory()
	if prev == nil {
		return domain.ErrNotPlaying
	}
	if e.state.Current != nil {
		e.queue.Requeue(*e.state.Current)
		e.state.Current = nil
	}

	if err := e.startTrack(prev); err != nil {
		e.queue.PushHistory(*prev)
		e.publish()
		return err
	}

	e.publish()
	return nil
}

func (e *Engine) handleStop() error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if e.state.Current == nil {
		return domain.ErrNotPlaying
	}

	if err := e.backendCall(func(ctx context.Context) error {
		return e.backend.Stop(ctx, e.guildID)
	}); err != nil {
		return errors.Wrap(err, "stop")
	}

	e.queue.PushHistory(*e.state.Current)
	e.state.Current = nil
	e.state.Position = 0
	e.state.Phase = domain.PhasePaused
	e.publish()
	return nil
}

func (e *Engine) handleSetVolume(volume int) error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	if volume == e.state.Volume {
		return nil
	}

	if err := e.backendCall(func(ctx context.Context) error {
		return e.backend.SetVolume(ctx, e.guildID, volume)
	}); err != nil {
		return errors.Wrap(err, "set volume")
	}

	e.state.Volume = volume
	e.publish()
	return nil
}

func (e *Engine) handleSetMode(mode domain.PlaybackMode) error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if mode == e.state.Mode {
		return nil
	}
	e.state.Mode = mode
	e.publish()
	return nil
}

func (e *Engine) handleSeek(offset time.Duration) error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if e.state.Current == nil {
		return domain.ErrNotPlaying
	}
	if offset < 0 || offset > e.state.Current.Duration {
		return domain.ErrSeekOutOfRange
	}

	if err := e.backendCall(func(ctx context.Context) error {
		return e.backend.Seek(ctx, e.guildID, offset)
	}); err != nil {
		return errors.Wrap(err, "seek")
	}

	e.state.Position = offset
	e.publish()
	return nil
}

func (e *Engine) handleReorder(from, to int) error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if err := e.queue.Move(from, to); err != nil {
		return err
	}
	e.publish()
	return nil
}

func (e *Engine) handleRemove(pos int) error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if _, err := e.queue.RemoveAt(pos); err != nil {
		return err
	}
	e.publish()
	return nil
}

func (e *Engine) handleClear() error {
	if !e.state.Phase.IsActive() {
		return domain.ErrNoActiveSession
	}
	if e.queue.IsEmpty() {
		return nil
	}
	e.queue.Clear()
	e.publish()
	return nil
}

func (e *Engine) handleBackendEvent(event ports.BackendEvent) bool {
	switch event.Kind {
	case ports.BackendTrackStarted:
		// Playback start is applied synchronously when the engine issues
		// the command; the confirmation needs no state change.
		e.log.Debug().Msg("backend confirmed track start")
		return false

	case ports.BackendTrackFinished:
		if !event.Natural {
			// Forced stops and replacements were already applied by the
			// command that caused them.
			return false
		}
		e.advanceAfterFinish()
		return false

	case ports.BackendPositionTick:
		if e.state.Current == nil || e.state.Position == event.Offset {
			return false
		}
		e.state.Position = event.Offset
		e.publish()
		return false

	case ports.BackendDisconnected:
		return e.handleBackendDisconnected()
	}
	return false
}

// advanceAfterFinish applies a natural track completion per the playback
// mode and starts the next track, if any.
func (e *Engine) advanceAfterFinish() {
	if e.state.Current == nil || e.state.Phase != domain.PhasePlaying {
		return
	}

	finished := *e.state.Current

	if e.state.Mode == domain.ModeRepeatTrack {
		e.state.Position = 0
		if err := e.startTrack(&finished); err != nil {
			e.log.Error().Err(err).Msg("failed to replay track")
			e.state.Current = nil
		}
		e.publish()
		return
	}

	if e.state.Mode == domain.ModeRepeatQueue {
		e.queue.Reappend(finished)
	} else {
		e.queue.PushHistory(finished)
	}
	e.state.Current = nil
	e.state.Position = 0

	if next := e.queue.DequeueNext(e.state.Mode); next != nil {
		if err := e.startTrack(next); err != nil {
			e.log.Error().Err(err).Str("title", next.Title).Msg("failed to start next track")
			e.queue.Requeue(*next)
			e.state.Current = nil
		}
	}

	e.publish()
}

func (e *Engine) handleBackendDisconnected() bool {
	if !e.state.Phase.IsActive() {
		return false
	}

	e.resumePhase = e.state.Phase
	e.state.Phase = domain.PhaseDisconnected
	e.state.Connected = false
	e.publish()

	e.log.Warn().Msg("voice link lost, scheduling reconnect")
	e.scheduleReconnect(1)
	return false
}

// scheduleReconnect runs one backoff-delayed reconnect attempt off the
// loop so other guilds and queued submissions are not blocked by it.
// Called only from the loop; loop-owned fields are captured here, never
// read from the spawned goroutine.
func (e *Engine) scheduleReconnect(attempt int) {
	delay := e.cfg.ReconnectBackoff << (attempt - 1)
	channelID := e.channelID

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-e.done:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), backendCallTimeout)
		err := e.backend.Join(ctx, e.guildID, channelID)
		cancel()

		sub := submission{reconnect: &reconnectResult{attempt: attempt, err: err}, reply: make(chan error, 1)}
		select {
		case e.submissions <- sub:
		case <-e.done:
		}
	}()
}

func (e *Engine) handleReconnect(result reconnectResult) bool {
	if e.state.Phase != domain.PhaseDisconnected {
		// A command (e.g. Disconnect) changed the phase while the attempt
		// was in flight; the result is stale.
		return false
	}

	if result.err == nil {
		e.log.Info().Int("attempt", result.attempt).Msg("voice link restored")
		e.state.Connected = true
		e.state.Phase = e.resumePhase

		if e.state.Current != nil && e.state.Phase == domain.PhasePlaying {
			track := *e.state.Current
			position := e.state.Position
			if err := e.backendCall(func(ctx context.Context) error {
				if err := e.backend.Start(ctx, e.guildID, &track); err != nil {
					return err
				}
				if position > 0 {
					return e.backend.Seek(ctx, e.guildID, position)
				}
				return nil
			}); err != nil {
				e.log.Warn().Err(err).Msg("failed to restore playback after reconnect")
			}
		}

		e.publish()
		return false
	}

	if result.attempt >= e.cfg.ReconnectAttempts {
		e.log.Error().
			Int("attempts", result.attempt).
			Err(result.err).
			Msg("reconnect attempts exhausted, ending session")
		e.teardown(domain.EndReasonBackendUnavailable)
		return true
	}

	e.log.Warn().
		Int("attempt", result.attempt).
		Err(result.err).
		Msg("reconnect attempt failed")
	e.scheduleReconnect(result.attempt + 1)
	return false
}

// startNext dequeues and starts the next track. Leaves the queue
// unchanged on failure.
func (e *Engine) startNext() error {
	next := e.queue.DequeueNext(e.state.Mode)
	if next == nil {
		return nil
	}
	if err := e.startTrack(next); err != nil {
		e.queue.Requeue(*next)
		return err
	}
	return nil
}

// startTrack starts playback of a track and updates current/position/phase.
func (e *Engine) startTrack(track *domain.Track) error {
	if err := e.backendCall(func(ctx context.Context) error {
		return e.backend.Start(ctx, e.guildID, track)
	}); err != nil {
		return errors.Wrap(err, "start track")
	}
	t := *track
	e.state.Current = &t
	e.state.Position = 0
	e.state.Phase = domain.PhasePlaying
	return nil
}

// backendCall runs a backend operation with a cancellable context. A
// cancelled call has an ambiguous outcome; per the adapter contract we
// assume not-started and re-issue a stop to converge.
func (e *Engine) backendCall(f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), backendCallTimeout)

	e.inflightMu.Lock()
	e.inflightCancel = cancel
	e.inflightMu.Unlock()

	err := f(ctx)

	e.inflightMu.Lock()
	e.inflightCancel = nil
	e.inflightMu.Unlock()
	cancel()

	if err != nil && errors.Is(err, context.Canceled) {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), backendCallTimeout)
		if stopErr := e.backend.Stop(stopCtx, e.guildID); stopErr != nil {
			e.log.Warn().Err(stopErr).Msg("converging stop after cancelled backend call failed")
		}
		stopCancel()
	}

	return err
}

// teardown ends the session: all per-guild state is cleared, observers
// are notified, and the registry entry is removed.
func (e *Engine) teardown(reason domain.SessionEndReason) {
	e.log.Info().Str("reason", string(reason)).Msg("session ended")

	e.queue = domain.NewQueue(e.cfg.QueueCapacity)
	e.state.Current = nil
	e.state.Position = 0
	e.state.Phase = domain.PhaseIdle
	e.state.Connected = false
	e.publish()

	e.broadcaster.PublishSessionEnded(domain.SessionEndedEvent{
		GuildID: e.guildID,
		Reason:  reason,
	})

	if e.onTeardown != nil {
		e.onTeardown(e.guildID)
	}
}

// publish bumps the revision and hands the snapshot to the broadcaster.
// Called after every observable mutation, before the command's reply.
func (e *Engine) publish() {
	e.state.Revision++
	e.state.Tracks = e.queue.Tracks()
	e.state.History = e.queue.History()
	e.broadcaster.Publish(e.snapshot())
}

func (e *Engine) snapshot() domain.PlayerState {
	e.state.Tracks = e.queue.Tracks()
	e.state.History = e.queue.History()
	return e.state.Clone()
}
