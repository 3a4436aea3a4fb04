package discord

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cadenza-bot/cadenza/internal/modules/player/application"
	"github.com/cadenza-bot/cadenza/internal/modules/player/application/ports"
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// Notifier posts playback notifications to a guild text channel. It is a
// state observer like any remote client: it subscribes to the broadcaster
// and reacts to track changes rather than to individual commands.
type Notifier struct {
	session     *discordgo.Session
	broadcaster *application.Broadcaster
	log         zerolog.Logger

	mu        sync.Mutex
	channels  map[snowflake.ID]snowflake.ID
	observers map[snowflake.ID]*application.Observer
	lastTrack map[snowflake.ID]domain.TrackID
}

// NewNotifier creates a Notifier.
func NewNotifier(session *discordgo.Session, broadcaster *application.Broadcaster) *Notifier {
	return &Notifier{
		session:     session,
		broadcaster: broadcaster,
		log:         log.With().Str("component", "notifier").Logger(),
		channels:    make(map[snowflake.ID]snowflake.ID),
		observers:   make(map[snowflake.ID]*application.Observer),
		lastTrack:   make(map[snowflake.ID]domain.TrackID),
	}
}

// SetChannel records the text channel notifications go to and subscribes
// to the guild's state stream if not already subscribed.
func (n *Notifier) SetChannel(guildID, channelID snowflake.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.channels[guildID] = channelID

	if _, subscribed := n.observers[guildID]; !subscribed {
		n.observers[guildID] = n.broadcaster.Subscribe(guildID, n.guildSink(guildID))
	}
}

// Close unsubscribes all guild observers.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for guildID, obs := range n.observers {
		n.broadcaster.Unsubscribe(obs.ID)
		delete(n.observers, guildID)
	}
}

func (n *Notifier) guildSink(guildID snowflake.ID) ports.Sink {
	return ports.SinkFunc(func(msg ports.SyncMessage) error {
		n.handleSync(guildID, msg)
		return nil
	})
}

func (n *Notifier) handleSync(guildID snowflake.ID, msg ports.SyncMessage) {
	switch msg.Kind {
	case ports.SyncSnapshot:
		if msg.Snapshot == nil {
			return
		}
		n.onCurrentTrack(guildID, msg.Snapshot.Current)
	case ports.SyncDiff:
		if msg.Diff == nil || msg.Diff.Current == nil {
			return
		}
		n.onCurrentTrack(guildID, msg.Diff.Current.Track)
	case ports.SyncSessionEnded:
		if msg.Ended != nil && msg.Ended.Reason == domain.EndReasonIdle {
			n.post(guildID, "Disconnected after being idle.")
		}
		n.forget(guildID)
	}
}

// onCurrentTrack posts a Now Playing message when the track actually
// changed. Snapshots repeat the current track, so it is deduplicated.
func (n *Notifier) onCurrentTrack(guildID snowflake.ID, track *domain.Track) {
	n.mu.Lock()
	last := n.lastTrack[guildID]
	if track == nil {
		delete(n.lastTrack, guildID)
	} else {
		n.lastTrack[guildID] = track.ID
	}
	n.mu.Unlock()

	if track == nil || track.ID == last {
		return
	}

	var description string
	if track.SourceURI != "" {
		description = fmt.Sprintf("[%s](%s) - %s", track.Title, track.SourceURI, track.Artist)
	} else {
		description = fmt.Sprintf("**%s** - %s", track.Title, track.Artist)
	}

	n.postEmbed(guildID, &discordgo.MessageEmbed{
		Title:       "Now Playing",
		Description: description,
		Color:       colorSuccess,
		Footer: &discordgo.MessageEmbedFooter{
			Text: track.FormattedDuration(),
		},
	})
}

func (n *Notifier) forget(guildID snowflake.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if obs, ok := n.observers[guildID]; ok {
		n.broadcaster.Unsubscribe(obs.ID)
		delete(n.observers, guildID)
	}
	delete(n.channels, guildID)
	delete(n.lastTrack, guildID)
}

func (n *Notifier) post(guildID snowflake.ID, message string) {
	n.postEmbed(guildID, &discordgo.MessageEmbed{
		Description: message,
		Color:       colorSuccess,
	})
}

func (n *Notifier) postEmbed(guildID snowflake.ID, embed *discordgo.MessageEmbed) {
	n.mu.Lock()
	channelID, ok := n.channels[guildID]
	n.mu.Unlock()
	if !ok {
		return
	}

	_, err := n.session.ChannelMessageSendEmbed(channelID.String(), embed)
	if err != nil {
		n.log.Warn().
			Stringer("guild", guildID).
			Err(err).
			Msg("failed to send notification")
	}
}
