package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"

	"github.com/cadenza-bot/cadenza/internal/bot"
	"github.com/cadenza-bot/cadenza/internal/modules/player/application"
	"github.com/cadenza-bot/cadenza/internal/modules/player/application/ports"
	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// Embed colors.
const (
	colorSuccess = 0x08c404
	colorError   = 0xE74C3C
)

// maxListedTracks caps the queue listing to keep embeds under Discord limits.
const maxListedTracks = 15

// CommandHandlers holds all the command handlers.
type CommandHandlers struct {
	ingress  *application.Ingress
	registry *application.Registry
	resolver ports.TrackResolver
	notifier *Notifier
}

// NewCommandHandlers creates new CommandHandlers.
func NewCommandHandlers(
	ingress *application.Ingress,
	registry *application.Registry,
	resolver ports.TrackResolver,
	notifier *Notifier,
) *CommandHandlers {
	return &CommandHandlers{
		ingress:  ingress,
		registry: registry,
		resolver: resolver,
		notifier: notifier,
	}
}

// updateNotificationChannel points playback notifications at the channel
// the interaction came from. Best-effort.
func (h *CommandHandlers) updateNotificationChannel(
	guildID snowflake.ID,
	i *discordgo.InteractionCreate,
) {
	if h.notifier == nil {
		return
	}
	channelID, err := snowflake.Parse(i.ChannelID)
	if err != nil {
		return
	}
	h.notifier.SetChannel(guildID, channelID)
}

// HandleJoin handles the /join command.
func (h *CommandHandlers) HandleJoin(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ctx := context.Background()

	guildID, userID, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, "Invalid interaction")
	}

	var channelID snowflake.ID
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "channel" {
			channelID, err = snowflake.Parse(opt.ChannelValue(s).ID)
			if err != nil {
				return respondError(r, "Invalid voice channel")
			}
		}
	}

	if channelID == 0 {
		channelID, err = userVoiceChannel(s, i.GuildID, i.Member.User.ID)
		if err != nil {
			return respondError(r, "Join a voice channel first, or specify one.")
		}
	}

	h.updateNotificationChannel(guildID, i)

	err = h.ingress.Dispatch(ctx, domain.Command{
		Kind:      domain.CommandJoin,
		GuildID:   guildID,
		ChannelID: channelID,
		Origin:    discordOrigin(userID),
	})
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Connected to <#%d>.", channelID))
}

// HandleLeave handles the /leave command.
func (h *CommandHandlers) HandleLeave(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ctx := context.Background()

	guildID, userID, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, "Invalid interaction")
	}

	err = h.ingress.Dispatch(ctx, domain.Command{
		Kind:    domain.CommandDisconnect,
		GuildID: guildID,
		Origin:  discordOrigin(userID),
	})
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	return respondSuccess(r, "Disconnected.")
}

// HandlePlay handles the /play command. If the bot is not connected yet,
// it joins the caller's voice channel first.
func (h *CommandHandlers) HandlePlay(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ctx := context.Background()

	guildID, userID, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, "Invalid interaction")
	}

	var query string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "query" {
			query = opt.StringValue()
		}
	}

	h.updateNotificationChannel(guildID, i)

	if h.registry.Get(guildID) == nil {
		channelID, err := userVoiceChannel(s, i.GuildID, i.Member.User.ID)
		if err != nil {
			return respondError(r, "Join a voice channel first.")
		}

		err = h.ingress.Dispatch(ctx, domain.Command{
			Kind:      domain.CommandJoin,
			GuildID:   guildID,
			ChannelID: channelID,
			Origin:    discordOrigin(userID),
		})
		if err != nil {
			return respondError(r, commandErrorMessage(err))
		}
	}

	track, err := h.resolver.ResolveTrack(ctx, query)
	if err != nil {
		return respondError(r, "No results found for that query.")
	}
	track.RequestedBy = userID

	err = h.ingress.Dispatch(ctx, domain.Command{
		Kind:    domain.CommandEnqueue,
		GuildID: guildID,
		Track:   track,
		Origin:  discordOrigin(userID),
	})
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	if track.SourceURI != "" {
		return respondSuccess(r,
			fmt.Sprintf("Added [%s](%s) to the queue.", track.Title, track.SourceURI))
	}
	return respondSuccess(r, fmt.Sprintf("Added **%s** to the queue.", track.Title))
}

// HandleStop handles the /stop command.
func (h *CommandHandlers) HandleStop(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	return h.dispatchSimple(i, r, domain.CommandStop, "Stopped playback.")
}

// HandlePause handles the /pause command.
func (h *CommandHandlers) HandlePause(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	return h.dispatchSimple(i, r, domain.CommandPause, "Paused playback.")
}

// HandleResume handles the /resume command.
func (h *CommandHandlers) HandleResume(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	return h.dispatchSimple(i, r, domain.CommandResume, "Resumed playback.")
}

// HandleSkip handles the /skip command.
func (h *CommandHandlers) HandleSkip(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	return h.dispatchSimple(i, r, domain.CommandSkip, "Skipped.")
}

// HandlePrevious handles the /previous command.
func (h *CommandHandlers) HandlePrevious(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	return h.dispatchSimple(i, r, domain.CommandPrevious, "Went back to the previous track.")
}

// HandleSeek handles the /seek command.
func (h *CommandHandlers) HandleSeek(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ctx := context.Background()

	guildID, userID, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, "Invalid interaction")
	}

	var seconds int64
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "seconds" {
			seconds = opt.IntValue()
		}
	}

	err = h.ingress.Dispatch(ctx, domain.Command{
		Kind:    domain.CommandSeek,
		GuildID: guildID,
		Offset:  time.Duration(seconds) * time.Second,
		Origin:  discordOrigin(userID),
	})
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Seeked to %d:%02d.", seconds/60, seconds%60))
}

// HandleVolume handles the /volume command.
func (h *CommandHandlers) HandleVolume(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ctx := context.Background()

	guildID, userID, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, "Invalid interaction")
	}

	var level int64
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "level" {
			level = opt.IntValue()
		}
	}

	err = h.ingress.Dispatch(ctx, domain.Command{
		Kind:    domain.CommandSetVolume,
		GuildID: guildID,
		Volume:  int(level),
		Origin:  discordOrigin(userID),
	})
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Volume set to %d%%.", level))
}

// HandleMode handles the /mode command.
func (h *CommandHandlers) HandleMode(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ctx := context.Background()

	guildID, userID, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, "Invalid interaction")
	}

	var modeStr string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "mode" {
			modeStr = opt.StringValue()
		}
	}

	mode, err := domain.ParsePlaybackMode(modeStr)
	if err != nil {
		return respondError(r, "Unknown playback mode")
	}

	err = h.ingress.Dispatch(ctx, domain.Command{
		Kind:    domain.CommandSetMode,
		GuildID: guildID,
		Mode:    mode,
		Origin:  discordOrigin(userID),
	})
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	var description string
	switch mode {
	case domain.ModeRepeatTrack:
		description = "Now repeating the current track."
	case domain.ModeRepeatQueue:
		description = "Now repeating the queue."
	case domain.ModeShuffle:
		description = "Shuffle enabled."
	default:
		description = "Playback mode set to normal."
	}

	return respondSuccess(r, description)
}

// HandleQueue handles the /queue command.
func (h *CommandHandlers) HandleQueue(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return respondError(r, "Invalid subcommand")
	}

	subCmd := options[0]
	switch subCmd.Name {
	case "list":
		return h.handleQueueList(i, r)
	case "remove":
		return h.handleQueueRemove(i, r, subCmd.Options)
	case "move":
		return h.handleQueueMove(i, r, subCmd.Options)
	case "clear":
		return h.handleQueueClear(i, r)
	default:
		return respondError(r, "Unknown subcommand")
	}
}

func (h *CommandHandlers) handleQueueList(
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ctx := context.Background()

	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	engine := h.registry.Get(guildID)
	if engine == nil {
		return respondError(r, "Not connected to a voice channel.")
	}

	state, err := engine.State(ctx)
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	title := "Queue"
	switch state.Mode {
	case domain.ModeRepeatTrack:
		title = "Queue \U0001F502" // 🔂
	case domain.ModeRepeatQueue:
		title = "Queue \U0001F501" // 🔁
	case domain.ModeShuffle:
		title = "Queue \U0001F500" // 🔀
	}

	embed := &discordgo.MessageEmbed{Title: title}

	if state.Current == nil && len(state.Tracks) == 0 && len(state.History) == 0 {
		embed.Description = "Queue is empty."
		return r.Respond(&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
			},
		})
	}

	var sb strings.Builder

	if len(state.History) > 0 {
		sb.WriteString("### Played\n")
		history := state.History
		if len(history) > maxListedTracks {
			history = history[len(history)-maxListedTracks:]
		}
		for idx, track := range history {
			writeTrackLine(&sb, idx+1, track)
		}
	}

	if state.Current != nil {
		sb.WriteString("### Now Playing\n")
		writeTrackLine(&sb, 1, *state.Current)
	}

	if len(state.Tracks) > 0 {
		sb.WriteString("### Up Next\n")
		for idx, track := range state.Tracks {
			if idx == maxListedTracks {
				fmt.Fprintf(&sb, "…and %d more\n", len(state.Tracks)-maxListedTracks)
				break
			}
			writeTrackLine(&sb, idx+1, track)
		}
	}

	embed.Description = sb.String()
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("%d queued · volume %d%%", len(state.Tracks), state.Volume),
	}

	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

func (h *CommandHandlers) handleQueueRemove(
	i *discordgo.InteractionCreate,
	r bot.Responder,
	options []*discordgo.ApplicationCommandInteractionDataOption,
) error {
	ctx := context.Background()

	guildID, userID, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, "Invalid interaction")
	}

	var position int64
	for _, opt := range options {
		if opt.Name == "position" {
			position = opt.IntValue()
		}
	}

	err = h.ingress.Dispatch(ctx, domain.Command{
		Kind:     domain.CommandRemove,
		GuildID:  guildID,
		Position: int(position - 1), // queue positions are displayed 1-indexed
		Origin:   discordOrigin(userID),
	})
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Removed track %d from the queue.", position))
}

func (h *CommandHandlers) handleQueueMove(
	i *discordgo.InteractionCreate,
	r bot.Responder,
	options []*discordgo.ApplicationCommandInteractionDataOption,
) error {
	ctx := context.Background()

	guildID, userID, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, "Invalid interaction")
	}

	var from, to int64
	for _, opt := range options {
		switch opt.Name {
		case "from":
			from = opt.IntValue()
		case "to":
			to = opt.IntValue()
		}
	}

	err = h.ingress.Dispatch(ctx, domain.Command{
		Kind:    domain.CommandReorder,
		GuildID: guildID,
		From:    int(from - 1),
		To:      int(to - 1),
		Origin:  discordOrigin(userID),
	})
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Moved track %d to position %d.", from, to))
}

func (h *CommandHandlers) handleQueueClear(
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	return h.dispatchSimple(i, r, domain.CommandClear, "Cleared the queue.")
}

// dispatchSimple dispatches a command that carries no arguments and
// responds with a fixed confirmation.
func (h *CommandHandlers) dispatchSimple(
	i *discordgo.InteractionCreate,
	r bot.Responder,
	kind domain.CommandKind,
	confirmation string,
) error {
	ctx := context.Background()

	guildID, userID, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, "Invalid interaction")
	}

	err = h.ingress.Dispatch(ctx, domain.Command{
		Kind:    kind,
		GuildID: guildID,
		Origin:  discordOrigin(userID),
	})
	if err != nil {
		return respondError(r, commandErrorMessage(err))
	}

	return respondSuccess(r, confirmation)
}

// Helpers.

func parseInteractionIDs(i *discordgo.InteractionCreate) (guildID, userID snowflake.ID, err error) {
	guildID, err = snowflake.Parse(i.GuildID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parse guild ID")
	}

	if i.Member == nil || i.Member.User == nil {
		return 0, 0, errors.New("interaction has no member")
	}

	userID, err = snowflake.Parse(i.Member.User.ID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parse user ID")
	}

	return guildID, userID, nil
}

func discordOrigin(userID snowflake.ID) domain.Origin {
	return domain.Origin{
		Source:  domain.OriginDiscord,
		ActorID: userID,
	}
}

// userVoiceChannel looks up the voice channel the user is currently in.
func userVoiceChannel(s *discordgo.Session, guildID, userID string) (snowflake.ID, error) {
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return 0, errors.New("user not in a voice channel")
	}
	return snowflake.Parse(vs.ChannelID)
}

// commandErrorMessage maps engine errors to user-facing messages.
func commandErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoActiveSession):
		return "Not connected to a voice channel."
	case errors.Is(err, domain.ErrQueueFull):
		return "The queue is full."
	case errors.Is(err, domain.ErrNotPlaying):
		return "Nothing is playing."
	case errors.Is(err, domain.ErrInvalidPosition):
		return "No track at that position."
	case errors.Is(err, domain.ErrSeekOutOfRange):
		return "That offset is outside the current track."
	default:
		return "An error occurred while processing your command."
	}
}

// Response helpers.

func respondError(r bot.Responder, message string) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Error",
					Description: message,
					Color:       colorError,
				},
			},
		},
	})
}

func respondSuccess(r bot.Responder, message string) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Description: message,
					Color:       colorSuccess,
				},
			},
		},
	})
}

// writeTrackLine writes a single track line to the string builder.
// Escapes the period to prevent Discord markdown list formatting.
func writeTrackLine(sb *strings.Builder, displayIndex int, track domain.Track) {
	if track.SourceURI != "" {
		fmt.Fprintf(sb, "%d\\. [%s](%s) - %s\n",
			displayIndex, track.Title, track.SourceURI, track.Artist)
	} else {
		fmt.Fprintf(sb, "%d\\. **%s** - %s\n", displayIndex, track.Title, track.Artist)
	}
}
