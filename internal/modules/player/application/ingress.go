package application

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// Ingress normalizes commands from both sources (Discord interactions
// and remote socket clients) into engine submissions. Malformed commands
// are rejected here and never reach an engine.
type Ingress struct {
	registry *Registry
	log      zerolog.Logger
}

// NewIngress creates an Ingress over the given registry.
func NewIngress(registry *Registry) *Ingress {
	return &Ingress{
		registry: registry,
		log:      log.With().Str("component", "ingress").Logger(),
	}
}

// Dispatch validates a command and routes it to the guild's engine.
// Join creates the engine on demand; every other command requires an
// existing session.
func (i *Ingress) Dispatch(ctx context.Context, cmd domain.Command) error {
	if err := ValidateCommand(cmd); err != nil {
		i.log.Debug().
			Str("kind", string(cmd.Kind)).
			Str("source", string(cmd.Origin.Source)).
			Err(err).
			Msg("rejected command")
		return err
	}

	var engine *Engine
	if cmd.Kind == domain.CommandJoin {
		engine = i.registry.GetOrCreate(cmd.GuildID)
	} else {
		engine = i.registry.Get(cmd.GuildID)
		if engine == nil {
			return domain.ErrNoActiveSession
		}
	}

	err := engine.Do(ctx, cmd)
	if errors.Is(err, ErrEngineStopped) {
		return domain.ErrNoActiveSession
	}
	return err
}

// ValidateCommand checks structural validity. Range errors that depend
// on live state (queue length, track duration) are the engine's to make.
func ValidateCommand(cmd domain.Command) error {
	if cmd.GuildID == 0 {
		return errors.Wrap(domain.ErrInvalidCommand, "missing guild")
	}

	switch cmd.Kind {
	case domain.CommandJoin:
		if cmd.ChannelID == 0 {
			return errors.Wrap(domain.ErrInvalidCommand, "missing channel")
		}
	case domain.CommandEnqueue:
		if cmd.Track == nil || !cmd.Track.IsValid() {
			return errors.Wrap(domain.ErrInvalidCommand, "missing or unplayable track")
		}
	case domain.CommandSetVolume:
		if cmd.Volume < 0 || cmd.Volume > 100 {
			return errors.Wrap(domain.ErrInvalidCommand, "volume out of range")
		}
	case domain.CommandSeek:
		if cmd.Offset < 0 {
			return errors.Wrap(domain.ErrInvalidCommand, "negative offset")
		}
	case domain.CommandReorder:
		if cmd.From < 0 || cmd.To < 0 {
			return errors.Wrap(domain.ErrInvalidCommand, "negative position")
		}
	case domain.CommandRemove:
		if cmd.Position < 0 {
			return errors.Wrap(domain.ErrInvalidCommand, "negative position")
		}
	case domain.CommandSkip, domain.CommandPrevious, domain.CommandPause,
		domain.CommandResume, domain.CommandStop, domain.CommandSetMode,
		domain.CommandClear, domain.CommandDisconnect:
		// No arguments to validate.
	default:
		return errors.Wrapf(domain.ErrInvalidCommand, "unknown kind %q", cmd.Kind)
	}

	return nil
}
