package player

import (
	"github.com/bwmarrin/discordgo"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/cadenza-bot/cadenza/internal/bot"
	"github.com/cadenza-bot/cadenza/internal/modules/player/application"
	"github.com/cadenza-bot/cadenza/internal/modules/player/infrastructure"
	discordui "github.com/cadenza-bot/cadenza/internal/modules/player/presentation/discord"
	"github.com/cadenza-bot/cadenza/internal/modules/player/presentation/remote"
)

func init() {
	bot.Register(&PlayerModule{})
}

// Compile-time interface checks.
var _ bot.ConfigurableModule = (*PlayerModule)(nil)

// PlayerModule provides per-guild music playback with remote control.
type PlayerModule struct {
	config *Config

	backend     *infrastructure.LavalinkBackend
	broadcaster *application.Broadcaster
	registry    *application.Registry
	ingress     *application.Ingress

	commandHandlers *discordui.CommandHandlers
	notifier        *discordui.Notifier
	remoteHost      *remote.Host
}

// Name returns the module name.
func (m *PlayerModule) Name() string {
	return "player"
}

// Commands returns the slash commands for this module.
func (m *PlayerModule) Commands() []*discordgo.ApplicationCommand {
	return discordui.Commands()
}

// CommandHandlers returns the command handlers for this module.
func (m *PlayerModule) CommandHandlers() map[string]bot.InteractionHandler {
	return map[string]bot.InteractionHandler{
		"join":     m.commandHandlers.HandleJoin,
		"leave":    m.commandHandlers.HandleLeave,
		"play":     m.commandHandlers.HandlePlay,
		"stop":     m.commandHandlers.HandleStop,
		"pause":    m.commandHandlers.HandlePause,
		"resume":   m.commandHandlers.HandleResume,
		"skip":     m.commandHandlers.HandleSkip,
		"previous": m.commandHandlers.HandlePrevious,
		"seek":     m.commandHandlers.HandleSeek,
		"volume":   m.commandHandlers.HandleVolume,
		"mode":     m.commandHandlers.HandleMode,
		"queue":    m.commandHandlers.HandleQueue,
	}
}

// EventHandlers returns the event handlers for this module.
func (m *PlayerModule) EventHandlers() []bot.EventHandler {
	return []bot.EventHandler{
		func(_ *discordgo.Session, event *discordgo.VoiceServerUpdate) {
			if m.backend != nil {
				m.backend.OnVoiceServerUpdate(event)
			}
		},
		func(_ *discordgo.Session, event *discordgo.VoiceStateUpdate) {
			if m.backend != nil {
				m.backend.OnVoiceStateUpdate(event)
			}
		},
	}
}

// LoadConfig loads module-specific configuration from environment variables.
func (m *PlayerModule) LoadConfig() error {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

// Init initializes the module.
func (m *PlayerModule) Init(deps bot.ModuleDependencies) error {
	backend, err := infrastructure.NewLavalinkBackend(deps.Session, infrastructure.LavalinkConfig{
		Address:  m.config.LavalinkAddress,
		Password: m.config.LavalinkPassword,
	})
	if err != nil {
		return err
	}
	m.backend = backend

	m.broadcaster = application.NewBroadcaster(application.DefaultObserverBuffer)
	m.registry = application.NewRegistry(
		backend,
		m.broadcaster,
		application.EngineConfig{
			QueueCapacity:     m.config.QueueCapacity,
			ReconnectAttempts: m.config.ReconnectAttempts,
		},
		m.config.IdleTimeout,
	)
	m.registry.Start()

	m.ingress = application.NewIngress(m.registry)

	m.notifier = discordui.NewNotifier(deps.Session, m.broadcaster)
	m.commandHandlers = discordui.NewCommandHandlers(m.ingress, m.registry, backend, m.notifier)

	if m.config.RemoteBind != "" {
		m.remoteHost = remote.NewHost(m.config.RemoteBind, m.ingress, m.registry, m.broadcaster, backend)
		m.remoteHost.Start()
	}

	log.Info().Msg("player module initialized")

	return nil
}

// Shutdown cleans up module resources.
func (m *PlayerModule) Shutdown() error {
	if m.remoteHost != nil {
		if err := m.remoteHost.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close remote control host")
		}
	}

	if m.notifier != nil {
		m.notifier.Close()
	}

	if m.registry != nil {
		m.registry.Close()
	}

	if m.broadcaster != nil {
		m.broadcaster.Close()
	}

	if m.backend != nil {
		m.backend.Close()
	}

	return nil
}
