// Package status provides a /status command reporting bot health.
package status

import (
	"github.com/bwmarrin/discordgo"

	"github.com/cadenza-bot/cadenza/internal/bot"
	"github.com/cadenza-bot/cadenza/internal/modules/status/presentation"
)

func init() {
	bot.Register(&StatusModule{})
}

// StatusModule provides the /status command.
type StatusModule struct {
	handler *presentation.StatusHandler
}

// Name returns the module name.
func (m *StatusModule) Name() string {
	return "status"
}

// Commands returns the slash commands for this module.
func (m *StatusModule) Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "status",
			Description: "Show bot status",
		},
	}
}

// CommandHandlers returns the command handlers for this module.
func (m *StatusModule) CommandHandlers() map[string]bot.InteractionHandler {
	return map[string]bot.InteractionHandler{
		"status": m.handler.Handle,
	}
}

// EventHandlers returns the event handlers for this module.
func (m *StatusModule) EventHandlers() []bot.EventHandler {
	return nil
}

// Init initializes the module.
func (m *StatusModule) Init(_ bot.ModuleDependencies) error {
	m.handler = presentation.NewStatusHandler()
	return nil
}

// Shutdown cleans up module resources.
func (m *StatusModule) Shutdown() error {
	return nil
}
