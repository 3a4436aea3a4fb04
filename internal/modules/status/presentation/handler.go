package presentation

import (
	"fmt"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cadenza-bot/cadenza/internal/bot"
)

// StatusHandler handles the /status command.
type StatusHandler struct {
	startedAt time.Time
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler() *StatusHandler {
	return &StatusHandler{
		startedAt: time.Now(),
	}
}

// Handle responds with uptime, gateway latency, and runtime information.
func (h *StatusHandler) Handle(
	s *discordgo.Session,
	_ *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	uptime := time.Since(h.startedAt).Round(time.Second)

	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title: "Status",
					Fields: []*discordgo.MessageEmbedField{
						{
							Name:   "Uptime",
							Value:  uptime.String(),
							Inline: true,
						},
						{
							Name:   "Gateway Latency",
							Value:  s.HeartbeatLatency().Round(time.Millisecond).String(),
							Inline: true,
						},
						{
							Name:   "Runtime",
							Value:  fmt.Sprintf("%s, %d goroutines", runtime.Version(), runtime.NumGoroutine()),
							Inline: true,
						},
					},
					Color: 0x08c404,
				},
			},
		},
	})
}
