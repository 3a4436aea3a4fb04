package player

import "time"

// Config holds the player module configuration.
type Config struct {
	LavalinkAddress  string `env:"LAVALINK_ADDRESS,notEmpty"`
	LavalinkPassword string `env:"LAVALINK_PASSWORD,notEmpty"`

	// RemoteBind is the listen address for the remote control WebSocket
	// host. Empty disables the host.
	RemoteBind string `env:"REMOTE_BIND"`

	QueueCapacity     int           `env:"QUEUE_CAPACITY" envDefault:"100"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"10m"`
	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS" envDefault:"3"`
}
