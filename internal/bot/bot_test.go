package bot

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBot(t *testing.T) {
	cfg := &Config{DiscordToken: "test-token"}

	b := NewBot(cfg)

	require.NotNil(t, b)
	assert.Same(t, cfg, b.config)
}

func TestBot_InitModules_PassesDependencies(t *testing.T) {
	cfg := &Config{DiscordToken: "test-token"}
	b := NewBot(cfg)

	mod := &stubModule{name: "tracking"}
	b.modules = []Module{mod}

	require.NoError(t, b.initModules())
	assert.Same(t, cfg, mod.gotDeps.Config)
}

func TestBot_InitModules_ReturnsInitError(t *testing.T) {
	b := NewBot(&Config{DiscordToken: "test-token"})

	initErr := errors.New("init failed")
	b.modules = []Module{&stubModule{name: "failing", initErr: initErr}}

	err := b.initModules()
	require.Error(t, err)
	assert.ErrorIs(t, err, initErr)
}

func TestBot_LoadModuleConfigs_ReturnsError(t *testing.T) {
	b := NewBot(&Config{DiscordToken: "test-token"})

	cfgErr := errors.New("missing setting")
	b.modules = []Module{&configurableStubModule{
		stubModule: stubModule{name: "configurable"},
		loadErr:    cfgErr,
	}}

	err := b.loadModuleConfigs()
	require.Error(t, err)
	assert.ErrorIs(t, err, cfgErr)
}

func TestBot_BuildHandlerMap(t *testing.T) {
	b := NewBot(&Config{DiscordToken: "test-token"})

	handler := func(_ *discordgo.Session, _ *discordgo.InteractionCreate, _ Responder) error {
		return nil
	}
	b.modules = []Module{
		&stubModule{
			name:     "mod1",
			handlers: map[string]InteractionHandler{"ping": handler},
		},
		&stubModule{
			name:     "mod2",
			handlers: map[string]InteractionHandler{"pong": handler},
		},
	}

	b.buildHandlerMap()

	assert.Len(t, b.handlers, 2)
	assert.Contains(t, b.handlers, "ping")
	assert.Contains(t, b.handlers, "pong")
}

func TestBot_CollectCommands(t *testing.T) {
	b := NewBot(&Config{DiscordToken: "test-token"})

	b.modules = []Module{
		&stubModule{
			name: "mod1",
			commands: []*discordgo.ApplicationCommand{
				{Name: "ping", Description: "Ping command"},
			},
		},
		&stubModule{
			name: "mod2",
			commands: []*discordgo.ApplicationCommand{
				{Name: "play", Description: "Play command"},
			},
		},
	}

	commands := b.collectCommands()

	require.Len(t, commands, 2)
	assert.Equal(t, "ping", commands[0].Name)
	assert.Equal(t, "play", commands[1].Name)
}

func TestBot_Stop_ShutsDownModules(t *testing.T) {
	b := NewBot(&Config{DiscordToken: "test-token"})

	mod := &shutdownTrackingModule{stubModule: stubModule{name: "tracked"}}
	b.modules = []Module{mod}

	require.NoError(t, b.Stop())
	assert.True(t, mod.shutdownCalled)
}

// configurableStubModule adds ConfigurableModule on top of stubModule.
type configurableStubModule struct {
	stubModule
	loadErr error
}

func (m *configurableStubModule) LoadConfig() error { return m.loadErr }

type shutdownTrackingModule struct {
	stubModule
	shutdownCalled bool
}

func (m *shutdownTrackingModule) Shutdown() error {
	m.shutdownCalled = true
	return nil
}
