package bot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/guild-bot/internal/config"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		prefix, text string
		cmd          string
		args         []string
		ok           bool
	}{
		{"!", "!play never gonna", "play", []string{"never", "gonna"}, true},
		{"!", "  !SKIP  ", "skip", nil, true},
		{"?", "?pay <@1> 100", "pay", []string{"<@1>", "100"}, true},
		{"!", "?pay <@1> 100", "", nil, false},
		{"!", "просто текст", "", nil, false},
		{"!", "!", "", nil, false},
		{"!", "! ", "", nil, false},
		{"bot.", "bot.help", "help", nil, true},
		{"", "!help", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, args, ok := ParseCommand(tt.prefix, tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestCommandTableSkipsMissingHandlers(t *testing.T) {
	b := New(&discordgo.Session{}, &config.Config{BotMaxInflight: 4}, Handlers{}, nil, nil, nil)
	require.Len(t, b.commands, 2)
	assert.Contains(t, b.commands, "help")
	assert.Contains(t, b.commands, "помощь")
}

func TestShutdownRunsHooksBeforeClosingGateway(t *testing.T) {
	b := New(&discordgo.Session{}, &config.Config{BotMaxInflight: 4}, Handlers{}, nil, nil, nil)
	b.connected.Store(true)

	var order []string
	b.BeforeClose(func(ctx context.Context) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		order = append(order, "music")
	})
	b.BeforeClose(func(context.Context) { order = append(order, "second") })
	b.closeGateway = func() error {
		order = append(order, "gateway")
		return nil
	}

	require.NoError(t, b.shutdown())
	assert.Equal(t, []string{"music", "second", "gateway"}, order)
	assert.False(t, b.Connected())
}

func TestHelpText(t *testing.T) {
	noop := func(context.Context, *discordgo.MessageCreate, []string) {}
	cmds := map[string]command{
		"b":     {group: "Б", usage: "b", run: noop},
		"a":     {group: "А", usage: "a <x>", run: noop},
		"alias": {group: "А", usage: "a <x>", run: noop},
		"off": {group: "А", usage: "off", run: noop,
			feature: func(c *config.Config) bool { return c.FeatureCasinoEnabled }},
	}

	got := HelpText(cmds, &config.Config{}, "?")
	assert.Equal(t, "**А**\n?a <x>\n\n**Б**\n?b", got)
}
