package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/config"
)

type runFunc func(ctx context.Context, m *discordgo.MessageCreate, args []string)

// command — одна команда в таблице маршрутизации.
type command struct {
	group   string
	usage   string
	feature func(*config.Config) bool
	perm    int64
	run     runFunc
}

func (c command) enabled(cfg *config.Config) bool {
	return c.feature == nil || c.feature(cfg)
}

// ParseCommand разбирает текст на команду и аргументы.
// Команда приводится к нижнему регистру, аргументы остаются как есть.
func ParseCommand(prefix, text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	parts := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(parts) == 0 {
		return "", nil, false
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return strings.ToLower(parts[0]), args, true
}

func noArgs(fn func(context.Context, *discordgo.MessageCreate)) runFunc {
	return func(ctx context.Context, m *discordgo.MessageCreate, _ []string) { fn(ctx, m) }
}

func musicOn(c *config.Config) bool      { return c.FeatureMusicEnabled }
func economyOn(c *config.Config) bool    { return c.FeatureEconomyEnabled }
func casinoOn(c *config.Config) bool     { return c.FeatureCasinoEnabled && c.FeatureEconomyEnabled }
func levelingOn(c *config.Config) bool   { return c.FeatureLevelingEnabled }
func moderationOn(c *config.Config) bool { return c.FeatureModerationEnabled }

// commandTable строит таблицу команд. Фичи без обработчика в таблицу не попадают.
func (b *Bot) commandTable() map[string]command {
	t := make(map[string]command)
	add := func(c command, names ...string) {
		for _, n := range names {
			t[n] = c
		}
	}

	add(command{group: "Общее", usage: "help", run: noArgs(b.handleHelp)}, "help", "помощь")

	if h := b.h.Music; h != nil {
		g := "🎵 Музыка"
		add(command{group: g, usage: "play <ссылка|запрос>", feature: musicOn, run: h.HandlePlay}, "play", "p")
		add(command{group: g, usage: "skip", feature: musicOn, run: noArgs(h.HandleSkip)}, "skip", "s")
		add(command{group: g, usage: "stop", feature: musicOn, run: noArgs(h.HandleStop)}, "stop")
		add(command{group: g, usage: "pause", feature: musicOn, run: noArgs(h.HandlePause)}, "pause")
		add(command{group: g, usage: "resume", feature: musicOn, run: noArgs(h.HandleResume)}, "resume")
		add(command{group: g, usage: "prev", feature: musicOn, run: noArgs(h.HandlePrevious)}, "prev", "previous")
		add(command{group: g, usage: "queue", feature: musicOn, run: noArgs(h.HandleQueue)}, "queue", "q")
		add(command{group: g, usage: "np", feature: musicOn, run: noArgs(h.HandleNowPlaying)}, "np", "nowplaying")
		add(command{group: g, usage: "loop [off|track|queue]", feature: musicOn, run: h.HandleLoop}, "loop")
		add(command{group: g, usage: "shuffle", feature: musicOn, run: noArgs(h.HandleShuffle)}, "shuffle")
		add(command{group: g, usage: "move <откуда> <куда>", feature: musicOn, run: h.HandleMove}, "move")
		add(command{group: g, usage: "remove <номер>", feature: musicOn, run: h.HandleRemove}, "remove")
		add(command{group: g, usage: "clear", feature: musicOn, run: noArgs(h.HandleClear)}, "clear")
		add(command{group: g, usage: "autoplay [on|off]", feature: musicOn, run: h.HandleAutoplay}, "autoplay")
		add(command{group: g, usage: "volume <0-200>", feature: musicOn, run: h.HandleVolume}, "volume", "vol")
		add(command{group: g, usage: "leave", feature: musicOn, run: noArgs(h.HandleLeave)}, "leave", "disconnect")
	}

	if h := b.h.Economy; h != nil {
		g := "💰 Экономика"
		add(command{group: g, usage: "balance [@участник]", feature: economyOn, run: h.HandleBalance}, "balance", "bal", "баланс")
		add(command{group: g, usage: "pay @участник <сумма>", feature: economyOn, run: h.HandlePay}, "pay", "перевод")
		add(command{group: g, usage: "deposit <сумма|all>", feature: economyOn, run: h.HandleDeposit}, "deposit", "dep")
		add(command{group: g, usage: "withdraw <сумма|all>", feature: economyOn, run: h.HandleWithdraw}, "withdraw", "with")
		add(command{group: g, usage: "daily", feature: economyOn, run: noArgs(h.HandleDaily)}, "daily")
		add(command{group: g, usage: "work", feature: economyOn, run: noArgs(h.HandleWork)}, "work")
		add(command{group: g, usage: "rob @участник", feature: economyOn, run: h.HandleRob}, "rob")
		add(command{group: g, usage: "top", feature: economyOn, run: noArgs(h.HandleLeaderboard)}, "top", "leaderboard")
		add(command{group: g, usage: "history", feature: economyOn, run: noArgs(h.HandleHistory)}, "history")
		add(command{group: g, usage: "eco", feature: economyOn, run: noArgs(h.HandleSettings)}, "eco")
		add(command{group: g, usage: "eco-set <ключ> <значение>", feature: economyOn,
			perm: discordgo.PermissionManageServer, run: h.HandleConfigure}, "eco-set")
	}

	if h := b.h.Casino; h != nil {
		g := "🎰 Казино"
		add(command{group: g, usage: "slots <ставка>", feature: casinoOn, run: h.HandleSlots}, "slots", "слоты")
		add(command{group: g, usage: "coinflip <ставка> <орёл|решка>", feature: casinoOn, run: h.HandleCoinflip}, "coinflip", "cf")
		add(command{group: g, usage: "casino-stats", feature: casinoOn, run: noArgs(h.HandleStats)}, "casino-stats")
	}

	if h := b.h.Leveling; h != nil {
		g := "📈 Уровни"
		add(command{group: g, usage: "rank [@участник]", feature: levelingOn, run: h.HandleRank}, "rank", "level")
		add(command{group: g, usage: "levels", feature: levelingOn, run: noArgs(h.HandleLeaderboard)}, "levels")
		add(command{group: g, usage: "level-rewards", feature: levelingOn, run: noArgs(h.HandleRewards)}, "level-rewards")
		add(command{group: g, usage: "level-reward <уровень> <@роль|off>", feature: levelingOn,
			perm: discordgo.PermissionManageServer, run: h.HandleSetReward}, "level-reward")
	}

	if h := b.h.Moderation; h != nil {
		g := "🛡 Модерация"
		mod := int64(discordgo.PermissionModerateMembers)
		add(command{group: g, usage: "warn @участник <причина>", feature: moderationOn, perm: mod, run: h.HandleWarn}, "warn")
		add(command{group: g, usage: "warnings [@участник]", feature: moderationOn, run: h.HandleWarnings}, "warnings", "warns")
		add(command{group: g, usage: "clearwarns @участник", feature: moderationOn, perm: mod, run: h.HandleClearWarnings}, "clearwarns")
		add(command{group: g, usage: "timeout @участник <время> [причина]", feature: moderationOn, perm: mod, run: h.HandleTimeout}, "timeout", "mute")
		add(command{group: g, usage: "untimeout @участник", feature: moderationOn, perm: mod, run: h.HandleUntimeout}, "untimeout", "unmute")
	}

	if h := b.h.Settings; h != nil {
		g := "⚙️ Настройки"
		manage := int64(discordgo.PermissionManageServer)
		add(command{group: g, usage: "config", perm: manage, run: noArgs(h.HandleShow)}, "config")
		add(command{group: g, usage: "set <ключ> <значение>", perm: manage, run: h.HandleSet}, "set")
		add(command{group: g, usage: "channels [add|remove #канал]", perm: manage, run: h.HandleChannels}, "channels")
		add(command{group: g, usage: "rr [add|remove …]", perm: manage, run: h.HandleReactionRoles}, "rr")
	}

	return t
}

// handleHelp выводит включённые команды по группам.
func (b *Bot) handleHelp(ctx context.Context, m *discordgo.MessageCreate) {
	prefix := b.prefixes.Prefix(ctx, common.ParseID(m.GuildID))
	b.sendMessage(m.ChannelID, HelpText(b.commands, b.cfg, prefix))
}

// HelpText собирает справку. Алиасы одной команды показываются один раз.
func HelpText(commands map[string]command, cfg *config.Config, prefix string) string {
	groups := make(map[string][]string)
	seen := make(map[string]bool)
	for _, c := range commands {
		if !c.enabled(cfg) || seen[c.usage] {
			continue
		}
		seen[c.usage] = true
		groups[c.group] = append(groups[c.group], prefix+c.usage)
	}

	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, g := range names {
		lines := groups[g]
		sort.Strings(lines)
		fmt.Fprintf(&sb, "**%s**\n%s\n\n", g, strings.Join(lines, "\n"))
	}
	return strings.TrimSpace(sb.String())
}
