// Package settings — handlers.go обрабатывает команды:
// !config, !set, !channels, !rr
// и выдаёт роли за реакции.
package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

// Handler обрабатывает команды настроек.
type Handler struct {
	service *Service
	dg      *discordgo.Session
}

// NewHandler создаёт обработчик настроек.
func NewHandler(service *Service, dg *discordgo.Session) *Handler {
	return &Handler{service: service, dg: dg}
}

// HandleShow обрабатывает !config — текущие настройки сервера.
func (h *Handler) HandleShow(ctx context.Context, m *discordgo.MessageCreate) {
	guildID := common.ParseID(m.GuildID)
	g, err := h.service.Guild(ctx, guildID)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	tts, err := h.service.TTS(ctx, guildID)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	channels, err := h.service.ActiveChannels(ctx, guildID)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}

	allowed := "все"
	if len(channels) > 0 {
		parts := make([]string, 0, len(channels))
		for _, id := range channels {
			parts = append(parts, fmt.Sprintf("<#%d>", id))
		}
		allowed = strings.Join(parts, ", ")
	}

	embed := &discordgo.MessageEmbed{
		Title: "⚙️ Настройки сервера",
		Color: 0x95A5A6,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Префикс", Value: "`" + g.Prefix + "`", Inline: true},
			{Name: "Уровни", Value: onOff(g.LevelingEnabled), Inline: true},
			{Name: "Канал уровней", Value: channelOrDash(g.LevelChannelID), Inline: true},
			{Name: "Журнал модерации", Value: channelOrDash(g.ModLogChannelID), Inline: true},
			{Name: "Озвучка", Value: fmt.Sprintf("%s (%s)", onOff(tts.Enabled), tts.Language), Inline: true},
			{Name: "Каналы бота", Value: allowed},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Изменить: " + g.Prefix + "set <" + strings.Join(SettingKeys, "|") + "> <значение>",
		},
	}
	if _, err := h.dg.ChannelMessageSendEmbed(m.ChannelID, embed); err != nil {
		log.WithError(err).WithField("channel_id", m.ChannelID).Error("Ошибка отправки сообщения")
	}
}

// HandleSet обрабатывает !set <ключ> <значение>.
func (h *Handler) HandleSet(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		h.sendMessage(m.ChannelID, "❌ Формат: !set <"+strings.Join(SettingKeys, "|")+"> <значение>")
		return
	}
	if err := h.service.Set(ctx, common.ParseID(m.GuildID), args[0], args[1:]); err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("✅ Настройка `%s` обновлена", strings.ToLower(args[0])))
}

// HandleChannels обрабатывает !channels [add|remove #канал].
// Без аргументов показывает список.
func (h *Handler) HandleChannels(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	guildID := common.ParseID(m.GuildID)
	if len(args) == 0 {
		ids, err := h.service.ActiveChannels(ctx, guildID)
		if err != nil {
			h.replyError(m.ChannelID, err)
			return
		}
		if len(ids) == 0 {
			h.sendMessage(m.ChannelID, "📋 Бот отвечает во всех каналах")
			return
		}
		var sb strings.Builder
		sb.WriteString("📋 Бот отвечает только в:\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "<#%d>\n", id)
		}
		h.sendMessage(m.ChannelID, sb.String())
		return
	}
	if len(args) < 2 {
		h.sendMessage(m.ChannelID, "❌ Формат: !channels <add|remove> #канал")
		return
	}
	channelID := common.ParseMentionID(args[1])
	if channelID == 0 {
		h.replyError(m.ChannelID, common.ErrInvalidSetting)
		return
	}

	switch strings.ToLower(args[0]) {
	case "add":
		added, err := h.service.AllowChannel(ctx, guildID, channelID)
		if err != nil {
			h.replyError(m.ChannelID, err)
			return
		}
		if !added {
			h.sendMessage(m.ChannelID, fmt.Sprintf("ℹ️ <#%d> уже в списке", channelID))
			return
		}
		h.sendMessage(m.ChannelID, fmt.Sprintf("✅ <#%d> добавлен", channelID))
	case "remove":
		removed, err := h.service.DisallowChannel(ctx, guildID, channelID)
		if err != nil {
			h.replyError(m.ChannelID, err)
			return
		}
		if !removed {
			h.sendMessage(m.ChannelID, fmt.Sprintf("ℹ️ <#%d> не было в списке", channelID))
			return
		}
		h.sendMessage(m.ChannelID, fmt.Sprintf("🗑 <#%d> убран", channelID))
	default:
		h.sendMessage(m.ChannelID, "❌ Формат: !channels <add|remove> #канал")
	}
}

// HandleReactionRoles обрабатывает:
//
//	!rr add <id сообщения> <эмодзи> @роль
//	!rr remove <id сообщения> <эмодзи>
//	!rr — список
func (h *Handler) HandleReactionRoles(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	guildID := common.ParseID(m.GuildID)
	if len(args) == 0 {
		list, err := h.service.ReactionRoles(ctx, guildID)
		if err != nil {
			h.replyError(m.ChannelID, err)
			return
		}
		if len(list) == 0 {
			h.sendMessage(m.ChannelID, "📋 Ролей за реакции нет")
			return
		}
		var sb strings.Builder
		sb.WriteString("🎭 Роли за реакции:\n")
		for _, rr := range list {
			fmt.Fprintf(&sb, "%d %s → <@&%d>\n", rr.MessageID, displayEmoji(rr.Emoji), rr.RoleID)
		}
		h.sendMessage(m.ChannelID, sb.String())
		return
	}

	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) < 4 {
			h.sendMessage(m.ChannelID, "❌ Формат: !rr add <id сообщения> <эмодзи> @роль")
			return
		}
		rr := ReactionRole{
			GuildID:   guildID,
			MessageID: common.ParseID(args[1]),
			Emoji:     NormalizeEmoji(args[2]),
			RoleID:    common.ParseMentionID(args[3]),
		}
		if err := h.service.BindReactionRole(ctx, rr); err != nil {
			h.replyError(m.ChannelID, err)
			return
		}
		if err := h.dg.MessageReactionAdd(m.ChannelID, args[1], rr.Emoji); err != nil {
			log.WithError(err).WithField("message_id", rr.MessageID).Debug("Не удалось поставить реакцию")
		}
		h.sendMessage(m.ChannelID, fmt.Sprintf("✅ %s на %d выдаёт <@&%d>", displayEmoji(rr.Emoji), rr.MessageID, rr.RoleID))
	case "remove":
		if len(args) < 3 {
			h.sendMessage(m.ChannelID, "❌ Формат: !rr remove <id сообщения> <эмодзи>")
			return
		}
		removed, err := h.service.UnbindReactionRole(ctx, guildID, common.ParseID(args[1]), NormalizeEmoji(args[2]))
		if err != nil {
			h.replyError(m.ChannelID, err)
			return
		}
		if !removed {
			h.sendMessage(m.ChannelID, "ℹ️ Такой привязки нет")
			return
		}
		h.sendMessage(m.ChannelID, "🗑 Привязка убрана")
	default:
		h.sendMessage(m.ChannelID, "❌ Формат: !rr <add|remove> …")
	}
}

// OnReactionAdd выдаёт роль за реакцию.
func (h *Handler) OnReactionAdd(ctx context.Context, r *discordgo.MessageReactionAdd) {
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}
	h.applyReaction(ctx, r.MessageReaction, true)
}

// OnReactionRemove снимает роль, когда реакцию убрали.
func (h *Handler) OnReactionRemove(ctx context.Context, r *discordgo.MessageReactionRemove) {
	h.applyReaction(ctx, r.MessageReaction, false)
}

func (h *Handler) applyReaction(ctx context.Context, r *discordgo.MessageReaction, grant bool) {
	if r == nil || r.GuildID == "" || r.UserID == h.selfID() {
		return
	}
	roleID, err := h.service.RoleForReaction(ctx, common.ParseID(r.GuildID), common.ParseID(r.MessageID), r.Emoji.APIName())
	if err != nil {
		log.WithError(err).WithField("guild_id", r.GuildID).Warn("Не удалось найти роль за реакцию")
		return
	}
	if roleID == 0 {
		return
	}

	role := common.FormatID(roleID)
	if grant {
		err = h.dg.GuildMemberRoleAdd(r.GuildID, r.UserID, role)
	} else {
		err = h.dg.GuildMemberRoleRemove(r.GuildID, r.UserID, role)
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild_id": r.GuildID,
			"user_id":  r.UserID,
			"role_id":  roleID,
			"grant":    grant,
		}).Warn("Не удалось изменить роль за реакцию")
	}
}

func (h *Handler) selfID() string {
	if h.dg.State != nil && h.dg.State.User != nil {
		return h.dg.State.User.ID
	}
	return ""
}

// NormalizeEmoji приводит эмодзи из текста к виду, в котором его отдаёт
// событие реакции: юникод как есть, свой эмодзи — "name:id".
func NormalizeEmoji(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		inner := strings.TrimPrefix(strings.Trim(s, "<>"), "a")
		return strings.TrimPrefix(inner, ":")
	}
	return s
}

func displayEmoji(key string) string {
	if strings.Contains(key, ":") {
		return "<:" + key + ">"
	}
	return key
}

func onOff(b bool) string {
	if b {
		return "вкл"
	}
	return "выкл"
}

func channelOrDash(id *int64) string {
	if id == nil {
		return "—"
	}
	return fmt.Sprintf("<#%d>", *id)
}

func (h *Handler) replyError(channelID string, err error) {
	if !common.IsUserFacing(err) {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка команды настроек")
	}
	h.sendMessage(channelID, common.UserMessage(err))
}

func (h *Handler) sendMessage(channelID string, text string) {
	if _, err := h.dg.ChannelMessageSend(channelID, text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка отправки сообщения")
	}
}
