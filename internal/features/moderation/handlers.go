// Package moderation — handlers.go обрабатывает команды:
// !warn, !warnings, !clearwarns, !timeout, !untimeout.
// Права модератора проверяет слой команд.
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

// Handler обрабатывает команды модерации.
type Handler struct {
	service *Service
	dg      *discordgo.Session
}

// NewHandler создаёт обработчик модерации.
func NewHandler(service *Service, dg *discordgo.Session) *Handler {
	return &Handler{service: service, dg: dg}
}

// DiscordTimeouts выдаёт таймауты через discordgo. Причина уходит в журнал аудита.
type DiscordTimeouts struct {
	DG *discordgo.Session
}

func (d DiscordTimeouts) Timeout(guildID, userID int64, until *time.Time, reason string) error {
	var opts []discordgo.RequestOption
	if reason = strings.TrimSpace(reason); reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return d.DG.GuildMemberTimeout(common.FormatID(guildID), common.FormatID(userID), until, opts...)
}

// DiscordNotifier пишет в канал журнала.
type DiscordNotifier struct {
	DG *discordgo.Session
}

func (n DiscordNotifier) Notify(channelID int64, text string) {
	if _, err := n.DG.ChannelMessageSend(common.FormatID(channelID), text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Warn("Не удалось написать в журнал модерации")
	}
}

// HandleWarn обрабатывает !warn @участник <причина>.
func (h *Handler) HandleWarn(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		h.sendMessage(m.ChannelID, "❌ Формат: !warn @участник <причина>")
		return
	}
	a, ok := h.action(m, args[0], strings.Join(args[1:], " "))
	if !ok {
		return
	}
	n, err := h.service.Warn(ctx, a)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("⚠️ <@%d> получил предупреждение. Всего: %d %s",
		a.TargetID, n, common.PluralizeWarnings(n)))
}

// HandleWarnings обрабатывает !warnings [@участник].
func (h *Handler) HandleWarnings(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	userID := common.ParseID(m.Author.ID)
	if len(args) > 0 {
		if id := common.ParseMentionID(args[0]); id != 0 {
			userID = id
		}
	}
	list, err := h.service.Warnings(ctx, common.ParseID(m.GuildID), userID)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	if len(list) == 0 {
		h.sendMessage(m.ChannelID, fmt.Sprintf("✅ У <@%d> нет предупреждений", userID))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 Предупреждения <@%d> (%d %s):\n", userID, len(list), common.PluralizeWarnings(len(list)))
	for i, w := range list {
		fmt.Fprintf(&sb, "%d. %s — %s (от <@%d>)\n",
			i+1, w.CreatedAt.Format("02.01.2006"), common.Truncate(w.Reason, 100), w.ModeratorID)
	}
	h.sendMessage(m.ChannelID, sb.String())
}

// HandleClearWarnings обрабатывает !clearwarns @участник.
func (h *Handler) HandleClearWarnings(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		h.sendMessage(m.ChannelID, "❌ Формат: !clearwarns @участник")
		return
	}
	userID := common.ParseMentionID(args[0])
	if userID == 0 {
		h.replyError(m.ChannelID, common.ErrUserNotFound)
		return
	}
	n, err := h.service.ClearWarnings(ctx, common.ParseID(m.GuildID), common.ParseID(m.Author.ID), userID)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	if n == 0 {
		h.sendMessage(m.ChannelID, fmt.Sprintf("ℹ️ У <@%d> и так нет предупреждений", userID))
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("🧹 Снято %d %s с <@%d>", n, common.PluralizeWarnings(int(n)), userID))
}

// HandleTimeout обрабатывает !timeout @участник <длительность> [причина].
// Длительность: 10m, 1h30m, 2д, 1w.
func (h *Handler) HandleTimeout(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		h.sendMessage(m.ChannelID, "❌ Формат: !timeout @участник <длительность> [причина]\nПример: !timeout @user 1h30m флуд")
		return
	}
	d, err := ParseDuration(args[1])
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	a, ok := h.action(m, args[0], strings.Join(args[2:], " "))
	if !ok {
		return
	}
	until, err := h.service.Timeout(ctx, a, d)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("🔇 <@%d> в таймауте до <t:%d:f>", a.TargetID, until.Unix()))
}

// HandleUntimeout обрабатывает !untimeout @участник.
func (h *Handler) HandleUntimeout(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		h.sendMessage(m.ChannelID, "❌ Формат: !untimeout @участник")
		return
	}
	a, ok := h.action(m, args[0], strings.Join(args[1:], " "))
	if !ok {
		return
	}
	if err := h.service.Untimeout(ctx, a); err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("🔊 Таймаут с <@%d> снят", a.TargetID))
}

func (h *Handler) action(m *discordgo.MessageCreate, target, reason string) (Action, bool) {
	id := common.ParseMentionID(target)
	if id == 0 {
		h.replyError(m.ChannelID, common.ErrUserNotFound)
		return Action{}, false
	}
	a := Action{
		GuildID:     common.ParseID(m.GuildID),
		TargetID:    id,
		ModeratorID: common.ParseID(m.Author.ID),
		Reason:      reason,
	}
	for _, u := range m.Mentions {
		if u.ID == common.FormatID(id) {
			a.TargetIsBot = u.Bot
		}
	}
	return a, true
}

func (h *Handler) replyError(channelID string, err error) {
	if !common.IsUserFacing(err) {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка команды модерации")
	}
	h.sendMessage(channelID, common.UserMessage(err))
}

func (h *Handler) sendMessage(channelID string, text string) {
	if _, err := h.dg.ChannelMessageSend(channelID, text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка отправки сообщения")
	}
}
