// Package leveling — handlers.go обрабатывает команды:
// !rank, !levels, !level-reward, !level-rewards
// и начисляет опыт за обычные сообщения.
package leveling

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

// Handler обрабатывает команды уровней.
type Handler struct {
	service *Service
	dg      *discordgo.Session
}

// NewHandler создаёт обработчик уровней.
func NewHandler(service *Service, dg *discordgo.Session) *Handler {
	return &Handler{service: service, dg: dg}
}

// DiscordEffects выдаёт роли и пишет объявления через discordgo.
type DiscordEffects struct {
	DG *discordgo.Session
}

func (e DiscordEffects) GrantRole(guildID, userID, roleID int64) error {
	return e.DG.GuildMemberRoleAdd(common.FormatID(guildID), common.FormatID(userID), common.FormatID(roleID))
}

func (e DiscordEffects) Announce(channelID int64, text string) {
	if _, err := e.DG.ChannelMessageSend(common.FormatID(channelID), text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Warn("Не удалось объявить повышение уровня")
	}
}

// OnMessage начисляет опыт за сообщение. Ошибки только логируются:
// участник про опыт ничего не спрашивал.
func (h *Handler) OnMessage(ctx context.Context, m *discordgo.MessageCreate) {
	_, err := h.service.OnMessage(ctx, common.ParseID(m.GuildID), common.ParseID(m.ChannelID), common.ParseID(m.Author.ID))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild_id": m.GuildID,
			"user_id":  m.Author.ID,
		}).Warn("Ошибка начисления опыта")
	}
}

// HandleRank обрабатывает !rank [@участник].
//
// Формат ответа:
//
//	📈 @user — уровень 4, место #3
//	▰▰▰▰▱▱▱▱▱▱ 120 / 360 XP
func (h *Handler) HandleRank(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	userID := common.ParseID(m.Author.ID)
	if len(args) > 0 {
		if id := common.ParseMentionID(args[0]); id != 0 {
			userID = id
		}
	}
	rec, pos, err := h.service.Rank(ctx, common.ParseID(m.GuildID), userID)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("📈 <@%d> — уровень %d, место #%d\n%s %d / %d XP",
		userID, rec.Level, pos, ProgressBar(Progress(rec), 10), rec.XP, XPThreshold(rec.Level)))
}

// HandleLeaderboard обрабатывает !levels — топ-10 по уровню.
func (h *Handler) HandleLeaderboard(ctx context.Context, m *discordgo.MessageCreate) {
	rows, err := h.service.Leaderboard(ctx, common.ParseID(m.GuildID))
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	if len(rows) == 0 {
		h.sendMessage(m.ChannelID, "📋 Пока никто не набрал опыта")
		return
	}
	var sb strings.Builder
	for i, r := range rows {
		fmt.Fprintf(&sb, "%d. <@%d> — уровень %d (%d XP)\n", i+1, r.UserID, r.Level, r.XP)
	}
	if _, err := h.dg.ChannelMessageSendEmbed(m.ChannelID, &discordgo.MessageEmbed{
		Title:       "🏅 Топ по уровням",
		Description: sb.String(),
		Color:       0x9B59B6,
	}); err != nil {
		log.WithError(err).WithField("channel_id", m.ChannelID).Error("Ошибка отправки сообщения")
	}
}

// HandleSetReward обрабатывает !level-reward <уровень> <@роль|off>.
// Права проверяет слой команд.
func (h *Handler) HandleSetReward(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		h.sendMessage(m.ChannelID, "❌ Формат: !level-reward <уровень> <@роль|off>")
		return
	}
	level, err := strconv.Atoi(args[0])
	if err != nil {
		h.replyError(m.ChannelID, common.ErrBadReward)
		return
	}
	guildID := common.ParseID(m.GuildID)

	if strings.EqualFold(args[1], "off") {
		existed, err := h.service.DeleteReward(ctx, guildID, level)
		if err != nil {
			h.replyError(m.ChannelID, err)
			return
		}
		if !existed {
			h.sendMessage(m.ChannelID, fmt.Sprintf("ℹ️ За %d уровень роль и так не выдаётся", level))
			return
		}
		h.sendMessage(m.ChannelID, fmt.Sprintf("🗑 Награда за %d уровень убрана", level))
		return
	}

	roleID := common.ParseMentionID(args[1])
	if err := h.service.SetReward(ctx, guildID, level, roleID); err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("✅ За %d уровень будет выдаваться <@&%d>", level, roleID))
}

// HandleRewards обрабатывает !level-rewards — список наград.
func (h *Handler) HandleRewards(ctx context.Context, m *discordgo.MessageCreate) {
	rewards, err := h.service.Rewards(ctx, common.ParseID(m.GuildID))
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	if len(rewards) == 0 {
		h.sendMessage(m.ChannelID, "📋 Наград за уровни нет")
		return
	}
	var sb strings.Builder
	sb.WriteString("🎁 Награды за уровни:\n")
	for _, rw := range rewards {
		fmt.Fprintf(&sb, "Уровень %d → <@&%d>\n", rw.Level, rw.RoleID)
	}
	h.sendMessage(m.ChannelID, sb.String())
}

// ProgressBar рисует полосу прогресса из width делений.
func ProgressBar(p float64, width int) string {
	filled := int(p * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", width-filled)
}

func (h *Handler) replyError(channelID string, err error) {
	if !common.IsUserFacing(err) {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка команды уровней")
	}
	h.sendMessage(channelID, common.UserMessage(err))
}

func (h *Handler) sendMessage(channelID string, text string) {
	if _, err := h.dg.ChannelMessageSend(channelID, text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка отправки сообщения")
	}
}
