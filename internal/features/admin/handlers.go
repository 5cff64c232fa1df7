// Package admin — handlers.go обрабатывает личные сообщения владельцев.
// Поток: !login → пароль → команды (!give, !take, !reset, !guilds, !logout).
package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

const helpText = `🛠 Команды владельца:
!give <id сервера> <id участника> <сумма> — начислить
!take <id сервера> <id участника> <сумма> — списать
!reset <id сервера> — обнулить экономику сервера
!guilds — серверы бота
!logout — выйти`

// Handler обрабатывает команды владельцев в личке.
type Handler struct {
	service *Service
	dg      *discordgo.Session
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service, dg *discordgo.Session) *Handler {
	return &Handler{service: service, dg: dg}
}

// HandleDM обрабатывает личное сообщение. Возвращает false, если автор
// не владелец и сообщение надо обработать как обычное.
func (h *Handler) HandleDM(ctx context.Context, m *discordgo.MessageCreate) bool {
	userID := common.ParseID(m.Author.ID)
	if !h.service.IsOwner(userID) {
		return false
	}
	text := strings.TrimSpace(m.Content)

	switch st := h.service.GetState(userID); st.Name {
	case StateAwaitingPassword:
		h.service.ClearState(userID)
		h.login(ctx, m.ChannelID, userID, text)
		return true
	case StateConfirmReset:
		h.service.ClearState(userID)
		if !strings.EqualFold(text, "да") {
			h.sendMessage(m.ChannelID, "↩️ Сброс отменён")
			return true
		}
		n, err := h.service.ResetEconomy(ctx, userID, st.GuildID)
		if err != nil {
			h.replyError(m.ChannelID, err)
			return true
		}
		h.sendMessage(m.ChannelID, fmt.Sprintf("🧨 Экономика сервера %d сброшена, удалено балансов: %d", st.GuildID, n))
		return true
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return true
	}
	cmd, args := strings.ToLower(strings.TrimPrefix(fields[0], "!")), fields[1:]

	switch cmd {
	case "login", "admin":
		if len(args) > 0 {
			h.login(ctx, m.ChannelID, userID, args[0])
			return true
		}
		if err := h.service.Authorize(ctx, userID); err == nil {
			h.sendMessage(m.ChannelID, helpText)
			return true
		}
		h.service.SetState(userID, StateAwaitingPassword, 0)
		h.sendMessage(m.ChannelID, "🔐 Введите пароль для доступа к админке:")
	case "logout":
		if err := h.service.Logout(ctx, userID); err != nil {
			h.replyError(m.ChannelID, err)
			return true
		}
		h.sendMessage(m.ChannelID, "👋 Сессия закрыта")
	case "give", "take":
		h.adjust(ctx, m.ChannelID, userID, cmd == "take", args)
	case "reset":
		if len(args) < 1 {
			h.sendMessage(m.ChannelID, "❌ Формат: !reset <id сервера>")
			return true
		}
		if err := h.service.Authorize(ctx, userID); err != nil {
			h.replyError(m.ChannelID, err)
			return true
		}
		guildID := common.ParseID(args[0])
		if guildID == 0 {
			h.sendMessage(m.ChannelID, "❌ Некорректный id сервера")
			return true
		}
		h.service.SetState(userID, StateConfirmReset, guildID)
		h.sendMessage(m.ChannelID, fmt.Sprintf("⚠️ Все балансы сервера %d будут удалены. Напишите «да» для подтверждения.", guildID))
	case "guilds":
		if err := h.service.Authorize(ctx, userID); err != nil {
			h.replyError(m.ChannelID, err)
			return true
		}
		h.sendMessage(m.ChannelID, h.guildList())
	default:
		h.sendMessage(m.ChannelID, helpText)
	}
	return true
}

func (h *Handler) login(ctx context.Context, channelID string, userID int64, password string) {
	if err := h.service.Login(ctx, userID, password); err != nil {
		h.replyError(channelID, err)
		return
	}
	h.sendMessage(channelID, "✅ Доступ открыт на 24 часа\n\n"+helpText)
}

func (h *Handler) adjust(ctx context.Context, channelID string, adminID int64, take bool, args []string) {
	if len(args) < 3 {
		h.sendMessage(channelID, "❌ Формат: !give|!take <id сервера> <id участника> <сумма>")
		return
	}
	guildID := common.ParseID(args[0])
	userID := common.ParseMentionID(args[1])
	amount, err := strconv.ParseInt(args[2], 10, 64)
	if guildID == 0 || userID == 0 {
		h.sendMessage(channelID, "❌ Некорректный id сервера или участника")
		return
	}
	if err != nil || amount <= 0 {
		h.replyError(channelID, common.ErrInvalidAmount)
		return
	}
	if take {
		amount = -amount
	}

	b, err := h.service.Adjust(ctx, adminID, guildID, userID, amount)
	if err != nil {
		h.replyError(channelID, err)
		return
	}
	h.sendMessage(channelID, fmt.Sprintf("✅ %s → <@%d>\nКошелёк: %s, банк: %s",
		common.FormatSignedMoney(amount, ""), userID, common.FormatNumber(b.Wallet), common.FormatNumber(b.Bank)))
}

func (h *Handler) guildList() string {
	if h.dg.State == nil || len(h.dg.State.Guilds) == 0 {
		return "📋 Бот не состоит ни в одном сервере"
	}
	var sb strings.Builder
	sb.WriteString("📋 Серверы:\n")
	for _, g := range h.dg.State.Guilds {
		fmt.Fprintf(&sb, "%s — %s (%d участников)\n", g.ID, g.Name, g.MemberCount)
	}
	return sb.String()
}

func (h *Handler) replyError(channelID string, err error) {
	if !common.IsUserFacing(err) {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка админ-команды")
	}
	h.sendMessage(channelID, common.UserMessage(err))
}

func (h *Handler) sendMessage(channelID string, text string) {
	if _, err := h.dg.ChannelMessageSend(channelID, text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка отправки сообщения")
	}
}
