// Package economy — handlers.go обрабатывает команды:
// !balance, !pay, !deposit, !withdraw, !daily, !work, !rob, !top,
// !history, !eco (настройки) и !eco-set.
package economy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

// Handler обрабатывает команды экономики.
type Handler struct {
	service *Service           // Сервис экономики
	dg      *discordgo.Session // Сессия Discord для отправки ответов
}

// NewHandler создаёт новый обработчик экономических команд.
func NewHandler(service *Service, dg *discordgo.Session) *Handler {
	return &Handler{service: service, dg: dg}
}

// HandleBalance обрабатывает !balance [@участник].
//
// Формат ответа:
//
//	💰 Баланс @user
//	Кошелёк: 150 🪙
//	Банк: 1 000 🪙
func (h *Handler) HandleBalance(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	guildID := common.ParseID(m.GuildID)
	userID := common.ParseID(m.Author.ID)
	if len(args) > 0 {
		if id := common.ParseMentionID(args[0]); id != 0 {
			userID = id
		}
	}

	b, set, err := h.service.GetBalance(ctx, guildID, userID)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}

	text := fmt.Sprintf("💰 Баланс <@%d>\nКошелёк: %s\nБанк: %s\nВсего: %s",
		userID, set.Money(b.Wallet), set.Money(b.Bank), set.Money(b.Total()))
	if set.MaxBalance != nil {
		text += fmt.Sprintf("\nЛимит кошелька: %s", set.Money(*set.MaxBalance))
	}
	h.sendMessage(m.ChannelID, text)
}

// HandlePay обрабатывает !pay @участник сумма.
func (h *Handler) HandlePay(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		h.sendMessage(m.ChannelID, "❌ Формат: !pay @участник сумма")
		return
	}
	toID, isBot := targetUser(m, args[0])
	if toID == 0 {
		h.sendMessage(m.ChannelID, "❌ Укажите получателя упоминанием")
		return
	}
	if isBot {
		h.replyError(m.ChannelID, common.ErrBotTarget)
		return
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		h.replyError(m.ChannelID, common.ErrInvalidAmount)
		return
	}

	b, set, err := h.service.Transfer(ctx, common.ParseID(m.GuildID), common.ParseID(m.Author.ID), toID, amount)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("✅ Переведено %s <@%d>\nВ кошельке: %s",
		set.Money(amount), toID, set.Money(b.Wallet)))
}

// HandleDeposit обрабатывает !deposit <сумма|all>.
func (h *Handler) HandleDeposit(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		h.sendMessage(m.ChannelID, "❌ Формат: !deposit <сумма|all>")
		return
	}
	guildID := common.ParseID(m.GuildID)
	amount, b, err := h.service.Deposit(ctx, guildID, common.ParseID(m.Author.ID), strings.ToLower(args[0]))
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	set, _ := h.service.Settings(ctx, guildID)
	h.sendMessage(m.ChannelID, fmt.Sprintf("🏦 В банк положено %s\nКошелёк: %s · Банк: %s",
		money(set, amount), money(set, b.Wallet), money(set, b.Bank)))
}

// HandleWithdraw обрабатывает !withdraw <сумма|all>.
func (h *Handler) HandleWithdraw(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		h.sendMessage(m.ChannelID, "❌ Формат: !withdraw <сумма|all>")
		return
	}
	guildID := common.ParseID(m.GuildID)
	amount, b, err := h.service.Withdraw(ctx, guildID, common.ParseID(m.Author.ID), strings.ToLower(args[0]))
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	set, _ := h.service.Settings(ctx, guildID)
	h.sendMessage(m.ChannelID, fmt.Sprintf("🏦 Из банка снято %s\nКошелёк: %s · Банк: %s",
		money(set, amount), money(set, b.Wallet), money(set, b.Bank)))
}

// HandleDaily обрабатывает !daily.
func (h *Handler) HandleDaily(ctx context.Context, m *discordgo.MessageCreate) {
	amount, b, set, err := h.service.Daily(ctx, common.ParseID(m.GuildID), common.ParseID(m.Author.ID))
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("🎁 Ежедневная награда: %s\nВ кошельке: %s",
		set.Money(amount), set.Money(b.Wallet)))
}

// HandleWork обрабатывает !work.
func (h *Handler) HandleWork(ctx context.Context, m *discordgo.MessageCreate) {
	amount, b, set, err := h.service.Work(ctx, common.ParseID(m.GuildID), common.ParseID(m.Author.ID))
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, fmt.Sprintf("⚒ Смена отработана: %s\nВ кошельке: %s",
		set.Money(amount), set.Money(b.Wallet)))
}

// HandleRob обрабатывает !rob @участник.
func (h *Handler) HandleRob(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		h.sendMessage(m.ChannelID, "❌ Формат: !rob @участник")
		return
	}
	victimID, isBot := targetUser(m, args[0])
	if victimID == 0 {
		h.sendMessage(m.ChannelID, "❌ Укажите цель упоминанием")
		return
	}
	if isBot {
		h.replyError(m.ChannelID, common.ErrBotTarget)
		return
	}

	res, set, err := h.service.Rob(ctx, common.ParseID(m.GuildID), common.ParseID(m.Author.ID), victimID)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	switch {
	case res.Success:
		h.sendMessage(m.ChannelID, fmt.Sprintf("🦹 Удачное ограбление! Украдено %s у <@%d>\nВ кошельке: %s",
			set.Money(res.Amount), victimID, set.Money(res.Robber.Wallet)))
	case res.Amount > 0:
		h.sendMessage(m.ChannelID, fmt.Sprintf("🚓 Попались! Штраф %s уходит <@%d>\nВ кошельке: %s",
			set.Money(res.Amount), victimID, set.Money(res.Robber.Wallet)))
	default:
		h.sendMessage(m.ChannelID, "🚓 Попались! Но взять с вас нечего")
	}
}

// HandleLeaderboard обрабатывает !top — топ-10 по кошельку и банку.
func (h *Handler) HandleLeaderboard(ctx context.Context, m *discordgo.MessageCreate) {
	rows, set, err := h.service.Leaderboard(ctx, common.ParseID(m.GuildID))
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	if len(rows) == 0 {
		h.sendMessage(m.ChannelID, "📋 Пока никто ничего не заработал")
		return
	}

	var sb strings.Builder
	for i, b := range rows {
		fmt.Fprintf(&sb, "%s <@%d> — %s\n", place(i), b.UserID, set.Money(b.Total()))
	}
	h.sendEmbed(m.ChannelID, &discordgo.MessageEmbed{
		Title:       "🏆 Самые богатые",
		Description: sb.String(),
		Color:       0xF1C40F,
	})
}

// HandleHistory обрабатывает !history — последние операции.
func (h *Handler) HandleHistory(ctx context.Context, m *discordgo.MessageCreate) {
	guildID := common.ParseID(m.GuildID)
	userID := common.ParseID(m.Author.ID)
	txs, err := h.service.History(ctx, guildID, userID)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	if len(txs) == 0 {
		h.sendMessage(m.ChannelID, "📋 У вас пока нет операций")
		return
	}
	set, _ := h.service.Settings(ctx, guildID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 Последние %d операций:\n", len(txs))
	for i, tx := range txs {
		sign := int64(1)
		if tx.FromUserID != nil && *tx.FromUserID == userID && (tx.ToUserID == nil || *tx.ToUserID != userID) {
			sign = -1
		}
		fmt.Fprintf(&sb, "%d. %s | %s | %s\n", i+1,
			tx.CreatedAt.Format("02.01 15:04"),
			common.FormatSignedMoney(sign*tx.Amount, emoji(set)),
			tx.Description)
	}
	h.sendMessage(m.ChannelID, sb.String())
}

// HandleSettings обрабатывает !eco — показывает настройки экономики.
func (h *Handler) HandleSettings(ctx context.Context, m *discordgo.MessageCreate) {
	set, err := h.service.Settings(ctx, common.ParseID(m.GuildID))
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendEmbed(m.ChannelID, SettingsEmbed(set))
}

// HandleConfigure обрабатывает !eco-set <ключ> <значение...>.
// Права проверяет слой команд.
func (h *Handler) HandleConfigure(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		h.sendMessage(m.ChannelID, "❌ Формат: !eco-set <ключ> <значение>\nКлючи: "+strings.Join(SettingKeys, ", "))
		return
	}
	set, err := h.service.Configure(ctx, common.ParseID(m.GuildID), strings.ToLower(args[0]), args[1:])
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendEmbed(m.ChannelID, SettingsEmbed(set))
}

// SettingsEmbed рисует карточку настроек экономики.
func SettingsEmbed(set *Settings) *discordgo.MessageEmbed {
	maxBalance := "без лимита"
	if set.MaxBalance != nil {
		maxBalance = set.Money(*set.MaxBalance)
	}
	audit := "выключен"
	if set.AuditChannelID != nil {
		audit = fmt.Sprintf("<#%d>", *set.AuditChannelID)
	}
	reward := func(r Reward) string {
		return fmt.Sprintf("%s – %s, раз в %s", set.Money(r.Min), set.Money(r.Max), common.FormatDuration(r.Cooldown))
	}
	return &discordgo.MessageEmbed{
		Title: "⚙️ Экономика сервера",
		Color: 0x3498DB,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Валюта", Value: set.CurrencyName + " " + set.CurrencyEmoji, Inline: true},
			{Name: "Стартовый баланс", Value: set.Money(set.StartBalance), Inline: true},
			{Name: "Лимит кошелька", Value: maxBalance, Inline: true},
			{Name: "Журнал", Value: audit, Inline: true},
			{Name: "Daily", Value: reward(set.Daily())},
			{Name: "Work", Value: reward(set.Work())},
			{Name: "Rob", Value: reward(set.Rob())},
		},
	}
}

func (h *Handler) replyError(channelID string, err error) {
	var cd *CooldownError
	if errors.As(err, &cd) {
		h.sendMessage(channelID, "⏳ Рано! Подождите ещё "+common.FormatDuration(cd.Left))
		return
	}
	if !common.IsUserFacing(err) {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка команды экономики")
	}
	h.sendMessage(channelID, common.UserMessage(err))
}

// sendMessage — вспомогательный метод для отправки текстовых сообщений.
func (h *Handler) sendMessage(channelID string, text string) {
	if _, err := h.dg.ChannelMessageSend(channelID, text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка отправки сообщения")
	}
}

func (h *Handler) sendEmbed(channelID string, embed *discordgo.MessageEmbed) {
	if _, err := h.dg.ChannelMessageSendEmbed(channelID, embed); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка отправки сообщения")
	}
}

// targetUser достаёт id из упоминания и проверяет, не бот ли это.
func targetUser(m *discordgo.MessageCreate, arg string) (int64, bool) {
	id := common.ParseMentionID(arg)
	if id == 0 {
		return 0, false
	}
	for _, u := range m.Mentions {
		if u.ID == common.FormatID(id) {
			return id, u.Bot
		}
	}
	return id, false
}

func place(i int) string {
	switch i {
	case 0:
		return "🥇"
	case 1:
		return "🥈"
	case 2:
		return "🥉"
	}
	return fmt.Sprintf("%d.", i+1)
}

func emoji(set *Settings) string {
	if set == nil {
		return ""
	}
	return set.CurrencyEmoji
}

func money(set *Settings, amount int64) string {
	return common.FormatMoney(amount, emoji(set))
}
