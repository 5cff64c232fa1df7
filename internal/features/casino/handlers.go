// Package casino — handlers.go обрабатывает команды !slots, !coinflip и !casino.
package casino

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/db/postgres"
)

// Handler обрабатывает команды казино.
type Handler struct {
	service *Service
	dg      *discordgo.Session
}

// NewHandler создаёт обработчик казино.
func NewHandler(service *Service, dg *discordgo.Session) *Handler {
	return &Handler{service: service, dg: dg}
}

// HandleSlots обрабатывает !slots <ставка>.
//
// Формат ответа:
//
//	🎰 | 🍒 | 🍒 | ⭐ |
//	💰 Выигрыш: 300 🪙 (x3)
//	📊 В кошельке: 1 250 🪙
func (h *Handler) HandleSlots(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	bet, ok := h.parseBet(m.ChannelID, args, "!slots <ставка>")
	if !ok {
		return
	}

	res, err := h.service.Slots(ctx, common.ParseID(m.GuildID), common.ParseID(m.Author.ID), bet)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}

	var sb strings.Builder
	sb.WriteString("🎰 " + FormatReels(res.Reels) + "\n")
	switch {
	case res.Multiplier > PairMultiplier:
		fmt.Fprintf(&sb, "💰 Выигрыш: %s (x%d)\n", common.FormatMoney(res.Payout, res.Emoji), res.Multiplier)
	case res.Multiplier == PairMultiplier:
		sb.WriteString("🤝 Пара — ставка возвращена\n")
	default:
		fmt.Fprintf(&sb, "💸 Мимо! −%s\n", common.FormatMoney(res.Bet, res.Emoji))
	}
	fmt.Fprintf(&sb, "📊 В кошельке: %s", common.FormatMoney(res.Wallet, res.Emoji))
	h.sendMessage(m.ChannelID, sb.String())
}

// HandleCoinflip обрабатывает !coinflip <ставка> <орёл|решка>.
func (h *Handler) HandleCoinflip(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	const usage = "!coinflip <ставка> <орёл|решка>"
	if len(args) < 2 {
		h.sendMessage(m.ChannelID, "❌ Формат: "+usage)
		return
	}
	side, ok := ParseSide(args[1])
	if !ok {
		h.sendMessage(m.ChannelID, "❌ Выберите сторону: орёл или решка")
		return
	}
	bet, ok := h.parseBet(m.ChannelID, args, usage)
	if !ok {
		return
	}

	res, err := h.service.Coinflip(ctx, common.ParseID(m.GuildID), common.ParseID(m.Author.ID), bet, side)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}

	text := fmt.Sprintf("🪙 Выпал %s!\n", res.Landed)
	if res.Won() {
		text += fmt.Sprintf("💰 Вы выиграли %s\n", common.FormatMoney(res.Payout, res.Emoji))
	} else {
		text += fmt.Sprintf("💸 Вы проиграли %s\n", common.FormatMoney(res.Bet, res.Emoji))
	}
	text += fmt.Sprintf("📊 В кошельке: %s", common.FormatMoney(res.Wallet, res.Emoji))
	h.sendMessage(m.ChannelID, text)
}

// HandleStats обрабатывает !casino — статистика игрока.
//
// Формат ответа:
//
//	📊 Статистика казино
//	Игр: 47
//	Поставлено: 2 350
//	Выиграно: 2 120
//	Лучший выигрыш: 1 500
//	Возврат: 90.21%
func (h *Handler) HandleStats(ctx context.Context, m *discordgo.MessageCreate) {
	st, err := h.service.GetStats(ctx, common.ParseID(m.GuildID), common.ParseID(m.Author.ID))
	if errors.Is(err, postgres.ErrNotFound) {
		h.sendMessage(m.ChannelID, "📊 У вас пока нет статистики. Сыграйте первую игру!")
		return
	}
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}

	h.sendMessage(m.ChannelID, fmt.Sprintf(
		"📊 Статистика казино\n\n"+
			"Игр: %d\n"+
			"Поставлено: %s\n"+
			"Выиграно: %s\n"+
			"Чистая прибыль: %s\n"+
			"💎 Лучший выигрыш: %s\n"+
			"📈 Возврат: %.2f%%",
		st.TotalGames,
		common.FormatNumber(st.TotalWagered),
		common.FormatNumber(st.TotalWon),
		common.FormatSignedMoney(st.TotalWon-st.TotalWagered, ""),
		common.FormatNumber(st.BiggestWin),
		st.RTP(),
	))
}

func (h *Handler) parseBet(channelID string, args []string, usage string) (int64, bool) {
	if len(args) == 0 {
		h.sendMessage(channelID, "❌ Формат: "+usage)
		return 0, false
	}
	bet, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || bet <= 0 {
		h.sendMessage(channelID, common.UserMessage(common.ErrInvalidAmount))
		return 0, false
	}
	if bet < h.service.MinBet() {
		h.sendMessage(channelID, fmt.Sprintf("❌ Минимальная ставка: %s", common.FormatNumber(h.service.MinBet())))
		return 0, false
	}
	return bet, true
}

func (h *Handler) replyError(channelID string, err error) {
	if !common.IsUserFacing(err) {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка игры в казино")
	}
	h.sendMessage(channelID, common.UserMessage(err))
}

func (h *Handler) sendMessage(channelID string, text string) {
	if _, err := h.dg.ChannelMessageSend(channelID, text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка отправки сообщения")
	}
}
