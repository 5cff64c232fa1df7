// Package music — handlers.go обрабатывает команды плеера:
// !play, !skip, !stop, !pause, !resume, !prev, !queue, !np, !loop,
// !shuffle, !move, !remove, !clear, !autoplay, !volume, !leave
// и нажатия кнопок на панели.
package music

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

// Handler обрабатывает музыкальные команды.
type Handler struct {
	registry *Registry
	resolver Resolver
	dg       *discordgo.Session
}

// NewHandler создаёт обработчик музыкальных команд.
func NewHandler(registry *Registry, resolver Resolver, dg *discordgo.Session) *Handler {
	return &Handler{registry: registry, resolver: resolver, dg: dg}
}

// HandlePlay обрабатывает !play <ссылка или запрос>.
func (h *Handler) HandlePlay(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		h.sendMessage(m.ChannelID, "❌ Формат: !play <ссылка или название>")
		return
	}

	voiceChannelID, err := h.userVoiceChannel(m.GuildID, m.Author.ID)
	if err != nil {
		h.sendMessage(m.ChannelID, common.UserMessage(err))
		return
	}

	query := strings.Join(args, " ")
	tracks, err := h.resolver.Resolve(ctx, query)
	if err != nil || len(tracks) == 0 {
		if err != nil && !errors.Is(err, common.ErrNothingFound) {
			log.WithError(err).WithField("query", query).Warn("Поиск трека не удался")
		}
		h.sendMessage(m.ChannelID, "🔎 По запросу ничего не найдено")
		return
	}

	requester := common.ParseID(m.Author.ID)
	for i := range tracks {
		tracks[i].RequesterID = requester
	}

	s := h.registry.GetOrCreate(common.ParseID(m.GuildID))
	if err := s.Join(ctx, voiceChannelID, common.ParseID(m.ChannelID)); err != nil {
		log.WithError(err).WithField("guild_id", m.GuildID).Error("Не удалось подключиться к голосу")
		h.sendMessage(m.ChannelID, "❌ Не удалось подключиться к голосовому каналу")
		return
	}

	pos, err := s.Enqueue(ctx, tracks...)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}

	switch {
	case len(tracks) > 1:
		h.sendMessage(m.ChannelID, fmt.Sprintf("📃 Добавлено %d %s в очередь", len(tracks), common.PluralizeTracks(len(tracks))))
	case pos > 0:
		h.sendMessage(m.ChannelID, fmt.Sprintf("➕ «%s» добавлен в очередь (позиция %d)", common.Truncate(tracks[0].Title, titleMaxRunes), pos))
	}
}

// HandleSkip обрабатывает !skip.
func (h *Handler) HandleSkip(ctx context.Context, m *discordgo.MessageCreate) {
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return "⏭ Пропущено", s.Skip(ctx)
	})
}

// HandleStop обрабатывает !stop.
func (h *Handler) HandleStop(ctx context.Context, m *discordgo.MessageCreate) {
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return "⏹ Остановлено, очередь очищена", s.Stop(ctx)
	})
}

// HandlePause обрабатывает !pause.
func (h *Handler) HandlePause(ctx context.Context, m *discordgo.MessageCreate) {
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return "⏸ Пауза", s.Pause(ctx)
	})
}

// HandleResume обрабатывает !resume.
func (h *Handler) HandleResume(ctx context.Context, m *discordgo.MessageCreate) {
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return "▶️ Продолжаем", s.Resume(ctx)
	})
}

// HandlePrevious обрабатывает !prev.
func (h *Handler) HandlePrevious(ctx context.Context, m *discordgo.MessageCreate) {
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return "⏮ Возвращаю предыдущий трек", s.Previous(ctx)
	})
}

// HandleShuffle обрабатывает !shuffle.
func (h *Handler) HandleShuffle(ctx context.Context, m *discordgo.MessageCreate) {
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return "🔀 Очередь перемешана", s.Shuffle(ctx)
	})
}

// HandleLeave обрабатывает !leave.
func (h *Handler) HandleLeave(ctx context.Context, m *discordgo.MessageCreate) {
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return "👋 Отключаюсь", s.Leave(ctx)
	})
}

// HandleClear обрабатывает !clear.
func (h *Handler) HandleClear(ctx context.Context, m *discordgo.MessageCreate) {
	h.withSession(ctx, m, func(s *Session) (string, error) {
		n, err := s.Clear(ctx)
		return fmt.Sprintf("🧹 Убрано %d %s из очереди", n, common.PluralizeTracks(n)), err
	})
}

// HandleLoop обрабатывает !loop [off|track|queue]. Без аргумента переключает по кругу.
func (h *Handler) HandleLoop(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		h.withSession(ctx, m, func(s *Session) (string, error) {
			mode, err := s.CycleLoop(ctx)
			return "🔁 Повтор: " + loopLabel(mode), err
		})
		return
	}

	mode, err := ParseLoopMode(args[0])
	if err != nil {
		h.sendMessage(m.ChannelID, "❌ "+err.Error())
		return
	}
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return "🔁 Повтор: " + loopLabel(mode), s.SetLoop(ctx, mode)
	})
}

// HandleAutoplay обрабатывает !autoplay [on|off].
func (h *Handler) HandleAutoplay(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	h.withSession(ctx, m, func(s *Session) (string, error) {
		if len(args) == 0 {
			on, err := s.ToggleAutoplay(ctx)
			return "♾ Автоплей: " + onOff(on), err
		}
		on := parseOnOff(args[0])
		return "♾ Автоплей: " + onOff(on), s.SetAutoplay(ctx, on)
	})
}

// HandleVolume обрабатывает !volume <0-200>.
func (h *Handler) HandleVolume(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		h.sendMessage(m.ChannelID, "❌ Формат: !volume <0-200>")
		return
	}
	percent, err := strconv.Atoi(strings.TrimSuffix(args[0], "%"))
	if err != nil {
		h.sendMessage(m.ChannelID, common.UserMessage(common.ErrInvalidVolume))
		return
	}
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return fmt.Sprintf("🔊 Громкость %d%% (со следующего трека)", percent), s.SetVolume(ctx, percent)
	})
}

// HandleMove обрабатывает !move <откуда> <куда>.
func (h *Handler) HandleMove(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		h.sendMessage(m.ChannelID, "❌ Формат: !move <откуда> <куда>")
		return
	}
	from, err1 := strconv.Atoi(args[0])
	to, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		h.sendMessage(m.ChannelID, common.UserMessage(common.ErrBadPosition))
		return
	}
	h.withSession(ctx, m, func(s *Session) (string, error) {
		return fmt.Sprintf("↕️ Трек перенесён с %d на %d", from, to), s.Move(ctx, from, to)
	})
}

// HandleRemove обрабатывает !remove <позиция>.
func (h *Handler) HandleRemove(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		h.sendMessage(m.ChannelID, "❌ Формат: !remove <позиция>")
		return
	}
	pos, err := strconv.Atoi(args[0])
	if err != nil {
		h.sendMessage(m.ChannelID, common.UserMessage(common.ErrBadPosition))
		return
	}
	h.withSession(ctx, m, func(s *Session) (string, error) {
		t, err := s.Remove(ctx, pos)
		return fmt.Sprintf("🗑 «%s» убран из очереди", common.Truncate(t.Title, titleMaxRunes)), err
	})
}

// HandleQueue обрабатывает !queue — показывает очередь.
func (h *Handler) HandleQueue(ctx context.Context, m *discordgo.MessageCreate) {
	s, ok := h.registry.Get(common.ParseID(m.GuildID))
	if !ok {
		h.sendMessage(m.ChannelID, "📭 Очередь пуста")
		return
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}

	var sb strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&sb, "🎶 **Сейчас:** %s `%s`\n\n", common.Truncate(snap.Current.Title, titleMaxRunes), common.FormatClock(snap.Current.Duration))
	}
	sb.WriteString(QueueText(snap.Queue, 15))
	h.sendMessage(m.ChannelID, sb.String())
}

// HandleNowPlaying обрабатывает !np — присылает свежую панель.
func (h *Handler) HandleNowPlaying(ctx context.Context, m *discordgo.MessageCreate) {
	s, ok := h.registry.Get(common.ParseID(m.GuildID))
	if !ok {
		h.sendMessage(m.ChannelID, common.UserMessage(common.ErrNothingPlaying))
		return
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	if snap.Current == nil {
		h.sendMessage(m.ChannelID, common.UserMessage(common.ErrNothingPlaying))
		return
	}
	if _, err := h.dg.ChannelMessageSendEmbed(m.ChannelID, PanelEmbed(snap)); err != nil {
		log.WithError(err).WithField("channel_id", m.ChannelID).Error("Ошибка отправки сообщения")
	}
}

// HandleButton обрабатывает нажатие кнопки на панели.
func (h *Handler) HandleButton(ctx context.Context, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID

	// Сначала подтверждаем нажатие: у Discord на это 3 секунды.
	if err := h.dg.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.WithError(err).WithField("custom_id", customID).Warn("Не удалось подтвердить нажатие")
		return
	}

	s, ok := h.registry.Get(common.ParseID(i.GuildID))
	if !ok {
		h.followup(i, common.UserMessage(common.ErrNothingPlaying))
		return
	}

	var err error
	switch customID {
	case ButtonPause:
		err = s.TogglePause(ctx)
	case ButtonSkip:
		err = s.Skip(ctx)
	case ButtonStop:
		err = s.Stop(ctx)
	case ButtonPrevious:
		err = s.Previous(ctx)
	case ButtonLoop:
		_, err = s.CycleLoop(ctx)
	case ButtonShuffle:
		err = s.Shuffle(ctx)
	case ButtonAutoplay:
		_, err = s.ToggleAutoplay(ctx)
	default:
		log.WithField("custom_id", customID).Debug("Неизвестная кнопка плеера")
		return
	}
	if err != nil {
		h.followup(i, common.UserMessage(err))
	}
}

func (h *Handler) withSession(ctx context.Context, m *discordgo.MessageCreate, fn func(s *Session) (string, error)) {
	s, ok := h.registry.Get(common.ParseID(m.GuildID))
	if !ok {
		h.sendMessage(m.ChannelID, common.UserMessage(common.ErrNothingPlaying))
		return
	}
	text, err := fn(s)
	if err != nil {
		h.replyError(m.ChannelID, err)
		return
	}
	h.sendMessage(m.ChannelID, text)
}

func (h *Handler) userVoiceChannel(guildID, userID string) (int64, error) {
	vs, err := h.dg.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return 0, common.ErrNotInVoice
	}
	return common.ParseID(vs.ChannelID), nil
}

func (h *Handler) replyError(channelID string, err error) {
	if !common.IsUserFacing(err) {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка команды плеера")
	}
	h.sendMessage(channelID, common.UserMessage(err))
}

func (h *Handler) followup(i *discordgo.InteractionCreate, text string) {
	if _, err := h.dg.FollowupMessageCreate(i.Interaction, false, &discordgo.WebhookParams{
		Content: text,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		log.WithError(err).Debug("Не удалось отправить ответ на нажатие")
	}
}

// sendMessage — утилита для отправки сообщений.
func (h *Handler) sendMessage(channelID string, text string) {
	if _, err := h.dg.ChannelMessageSend(channelID, text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка отправки сообщения")
	}
}

func parseOnOff(s string) bool {
	switch strings.ToLower(s) {
	case "on", "вкл", "да", "1", "true":
		return true
	}
	return false
}
