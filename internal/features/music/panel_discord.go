package music

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

// Custom ID кнопок панели. Роутер бота передаёт нажатия в HandleButton.
const (
	ButtonPrefix   = "music:"
	ButtonPause    = ButtonPrefix + "pause"
	ButtonSkip     = ButtonPrefix + "skip"
	ButtonStop     = ButtonPrefix + "stop"
	ButtonPrevious = ButtonPrefix + "prev"
	ButtonLoop     = ButtonPrefix + "loop"
	ButtonShuffle  = ButtonPrefix + "shuffle"
	ButtonAutoplay = ButtonPrefix + "autoplay"
)

const (
	panelColor    = 0x1DB954
	queuePreview  = 5
	titleMaxRunes = 80
)

// DiscordPanel отправляет панель управления в текстовый канал.
type DiscordPanel struct {
	dg *discordgo.Session
}

// NewDiscordPanel создаёт рендерер панели.
func NewDiscordPanel(dg *discordgo.Session) *DiscordPanel {
	return &DiscordPanel{dg: dg}
}

func (p *DiscordPanel) Show(ctx context.Context, channelID int64, snap Snapshot) (PanelRef, error) {
	msg, err := p.dg.ChannelMessageSendComplex(common.FormatID(channelID), &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{PanelEmbed(snap)},
		Components: PanelComponents(snap),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return PanelRef{}, err
	}
	return PanelRef{ChannelID: channelID, MessageID: common.ParseID(msg.ID)}, nil
}

func (p *DiscordPanel) Update(ctx context.Context, ref PanelRef, snap Snapshot) error {
	embeds := []*discordgo.MessageEmbed{PanelEmbed(snap)}
	components := PanelComponents(snap)
	_, err := p.dg.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    common.FormatID(ref.ChannelID),
		ID:         common.FormatID(ref.MessageID),
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	return err
}

func (p *DiscordPanel) Delete(ctx context.Context, ref PanelRef) error {
	return p.dg.ChannelMessageDelete(common.FormatID(ref.ChannelID), common.FormatID(ref.MessageID), discordgo.WithContext(ctx))
}

func (p *DiscordPanel) Notify(ctx context.Context, channelID int64, text string) {
	if _, err := p.dg.ChannelMessageSend(common.FormatID(channelID), text, discordgo.WithContext(ctx)); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Warn("Не удалось отправить уведомление плеера")
	}
}

// PanelEmbed собирает карточку «сейчас играет».
func PanelEmbed(snap Snapshot) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Color: panelColor}

	switch {
	case snap.Current == nil && snap.State == StateAutoplaySearch:
		e.Title = "🔎 Автоплей ищет продолжение…"
	case snap.Current == nil:
		e.Title = "💤 Очередь закончилась"
		e.Description = "Добавьте трек командой `!play`"
	case snap.State == StatePaused:
		e.Title = "⏸ На паузе"
	default:
		e.Title = "🎶 Сейчас играет"
	}

	if cur := snap.Current; cur != nil {
		e.Description = fmt.Sprintf("**[%s](%s)**", common.Truncate(cur.Title, titleMaxRunes), cur.URL)
		if cur.Thumbnail != "" {
			e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: cur.Thumbnail}
		}
		requester := "автоплей"
		if cur.RequesterID != 0 {
			requester = fmt.Sprintf("<@%d>", cur.RequesterID)
		}
		e.Fields = append(e.Fields,
			&discordgo.MessageEmbedField{Name: "Длительность", Value: common.FormatClock(cur.Duration), Inline: true},
			&discordgo.MessageEmbedField{Name: "Заказал", Value: requester, Inline: true},
		)
	}

	e.Fields = append(e.Fields,
		&discordgo.MessageEmbedField{Name: "Повтор", Value: loopLabel(snap.Loop), Inline: true},
		&discordgo.MessageEmbedField{Name: "Автоплей", Value: onOff(snap.Autoplay), Inline: true},
		&discordgo.MessageEmbedField{Name: "Громкость", Value: fmt.Sprintf("%d%%", int(snap.Volume*100+0.5)), Inline: true},
	)

	if len(snap.Queue) > 0 {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("Дальше (%d %s)", len(snap.Queue), common.PluralizeTracks(len(snap.Queue))),
			Value: QueueText(snap.Queue, queuePreview),
		})
	}
	return e
}

// QueueText — нумерованный список первых limit треков очереди.
func QueueText(queue []Track, limit int) string {
	if len(queue) == 0 {
		return "Очередь пуста"
	}
	var sb strings.Builder
	for i, t := range queue {
		if i == limit {
			fmt.Fprintf(&sb, "…и ещё %d", len(queue)-limit)
			break
		}
		fmt.Fprintf(&sb, "`%d.` %s `%s`\n", i+1, common.Truncate(t.Title, titleMaxRunes), common.FormatClock(t.Duration))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// PanelComponents — две строки кнопок управления.
func PanelComponents(snap Snapshot) []discordgo.MessageComponent {
	pauseLabel, pauseEmoji := "Пауза", "⏸"
	if snap.State == StatePaused {
		pauseLabel, pauseEmoji = "Дальше", "▶️"
	}
	noTrack := snap.Current == nil

	autoplayStyle := discordgo.SecondaryButton
	if snap.Autoplay {
		autoplayStyle = discordgo.SuccessButton
	}
	loopStyle := discordgo.SecondaryButton
	if snap.Loop != LoopOff {
		loopStyle = discordgo.SuccessButton
	}

	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{CustomID: ButtonPrevious, Emoji: &discordgo.ComponentEmoji{Name: "⏮"}, Style: discordgo.SecondaryButton, Disabled: len(snap.History) < 2},
			discordgo.Button{CustomID: ButtonPause, Label: pauseLabel, Emoji: &discordgo.ComponentEmoji{Name: pauseEmoji}, Style: discordgo.PrimaryButton, Disabled: noTrack},
			discordgo.Button{CustomID: ButtonSkip, Emoji: &discordgo.ComponentEmoji{Name: "⏭"}, Style: discordgo.SecondaryButton, Disabled: noTrack},
			discordgo.Button{CustomID: ButtonStop, Emoji: &discordgo.ComponentEmoji{Name: "⏹"}, Style: discordgo.DangerButton},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{CustomID: ButtonLoop, Label: "Повтор", Emoji: &discordgo.ComponentEmoji{Name: "🔁"}, Style: loopStyle},
			discordgo.Button{CustomID: ButtonShuffle, Label: "Перемешать", Emoji: &discordgo.ComponentEmoji{Name: "🔀"}, Style: discordgo.SecondaryButton, Disabled: len(snap.Queue) < 2},
			discordgo.Button{CustomID: ButtonAutoplay, Label: "Автоплей", Emoji: &discordgo.ComponentEmoji{Name: "♾"}, Style: autoplayStyle},
		}},
	}
}

func loopLabel(m LoopMode) string {
	switch m {
	case LoopTrack:
		return "🔂 трек"
	case LoopQueue:
		return "🔁 очередь"
	default:
		return "выкл"
	}
}

func onOff(b bool) string {
	if b {
		return "вкл"
	}
	return "выкл"
}
