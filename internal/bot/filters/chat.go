// Package filters решает, в каких каналах бот отвечает на команды.
package filters

import (
	"context"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

// Allowlist — белый список каналов сервера. В проде это *settings.Service.
type Allowlist interface {
	ChannelAllowed(ctx context.Context, guildID, channelID int64) (bool, error)
}

// ChatFilter пропускает команды только из разрешённых каналов.
type ChatFilter struct {
	allowlist Allowlist
}

func NewChatFilter(allowlist Allowlist) *ChatFilter {
	return &ChatFilter{allowlist: allowlist}
}

// CheckAccess — можно ли отвечать на сообщение. Личные сообщения
// фильтр не касается. Если базу не удалось спросить, отвечаем:
// лишний ответ лучше молчащего бота.
func (f *ChatFilter) CheckAccess(ctx context.Context, m *discordgo.MessageCreate) bool {
	if m == nil || m.Author == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/author")
		return false
	}
	if m.GuildID == "" {
		return true
	}

	logger := log.WithFields(log.Fields{
		"component":  "ChatFilter",
		"guild_id":   m.GuildID,
		"channel_id": m.ChannelID,
		"user_id":    m.Author.ID,
	})

	ok, err := f.allowlist.ChannelAllowed(ctx, common.ParseID(m.GuildID), common.ParseID(m.ChannelID))
	if err != nil {
		logger.WithError(err).Warn("allowlist check failed, allowing")
		return true
	}
	if !ok {
		logger.Debug("deny: channel not in allowlist")
	}
	return ok
}
