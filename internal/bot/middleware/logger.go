// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и ограничения флуда.
package middleware

import (
	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

// LogMessage логирует входящее сообщение и возвращает логгер с полями события.
// Текст обрезается до 50 символов.
func LogMessage(m *discordgo.MessageCreate, requestID string) *log.Entry {
	entry := log.WithFields(log.Fields{
		"request_id": requestID,
		"guild_id":   m.GuildID,
		"channel_id": m.ChannelID,
	})
	if m.Author != nil {
		entry = entry.WithFields(log.Fields{
			"user_id":  m.Author.ID,
			"username": m.Author.Username,
		})
	}
	entry.WithField("text", common.Truncate(m.Content, 50)).Debug("Входящее сообщение")
	return entry
}
