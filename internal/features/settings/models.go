// Package settings хранит конфигурацию сервера: префикс команд, уровни,
// каналы журналов, настройки озвучки, белый список каналов и роли за реакции.
package settings

import "time"

// DefaultPrefix — префикс команд, пока сервер не задал свой.
const DefaultPrefix = "!"

// Guild — строка guild_settings.
type Guild struct {
	GuildID         int64     `db:"guild_id"`
	Prefix          string    `db:"prefix"`
	LevelingEnabled bool      `db:"leveling_enabled"`
	LevelChannelID  *int64    `db:"level_channel_id"`
	ModLogChannelID *int64    `db:"mod_log_channel_id"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// TTS — строка tts_settings. Сам синтез речи живёт вне бота,
// здесь только хранится, включён ли он и на каком языке.
type TTS struct {
	GuildID   int64     `db:"guild_id"`
	Enabled   bool      `db:"enabled"`
	Language  string    `db:"language"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ReactionRole — роль, которую выдаёт реакция на сообщение.
type ReactionRole struct {
	GuildID   int64  `db:"guild_id"`
	MessageID int64  `db:"message_id"`
	Emoji     string `db:"emoji"`
	RoleID    int64  `db:"role_id"`
}

// Assignment — новое значение одной колонки.
type Assignment struct {
	Column string
	Value  any
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
