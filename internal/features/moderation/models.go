// Package moderation ведёт журнал предупреждений и выдаёт таймауты.
package moderation

import "time"

// Warning — предупреждение участнику (таблица warnings).
// Журнал только дописывается; удаляются все предупреждения участника разом.
type Warning struct {
	ID          int64     `db:"id"`
	GuildID     int64     `db:"guild_id"`
	UserID      int64     `db:"user_id"`
	ModeratorID int64     `db:"moderator_id"`
	Reason      string    `db:"reason"`
	CreatedAt   time.Time `db:"created_at"`
}

// MaxTimeout — Discord не даёт таймаут длиннее 28 дней.
const MaxTimeout = 28 * 24 * time.Hour

// Action — кто, кого и почему наказывает.
type Action struct {
	GuildID     int64
	TargetID    int64
	ModeratorID int64
	TargetIsBot bool
	Reason      string
}
