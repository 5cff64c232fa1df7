// Package leveling начисляет опыт за сообщения и повышает уровень.
// models.go описывает записи уровней и наград за уровни.
package leveling

import "time"

// Record — уровень и опыт участника на сервере (таблица levels).
// XP всегда меньше порога следующего уровня, кроме случая, когда одно
// начисление перепрыгнуло сразу два порога: повышение идёт на один уровень.
type Record struct {
	GuildID   int64     `db:"guild_id"`
	UserID    int64     `db:"user_id"`
	Level     int       `db:"level"`
	XP        int64     `db:"xp"`
	UpdatedAt time.Time `db:"updated_at"`
}

// RoleReward — роль, которая выдаётся при достижении уровня (таблица role_rewards).
type RoleReward struct {
	GuildID int64 `db:"guild_id"`
	Level   int   `db:"level"`
	RoleID  int64 `db:"role_id"`
}

// LevelUp — событие повышения уровня.
type LevelUp struct {
	Record Record
	Reward *RoleReward // nil — за этот уровень роли нет
}
