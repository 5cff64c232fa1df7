// Package admin — доступ владельцев бота к служебным командам.
// Владелец пишет боту в личку, входит по паролю (Argon2id) и получает
// сессию на сутки. models.go описывает сессии, попытки входа и шаги диалога.
package admin

import "time"

const (
	// SessionTTL — сколько живёт сессия после входа.
	SessionTTL = 24 * time.Hour
	// MaxFailedAttempts — после стольких неудачных попыток за AttemptWindow вход блокируется.
	MaxFailedAttempts = 3
	// AttemptWindow — окно подсчёта неудачных попыток.
	AttemptWindow = time.Hour
	// StateTTL — сколько ждём ответа на шаге диалога.
	StateTTL = 5 * time.Minute
)

// Session — сессия владельца (таблица admin_sessions).
type Session struct {
	ID              int64     `db:"id"`
	UserID          int64     `db:"user_id"`
	SessionToken    string    `db:"session_token"`
	AuthenticatedAt time.Time `db:"authenticated_at"`
	ExpiresAt       time.Time `db:"expires_at"`
	LastActivity    time.Time `db:"last_activity"`
	IsActive        bool      `db:"is_active"`
}

// State — шаг диалога в личке.
type State struct {
	Name      string
	GuildID   int64
	ExpiresAt time.Time
}

// Шаги диалога
const (
	StateNone             = ""
	StateAwaitingPassword = "awaiting_password" // ждём пароль
	StateConfirmReset     = "confirm_reset"     // ждём "да" на сброс экономики
)
