// Package admin — repository.go работает с таблицами admin_sessions и admin_login_attempts.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/guild-bot/internal/db/postgres"
)

// Repository работает с админ-таблицами.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSession создаёт сессию. Прежние сессии владельца гасятся в той же транзакции.
func (r *Repository) CreateSession(ctx context.Context, s Session) error {
	return postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := postgres.Exec(ctx, tx,
			`UPDATE admin_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`, s.UserID); err != nil {
			return fmt.Errorf("ошибка закрытия старых сессий: %w", err)
		}
		if _, err := postgres.Exec(ctx, tx, `
			INSERT INTO admin_sessions (user_id, session_token, expires_at, is_active)
			VALUES ($1, $2, $3, TRUE)
		`, s.UserID, s.SessionToken, s.ExpiresAt); err != nil {
			return fmt.Errorf("ошибка создания сессии: %w", err)
		}
		return nil
	})
}

// ActiveSession возвращает действующую сессию или postgres.ErrNotFound.
func (r *Repository) ActiveSession(ctx context.Context, userID int64) (*Session, error) {
	return postgres.One[Session](ctx, r.db, `
		SELECT id, user_id, session_token, authenticated_at, expires_at, last_activity, is_active
		FROM admin_sessions
		WHERE user_id = $1 AND is_active = TRUE AND expires_at > NOW()
		ORDER BY authenticated_at DESC
		LIMIT 1
	`, userID)
}

// DeactivateSessions закрывает все сессии владельца.
func (r *Repository) DeactivateSessions(ctx context.Context, userID int64) error {
	if _, err := postgres.Exec(ctx, r.db,
		`UPDATE admin_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`, userID); err != nil {
		return fmt.Errorf("ошибка закрытия сессии: %w", err)
	}
	return nil
}

// Touch обновляет время последней активности.
func (r *Repository) Touch(ctx context.Context, userID int64) error {
	_, err := postgres.Exec(ctx, r.db,
		`UPDATE admin_sessions SET last_activity = NOW() WHERE user_id = $1 AND is_active = TRUE`, userID)
	return err
}

// ExpireSessions закрывает истёкшие сессии. Возвращает, сколько закрыто.
func (r *Repository) ExpireSessions(ctx context.Context) (int64, error) {
	n, err := postgres.Exec(ctx, r.db,
		`UPDATE admin_sessions SET is_active = FALSE WHERE is_active = TRUE AND expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("ошибка закрытия истёкших сессий: %w", err)
	}
	return n, nil
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, userID int64, success bool) error {
	_, err := postgres.Exec(ctx, r.db,
		`INSERT INTO admin_login_attempts (user_id, success) VALUES ($1, $2)`, userID, success)
	return err
}

// FailedAttempts — число неудачных попыток за период.
func (r *Repository) FailedAttempts(ctx context.Context, userID int64, period time.Duration) (int, error) {
	n, err := postgres.Scalar[int64](ctx, r.db, `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE user_id = $1 AND success = FALSE AND attempt_time >= $2
	`, userID, time.Now().Add(-period))
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта попыток входа: %w", err)
	}
	return int(n), nil
}
