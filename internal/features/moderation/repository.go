// Package moderation — repository.go работает с таблицей warnings.
package moderation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/guild-bot/internal/db/postgres"
)

// Repository хранит предупреждения.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий модерации.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// AddWarning дописывает предупреждение и возвращает, сколько их теперь у участника.
func (r *Repository) AddWarning(ctx context.Context, w Warning) (int, error) {
	if _, err := postgres.Exec(ctx, r.db, `
		INSERT INTO warnings (guild_id, user_id, moderator_id, reason)
		VALUES ($1, $2, $3, $4)
	`, w.GuildID, w.UserID, w.ModeratorID, w.Reason); err != nil {
		return 0, fmt.Errorf("ошибка сохранения предупреждения: %w", err)
	}
	n, err := postgres.Scalar[int64](ctx, r.db,
		`SELECT COUNT(*) FROM warnings WHERE guild_id = $1 AND user_id = $2`, w.GuildID, w.UserID)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта предупреждений: %w", err)
	}
	return int(n), nil
}

// Warnings возвращает предупреждения участника, новые первыми.
func (r *Repository) Warnings(ctx context.Context, guildID, userID int64) ([]Warning, error) {
	return postgres.Many[Warning](ctx, r.db, `
		SELECT id, guild_id, user_id, moderator_id, reason, created_at
		FROM warnings
		WHERE guild_id = $1 AND user_id = $2
		ORDER BY created_at DESC, id DESC
	`, guildID, userID)
}

// ClearWarnings удаляет все предупреждения участника.
func (r *Repository) ClearWarnings(ctx context.Context, guildID, userID int64) (int64, error) {
	n, err := postgres.Exec(ctx, r.db, `DELETE FROM warnings WHERE guild_id = $1 AND user_id = $2`, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки предупреждений: %w", err)
	}
	return n, nil
}
