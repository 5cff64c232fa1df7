// Package leveling — repository.go работает с таблицами levels и role_rewards.
package leveling

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/guild-bot/internal/db/postgres"
)

// Repository предоставляет методы для работы с уровнями.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий уровней.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const recordColumns = `guild_id, user_id, level, xp, updated_at`

// AddXP атомарно начисляет опыт: строка блокируется, новое значение
// считает Apply.
func (r *Repository) AddXP(ctx context.Context, guildID, userID, gain int64) (Record, bool, error) {
	var (
		out       Record
		leveledUp bool
	)
	err := postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := postgres.Exec(ctx, tx, `
			INSERT INTO levels (guild_id, user_id) VALUES ($1, $2)
			ON CONFLICT (guild_id, user_id) DO NOTHING
		`, guildID, userID); err != nil {
			return fmt.Errorf("ошибка создания уровня: %w", err)
		}
		cur, err := postgres.One[Record](ctx, tx, `
			SELECT `+recordColumns+` FROM levels
			WHERE guild_id = $1 AND user_id = $2
			FOR UPDATE
		`, guildID, userID)
		if err != nil {
			return fmt.Errorf("ошибка блокировки уровня: %w", err)
		}

		out, leveledUp = Apply(*cur, gain)
		if _, err := postgres.Exec(ctx, tx, `
			UPDATE levels SET level = $3, xp = $4, updated_at = NOW()
			WHERE guild_id = $1 AND user_id = $2
		`, guildID, userID, out.Level, out.XP); err != nil {
			return fmt.Errorf("ошибка обновления уровня: %w", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return out, leveledUp, nil
}

// Get возвращает уровень участника. Если записи нет — уровень 1 без опыта.
func (r *Repository) Get(ctx context.Context, guildID, userID int64) (Record, error) {
	rec, err := postgres.One[Record](ctx, r.db,
		`SELECT `+recordColumns+` FROM levels WHERE guild_id = $1 AND user_id = $2`, guildID, userID)
	if errors.Is(err, postgres.ErrNotFound) {
		return Record{GuildID: guildID, UserID: userID, Level: 1}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("ошибка получения уровня: %w", err)
	}
	return *rec, nil
}

// Rank — место участника на сервере (1 — первый).
func (r *Repository) Rank(ctx context.Context, rec Record) (int, error) {
	n, err := postgres.Scalar[int64](ctx, r.db, `
		SELECT COUNT(*) FROM levels
		WHERE guild_id = $1 AND (level > $2 OR (level = $2 AND xp > $3))
	`, rec.GuildID, rec.Level, rec.XP)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта места: %w", err)
	}
	return int(n) + 1, nil
}

// Leaderboard возвращает топ по уровню и опыту.
func (r *Repository) Leaderboard(ctx context.Context, guildID int64, limit int) ([]Record, error) {
	return postgres.Many[Record](ctx, r.db, `
		SELECT `+recordColumns+` FROM levels
		WHERE guild_id = $1
		ORDER BY level DESC, xp DESC, user_id
		LIMIT $2
	`, guildID, limit)
}

// RewardFor возвращает награду за уровень или postgres.ErrNotFound.
func (r *Repository) RewardFor(ctx context.Context, guildID int64, level int) (*RoleReward, error) {
	return postgres.One[RoleReward](ctx, r.db,
		`SELECT guild_id, level, role_id FROM role_rewards WHERE guild_id = $1 AND level = $2`, guildID, level)
}

// SetReward назначает роль за уровень. На уровень — не больше одной роли.
func (r *Repository) SetReward(ctx context.Context, rw RoleReward) error {
	_, err := postgres.Exec(ctx, r.db, `
		INSERT INTO role_rewards (guild_id, level, role_id) VALUES ($1, $2, $3)
		ON CONFLICT (guild_id, level) DO UPDATE SET role_id = EXCLUDED.role_id
	`, rw.GuildID, rw.Level, rw.RoleID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения награды: %w", err)
	}
	return nil
}

// DeleteReward убирает награду за уровень. Возвращает, была ли она.
func (r *Repository) DeleteReward(ctx context.Context, guildID int64, level int) (bool, error) {
	n, err := postgres.Exec(ctx, r.db, `DELETE FROM role_rewards WHERE guild_id = $1 AND level = $2`, guildID, level)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления награды: %w", err)
	}
	return n > 0, nil
}

// Rewards возвращает все награды сервера по возрастанию уровня.
func (r *Repository) Rewards(ctx context.Context, guildID int64) ([]RoleReward, error) {
	return postgres.Many[RoleReward](ctx, r.db,
		`SELECT guild_id, level, role_id FROM role_rewards WHERE guild_id = $1 ORDER BY level`, guildID)
}
