// Package casino — repository.go выполняет операции с таблицами casino_games и casino_stats.
package casino

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/guild-bot/internal/db/postgres"
)

// Repository работает с таблицами казино в БД.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий казино.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Record сохраняет игру в журнал и обновляет статистику игрока
// в одной транзакции.
func (r *Repository) Record(ctx context.Context, game *Game) error {
	return postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := postgres.Exec(ctx, tx, `
			INSERT INTO casino_games (guild_id, user_id, game_type, bet_amount, result_amount, game_data)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, game.GuildID, game.UserID, game.GameType, game.BetAmount, game.ResultAmount, string(game.GameData)); err != nil {
			return fmt.Errorf("ошибка сохранения игры: %w", err)
		}

		if _, err := postgres.Exec(ctx, tx, `
			INSERT INTO casino_stats (guild_id, user_id, total_games, total_wagered, total_won, biggest_win)
			VALUES ($1, $2, 1, $3, $4, $4)
			ON CONFLICT (guild_id, user_id) DO UPDATE SET
				total_games = casino_stats.total_games + 1,
				total_wagered = casino_stats.total_wagered + EXCLUDED.total_wagered,
				total_won = casino_stats.total_won + EXCLUDED.total_won,
				biggest_win = GREATEST(casino_stats.biggest_win, EXCLUDED.biggest_win),
				updated_at = NOW()
		`, game.GuildID, game.UserID, game.BetAmount, game.ResultAmount); err != nil {
			return fmt.Errorf("ошибка обновления статистики казино: %w", err)
		}
		return nil
	})
}

// GetStats возвращает статистику казино игрока.
// Если игрок ещё не играл — postgres.ErrNotFound.
func (r *Repository) GetStats(ctx context.Context, guildID, userID int64) (*Stats, error) {
	return postgres.One[Stats](ctx, r.db, `
		SELECT guild_id, user_id, total_games, total_wagered, total_won, biggest_win, created_at, updated_at
		FROM casino_stats
		WHERE guild_id = $1 AND user_id = $2
	`, guildID, userID)
}
