// Package economy — repository.go выполняет все операции с таблицами
// economy_settings, balances и economy_transactions.
// Все денежные операции выполняются в транзакциях БД для целостности данных.
package economy

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/guild-bot/internal/db/postgres"
)

// Assignment — пара «колонка = значение» для обновления настроек.
// Колонка берётся только из белого списка сервиса.
type Assignment struct {
	Column string
	Value  any
}

// Repository предоставляет методы для работы с балансами и транзакциями.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий экономики.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const settingsColumns = `guild_id, currency_name, currency_emoji, start_balance, max_balance,
	audit_channel_id, daily_min, daily_max, daily_cooldown_sec, work_min, work_max,
	work_cooldown_sec, rob_min, rob_max, rob_cooldown_sec, created_at, updated_at`

const balanceColumns = `guild_id, user_id, wallet, bank, created_at, updated_at`

// EnsureSettings возвращает настройки сервера, создавая строку с дефолтами.
func (r *Repository) EnsureSettings(ctx context.Context, guildID int64) (*Settings, error) {
	if _, err := postgres.Exec(ctx, r.db, `
		INSERT INTO economy_settings (guild_id) VALUES ($1)
		ON CONFLICT (guild_id) DO NOTHING
	`, guildID); err != nil {
		return nil, fmt.Errorf("ошибка создания настроек экономики: %w", err)
	}
	s, err := postgres.One[Settings](ctx, r.db,
		`SELECT `+settingsColumns+` FROM economy_settings WHERE guild_id = $1`, guildID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения настроек экономики: %w", err)
	}
	return s, nil
}

// UpdateSettings обновляет перечисленные колонки одним запросом.
func (r *Repository) UpdateSettings(ctx context.Context, guildID int64, set []Assignment) error {
	if len(set) == 0 {
		return nil
	}
	parts := make([]string, 0, len(set)+1)
	args := []any{guildID}
	for _, a := range set {
		args = append(args, a.Value)
		parts = append(parts, fmt.Sprintf("%s = $%d", pgx.Identifier{a.Column}.Sanitize(), len(args)))
	}
	parts = append(parts, "updated_at = NOW()")

	query := `UPDATE economy_settings SET ` + strings.Join(parts, ", ") + ` WHERE guild_id = $1`
	if _, err := postgres.Exec(ctx, r.db, query, args...); err != nil {
		return fmt.Errorf("ошибка обновления настроек экономики: %w", err)
	}
	return nil
}

// GetBalance возвращает баланс участника, создавая его со стартовой суммой.
func (r *Repository) GetBalance(ctx context.Context, guildID, userID, start int64) (*Balance, error) {
	if err := ensureBalance(ctx, r.db, guildID, userID, start); err != nil {
		return nil, err
	}
	b, err := postgres.One[Balance](ctx, r.db,
		`SELECT `+balanceColumns+` FROM balances WHERE guild_id = $1 AND user_id = $2`, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return b, nil
}

// Apply атомарно применяет изменения балансов и пишет запись в журнал.
// Строки блокируются (FOR UPDATE) по возрастанию user_id. Если хотя бы одно
// изменение не проходит проверку — откатывается вся операция.
func (r *Repository) Apply(ctx context.Context, guildID int64, limits Limits, deltas []Delta, entry Entry) (map[int64]Balance, error) {
	out := make(map[int64]Balance, len(deltas))
	err := postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, d := range mergeDeltas(deltas) {
			if err := ensureBalance(ctx, tx, guildID, d.UserID, limits.Start); err != nil {
				return err
			}
			cur, err := postgres.One[Balance](ctx, tx, `
				SELECT `+balanceColumns+` FROM balances
				WHERE guild_id = $1 AND user_id = $2
				FOR UPDATE
			`, guildID, d.UserID)
			if err != nil {
				return fmt.Errorf("ошибка блокировки баланса: %w", err)
			}

			next, err := ApplyDelta(*cur, d, limits.Max)
			if err != nil {
				return err
			}
			if _, err := postgres.Exec(ctx, tx, `
				UPDATE balances SET wallet = $3, bank = $4, updated_at = NOW()
				WHERE guild_id = $1 AND user_id = $2
			`, guildID, d.UserID, next.Wallet, next.Bank); err != nil {
				return fmt.Errorf("ошибка обновления баланса: %w", err)
			}
			out[d.UserID] = next
		}

		if _, err := postgres.Exec(ctx, tx, `
			INSERT INTO economy_transactions (guild_id, from_user_id, to_user_id, amount, kind, description)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, guildID, entry.From, entry.To, entry.Amount, entry.Kind, entry.Description); err != nil {
			return fmt.Errorf("ошибка записи транзакции: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Leaderboard возвращает самых богатых по сумме кошелька и банка.
func (r *Repository) Leaderboard(ctx context.Context, guildID int64, limit int) ([]Balance, error) {
	rows, err := postgres.Many[Balance](ctx, r.db, `
		SELECT `+balanceColumns+` FROM balances
		WHERE guild_id = $1
		ORDER BY wallet + bank DESC, user_id
		LIMIT $2
	`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения топа: %w", err)
	}
	return rows, nil
}

// Transactions возвращает последние операции участника.
func (r *Repository) Transactions(ctx context.Context, guildID, userID int64, limit int) ([]Transaction, error) {
	rows, err := postgres.Many[Transaction](ctx, r.db, `
		SELECT id, guild_id, from_user_id, to_user_id, amount, kind, description, created_at
		FROM economy_transactions
		WHERE guild_id = $1 AND (from_user_id = $2 OR to_user_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, guildID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	return rows, nil
}

// ResetGuild удаляет все балансы сервера. Журнал операций остаётся.
func (r *Repository) ResetGuild(ctx context.Context, guildID int64) (int64, error) {
	n, err := postgres.Exec(ctx, r.db, `DELETE FROM balances WHERE guild_id = $1`, guildID)
	if err != nil {
		return 0, fmt.Errorf("ошибка сброса экономики: %w", err)
	}
	return n, nil
}

func ensureBalance(ctx context.Context, q postgres.Querier, guildID, userID, start int64) error {
	if _, err := postgres.Exec(ctx, q, `
		INSERT INTO balances (guild_id, user_id, wallet, bank)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (guild_id, user_id) DO NOTHING
	`, guildID, userID, start); err != nil {
		return fmt.Errorf("ошибка создания баланса: %w", err)
	}
	return nil
}
