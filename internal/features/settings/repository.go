// Package settings — repository.go работает с таблицами guild_settings,
// tts_settings, active_channels и reaction_roles.
package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/guild-bot/internal/db/postgres"
)

// Repository — доступ к настройкам сервера.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий настроек.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const (
	guildColumns = `guild_id, prefix, leveling_enabled, level_channel_id, mod_log_channel_id, created_at, updated_at`
	ttsColumns   = `guild_id, enabled, language, created_at, updated_at`
)

// EnsureGuild возвращает настройки сервера, создавая строку по умолчанию.
func (r *Repository) EnsureGuild(ctx context.Context, guildID int64) (*Guild, error) {
	if _, err := postgres.Exec(ctx, r.db,
		`INSERT INTO guild_settings (guild_id) VALUES ($1) ON CONFLICT (guild_id) DO NOTHING`, guildID); err != nil {
		return nil, fmt.Errorf("ошибка создания настроек сервера: %w", err)
	}
	g, err := postgres.One[Guild](ctx, r.db,
		`SELECT `+guildColumns+` FROM guild_settings WHERE guild_id = $1`, guildID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения настроек сервера: %w", err)
	}
	return g, nil
}

// UpdateGuild обновляет колонки guild_settings.
func (r *Repository) UpdateGuild(ctx context.Context, guildID int64, set []Assignment) error {
	return r.update(ctx, "guild_settings", guildID, set)
}

// EnsureTTS возвращает настройки озвучки, создавая строку по умолчанию.
func (r *Repository) EnsureTTS(ctx context.Context, guildID int64) (*TTS, error) {
	if _, err := postgres.Exec(ctx, r.db,
		`INSERT INTO tts_settings (guild_id) VALUES ($1) ON CONFLICT (guild_id) DO NOTHING`, guildID); err != nil {
		return nil, fmt.Errorf("ошибка создания настроек озвучки: %w", err)
	}
	t, err := postgres.One[TTS](ctx, r.db,
		`SELECT `+ttsColumns+` FROM tts_settings WHERE guild_id = $1`, guildID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения настроек озвучки: %w", err)
	}
	return t, nil
}

// UpdateTTS обновляет колонки tts_settings.
func (r *Repository) UpdateTTS(ctx context.Context, guildID int64, set []Assignment) error {
	return r.update(ctx, "tts_settings", guildID, set)
}

func (r *Repository) update(ctx context.Context, table string, guildID int64, set []Assignment) error {
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

	query := `UPDATE ` + pgx.Identifier{table}.Sanitize() + ` SET ` + strings.Join(parts, ", ") + ` WHERE guild_id = $1`
	if _, err := postgres.Exec(ctx, r.db, query, args...); err != nil {
		return fmt.Errorf("ошибка обновления %s: %w", table, err)
	}
	return nil
}

// ActiveChannels возвращает белый список каналов сервера.
func (r *Repository) ActiveChannels(ctx context.Context, guildID int64) ([]int64, error) {
	rows, err := postgres.Many[struct {
		ChannelID int64 `db:"channel_id"`
	}](ctx, r.db, `SELECT channel_id FROM active_channels WHERE guild_id = $1 ORDER BY channel_id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка каналов: %w", err)
	}
	out := make([]int64, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ChannelID)
	}
	return out, nil
}

// AddActiveChannel добавляет канал в белый список. Возвращает false, если он уже там.
func (r *Repository) AddActiveChannel(ctx context.Context, guildID, channelID int64) (bool, error) {
	n, err := postgres.Exec(ctx, r.db, `
		INSERT INTO active_channels (guild_id, channel_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, guildID, channelID)
	if err != nil {
		return false, fmt.Errorf("ошибка добавления канала: %w", err)
	}
	return n > 0, nil
}

// RemoveActiveChannel убирает канал из белого списка.
func (r *Repository) RemoveActiveChannel(ctx context.Context, guildID, channelID int64) (bool, error) {
	n, err := postgres.Exec(ctx, r.db,
		`DELETE FROM active_channels WHERE guild_id = $1 AND channel_id = $2`, guildID, channelID)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления канала: %w", err)
	}
	return n > 0, nil
}

// ReactionRole возвращает привязку или postgres.ErrNotFound.
func (r *Repository) ReactionRole(ctx context.Context, guildID, messageID int64, emoji string) (*ReactionRole, error) {
	return postgres.One[ReactionRole](ctx, r.db, `
		SELECT guild_id, message_id, emoji, role_id FROM reaction_roles
		WHERE guild_id = $1 AND message_id = $2 AND emoji = $3
	`, guildID, messageID, emoji)
}

// SetReactionRole привязывает роль к реакции на сообщение.
func (r *Repository) SetReactionRole(ctx context.Context, rr ReactionRole) error {
	_, err := postgres.Exec(ctx, r.db, `
		INSERT INTO reaction_roles (guild_id, message_id, emoji, role_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, message_id, emoji) DO UPDATE SET role_id = EXCLUDED.role_id
	`, rr.GuildID, rr.MessageID, rr.Emoji, rr.RoleID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения роли за реакцию: %w", err)
	}
	return nil
}

// DeleteReactionRole убирает привязку.
func (r *Repository) DeleteReactionRole(ctx context.Context, guildID, messageID int64, emoji string) (bool, error) {
	n, err := postgres.Exec(ctx, r.db,
		`DELETE FROM reaction_roles WHERE guild_id = $1 AND message_id = $2 AND emoji = $3`, guildID, messageID, emoji)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления роли за реакцию: %w", err)
	}
	return n > 0, nil
}

// ReactionRoles возвращает все привязки сервера.
func (r *Repository) ReactionRoles(ctx context.Context, guildID int64) ([]ReactionRole, error) {
	return postgres.Many[ReactionRole](ctx, r.db, `
		SELECT guild_id, message_id, emoji, role_id FROM reaction_roles
		WHERE guild_id = $1 ORDER BY message_id, emoji
	`, guildID)
}
