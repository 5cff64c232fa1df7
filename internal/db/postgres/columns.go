package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Column — колонка, которая должна существовать в таблице.
// Type и Default подставляются в DDL как есть, поэтому сюда идут только константы.
type Column struct {
	Name    string
	Type    string
	Default string
}

// Table — ожидаемый набор колонок одной таблицы.
type Table struct {
	Name    string
	Columns []Column
}

// Columns — колонки, добавленные после первой версии схемы.
// Старые базы, поднятые до их появления, догоняются через EnsureColumns.
var Columns = []Table{
	{Name: "guild_settings", Columns: []Column{
		{Name: "prefix", Type: "VARCHAR(8)", Default: "'!'"},
		{Name: "leveling_enabled", Type: "BOOLEAN", Default: "TRUE"},
		{Name: "level_channel_id", Type: "BIGINT"},
		{Name: "mod_log_channel_id", Type: "BIGINT"},
	}},
	{Name: "economy_settings", Columns: []Column{
		{Name: "max_balance", Type: "BIGINT"},
		{Name: "audit_channel_id", Type: "BIGINT"},
		{Name: "rob_min", Type: "BIGINT", Default: "10"},
		{Name: "rob_max", Type: "BIGINT", Default: "150"},
		{Name: "rob_cooldown_sec", Type: "BIGINT", Default: "7200"},
	}},
	{Name: "tts_settings", Columns: []Column{
		{Name: "language", Type: "VARCHAR(16)", Default: "'ru'"},
	}},
	{Name: "balances", Columns: []Column{
		{Name: "bank", Type: "BIGINT", Default: "0"},
	}},
	{Name: "admin_sessions", Columns: []Column{
		{Name: "last_activity", Type: "TIMESTAMP", Default: "NOW()"},
	}},
}

// EnsureColumns досоздаёт недостающие колонки. Ошибка по одной таблице
// логируется и не мешает остальным. Возвращает число добавленных колонок.
func EnsureColumns(ctx context.Context, pool *pgxpool.Pool, tables []Table) int {
	added := 0
	for _, t := range tables {
		n, err := ensureTable(ctx, pool, t)
		added += n
		if err != nil {
			log.WithError(err).WithField("table", t.Name).Warn("Не удалось проверить колонки таблицы")
		}
	}
	if added > 0 {
		log.WithField("added", added).Info("Схема дополнена недостающими колонками")
	}
	return added
}

func ensureTable(ctx context.Context, q Querier, t Table) (int, error) {
	existing, err := existingColumns(ctx, q, t.Name)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		return 0, fmt.Errorf("таблица %s не найдена", t.Name)
	}

	added := 0
	for _, c := range MissingColumns(existing, t.Columns) {
		if _, err := q.Exec(ctx, addColumnSQL(t.Name, c)); err != nil {
			return added, fmt.Errorf("колонка %s: %w", c.Name, err)
		}
		log.WithFields(log.Fields{"table": t.Name, "column": c.Name}).Info("Добавлена колонка")
		added++
	}
	return added, nil
}

func existingColumns(ctx context.Context, q Querier, table string) (map[string]bool, error) {
	rows, err := q.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`, table)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

// MissingColumns возвращает ожидаемые колонки, которых нет в existing.
func MissingColumns(existing map[string]bool, want []Column) []Column {
	var out []Column
	for _, c := range want {
		if !existing[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

func addColumnSQL(table string, c Column) string {
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{c.Name}.Sanitize(), c.Type)
	if c.Default != "" {
		sql += " DEFAULT " + c.Default
	}
	return sql
}
