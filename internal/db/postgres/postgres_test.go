package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no rows", pgx.ErrNoRows, false},
		{"not found", ErrNotFound, false},
		{"canceled", context.Canceled, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"deadlock", fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesTransientError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// flakyQuerier отвечает на первые Exec заданными ошибками.
type flakyQuerier struct {
	errs  []error
	execs int
}

func (q *flakyQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	q.execs++
	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (q *flakyQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (q *flakyQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

// unsentErr — ошибка, после которой pgconn гарантирует, что запрос не отправлен.
type unsentErr struct{}

func (unsentErr) Error() string      { return "dial failed" }
func (unsentErr) SafeToRetry() bool { return true }

func TestExec_DoesNotResendAfterConnectionLoss(t *testing.T) {
	q := &flakyQuerier{errs: []error{&pgconn.PgError{Code: "08006"}}}

	_, err := Exec(context.Background(), q, `INSERT INTO warnings (guild_id) VALUES ($1)`, 1)
	require.Error(t, err)
	assert.Equal(t, 1, q.execs)
}

func TestExec_ResendsUnsentWrite(t *testing.T) {
	q := &flakyQuerier{errs: []error{unsentErr{}}}

	n, err := Exec(context.Background(), q, `INSERT INTO warnings (guild_id) VALUES ($1)`, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, q.execs)
}

func TestIsSafeToResend(t *testing.T) {
	assert.False(t, IsSafeToResend(nil))
	assert.False(t, IsSafeToResend(&pgconn.PgError{Code: "08006"}))
	assert.False(t, IsSafeToResend(context.Canceled))
	assert.True(t, IsSafeToResend(fmt.Errorf("wrap: %w", unsentErr{})))
}

func TestMissingColumns(t *testing.T) {
	existing := map[string]bool{"guild_id": true, "prefix": true}
	got := MissingColumns(existing, []Column{
		{Name: "prefix", Type: "VARCHAR(8)"},
		{Name: "level_channel_id", Type: "BIGINT"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "level_channel_id", got[0].Name)
}

func TestAddColumnSQL(t *testing.T) {
	assert.Equal(t,
		`ALTER TABLE "guild_settings" ADD COLUMN IF NOT EXISTS "prefix" VARCHAR(8) DEFAULT '!'`,
		addColumnSQL("guild_settings", Column{Name: "prefix", Type: "VARCHAR(8)", Default: "'!'"}))
	assert.Equal(t,
		`ALTER TABLE "balances" ADD COLUMN IF NOT EXISTS "bank" BIGINT`,
		addColumnSQL("balances", Column{Name: "bank", Type: "BIGINT"}))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", migrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
}

// testPool поднимает пул к реальной базе. Без TEST_DATABASE_URL тест пропускается.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL не задан")
	}
	require.NoError(t, RunMigrations(dsn))
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

type settingsRow struct {
	GuildID int64  `db:"guild_id"`
	Prefix  string `db:"prefix"`
}

func TestQueries_Integration(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	const guildID = int64(-424242)

	_, err := Exec(ctx, pool, `DELETE FROM guild_settings WHERE guild_id = $1`, guildID)
	require.NoError(t, err)

	_, err = One[settingsRow](ctx, pool, `SELECT guild_id, prefix FROM guild_settings WHERE guild_id = $1`, guildID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = InTx(ctx, pool, func(tx pgx.Tx) error {
		_, err := Exec(ctx, tx, `INSERT INTO guild_settings (guild_id, prefix) VALUES ($1, '?')`, guildID)
		return err
	})
	require.NoError(t, err)

	row, err := One[settingsRow](ctx, pool, `SELECT guild_id, prefix FROM guild_settings WHERE guild_id = $1`, guildID)
	require.NoError(t, err)
	assert.Equal(t, "?", row.Prefix)

	assert.Equal(t, 0, EnsureColumns(ctx, pool, Columns))

	_, err = Exec(ctx, pool, `DELETE FROM guild_settings WHERE guild_id = $1`, guildID)
	require.NoError(t, err)
}
