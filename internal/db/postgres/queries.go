// Package postgres — queries.go содержит общие утилиты для выполнения запросов.
// Все репозитории фич ходят в базу через эти функции: так ошибки "не найдено"
// и ретраи обрабатываются в одном месте.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound — запрос не вернул ни одной строки.
var ErrNotFound = errors.New("запись не найдена")

// Querier — общее подмножество *pgxpool.Pool и pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// One выполняет запрос и сканирует ровно одну строку в структуру T
// по тегам `db`. Если строк нет — ErrNotFound.
func One[T any](ctx context.Context, q Querier, sql string, args ...any) (*T, error) {
	var out T
	err := withRetry(ctx, q, func() error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Many выполняет запрос и сканирует все строки в срез T.
// Пустой результат — пустой срез, не ошибка.
func Many[T any](ctx context.Context, q Querier, sql string, args ...any) ([]T, error) {
	var out []T
	err := withRetry(ctx, q, func() error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[T])
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Scalar выполняет запрос с одной колонкой и одной строкой (COUNT, EXISTS, RETURNING id).
func Scalar[T any](ctx context.Context, q Querier, sql string, args ...any) (T, error) {
	var out T
	err := withRetry(ctx, q, func() error {
		return q.QueryRow(ctx, sql, args...).Scan(&out)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrNotFound
	}
	return out, err
}

// Exec выполняет команду без результата и возвращает число затронутых строк.
// Запись повторяется, только если она не ушла на сервер: иначе INSERT
// в журнал мог бы выполниться дважды.
func Exec(ctx context.Context, q Querier, sql string, args ...any) (int64, error) {
	var tag pgconn.CommandTag
	err := withWriteRetry(ctx, q, func() error {
		var err error
		tag, err = q.Exec(ctx, sql, args...)
		return err
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InTx выполняет fn в транзакции. Любая ошибка из fn откатывает транзакцию.
// Внутри fn ретраев нет: повторять можно только всю транзакцию целиком.
func InTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// withWriteRetry — то же для записей, но с RetryWrite.
func withWriteRetry(ctx context.Context, q Querier, op func() error) error {
	if _, inTx := q.(pgx.Tx); inTx {
		return op()
	}
	return RetryWrite(ctx, op)
}

// withRetry повторяет чтения только вне транзакции.
func withRetry(ctx context.Context, q Querier, op func() error) error {
	if _, inTx := q.(pgx.Tx); inTx {
		return op()
	}
	return Retry(ctx, op)
}
