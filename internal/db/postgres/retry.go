package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

const (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
	retryMaxElapsed      = 10 * time.Second
)

// Retry повторяет op с экспоненциальной паузой, пока ошибка временная.
// Постоянные ошибки (нарушение ограничений, синтаксис, "не найдено") возвращаются сразу.
func Retry(ctx context.Context, op func() error) error {
	return retryWhen(ctx, op, IsRetryable)
}

// RetryWrite повторяет запись, только если запрос точно не дошёл до сервера.
// Обрыв соединения посреди INSERT сюда не относится: строка могла записаться.
func RetryWrite(ctx context.Context, op func() error) error {
	return retryWhen(ctx, op, IsSafeToResend)
}

// IsSafeToResend сообщает, что запрос не был отправлен и его можно послать ещё раз.
func IsSafeToResend(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return pgconn.SafeToRetry(err)
}

func retryWhen(ctx context.Context, op func() error, retryable func(error) bool) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		log.WithError(err).WithField("attempt", attempt).Warn("временная ошибка БД, повторяем")
		return err
	}, backoff.WithContext(b, ctx))
}

// IsRetryable сообщает, имеет ли смысл повторить запрос.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case strings.HasPrefix(pgErr.Code, "53"): // insufficient resources
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03": // admin shutdown
			return true
		}
		return false
	}

	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
