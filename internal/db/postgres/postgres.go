// Package postgres управляет подключением к базе данных PostgreSQL.
// Используется пул соединений pgxpool для эффективной работы
// с несколькими горутинами одновременно.
//
// Пул автоматически управляет открытием/закрытием соединений,
// переподключается при обрыве и ограничивает максимальное число соединений.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/config"
)

// NewPool создаёт новый пул соединений к PostgreSQL.
//
// Параметры:
//   - ctx: контекст для отмены подключения и ретраев пинга
//   - cfg: конфигурация с DSN и лимитами пула (DB_MAX_CONNS, DB_MIN_CONNS)
//
// Возвращает:
//   - *pgxpool.Pool: пул, который уже ответил на пинг
//   - error: ошибка разбора DSN или база не поднялась за время ретраев
//
// Пример:
//
//	pool, err := postgres.NewPool(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	// Парсим строку подключения и настраиваем пул
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Лимиты пула: все гильдии делят одни и те же соединения
	poolConfig.MaxConns = cfg.DBMaxConns           // Потолок на все гильдии сразу
	poolConfig.MinConns = cfg.DBMinConns           // Тёплые соединения для команд
	poolConfig.MaxConnLifetime = 1 * time.Hour     // Пересоздаём после рестартов базы
	poolConfig.MaxConnIdleTime = 30 * time.Minute  // Ночью пул сжимается до MinConns
	poolConfig.HealthCheckPeriod = 1 * time.Minute // Битые соединения выкидываются фоном

	// Создаём пул с заданной конфигурацией
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула: %w", err)
	}

	// База в docker-compose может подниматься дольше бота, поэтому пингуем с ретраями
	if err := Retry(ctx, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("база данных недоступна: %w", err)
	}

	log.Info("Подключение к PostgreSQL установлено")
	return pool, nil
}
