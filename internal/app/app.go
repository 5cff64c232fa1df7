// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, обработчики,
// фильтры и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/bot"
	"serotonyl.ru/guild-bot/internal/bot/filters"
	"serotonyl.ru/guild-bot/internal/bot/middleware"
	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/config"
	"serotonyl.ru/guild-bot/internal/db/postgres"
	"serotonyl.ru/guild-bot/internal/features/admin"
	"serotonyl.ru/guild-bot/internal/features/casino"
	"serotonyl.ru/guild-bot/internal/features/economy"
	"serotonyl.ru/guild-bot/internal/features/leveling"
	"serotonyl.ru/guild-bot/internal/features/moderation"
	"serotonyl.ru/guild-bot/internal/features/music"
	"serotonyl.ru/guild-bot/internal/features/settings"
	"serotonyl.ru/guild-bot/internal/health"
	"serotonyl.ru/guild-bot/internal/jobs"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	Health    *health.Server
	DB        *pgxpool.Pool
	Session   *discordgo.Session
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := postgres.RunMigrations(cfg.DatabaseDSN()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}
	if n := postgres.EnsureColumns(ctx, pool, postgres.Columns); n > 0 {
		log.WithField("added", n).Info("Досозданы недостающие колонки")
	}

	// === 2. Discord ===
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания сессии Discord: %w", err)
	}
	if cfg.AppEnv == "development" {
		dg.LogLevel = discordgo.LogInformational
	}

	// === 3. Репозитории ===
	settingsRepo := settings.NewRepository(pool)
	economyRepo := economy.NewRepository(pool)
	casinoRepo := casino.NewRepository(pool)
	levelingRepo := leveling.NewRepository(pool)
	moderationRepo := moderation.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	// === 4. Сервисы ===
	notify := func(channelID int64, text string) {
		if _, err := dg.ChannelMessageSend(common.FormatID(channelID), text); err != nil {
			log.WithError(err).WithField("channel_id", channelID).Warn("Не удалось отправить уведомление")
		}
	}

	settingsService := settings.NewService(settingsRepo)
	economyService := economy.NewService(economyRepo, economy.NotifierFunc(notify))
	casinoService := casino.NewService(economyService, casinoRepo, cfg.CasinoMinBet)
	levelingService := leveling.NewService(levelingRepo, settingsService, leveling.DiscordEffects{DG: dg}, leveling.Options{
		XPMin:    int64(cfg.LevelingXPMin),
		XPMax:    int64(cfg.LevelingXPMax),
		Cooldown: cfg.LevelingCooldown,
	})
	moderationService := moderation.NewService(moderationRepo, moderation.DiscordTimeouts{DG: dg},
		settingsService, moderation.DiscordNotifier{DG: dg})
	adminService := admin.NewService(adminRepo, economyService, cfg.IsAdmin, cfg.AdminPasswordHash)

	// Плеер: одна сессия на сервер, создаётся по первой команде
	resolver := music.NewYTDLPResolver(cfg.YTDLPPath, cfg.MusicPlaylistLimit)
	panel := music.NewDiscordPanel(dg)
	opts := music.Options{
		IdleTimeout:    cfg.MusicIdleTimeout,
		HistorySize:    cfg.MusicHistorySize,
		AutoplaySuffix: cfg.MusicAutoplaySuffix,
	}
	registry := music.NewRegistry(func(guildID int64) *music.Session {
		voice := music.NewDiscordVoice(dg, guildID, cfg.YTDLPPath, cfg.FFmpegPath)
		return music.NewSession(guildID, opts, voice, resolver, panel)
	})

	// === 5. Обработчики ===
	handlers := bot.Handlers{
		Music:      music.NewHandler(registry, resolver, dg),
		Economy:    economy.NewHandler(economyService, dg),
		Casino:     casino.NewHandler(casinoService, dg),
		Leveling:   leveling.NewHandler(levelingService, dg),
		Moderation: moderation.NewHandler(moderationService, dg),
		Settings:   settings.NewHandler(settingsService, dg),
		Admin:      admin.NewHandler(adminService, dg),
	}

	// === 6. Фильтры ===
	chatFilter := filters.NewChatFilter(settingsService)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)

	// === 7. Собираем бота ===
	b := bot.New(dg, cfg, handlers, settingsService, chatFilter, rateLimiter)
	// из голосовых каналов выходим, пока шлюз ещё открыт
	b.BeforeClose(registry.Shutdown)

	// === 8. Планировщик задач ===
	sweepers := []jobs.Sweeper{rateLimiter, levelingService.Cooldown()}
	for _, c := range economyService.Cooldowns() {
		sweepers = append(sweepers, c)
	}
	scheduler := jobs.NewScheduler(registry, cfg.MusicSessionTTL, adminService, sweepers...)

	// === 9. Health ===
	var hs *health.Server
	if cfg.HealthAddr != "" {
		hs = health.New(cfg.HealthAddr, pool, b, registry)
	}

	return &App{
		Bot:       b,
		Scheduler: scheduler,
		Health:    hs,
		DB:        pool,
		Session:   dg,
	}, nil
}
