// Package bot содержит главный модуль бота: подписку на события Discord,
// разбор команд и маршрутизацию к обработчикам фич.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"serotonyl.ru/guild-bot/internal/bot/filters"
	"serotonyl.ru/guild-bot/internal/bot/middleware"
	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/config"
	"serotonyl.ru/guild-bot/internal/features/admin"
	"serotonyl.ru/guild-bot/internal/features/casino"
	"serotonyl.ru/guild-bot/internal/features/economy"
	"serotonyl.ru/guild-bot/internal/features/leveling"
	"serotonyl.ru/guild-bot/internal/features/moderation"
	"serotonyl.ru/guild-bot/internal/features/music"
	"serotonyl.ru/guild-bot/internal/features/settings"
)

const (
	// eventTimeout — сколько может работать обработчик одного события.
	eventTimeout = time.Minute
	// drainTimeout — сколько ждём незавершённые обработчики при остановке.
	drainTimeout = 10 * time.Second
	// hookTimeout — сколько ждём хуки остановки (выход из голосовых каналов).
	hookTimeout = 10 * time.Second
)

// Intents — события, на которые подписывается бот.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// Handlers — обработчики фич.
type Handlers struct {
	Music      *music.Handler
	Economy    *economy.Handler
	Casino     *casino.Handler
	Leveling   *leveling.Handler
	Moderation *moderation.Handler
	Settings   *settings.Handler
	Admin      *admin.Handler
}

// Prefixes отдаёт префикс команд сервера. В проде это *settings.Service.
type Prefixes interface {
	Prefix(ctx context.Context, guildID int64) string
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	dg  *discordgo.Session
	cfg *config.Config
	h   Handlers

	prefixes    Prefixes
	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter
	commands    map[string]command

	// ограничитель параллелизма обработки событий
	inflight    *semaphore.Weighted
	maxInflight int64

	ctx       context.Context
	connected atomic.Bool

	// хуки, которые выполняются до закрытия шлюза
	beforeClose  []func(ctx context.Context)
	closeGateway func() error
}

// New создаёт бота со всеми зависимостями.
func New(dg *discordgo.Session, cfg *config.Config, h Handlers, prefixes Prefixes, chatFilter *filters.ChatFilter, rateLimiter *middleware.RateLimiter) *Bot {
	maxInflight := int64(cfg.BotMaxInflight)
	if maxInflight <= 0 {
		maxInflight = 64
	}
	b := &Bot{
		dg:          dg,
		cfg:         cfg,
		h:           h,
		prefixes:    prefixes,
		chatFilter:  chatFilter,
		rateLimiter: rateLimiter,
		inflight:    semaphore.NewWeighted(maxInflight),
		maxInflight: maxInflight,
		ctx:         context.Background(),
	}
	b.closeGateway = dg.Close
	b.commands = b.commandTable()
	return b
}

// BeforeClose регистрирует хук остановки. Хуки выполняются по порядку
// после завершения обработчиков, но пока соединение со шлюзом ещё открыто:
// голосовым сессиям нужен живой шлюз, чтобы выйти из канала.
func (b *Bot) BeforeClose(fn func(ctx context.Context)) {
	b.beforeClose = append(b.beforeClose, fn)
}

// Connected — открыто ли соединение со шлюзом Discord.
func (b *Bot) Connected() bool {
	return b.connected.Load()
}

// GuildCount — на скольких серверах бот.
func (b *Bot) GuildCount() int {
	if b.dg.State == nil {
		return 0
	}
	b.dg.State.RLock()
	defer b.dg.State.RUnlock()
	return len(b.dg.State.Guilds)
}

// Run подключается к шлюзу и обрабатывает события до отмены ctx.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx

	// события приходят по одному, параллелизм задаёт семафор
	b.dg.SyncEvents = true
	b.dg.Identify.Intents = Intents

	remove := []func(){
		b.dg.AddHandler(b.onReady),
		b.dg.AddHandler(b.onDisconnect),
		b.dg.AddHandler(b.onMessageCreate),
		b.dg.AddHandler(b.onInteractionCreate),
		b.dg.AddHandler(b.onReactionAdd),
		b.dg.AddHandler(b.onReactionRemove),
	}
	defer func() {
		for _, fn := range remove {
			fn()
		}
	}()

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("не удалось подключиться к Discord: %w", err)
	}
	log.WithField("max_inflight", b.maxInflight).Info("Бот запущен и ожидает сообщения...")

	<-ctx.Done()
	log.Info("Бот останавливается...")

	return b.shutdown()
}

// shutdown дожидается обработчиков, выполняет хуки и закрывает шлюз.
func (b *Bot) shutdown() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := b.inflight.Acquire(drainCtx, b.maxInflight); err != nil {
		log.WithError(err).Warn("Не все обработчики успели завершиться")
	} else {
		b.inflight.Release(b.maxInflight)
	}

	hookCtx, cancelHooks := context.WithTimeout(context.Background(), hookTimeout)
	defer cancelHooks()
	for _, fn := range b.beforeClose {
		fn(hookCtx)
	}

	b.connected.Store(false)
	if err := b.closeGateway(); err != nil {
		return fmt.Errorf("ошибка закрытия соединения с Discord: %w", err)
	}
	return nil
}

// dispatch запускает обработчик в отдельной горутине, если есть свободный слот.
// Пока слотов нет, чтение событий ждёт.
func (b *Bot) dispatch(fn func(ctx context.Context, requestID string)) {
	if err := b.inflight.Acquire(b.ctx, 1); err != nil {
		return
	}
	requestID := uuid.NewString()
	go func() {
		defer b.inflight.Release(1)
		defer middleware.RecoverFromPanic(requestID)

		ctx, cancel := context.WithTimeout(b.ctx, eventTimeout)
		defer cancel()
		fn(ctx, requestID)
	}()
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.connected.Store(true)
	log.WithFields(log.Fields{
		"user":   r.User.Username,
		"guilds": len(r.Guilds),
	}).Info("Подключение к Discord установлено")
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.connected.Store(false)
	log.Warn("Соединение с Discord потеряно")
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || strings.TrimSpace(m.Content) == "" {
		return
	}
	b.dispatch(func(ctx context.Context, requestID string) {
		b.handleMessage(ctx, requestID, m)
	})
}

// handleMessage обрабатывает одно сообщение.
func (b *Bot) handleMessage(ctx context.Context, requestID string, m *discordgo.MessageCreate) {
	logger := middleware.LogMessage(m, requestID)

	// В личке работает только админка владельцев
	if m.GuildID == "" {
		if b.h.Admin != nil && b.h.Admin.HandleDM(ctx, m) {
			return
		}
		b.sendMessage(m.ChannelID, "ℹ️ Команды работают на сервере. Напишите "+b.cfg.BotPrefix+"help там.")
		return
	}

	prefix := b.prefixes.Prefix(ctx, common.ParseID(m.GuildID))
	name, args, isCommand := ParseCommand(prefix, m.Content)
	if !isCommand {
		if b.cfg.FeatureLevelingEnabled && b.h.Leveling != nil {
			b.h.Leveling.OnMessage(ctx, m)
		}
		return
	}

	cmd, ok := b.commands[name]
	if !ok || !cmd.enabled(b.cfg) {
		return
	}
	logger = logger.WithField("cmd", name)

	// Команды настройки работают в любом канале, иначе белым списком
	// можно запереть самого себя.
	if cmd.perm&discordgo.PermissionManageServer == 0 && !b.chatFilter.CheckAccess(ctx, m) {
		return
	}
	if !b.rateLimiter.Allow(common.ParseID(m.Author.ID)) {
		logger.Debug("rate limited")
		return
	}
	if cmd.perm != 0 && !b.hasPermission(m, cmd.perm) {
		b.sendMessage(m.ChannelID, common.UserMessage(common.ErrNoPermission))
		return
	}

	logger.WithField("args", args).Debug("routing command")
	cmd.run(ctx, m, args)
}

func (b *Bot) hasPermission(m *discordgo.MessageCreate, perm int64) bool {
	perms, err := b.dg.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id":    m.Author.ID,
			"channel_id": m.ChannelID,
		}).Warn("Не удалось получить права пользователя")
		return false
	}
	return perms&perm == perm
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent || b.h.Music == nil || !b.cfg.FeatureMusicEnabled {
		return
	}
	if !strings.HasPrefix(i.MessageComponentData().CustomID, music.ButtonPrefix) {
		return
	}
	b.dispatch(func(ctx context.Context, requestID string) {
		log.WithFields(log.Fields{
			"request_id": requestID,
			"guild_id":   i.GuildID,
			"custom_id":  i.MessageComponentData().CustomID,
		}).Debug("Нажата кнопка плеера")
		b.h.Music.HandleButton(ctx, i)
	})
}

func (b *Bot) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if b.h.Settings == nil {
		return
	}
	b.dispatch(func(ctx context.Context, _ string) {
		b.h.Settings.OnReactionAdd(ctx, r)
	})
}

func (b *Bot) onReactionRemove(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
	if b.h.Settings == nil {
		return
	}
	b.dispatch(func(ctx context.Context, _ string) {
		b.h.Settings.OnReactionRemove(ctx, r)
	})
}

// sendMessage — утилита для отправки сообщений.
func (b *Bot) sendMessage(channelID string, text string) {
	if _, err := b.dg.ChannelMessageSend(channelID, text); err != nil {
		log.WithError(err).WithField("channel_id", channelID).Error("Ошибка отправки сообщения")
	}
}
