// Package leveling — service.go начисляет опыт за сообщения с кулдауном,
// выдаёт роли за уровни и объявляет о повышении.
package leveling

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/cooldown"
	"serotonyl.ru/guild-bot/internal/db/postgres"
)

// LeaderboardSize — сколько строк в топе уровней.
const LeaderboardSize = 10

// Store — хранилище уровней. В проде это *Repository.
type Store interface {
	AddXP(ctx context.Context, guildID, userID, gain int64) (Record, bool, error)
	Get(ctx context.Context, guildID, userID int64) (Record, error)
	Rank(ctx context.Context, rec Record) (int, error)
	Leaderboard(ctx context.Context, guildID int64, limit int) ([]Record, error)
	RewardFor(ctx context.Context, guildID int64, level int) (*RoleReward, error)
	SetReward(ctx context.Context, rw RoleReward) error
	DeleteReward(ctx context.Context, guildID int64, level int) (bool, error)
	Rewards(ctx context.Context, guildID int64) ([]RoleReward, error)
}

// Config — настройки уровней сервера, которые даёт модуль настроек.
type Config interface {
	LevelingConfig(ctx context.Context, guildID int64) (enabled bool, channelID int64, err error)
}

// Effects — внешние действия при повышении уровня.
type Effects interface {
	GrantRole(guildID, userID, roleID int64) error
	Announce(channelID int64, text string)
}

// Options — диапазон опыта за сообщение и кулдаун.
type Options struct {
	XPMin    int64
	XPMax    int64
	Cooldown time.Duration
}

// Service управляет уровнями.
type Service struct {
	store   Store
	config  Config
	effects Effects
	opts    Options
	xp      *cooldown.Buckets
	roll    func(lo, hi int64) int64
}

// NewService создаёт сервис уровней.
func NewService(store Store, config Config, effects Effects, opts Options) *Service {
	return &Service{
		store:   store,
		config:  config,
		effects: effects,
		opts:    opts,
		xp:      cooldown.New(),
		roll: func(lo, hi int64) int64 {
			if hi <= lo {
				return lo
			}
			return lo + rand.Int64N(hi-lo+1)
		},
	}
}

// Cooldown возвращает кулдауны опыта для периодической чистки.
func (s *Service) Cooldown() *cooldown.Buckets {
	return s.xp
}

// OnMessage начисляет опыт за сообщение. channelID — канал сообщения,
// туда идёт объявление, если на сервере не задан отдельный канал.
// Возвращает nil, если уровень не изменился.
func (s *Service) OnMessage(ctx context.Context, guildID, channelID, userID int64) (*LevelUp, error) {
	enabled, levelChannel, err := s.config.LevelingConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}
	if ok, _ := s.xp.Try(strconv.FormatInt(guildID, 10)+":"+strconv.FormatInt(userID, 10), s.opts.Cooldown); !ok {
		return nil, nil
	}

	rec, leveledUp, err := s.store.AddXP(ctx, guildID, userID, s.roll(s.opts.XPMin, s.opts.XPMax))
	if err != nil {
		return nil, err
	}
	if !leveledUp {
		return nil, nil
	}

	up := &LevelUp{Record: rec}
	up.Reward = s.grantReward(ctx, rec)

	if levelChannel == 0 {
		levelChannel = channelID
	}
	s.effects.Announce(levelChannel, announcement(up))

	log.WithFields(log.Fields{
		"guild_id": guildID,
		"user_id":  userID,
		"level":    rec.Level,
	}).Info("Повышение уровня")
	return up, nil
}

// grantReward выдаёт роль за уровень. Ошибки выдачи (нет прав, роль удалена)
// только логируются: участнику о них не сообщаем.
func (s *Service) grantReward(ctx context.Context, rec Record) *RoleReward {
	rw, err := s.store.RewardFor(ctx, rec.GuildID, rec.Level)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil
	}
	if err != nil {
		log.WithError(err).WithField("guild_id", rec.GuildID).Warn("Не удалось получить награду за уровень")
		return nil
	}
	if err := s.effects.GrantRole(rec.GuildID, rec.UserID, rw.RoleID); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild_id": rec.GuildID,
			"user_id":  rec.UserID,
			"role_id":  rw.RoleID,
		}).Warn("Не удалось выдать роль за уровень")
		return nil
	}
	return rw
}

func announcement(up *LevelUp) string {
	text := fmt.Sprintf("🎉 <@%d> достиг %d уровня!", up.Record.UserID, up.Record.Level)
	if up.Reward != nil {
		text += fmt.Sprintf(" Новая роль: <@&%d>", up.Reward.RoleID)
	}
	return text
}

// Rank возвращает уровень участника и его место на сервере.
func (s *Service) Rank(ctx context.Context, guildID, userID int64) (Record, int, error) {
	rec, err := s.store.Get(ctx, guildID, userID)
	if err != nil {
		return Record{}, 0, err
	}
	pos, err := s.store.Rank(ctx, rec)
	if err != nil {
		return Record{}, 0, err
	}
	return rec, pos, nil
}

// Leaderboard возвращает топ-10 сервера.
func (s *Service) Leaderboard(ctx context.Context, guildID int64) ([]Record, error) {
	return s.store.Leaderboard(ctx, guildID, LeaderboardSize)
}

// SetReward назначает роль за уровень.
func (s *Service) SetReward(ctx context.Context, guildID int64, level int, roleID int64) error {
	if level < 2 || roleID == 0 {
		return common.ErrBadReward
	}
	return s.store.SetReward(ctx, RoleReward{GuildID: guildID, Level: level, RoleID: roleID})
}

// DeleteReward убирает роль за уровень.
func (s *Service) DeleteReward(ctx context.Context, guildID int64, level int) (bool, error) {
	return s.store.DeleteReward(ctx, guildID, level)
}

// Rewards возвращает все награды сервера.
func (s *Service) Rewards(ctx context.Context, guildID int64) ([]RoleReward, error) {
	return s.store.Rewards(ctx, guildID)
}
