// Package moderation — service.go проверяет цель наказания и выполняет его.
// Нельзя наказать себя или бота: проверка идёт до любых изменений.
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

// Store — журнал предупреждений. В проде это *Repository.
type Store interface {
	AddWarning(ctx context.Context, w Warning) (int, error)
	Warnings(ctx context.Context, guildID, userID int64) ([]Warning, error)
	ClearWarnings(ctx context.Context, guildID, userID int64) (int64, error)
}

// Timeouts — выдача и снятие таймаута на стороне Discord.
type Timeouts interface {
	Timeout(guildID, userID int64, until *time.Time, reason string) error
}

// LogChannel возвращает канал журнала модерации сервера (0 — не задан).
type LogChannel interface {
	ModLogChannel(ctx context.Context, guildID int64) (int64, error)
}

// Notifier пишет в канал.
type Notifier interface {
	Notify(channelID int64, text string)
}

// Service выполняет модерационные действия.
type Service struct {
	store    Store
	timeouts Timeouts
	logCh    LogChannel
	notifier Notifier
	now      func() time.Time
}

// NewService создаёт сервис модерации.
func NewService(store Store, timeouts Timeouts, logCh LogChannel, notifier Notifier) *Service {
	return &Service{store: store, timeouts: timeouts, logCh: logCh, notifier: notifier, now: time.Now}
}

// Warn выдаёт предупреждение и возвращает их число у участника.
func (s *Service) Warn(ctx context.Context, a Action) (int, error) {
	if err := validate(a); err != nil {
		return 0, err
	}
	reason := strings.TrimSpace(a.Reason)
	if reason == "" {
		return 0, common.ErrEmptyReason
	}

	n, err := s.store.AddWarning(ctx, Warning{
		GuildID:     a.GuildID,
		UserID:      a.TargetID,
		ModeratorID: a.ModeratorID,
		Reason:      reason,
	})
	if err != nil {
		return 0, err
	}
	s.modLog(ctx, a.GuildID, fmt.Sprintf("⚠️ <@%d> выдал предупреждение <@%d> (%d): %s",
		a.ModeratorID, a.TargetID, n, reason))
	return n, nil
}

// Warnings возвращает предупреждения участника.
func (s *Service) Warnings(ctx context.Context, guildID, userID int64) ([]Warning, error) {
	return s.store.Warnings(ctx, guildID, userID)
}

// ClearWarnings снимает все предупреждения участника.
func (s *Service) ClearWarnings(ctx context.Context, guildID, moderatorID, userID int64) (int64, error) {
	n, err := s.store.ClearWarnings(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.modLog(ctx, guildID, fmt.Sprintf("🧹 <@%d> снял все предупреждения <@%d> (%d)", moderatorID, userID, n))
	}
	return n, nil
}

// Timeout отправляет участника в таймаут на d. Возвращает момент окончания.
func (s *Service) Timeout(ctx context.Context, a Action, d time.Duration) (time.Time, error) {
	if err := validate(a); err != nil {
		return time.Time{}, err
	}
	if d <= 0 {
		return time.Time{}, common.ErrInvalidDuration
	}
	if d > MaxTimeout {
		return time.Time{}, common.ErrDurationTooLong
	}

	until := s.now().Add(d)
	if err := s.timeouts.Timeout(a.GuildID, a.TargetID, &until, a.Reason); err != nil {
		return time.Time{}, fmt.Errorf("ошибка выдачи таймаута: %w", err)
	}

	log.WithFields(log.Fields{
		"guild_id":     a.GuildID,
		"user_id":      a.TargetID,
		"moderator_id": a.ModeratorID,
		"duration":     d.String(),
	}).Info("Таймаут выдан")
	s.modLog(ctx, a.GuildID, fmt.Sprintf("🔇 <@%d> выдал таймаут <@%d> на %s%s",
		a.ModeratorID, a.TargetID, common.FormatDuration(d), reasonSuffix(a.Reason)))
	return until, nil
}

// Untimeout снимает таймаут.
func (s *Service) Untimeout(ctx context.Context, a Action) error {
	if err := validate(a); err != nil {
		return err
	}
	if err := s.timeouts.Timeout(a.GuildID, a.TargetID, nil, a.Reason); err != nil {
		return fmt.Errorf("ошибка снятия таймаута: %w", err)
	}
	s.modLog(ctx, a.GuildID, fmt.Sprintf("🔊 <@%d> снял таймаут с <@%d>", a.ModeratorID, a.TargetID))
	return nil
}

func validate(a Action) error {
	if a.TargetID == 0 {
		return common.ErrUserNotFound
	}
	if a.TargetID == a.ModeratorID {
		return common.ErrSelfTarget
	}
	if a.TargetIsBot {
		return common.ErrBotTarget
	}
	return nil
}

func (s *Service) modLog(ctx context.Context, guildID int64, text string) {
	if s.logCh == nil || s.notifier == nil {
		return
	}
	ch, err := s.logCh.ModLogChannel(ctx, guildID)
	if err != nil {
		log.WithError(err).WithField("guild_id", guildID).Warn("Не удалось получить канал журнала модерации")
		return
	}
	if ch != 0 {
		s.notifier.Notify(ch, text)
	}
}

func reasonSuffix(reason string) string {
	if reason = strings.TrimSpace(reason); reason == "" {
		return ""
	}
	return ": " + reason
}
