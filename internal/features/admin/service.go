// Package admin — service.go содержит вход по паролю, сессии владельцев
// и шаги диалога в личке.
package admin

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/db/postgres"
	"serotonyl.ru/guild-bot/internal/features/economy"
)

// Store — сессии и попытки входа. В проде это *Repository.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	ActiveSession(ctx context.Context, userID int64) (*Session, error)
	DeactivateSessions(ctx context.Context, userID int64) error
	Touch(ctx context.Context, userID int64) error
	ExpireSessions(ctx context.Context) (int64, error)
	LogAttempt(ctx context.Context, userID int64, success bool) error
	FailedAttempts(ctx context.Context, userID int64, period time.Duration) (int, error)
}

// Economy — операции экономики, доступные владельцам.
type Economy interface {
	AdminAdjust(ctx context.Context, guildID, adminID, userID, amount int64) (economy.Balance, error)
	ResetGuild(ctx context.Context, guildID int64) (int64, error)
}

// Service управляет доступом владельцев.
type Service struct {
	store        Store
	eco          Economy
	isOwner      func(userID int64) bool
	passwordHash string
	now          func() time.Time

	statesMu sync.Mutex
	states   map[int64]State
}

// NewService создаёт сервис. isOwner — проверка по ADMIN_IDS.
func NewService(store Store, eco Economy, isOwner func(int64) bool, passwordHash string) *Service {
	return &Service{
		store:        store,
		eco:          eco,
		isOwner:      isOwner,
		passwordHash: passwordHash,
		now:          time.Now,
		states:       make(map[int64]State),
	}
}

// IsOwner — входит ли пользователь в ADMIN_IDS.
func (s *Service) IsOwner(userID int64) bool {
	return s.isOwner != nil && s.isOwner(userID)
}

// Login проверяет пароль и открывает сессию на SessionTTL.
// MaxFailedAttempts неудачных попыток за AttemptWindow блокируют вход.
func (s *Service) Login(ctx context.Context, userID int64, password string) error {
	if !s.IsOwner(userID) {
		return common.ErrNotAdmin
	}
	failed, err := s.store.FailedAttempts(ctx, userID, AttemptWindow)
	if err != nil {
		return err
	}
	if failed >= MaxFailedAttempts {
		return common.ErrTooManyAttempts
	}

	match := s.passwordHash != "" && verifyArgon2id(password, s.passwordHash)
	if err := s.store.LogAttempt(ctx, userID, match); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось записать попытку входа")
	}
	if !match {
		log.WithField("user_id", userID).Warn("Неверный пароль владельца")
		return common.ErrWrongPassword
	}

	token, err := generateSecureToken()
	if err != nil {
		return err
	}
	if err := s.store.CreateSession(ctx, Session{
		UserID:       userID,
		SessionToken: token,
		ExpiresAt:    s.now().Add(SessionTTL),
	}); err != nil {
		return err
	}
	log.WithField("user_id", userID).Info("Владелец вошёл в админку")
	return nil
}

// Logout закрывает сессию.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	s.ClearState(userID)
	return s.store.DeactivateSessions(ctx, userID)
}

// Authorize проверяет, что у владельца есть действующая сессия, и продлевает активность.
func (s *Service) Authorize(ctx context.Context, userID int64) error {
	if !s.IsOwner(userID) {
		return common.ErrNotAdmin
	}
	_, err := s.store.ActiveSession(ctx, userID)
	if errors.Is(err, postgres.ErrNotFound) {
		return common.ErrSessionExpired
	}
	if err != nil {
		return err
	}
	if err := s.store.Touch(ctx, userID); err != nil {
		log.WithError(err).WithField("user_id", userID).Debug("Не удалось обновить активность сессии")
	}
	return nil
}

// Adjust начисляет (amount > 0) или списывает (amount < 0) валюту участнику сервера.
func (s *Service) Adjust(ctx context.Context, adminID, guildID, userID, amount int64) (economy.Balance, error) {
	if err := s.Authorize(ctx, adminID); err != nil {
		return economy.Balance{}, err
	}
	return s.eco.AdminAdjust(ctx, guildID, adminID, userID, amount)
}

// ResetEconomy удаляет все балансы сервера.
func (s *Service) ResetEconomy(ctx context.Context, adminID, guildID int64) (int64, error) {
	if err := s.Authorize(ctx, adminID); err != nil {
		return 0, err
	}
	return s.eco.ResetGuild(ctx, guildID)
}

// ExpireSessions закрывает истёкшие сессии и забывает просроченные шаги диалога.
func (s *Service) ExpireSessions(ctx context.Context) (int64, error) {
	now := s.now()
	s.statesMu.Lock()
	for id, st := range s.states {
		if now.After(st.ExpiresAt) {
			delete(s.states, id)
		}
	}
	s.statesMu.Unlock()
	return s.store.ExpireSessions(ctx)
}

// GetState возвращает текущий шаг диалога (Name == StateNone, если его нет).
func (s *Service) GetState(userID int64) State {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	st, ok := s.states[userID]
	if !ok || s.now().After(st.ExpiresAt) {
		delete(s.states, userID)
		return State{}
	}
	return st
}

// SetState запоминает шаг диалога на StateTTL.
func (s *Service) SetState(userID int64, name string, guildID int64) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	s.states[userID] = State{Name: name, GuildID: guildID, ExpiresAt: s.now().Add(StateTTL)}
}

// ClearState сбрасывает шаг диалога.
func (s *Service) ClearState(userID int64) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	delete(s.states, userID)
}
