package music

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// SessionFactory создаёт сессию для новой гильдии.
type SessionFactory func(guildID int64) *Session

// Registry хранит сессии плеера по id гильдии. Сессия создаётся
// при первом обращении и живёт, пока её не соберёт Reap или Shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	factory  SessionFactory
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{
		sessions: make(map[int64]*Session),
		factory:  factory,
	}
}

// GetOrCreate возвращает сессию гильдии, создавая её при необходимости.
// Конструктор вызывается под мьютексом, поэтому для одной гильдии
// двух сессий не бывает.
func (r *Registry) GetOrCreate(guildID int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok {
		s.touch()
		return s
	}
	s := r.factory(guildID)
	r.sessions[guildID] = s
	log.WithField("guild_id", guildID).Debug("Создана сессия плеера")
	return s
}

// Get возвращает сессию, только если она уже есть.
func (r *Registry) Get(guildID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Len — число живых сессий.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// GuildIDs возвращает id гильдий с сессиями по возрастанию.
func (r *Registry) GuildIDs() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reap закрывает сессии, которые простаивают дольше maxIdle:
// состояние IDLE и нет голосового подключения. Возвращает число закрытых.
func (r *Registry) Reap(ctx context.Context, maxIdle time.Duration) int {
	r.mu.Lock()
	var candidates []*Session
	for _, s := range r.sessions {
		if s.IdleFor() >= maxIdle {
			candidates = append(candidates, s)
		}
	}
	r.mu.Unlock()

	reaped := 0
	for _, s := range candidates {
		snap, err := s.peek(ctx)
		if err != nil {
			continue
		}
		if snap.State != StateIdle || snap.Connected {
			continue
		}

		r.mu.Lock()
		// GetOrCreate обновляет lastActive под этим же мьютексом,
		// так что взятая за время проверки сессия сюда не пройдёт.
		removed := false
		if cur, ok := r.sessions[s.guildID]; ok && cur == s && s.IdleFor() >= maxIdle {
			delete(r.sessions, s.guildID)
			removed = true
		}
		r.mu.Unlock()

		if removed {
			if err := s.Close(ctx); err != nil {
				log.WithError(err).WithField("guild_id", s.guildID).Warn("Сессия плеера не закрылась вовремя")
			}
			reaped++
		}
	}
	if reaped > 0 {
		log.WithField("reaped", reaped).Info("Собраны простаивающие сессии плеера")
	}
	return reaped
}

// Shutdown закрывает все сессии.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[int64]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			log.WithError(err).WithField("guild_id", s.guildID).Warn("Сессия плеера не закрылась вовремя")
		}
	}
	log.WithField("sessions", len(sessions)).Info("Сессии плеера закрыты")
}
