// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: сбор простаивающих сессий плеера,
// чистку кулдаунов и закрытие истёкших сессий владельцев.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Расписания задач.
const (
	ReapSpec     = "@every 10m"
	SweepSpec    = "@every 5m"
	SessionsSpec = "@hourly"
)

// Reaper закрывает простаивающие сессии плеера. В проде это *music.Registry.
type Reaper interface {
	Reap(ctx context.Context, maxIdle time.Duration) int
}

// Sweeper чистит протухшие записи в памяти (кулдауны, корзины флуда).
type Sweeper interface {
	Sweep() int
}

// SessionExpirer закрывает истёкшие сессии владельцев. В проде это *admin.Service.
type SessionExpirer interface {
	ExpireSessions(ctx context.Context) (int64, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	reaper   Reaper
	maxIdle  time.Duration
	sweepers []Sweeper
	sessions SessionExpirer
}

// NewScheduler создаёт планировщик. Любую зависимость можно не передавать
// (nil): тогда её задача не регистрируется.
func NewScheduler(reaper Reaper, maxIdle time.Duration, sessions SessionExpirer, sweepers ...Sweeper) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		reaper:   reaper,
		maxIdle:  maxIdle,
		sweepers: sweepers,
		sessions: sessions,
	}
}

// Start регистрирует и запускает задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.reaper != nil {
		if _, err := s.cron.AddFunc(ReapSpec, func() { s.reapSessions(ctx) }); err != nil {
			return fmt.Errorf("задача reap: %w", err)
		}
	}
	if len(s.sweepers) > 0 {
		if _, err := s.cron.AddFunc(SweepSpec, s.sweep); err != nil {
			return fmt.Errorf("задача sweep: %w", err)
		}
	}
	if s.sessions != nil {
		if _, err := s.cron.AddFunc(SessionsSpec, func() { s.expireSessions(ctx) }); err != nil {
			return fmt.Errorf("задача admin sessions: %w", err)
		}
	}

	s.cron.Start()
	log.WithField("jobs", len(s.cron.Entries())).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт выполняющиеся задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

func (s *Scheduler) reapSessions(ctx context.Context) {
	n := s.reaper.Reap(ctx, s.maxIdle)
	if n > 0 {
		log.WithField("reaped", n).Info("[CRON] Закрыты простаивающие сессии плеера")
	}
}

func (s *Scheduler) sweep() {
	total := 0
	for _, sw := range s.sweepers {
		total += sw.Sweep()
	}
	log.WithField("removed", total).Debug("[CRON] Чистка кулдаунов")
}

func (s *Scheduler) expireSessions(ctx context.Context) {
	n, err := s.sessions.ExpireSessions(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка закрытия сессий владельцев")
		return
	}
	if n > 0 {
		log.WithField("expired", n).Info("[CRON] Закрыты истёкшие сессии владельцев")
	}
}
