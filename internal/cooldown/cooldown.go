// Package cooldown хранит кулдауны команд в памяти процесса.
// Ключ — произвольная строка (обычно "guild:user"), значение — момент,
// когда действие снова станет доступно. После рестарта бота кулдауны сбрасываются.
package cooldown

import (
	"sync"
	"time"
)

// Buckets — набор кулдаунов одного вида (daily, work, xp, ...).
type Buckets struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// New создаёт пустой набор кулдаунов.
func New() *Buckets {
	return &Buckets{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Try занимает кулдаун на d, если он свободен.
// Если кулдаун ещё идёт — возвращает false и сколько осталось ждать.
func (b *Buckets) Try(key string, d time.Duration) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if until, ok := b.until[key]; ok && now.Before(until) {
		return false, until.Sub(now)
	}
	b.until[key] = now.Add(d)
	return true, 0
}

// Remaining возвращает оставшееся время кулдауна, не занимая его.
func (b *Buckets) Remaining(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if until, ok := b.until[key]; ok {
		if left := until.Sub(b.now()); left > 0 {
			return left
		}
	}
	return 0
}

// Reset снимает кулдаун (например, если действие не удалось и монеты не списаны).
func (b *Buckets) Reset(key string) {
	b.mu.Lock()
	delete(b.until, key)
	b.mu.Unlock()
}

// Sweep удаляет истёкшие записи и возвращает, сколько удалено.
// Вызывается по крону, чтобы карта не росла бесконечно.
func (b *Buckets) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for k, until := range b.until {
		if !now.Before(until) {
			delete(b.until, k)
			removed++
		}
	}
	return removed
}

// Len — число активных записей (включая ещё не вычищенные истёкшие).
func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.until)
}
