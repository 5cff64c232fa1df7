package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(1), "запрос %d", i+1)
	}
	assert.False(t, rl.Allow(1), "четвёртый запрос в ту же секунду")
	assert.True(t, rl.Allow(2), "у другого пользователя своя корзина")

	// токен восстанавливается раз в 20 секунд
	clock = clock.Add(21 * time.Second)
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
}

func TestRateLimiterSweep(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, time.Minute)
	rl.now = func() time.Time { return clock }

	rl.Allow(1)
	clock = clock.Add(45 * time.Second)
	rl.Allow(2)
	clock = clock.Add(30 * time.Second)

	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Len())
}
