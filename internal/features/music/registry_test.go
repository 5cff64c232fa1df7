package music

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/guild-bot/internal/common"
)

type registryFixture struct {
	reg     *Registry
	created atomic.Int32
	mu      sync.Mutex
	voices  map[int64]*fakeVoice
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{voices: make(map[int64]*fakeVoice)}
	f.reg = NewRegistry(func(guildID int64) *Session {
		f.created.Add(1)
		v := newFakeVoice()
		f.mu.Lock()
		f.voices[guildID] = v
		f.mu.Unlock()
		return NewSession(guildID, DefaultOptions(), v, &fakeResolver{}, newFakePanel())
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.reg.Shutdown(ctx)
	})
	return f
}

func (f *registryFixture) voice(guildID int64) *fakeVoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voices[guildID]
}

func TestRegistry_GetOrCreateConstructsOnce(t *testing.T) {
	f := newRegistryFixture(t)

	const callers = 50
	got := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = f.reg.GetOrCreate(7)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.created.Load())
	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, int64(7), got[0].GuildID())

	other := f.reg.GetOrCreate(8)
	assert.NotSame(t, got[0], other)
	assert.Equal(t, int64(8), other.GuildID())
	assert.Equal(t, 2, f.reg.Len())
	assert.Equal(t, []int64{7, 8}, f.reg.GuildIDs())
}

func TestRegistry_Get(t *testing.T) {
	f := newRegistryFixture(t)

	_, ok := f.reg.Get(1)
	assert.False(t, ok)

	s := f.reg.GetOrCreate(1)
	got, ok := f.reg.Get(1)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistry_ReapOnlyIdleDisconnected(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	f.reg.GetOrCreate(1)
	busy := f.reg.GetOrCreate(2)
	require.NoError(t, busy.Join(ctx, testVoice, testText))
	_, err := busy.Enqueue(ctx, track("A"))
	require.NoError(t, err)

	assert.Equal(t, 0, f.reg.Reap(ctx, time.Hour))
	assert.Equal(t, 2, f.reg.Len())

	assert.Equal(t, 1, f.reg.Reap(ctx, 0))
	assert.Equal(t, 1, f.reg.Len())
	_, ok := f.reg.Get(1)
	assert.False(t, ok)
	_, ok = f.reg.Get(2)
	assert.True(t, ok)
}

func TestRegistry_Shutdown(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	s := f.reg.GetOrCreate(3)
	require.NoError(t, s.Join(ctx, testVoice, testText))

	f.reg.Shutdown(ctx)

	assert.Equal(t, 0, f.reg.Len())
	assert.Equal(t, 1, f.voice(3).disconnectCount())
	assert.ErrorIs(t, s.Pause(ctx), common.ErrSessionClosed)

	// после остановки реестр снова выдаёт новые сессии
	fresh := f.reg.GetOrCreate(3)
	assert.NotSame(t, s, fresh)
}
