package leveling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/db/postgres"
)

func TestXPThreshold(t *testing.T) {
	assert.Equal(t, int64(155), XPThreshold(1))
	assert.Equal(t, int64(220), XPThreshold(2))
	assert.Equal(t, int64(1100), XPThreshold(10))
}

func TestApply(t *testing.T) {
	t.Run("level up carries surplus", func(t *testing.T) {
		r, up := Apply(Record{Level: 1, XP: 95}, 70)
		assert.True(t, up)
		assert.Equal(t, 2, r.Level)
		assert.Equal(t, int64(10), r.XP)
	})
	t.Run("below threshold", func(t *testing.T) {
		r, up := Apply(Record{Level: 1, XP: 10}, 20)
		assert.False(t, up)
		assert.Equal(t, 1, r.Level)
		assert.Equal(t, int64(30), r.XP)
	})
	t.Run("exact threshold", func(t *testing.T) {
		r, up := Apply(Record{Level: 1, XP: 135}, 20)
		assert.True(t, up)
		assert.Equal(t, 2, r.Level)
		assert.Equal(t, int64(0), r.XP)
	})
	t.Run("single step even across two thresholds", func(t *testing.T) {
		r, up := Apply(Record{Level: 1, XP: 0}, 1000)
		assert.True(t, up)
		assert.Equal(t, 2, r.Level)
		assert.Equal(t, int64(845), r.XP)
	})
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "▰▰▰▰▰▱▱▱▱▱", ProgressBar(0.5, 10))
	assert.Equal(t, "▱▱▱▱", ProgressBar(0, 4))
	assert.Equal(t, "▰▰▰▰", ProgressBar(1, 4))
}

type memStore struct {
	mu      sync.Mutex
	records map[[2]int64]Record
	rewards map[[2]int64]RoleReward
}

func newMemStore() *memStore {
	return &memStore{records: map[[2]int64]Record{}, rewards: map[[2]int64]RoleReward{}}
}

func (m *memStore) AddXP(_ context.Context, guildID, userID, gain int64) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{guildID, userID}
	r, ok := m.records[key]
	if !ok {
		r = Record{GuildID: guildID, UserID: userID, Level: 1}
	}
	r, up := Apply(r, gain)
	m.records[key] = r
	return r, up, nil
}

func (m *memStore) Get(_ context.Context, guildID, userID int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[[2]int64{guildID, userID}]; ok {
		return r, nil
	}
	return Record{GuildID: guildID, UserID: userID, Level: 1}, nil
}

func (m *memStore) Rank(_ context.Context, rec Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := 1
	for k, r := range m.records {
		if k[0] == rec.GuildID && (r.Level > rec.Level || (r.Level == rec.Level && r.XP > rec.XP)) {
			pos++
		}
	}
	return pos, nil
}

func (m *memStore) Leaderboard(context.Context, int64, int) ([]Record, error) { return nil, nil }

func (m *memStore) RewardFor(_ context.Context, guildID int64, level int) (*RoleReward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rw, ok := m.rewards[[2]int64{guildID, int64(level)}]; ok {
		return &rw, nil
	}
	return nil, postgres.ErrNotFound
}

func (m *memStore) SetReward(_ context.Context, rw RoleReward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewards[[2]int64{rw.GuildID, int64(rw.Level)}] = rw
	return nil
}

func (m *memStore) DeleteReward(_ context.Context, guildID int64, level int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{guildID, int64(level)}
	_, ok := m.rewards[key]
	delete(m.rewards, key)
	return ok, nil
}

func (m *memStore) Rewards(context.Context, int64) ([]RoleReward, error) { return nil, nil }

type fakeConfig struct {
	enabled bool
	channel int64
}

func (c fakeConfig) LevelingConfig(context.Context, int64) (bool, int64, error) {
	return c.enabled, c.channel, nil
}

type announce struct {
	channel int64
	text    string
}

type fakeEffects struct {
	grantErr  error
	granted   []int64
	announced []announce
}

func (e *fakeEffects) GrantRole(_, _, roleID int64) error {
	if e.grantErr != nil {
		return e.grantErr
	}
	e.granted = append(e.granted, roleID)
	return nil
}

func (e *fakeEffects) Announce(channelID int64, text string) {
	e.announced = append(e.announced, announce{channelID, text})
}

func newTestService(store *memStore, cfg fakeConfig, fx *fakeEffects) *Service {
	svc := NewService(store, cfg, fx, Options{XPMin: 15, XPMax: 25, Cooldown: time.Minute})
	svc.roll = func(lo, hi int64) int64 { return 200 }
	return svc
}

func TestOnMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("level up grants reward and announces in level channel", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.SetReward(ctx, RoleReward{GuildID: 1, Level: 2, RoleID: 555}))
		fx := &fakeEffects{}
		svc := newTestService(store, fakeConfig{enabled: true, channel: 42}, fx)

		up, err := svc.OnMessage(ctx, 1, 7, 100)
		require.NoError(t, err)
		require.NotNil(t, up)
		assert.Equal(t, 2, up.Record.Level)
		require.NotNil(t, up.Reward)
		assert.Equal(t, []int64{555}, fx.granted)
		require.Len(t, fx.announced, 1)
		assert.Equal(t, int64(42), fx.announced[0].channel)
		assert.Contains(t, fx.announced[0].text, "<@&555>")
	})

	t.Run("grant failure is swallowed", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.SetReward(ctx, RoleReward{GuildID: 1, Level: 2, RoleID: 555}))
		fx := &fakeEffects{grantErr: errors.New("403 Missing Permissions")}
		svc := newTestService(store, fakeConfig{enabled: true}, fx)

		up, err := svc.OnMessage(ctx, 1, 7, 100)
		require.NoError(t, err)
		require.NotNil(t, up)
		assert.Nil(t, up.Reward)
		require.Len(t, fx.announced, 1)
		assert.Equal(t, int64(7), fx.announced[0].channel, "без канала уровней объявление идёт в канал сообщения")
	})

	t.Run("cooldown blocks second message", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(store, fakeConfig{enabled: true}, &fakeEffects{})
		svc.roll = func(lo, hi int64) int64 { return 20 }

		_, err := svc.OnMessage(ctx, 1, 7, 100)
		require.NoError(t, err)
		_, err = svc.OnMessage(ctx, 1, 7, 100)
		require.NoError(t, err)

		rec, _ := store.Get(ctx, 1, 100)
		assert.Equal(t, int64(20), rec.XP)
	})

	t.Run("disabled guild gets no xp", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(store, fakeConfig{enabled: false}, &fakeEffects{})

		up, err := svc.OnMessage(ctx, 1, 7, 100)
		require.NoError(t, err)
		assert.Nil(t, up)
		assert.Empty(t, store.records)
	})
}

func TestRank(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.records[[2]int64{1, 1}] = Record{GuildID: 1, UserID: 1, Level: 3, XP: 10}
	store.records[[2]int64{1, 2}] = Record{GuildID: 1, UserID: 2, Level: 2, XP: 100}
	store.records[[2]int64{1, 3}] = Record{GuildID: 1, UserID: 3, Level: 2, XP: 50}
	svc := newTestService(store, fakeConfig{}, &fakeEffects{})

	rec, pos, err := svc.Rank(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Level)
	assert.Equal(t, 3, pos)
}

func TestSetRewardValidation(t *testing.T) {
	svc := newTestService(newMemStore(), fakeConfig{}, &fakeEffects{})
	assert.ErrorIs(t, svc.SetReward(context.Background(), 1, 1, 5), common.ErrBadReward)
	assert.ErrorIs(t, svc.SetReward(context.Background(), 1, 5, 0), common.ErrBadReward)
	assert.NoError(t, svc.SetReward(context.Background(), 1, 5, 9))
}
