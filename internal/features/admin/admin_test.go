package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/db/postgres"
	"serotonyl.ru/guild-bot/internal/features/economy"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
	failed   map[int64]int
	now      func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{sessions: map[int64]Session{}, failed: map[int64]int{}, now: now}
}

func (m *memStore) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.IsActive = true
	m.sessions[s.UserID] = s
	return nil
}

func (m *memStore) ActiveSession(_ context.Context, userID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || !s.IsActive || !s.ExpiresAt.After(m.now()) {
		return nil, postgres.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) DeactivateSessions(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *memStore) Touch(context.Context, int64) error { return nil }

func (m *memStore) ExpireSessions(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(m.now()) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) LogAttempt(_ context.Context, userID int64, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !success {
		m.failed[userID]++
	}
	return nil
}

func (m *memStore) FailedAttempts(_ context.Context, userID int64, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[userID], nil
}

type fakeEconomy struct {
	adjusted []int64
	resets   []int64
}

func (f *fakeEconomy) AdminAdjust(_ context.Context, guildID, _, userID, amount int64) (economy.Balance, error) {
	f.adjusted = append(f.adjusted, amount)
	return economy.Balance{GuildID: guildID, UserID: userID, Wallet: amount}, nil
}

func (f *fakeEconomy) ResetGuild(_ context.Context, guildID int64) (int64, error) {
	f.resets = append(f.resets, guildID)
	return 3, nil
}

const owner = int64(42)

func newTestService(t *testing.T, password string) (*Service, *memStore, *fakeEconomy, *time.Time) {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	store := newMemStore(now)
	eco := &fakeEconomy{}
	svc := NewService(store, eco, func(id int64) bool { return id == owner }, hash)
	svc.now = now
	return svc, store, eco, &clock
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$m=65536,t=3,p=2$")
	assert.True(t, verifyArgon2id("s3cret", hash))
	assert.False(t, verifyArgon2id("wrong", hash))
	assert.False(t, verifyArgon2id("s3cret", "not-a-hash"))
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("not owner", func(t *testing.T) {
		svc, _, _, _ := newTestService(t, "pw")
		assert.ErrorIs(t, svc.Login(ctx, 7, "pw"), common.ErrNotAdmin)
	})

	t.Run("success opens session", func(t *testing.T) {
		svc, _, _, _ := newTestService(t, "pw")
		require.NoError(t, svc.Login(ctx, owner, "pw"))
		assert.NoError(t, svc.Authorize(ctx, owner))
	})

	t.Run("three failures lock out", func(t *testing.T) {
		svc, _, _, _ := newTestService(t, "pw")
		for i := 0; i < MaxFailedAttempts; i++ {
			assert.ErrorIs(t, svc.Login(ctx, owner, "nope"), common.ErrWrongPassword)
		}
		assert.ErrorIs(t, svc.Login(ctx, owner, "pw"), common.ErrTooManyAttempts)
	})

	t.Run("session expires after a day", func(t *testing.T) {
		svc, _, _, clock := newTestService(t, "pw")
		require.NoError(t, svc.Login(ctx, owner, "pw"))
		*clock = clock.Add(SessionTTL + time.Minute)
		assert.ErrorIs(t, svc.Authorize(ctx, owner), common.ErrSessionExpired)
	})
}

func TestOwnerCommandsNeedSession(t *testing.T) {
	ctx := context.Background()
	svc, _, eco, _ := newTestService(t, "pw")

	_, err := svc.Adjust(ctx, owner, 1, 2, 100)
	assert.ErrorIs(t, err, common.ErrSessionExpired)
	_, err = svc.ResetEconomy(ctx, owner, 1)
	assert.ErrorIs(t, err, common.ErrSessionExpired)
	assert.Empty(t, eco.adjusted)
	assert.Empty(t, eco.resets)

	require.NoError(t, svc.Login(ctx, owner, "pw"))
	b, err := svc.Adjust(ctx, owner, 1, 2, -50)
	require.NoError(t, err)
	assert.Equal(t, int64(-50), b.Wallet)
	n, err := svc.ResetEconomy(ctx, owner, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, svc.Logout(ctx, owner))
	_, err = svc.Adjust(ctx, owner, 1, 2, 1)
	assert.ErrorIs(t, err, common.ErrSessionExpired)
}

func TestStates(t *testing.T) {
	ctx := context.Background()
	svc, _, _, clock := newTestService(t, "pw")

	svc.SetState(owner, StateConfirmReset, 99)
	st := svc.GetState(owner)
	assert.Equal(t, StateConfirmReset, st.Name)
	assert.Equal(t, int64(99), st.GuildID)

	*clock = clock.Add(StateTTL + time.Second)
	assert.Equal(t, StateNone, svc.GetState(owner).Name)

	svc.SetState(owner, StateAwaitingPassword, 0)
	*clock = clock.Add(StateTTL + time.Second)
	_, err := svc.ExpireSessions(ctx)
	require.NoError(t, err)
	svc.statesMu.Lock()
	assert.Empty(t, svc.states)
	svc.statesMu.Unlock()
}
