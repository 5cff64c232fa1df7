package settings

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/db/postgres"
)

type memStore struct {
	mu          sync.Mutex
	guilds      map[int64]*Guild
	tts         map[int64]*TTS
	channels    map[int64][]int64
	reactions   map[string]ReactionRole
	ensureCalls atomic.Int32
	listCalls   atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{
		guilds:    map[int64]*Guild{},
		tts:       map[int64]*TTS{},
		channels:  map[int64][]int64{},
		reactions: map[string]ReactionRole{},
	}
}

func (m *memStore) EnsureGuild(_ context.Context, guildID int64) (*Guild, error) {
	m.ensureCalls.Add(1)
	time.Sleep(10 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		g = &Guild{GuildID: guildID, Prefix: DefaultPrefix, LevelingEnabled: true}
		m.guilds[guildID] = g
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) UpdateGuild(_ context.Context, guildID int64, set []Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.guilds[guildID]
	for _, a := range set {
		switch a.Column {
		case "prefix":
			g.Prefix = a.Value.(string)
		case "leveling_enabled":
			g.LevelingEnabled = a.Value.(bool)
		case "level_channel_id":
			g.LevelChannelID = ptr(a.Value)
		case "mod_log_channel_id":
			g.ModLogChannelID = ptr(a.Value)
		}
	}
	return nil
}

func ptr(v any) *int64 {
	if v == nil {
		return nil
	}
	id := v.(int64)
	return &id
}

func (m *memStore) EnsureTTS(_ context.Context, guildID int64) (*TTS, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tts[guildID]
	if !ok {
		t = &TTS{GuildID: guildID, Language: "ru"}
		m.tts[guildID] = t
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) UpdateTTS(_ context.Context, guildID int64, set []Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tts[guildID]
	for _, a := range set {
		switch a.Column {
		case "enabled":
			t.Enabled = a.Value.(bool)
		case "language":
			t.Language = a.Value.(string)
		}
	}
	return nil
}

func (m *memStore) ActiveChannels(_ context.Context, guildID int64) ([]int64, error) {
	m.listCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.channels[guildID]...), nil
}

func (m *memStore) AddActiveChannel(_ context.Context, guildID, channelID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.channels[guildID] {
		if id == channelID {
			return false, nil
		}
	}
	m.channels[guildID] = append(m.channels[guildID], channelID)
	return true, nil
}

func (m *memStore) RemoveActiveChannel(_ context.Context, guildID, channelID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.channels[guildID]
	for i, id := range list {
		if id == channelID {
			m.channels[guildID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func rrKey(guildID, messageID int64, emoji string) string {
	return common.FormatID(guildID) + "/" + common.FormatID(messageID) + "/" + emoji
}

func (m *memStore) ReactionRole(_ context.Context, guildID, messageID int64, emoji string) (*ReactionRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rr, ok := m.reactions[rrKey(guildID, messageID, emoji)]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &rr, nil
}

func (m *memStore) SetReactionRole(_ context.Context, rr ReactionRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions[rrKey(rr.GuildID, rr.MessageID, rr.Emoji)] = rr
	return nil
}

func (m *memStore) DeleteReactionRole(_ context.Context, guildID, messageID int64, emoji string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rrKey(guildID, messageID, emoji)
	_, ok := m.reactions[k]
	delete(m.reactions, k)
	return ok, nil
}

func (m *memStore) ReactionRoles(context.Context, int64) ([]ReactionRole, error) { return nil, nil }

func TestGuildGetOrCreateCollapsesConcurrentCallers(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := svc.Guild(context.Background(), 7)
			assert.NoError(t, err)
			assert.Equal(t, DefaultPrefix, g.Prefix)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.ensureCalls.Load())

	// дальше из памяти
	_, err := svc.Guild(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.ensureCalls.Load())
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore())

	require.NoError(t, svc.Set(ctx, 1, "prefix", []string{"?"}))
	assert.Equal(t, "?", svc.Prefix(ctx, 1))

	require.NoError(t, svc.Set(ctx, 1, "leveling", []string{"off"}))
	enabled, _, err := svc.LevelingConfig(ctx, 1)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, svc.Set(ctx, 1, "levelchannel", []string{"<#555>"}))
	_, ch, err := svc.LevelingConfig(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(555), ch)

	require.NoError(t, svc.Set(ctx, 1, "modlog", []string{"<#777>"}))
	ml, err := svc.ModLogChannel(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(777), ml)

	require.NoError(t, svc.Set(ctx, 1, "modlog", []string{"off"}))
	ml, err = svc.ModLogChannel(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, ml)

	require.NoError(t, svc.Set(ctx, 1, "tts", []string{"вкл"}))
	require.NoError(t, svc.Set(ctx, 1, "ttslang", []string{"EN"}))
	tts, err := svc.TTS(ctx, 1)
	require.NoError(t, err)
	assert.True(t, tts.Enabled)
	assert.Equal(t, "en", tts.Language)

	assert.ErrorIs(t, svc.Set(ctx, 1, "color", []string{"red"}), common.ErrUnknownSetting)
	assert.ErrorIs(t, svc.Set(ctx, 1, "prefix", []string{"слишкомдлинный"}), common.ErrInvalidSetting)
	assert.ErrorIs(t, svc.Set(ctx, 1, "leveling", []string{"maybe"}), common.ErrInvalidSetting)
	assert.ErrorIs(t, svc.Set(ctx, 1, "levelchannel", []string{"general"}), common.ErrInvalidSetting)
	assert.ErrorIs(t, svc.Set(ctx, 1, "prefix", nil), common.ErrInvalidSetting)
}

func TestChannelAllowed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewService(store)

	ok, err := svc.ChannelAllowed(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, ok, "пустой список разрешает все каналы")

	added, err := svc.AllowChannel(ctx, 1, 20)
	require.NoError(t, err)
	assert.True(t, added)

	ok, err = svc.ChannelAllowed(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.ChannelAllowed(ctx, 1, 20)
	require.NoError(t, err)
	assert.True(t, ok)

	calls := store.listCalls.Load()
	_, _ = svc.ChannelAllowed(ctx, 1, 20)
	assert.Equal(t, calls, store.listCalls.Load(), "список берётся из памяти")

	removed, err := svc.DisallowChannel(ctx, 1, 20)
	require.NoError(t, err)
	assert.True(t, removed)
	ok, err = svc.ChannelAllowed(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReactionRoles(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore())

	require.NoError(t, svc.BindReactionRole(ctx, ReactionRole{GuildID: 1, MessageID: 100, Emoji: "👍", RoleID: 9}))
	role, err := svc.RoleForReaction(ctx, 1, 100, "👍")
	require.NoError(t, err)
	assert.Equal(t, int64(9), role)

	role, err = svc.RoleForReaction(ctx, 1, 100, "👎")
	require.NoError(t, err)
	assert.Zero(t, role)

	assert.ErrorIs(t, svc.BindReactionRole(ctx, ReactionRole{GuildID: 1, MessageID: 100, Emoji: "👍"}), common.ErrInvalidSetting)

	removed, err := svc.UnbindReactionRole(ctx, 1, 100, "👍")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestNormalizeEmoji(t *testing.T) {
	assert.Equal(t, "👍", NormalizeEmoji(" 👍 "))
	assert.Equal(t, "pepe:123", NormalizeEmoji("<:pepe:123>"))
	assert.Equal(t, "dance:456", NormalizeEmoji("<a:dance:456>"))
}

// gatedStore задерживает первое чтение белого списка, пока тест не отпустит его.
type gatedStore struct {
	*memStore
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (g *gatedStore) ActiveChannels(ctx context.Context, guildID int64) ([]int64, error) {
	ids, err := g.memStore.ActiveChannels(ctx, guildID)
	g.once.Do(func() {
		close(g.loaded)
		<-g.release
	})
	return ids, err
}

func TestChannelAllowed_WriteDuringLoadIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{memStore: newMemStore(), loaded: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(store)

	done := make(chan bool, 1)
	go func() {
		ok, err := svc.ChannelAllowed(ctx, 1, 100)
		assert.NoError(t, err)
		done <- ok
	}()

	<-store.loaded
	added, err := svc.AllowChannel(ctx, 1, 200)
	require.NoError(t, err)
	require.True(t, added)
	close(store.release)

	// загрузка началась до записи, её ответ устарел, но в кэш он не попал
	assert.True(t, <-done)

	ok, err := svc.ChannelAllowed(ctx, 1, 100)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.ChannelAllowed(ctx, 1, 200)
	require.NoError(t, err)
	assert.True(t, ok)
}
